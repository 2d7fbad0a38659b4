//go:build !unix

package deps

import "os"

// Without an access(2) equivalent, any regular file counts; Windows decides
// executability by extension, which ExecutableName already applied.
func canExecute(_ string, info os.FileInfo) bool {
	return info.Mode().IsRegular()
}
