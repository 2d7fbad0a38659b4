package preflight

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"sonactl/internal/deps"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := checkReadWrite(path); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckServerBinary resolves the sona executable the way `sonactl run` will.
func CheckServerBinary(explicit string) Result {
	const name = "Server binary"
	path, err := deps.ResolveServer(explicit)
	if err != nil {
		var notFound *deps.NotFoundError
		if errors.As(err, &notFound) {
			return Result{Name: name, Detail: fmt.Sprintf("not found (%d locations searched; run `sonactl which`)", len(notFound.Searched))}
		}
		return Result{Name: name, Detail: err.Error()}
	}
	return Result{Name: name, Passed: true, Detail: path}
}

// CheckModelFile verifies that the model passed to the server is a readable file.
func CheckModelFile(path string) Result {
	const name = "Model"
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is a directory)", path)}
	}
	f, err := os.Open(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	_ = f.Close()
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d bytes)", path, info.Size())}
}

// CheckPortAvailable verifies that nothing is already listening on a fixed port.
func CheckPortAvailable(host string, port int) Result {
	const name = "Port"
	host = strings.TrimSpace(host)
	if host == "" {
		host = "127.0.0.1"
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", addr, err)}
	}
	_ = ln.Close()
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s available", addr)}
}

// CheckSystemDeps reports availability of the executables sonactl drives.
func CheckSystemDeps(explicit string) []deps.Status {
	return deps.CheckBinaries([]deps.Requirement{
		{
			Name:        "sona",
			Explicit:    explicit,
			Search:      deps.DefaultSearch(),
			Description: "Required to serve transcription requests",
		},
	})
}
