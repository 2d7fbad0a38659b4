package deps

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// ServerName is the base name of the sona server executable.
const ServerName = "sona"

// ErrBinaryNotFound reports that no search location held a usable executable.
var ErrBinaryNotFound = errors.New("binary not found")

// NotFoundError lists every location probed by a failed resolution.
type NotFoundError struct {
	Name     string
	Searched []string
}

func (e *NotFoundError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%q binary not found; searched:", e.Name)
	for _, location := range e.Searched {
		b.WriteString("\n  - ")
		b.WriteString(location)
	}
	b.WriteString("\nplace it in the working directory, next to your program, next to sonactl, or on PATH")
	return b.String()
}

func (e *NotFoundError) Unwrap() error { return ErrBinaryNotFound }

// Tier names one level of the executable search, highest priority first.
type Tier string

const (
	TierWorkDir    Tier = "working directory"
	TierProgramDir Tier = "program directory"
	TierRuntimeDir Tier = "executable directory"
	TierPath       Tier = "PATH"
	// TierExplicit marks a configured path that bypassed the search.
	TierExplicit Tier = "explicit"
)

// Candidate is one probe location in search order.
type Candidate struct {
	Tier Tier
	Path string
}

// Search describes where Resolve looks. Empty directory fields are filled from
// the running process by DefaultSearch; a Search built by hand only probes
// what it names, plus PATH unless SkipPath is set.
type Search struct {
	Name       string
	WorkDir    string
	ProgramDir string
	RuntimeDir string
	SkipPath   bool
	GOOS       string
}

// DefaultSearch returns the search rooted in the live process: the working
// directory, the directory of os.Args[0] when it was invoked by path, and the
// directory of the resolved running executable.
func DefaultSearch() Search {
	s := Search{Name: ServerName}
	if wd, err := os.Getwd(); err == nil {
		s.WorkDir = wd
	}
	s.ProgramDir = programDir()
	if exe, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		s.RuntimeDir = filepath.Dir(exe)
	}
	return s
}

func programDir() string {
	if len(os.Args) == 0 {
		return ""
	}
	arg0 := os.Args[0]
	if !strings.ContainsRune(arg0, filepath.Separator) && !strings.ContainsRune(arg0, '/') {
		return ""
	}
	abs, err := filepath.Abs(filepath.Dir(arg0))
	if err != nil {
		return ""
	}
	return abs
}

// ExecutableName applies the platform suffix to base.
func ExecutableName(base, goos string) string {
	if goos == "" {
		goos = runtime.GOOS
	}
	if goos == "windows" && !strings.EqualFold(filepath.Ext(base), ".exe") {
		return base + ".exe"
	}
	return base
}

func (s Search) name() string {
	if strings.TrimSpace(s.Name) == "" {
		return ServerName
	}
	return strings.TrimSpace(s.Name)
}

// Candidates lists the directory probes in priority order. A directory that
// appears in more than one tier keeps only its first position.
func (s Search) Candidates() []Candidate {
	file := ExecutableName(s.name(), s.GOOS)
	seen := make(map[string]struct{}, 3)
	out := make([]Candidate, 0, 3)
	for _, tier := range []struct {
		tier Tier
		dir  string
	}{
		{TierWorkDir, s.WorkDir},
		{TierProgramDir, s.ProgramDir},
		{TierRuntimeDir, s.RuntimeDir},
	} {
		dir := strings.TrimSpace(tier.dir)
		if dir == "" {
			continue
		}
		dir = filepath.Clean(dir)
		if _, dup := seen[dir]; dup {
			continue
		}
		seen[dir] = struct{}{}
		out = append(out, Candidate{Tier: tier.tier, Path: filepath.Join(dir, file)})
	}
	return out
}

// Resolve returns the first candidate that exists and is executable, falling
// back to PATH.
func (s Search) Resolve() (string, error) {
	path, _, err := s.resolve()
	return path, err
}

func (s Search) resolve() (string, Tier, error) {
	candidates := s.Candidates()
	searched := make([]string, 0, len(candidates)+1)
	for _, c := range candidates {
		if isExecutableFile(c.Path) {
			return c.Path, c.Tier, nil
		}
		searched = append(searched, fmt.Sprintf("%s (%s)", c.Path, c.Tier))
	}
	if !s.SkipPath {
		if found, err := exec.LookPath(s.name()); err == nil {
			if abs, absErr := filepath.Abs(found); absErr == nil {
				found = abs
			}
			return found, TierPath, nil
		}
		searched = append(searched, fmt.Sprintf("%s on %s", ExecutableName(s.name(), s.GOOS), TierPath))
	}
	return "", "", &NotFoundError{Name: s.name(), Searched: searched}
}

// ResolveServer returns explicit when it names a usable executable, otherwise
// runs DefaultSearch. An explicit path that is missing or not executable fails
// without falling back to the search.
func ResolveServer(explicit string) (string, error) {
	explicit = strings.TrimSpace(explicit)
	if explicit == "" {
		return DefaultSearch().Resolve()
	}
	return resolveExplicit(explicit)
}

func resolveExplicit(explicit string) (string, error) {
	abs, err := filepath.Abs(explicit)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", explicit, err)
	}
	if !isExecutableFile(abs) {
		return "", &NotFoundError{Name: filepath.Base(abs), Searched: []string{abs + " (explicit)"}}
	}
	return abs, nil
}

func isExecutableFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return canExecute(path, info)
}
