package preflight

import (
	"sonactl/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckServerBinary(cfg.Runner.Binary),
	}
	if cfg.Runner.Model != "" {
		results = append(results, CheckModelFile(cfg.Runner.Model))
	}
	if cfg.Runner.Port != 0 {
		results = append(results, CheckPortAvailable(cfg.Runner.Host, cfg.Runner.Port))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
