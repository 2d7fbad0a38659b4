package deps

import (
	"errors"
	"fmt"
	"strings"
)

// Requirement names an executable sonactl depends on. A non-empty Explicit
// path is checked in place; otherwise Search decides where to look.
type Requirement struct {
	Name        string
	Explicit    string
	Search      Search
	Description string
	Optional    bool
}

// Status reports the availability of a dependency. Command holds the resolved
// path when Available, otherwise what was looked for.
type Status struct {
	Name        string
	Command     string
	Tier        Tier
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// CheckBinaries resolves each requirement and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		results = append(results, check(req))
	}
	return results
}

func check(req Requirement) Status {
	status := Status{
		Name:        req.Name,
		Description: strings.TrimSpace(req.Description),
		Optional:    req.Optional,
	}

	var (
		path string
		tier Tier
		err  error
	)
	if explicit := strings.TrimSpace(req.Explicit); explicit != "" {
		status.Command = explicit
		path, err = resolveExplicit(explicit)
		tier = TierExplicit
	} else {
		status.Command = ExecutableName(req.Search.name(), req.Search.GOOS)
		path, tier, err = req.Search.resolve()
	}
	if err != nil {
		var notFound *NotFoundError
		if errors.As(err, &notFound) {
			status.Detail = fmt.Sprintf("%s not found (%d locations searched)", status.Command, len(notFound.Searched))
		} else {
			status.Detail = err.Error()
		}
		return status
	}
	status.Command = path
	status.Tier = tier
	status.Available = true
	return status
}
