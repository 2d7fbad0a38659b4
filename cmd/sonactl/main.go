package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"sonactl/internal/deps"
	"sonactl/internal/runstate"
)

const (
	exitFailure        = 1
	exitAlreadyRunning = 3
	// exitNotFound mirrors the shell's "command not found".
	exitNotFound = 127
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "sonactl: %v\n", err)
		}
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, deps.ErrBinaryNotFound):
		return exitNotFound
	case errors.Is(err, runstate.ErrAlreadyRunning):
		return exitAlreadyRunning
	default:
		return exitFailure
	}
}
