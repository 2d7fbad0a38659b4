// Package logging assembles structured slog loggers and formatting helpers used
// across sonactl.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes attribute helpers so the runner, journal, and CLI emit
// the same field names. The package also provides a no-op logger for tests
// and wiring code that cannot fail.
package logging
