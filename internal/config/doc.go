// Package config loads, normalizes, and validates sonactl configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// SONA_BINARY. The Config type centralizes every knob the supervisor and CLI
// need, so the runner, run-state lock, and session journal all agree on where
// the server binary and state directory live.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
