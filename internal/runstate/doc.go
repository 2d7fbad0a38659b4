// Package runstate tracks the foreground `sonactl run` supervisor.
//
// A run holds an advisory lock next to a small JSON state file describing the
// supervised server. Other invocations probe the lock to learn whether a run
// is active, read the state file for its pids and port, and signal the
// supervisor to shut down. The lock, not the state file, is authoritative: a
// state file left behind by a crashed run is reported as stale.
package runstate
