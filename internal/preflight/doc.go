// Package preflight provides readiness checks for the paths and resources a
// supervised sona server depends on.
//
// These checks run in two contexts:
//   - `sonactl run` calls RunAll before launching and refuses to start when a
//     check fails, so a missing model surfaces as a clear message instead of
//     a premature exit.
//   - `sonactl status` uses the individual check functions to display health.
package preflight
