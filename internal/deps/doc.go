// Package deps locates the external executables sonactl relies on.
//
// Resolve implements the fixed-priority search for the sona server binary:
// working directory, the invoking program's directory, the sonactl
// executable's own directory, then PATH. CheckBinaries reports availability
// for status output.
package deps
