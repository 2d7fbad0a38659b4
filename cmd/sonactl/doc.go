// Command sonactl locates, launches and supervises a local sona transcription
// server.
//
// `sonactl run` resolves the server binary, starts it in the foreground,
// waits for its readiness line and keeps it alive until interrupted. Other
// invocations find that run through the state directory: `status` reports it,
// `stop` signals it, `history` lists past sessions from the journal, and
// `which` shows where the server binary resolves from.
package main
