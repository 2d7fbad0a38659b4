// Package journal records supervised server sessions in SQLite.
//
// Each `sonactl run` opens a session when it launches the server and finishes
// it with the outcome once the server is gone. The journal is a history aid
// only; nothing reads it to make lifecycle decisions. Schema changes bump the
// version in schema.go and users delete the journal to adopt them.
package journal
