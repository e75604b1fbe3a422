// Package history records sync sessions and their passes in SQLite.
//
// Every upload becomes a sessions row when it starts and is completed with
// its outcome; each detector measurement adds an iterations row. The CLI and
// the HTTP API read the store to show past runs. The database lives next to
// the logs as history.db and uses the pure-Go modernc.org/sqlite driver with
// WAL journaling and busy retries so the server and CLI can share it.
package history
