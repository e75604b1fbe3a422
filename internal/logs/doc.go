// Package logs lets the CLI read server logs.
//
// StreamClient queries the running server's /api/logs endpoint (with follow
// support through long polling) and Tail reads the server's log file directly
// when the API is unreachable, so `avsync logs` works whether or not the
// server is up.
package logs
