// Package httpapi exposes the sync orchestrator over HTTP.
//
// The router serves uploads on POST /process, finished files on
// GET /download/{filename}, and live progress on the /ws websocket. Read-only
// endpoints under /api report session history, recent log events, and the
// orchestrator's load; they honour an optional bearer token. Cross-origin
// requests are allowed only from the configured origins.
package httpapi
