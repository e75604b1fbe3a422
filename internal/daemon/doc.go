// Package daemon coordinates the long-running avsync server process.
//
// It ties the HTTP server, the optional inbox watcher, and periodic stale
// cleanup into a single lifecycle guarded by a flock-based lock that prevents
// two servers from sharing the same working directories. On start it marks
// sessions left running by a previous crash as interrupted.
//
// Keep orchestration logic here: the sync steps live in their own packages
// while the daemon focuses on startup, shutdown, and status reporting.
package daemon
