// Package logging assembles structured slog loggers and formatting helpers used
// across avsync.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so stage code automatically tags
// log lines with session reference numbers, stages, and correlation IDs. The
// StreamHub keeps a bounded window of recent events for the HTTP log endpoint
// and forwards them to registered sinks such as the websocket broadcaster.
//
// Prefer these constructors over hand-rolled slog setup so new components emit
// data with the same shape as the rest of the system.
package logging
