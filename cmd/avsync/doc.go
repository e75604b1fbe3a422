// Package main hosts the avsync CLI entrypoint and command graph.
//
// The Cobra-based command tree runs the HTTP server, synchronizes single files
// in-process, inspects detector logs, browses session history, reports
// dependency health, and scaffolds configuration. It centralizes configuration
// resolution so subcommands can focus on presentation instead of wiring.
//
// Keep this package lean: add functionality to the internal packages first,
// then surface it through a dedicated command or flag here.
package main
