// Package config loads, normalizes, and validates avsync configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// AVSYNC_API_TOKEN and AVSYNC_MAX_ITERATIONS. The Config type centralizes the
// directory layout shared with the SyncNet pipeline, subprocess timeouts, and
// HTTP server settings so every component discovers them in one pass.
//
// Always obtain settings through this package so downstream code receives
// absolute paths, canonical log formats, and clear validation errors.
package config
