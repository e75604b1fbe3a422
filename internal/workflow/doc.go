// Package workflow runs one upload through the whole sync pipeline.
//
// The Orchestrator prepares a session, drives the convergence loop, and
// either finalizes the corrected output or passes an already synchronized
// clip straight through. Every path ends in an Outcome: typed failures are
// classified once through services.KindOf, and unexpected panics are caught
// at this boundary and reported as generic errors. Each run is recorded in
// the history store and announced through the notification service.
//
// A weighted semaphore bounds how many sessions run at once; callers beyond
// the limit wait until a slot frees or their context ends.
package workflow
