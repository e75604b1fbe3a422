// Package iteration runs the measure and shift convergence loop.
//
// Controller.Run is an explicit state machine: Measuring runs the detector
// on the current working file and reads the best offset; Shifting moves the
// audio by that offset into a new working file under the next reference
// number. The loop ends in one of three terminal states (already in sync,
// converged, or out of budget) or fails on the first subprocess error.
// Failures are never retried.
package iteration
