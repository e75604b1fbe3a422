// Package finalize commits the cumulative correction and checks it.
//
// Finalize applies the summed shift to the untouched original in a single
// ffmpeg pass, measures the result once more with the detector, and rejects
// it with a VerificationError when a residual offset beyond the configured
// tolerance remains. Accepted outputs in a foreign container are restored to
// that container with the original codecs. PassThrough produces the output
// for clips that were already in sync.
package finalize
