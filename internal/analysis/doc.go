// Package analysis turns raw detector log text into a single offset.
//
// The detector prints one "AV offset" / "Confidence" pair per face track and
// per pass. ExtractObservations scans those pairs, Aggregate sums confidence
// per offset (negative confidences are discarded), PickBest selects the
// offset with the highest total, and FramesToMS converts frames to
// milliseconds at the clip's frame rate. Analyze and AnalyzeFile compose the
// steps and fall back to a zero Result whenever the log cannot be trusted, so
// callers treat "no evidence" the same as "in sync".
package analysis
