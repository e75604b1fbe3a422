// Package detection drives the external SyncNet tools.
//
// RunPreprocessing invokes the face-tracking pipeline module, which crops and
// tracks faces into the numbered work directory for a reference. RunDetector
// invokes the offset detector for the same reference and captures its combined
// output into a log file that the analysis package parses. Both commands run
// from the SyncNet base directory so the python modules resolve, and any
// nonzero exit or timeout is reported as services.ErrPipelineFailure (or
// services.ErrTimeout).
package detection
