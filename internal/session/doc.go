// Package session stages one upload for synchronization.
//
// Allocator hands out reference numbers: the detector keeps its per-run
// artefacts in numbered directories under the pyavi work root, so a new
// session starts one past the highest number on disk (or past the persisted
// high-water mark, whichever is larger). Allocation is serialized within the
// process by a mutex and across processes by a flock on the work root.
//
// Preparer copies the upload into the detector data directory, probes the
// original for video and audio properties, and re-encodes non-native
// containers into the working format the detector reads.
package session
