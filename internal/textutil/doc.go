// Package textutil provides filename helpers shared by the upload handler,
// session staging, and the finalizer.
//
// Uploaded names arrive from browsers and the inbox watcher in arbitrary
// Unicode forms; SanitizeFileName normalizes them to NFC and strips characters
// that are unsafe in paths so every derived name (staged copies, corrected
// outputs, restored containers) stays predictable.
package textutil
