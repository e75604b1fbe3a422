// Package inbox watches a drop directory and synchronizes files placed in it.
//
// A file is picked up once it has stopped changing for the debounce interval.
// Successful runs remove the dropped file (the deliverable lands in the
// output directory); failed runs move it into a "failed" subdirectory so it
// is not retried on every restart.
package inbox
