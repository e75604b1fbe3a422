// Package ffmpeg implements the media transforms used by the sync workflow:
// shifting an audio stream by a millisecond offset, applying the cumulative
// shift to an original upload, and re-encoding between containers.
//
// Every transform writes a new file and overwrites any existing output. The
// video stream is copied bit-exact during shifts; audio is re-encoded with the
// source codec, sample rate, and channel count.
package ffmpeg
