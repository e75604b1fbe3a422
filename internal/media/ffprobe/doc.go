// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// Key types:
//   - Result: parsed ffprobe output containing streams and format metadata
//   - VideoProperties / AudioProperties: the first video and audio stream
//     reduced to the fields the sync workflow needs
//
// Primary entry points:
//   - Prober.Inspect: executes ffprobe and returns the parsed Result
//   - Prober.ProbeVideo / Prober.ProbeAudio: stream lookups that fail with
//     services.ErrNoVideoStream or services.ErrNoAudioStream
package ffprobe
