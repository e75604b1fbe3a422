// Package procexec runs external tools (ffmpeg, ffprobe, the SyncNet pipeline
// and detector) as child processes.
//
// Every command starts in its own process group so a timeout or cancellation
// kills the tool and anything it spawned. Output lines are streamed to a
// caller-supplied callback and the last few lines are retained for error
// messages. The Executor interface lets tests replace the real process runner.
package procexec
