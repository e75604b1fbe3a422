package ffprobe_test

import (
	"context"
	"errors"
	"math"
	"os"
	"strings"
	"testing"
	"time"

	"avsync/internal/media/ffprobe"
	"avsync/internal/procexec"
	"avsync/internal/services"
)

type stubExecutor struct {
	output string
	err    error
	cmds   []procexec.Command
}

func (s *stubExecutor) Run(_ context.Context, cmd procexec.Command, onLine func(string)) error {
	s.cmds = append(s.cmds, cmd)
	for _, line := range strings.Split(s.output, "\n") {
		onLine(line)
	}
	return s.err
}

const sampleProbe = `{
  "streams": [
    {"index": 0, "codec_name": "h264", "codec_type": "video", "width": 1280, "height": 720, "avg_frame_rate": "25/1"},
    {"index": 1, "codec_name": "aac", "codec_type": "audio", "sample_rate": "48000", "channels": 2}
  ],
  "format": {"filename": "clip.mp4", "nb_streams": 2, "duration": "12.5", "format_name": "mov,mp4"}
}`

func TestProbeVideoAndAudio(t *testing.T) {
	exec := &stubExecutor{output: sampleProbe}
	prober := ffprobe.NewProber("ffprobe", time.Minute, procexec.WithExecutor(exec))

	video, err := prober.ProbeVideo(context.Background(), "/tmp/clip.mp4")
	if err != nil {
		t.Fatalf("ProbeVideo: %v", err)
	}
	if video.Codec != "h264" || video.AvgFrameRate != "25/1" || video.FPS != 25 || !video.HasFPS() {
		t.Fatalf("unexpected video properties %+v", video)
	}

	audio, err := prober.ProbeAudio(context.Background(), "/tmp/clip.mp4")
	if err != nil {
		t.Fatalf("ProbeAudio: %v", err)
	}
	if audio.SampleRate != 48000 || audio.Channels != 2 || audio.Codec != "aac" {
		t.Fatalf("unexpected audio properties %+v", audio)
	}

	args := strings.Join(exec.cmds[0].Args, " ")
	if !strings.Contains(args, "-show_streams") || !strings.HasSuffix(args, "-- /tmp/clip.mp4") {
		t.Fatalf("unexpected ffprobe args %q", args)
	}
}

func TestProbeAudioMissingStream(t *testing.T) {
	exec := &stubExecutor{output: `{"streams":[{"codec_type":"video","codec_name":"mpeg4","avg_frame_rate":"25/1"}],"format":{}}`}
	prober := ffprobe.NewProber("", time.Minute, procexec.WithExecutor(exec))

	_, err := prober.ProbeAudio(context.Background(), "silent.avi")
	if !errors.Is(err, services.ErrNoAudioStream) {
		t.Fatalf("expected ErrNoAudioStream, got %v", err)
	}
	if exec.cmds[0].Binary != "ffprobe" {
		t.Fatalf("expected default binary, got %q", exec.cmds[0].Binary)
	}
}

func TestRejectedFileCountsAsMissingVideoStream(t *testing.T) {
	exec := &stubExecutor{err: &procexec.ExitError{Command: "ffprobe", ExitCode: 1, Tail: []string{"invalid data found"}}}
	prober := ffprobe.NewProber("ffprobe", time.Minute, procexec.WithExecutor(exec))

	_, err := prober.ProbeVideo(context.Background(), "notes.txt")
	if !errors.Is(err, services.ErrNoVideoStream) {
		t.Fatalf("expected ErrNoVideoStream, got %v", err)
	}
	if kind := services.KindOf(err); kind != services.KindNoVideoStream {
		t.Fatalf("unexpected kind %q", kind)
	}
}

func TestInspectToolFailuresArePipelineFailures(t *testing.T) {
	tests := []struct {
		name   string
		exec   *stubExecutor
		marker error
	}{
		{"missing binary", &stubExecutor{err: &os.PathError{Op: "fork/exec", Path: "ffprobe", Err: os.ErrNotExist}}, services.ErrExternalTool},
		{"unparsable output", &stubExecutor{output: "not json"}, services.ErrExternalTool},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			prober := ffprobe.NewProber("ffprobe", time.Minute, procexec.WithExecutor(tc.exec))
			_, err := prober.ProbeAudio(context.Background(), "clip.avi")
			if !errors.Is(err, tc.marker) || errors.Is(err, services.ErrNoAudioStream) {
				t.Fatalf("unexpected error %v", err)
			}
			if kind := services.KindOf(err); kind != services.KindPipelineFailure {
				t.Fatalf("expected pipeline failure, got %q", kind)
			}
		})
	}
}

type blockingExecutor struct{}

func (blockingExecutor) Run(ctx context.Context, _ procexec.Command, _ func(string)) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestInspectTimeoutIsPipelineFailure(t *testing.T) {
	prober := ffprobe.NewProber("ffprobe", 10*time.Millisecond, procexec.WithExecutor(blockingExecutor{}))
	_, err := prober.ProbeVideo(context.Background(), "clip.avi")
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout marker, got %v", err)
	}
	if kind := services.KindOf(err); kind != services.KindPipelineFailure {
		t.Fatalf("expected pipeline failure, got %q", kind)
	}
}

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"25/1", 25},
		{"30000/1001", 30000.0 / 1001.0},
		{"0/0", 0},
		{"24", 24},
		{"", 0},
		{"abc/1", 0},
		{"25/x", 0},
	}
	for _, tc := range tests {
		if got := ffprobe.ParseFrameRate(tc.in); math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("ParseFrameRate(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestVideoWithoutFrameRate(t *testing.T) {
	result := ffprobe.Result{Streams: []ffprobe.Stream{{CodecType: "video", AvgFrameRate: "0/0"}}}
	video, ok := result.Video()
	if !ok {
		t.Fatal("expected video stream")
	}
	if video.HasFPS() {
		t.Fatalf("expected no fps, got %v", video.FPS)
	}
}

func TestResultHelpers(t *testing.T) {
	result := ffprobe.Result{
		Streams: []ffprobe.Stream{{CodecType: "video"}, {CodecType: "audio"}, {CodecType: "audio"}},
		Format:  ffprobe.Format{Duration: "123.45"},
	}
	if result.VideoStreamCount() != 1 || result.AudioStreamCount() != 2 {
		t.Fatalf("unexpected stream counts %d/%d", result.VideoStreamCount(), result.AudioStreamCount())
	}
	if result.DurationSeconds() != 123.45 {
		t.Fatalf("unexpected duration %v", result.DurationSeconds())
	}
	if (ffprobe.Result{Format: ffprobe.Format{Duration: "bad"}}).DurationSeconds() != 0 {
		t.Fatal("expected zero for invalid duration")
	}
}
