package session_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"avsync/internal/fileutil"
	"avsync/internal/media/ffprobe"
	"avsync/internal/notifications"
	"avsync/internal/services"
	"avsync/internal/session"
)

type stubProber struct {
	video    ffprobe.VideoProperties
	videoErr error
	audio    ffprobe.AudioProperties
	audioErr error
	paths    []string
}

func (s *stubProber) ProbeVideo(_ context.Context, path string) (ffprobe.VideoProperties, error) {
	s.paths = append(s.paths, path)
	return s.video, s.videoErr
}

func (s *stubProber) ProbeAudio(_ context.Context, path string) (ffprobe.AudioProperties, error) {
	s.paths = append(s.paths, path)
	return s.audio, s.audioErr
}

type reencodeCall struct {
	in, out, video, audio string
}

type stubReencoder struct {
	calls []reencodeCall
	err   error
}

func (s *stubReencoder) ReencodeToNative(_ context.Context, in, out, videoCodec, audioCodec string) error {
	s.calls = append(s.calls, reencodeCall{in, out, videoCodec, audioCodec})
	if s.err != nil {
		return s.err
	}
	return os.WriteFile(out, []byte("avi"), 0o644)
}

type fixture struct {
	base      string
	settings  session.Settings
	allocator *session.Allocator
	prober    *stubProber
	reencoder *stubReencoder
	messages  []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := t.TempDir()
	return &fixture{
		base: base,
		settings: session.Settings{
			TempDir:         filepath.Join(base, "temp"),
			DataDir:         filepath.Join(base, "data"),
			NativeExtension: ".avi",
			VideoCodec:      "mpeg4",
			AudioCodec:      "pcm_s16le",
			Block:           11,
		},
		allocator: session.NewAllocator(filepath.Join(base, "data", "work", "pyavi")),
		prober: &stubProber{
			video: ffprobe.VideoProperties{Codec: "h264", AvgFrameRate: "25/1", FPS: 25},
			audio: ffprobe.AudioProperties{Codec: "aac", SampleRate: 48000, Channels: 2},
		},
		reencoder: &stubReencoder{},
	}
}

func (f *fixture) preparer() *session.Preparer {
	notifier := notifications.NotifierFunc(func(_ context.Context, msg string) {
		f.messages = append(f.messages, msg)
	})
	return session.NewPreparer(f.settings, f.allocator, f.prober, f.reencoder,
		session.WithPool(fileutil.NewPool(2)),
		session.WithNotifier(notifier),
	)
}

func (f *fixture) upload(t *testing.T, name string) string {
	t.Helper()
	dir := filepath.Join(f.base, "uploads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir uploads: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("original media"), 0o644); err != nil {
		t.Fatalf("write upload: %v", err)
	}
	return path
}

func TestPrepareNativeContainer(t *testing.T) {
	f := newFixture(t)
	input := f.upload(t, "clip.avi")
	// another session's working copy of a same-named upload
	if err := os.MkdirAll(f.settings.TempDir, 0o755); err != nil {
		t.Fatal(err)
	}
	foreign := filepath.Join(f.settings.TempDir, "corrected_clip.avi")
	if err := os.WriteFile(foreign, []byte("other session"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := f.preparer().Prepare(context.Background(), input, "clip.avi")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if data, err := os.ReadFile(foreign); err != nil || string(data) != "other session" {
		t.Fatalf("foreign temp file disturbed: %q %v", data, err)
	}
	if s.Reference != 1 || s.ReferenceLimit != 11 {
		t.Fatalf("unexpected references %d..%d", s.Reference, s.ReferenceLimit)
	}
	wantStaged := filepath.Join(f.settings.DataDir, "1_clip.avi")
	if s.StagedPath != wantStaged || s.WorkingFile != wantStaged {
		t.Fatalf("unexpected staged/working paths %q %q", s.StagedPath, s.WorkingFile)
	}
	if !fileutil.Exists(wantStaged) {
		t.Fatal("expected staged file on disk")
	}
	if fileutil.Exists(filepath.Join(f.settings.TempDir, "corrected_00001_clip.avi")) {
		t.Fatal("temp copy should have been moved")
	}
	if !fileutil.Exists(input) {
		t.Fatal("original upload must be left in place")
	}
	if s.Video.FPS != 25 || s.Audio.SampleRate != 48000 {
		t.Fatalf("unexpected properties %+v %+v", s.Video, s.Audio)
	}
	for _, probed := range f.prober.paths {
		if probed != input {
			t.Fatalf("expected probes against the original upload, got %q", probed)
		}
	}
	if len(f.reencoder.calls) != 0 {
		t.Fatal("native container must not be re-encoded")
	}
	if len(f.messages) == 0 {
		t.Fatal("expected progress messages")
	}
}

func TestPrepareReencodesForeignContainer(t *testing.T) {
	f := newFixture(t)
	input := f.upload(t, "talk.MP4")

	s, err := f.preparer().Prepare(context.Background(), input, "talk.MP4")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	wantWorking := filepath.Join(f.settings.DataDir, "1_talk_reencoded.avi")
	if s.WorkingFile != wantWorking {
		t.Fatalf("unexpected working file %q", s.WorkingFile)
	}
	if len(f.reencoder.calls) != 1 {
		t.Fatalf("expected one re-encode, got %d", len(f.reencoder.calls))
	}
	call := f.reencoder.calls[0]
	if call.in != s.StagedPath || call.video != "mpeg4" || call.audio != "pcm_s16le" {
		t.Fatalf("unexpected re-encode call %+v", call)
	}
}

func TestPrepareConsecutiveSessionsUseDistinctBlocks(t *testing.T) {
	f := newFixture(t)
	p := f.preparer()
	first, err := p.Prepare(context.Background(), f.upload(t, "a.avi"), "a.avi")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	second, err := p.Prepare(context.Background(), f.upload(t, "b.avi"), "b.avi")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if second.Reference <= first.ReferenceLimit {
		t.Fatalf("blocks overlap: %d..%d then %d", first.Reference, first.ReferenceLimit, second.Reference)
	}
}

func TestPreparePreconditionFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*stubProber)
		want   services.Kind
	}{
		{
			name: "no video",
			mutate: func(p *stubProber) {
				p.videoErr = services.Wrap(services.ErrNoVideoStream, "probe", "inspect video", "", nil)
			},
			want: services.KindNoVideoStream,
		},
		{
			name:   "no fps",
			mutate: func(p *stubProber) { p.video = ffprobe.VideoProperties{Codec: "h264", AvgFrameRate: "0/0"} },
			want:   services.KindFPSUnavailable,
		},
		{
			name: "no audio",
			mutate: func(p *stubProber) {
				p.audioErr = services.Wrap(services.ErrNoAudioStream, "probe", "inspect audio", "", nil)
			},
			want: services.KindNoAudioStream,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			tc.mutate(f.prober)
			_, err := f.preparer().Prepare(context.Background(), f.upload(t, "clip.mp4"), "clip.mp4")
			if err == nil {
				t.Fatal("expected error")
			}
			if got := services.KindOf(err); got != tc.want {
				t.Fatalf("expected kind %s, got %s (%v)", tc.want, got, err)
			}
			if len(f.reencoder.calls) != 0 {
				t.Fatal("precondition failure must not re-encode")
			}
		})
	}
}

func TestPrepareMissingUploadFails(t *testing.T) {
	f := newFixture(t)
	_, err := f.preparer().Prepare(context.Background(), filepath.Join(f.base, "missing.avi"), "missing.avi")
	if err == nil {
		t.Fatal("expected staging error")
	}
	if services.KindOf(err) != services.KindGeneric {
		t.Fatalf("expected generic kind, got %s", services.KindOf(err))
	}
}

func TestPrepareReencodeFailure(t *testing.T) {
	f := newFixture(t)
	f.reencoder.err = services.Wrap(services.ErrPipelineFailure, "ffmpeg", "reencode", "", errors.New("exit status 1"))
	_, err := f.preparer().Prepare(context.Background(), f.upload(t, "clip.mkv"), "clip.mkv")
	if services.KindOf(err) != services.KindPipelineFailure {
		t.Fatalf("expected pipeline failure, got %v", err)
	}
}

func TestPrepareSanitizesOriginalFilename(t *testing.T) {
	f := newFixture(t)
	s, err := f.preparer().Prepare(context.Background(), f.upload(t, "upload.avi"), "../../etc/clip?.avi")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if s.OriginalFilename != "clip.avi" {
		t.Fatalf("unexpected sanitized name %q", s.OriginalFilename)
	}
	if filepath.Dir(s.StagedPath) != f.settings.DataDir {
		t.Fatalf("staged file escaped data dir: %q", s.StagedPath)
	}
}
