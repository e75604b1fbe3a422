package iteration_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"avsync/internal/analysis"
	"avsync/internal/iteration"
	"avsync/internal/services"
)

type fakeDetector struct {
	preprocessed []string
	refs         []int
	logs         []string
	// frames is the detector's reported offset per call, in frames.
	frames []int
	calls  int
	err    error
	// before runs at the start of each preprocessing call with its index.
	before func(call int)
}

func (d *fakeDetector) RunPreprocessing(_ context.Context, videoFile string, ref int) error {
	if d.before != nil {
		d.before(len(d.preprocessed))
	}
	d.preprocessed = append(d.preprocessed, videoFile)
	d.refs = append(d.refs, ref)
	return d.err
}

func (d *fakeDetector) RunDetector(_ context.Context, ref int, logPath string) (string, error) {
	d.logs = append(d.logs, logPath)
	frames := 0
	if d.calls < len(d.frames) {
		frames = d.frames[d.calls]
	}
	d.calls++
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return "", err
	}
	content := fmt.Sprintf("AV offset: \t%d\nMin dist: \t6.1\nConfidence: \t9.500\n", frames)
	return logPath, os.WriteFile(logPath, []byte(content), 0o644)
}

type fakeShifter struct {
	calls   [][3]any
	skipOut bool
	err     error
}

func (s *fakeShifter) ShiftAudio(_ context.Context, in, out string, offsetMS int) error {
	s.calls = append(s.calls, [3]any{in, out, offsetMS})
	if s.err != nil {
		return s.err
	}
	if s.skipOut {
		return nil
	}
	return os.WriteFile(out, []byte("shifted"), 0o644)
}

type memoryRecorder struct {
	records []iteration.Record
}

func (m *memoryRecorder) RecordIteration(_ context.Context, rec iteration.Record) error {
	m.records = append(m.records, rec)
	return nil
}

type harness struct {
	base     string
	ref      int
	working  string
	detector *fakeDetector
	shifter  *fakeShifter
	recorder *memoryRecorder
	messages []string
	ctrl     *iteration.Controller
}

func newHarness(t *testing.T, max int, frames ...int) *harness {
	t.Helper()
	return newHarnessAt(t, t.TempDir(), 7, max, frames...)
}

// newHarnessAt builds a harness rooted at base whose session starts at ref.
func newHarnessAt(t *testing.T, base string, ref, max int, frames ...int) *harness {
	t.Helper()
	h := &harness{
		base:     base,
		ref:      ref,
		working:  filepath.Join(base, "data", fmt.Sprintf("%d_clip.avi", ref)),
		detector: &fakeDetector{frames: frames},
		shifter:  &fakeShifter{},
		recorder: &memoryRecorder{},
	}
	for _, dir := range []string{filepath.Join(base, "data"), filepath.Join(base, "temp")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	if err := os.WriteFile(h.working, []byte("avi"), 0o644); err != nil {
		t.Fatalf("write working file: %v", err)
	}
	settings := iteration.Settings{
		MaxIterations:   max,
		TempDir:         filepath.Join(base, "temp"),
		FinalLogsDir:    filepath.Join(base, "logs", "final_logs"),
		NativeExtension: ".avi",
	}
	h.ctrl = iteration.NewController(settings, h.detector, analysis.NewAnalyzer(nil), h.shifter,
		iteration.WithRecorder(h.recorder),
		iteration.WithNotifier(notifierFunc(func(msg string) { h.messages = append(h.messages, msg) })),
	)
	return h
}

type notifierFunc func(string)

func (f notifierFunc) Notify(_ context.Context, msg string) { f(msg) }

func (h *harness) run(t *testing.T) (iteration.Result, error) {
	t.Helper()
	return h.ctrl.Run(context.Background(), iteration.Input{
		WorkingFile:      h.working,
		OriginalFilename: "clip.mp4",
		FPS:              25,
		Reference:        h.ref,
	})
}

func TestRunAlreadyInSync(t *testing.T) {
	h := newHarness(t, 10, 0)
	res, err := h.run(t)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := iteration.Result{TotalShiftMS: 0, FinalFile: h.working, Reference: 7, Iterations: 1, Terminal: iteration.StateAlreadyInSync}
	if res != want {
		t.Fatalf("got %+v want %+v", res, want)
	}
	if len(h.shifter.calls) != 0 {
		t.Fatal("no shift expected")
	}
	if h.detector.logs[0] != filepath.Join(h.base, "logs", "final_logs", "run_00007.log") {
		t.Fatalf("unexpected log path %q", h.detector.logs[0])
	}
}

func TestRunConvergesAfterOneShift(t *testing.T) {
	// 4 frames at 25 fps is 160 ms
	h := newHarness(t, 10, 4, 0)
	res, err := h.run(t)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Terminal != iteration.StateConverged || res.Iterations != 2 || res.TotalShiftMS != 160 || res.Reference != 8 {
		t.Fatalf("unexpected result %+v", res)
	}
	wantFile := filepath.Join(h.base, "temp", "corrected_iter1_00007_clip.avi")
	if res.FinalFile != wantFile {
		t.Fatalf("unexpected final file %q", res.FinalFile)
	}
	if got := h.shifter.calls[0]; got[0] != h.working || got[1] != wantFile || got[2] != 160 {
		t.Fatalf("unexpected shift call %v", got)
	}
	if h.detector.refs[0] != 7 || h.detector.refs[1] != 8 {
		t.Fatalf("unexpected references %v", h.detector.refs)
	}
	if h.detector.preprocessed[1] != wantFile {
		t.Fatalf("second pass should measure the shifted file, got %q", h.detector.preprocessed[1])
	}
	if _, err := os.Stat(h.working); err != nil {
		t.Fatal("first working file must be kept")
	}
	if h.messages[0] != "Pass number 1 in progress..." {
		t.Fatalf("unexpected first message %q", h.messages[0])
	}
}

func TestRunDeletesSupersededIterationFiles(t *testing.T) {
	h := newHarness(t, 10, 4, -2, 0)
	res, err := h.run(t)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.TotalShiftMS != 80 || res.Iterations != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, err := os.Stat(filepath.Join(h.base, "temp", "corrected_iter1_00007_clip.avi")); !os.IsNotExist(err) {
		t.Fatal("first iteration output should be deleted once superseded")
	}
	if _, err := os.Stat(res.FinalFile); err != nil {
		t.Fatalf("final iteration file must remain: %v", err)
	}
	if len(h.recorder.records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(h.recorder.records))
	}
	last := h.recorder.records[2]
	if last.State != iteration.StateConverged || last.TotalShiftMS != 80 {
		t.Fatalf("unexpected last record %+v", last)
	}
}

func TestRunStopsAtMaxIterations(t *testing.T) {
	h := newHarness(t, 3, 1, 1, 1, 1, 1)
	res, err := h.run(t)
	if err != nil {
		t.Fatalf("budget exhaustion is not a failure: %v", err)
	}
	if res.Terminal != iteration.StateMaxIterations || res.Iterations != 3 || res.TotalShiftMS != 120 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Reference != 10 {
		t.Fatalf("expected next unused reference 10, got %d", res.Reference)
	}
	if h.detector.calls != 3 {
		t.Fatalf("expected 3 detector runs, got %d", h.detector.calls)
	}
}

func TestRunDetectorFailureIsFatal(t *testing.T) {
	h := newHarness(t, 10, 4)
	h.detector.err = services.Wrap(services.ErrPipelineFailure, "detection", "run pipeline", "", errors.New("exit status 1"))
	res, err := h.run(t)
	if services.KindOf(err) != services.KindPipelineFailure {
		t.Fatalf("expected pipeline failure, got %v", err)
	}
	if res.Terminal != iteration.StateFailed {
		t.Fatalf("expected failed state, got %s", res.Terminal)
	}
	if h.detector.calls != 0 {
		t.Fatal("detector must not run after pipeline failure")
	}
}

func TestRunMissingShiftOutputIsPipelineFailure(t *testing.T) {
	h := newHarness(t, 10, 4, 0)
	h.shifter.skipOut = true
	_, err := h.run(t)
	if !errors.Is(err, services.ErrPipelineFailure) {
		t.Fatalf("expected ErrPipelineFailure, got %v", err)
	}
}

func TestStateTerminal(t *testing.T) {
	for _, s := range []iteration.State{iteration.StateAlreadyInSync, iteration.StateConverged, iteration.StateMaxIterations, iteration.StateFailed} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []iteration.State{iteration.StateMeasuring, iteration.StateShifting} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}

func TestRunPrefersInputRecorder(t *testing.T) {
	h := newHarness(t, 10, 0)
	perRun := &memoryRecorder{}
	_, err := h.ctrl.Run(context.Background(), iteration.Input{
		WorkingFile:      h.working,
		OriginalFilename: "clip.avi",
		FPS:              25,
		Reference:        7,
		Recorder:         perRun,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(perRun.records) != 1 || len(h.recorder.records) != 0 {
		t.Fatalf("expected the per-run recorder to be used, got %d/%d", len(perRun.records), len(h.recorder.records))
	}
}

func TestRunSameNameSessionsKeepSeparateWorkingFiles(t *testing.T) {
	base := t.TempDir()
	a := newHarnessAt(t, base, 7, 10, 4, 4, 0)
	b := newHarnessAt(t, base, 17, 10, 4, 0)

	var resB iteration.Result
	var errB error
	a.detector.before = func(call int) {
		if call == 1 {
			resB, errB = b.run(t)
		}
	}
	resA, err := a.run(t)
	if err != nil || errB != nil {
		t.Fatalf("Run: a=%v b=%v", err, errB)
	}
	if resA.FinalFile == resB.FinalFile {
		t.Fatalf("sessions share final file %q", resA.FinalFile)
	}
	if want := filepath.Join(base, "temp", "corrected_iter1_00007_clip.avi"); a.detector.preprocessed[1] != want {
		t.Fatalf("session a measured %q, want %q", a.detector.preprocessed[1], want)
	}
	for _, path := range []string{resA.FinalFile, resB.FinalFile} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("working file %s missing: %v", path, err)
		}
	}
	if got := b.shifter.calls[0][1]; got != filepath.Join(base, "temp", "corrected_iter1_00017_clip.avi") {
		t.Fatalf("session b wrote %v", got)
	}
}
