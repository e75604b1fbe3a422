package daemon_test

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"avsync/internal/daemon"
	"avsync/internal/history"
	"avsync/internal/testsupport"
	"avsync/internal/workflow"
)

type stubServer struct {
	started atomic.Bool
	stopped atomic.Bool
}

func (s *stubServer) Start(context.Context) error { s.started.Store(true); return nil }
func (s *stubServer) Stop()                       { s.stopped.Store(true) }
func (s *stubServer) Addr() string                { return "127.0.0.1:9999" }

type stubInbox struct {
	ran atomic.Bool
}

func (s *stubInbox) Run(ctx context.Context) error {
	s.ran.Store(true)
	<-ctx.Done()
	return nil
}

type stubWorkflow struct{}

func (stubWorkflow) Status() workflow.Snapshot { return workflow.Snapshot{Limit: 3} }

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	srv := &stubServer{}
	inbox := &stubInbox{}
	d, err := daemon.New(cfg, daemon.Components{Server: srv, Inbox: inbox, History: store, Workflow: stubWorkflow{}})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(d.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !srv.started.Load() {
		t.Fatal("expected server to start")
	}

	status := d.Status()
	if !status.Running || status.Address != "127.0.0.1:9999" {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.Workflow.Limit != 3 || status.HistoryPath != store.Path() {
		t.Fatalf("status missing components: %+v", status)
	}
	if len(status.Dependencies) == 0 {
		t.Fatal("expected dependency report")
	}

	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	deadline := time.Now().Add(2 * time.Second)
	for !inbox.ran.Load() {
		if time.Now().After(deadline) {
			t.Fatal("inbox never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	d.Stop()
	if !srv.stopped.Load() {
		t.Fatal("expected server to stop")
	}
	if d.Status().Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestDaemonLockPreventsSecondInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first, err := daemon.New(cfg, daemon.Components{Server: &stubServer{}})
	if err != nil {
		t.Fatal(err)
	}
	second, err := daemon.New(cfg, daemon.Components{Server: &stubServer{}})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("first start: %v", err)
	}
	defer first.Stop()
	if err := second.Start(ctx); err == nil {
		second.Stop()
		t.Fatal("expected lock conflict")
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.LogDir, daemon.LockFileName)); err != nil {
		t.Fatalf("expected lock file: %v", err)
	}
}

func TestDaemonMarksInterruptedSessions(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	ctx := context.Background()
	sess, err := store.Begin(ctx, "req", "clip.avi", "/uploads/clip.avi")
	if err != nil {
		t.Fatal(err)
	}

	d, err := daemon.New(cfg, daemon.Components{Server: &stubServer{}, History: store})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	got, err := store.Get(ctx, sess.ID)
	if err != nil || got == nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != history.StatusError {
		t.Fatalf("expected interrupted session to be marked error, got %q", got.Status)
	}
}

func TestCleanupOnceRemovesStaleFiles(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithEnsuredDirectories())
	cfg.Staging.StaleAfterHours = 1
	stale := filepath.Join(cfg.Paths.TempDir, "corrected_clip.avi")
	testsupport.WriteFile(t, stale, 32)
	old := time.Now().Add(-3 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}

	d, err := daemon.New(cfg, daemon.Components{Server: &stubServer{}})
	if err != nil {
		t.Fatal(err)
	}
	result := d.CleanupOnce(context.Background())
	if len(result.Removed) != 1 || result.Removed[0] != stale {
		t.Fatalf("unexpected cleanup result %+v", result)
	}
}
