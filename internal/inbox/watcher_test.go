package inbox_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avsync/internal/inbox"
	"avsync/internal/services"
	"avsync/internal/testsupport"
	"avsync/internal/workflow"
)

type recordingProcessor struct {
	mu    sync.Mutex
	names []string
	fail  map[string]bool
}

func (p *recordingProcessor) Process(_ context.Context, inputPath, name string) workflow.Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.names = append(p.names, name)
	if _, err := os.Stat(inputPath); err != nil {
		return workflow.Outcome{Status: workflow.StatusError, Kind: services.KindGeneric}
	}
	if p.fail[name] {
		return workflow.Outcome{Status: workflow.StatusError, Kind: services.KindNoAudioStream}
	}
	return workflow.Corrected("/out/corrected_" + name)
}

func (p *recordingProcessor) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.names...)
}

func startWatcher(t *testing.T, dir string, proc inbox.Processor) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	w := inbox.New(dir, proc, inbox.WithDebounce(50*time.Millisecond))
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("watcher did not stop")
		}
	})
}

func TestWatcherProcessesDroppedFile(t *testing.T) {
	dir := t.TempDir()
	proc := &recordingProcessor{}
	startWatcher(t, dir, proc)

	path := filepath.Join(dir, "clip.mp4")
	testsupport.WriteFile(t, path, 256)

	require.Eventually(t, func() bool { return len(proc.seen()) == 1 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"clip.mp4"}, proc.seen())
	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatcherPicksUpExistingFiles(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteFile(t, filepath.Join(dir, "waiting.avi"), 64)
	testsupport.WriteFile(t, filepath.Join(dir, ".hidden.avi"), 64)
	proc := &recordingProcessor{}
	startWatcher(t, dir, proc)

	require.Eventually(t, func() bool { return len(proc.seen()) == 1 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"waiting.avi"}, proc.seen())
}

func TestWatcherMovesFailuresAside(t *testing.T) {
	dir := t.TempDir()
	proc := &recordingProcessor{fail: map[string]bool{"silent.avi": true}}
	startWatcher(t, dir, proc)

	testsupport.WriteFile(t, filepath.Join(dir, "silent.avi"), 64)
	failed := filepath.Join(dir, inbox.FailedDir, "silent.avi")
	require.Eventually(t, func() bool {
		_, err := os.Stat(failed)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"silent.avi"}, proc.seen())
}

func TestEligible(t *testing.T) {
	assert.True(t, inbox.Eligible("clip.mp4"))
	assert.False(t, inbox.Eligible(".clip.mp4"))
	assert.False(t, inbox.Eligible("clip.mp4.part"))
	assert.False(t, inbox.Eligible("clip.MP4.CRDOWNLOAD"))
	assert.False(t, inbox.Eligible(""))
}

func TestRunRequiresDirectory(t *testing.T) {
	w := inbox.New("", &recordingProcessor{})
	require.Error(t, w.Run(context.Background()))
}
