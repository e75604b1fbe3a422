package inbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"avsync/internal/fileutil"
	"avsync/internal/logging"
	"avsync/internal/workflow"
)

// FailedDir is the subdirectory receiving files whose sync failed.
const FailedDir = "failed"

// DefaultDebounce is how long a file must stay unchanged before processing.
const DefaultDebounce = 2 * time.Second

var partialSuffixes = []string{".part", ".partial", ".tmp", ".crdownload", ".download"}

// Processor synchronizes one file.
type Processor interface {
	Process(ctx context.Context, inputPath, originalFilename string) workflow.Outcome
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		w.logger = logging.NewComponentLogger(logger, "inbox")
	}
}

// WithDebounce overrides the settle interval.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// Watcher feeds settled files in dir to a Processor.
type Watcher struct {
	dir       string
	processor Processor
	debounce  time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	pending  map[string]time.Time
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

// New constructs a Watcher for dir.
func New(dir string, processor Processor, opts ...Option) *Watcher {
	w := &Watcher{
		dir:       dir,
		processor: processor,
		debounce:  DefaultDebounce,
		logger:    logging.NewComponentLogger(nil, "inbox"),
		pending:   make(map[string]time.Time),
		inflight:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches until ctx ends, then waits for in-flight sessions.
func (w *Watcher) Run(ctx context.Context) error {
	if strings.TrimSpace(w.dir) == "" {
		return fmt.Errorf("inbox directory not configured")
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	w.logger.Info("inbox watching",
		logging.String("dir", w.dir),
		logging.Duration("debounce", w.debounce),
		logging.String(logging.FieldEventType, "inbox_started"),
	)
	w.scanExisting()

	ticker := time.NewTicker(w.tick())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			w.logger.Info("inbox stopped", logging.String(logging.FieldEventType, "inbox_stopped"))
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				w.wg.Wait()
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-watcher.Errors:
			if !ok {
				w.wg.Wait()
				return nil
			}
			logging.WarnWithContext(w.logger, "file watcher error", "inbox_watch_error",
				logging.Error(err),
				logging.String(logging.FieldImpact, "some dropped files may be picked up late"),
			)
		case now := <-ticker.C:
			w.dispatchSettled(ctx, now)
		}
	}
}

func (w *Watcher) tick() time.Duration {
	return max(w.debounce/4, 10*time.Millisecond)
}

func (w *Watcher) scanExisting() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("inbox scan failed", logging.Error(err))
		return
	}
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			w.touch(filepath.Join(w.dir, entry.Name()))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Dir(event.Name) != filepath.Clean(w.dir) {
		return
	}
	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write), event.Has(fsnotify.Chmod):
		w.touch(event.Name)
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.mu.Lock()
		delete(w.pending, event.Name)
		w.mu.Unlock()
	}
}

func (w *Watcher) touch(path string) {
	if !Eligible(filepath.Base(path)) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.inflight[path]; busy {
		return
	}
	w.pending[path] = time.Now()
}

func (w *Watcher) dispatchSettled(ctx context.Context, now time.Time) {
	w.mu.Lock()
	var ready []string
	for path, seen := range w.pending {
		if now.Sub(seen) >= w.debounce {
			ready = append(ready, path)
			delete(w.pending, path)
			w.inflight[path] = struct{}{}
		}
	}
	w.mu.Unlock()

	for _, path := range ready {
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			w.done(path)
			continue
		}
		w.wg.Add(1)
		go func(path string) {
			defer w.wg.Done()
			defer w.done(path)
			w.process(ctx, path)
		}(path)
	}
}

func (w *Watcher) done(path string) {
	w.mu.Lock()
	delete(w.inflight, path)
	w.mu.Unlock()
}

func (w *Watcher) process(ctx context.Context, path string) {
	name := filepath.Base(path)
	w.logger.Info("inbox file picked up",
		logging.String("file", name),
		logging.String(logging.FieldEventType, "inbox_pickup"),
	)
	out := w.processor.Process(ctx, path, name)
	if out.OK() {
		if err := fileutil.RemoveIfExists(path); err != nil {
			logging.WarnWithContext(w.logger, "inbox file not removed", "cleanup_failed",
				logging.String("file", path),
				logging.Error(err),
				logging.String(logging.FieldImpact, "file will be synchronized again on restart"),
			)
		}
		return
	}

	failedDir := filepath.Join(w.dir, FailedDir)
	target := filepath.Join(failedDir, name)
	err := os.MkdirAll(failedDir, 0o755)
	if err == nil {
		err = fileutil.MoveFile(path, target)
	}
	if err != nil {
		logging.WarnWithContext(w.logger, "failed inbox file not moved", "cleanup_failed",
			logging.String("file", path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "file will be retried on restart"),
		)
		return
	}
	w.logger.Info("inbox file set aside",
		logging.String("file", target),
		logging.String("kind", string(out.Kind)),
		logging.String(logging.FieldEventType, "inbox_failed"),
	)
}

// Eligible reports whether a file name looks like a finished upload.
func Eligible(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	lower := strings.ToLower(name)
	for _, suffix := range partialSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return false
		}
	}
	return true
}
