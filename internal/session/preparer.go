package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"avsync/internal/config"
	"avsync/internal/fileutil"
	"avsync/internal/logging"
	"avsync/internal/media/ffprobe"
	"avsync/internal/notifications"
	"avsync/internal/services"
	"avsync/internal/textutil"
)

// Prober reads stream properties.
type Prober interface {
	ProbeVideo(ctx context.Context, path string) (ffprobe.VideoProperties, error)
	ProbeAudio(ctx context.Context, path string) (ffprobe.AudioProperties, error)
}

// Reencoder converts a file into the detector's working container.
type Reencoder interface {
	ReencodeToNative(ctx context.Context, in, out, videoCodec, audioCodec string) error
}

// Settings controls where and how uploads are staged.
type Settings struct {
	TempDir         string
	DataDir         string
	NativeExtension string
	VideoCodec      string
	AudioCodec      string
	// Block is how many reference numbers one session reserves.
	Block int
}

// SettingsFromConfig derives Settings from the application config.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		TempDir:         cfg.Paths.TempDir,
		DataDir:         cfg.SyncNet.DataDir,
		NativeExtension: cfg.Sync.NativeExtension,
		VideoCodec:      cfg.Sync.ReencodeVideoCodec,
		AudioCodec:      cfg.Sync.ReencodeAudioCodec,
		Block:           cfg.Sync.MaxIterations + 1,
	}
}

// Option configures a Preparer.
type Option func(*Preparer)

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Preparer) {
		p.logger = logging.NewComponentLogger(logger, "session")
	}
}

// WithPool routes blocking file operations through pool.
func WithPool(pool *fileutil.Pool) Option {
	return func(p *Preparer) {
		p.pool = pool
	}
}

// WithNotifier reports progress messages to n.
func WithNotifier(n notifications.Notifier) Option {
	return func(p *Preparer) {
		p.notifier = notifications.OrNop(n)
	}
}

// Preparer stages uploads into sessions.
type Preparer struct {
	settings  Settings
	allocator *Allocator
	prober    Prober
	reencoder Reencoder
	pool      *fileutil.Pool
	notifier  notifications.Notifier
	logger    *slog.Logger
}

// NewPreparer constructs a Preparer.
func NewPreparer(settings Settings, allocator *Allocator, prober Prober, reencoder Reencoder, opts ...Option) *Preparer {
	if settings.NativeExtension == "" {
		settings.NativeExtension = ".avi"
	}
	if settings.Block <= 0 {
		settings.Block = 1
	}
	p := &Preparer{
		settings:  settings,
		allocator: allocator,
		prober:    prober,
		reencoder: reencoder,
		notifier:  notifications.Nop,
		logger:    logging.NewComponentLogger(nil, "session"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Prepare allocates a reference, stages inputPath, and probes it.
func (p *Preparer) Prepare(ctx context.Context, inputPath, originalFilename string) (*Session, error) {
	name := textutil.UploadName(originalFilename, filepath.Base(inputPath))
	p.notifier.Notify(ctx, "Here we go...")
	p.notifier.Notify(ctx, "Setting up our filing system...")

	ref, err := p.allocator.Reserve(ctx, p.settings.Block)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "prepare", "allocate reference", "", err)
	}
	ctx = services.WithReference(ctx, ref)
	logger := logging.WithContext(ctx, p.logger)
	logger.Info("session reference allocated",
		logging.String("original_filename", name),
		logging.Int("reserved_through", ref+p.settings.Block-1),
		logging.String(logging.FieldEventType, "reference_allocated"),
	)

	p.notifier.Notify(ctx, "Copying your file to work on...")
	staged, err := p.stage(ctx, inputPath, name, ref)
	if err != nil {
		return nil, err
	}

	s := &Session{
		Reference:        ref,
		OriginalFilename: name,
		InputPath:        inputPath,
		StagedPath:       staged,
		WorkingFile:      staged,
		ReferenceLimit:   ref + p.settings.Block - 1,
	}

	p.notifier.Notify(ctx, "Finding out about your file...")
	if err := p.probe(ctx, s); err != nil {
		logging.WarnWithContext(logger, "upload rejected", "precondition_failed",
			logging.String("kind", string(services.KindOf(err))),
			logging.Error(err),
			logging.String(logging.FieldImpact, "file cannot be synchronized"),
		)
		return s, err
	}

	if !s.IsNative(p.settings.NativeExtension) {
		p.notifier.Notify(ctx, "Converting your file for processing...")
		working := strings.TrimSuffix(staged, filepath.Ext(staged)) + "_reencoded" + p.settings.NativeExtension
		if err := p.reencoder.ReencodeToNative(ctx, staged, working, p.settings.VideoCodec, p.settings.AudioCodec); err != nil {
			return s, fmt.Errorf("prepare working file: %w", err)
		}
		s.WorkingFile = working
	}

	logger.Info("session prepared",
		logging.String("working_file", s.WorkingFile),
		logging.String("frame_rate", s.Video.AvgFrameRate),
		logging.Float64("fps", s.Video.FPS),
		logging.String("audio_codec", s.Audio.Codec),
		logging.String(logging.FieldEventType, "session_prepared"),
	)
	return s, nil
}

func (p *Preparer) stage(ctx context.Context, inputPath, name string, ref int) (string, error) {
	tempCopy := filepath.Join(p.settings.TempDir, fmt.Sprintf("corrected_%05d_%s", ref, name))
	staged := filepath.Join(p.settings.DataDir, strconv.Itoa(ref)+"_"+name)
	err := p.pool.Do(ctx, func() error {
		if err := os.MkdirAll(p.settings.TempDir, 0o755); err != nil {
			return err
		}
		if err := fileutil.CopyFile(inputPath, tempCopy); err != nil {
			return fmt.Errorf("copy upload: %w", err)
		}
		if err := fileutil.MoveFile(tempCopy, staged); err != nil {
			return fmt.Errorf("move to data dir: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "prepare", "stage upload", name, err)
	}
	if !fileutil.Exists(staged) {
		return "", services.Wrap(services.ErrTransient, "prepare", "stage upload", "destination missing: "+staged, nil)
	}
	return staged, nil
}

func (p *Preparer) probe(ctx context.Context, s *Session) error {
	return p.pool.Do(ctx, func() error {
		video, err := p.prober.ProbeVideo(ctx, s.InputPath)
		if err != nil {
			return err
		}
		if !video.HasFPS() {
			return services.Wrap(services.ErrFPSUnavailable, "prepare", "probe video", "avg_frame_rate "+strconv.Quote(video.AvgFrameRate), nil)
		}
		s.Video = video

		audio, err := p.prober.ProbeAudio(ctx, s.InputPath)
		if err != nil {
			return err
		}
		s.Audio = audio
		return nil
	})
}
