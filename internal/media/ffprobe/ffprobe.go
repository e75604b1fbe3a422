package ffprobe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"avsync/internal/procexec"
	"avsync/internal/services"
)

// Result represents the parsed output from an ffprobe inspection.
type Result struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

// Stream describes a single stream in the media container.
type Stream struct {
	Index        int    `json:"index"`
	CodecName    string `json:"codec_name"`
	CodecType    string `json:"codec_type"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	AvgFrameRate string `json:"avg_frame_rate"`
	SampleRate   string `json:"sample_rate"`
	Channels     int    `json:"channels"`
}

// Format captures container-level metadata extracted by ffprobe.
type Format struct {
	Filename   string `json:"filename"`
	NBStreams  int    `json:"nb_streams"`
	Duration   string `json:"duration"`
	FormatName string `json:"format_name"`
}

// VideoProperties describes the first video stream of a file.
type VideoProperties struct {
	Codec        string `json:"codec"`
	AvgFrameRate string `json:"avg_frame_rate"`
	// FPS is zero when avg_frame_rate is missing or has a zero denominator.
	FPS    float64 `json:"fps"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
}

// HasFPS reports whether a usable frame rate was found.
func (v VideoProperties) HasFPS() bool {
	return v.FPS > 0 && !math.IsInf(v.FPS, 0) && !math.IsNaN(v.FPS)
}

// AudioProperties describes the first audio stream of a file.
type AudioProperties struct {
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Codec      string `json:"codec"`
}

// Prober runs ffprobe through a procexec.Runner.
type Prober struct {
	binary string
	runner *procexec.Runner
}

// NewProber constructs a Prober. Options are forwarded to the underlying runner.
func NewProber(binary string, timeout time.Duration, opts ...procexec.Option) *Prober {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffprobe"
	}
	return &Prober{binary: binary, runner: procexec.NewRunner(timeout, opts...)}
}

// Inspect executes ffprobe against the provided path and decodes the JSON response.
func (p *Prober) Inspect(ctx context.Context, path string) (Result, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Result{}, errors.New("ffprobe inspect: empty path")
	}
	var output strings.Builder
	cmd := procexec.Command{
		Binary: p.binary,
		Args:   []string{"-v", "quiet", "-print_format", "json", "-show_format", "-show_streams", "--", path},
	}
	if err := p.runner.Run(ctx, cmd, func(line string) {
		output.WriteString(line)
		output.WriteByte('\n')
	}); err != nil {
		return Result{}, fmt.Errorf("ffprobe inspect: %w", err)
	}
	var result Result
	if err := json.Unmarshal([]byte(output.String()), &result); err != nil {
		return Result{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	return result, nil
}

// ProbeVideo returns the properties of the first video stream in path.
func (p *Prober) ProbeVideo(ctx context.Context, path string) (VideoProperties, error) {
	result, err := p.Inspect(ctx, path)
	if err != nil {
		return VideoProperties{}, inspectFailure(services.ErrNoVideoStream, "inspect video", path, err)
	}
	props, ok := result.Video()
	if !ok {
		return VideoProperties{}, services.Wrap(services.ErrNoVideoStream, "probe", "inspect video", path, nil)
	}
	return props, nil
}

// ProbeAudio returns the properties of the first audio stream in path.
func (p *Prober) ProbeAudio(ctx context.Context, path string) (AudioProperties, error) {
	result, err := p.Inspect(ctx, path)
	if err != nil {
		return AudioProperties{}, inspectFailure(services.ErrNoAudioStream, "inspect audio", path, err)
	}
	props, ok := result.Audio()
	if !ok {
		return AudioProperties{}, services.Wrap(services.ErrNoAudioStream, "probe", "inspect audio", path, nil)
	}
	return props, nil
}

// inspectFailure classifies a failed Inspect. ffprobe exiting nonzero means it
// could not read the file as media, which counts as the stream being absent.
// A missing binary, a timeout or unparsable output is a tool failure.
func inspectFailure(missing error, operation, path string, err error) error {
	var exitErr *procexec.ExitError
	switch {
	case procexec.IsTimeout(err):
		return services.Wrap(services.ErrTimeout, "probe", operation, path, err)
	case errors.As(err, &exitErr):
		return services.Wrap(missing, "probe", operation, path, err)
	default:
		return services.Wrap(services.ErrExternalTool, "probe", operation, path, err)
	}
}

// Video extracts the first video stream.
func (r Result) Video() (VideoProperties, bool) {
	for _, stream := range r.Streams {
		if !strings.EqualFold(stream.CodecType, "video") {
			continue
		}
		return VideoProperties{
			Codec:        stream.CodecName,
			AvgFrameRate: stream.AvgFrameRate,
			FPS:          ParseFrameRate(stream.AvgFrameRate),
			Width:        stream.Width,
			Height:       stream.Height,
		}, true
	}
	return VideoProperties{}, false
}

// Audio extracts the first audio stream.
func (r Result) Audio() (AudioProperties, bool) {
	for _, stream := range r.Streams {
		if !strings.EqualFold(stream.CodecType, "audio") {
			continue
		}
		rate, _ := strconv.Atoi(strings.TrimSpace(stream.SampleRate))
		return AudioProperties{
			SampleRate: rate,
			Channels:   stream.Channels,
			Codec:      stream.CodecName,
		}, true
	}
	return AudioProperties{}, false
}

// VideoStreamCount returns the number of video streams discovered.
func (r Result) VideoStreamCount() int {
	return r.countType("video")
}

// AudioStreamCount returns the number of audio streams discovered.
func (r Result) AudioStreamCount() int {
	return r.countType("audio")
}

func (r Result) countType(kind string) int {
	count := 0
	for _, stream := range r.Streams {
		if strings.EqualFold(stream.CodecType, kind) {
			count++
		}
	}
	return count
}

// DurationSeconds returns the container duration in seconds, or 0 when unavailable.
func (r Result) DurationSeconds() float64 {
	value, err := strconv.ParseFloat(strings.TrimSpace(r.Format.Duration), 64)
	if err != nil || value < 0 {
		return 0
	}
	return value
}

// ParseFrameRate converts an ffprobe rational such as "30000/1001" to frames
// per second. Zero denominators and malformed values yield 0.
func ParseFrameRate(value string) float64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	num, den, found := strings.Cut(value, "/")
	n, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(den), 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
