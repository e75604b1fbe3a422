package analysis

import (
	"errors"
	"log/slog"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"

	"avsync/internal/logging"
)

// ErrInvalidFrameRate reports a frame rate that cannot convert frames to time.
var ErrInvalidFrameRate = errors.New("invalid frame rate")

// fieldPattern matches one "offset:" or "confidence:" token and its value.
var fieldPattern = regexp.MustCompile(`(?i)(offset|confidence):\s*(\S+)`)

// Observation is one offset/confidence pair reported by the detector.
type Observation struct {
	OffsetFrames int     `json:"offset_frames"`
	Confidence   float64 `json:"confidence"`
}

// Entry is the summed confidence for one offset.
type Entry struct {
	OffsetFrames int     `json:"offset_frames"`
	Confidence   float64 `json:"confidence"`
}

// ConfidenceMap holds summed confidence per offset in first-seen order.
type ConfidenceMap []Entry

// Get returns the summed confidence for offset.
func (m ConfidenceMap) Get(offset int) (float64, bool) {
	for _, entry := range m {
		if entry.OffsetFrames == offset {
			return entry.Confidence, true
		}
	}
	return 0, false
}

// Result is the outcome of analyzing one detector log.
type Result struct {
	BestOffsetMS int `json:"best_offset_ms"`
	// TotalConfidence is the summed confidence of the chosen offset.
	TotalConfidence float64       `json:"total_confidence"`
	Confidences     ConfidenceMap `json:"confidences"`
}

// ExtractObservations scans text for offset/confidence pairs. Each offset
// pairs with the next confidence token only; a new offset replaces a pending
// one. A token whose number does not parse drops just its own pair.
func ExtractObservations(text string) []Observation {
	if text == "" {
		return nil
	}
	var (
		observations []Observation
		pending      *int
	)
	for _, match := range fieldPattern.FindAllStringSubmatch(text, -1) {
		if strings.EqualFold(match[1], "offset") {
			pending = nil
			if offset, err := strconv.Atoi(match[2]); err == nil {
				pending = &offset
			}
			continue
		}
		offset := pending
		pending = nil
		if offset == nil {
			continue
		}
		confidence, err := strconv.ParseFloat(match[2], 64)
		if err != nil || math.IsNaN(confidence) || math.IsInf(confidence, 0) {
			continue
		}
		observations = append(observations, Observation{OffsetFrames: *offset, Confidence: confidence})
	}
	return observations
}

// Aggregate sums confidence per offset, dropping negative confidences.
func Aggregate(observations []Observation) ConfidenceMap {
	var out ConfidenceMap
	index := make(map[int]int, len(observations))
	for _, obs := range observations {
		if obs.Confidence < 0 {
			continue
		}
		if i, ok := index[obs.OffsetFrames]; ok {
			out[i].Confidence += obs.Confidence
			continue
		}
		index[obs.OffsetFrames] = len(out)
		out = append(out, Entry{OffsetFrames: obs.OffsetFrames, Confidence: obs.Confidence})
	}
	return out
}

// PickBest returns the offset with the highest summed confidence. Ties go to
// the offset seen first. ok is false for an empty map.
func PickBest(m ConfidenceMap) (offset int, ok bool) {
	if len(m) == 0 {
		return 0, false
	}
	best := m[0]
	for _, entry := range m[1:] {
		if entry.Confidence > best.Confidence {
			best = entry
		}
	}
	return best.OffsetFrames, true
}

// FramesToMS converts a frame offset to milliseconds, truncating toward zero.
func FramesToMS(frames int, fps float64) (int, error) {
	if fps <= 0 || math.IsNaN(fps) || math.IsInf(fps, 0) {
		return 0, ErrInvalidFrameRate
	}
	return int(float64(frames) * 1000 / fps), nil
}

// Analyzer analyzes detector logs and reports why a log was not usable.
type Analyzer struct {
	logger *slog.Logger
}

// NewAnalyzer returns an Analyzer logging through logger.
func NewAnalyzer(logger *slog.Logger) *Analyzer {
	return &Analyzer{logger: logging.NewComponentLogger(logger, "analysis")}
}

// Analyze parses text and returns the best offset in milliseconds.
func (a *Analyzer) Analyze(text string, fps float64) Result {
	observations := ExtractObservations(text)
	confidences := Aggregate(observations)
	offset, ok := PickBest(confidences)
	if !ok {
		a.logger.Debug("no usable offset observations",
			logging.Int("observations", len(observations)),
			logging.String(logging.FieldEventType, "analysis_empty"),
		)
		return Result{}
	}
	ms, err := FramesToMS(offset, fps)
	if err != nil {
		logging.WarnWithContext(a.logger, "detector log not analyzed", "analysis_invalid_fps",
			logging.Float64("fps", fps),
			logging.Error(err),
			logging.String(logging.FieldImpact, "offset treated as zero"),
		)
		return Result{}
	}
	total, _ := confidences.Get(offset)
	a.logger.Info("detector log analyzed",
		logging.Int("best_offset_frames", offset),
		logging.Int("best_offset_ms", ms),
		logging.Float64("confidence", total),
		logging.Int("observations", len(observations)),
		logging.String(logging.FieldEventType, "analysis_complete"),
	)
	return Result{BestOffsetMS: ms, TotalConfidence: total, Confidences: confidences}
}

// AnalyzeFile reads the log at path and analyzes it.
func (a *Analyzer) AnalyzeFile(path string, fps float64) Result {
	data, err := os.ReadFile(path)
	if err != nil {
		logging.WarnWithContext(a.logger, "detector log unreadable", "analysis_read_failed",
			logging.String("path", path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "offset treated as zero"),
		)
		return Result{}
	}
	return a.Analyze(string(data), fps)
}

var quiet = &Analyzer{logger: logging.NewNop()}

// Analyze is Analyzer.Analyze without logging.
func Analyze(text string, fps float64) Result {
	return quiet.Analyze(text, fps)
}

// AnalyzeFile is Analyzer.AnalyzeFile without logging.
func AnalyzeFile(path string, fps float64) Result {
	return quiet.AnalyzeFile(path, fps)
}
