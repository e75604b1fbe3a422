package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")

	ErrNoVideoStream      = errors.New("no video stream")
	ErrNoAudioStream      = errors.New("no audio stream")
	ErrFPSUnavailable     = errors.New("frame rate unavailable")
	ErrPipelineFailure    = errors.New("pipeline failure")
	ErrVerificationFailed = errors.New("verification failed")
)

// Kind classifies a failed sync session for callers.
type Kind string

const (
	KindNoAudioStream      Kind = "no_audio_stream"
	KindNoVideoStream      Kind = "no_video_stream"
	KindFPSUnavailable     Kind = "fps_unavailable"
	KindPipelineFailure    Kind = "pipeline_failure"
	KindVerificationFailed Kind = "verification_failed"
	KindGeneric            Kind = "generic"
)

// Precondition reports whether the kind describes an input that can never be synchronized.
func (k Kind) Precondition() bool {
	switch k {
	case KindNoAudioStream, KindNoVideoStream, KindFPSUnavailable:
		return true
	default:
		return false
	}
}

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// KindOf maps an error chain onto the outcome kind reported to callers.
// External tool failures and timeouts count as pipeline failures.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindGeneric
	case errors.Is(err, ErrNoVideoStream):
		return KindNoVideoStream
	case errors.Is(err, ErrNoAudioStream):
		return KindNoAudioStream
	case errors.Is(err, ErrFPSUnavailable):
		return KindFPSUnavailable
	case errors.Is(err, ErrVerificationFailed):
		return KindVerificationFailed
	case errors.Is(err, ErrPipelineFailure), errors.Is(err, ErrExternalTool), errors.Is(err, ErrTimeout):
		return KindPipelineFailure
	default:
		return KindGeneric
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
