package workflow

import (
	"errors"
	"strings"

	"avsync/internal/finalize"
	"avsync/internal/services"
)

// Status is the top-level result of a sync run.
type Status string

const (
	StatusAlreadyInSync Status = "already_in_sync"
	StatusCorrected     Status = "corrected"
	StatusError         Status = "error"
)

// Outcome is the result of one sync run. OutputPath is set for successes;
// Kind and Message are set for errors.
type Outcome struct {
	Status        Status        `json:"status"`
	OutputPath    string        `json:"output_path,omitempty"`
	Kind          services.Kind `json:"kind,omitempty"`
	Message       string        `json:"message,omitempty"`
	FinalOffsetMS *int          `json:"final_offset_ms,omitempty"`
	Reference     int           `json:"reference,omitempty"`
	Iterations    int           `json:"iterations,omitempty"`
	TotalShiftMS  int           `json:"total_shift_ms"`
	SessionID     int64         `json:"session_id,omitempty"`
	RequestID     string        `json:"request_id,omitempty"`
}

// OK reports whether the run produced an output file.
func (o Outcome) OK() bool {
	return o.Status == StatusCorrected || o.Status == StatusAlreadyInSync
}

// Corrected builds a success outcome.
func Corrected(path string) Outcome {
	return Outcome{Status: StatusCorrected, OutputPath: path}
}

// AlreadyInSync builds an outcome for a clip that needed no shift.
func AlreadyInSync(path string) Outcome {
	return Outcome{Status: StatusAlreadyInSync, OutputPath: path}
}

// Failed classifies err into an error outcome.
func Failed(err error) Outcome {
	kind := services.KindOf(err)
	out := Outcome{Status: StatusError, Kind: kind, Message: userMessage(kind, err)}
	var verr *finalize.VerificationError
	if errors.As(err, &verr) {
		offset := verr.FinalOffsetMS
		out.FinalOffsetMS = &offset
	}
	return out
}

func userMessage(kind services.Kind, err error) string {
	switch kind {
	case services.KindNoAudioStream:
		return "No audio stream found in the video."
	case services.KindNoVideoStream:
		return "Couldn't find any video stream."
	case services.KindFPSUnavailable:
		return "Could not determine the video frame rate."
	case services.KindVerificationFailed:
		return "Something went wrong behind the scenes. Your clip wasn't synced properly."
	}
	if err == nil {
		return "unknown error"
	}
	return strings.TrimSpace(err.Error())
}
