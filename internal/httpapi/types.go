package httpapi

import (
	"avsync/internal/history"
	"avsync/internal/logging"
	"avsync/internal/services"
	"avsync/internal/workflow"
)

// ProcessResponse is returned when an upload produced a deliverable.
type ProcessResponse struct {
	Filename     string          `json:"filename"`
	URL          string          `json:"url"`
	Status       workflow.Status `json:"status"`
	TotalShiftMS int             `json:"total_shift_ms"`
}

// ProcessError is returned when an upload could not be synchronized.
type ProcessError struct {
	Status        workflow.Status `json:"status"`
	Kind          services.Kind   `json:"kind"`
	Message       string          `json:"message"`
	FinalOffsetMS *int            `json:"final_offset_ms,omitempty"`
	RequestID     string          `json:"request_id,omitempty"`
}

// SessionListResponse lists recorded sessions, newest first.
type SessionListResponse struct {
	Sessions []*history.Session `json:"sessions"`
}

// SessionResponse describes one session and its passes.
type SessionResponse struct {
	Session    *history.Session    `json:"session"`
	Iterations []history.Iteration `json:"iterations"`
}

// LogStreamResponse carries log events after a cursor.
type LogStreamResponse struct {
	Events []logging.LogEvent `json:"events"`
	Next   uint64             `json:"next"`
}

// StatusResponse summarizes server load.
type StatusResponse struct {
	Workflow  workflow.Snapshot      `json:"workflow"`
	Listeners int                    `json:"listeners"`
	Sessions  map[history.Status]int `json:"sessions,omitempty"`
}
