package history

import "time"

// Status is the lifecycle position of a recorded session.
type Status string

const (
	StatusRunning       Status = "running"
	StatusCorrected     Status = "corrected"
	StatusAlreadyInSync Status = "already_in_sync"
	StatusError         Status = "error"
)

// Session is one recorded sync run.
type Session struct {
	ID               int64      `json:"id"`
	RequestID        string     `json:"request_id"`
	OriginalFilename string     `json:"original_filename"`
	InputPath        string     `json:"input_path"`
	Reference        int        `json:"reference,omitempty"`
	Status           Status     `json:"status"`
	Kind             string     `json:"kind,omitempty"`
	Message          string     `json:"message,omitempty"`
	OutputPath       string     `json:"output_path,omitempty"`
	TotalShiftMS     int        `json:"total_shift_ms"`
	Iterations       int        `json:"iterations"`
	FinalOffsetMS    *int       `json:"final_offset_ms,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// Iteration is one recorded detector measurement.
type Iteration struct {
	SessionID    int64     `json:"session_id"`
	Iteration    int       `json:"iteration"`
	Reference    int       `json:"reference"`
	InputFile    string    `json:"input_file"`
	LogPath      string    `json:"log_path"`
	OffsetMS     int       `json:"offset_ms"`
	Confidence   float64   `json:"confidence"`
	TotalShiftMS int       `json:"total_shift_ms"`
	State        string    `json:"state"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// Completion is the final state written when a session ends.
type Completion struct {
	Status        Status
	Kind          string
	Message       string
	OutputPath    string
	TotalShiftMS  int
	Iterations    int
	FinalOffsetMS *int
}
