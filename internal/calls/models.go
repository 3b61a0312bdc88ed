package calls

import (
	"errors"
	"time"
)

// Call is one outbound voice job.
//
// Immutable after creation: ID, ToNumber, FromNumber, Text, AudioSource, Priority, CreatedAt, JobID.
// Everything else is written only by the pipeline through the guarded transitions in Repository.
type Call struct {
	ID          string `json:"call_id"`
	ToNumber    string `json:"to_number"`
	FromNumber  string `json:"from_number"`
	Text        string `json:"text,omitempty"`
	AudioSource string `json:"audio_source,omitempty"`
	Priority    int    `json:"priority"`

	Status   CallStatus `json:"status"`
	DialMode DialMode   `json:"dial_mode,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	ErrorMessage  string `json:"error_message,omitempty"`
	AudioFilePath string `json:"audio_file_path,omitempty"`
	JobID         string `json:"job_id,omitempty"`

	// DurationSeconds is the wall-clock length of the dial step, set with completed.
	DurationSeconds *int `json:"duration_seconds,omitempty"`
}

type CallStatus string

const (
	CallStatusPending    CallStatus = "pending"
	CallStatusProcessing CallStatus = "processing"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
)

// DialMode records whether a completion went through real signalling.
type DialMode string

const (
	DialModeReal      DialMode = "real"
	DialModeSimulated DialMode = "simulated"
)

const (
	PriorityHigh   = 1
	PriorityMedium = 2
	PriorityLow    = 3
)

// Completion carries the fields written together with the completed status.
type Completion struct {
	AudioFilePath   string
	DialMode        DialMode
	DurationSeconds int
	CompletedAt     time.Time
}

// Summary is an aggregate view used by reporting.
type Summary struct {
	ByStatus  map[CallStatus]int
	Simulated int
}

var (
	ErrNotFound          = errors.New("calls: not found")
	ErrAlreadyExists     = errors.New("calls: already exists")
	ErrInvalidTransition = errors.New("calls: invalid status transition")
	ErrInvalidArgument   = errors.New("calls: invalid argument")
)
