package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/lecture-quiz/constants"
)

// JobError is the failure record of a job in the Failed state.
type JobError struct {
	Stage     constants.Stage `json:"stage"`
	Message   string          `json:"message"`
	Retryable bool            `json:"retryable"`
}

// Job tracks one uploaded video through the pipeline.
// Values are snapshots; the registry swaps whole copies on every change.
type Job struct {
	ID              uuid.UUID       `json:"id"`
	SourceRef       string          `json:"source_ref"`
	SizeBytes       int64           `json:"size_bytes"`
	Title           string          `json:"title"`
	Stage           constants.Stage `json:"stage"`
	Progress        int             `json:"progress"`
	Error           *JobError       `json:"error,omitempty"`
	DurationSeconds float64         `json:"duration_seconds,omitempty"`
	CancelRequested bool            `json:"cancel_requested,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Status is what polling clients see.
type Status struct {
	JobID    uuid.UUID       `json:"jobId"`
	Stage    constants.Stage `json:"stage"`
	Progress int             `json:"progress"`
	Error    *JobError       `json:"error,omitempty"`
}

// Status projects the job onto the polling view.
func (j Job) Status() Status {
	s := Status{JobID: j.ID, Stage: j.Stage, Progress: j.Progress}
	if j.Error != nil {
		e := *j.Error
		s.Error = &e
	}
	return s
}

// Clone returns a deep copy safe to hand to another goroutine.
func (j Job) Clone() Job {
	if j.Error != nil {
		e := *j.Error
		j.Error = &e
	}
	return j
}
