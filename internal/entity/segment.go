package entity

import (
	"time"

	"github.com/google/uuid"
)

// Segment is one fixed-duration transcript window of a job.
type Segment struct {
	ID    uuid.UUID `json:"id"`
	JobID uuid.UUID `json:"job_id"`
	Index int       `json:"index"`
	Text  string    `json:"text"`
}

// Bounds returns the window [start, end) for the given window length.
func (s Segment) Bounds(window time.Duration) (start, end time.Duration) {
	start = time.Duration(s.Index) * window
	return start, start + window
}
