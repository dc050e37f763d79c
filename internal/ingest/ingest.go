package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/lecture-quiz/internal/entity"
)

// IngestionResult is the per-file ingest outcome.
type IngestionResult struct {
	SourcePath   string
	JobID        uuid.UUID
	Deduplicated bool
	HashHex      string
	SizeBytes    int64
	IngestedAt   time.Time
	Err          string
}

// DirStats summarizes a directory ingest.
type DirStats struct {
	Scanned      uint32
	Matched      uint32
	Succeeded    uint32
	Deduplicated uint32
	Failed       uint32
}

// Submitter starts processing of a stored video. The orchestrator implements it.
type Submitter interface {
	Submit(ctx context.Context, sourceRef string, sizeBytes int64, title string) (entity.Job, error)
}
