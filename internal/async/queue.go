package async

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrQueueClosed is returned by Enqueue once Shutdown has begun.
var ErrQueueClosed = errors.New("queue is shutting down")

// Job is one pipeline run waiting for a worker.
type Job struct {
	JobID       uuid.UUID
	SubmittedAt time.Time
	TraceID     string
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}

// Processor runs one job to a terminal state. The context is cancelled when
// the queue shuts down.
type Processor interface {
	Process(ctx context.Context, jobID uuid.UUID) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, jobID uuid.UUID) error

func (f ProcessorFunc) Process(ctx context.Context, jobID uuid.UUID) error { return f(ctx, jobID) }
