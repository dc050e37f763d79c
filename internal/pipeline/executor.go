package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/lecture-quiz/internal/common"
)

// ProgressFunc receives stage-local progress in percent.
type ProgressFunc func(percent int)

// Executor performs one pipeline stage. It writes only its output; the
// orchestrator owns every store and registry write. Re-running an executor
// after a retryable failure must be safe.
type Executor[In, Out any] interface {
	Run(ctx context.Context, jobID uuid.UUID, in In, report ProgressFunc) (Out, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc[In, Out any] func(ctx context.Context, jobID uuid.UUID, in In, report ProgressFunc) (Out, error)

func (f ExecutorFunc[In, Out]) Run(ctx context.Context, jobID uuid.UUID, in In, report ProgressFunc) (Out, error) {
	return f(ctx, jobID, in, report)
}

// FailureKind names the class of a stage failure.
type FailureKind string

const (
	KindTransient     FailureKind = "transient"
	KindPermanent     FailureKind = "permanent"
	KindTimeout       FailureKind = "timeout"
	KindInvalidOutput FailureKind = "invalid_output"
)

// Failure is the error shape every stage failure is reduced to.
type Failure struct {
	Kind      FailureKind
	Message   string
	Retryable bool
	Err       error
}

func (f *Failure) Error() string {
	if f.Err != nil && f.Err.Error() != f.Message {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error { return f.Err }

// Is lets callers match failures against common.ErrTransient and common.ErrPermanent.
func (f *Failure) Is(target error) bool {
	switch target {
	case common.ErrTransient:
		return f.Retryable
	case common.ErrPermanent:
		return !f.Retryable
	}
	return false
}

// Transient returns a retryable failure.
func Transient(message string, err error) *Failure {
	return &Failure{Kind: KindTransient, Message: message, Retryable: true, Err: err}
}

// Permanent returns a failure that ends the job.
func Permanent(message string, err error) *Failure {
	return &Failure{Kind: KindPermanent, Message: message, Err: err}
}

// Classify reduces any executor error to a Failure. Deadlines, network
// timeouts and errors wrapping common.ErrTransient are retryable; anything
// unrecognized is permanent.
func Classify(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Failure{Kind: KindTimeout, Message: "stage deadline exceeded", Retryable: true, Err: err}
	case errors.Is(err, common.ErrTransient):
		return Transient(err.Error(), err)
	case errors.Is(err, common.ErrPermanent), errors.Is(err, common.ErrInvariantViolation):
		return Permanent(err.Error(), err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient(err.Error(), err)
	}
	return Permanent(err.Error(), err)
}
