package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/lecture-quiz/constants"
	"github.com/joseph-ayodele/lecture-quiz/internal/async"
	"github.com/joseph-ayodele/lecture-quiz/internal/common"
	"github.com/joseph-ayodele/lecture-quiz/internal/entity"
	"github.com/joseph-ayodele/lecture-quiz/internal/jobs"
	"github.com/joseph-ayodele/lecture-quiz/internal/repository"
)

// InterruptedReason is recorded when a job stops because the process is shutting down.
const InterruptedReason = "interrupted"

// errCancelRequested is the cancel cause set by Cancel.
var errCancelRequested = errors.New("cancel requested")

// Executors holds one executor per working stage.
type Executors struct {
	Transcode  Executor[string, entity.MediaRef]
	Transcribe Executor[entity.MediaRef, entity.Transcript]
	Segment    Executor[entity.Transcript, []entity.Segment]
	Generate   Executor[entity.Segment, []entity.Question]
}

// Config tunes the orchestrator. Zero stage timeouts mean no deadline.
type Config struct {
	Retry         RetryPolicy
	StageTimeouts map[constants.Stage]time.Duration
}

// Orchestrator drives jobs through Transcoding, Transcribing, Segmenting
// and GeneratingQuestions. Each job runs on one goroutine; stages of a job
// never overlap and jobs share no lock.
type Orchestrator struct {
	registry *jobs.Registry
	store    repository.TranscriptRepository
	exec     Executors
	cfg      Config
	queue    async.Queue
	logger   *slog.Logger

	mu      sync.Mutex
	running map[uuid.UUID]context.CancelCauseFunc
}

func NewOrchestrator(registry *jobs.Registry, store repository.TranscriptRepository, exec Executors, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Retry.MaxRetries < 0 {
		cfg.Retry.MaxRetries = 0
	}
	return &Orchestrator{
		registry: registry,
		store:    store,
		exec:     exec,
		cfg:      cfg,
		logger:   logger,
		running:  make(map[uuid.UUID]context.CancelCauseFunc),
	}
}

// AttachQueue sets the queue Submit hands jobs to. The queue's processor is
// normally the orchestrator itself.
func (o *Orchestrator) AttachQueue(q async.Queue) { o.queue = q }

// Submit creates a job for an uploaded file, moves it to Transcoding and
// enqueues it. Every call creates a fresh job.
func (o *Orchestrator) Submit(ctx context.Context, sourceRef string, sizeBytes int64, title string) (entity.Job, error) {
	job, err := o.registry.Create(ctx, sourceRef, sizeBytes, title)
	if err != nil {
		return entity.Job{}, err
	}
	if err := o.registry.Advance(ctx, job.ID, constants.StageTranscoding); err != nil {
		return entity.Job{}, err
	}
	if o.queue != nil {
		if err := o.queue.Enqueue(ctx, async.Job{JobID: job.ID, TraceID: common.RequestIDFromContext(ctx)}); err != nil {
			if fErr := o.registry.Fail(ctx, job.ID, constants.StageTranscoding, "not queued: "+err.Error(), true); fErr != nil {
				o.logger.Error("pipeline.enqueue.fail_record", "job_id", job.ID, "err", fErr)
			}
			return entity.Job{}, fmt.Errorf("enqueue job %s: %w", job.ID, err)
		}
	}
	return o.registry.Get(job.ID)
}

// Cancel requests cancellation. A running job stops at its next
// suspension point; a queued job stops before its first stage.
func (o *Orchestrator) Cancel(ctx context.Context, jobID uuid.UUID) error {
	if err := o.registry.RequestCancel(ctx, jobID); err != nil {
		return err
	}
	o.mu.Lock()
	cancel := o.running[jobID]
	o.mu.Unlock()
	if cancel != nil {
		cancel(errCancelRequested)
	}
	return nil
}

// Process runs the job to a terminal state. It implements async.Processor.
func (o *Orchestrator) Process(parent context.Context, jobID uuid.UUID) error {
	job, err := o.registry.Get(jobID)
	if err != nil {
		return err
	}
	if job.Stage.IsTerminal() {
		return nil
	}

	ctx, cancel := context.WithCancelCause(parent)
	o.mu.Lock()
	o.running[jobID] = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.running, jobID)
		o.mu.Unlock()
		cancel(nil)
	}()

	start := time.Now()
	logger := o.logger.With("job_id", jobID)
	err = o.run(ctx, jobID, logger)
	if err == nil {
		logger.Info("pipeline.completed", "elapsed_ms", time.Since(start).Milliseconds())
		return nil
	}
	return o.finish(jobID, err, logger)
}

// stageError carries the stage a failure happened in.
type stageError struct {
	stage constants.Stage
	err   error
}

func (e *stageError) Error() string { return fmt.Sprintf("%s: %v", e.stage, e.err) }
func (e *stageError) Unwrap() error { return e.err }

// finish records the terminal state for a run that did not complete.
func (o *Orchestrator) finish(jobID uuid.UUID, err error, logger *slog.Logger) error {
	ctx := context.Background()
	stage := constants.StageTranscoding
	var se *stageError
	if errors.As(err, &se) {
		stage = se.stage
	}

	if o.registry.CancelRequested(jobID) {
		if mErr := o.registry.MarkCancelled(ctx, jobID); mErr != nil && !errors.Is(mErr, common.ErrJobTerminal) {
			return mErr
		}
		logger.Info("pipeline.cancelled", "stage", stage)
		return fmt.Errorf("job %s: %w", jobID, common.ErrCancelled)
	}

	var f *Failure
	switch {
	case errors.As(err, &f):
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		f = &Failure{Kind: KindTransient, Message: InterruptedReason, Retryable: true, Err: err}
	default:
		f = Classify(err)
	}
	if fErr := o.registry.Fail(ctx, jobID, stage, f.Message, f.Retryable); fErr != nil && !errors.Is(fErr, common.ErrJobTerminal) {
		return fErr
	}
	logger.Error("pipeline.stage.failed", "stage", stage, "kind", f.Kind, "retryable", f.Retryable, "err", f)
	return err
}

func (o *Orchestrator) run(ctx context.Context, jobID uuid.UUID, logger *slog.Logger) error {
	job, err := o.registry.Get(jobID)
	if err != nil {
		return err
	}
	switch job.Stage {
	case constants.StageReceived:
		if err := o.enter(ctx, jobID, constants.StageTranscoding); err != nil {
			return err
		}
	case constants.StageTranscoding:
	default:
		return &stageError{job.Stage, Permanent(fmt.Sprintf("cannot start from stage %s", job.Stage), nil)}
	}

	media, err := runStage(ctx, o, jobID, constants.StageTranscoding, o.exec.Transcode, job.SourceRef, o.reporter(jobID, constants.StageTranscoding), logger)
	if err != nil {
		return err
	}
	if media.Duration > 0 {
		_ = o.registry.SetDuration(ctx, jobID, media.Duration.Seconds())
	}
	if err := o.complete(ctx, jobID, constants.StageTranscoding); err != nil {
		return err
	}

	transcript, err := runStage(ctx, o, jobID, constants.StageTranscribing, o.exec.Transcribe, media, o.reporter(jobID, constants.StageTranscribing), logger)
	if err != nil {
		return err
	}
	if err := o.complete(ctx, jobID, constants.StageTranscribing); err != nil {
		return err
	}

	segments, err := o.segment(ctx, jobID, transcript, logger)
	if err != nil {
		return err
	}
	if err := o.complete(ctx, jobID, constants.StageSegmenting); err != nil {
		return err
	}

	if err := o.generate(ctx, jobID, segments, logger); err != nil {
		return err
	}
	return o.complete(ctx, jobID, constants.StageGeneratingQuestions)
}

func (o *Orchestrator) segment(ctx context.Context, jobID uuid.UUID, transcript entity.Transcript, logger *slog.Logger) ([]entity.Segment, error) {
	const stage = constants.StageSegmenting
	segments, err := runStage(ctx, o, jobID, stage, o.exec.Segment, transcript, o.reporter(jobID, stage), logger)
	if err != nil {
		return nil, err
	}
	err = o.store.WriteSegments(ctx, jobID, segments)
	switch {
	case err == nil:
		logger.Info("pipeline.segments.written", "count", len(segments))
		return segments, nil
	case errors.Is(err, common.ErrAlreadyWritten):
		existing, gErr := o.store.GetSegments(ctx, jobID)
		if gErr != nil {
			return nil, &stageError{stage, Transient("read existing segments", gErr)}
		}
		logger.Info("pipeline.segments.reused", "count", len(existing))
		return existing, nil
	default:
		return nil, &stageError{stage, storeFailure("write segments", err)}
	}
}

func (o *Orchestrator) generate(ctx context.Context, jobID uuid.UUID, segments []entity.Segment, logger *slog.Logger) error {
	const stage = constants.StageGeneratingQuestions
	n := len(segments)
	if n == 0 {
		return &stageError{stage, Permanent("no segments to generate questions for", common.ErrInvariantViolation)}
	}
	for i, seg := range segments {
		base := i * 100 / n
		report := func(p int) {
			o.reporter(jobID, stage)(base + clamp(p)/n)
		}
		questions, err := runStage(ctx, o, jobID, stage, o.exec.Generate, seg, report, logger.With("segment_index", seg.Index))
		if err != nil {
			return err
		}
		if err := o.store.WriteQuestions(ctx, seg.ID, questions); err != nil {
			return &stageError{stage, storeFailure(fmt.Sprintf("write questions for segment %d", seg.Index), err)}
		}
		logger.Debug("pipeline.questions.written", "segment_index", seg.Index, "count", len(questions))
		o.reporter(jobID, stage)((i + 1) * 100 / n)
	}
	return nil
}

// enter advances to stage after checking for cancellation.
func (o *Orchestrator) enter(ctx context.Context, jobID uuid.UUID, stage constants.Stage) error {
	if err := o.checkpoint(ctx, jobID, stage); err != nil {
		return err
	}
	if err := o.registry.Advance(ctx, jobID, stage); err != nil {
		return &stageError{stage, err}
	}
	return nil
}

// complete marks stage done and enters the next one.
func (o *Orchestrator) complete(ctx context.Context, jobID uuid.UUID, stage constants.Stage) error {
	if _, err := o.registry.UpdateProgress(jobID, stage, 100); err != nil {
		return &stageError{stage, err}
	}
	next, ok := stage.Next()
	if !ok {
		return nil
	}
	if next == constants.StageCompleted {
		return o.registry.Advance(ctx, jobID, next)
	}
	return o.enter(ctx, jobID, next)
}

// checkpoint is a suspension point: it fails once ctx is done or a cancel
// was requested for the job.
func (o *Orchestrator) checkpoint(ctx context.Context, jobID uuid.UUID, stage constants.Stage) error {
	if err := ctx.Err(); err != nil {
		return &stageError{stage, context.Cause(ctx)}
	}
	if o.registry.CancelRequested(jobID) {
		return &stageError{stage, errCancelRequested}
	}
	return nil
}

func (o *Orchestrator) reporter(jobID uuid.UUID, stage constants.Stage) ProgressFunc {
	return func(p int) {
		if _, err := o.registry.UpdateProgress(jobID, stage, p); err != nil {
			o.logger.Warn("pipeline.progress.dropped", "job_id", jobID, "stage", stage, "err", err)
		}
	}
}

// runStage calls exec, retrying retryable failures with backoff until the
// budget is spent. Cancellation of ctx, or a cancel request seen at a
// progress report, ends it at the next suspension point.
func runStage[In, Out any](ctx context.Context, o *Orchestrator, jobID uuid.UUID, stage constants.Stage, exec Executor[In, Out], in In, report ProgressFunc, logger *slog.Logger) (Out, error) {
	var out Out
	if exec == nil {
		return out, &stageError{stage, Permanent("no executor configured", nil)}
	}
	attempts := 0
	op := func() error {
		if err := o.checkpoint(ctx, jobID, stage); err != nil {
			return backoff.Permanent(err)
		}
		start := time.Now()
		res, err := runAttempt(ctx, o, jobID, stage, exec, in, report)
		attempts++
		if err == nil {
			logger.Debug("pipeline.stage.ok", "stage", stage, "attempt", attempts-1, "elapsed_ms", time.Since(start).Milliseconds())
			out = res
			return nil
		}
		if cErr := o.checkpoint(ctx, jobID, stage); cErr != nil {
			return backoff.Permanent(cErr)
		}
		f := Classify(err)
		if !f.Retryable {
			return backoff.Permanent(&stageError{stage, f})
		}
		return f
	}
	notify := func(err error, delay time.Duration) {
		logger.Warn("pipeline.stage.retry", "stage", stage, "attempt", attempts, "delay_ms", delay.Milliseconds(), "err", err)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(o.cfg.Retry.BackOff(), ctx), notify)
	if err == nil {
		return out, nil
	}
	var se *stageError
	if errors.As(err, &se) {
		return out, se
	}
	if ctx.Err() != nil {
		return out, &stageError{stage, context.Cause(ctx)}
	}
	f := Classify(err)
	if f.Retryable {
		f = &Failure{Kind: f.Kind, Message: fmt.Sprintf("%s (gave up after %d attempts)", f.Message, attempts), Retryable: true, Err: f.Err}
	}
	return out, &stageError{stage, f}
}

// runAttempt runs one executor call under the stage deadline. The executor
// runs on its own goroutine, so a call that ignores its context is abandoned
// once the deadline passes or the job is cancelled. A result delivered after
// the deadline still counts as a timeout.
func runAttempt[In, Out any](ctx context.Context, o *Orchestrator, jobID uuid.UUID, stage constants.Stage, exec Executor[In, Out], in In, report ProgressFunc) (Out, error) {
	var zero Out
	attemptCtx, stop := context.WithCancelCause(ctx)
	defer stop(nil)
	stageCtx, cancel := common.WithTimeout(attemptCtx, o.cfg.StageTimeouts[stage])
	defer cancel()

	type result struct {
		out Out
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := exec.Run(stageCtx, jobID, in, func(p int) {
			if stageCtx.Err() != nil {
				return
			}
			if err := o.checkpoint(ctx, jobID, stage); err != nil {
				stop(errCancelRequested)
				return
			}
			report(p)
		})
		done <- result{res, err}
	}()

	select {
	case r := <-done:
		if r.err == nil && errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
			return zero, timeoutFailure(stage)
		}
		return r.out, r.err
	case <-stageCtx.Done():
		if cause := context.Cause(attemptCtx); cause != nil && !errors.Is(cause, context.DeadlineExceeded) {
			return zero, &stageError{stage, cause}
		}
		return zero, timeoutFailure(stage)
	}
}

func timeoutFailure(stage constants.Stage) *Failure {
	return &Failure{Kind: KindTimeout, Message: fmt.Sprintf("%s deadline exceeded", stage), Retryable: true, Err: context.DeadlineExceeded}
}

// storeFailure classifies a store error: invariant violations are
// permanent, database trouble is worth retrying by a fresh job.
func storeFailure(message string, err error) *Failure {
	if errors.Is(err, common.ErrDatabase) {
		return &Failure{Kind: KindTransient, Message: message + ": " + err.Error(), Retryable: true, Err: err}
	}
	return Permanent(message+": "+err.Error(), err)
}

func clamp(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
