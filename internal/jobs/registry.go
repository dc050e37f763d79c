package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/lecture-quiz/constants"
	"github.com/joseph-ayodele/lecture-quiz/internal/common"
	"github.com/joseph-ayodele/lecture-quiz/internal/entity"
	"github.com/joseph-ayodele/lecture-quiz/internal/repository"
)

// InterruptedByRestart is the failure reason given to jobs found mid-pipeline at startup.
const InterruptedByRestart = "interrupted by restart"

// Registry maps job ids to their current snapshot. Status reads load an
// atomic pointer and never take a lock; writes are serialized per job.
type Registry struct {
	entries sync.Map // uuid.UUID -> *entry
	repo    repository.JobRepository
	events  *EventBus
	logger  *slog.Logger
	now     func() time.Time
}

type entry struct {
	mu   sync.Mutex
	snap atomic.Pointer[entity.Job]
}

// Option configures a Registry.
type Option func(*Registry)

// WithJobRepository persists every stage change through repo.
func WithJobRepository(repo repository.JobRepository) Option {
	return func(r *Registry) { r.repo = repo }
}

// WithEventBus publishes job events to bus.
func WithEventBus(bus *EventBus) Option {
	return func(r *Registry) { r.events = bus }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.events == nil {
		r.events = NewEventBus(0)
	}
	return r
}

// Events exposes the registry's event bus.
func (r *Registry) Events() *EventBus { return r.events }

// Create registers a new job in Received.
func (r *Registry) Create(ctx context.Context, sourceRef string, sizeBytes int64, title string) (entity.Job, error) {
	if strings.TrimSpace(sourceRef) == "" {
		return entity.Job{}, common.InvalidArgumentError("source ref is required")
	}
	if sizeBytes < 0 {
		return entity.Job{}, common.InvalidArgumentErrorf("size must be non-negative, got %d", sizeBytes)
	}

	now := r.now().UTC()
	job := entity.Job{
		ID:        uuid.New(),
		SourceRef: sourceRef,
		SizeBytes: sizeBytes,
		Title:     title,
		Stage:     constants.StageReceived,
		CreatedAt: now,
		UpdatedAt: now,
	}
	e := &entry{}
	e.snap.Store(&job)
	r.entries.Store(job.ID, e)

	r.persist(ctx, job)
	r.publish(job, EventTypeCreated, "")
	r.logger.Info("jobs.created", "job_id", job.ID, "source_ref", sourceRef, "size_bytes", sizeBytes)
	return job.Clone(), nil
}

func (r *Registry) entry(id uuid.UUID) (*entry, error) {
	v, ok := r.entries.Load(id)
	if !ok {
		return nil, common.NotFoundf("job %s", id)
	}
	return v.(*entry), nil
}

// Get returns a copy of the job.
func (r *Registry) Get(id uuid.UUID) (entity.Job, error) {
	e, err := r.entry(id)
	if err != nil {
		return entity.Job{}, err
	}
	return e.snap.Load().Clone(), nil
}

// Status returns the polling view of the job.
func (r *Registry) Status(id uuid.UUID) (entity.Status, error) {
	e, err := r.entry(id)
	if err != nil {
		return entity.Status{}, err
	}
	return e.snap.Load().Status(), nil
}

// List returns every known job, newest first.
func (r *Registry) List() []entity.Job {
	var out []entity.Job
	r.entries.Range(func(_, v any) bool {
		out = append(out, v.(*entry).snap.Load().Clone())
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// update applies fn to a copy of the current snapshot under the entry lock
// and swaps it in. fn returns false to leave the job untouched. With save
// set the new snapshot is written to the repository before the lock is
// released, so store writes for one job land in snapshot order.
func (r *Registry) update(ctx context.Context, id uuid.UUID, save bool, fn func(j *entity.Job) (bool, error)) (entity.Job, bool, error) {
	e, err := r.entry(id)
	if err != nil {
		return entity.Job{}, false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.snap.Load().Clone()
	changed, err := fn(&next)
	if err != nil || !changed {
		return next, false, err
	}
	next.UpdatedAt = r.now().UTC()
	e.snap.Store(&next)
	if save {
		r.persist(ctx, next)
	}
	return next.Clone(), true, nil
}

// Advance moves the job to the next pipeline stage. Moving to the current
// stage is a no-op; any edge other than the successor of the current stage
// is rejected. Progress restarts at 0, or is 100 on Completed.
func (r *Registry) Advance(ctx context.Context, id uuid.UUID, to constants.Stage) error {
	job, changed, err := r.update(ctx, id, true, func(j *entity.Job) (bool, error) {
		if j.Stage == to {
			return false, nil
		}
		if j.Stage.IsTerminal() {
			return false, fmt.Errorf("advance %s to %s: %w", id, to, common.ErrJobTerminal)
		}
		if !isValidTransition(j.Stage, to) {
			return false, fmt.Errorf("%w: invalid transition %s -> %s", common.ErrInvariantViolation, j.Stage, to)
		}
		j.Stage = to
		j.Progress = 0
		if to == constants.StageCompleted {
			j.Progress = 100
		}
		return true, nil
	})
	if err != nil || !changed {
		return err
	}
	r.publish(job, EventTypeStage, "")
	r.logger.Info("jobs.stage.entered", "job_id", id, "stage", to)
	return nil
}

// UpdateProgress records executor progress for stage. Reports for a stage
// the job is no longer in, or lower than the current value, are ignored.
// It reports whether the value was applied.
func (r *Registry) UpdateProgress(id uuid.UUID, stage constants.Stage, percent int) (bool, error) {
	percent = clampPercent(percent)
	job, changed, err := r.update(context.Background(), id, false, func(j *entity.Job) (bool, error) {
		if j.Stage != stage || !stage.IsWorking() {
			return false, nil
		}
		if percent <= j.Progress {
			return false, nil
		}
		j.Progress = percent
		return true, nil
	})
	if err != nil || !changed {
		return false, err
	}
	r.publish(job, EventTypeProgress, "")
	return true, nil
}

// Fail moves a running job to Failed, recording the stage it failed in.
func (r *Registry) Fail(ctx context.Context, id uuid.UUID, stage constants.Stage, message string, retryable bool) error {
	job, changed, err := r.update(ctx, id, true, func(j *entity.Job) (bool, error) {
		if j.Stage.IsTerminal() {
			return false, fmt.Errorf("fail %s: %w", id, common.ErrJobTerminal)
		}
		j.Stage = constants.StageFailed
		j.Error = &entity.JobError{Stage: stage, Message: message, Retryable: retryable}
		return true, nil
	})
	if err != nil || !changed {
		return err
	}
	r.publish(job, EventTypeError, message)
	r.logger.Warn("jobs.failed", "job_id", id, "stage", stage, "reason", message, "retryable", retryable)
	return nil
}

// RequestCancel flags the job for cancellation. The orchestrator observes
// the flag at its next suspension point. Repeated requests are no-ops.
func (r *Registry) RequestCancel(ctx context.Context, id uuid.UUID) error {
	job, changed, err := r.update(ctx, id, true, func(j *entity.Job) (bool, error) {
		if j.Stage.IsTerminal() {
			return false, fmt.Errorf("cancel %s in %s: %w", id, j.Stage, common.ErrJobTerminal)
		}
		if j.CancelRequested {
			return false, nil
		}
		j.CancelRequested = true
		return true, nil
	})
	if err != nil || !changed {
		return err
	}
	r.publish(job, EventTypeCancel, "")
	r.logger.Info("jobs.cancel.requested", "job_id", id, "stage", job.Stage)
	return nil
}

// CancelRequested reports whether a cancel was requested for the job.
func (r *Registry) CancelRequested(id uuid.UUID) bool {
	e, err := r.entry(id)
	if err != nil {
		return false
	}
	return e.snap.Load().CancelRequested
}

// MarkCancelled moves the job to Cancelled.
func (r *Registry) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	job, changed, err := r.update(ctx, id, true, func(j *entity.Job) (bool, error) {
		if j.Stage == constants.StageCancelled {
			return false, nil
		}
		if j.Stage.IsTerminal() {
			return false, fmt.Errorf("cancel %s: %w", id, common.ErrJobTerminal)
		}
		j.Stage = constants.StageCancelled
		j.CancelRequested = true
		return true, nil
	})
	if err != nil || !changed {
		return err
	}
	r.publish(job, EventTypeStage, "cancelled")
	r.logger.Info("jobs.cancelled", "job_id", id)
	return nil
}

// SetDuration records the media duration discovered by transcoding.
func (r *Registry) SetDuration(ctx context.Context, id uuid.UUID, seconds float64) error {
	_, _, err := r.update(ctx, id, true, func(j *entity.Job) (bool, error) {
		if seconds <= 0 || j.DurationSeconds == seconds {
			return false, nil
		}
		j.DurationSeconds = seconds
		return true, nil
	})
	return err
}

// Restore loads persisted jobs. Jobs that were mid-pipeline when the last
// process stopped are marked Failed with a retryable error; a re-attempt is
// a fresh job. It returns the number of jobs loaded.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	if r.repo == nil {
		return 0, nil
	}
	jobs, err := r.repo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore jobs: %w", err)
	}
	interrupted := 0
	for _, job := range jobs {
		if !job.Stage.IsTerminal() {
			job.Error = &entity.JobError{Stage: job.Stage, Message: InterruptedByRestart, Retryable: true}
			job.Stage = constants.StageFailed
			job.UpdatedAt = r.now().UTC()
			r.persist(ctx, job)
			interrupted++
		}
		e := &entry{}
		j := job
		e.snap.Store(&j)
		r.entries.Store(job.ID, e)
	}
	r.logger.Info("jobs.restored", "count", len(jobs), "interrupted", interrupted)
	return len(jobs), nil
}

func (r *Registry) persist(ctx context.Context, job entity.Job) {
	if r.repo == nil {
		return
	}
	// Persistence is best effort; the in-memory snapshot stays authoritative.
	if err := r.repo.Save(context.WithoutCancel(ctx), job); err != nil {
		r.logger.Error("jobs.persist.failed", "job_id", job.ID, "stage", job.Stage, "error", err)
	}
}

func (r *Registry) publish(job entity.Job, typ EventType, message string) {
	ev := Event{
		JobID:    job.ID,
		Type:     typ,
		Stage:    job.Stage,
		Progress: job.Progress,
		Message:  message,
	}
	if job.Error != nil {
		ev.Message = job.Error.Message
		ev.Retryable = job.Error.Retryable
	}
	r.events.Publish(ev)
}

func clampPercent(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

// isValidTransition enforces the forward edges of the pipeline. Failed and
// Cancelled are entered through Fail and MarkCancelled.
func isValidTransition(from, to constants.Stage) bool {
	next, ok := from.Next()
	return ok && next == to
}
