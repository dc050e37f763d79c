package jobs

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/lecture-quiz/constants"
	"github.com/joseph-ayodele/lecture-quiz/internal/common"
	"github.com/joseph-ayodele/lecture-quiz/internal/entity"
	"github.com/joseph-ayodele/lecture-quiz/internal/repository"
)

func newTestRegistry(opts ...Option) *Registry {
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return NewRegistry(opts...)
}

func TestRegistryLifecycle(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	job, err := r.Create(ctx, "abc", 1_000_000, "")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, job.ID)
	assert.Equal(t, constants.StageReceived, job.Stage)

	for _, stage := range constants.PipelineOrder()[1:] {
		require.NoError(t, r.Advance(ctx, job.ID, stage), "advance to %s", stage)
		st, err := r.Status(job.ID)
		require.NoError(t, err)
		assert.Equal(t, stage, st.Stage)
	}

	st, err := r.Status(job.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, st.Progress)
	assert.Nil(t, st.Error)
}

func TestRegistryRejectsSkippedStage(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	job, err := r.Create(ctx, "abc", 1, "")
	require.NoError(t, err)
	require.NoError(t, r.Advance(ctx, job.ID, constants.StageTranscoding))

	err = r.Advance(ctx, job.ID, constants.StageSegmenting)
	assert.ErrorIs(t, err, common.ErrInvariantViolation)

	assert.NoError(t, r.Advance(ctx, job.ID, constants.StageTranscoding), "same stage is a no-op")
}

func TestRegistryProgressIsMonotonicWithinStage(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	job, err := r.Create(ctx, "abc", 1, "")
	require.NoError(t, err)
	require.NoError(t, r.Advance(ctx, job.ID, constants.StageTranscoding))

	applied, err := r.UpdateProgress(job.ID, constants.StageTranscoding, 40)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, _ = r.UpdateProgress(job.ID, constants.StageTranscoding, 20)
	assert.False(t, applied, "regression ignored")

	applied, _ = r.UpdateProgress(job.ID, constants.StageTranscribing, 90)
	assert.False(t, applied, "stale stage ignored")

	applied, _ = r.UpdateProgress(job.ID, constants.StageTranscoding, 250)
	assert.True(t, applied)

	st, _ := r.Status(job.ID)
	assert.Equal(t, 100, st.Progress)

	require.NoError(t, r.Advance(ctx, job.ID, constants.StageTranscribing))
	st, _ = r.Status(job.ID)
	assert.Equal(t, 0, st.Progress, "progress resets on stage entry")
}

func TestRegistryFailAndCancel(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	failed, _ := r.Create(ctx, "a", 1, "")
	require.NoError(t, r.Advance(ctx, failed.ID, constants.StageTranscoding))
	require.NoError(t, r.Fail(ctx, failed.ID, constants.StageTranscoding, "bad input", false))

	st, err := r.Status(failed.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.StageFailed, st.Stage)
	require.NotNil(t, st.Error)
	assert.Equal(t, constants.StageTranscoding, st.Error.Stage)
	assert.False(t, st.Error.Retryable)

	assert.ErrorIs(t, r.RequestCancel(ctx, failed.ID), common.ErrJobTerminal)
	assert.ErrorIs(t, r.Advance(ctx, failed.ID, constants.StageTranscribing), common.ErrJobTerminal)

	running, _ := r.Create(ctx, "b", 1, "")
	require.NoError(t, r.Advance(ctx, running.ID, constants.StageTranscoding))
	require.NoError(t, r.RequestCancel(ctx, running.ID))
	require.NoError(t, r.RequestCancel(ctx, running.ID))
	assert.True(t, r.CancelRequested(running.ID))
	require.NoError(t, r.MarkCancelled(ctx, running.ID))

	st, _ = r.Status(running.ID)
	assert.Equal(t, constants.StageCancelled, st.Stage)
}

func TestRegistryUnknownJob(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Status(uuid.New())
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.ErrorIs(t, r.RequestCancel(context.Background(), uuid.New()), common.ErrNotFound)
	assert.False(t, r.CancelRequested(uuid.New()))
}

func TestRegistryRejectsEmptySource(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Create(context.Background(), "  ", 1, "")
	assert.Error(t, err)
}

func TestRegistryConcurrentReadsDuringWrites(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	job, _ := r.Create(ctx, "abc", 1, "")
	require.NoError(t, r.Advance(ctx, job.ID, constants.StageTranscoding))

	var wg sync.WaitGroup
	for i := 1; i <= 100; i++ {
		wg.Add(2)
		go func(p int) {
			defer wg.Done()
			_, _ = r.UpdateProgress(job.ID, constants.StageTranscoding, p)
		}(i)
		go func() {
			defer wg.Done()
			st, err := r.Status(job.ID)
			if assert.NoError(t, err) {
				assert.Equal(t, constants.StageTranscoding, st.Stage)
			}
		}()
	}
	wg.Wait()

	st, _ := r.Status(job.ID)
	assert.Equal(t, 100, st.Progress)
}

func TestRegistryRestoreMarksInterruptedJobs(t *testing.T) {
	repo := repository.NewMemoryJobRepository()
	ctx := context.Background()

	first := newTestRegistry(WithJobRepository(repo))
	inFlight, _ := first.Create(ctx, "a.mp4", 1, "")
	require.NoError(t, first.Advance(ctx, inFlight.ID, constants.StageTranscoding))
	require.NoError(t, first.Advance(ctx, inFlight.ID, constants.StageTranscribing))

	done, _ := first.Create(ctx, "b.mp4", 1, "")
	for _, stage := range constants.PipelineOrder()[1:] {
		require.NoError(t, first.Advance(ctx, done.ID, stage))
	}

	second := newTestRegistry(WithJobRepository(repo))
	n, err := second.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	st, err := second.Status(inFlight.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.StageFailed, st.Stage)
	assert.Equal(t, &entity.JobError{Stage: constants.StageTranscribing, Message: InterruptedByRestart, Retryable: true}, st.Error)

	st, err = second.Status(done.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.StageCompleted, st.Stage)

	persisted, err := repo.Get(ctx, inFlight.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.StageFailed, persisted.Stage)
}

func TestRegistryPublishesEvents(t *testing.T) {
	bus := NewEventBus(10)
	r := newTestRegistry(WithEventBus(bus))
	ctx := context.Background()
	job, _ := r.Create(ctx, "a", 1, "")
	other, _ := r.Create(ctx, "b", 1, "")
	require.NoError(t, r.Advance(ctx, job.ID, constants.StageTranscoding))
	_, _ = r.UpdateProgress(job.ID, constants.StageTranscoding, 10)

	events := bus.SinceFor(job.ID, 0)
	require.Len(t, events, 3)
	assert.Equal(t, EventTypeCreated, events[0].Type)
	assert.Equal(t, EventTypeStage, events[1].Type)
	assert.Equal(t, EventTypeProgress, events[2].Type)
	assert.Equal(t, 10, events[2].Progress)

	assert.Len(t, bus.SinceFor(other.ID, 0), 1)
	assert.Len(t, bus.Since(0), 4)
}

// gatedJobRepo holds the first Save of a cancel-requested, still running
// snapshot until release is closed.
type gatedJobRepo struct {
	repository.JobRepository
	once    sync.Once
	held    chan struct{}
	release chan struct{}
}

func (g *gatedJobRepo) Save(ctx context.Context, job entity.Job) error {
	if job.CancelRequested && !job.Stage.IsTerminal() {
		gate := false
		g.once.Do(func() { gate = true })
		if gate {
			close(g.held)
			<-g.release
		}
	}
	return g.JobRepository.Save(ctx, job)
}

func TestRegistryPersistsInSnapshotOrder(t *testing.T) {
	repo := &gatedJobRepo{
		JobRepository: repository.NewMemoryJobRepository(),
		held:          make(chan struct{}),
		release:       make(chan struct{}),
	}
	ctx := context.Background()
	r := newTestRegistry(WithJobRepository(repo))
	job, _ := r.Create(ctx, "a.mp4", 1, "")
	require.NoError(t, r.Advance(ctx, job.ID, constants.StageTranscoding))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, r.RequestCancel(ctx, job.ID))
	}()
	<-repo.held

	cancelled := make(chan struct{})
	go func() {
		defer wg.Done()
		defer close(cancelled)
		assert.NoError(t, r.MarkCancelled(ctx, job.ID))
	}()

	select {
	case <-cancelled:
		t.Fatal("MarkCancelled finished while an earlier save was still in flight")
	case <-time.After(20 * time.Millisecond):
	}
	close(repo.release)
	wg.Wait()

	persisted, err := repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.StageCancelled, persisted.Stage)

	restarted := newTestRegistry(WithJobRepository(repo))
	_, err = restarted.Restore(ctx)
	require.NoError(t, err)
	st, err := restarted.Status(job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.StageCancelled, st.Stage)
	assert.Nil(t, st.Error)
}
