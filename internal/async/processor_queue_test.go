package async

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/lecture-quiz/internal/common"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestProcessorQueueRunsJobsInParallel(t *testing.T) {
	var (
		running int32
		peak    int32
		mu      sync.Mutex
		seen    = map[uuid.UUID]bool{}
	)
	release := make(chan struct{})
	proc := ProcessorFunc(func(ctx context.Context, id uuid.UUID) error {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&running, -1)
		mu.Lock()
		seen[id] = true
		mu.Unlock()
		return nil
	})

	q := NewProcessorQueue(proc, quietLogger(), WithWorkers(3), WithQueueSize(10))
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		require.NoError(t, q.Enqueue(context.Background(), Job{JobID: id}))
	}

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&running) == 3 }, time.Second, 5*time.Millisecond)
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	q.Shutdown(ctx)

	assert.Equal(t, int32(3), atomic.LoadInt32(&peak))
	mu.Lock()
	defer mu.Unlock()
	for _, id := range ids {
		assert.True(t, seen[id])
	}
}

func TestProcessorQueueShutdownCancelsInFlight(t *testing.T) {
	started := make(chan struct{})
	var cancelled atomic.Bool
	proc := ProcessorFunc(func(ctx context.Context, id uuid.UUID) error {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	})

	q := NewProcessorQueue(proc, quietLogger(), WithWorkers(1))
	require.NoError(t, q.Enqueue(context.Background(), Job{JobID: uuid.New()}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	q.Shutdown(ctx)

	assert.True(t, cancelled.Load())
	assert.ErrorIs(t, q.Enqueue(context.Background(), Job{JobID: uuid.New()}), ErrQueueClosed)
}

func TestProcessorQueueCarriesJobIDInContext(t *testing.T) {
	got := make(chan string, 1)
	proc := ProcessorFunc(func(ctx context.Context, id uuid.UUID) error {
		got <- common.JobIDFromContext(ctx)
		return nil
	})
	q := NewProcessorQueue(proc, quietLogger(), WithWorkers(1))
	id := uuid.New()
	require.NoError(t, q.Enqueue(context.Background(), Job{JobID: id}))

	select {
	case v := <-got:
		assert.Equal(t, id.String(), v)
	case <-time.After(time.Second):
		t.Fatal("job not processed")
	}
	q.Shutdown(context.Background())
}
