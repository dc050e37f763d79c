// Package lecturetest wires a lecture service over in-memory storage and
// fake stage executors for tests of the outer surfaces.
package lecturetest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/lecture-quiz/constants"
	"github.com/joseph-ayodele/lecture-quiz/internal/entity"
	"github.com/joseph-ayodele/lecture-quiz/internal/export"
	"github.com/joseph-ayodele/lecture-quiz/internal/ingest"
	"github.com/joseph-ayodele/lecture-quiz/internal/jobs"
	"github.com/joseph-ayodele/lecture-quiz/internal/lectures"
	"github.com/joseph-ayodele/lecture-quiz/internal/pipeline"
	"github.com/joseph-ayodele/lecture-quiz/internal/repository"
)

// LectureLength is the media duration the fake transcoder reports.
const LectureLength = 12 * time.Minute

// Stack is a service with no queue attached: submitted jobs wait in
// Transcoding until Run is called.
type Stack struct {
	Service      *lectures.Service
	Registry     *jobs.Registry
	Store        repository.TranscriptRepository
	Orchestrator *pipeline.Orchestrator
	UploadDir    string
}

func QuietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func New(t *testing.T) *Stack {
	t.Helper()
	logger := QuietLogger()
	registry := jobs.NewRegistry(jobs.WithLogger(logger))
	store := repository.NewMemoryTranscriptRepository()

	exec := pipeline.Executors{
		Transcode: pipeline.ExecutorFunc[string, entity.MediaRef](func(ctx context.Context, id uuid.UUID, src string, report pipeline.ProgressFunc) (entity.MediaRef, error) {
			report(100)
			return entity.MediaRef{Path: src, Duration: LectureLength}, nil
		}),
		Transcribe: pipeline.ExecutorFunc[entity.MediaRef, entity.Transcript](func(ctx context.Context, id uuid.UUID, m entity.MediaRef, report pipeline.ProgressFunc) (entity.Transcript, error) {
			var spans []entity.Span
			for at := time.Duration(0); at < m.Duration; at += time.Minute {
				spans = append(spans, entity.Span{Start: at, End: at + time.Minute, Text: fmt.Sprintf("minute %d", int(at.Minutes()))})
			}
			return entity.Transcript{Duration: m.Duration, Spans: spans}, nil
		}),
		Segment: pipeline.NewSegmentExecutor(constants.SegmentWindowDefault),
		Generate: pipeline.ExecutorFunc[entity.Segment, []entity.Question](func(ctx context.Context, id uuid.UUID, seg entity.Segment, report pipeline.ProgressFunc) ([]entity.Question, error) {
			out := make([]entity.Question, constants.QuestionsPerSegmentDefault)
			for i := range out {
				out[i] = entity.Question{
					ID:        uuid.New(),
					SegmentID: seg.ID,
					Text:      fmt.Sprintf("segment %d question %d", seg.Index, i),
					Options: []entity.Option{
						{ID: "a", Text: "one", IsCorrect: true},
						{ID: "b", Text: "two"},
						{ID: "c", Text: "three"},
						{ID: "d", Text: "four"},
					},
				}
			}
			return out, nil
		}),
	}
	cfg := pipeline.Config{Retry: pipeline.RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}}
	orch := pipeline.NewOrchestrator(registry, store, exec, cfg, logger)

	uploadDir := t.TempDir()
	uploader := ingest.NewUploader(uploadDir, 1<<20, orch, logger)
	exporter := export.NewService(registry, store, constants.SegmentWindowDefault, logger)
	svc := lectures.NewService(orch, registry, store, exporter, uploader, constants.SegmentWindowDefault, logger)

	return &Stack{Service: svc, Registry: registry, Store: store, Orchestrator: orch, UploadDir: uploadDir}
}

// Submit creates a job without running it.
func (s *Stack) Submit(t *testing.T, title string) entity.Job {
	t.Helper()
	job, err := s.Service.CreateJob(context.Background(), lectures.CreateJobRequest{SourceRef: "/videos/" + title + ".mp4", SizeBytes: 1024, Title: title})
	require.NoError(t, err)
	return job
}

// Run processes a submitted job to a terminal state.
func (s *Stack) Run(t *testing.T, id uuid.UUID) entity.Job {
	t.Helper()
	_ = s.Orchestrator.Process(context.Background(), id)
	job, err := s.Registry.Get(id)
	require.NoError(t, err)
	return job
}

// Completed submits and runs a job to Completed.
func (s *Stack) Completed(t *testing.T, title string) entity.Job {
	t.Helper()
	job := s.Run(t, s.Submit(t, title).ID)
	require.Equal(t, constants.StageCompleted, job.Stage)
	return job
}
