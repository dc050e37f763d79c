package lectures

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/lecture-quiz/constants"
	"github.com/joseph-ayodele/lecture-quiz/internal/common"
	"github.com/joseph-ayodele/lecture-quiz/internal/entity"
	"github.com/joseph-ayodele/lecture-quiz/internal/export"
	"github.com/joseph-ayodele/lecture-quiz/internal/ingest"
	"github.com/joseph-ayodele/lecture-quiz/internal/jobs"
	"github.com/joseph-ayodele/lecture-quiz/internal/pipeline"
	"github.com/joseph-ayodele/lecture-quiz/internal/repository"
)

// Service is what the RPC and REST surfaces call. It owns id parsing and
// request validation; everything else is delegated.
type Service struct {
	orchestrator *pipeline.Orchestrator
	registry     *jobs.Registry
	store        repository.TranscriptRepository
	exporter     *export.Service
	uploader     *ingest.Uploader
	window       time.Duration
	logger       *slog.Logger
}

// NewService creates a new lecture service. uploader may be nil when the
// process accepts no uploads.
func NewService(
	orchestrator *pipeline.Orchestrator,
	registry *jobs.Registry,
	store repository.TranscriptRepository,
	exporter *export.Service,
	uploader *ingest.Uploader,
	window time.Duration,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if window <= 0 {
		window = constants.SegmentWindowDefault
	}
	return &Service{
		orchestrator: orchestrator,
		registry:     registry,
		store:        store,
		exporter:     exporter,
		uploader:     uploader,
		window:       window,
		logger:       logger,
	}
}

// Video is the listing view of a job.
type Video struct {
	ID              uuid.UUID        `json:"id"`
	Title           string           `json:"title"`
	Duration        float64          `json:"duration"`
	CreatedAt       time.Time        `json:"createdAt"`
	Status          string           `json:"status"`
	CurrentStep     string           `json:"currentStep"`
	Stage           constants.Stage  `json:"stage"`
	Progress        int              `json:"progress"`
	Error           *entity.JobError `json:"error,omitempty"`
	CancelRequested bool             `json:"cancelRequested,omitempty"`
}

// VideoFromJob projects a job onto the listing view.
func VideoFromJob(j entity.Job) Video {
	v := Video{
		ID:              j.ID,
		Title:           j.Title,
		Duration:        j.DurationSeconds,
		CreatedAt:       j.CreatedAt,
		Status:          j.Stage.VideoStatus(),
		CurrentStep:     j.Stage.StepName(),
		Stage:           j.Stage,
		Progress:        j.Progress,
		CancelRequested: j.CancelRequested,
	}
	if j.Error != nil {
		e := *j.Error
		v.Error = &e
		v.CurrentStep = j.Error.Stage.StepName()
	}
	return v
}

// CreateJobRequest submits a video that is already stored.
type CreateJobRequest struct {
	SourceRef string
	SizeBytes int64
	Title     string
}

// CreateJob starts processing of a stored video and returns the new job.
func (s *Service) CreateJob(ctx context.Context, req CreateJobRequest) (entity.Job, error) {
	ref := strings.TrimSpace(req.SourceRef)
	if ref == "" {
		s.logger.Error("create job request missing source_ref")
		return entity.Job{}, status.Error(codes.InvalidArgument, "source_ref is required")
	}
	if req.SizeBytes < 0 {
		return entity.Job{}, status.Error(codes.InvalidArgument, "size_bytes must not be negative")
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = ingest.TitleFromFilename(ref)
	}

	job, err := s.orchestrator.Submit(ctx, ref, req.SizeBytes, title)
	if err != nil {
		s.logger.Error("failed to submit job", "source_ref", ref, "error", err)
		return entity.Job{}, err
	}
	s.logger.Info("job submitted", "job_id", job.ID, "source_ref", ref)
	return job, nil
}

// Upload stores an uploaded video and submits it.
func (s *Service) Upload(ctx context.Context, req ingest.UploadRequest) (ingest.UploadResult, error) {
	if s.uploader == nil {
		return ingest.UploadResult{}, status.Error(codes.Unimplemented, "uploads are disabled")
	}
	return s.uploader.Upload(ctx, req)
}

// GetStatus returns the latest committed status of a job.
func (s *Service) GetStatus(_ context.Context, jobID string) (entity.Status, error) {
	id, err := common.ParseUUID("job_id", jobID)
	if err != nil {
		return entity.Status{}, err
	}
	return s.registry.Status(id)
}

// GetVideo returns one job in the listing view.
func (s *Service) GetVideo(_ context.Context, jobID string) (Video, error) {
	id, err := common.ParseUUID("job_id", jobID)
	if err != nil {
		return Video{}, err
	}
	j, err := s.registry.Get(id)
	if err != nil {
		return Video{}, err
	}
	return VideoFromJob(j), nil
}

// ListJobs returns every job, newest first.
func (s *Service) ListJobs(_ context.Context) []entity.Job {
	return s.registry.List()
}

// ListVideos returns every job in the listing view, newest first.
func (s *Service) ListVideos(ctx context.Context) []Video {
	js := s.ListJobs(ctx)
	out := make([]Video, 0, len(js))
	for _, j := range js {
		out = append(out, VideoFromJob(j))
	}
	return out
}

// Cancel requests cancellation and returns the status at the time of the request.
func (s *Service) Cancel(ctx context.Context, jobID string) (entity.Status, error) {
	id, err := common.ParseUUID("job_id", jobID)
	if err != nil {
		return entity.Status{}, err
	}
	if err := s.orchestrator.Cancel(ctx, id); err != nil {
		s.logger.Warn("cancel rejected", "job_id", id, "error", err)
		return entity.Status{}, err
	}
	s.logger.Info("cancel requested", "job_id", id)
	return s.registry.Status(id)
}

// GetSegments returns the transcript windows of a job ordered by index.
// A job that has not been segmented yet has none.
func (s *Service) GetSegments(ctx context.Context, jobID string) ([]entity.Segment, error) {
	_, segs, err := s.jobSegments(ctx, jobID)
	return segs, err
}

// GetTranscript returns the segments with their time bounds.
func (s *Service) GetTranscript(ctx context.Context, jobID string) ([]export.TranscriptSegment, error) {
	j, segs, err := s.jobSegments(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return export.TranscriptSegments(segs, s.window, j.DurationSeconds), nil
}

func (s *Service) jobSegments(ctx context.Context, jobID string) (entity.Job, []entity.Segment, error) {
	id, err := common.ParseUUID("job_id", jobID)
	if err != nil {
		return entity.Job{}, nil, err
	}
	j, err := s.registry.Get(id)
	if err != nil {
		return entity.Job{}, nil, err
	}
	segs, err := s.store.GetSegments(ctx, id)
	if err != nil {
		s.logger.Error("failed to load segments", "job_id", id, "error", err)
		return entity.Job{}, nil, err
	}
	return j, segs, nil
}

// GetQuestions returns the questions of one segment.
func (s *Service) GetQuestions(ctx context.Context, segmentID string) ([]entity.Question, error) {
	id, err := common.ParseUUID("segment_id", segmentID)
	if err != nil {
		return nil, err
	}
	return s.store.GetQuestions(ctx, id)
}

// GetJobQuestions returns every question of a job grouped by segment.
func (s *Service) GetJobQuestions(ctx context.Context, jobID string) ([]entity.SegmentQuestions, error) {
	segs, err := s.GetSegments(ctx, jobID)
	if err != nil {
		return nil, err
	}
	out := make([]entity.SegmentQuestions, 0, len(segs))
	for _, seg := range segs {
		qs, err := s.store.GetQuestions(ctx, seg.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, entity.SegmentQuestions{SegmentID: seg.ID, Index: seg.Index, Questions: qs})
	}
	return out, nil
}

// EditQuestionRequest replaces the text and options of a question.
type EditQuestionRequest struct {
	QuestionID string
	Text       string
	Options    []entity.Option
}

// EditQuestion validates and applies an edit atomically. Edits are accepted
// once the owning job has stopped writing questions.
func (s *Service) EditQuestion(ctx context.Context, req EditQuestionRequest) (entity.Question, error) {
	id, err := common.ParseUUID("question_id", req.QuestionID)
	if err != nil {
		return entity.Question{}, err
	}

	text := strings.TrimSpace(req.Text)
	options := entity.NormalizeOptions(req.Options)
	v := common.NewValidator().Field("text", text, common.Required, common.MaxLength(constants.MaxQuestionTextLen))
	for i, o := range options {
		v.Field(fmt.Sprintf("options[%d].text", i), o.Text, common.Required, common.MaxLength(constants.MaxQuestionTextLen))
	}
	if err := v.Error(); err != nil {
		return entity.Question{}, err
	}
	if err := entity.ValidateContent(text, options); err != nil {
		return entity.Question{}, err
	}

	current, err := s.store.GetQuestion(ctx, id)
	if err != nil {
		return entity.Question{}, err
	}
	seg, err := s.store.GetSegment(ctx, current.SegmentID)
	if err != nil {
		return entity.Question{}, err
	}
	if j, err := s.registry.Get(seg.JobID); err == nil && !j.Stage.IsTerminal() {
		return entity.Question{}, fmt.Errorf("job %s is still %s: %w", j.ID, j.Stage, common.ErrNotReady)
	}

	q, err := s.store.EditQuestion(ctx, id, text, options)
	if err != nil {
		s.logger.Warn("question edit rejected", "question_id", id, "error", err)
		return entity.Question{}, err
	}
	s.logger.Info("question edited", "question_id", id, "segment_id", q.SegmentID)
	return q, nil
}

// Export renders a completed job as json or xlsx.
func (s *Service) Export(ctx context.Context, jobID, format string) ([]byte, string, error) {
	id, err := common.ParseUUID("job_id", jobID)
	if err != nil {
		return nil, "", err
	}
	return s.exporter.Export(ctx, id, format)
}

// Events exposes the job event bus for push subscribers.
func (s *Service) Events() *jobs.EventBus {
	return s.registry.Events()
}
