package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/lecture-quiz/internal/common"
	"github.com/joseph-ayodele/lecture-quiz/internal/entity"
)

// TranscriptRepository is the authoritative store of segments and questions.
// Stage writes are applied as one atomic batch; readers never observe a
// partially written batch or a half-applied edit.
type TranscriptRepository interface {
	// WriteSegments stores the job's segment batch. It fails with
	// common.ErrAlreadyWritten if the job already has segments.
	WriteSegments(ctx context.Context, jobID uuid.UUID, segments []entity.Segment) error
	// WriteQuestions replaces the question batch of one segment.
	WriteQuestions(ctx context.Context, segmentID uuid.UUID, questions []entity.Question) error
	// EditQuestion replaces a question's text and options, or fails with
	// common.ErrInvalidQuestion leaving it untouched.
	EditQuestion(ctx context.Context, questionID uuid.UUID, text string, options []entity.Option) (entity.Question, error)
	GetSegments(ctx context.Context, jobID uuid.UUID) ([]entity.Segment, error)
	GetSegment(ctx context.Context, segmentID uuid.UUID) (entity.Segment, error)
	GetQuestions(ctx context.Context, segmentID uuid.UUID) ([]entity.Question, error)
	GetQuestion(ctx context.Context, questionID uuid.UUID) (entity.Question, error)
}

// ValidateSegmentBatch checks a segment batch before it is committed:
// owned by jobID, indexed 0..N-1 in order, unique non-nil ids.
func ValidateSegmentBatch(jobID uuid.UUID, segments []entity.Segment) error {
	if len(segments) == 0 {
		return fmt.Errorf("%w: empty segment batch", common.ErrInvariantViolation)
	}
	ids := make(map[uuid.UUID]struct{}, len(segments))
	for i, s := range segments {
		if s.JobID != jobID {
			return fmt.Errorf("%w: segment %d belongs to job %s", common.ErrInvariantViolation, i, s.JobID)
		}
		if s.Index != i {
			return fmt.Errorf("%w: segment at position %d has index %d", common.ErrInvariantViolation, i, s.Index)
		}
		if s.ID == uuid.Nil {
			return fmt.Errorf("%w: segment %d has no id", common.ErrInvariantViolation, i)
		}
		if _, dup := ids[s.ID]; dup {
			return fmt.Errorf("%w: duplicate segment id %s", common.ErrInvariantViolation, s.ID)
		}
		ids[s.ID] = struct{}{}
	}
	return nil
}

// validateQuestionBatch checks every question of a segment batch.
func validateQuestionBatch(segmentID uuid.UUID, questions []entity.Question) error {
	ids := make(map[uuid.UUID]struct{}, len(questions))
	for i, q := range questions {
		if q.SegmentID != segmentID {
			return fmt.Errorf("%w: question %d belongs to segment %s", common.ErrInvariantViolation, i, q.SegmentID)
		}
		if q.ID == uuid.Nil {
			return fmt.Errorf("%w: question %d has no id", common.ErrInvariantViolation, i)
		}
		if _, dup := ids[q.ID]; dup {
			return fmt.Errorf("%w: duplicate question id %s", common.ErrInvariantViolation, q.ID)
		}
		ids[q.ID] = struct{}{}
		if err := q.Validate(); err != nil {
			return fmt.Errorf("question %d: %w", i, err)
		}
	}
	return nil
}

type memoryTranscriptRepo struct {
	mu sync.RWMutex

	segmentsByJob map[uuid.UUID][]entity.Segment
	segments      map[uuid.UUID]entity.Segment
	// questionsBySegment holds question ids in creation order.
	questionsBySegment map[uuid.UUID][]uuid.UUID
	questions          map[uuid.UUID]entity.Question

	now func() time.Time
}

// NewMemoryTranscriptRepository returns a process-local store. Its lifetime
// is the lifetime of the value; nothing is shared between instances.
func NewMemoryTranscriptRepository() TranscriptRepository {
	return &memoryTranscriptRepo{
		segmentsByJob:      make(map[uuid.UUID][]entity.Segment),
		segments:           make(map[uuid.UUID]entity.Segment),
		questionsBySegment: make(map[uuid.UUID][]uuid.UUID),
		questions:          make(map[uuid.UUID]entity.Question),
		now:                time.Now,
	}
}

func (r *memoryTranscriptRepo) WriteSegments(ctx context.Context, jobID uuid.UUID, segments []entity.Segment) error {
	if err := ValidateSegmentBatch(jobID, segments); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.segmentsByJob[jobID]; ok {
		return fmt.Errorf("segments for job %s: %w", jobID, common.ErrAlreadyWritten)
	}
	for _, s := range segments {
		if _, taken := r.segments[s.ID]; taken {
			return fmt.Errorf("%w: segment id %s already used", common.ErrInvariantViolation, s.ID)
		}
	}
	batch := append([]entity.Segment(nil), segments...)
	for _, s := range batch {
		r.segments[s.ID] = s
	}
	r.segmentsByJob[jobID] = batch
	return nil
}

func (r *memoryTranscriptRepo) WriteQuestions(ctx context.Context, segmentID uuid.UUID, questions []entity.Question) error {
	if err := validateQuestionBatch(segmentID, questions); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.segments[segmentID]; !ok {
		return common.NotFoundf("segment %s", segmentID)
	}
	for _, q := range questions {
		if existing, taken := r.questions[q.ID]; taken && existing.SegmentID != segmentID {
			return fmt.Errorf("%w: question id %s already used", common.ErrInvariantViolation, q.ID)
		}
	}

	for _, id := range r.questionsBySegment[segmentID] {
		delete(r.questions, id)
	}
	now := r.now().UTC()
	ids := make([]uuid.UUID, 0, len(questions))
	for _, q := range questions {
		q = q.Clone()
		if q.CreatedAt.IsZero() {
			q.CreatedAt = now
		}
		r.questions[q.ID] = q
		ids = append(ids, q.ID)
	}
	r.questionsBySegment[segmentID] = ids
	return nil
}

func (r *memoryTranscriptRepo) EditQuestion(ctx context.Context, questionID uuid.UUID, text string, options []entity.Option) (entity.Question, error) {
	if err := entity.ValidateContent(text, options); err != nil {
		return entity.Question{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.questions[questionID]
	if !ok {
		return entity.Question{}, common.NotFoundf("question %s", questionID)
	}
	q.Text = text
	q.Options = append([]entity.Option(nil), options...)
	r.questions[questionID] = q
	return q.Clone(), nil
}

func (r *memoryTranscriptRepo) GetSegments(ctx context.Context, jobID uuid.UUID) ([]entity.Segment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := append([]entity.Segment(nil), r.segmentsByJob[jobID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (r *memoryTranscriptRepo) GetSegment(ctx context.Context, segmentID uuid.UUID) (entity.Segment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.segments[segmentID]
	if !ok {
		return entity.Segment{}, common.NotFoundf("segment %s", segmentID)
	}
	return s, nil
}

func (r *memoryTranscriptRepo) GetQuestions(ctx context.Context, segmentID uuid.UUID) ([]entity.Question, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.segments[segmentID]; !ok {
		return nil, common.NotFoundf("segment %s", segmentID)
	}
	ids := r.questionsBySegment[segmentID]
	out := make([]entity.Question, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.questions[id].Clone())
	}
	return out, nil
}

func (r *memoryTranscriptRepo) GetQuestion(ctx context.Context, questionID uuid.UUID) (entity.Question, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q, ok := r.questions[questionID]
	if !ok {
		return entity.Question{}, common.NotFoundf("question %s", questionID)
	}
	return q.Clone(), nil
}
