package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/lecture-quiz/internal/entity"
)

// Transcoder turns an uploaded file into a playable MP4.
type Transcoder interface {
	Transcode(ctx context.Context, jobID uuid.UUID, sourceRef string, progress func(percent int)) (entity.MediaRef, error)
}

// Transcriber turns playable media into text.
type Transcriber interface {
	Transcribe(ctx context.Context, jobID uuid.UUID, media entity.MediaRef, progress func(percent int)) (entity.Transcript, error)
}

// QuestionGenerator writes quiz questions for one segment.
type QuestionGenerator interface {
	GenerateQuestions(ctx context.Context, segment entity.Segment, count int) ([]entity.Question, error)
}

func NewTranscodeExecutor(t Transcoder) Executor[string, entity.MediaRef] {
	return ExecutorFunc[string, entity.MediaRef](func(ctx context.Context, jobID uuid.UUID, src string, report ProgressFunc) (entity.MediaRef, error) {
		return t.Transcode(ctx, jobID, src, report)
	})
}

func NewTranscribeExecutor(t Transcriber) Executor[entity.MediaRef, entity.Transcript] {
	return ExecutorFunc[entity.MediaRef, entity.Transcript](func(ctx context.Context, jobID uuid.UUID, media entity.MediaRef, report ProgressFunc) (entity.Transcript, error) {
		tr, err := t.Transcribe(ctx, jobID, media, report)
		if err != nil {
			return entity.Transcript{}, err
		}
		if tr.Duration <= 0 {
			tr.Duration = media.Duration
		}
		return tr, nil
	})
}

// NewGenerateExecutor wraps gen so every returned question is attached to
// the segment, carries ids and passes validation. A segment without text
// yields no questions.
func NewGenerateExecutor(gen QuestionGenerator, perSegment int) Executor[entity.Segment, []entity.Question] {
	return ExecutorFunc[entity.Segment, []entity.Question](func(ctx context.Context, jobID uuid.UUID, seg entity.Segment, report ProgressFunc) ([]entity.Question, error) {
		if strings.TrimSpace(seg.Text) == "" {
			return []entity.Question{}, nil
		}
		qs, err := gen.GenerateQuestions(ctx, seg, perSegment)
		if err != nil {
			return nil, err
		}
		out := make([]entity.Question, 0, len(qs))
		for i, q := range qs {
			if q.ID == uuid.Nil {
				q.ID = uuid.New()
			}
			q.SegmentID = seg.ID
			q.Text = strings.TrimSpace(q.Text)
			q.Options = entity.NormalizeOptions(q.Options)
			if err := q.Validate(); err != nil {
				return nil, &Failure{
					Kind:      KindInvalidOutput,
					Message:   fmt.Sprintf("generated question %d rejected", i),
					Retryable: true,
					Err:       err,
				}
			}
			out = append(out, q)
		}
		return out, nil
	})
}
