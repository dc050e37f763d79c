package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/lecture-quiz/internal/common"
	"github.com/joseph-ayodele/lecture-quiz/internal/entity"
)

// optionIDs label choices the way quiz sheets do.
var optionIDs = []string{"a", "b", "c", "d", "e", "f", "g", "h"}

// Generator adapts a QuestionWriter to the pipeline's Generate stage.
type Generator struct {
	Writer             QuestionWriter
	Window             time.Duration
	OptionsPerQuestion int
	Logger             *slog.Logger
}

func NewGenerator(w QuestionWriter, window time.Duration, optionsPerQuestion int, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{Writer: w, Window: window, OptionsPerQuestion: optionsPerQuestion, Logger: logger}
}

// GenerateQuestions asks the model for count questions about seg.
func (g *Generator) GenerateQuestions(ctx context.Context, seg entity.Segment, count int) ([]entity.Question, error) {
	start, end := seg.Bounds(g.Window)
	req := QuestionRequest{
		SegmentText:        seg.Text,
		SegmentIndex:       seg.Index,
		SegmentStart:       clock(start),
		SegmentEnd:         clock(end),
		Count:              count,
		OptionsPerQuestion: g.OptionsPerQuestion,
	}
	set, _, err := g.Writer.WriteQuestions(ctx, req)
	if err != nil {
		return nil, err
	}
	qs, err := ToQuestions(set, seg.ID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if count > 0 && len(qs) > count {
		qs = qs[:count]
	}
	g.Logger.Debug("llm.questions.converted", "segment_id", seg.ID, "count", len(qs))
	return qs, nil
}

// ToQuestions converts a model answer into validated questions for one segment.
// An invalid question fails the whole set with a transient error so the
// stage asks again.
func ToQuestions(set QuestionSet, segmentID uuid.UUID, now time.Time) ([]entity.Question, error) {
	out := make([]entity.Question, 0, len(set.Questions))
	for i, gq := range set.Questions {
		if len(gq.Options) > len(optionIDs) {
			return nil, fmt.Errorf("question %d has %d options: %w", i, len(gq.Options), common.ErrTransient)
		}
		q := entity.Question{
			ID:        uuid.New(),
			SegmentID: segmentID,
			Text:      strings.TrimSpace(gq.Question),
			CreatedAt: now,
		}
		for j, o := range gq.Options {
			q.Options = append(q.Options, entity.Option{
				ID:        optionIDs[j],
				Text:      strings.TrimSpace(o.Text),
				IsCorrect: o.Correct,
			})
		}
		if err := q.Validate(); err != nil {
			return nil, fmt.Errorf("generated question %d: %v: %w", i, err, common.ErrTransient)
		}
		out = append(out, q)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("model returned no questions: %w", common.ErrTransient)
	}
	return out, nil
}

func clock(d time.Duration) string {
	total := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
