package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/lecture-quiz/internal/common"
)

// Option is one answer choice of a question.
type Option struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"isCorrect"`
}

// Question is a multiple-choice question attached to a segment.
type Question struct {
	ID        uuid.UUID `json:"id"`
	SegmentID uuid.UUID `json:"segmentId"`
	Text      string    `json:"text"`
	Options   []Option  `json:"options"`
	CreatedAt time.Time `json:"createdAt"`
}

// Validate enforces the question invariants: non-blank text, at least one
// option, unique non-empty option ids and exactly one correct option.
// Violations wrap common.ErrInvalidQuestion.
func (q Question) Validate() error {
	return ValidateContent(q.Text, q.Options)
}

// ValidateContent checks the editable part of a question.
func ValidateContent(text string, options []Option) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: text is empty", common.ErrInvalidQuestion)
	}
	if len(options) == 0 {
		return fmt.Errorf("%w: no options", common.ErrInvalidQuestion)
	}
	seen := make(map[string]struct{}, len(options))
	correct := 0
	for i, o := range options {
		if strings.TrimSpace(o.ID) == "" {
			return fmt.Errorf("%w: option %d has no id", common.ErrInvalidQuestion, i)
		}
		if _, dup := seen[o.ID]; dup {
			return fmt.Errorf("%w: duplicate option id %q", common.ErrInvalidQuestion, o.ID)
		}
		seen[o.ID] = struct{}{}
		if o.IsCorrect {
			correct++
		}
	}
	if correct != 1 {
		return fmt.Errorf("%w: %d options marked correct, want exactly 1", common.ErrInvalidQuestion, correct)
	}
	return nil
}

// Clone returns a copy that shares no slice memory with q.
func (q Question) Clone() Question {
	q.Options = append([]Option(nil), q.Options...)
	return q
}

// CorrectOption returns the single correct option.
func (q Question) CorrectOption() (Option, bool) {
	for _, o := range q.Options {
		if o.IsCorrect {
			return o, true
		}
	}
	return Option{}, false
}

// SegmentQuestions groups a segment's questions for per-video listings.
type SegmentQuestions struct {
	SegmentID uuid.UUID  `json:"segmentId"`
	Index     int        `json:"index"`
	Questions []Question `json:"questions"`
}

// NormalizeOptions trims option text and assigns ids to options that have
// none, so clients may add choices while editing. The input is not modified.
func NormalizeOptions(options []Option) []Option {
	out := make([]Option, len(options))
	for i, o := range options {
		o.ID = strings.TrimSpace(o.ID)
		if o.ID == "" {
			o.ID = uuid.NewString()
		}
		o.Text = strings.TrimSpace(o.Text)
		out[i] = o
	}
	return out
}
