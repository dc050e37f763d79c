package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/lecture-quiz/internal/common"
	"github.com/joseph-ayodele/lecture-quiz/internal/entity"
)

// SegmentCount returns how many windows cover duration; at least one.
func SegmentCount(duration, window time.Duration) int {
	if duration <= 0 {
		return 1
	}
	return int((duration + window - 1) / window)
}

// SegmentTranscript cuts t into contiguous fixed windows indexed from 0.
// Timed spans go to the window their start falls in; without spans the
// words are spread over the windows in proportion to their position.
func SegmentTranscript(jobID uuid.UUID, t entity.Transcript, window time.Duration) ([]entity.Segment, error) {
	if window <= 0 {
		return nil, fmt.Errorf("%w: segment window must be positive", common.ErrInvariantViolation)
	}
	duration := t.Duration
	for _, s := range t.Spans {
		if s.End > duration {
			duration = s.End
		}
	}
	n := SegmentCount(duration, window)

	parts := make([][]string, n)
	if len(t.Spans) > 0 {
		for _, s := range t.Spans {
			text := strings.TrimSpace(s.Text)
			if text == "" {
				continue
			}
			idx := 0
			if s.Start > 0 {
				idx = int(s.Start / window)
			}
			if idx >= n {
				idx = n - 1
			}
			parts[idx] = append(parts[idx], text)
		}
	} else {
		words := strings.Fields(t.Text)
		for i, w := range words {
			idx := i * n / len(words)
			parts[idx] = append(parts[idx], w)
		}
	}

	segments := make([]entity.Segment, n)
	for i := range segments {
		segments[i] = entity.Segment{
			ID:    uuid.New(),
			JobID: jobID,
			Index: i,
			Text:  strings.Join(parts[i], " "),
		}
	}
	return segments, nil
}

// NewSegmentExecutor returns the Segment stage executor for a fixed window.
func NewSegmentExecutor(window time.Duration) Executor[entity.Transcript, []entity.Segment] {
	return ExecutorFunc[entity.Transcript, []entity.Segment](func(ctx context.Context, jobID uuid.UUID, t entity.Transcript, report ProgressFunc) ([]entity.Segment, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		segments, err := SegmentTranscript(jobID, t, window)
		if err != nil {
			return nil, Permanent("segmenting failed", err)
		}
		report(100)
		return segments, nil
	})
}
