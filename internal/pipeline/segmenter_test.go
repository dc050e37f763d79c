package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/lecture-quiz/internal/common"
	"github.com/joseph-ayodele/lecture-quiz/internal/entity"
)

func TestSegmentCount(t *testing.T) {
	window := 5 * time.Minute
	cases := []struct {
		duration time.Duration
		want     int
	}{
		{35 * time.Minute, 7},
		{35*time.Minute + time.Second, 8},
		{time.Second, 1},
		{0, 1},
		{5 * time.Minute, 1},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, SegmentCount(tc.duration, window), tc.duration.String())
	}
}

func TestSegmentTranscriptBySpans(t *testing.T) {
	jobID := uuid.New()
	tr := entity.Transcript{
		Duration: 12 * time.Minute,
		Spans: []entity.Span{
			{Start: 0, End: time.Minute, Text: "intro"},
			{Start: 4*time.Minute + 50*time.Second, End: 5*time.Minute + 10*time.Second, Text: "crosses boundary"},
			{Start: 7 * time.Minute, End: 8 * time.Minute, Text: "middle"},
			{Start: 11 * time.Minute, End: 12 * time.Minute, Text: "end"},
		},
	}
	segs, err := SegmentTranscript(jobID, tr, 5*time.Minute)
	require.NoError(t, err)
	require.Len(t, segs, 3)

	assert.Equal(t, "intro crosses boundary", segs[0].Text)
	assert.Equal(t, "middle", segs[1].Text)
	assert.Equal(t, "end", segs[2].Text)
	for i, s := range segs {
		assert.Equal(t, i, s.Index)
		assert.Equal(t, jobID, s.JobID)
		assert.NotEqual(t, uuid.Nil, s.ID)
	}
	start, end := segs[2].Bounds(5 * time.Minute)
	assert.Equal(t, 10*time.Minute, start)
	assert.Equal(t, 15*time.Minute, end)
}

func TestSegmentTranscriptWithoutSpans(t *testing.T) {
	words := make([]string, 70)
	for i := range words {
		words[i] = "w"
	}
	tr := entity.Transcript{Text: strings.Join(words, " "), Duration: 35 * time.Minute}
	segs, err := SegmentTranscript(uuid.New(), tr, 5*time.Minute)
	require.NoError(t, err)
	require.Len(t, segs, 7)
	for _, s := range segs {
		assert.Len(t, strings.Fields(s.Text), 10)
	}
}

func TestSegmentTranscriptUsesSpanEndWhenLonger(t *testing.T) {
	tr := entity.Transcript{
		Duration: 4 * time.Minute,
		Spans:    []entity.Span{{Start: 6 * time.Minute, End: 7 * time.Minute, Text: "late"}},
	}
	segs, err := SegmentTranscript(uuid.New(), tr, 5*time.Minute)
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, "late", segs[1].Text)
}

func TestSegmentTranscriptRejectsBadWindow(t *testing.T) {
	_, err := SegmentTranscript(uuid.New(), entity.Transcript{}, 0)
	assert.ErrorIs(t, err, common.ErrInvariantViolation)
}

func TestSegmentExecutorReportsProgress(t *testing.T) {
	var got []int
	exec := NewSegmentExecutor(5 * time.Minute)
	segs, err := exec.Run(context.Background(), uuid.New(), entity.Transcript{Text: "a b", Duration: time.Minute}, func(p int) { got = append(got, p) })
	require.NoError(t, err)
	assert.Len(t, segs, 1)
	assert.Equal(t, []int{100}, got)
}
