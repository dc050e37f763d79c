package export

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/lecture-quiz/internal/entity"
)

// TranscriptSegment is one window of the transcript with its bounds in seconds.
type TranscriptSegment struct {
	ID        uuid.UUID `json:"id"`
	VideoID   uuid.UUID `json:"videoId"`
	Index     int       `json:"index"`
	StartTime float64   `json:"startTime"`
	EndTime   float64   `json:"endTime"`
	Text      string    `json:"text"`
}

// Document is the downloadable bundle of a processed lecture.
type Document struct {
	VideoID         uuid.UUID                 `json:"videoId"`
	Title           string                    `json:"title"`
	DurationSeconds float64                   `json:"durationSeconds"`
	Transcript      []TranscriptSegment       `json:"transcript"`
	Questions       []entity.SegmentQuestions `json:"questions"`
	ExportedAt      time.Time                 `json:"exportedAt"`
}

// QuestionCount returns the number of questions across all segments.
func (d Document) QuestionCount() int {
	n := 0
	for _, sq := range d.Questions {
		n += len(sq.Questions)
	}
	return n
}

// TranscriptSegments projects segments onto their time bounds. The last
// window ends at the media duration when it is known.
func TranscriptSegments(segments []entity.Segment, window time.Duration, durationSeconds float64) []TranscriptSegment {
	out := make([]TranscriptSegment, 0, len(segments))
	for _, seg := range segments {
		start, end := seg.Bounds(window)
		ts := TranscriptSegment{
			ID:        seg.ID,
			VideoID:   seg.JobID,
			Index:     seg.Index,
			StartTime: start.Seconds(),
			EndTime:   end.Seconds(),
			Text:      seg.Text,
		}
		if durationSeconds > 0 && ts.EndTime > durationSeconds && ts.StartTime < durationSeconds {
			ts.EndTime = durationSeconds
		}
		out = append(out, ts)
	}
	return out
}
