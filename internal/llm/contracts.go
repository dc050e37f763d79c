package llm

import "context"

// QuestionRequest is everything the model sees for one transcript segment.
type QuestionRequest struct {
	SegmentText        string
	SegmentIndex       int
	SegmentStart       string // "mm:ss"
	SegmentEnd         string
	LectureTitle       string
	Count              int
	OptionsPerQuestion int
}

// GeneratedOption is one answer choice as the model returns it.
type GeneratedOption struct {
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// GeneratedQuestion is a question as the model returns it.
type GeneratedQuestion struct {
	Question    string            `json:"question"`
	Options     []GeneratedOption `json:"options"`
	Explanation string            `json:"explanation,omitempty"`
}

// QuestionSet is the JSON document we ask the model for.
type QuestionSet struct {
	Questions []GeneratedQuestion `json:"questions"`
}

// QuestionWriter is the interface our pipeline depends on.
type QuestionWriter interface {
	WriteQuestions(ctx context.Context, req QuestionRequest) (QuestionSet, []byte /*rawJSON*/, error)
}
