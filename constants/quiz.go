package constants

import "time"

const (
	// SegmentWindowDefault is the transcript window length.
	SegmentWindowDefault = 5 * time.Minute
	// QuestionsPerSegmentDefault is how many questions are requested per segment.
	QuestionsPerSegmentDefault = 3
	// OptionsPerQuestion is the canonical option count of a generated question.
	OptionsPerQuestion = 4
	// MaxQuestionTextLen bounds question and option text accepted on edit.
	MaxQuestionTextLen = 2000
)
