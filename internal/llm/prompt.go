package llm

import (
	"fmt"
	"strings"
)

// maxSegmentChars keeps one segment comfortably inside the context window.
const maxSegmentChars = 12000

// BuildSystemPrompt composes the system message: role, output rules and question-quality rubric.
func BuildSystemPrompt(req QuestionRequest) string {
	count := req.Count
	if count <= 0 {
		count = 3
	}
	opts := req.OptionsPerQuestion
	if opts <= 0 {
		opts = 4
	}

	parts := []string{
		"You write multiple-choice quiz questions for university lecture videos. Return ONLY JSON that matches the provided JSON Schema.",
		fmt.Sprintf("Write exactly %d questions about the transcript excerpt. Each question has exactly %d options and exactly one option with \"correct\": true.", count, opts),
		"Ask about concepts, definitions, causes and consequences actually stated in the excerpt; never about the speaker, the recording or timestamps.",
		"Distractors must be plausible for a student who skimmed the material, similar in length and style to the correct answer, and clearly wrong on reflection.",
		"Do not use 'all of the above' or 'none of the above'. Do not repeat a question.",
		"Keep each question under 40 words and each option under 20 words.",
		"Never output null. Omit 'explanation' unless it adds something.",
	}
	if t := strings.TrimSpace(req.LectureTitle); t != "" {
		parts = append(parts, "Lecture title: "+t+".")
	}
	return strings.Join(parts, " ")
}

// BuildUserPrompt packages the segment transcript with its position in the lecture.
func BuildUserPrompt(req QuestionRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Segment %d", req.SegmentIndex+1)
	if req.SegmentStart != "" && req.SegmentEnd != "" {
		fmt.Fprintf(&b, " (%s-%s)", req.SegmentStart, req.SegmentEnd)
	}
	b.WriteString(" transcript:\n")

	text := strings.TrimSpace(req.SegmentText)
	if len(text) > maxSegmentChars {
		b.WriteString(text[:maxSegmentChars])
		b.WriteString("\n…(truncated)")
	} else {
		b.WriteString(text)
	}
	return b.String()
}
