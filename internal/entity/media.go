package entity

import "time"

// MediaRef points at a playable transcoded file.
type MediaRef struct {
	Path     string        `json:"path"`
	Duration time.Duration `json:"duration"`
}

// Span is a timed piece of recognized speech.
type Span struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
	Text  string        `json:"text"`
}

// Transcript is the full speech-to-text result of one job.
type Transcript struct {
	Text     string        `json:"text"`
	Duration time.Duration `json:"duration"`
	Language string        `json:"language,omitempty"`
	Spans    []Span        `json:"spans,omitempty"`
}
