package jobs

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/lecture-quiz/constants"
)

// EventType classifies messages emitted while a job moves through the pipeline.
type EventType string

const (
	EventTypeCreated  EventType = "created"
	EventTypeStage    EventType = "stage"
	EventTypeProgress EventType = "progress"
	EventTypeCancel   EventType = "cancel_requested"
	EventTypeError    EventType = "error"
)

// Event is a sequenced payload consumed by status subscribers.
type Event struct {
	Seq       int64           `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	JobID     uuid.UUID       `json:"jobId"`
	Type      EventType       `json:"type"`
	Stage     constants.Stage `json:"stage"`
	Progress  int             `json:"progress"`
	Message   string          `json:"message,omitempty"`
	Retryable bool            `json:"retryable,omitempty"`
}

// EventBus stores recent events and provides incremental reads.
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
}

// NewEventBus creates a bounded in-memory event buffer.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 1000
	}
	return &EventBus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
	}
}

// Publish appends one event and assigns sequence and timestamp.
func (b *EventBus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}
	return event
}

// Since returns events with sequence strictly greater than seq.
func (b *EventBus) Since(seq int64) []Event {
	return b.SinceFor(uuid.Nil, seq)
}

// SinceFor is Since restricted to one job; uuid.Nil matches every job.
func (b *EventBus) SinceFor(jobID uuid.UUID, seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}
	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq <= seq {
			continue
		}
		if jobID != uuid.Nil && event.JobID != jobID {
			continue
		}
		out = append(out, event)
	}
	return out
}

// LastSeq returns the sequence number of the newest event.
func (b *EventBus) LastSeq() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nextSeq
}
