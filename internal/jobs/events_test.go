package jobs

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBusSequenceAndTrim(t *testing.T) {
	bus := NewEventBus(3)
	id := uuid.New()
	for i := 0; i < 5; i++ {
		bus.Publish(Event{JobID: id, Type: EventTypeProgress, Progress: i})
	}

	events := bus.Since(0)
	require.Len(t, events, 3)
	assert.Equal(t, int64(3), events[0].Seq)
	assert.Equal(t, int64(5), events[2].Seq)
	assert.False(t, events[0].Timestamp.IsZero())

	assert.Len(t, bus.Since(4), 1)
	assert.Empty(t, bus.Since(5))
	assert.Equal(t, int64(5), bus.LastSeq())
}
