package eventlog

import (
	"testing"
	"time"

	"github.com/flowbase/repl-engine/event"
	"github.com/stretchr/testify/assert"
)

func evt(id int64, wallTime time.Time) event.Event {
	return event.Event{ID: id, WallTime: wallTime, Statement: "SELECT 1"}
}

func TestAppendAndIterSince(t *testing.T) {
	l := New(0, 0)
	base := time.Now()
	for i := int64(1); i <= 5; i++ {
		l.Append(evt(i, base))
	}

	events, ok := l.IterSince(2)
	assert.True(t, ok)
	assert.Len(t, events, 3)
	assert.Equal(t, int64(3), events[0].ID)
}

func TestTrimBySize(t *testing.T) {
	l := New(3, 0)
	base := time.Now()
	for i := int64(1); i <= 5; i++ {
		l.Append(evt(i, base))
	}
	assert.Equal(t, 3, l.Len())
	oldest, ok := l.OldestID()
	assert.True(t, ok)
	assert.Equal(t, int64(3), oldest)
}

func TestTrimByAge(t *testing.T) {
	l := New(0, 100*time.Millisecond)
	now := time.Now()
	l.now = func() time.Time { return now }

	l.Append(evt(1, now.Add(-time.Second)))
	l.Append(evt(2, now))

	assert.Equal(t, 1, l.Len())
	oldest, ok := l.OldestID()
	assert.True(t, ok)
	assert.Equal(t, int64(2), oldest)
}

func TestIterSinceDetectsUnrecoverableGap(t *testing.T) {
	l := New(3, 0)
	base := time.Now()
	for i := int64(1); i <= 5; i++ {
		l.Append(evt(i, base))
	}
	// Oldest retained is 3; asking since 1 means events 2 were trimmed.
	_, ok := l.IterSince(1)
	assert.False(t, ok)
}

func TestIterSinceEmptyLogIsNotAGap(t *testing.T) {
	l := New(0, 0)
	events, ok := l.IterSince(10)
	assert.True(t, ok)
	assert.Empty(t, events)
}

func TestTrimTo(t *testing.T) {
	l := New(0, 0)
	base := time.Now()
	for i := int64(1); i <= 5; i++ {
		l.Append(evt(i, base))
	}
	l.TrimTo(3)
	oldest, ok := l.OldestID()
	assert.True(t, ok)
	assert.Equal(t, int64(4), oldest)
}
