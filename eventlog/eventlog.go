// Package eventlog implements the bounded, append-only in-memory replay
// buffer. Promotion replays its tail to the promoted replica; a replica
// worker that reconnects does not read from it and relies on its own
// queue. It is explicitly a best-effort buffer, not a write-ahead log:
// once an event is trimmed it is gone for good.
package eventlog

import (
	"sync"
	"time"

	"github.com/flowbase/repl-engine/event"
)

// Log is a thread-safe, bounded ring of ReplicationEvents ordered by
// event id.
type Log struct {
	mu       sync.RWMutex
	events   []event.Event
	maxSize  int
	maxAge   time.Duration
	now      func() time.Time
}

// New builds a Log retaining at most maxSize events, trimming anything
// older than maxAge on every Append. maxSize <= 0 means unbounded by
// count; maxAge <= 0 means unbounded by age.
func New(maxSize int, maxAge time.Duration) *Log {
	return &Log{
		events:  make([]event.Event, 0, clampCap(maxSize)),
		maxSize: maxSize,
		maxAge:  maxAge,
		now:     time.Now,
	}
}

func clampCap(n int) int {
	if n <= 0 || n > 4096 {
		return 256
	}
	return n
}

// Append adds an event to the tail of the log. O(1) amortized.
func (l *Log) Append(e event.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, e)
	l.trimLocked()
}

// trimLocked drops events past maxSize or maxAge. Oldest trimmed first.
func (l *Log) trimLocked() {
	if l.maxSize > 0 && len(l.events) > l.maxSize {
		drop := len(l.events) - l.maxSize
		l.events = l.events[drop:]
	}
	if l.maxAge > 0 && len(l.events) > 0 {
		cutoff := l.now().Add(-l.maxAge)
		idx := 0
		for idx < len(l.events) && l.events[idx].WallTime.Before(cutoff) {
			idx++
		}
		if idx > 0 {
			l.events = l.events[idx:]
		}
	}
}

// TrimTo discards every event with ID <= minEventID. O(k) in the number
// of events discarded. Nothing in the engine calls it when replicas
// acknowledge; retention otherwise rests on the size and age limits
// applied by Append.
func (l *Log) TrimTo(minEventID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := 0
	for idx < len(l.events) && l.events[idx].ID <= minEventID {
		idx++
	}
	if idx > 0 {
		l.events = l.events[idx:]
	}
}

// OldestID returns the lowest event id currently retained, and whether
// the log is non-empty.
func (l *Log) OldestID() (int64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.events) == 0 {
		return 0, false
	}
	return l.events[0].ID, true
}

// IterSince returns every retained event with ID > sinceEventID, in
// order. If sinceEventID is older than the oldest retained event (and
// the log is non-empty, i.e. there really is a gap), ok is false: the
// caller has an unrecoverable gap and must report it.
func (l *Log) IterSince(sinceEventID int64) (events []event.Event, ok bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.events) == 0 {
		// Nothing retained at all; caller has nothing to replay. This is
		// only a gap if sinceEventID is behind what the coordinator has
		// already produced, which the caller is responsible for knowing.
		return nil, true
	}
	oldest := l.events[0].ID
	if sinceEventID < oldest-1 {
		return nil, false
	}

	out := make([]event.Event, 0, len(l.events))
	for _, e := range l.events {
		if e.ID > sinceEventID {
			out = append(out, e)
		}
	}
	return out, true
}

// Len reports the number of events currently retained.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}
