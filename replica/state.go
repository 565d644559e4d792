package replica

import (
	"sync"
	"time"
)

// WorkerState enumerates the Replica Manager's worker state machine.
type WorkerState int

const (
	StateDisconnected WorkerState = iota
	StateIdle
	StateApplying
	StateFailed
	StateShuttingDown
)

func (s WorkerState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateIdle:
		return "Idle"
	case StateApplying:
		return "Applying"
	case StateFailed:
		return "Failed"
	case StateShuttingDown:
		return "ShuttingDown"
	default:
		return "Unknown"
	}
}

const lagWindow = 100

// Stats is the mutable, worker-owned health and throughput record for
// one replica. Snapshot() returns a consistent copy safe to read
// concurrently with the worker's updates.
type Stats struct {
	mu sync.Mutex

	connected           bool
	workerState         WorkerState
	queueDepth          int
	lastAppliedEventID  int64
	lastAppliedWallTime time.Time
	eventsProcessed     int64
	eventsFailed        int64
	eventsDropped       int64
	reconnectCount      int64
	degraded            bool
	lagSamples          []float64// seconds, most recent lagWindow samples
}

func newStats() *Stats {
	return &Stats{workerState: StateDisconnected}
}

func (s *Stats) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

func (s *Stats) setWorkerState(v WorkerState) {
	s.mu.Lock()
	s.workerState = v
	s.mu.Unlock()
}

func (s *Stats) setQueueDepth(n int) {
	s.mu.Lock()
	s.queueDepth = n
	s.mu.Unlock()
}

func (s *Stats) recordApplied(eventID int64, eventWallTime time.Time, appliedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if eventID > s.lastAppliedEventID {
		s.lastAppliedEventID = eventID
		s.lastAppliedWallTime = eventWallTime
	}
	s.eventsProcessed++
	lag := appliedAt.Sub(eventWallTime).Seconds()
	if lag < 0 {
		lag = -lag
	}
	s.lagSamples = append(s.lagSamples, lag)
	if len(s.lagSamples) > lagWindow {
		s.lagSamples = s.lagSamples[len(s.lagSamples)-lagWindow:]
	}
}

func (s *Stats) recordFailed() {
	s.mu.Lock()
	s.eventsFailed++
	s.mu.Unlock()
}

func (s *Stats) recordDropped(n int64) {
	s.mu.Lock()
	s.eventsDropped += n
	s.degraded = true
	s.mu.Unlock()
}

func (s *Stats) recordReconnect() {
	s.mu.Lock()
	s.reconnectCount++
	s.mu.Unlock()
}

func (s *Stats) markDegraded() {
	s.mu.Lock()
	s.degraded = true
	s.mu.Unlock()
}

func (s *Stats) lastAppliedEventIDSnapshot() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAppliedEventID
}

// Snapshot is an immutable point-in-time copy of Stats for status
// reporting.
type Snapshot struct {
	Connected           bool
	WorkerState         WorkerState
	QueueDepth          int
	LastAppliedEventID  int64
	LastAppliedWallTime time.Time
	EventsProcessed     int64
	EventsFailed        int64
	EventsDropped       int64
	ReconnectCount      int64
	Degraded            bool
	LagSeconds          float64
	AverageLagMS        float64
}

func (s *Stats) Snapshot(now time.Time) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	var avg float64
	if len(s.lagSamples) > 0 {
		var sum float64
		for _, v := range s.lagSamples {
			sum += v
		}
		avg = sum / float64(len(s.lagSamples))
	}

	lag := now.Sub(s.lastAppliedWallTime).Seconds()
	if s.lastAppliedWallTime.IsZero() {
		lag = 0
	}
	if lag < 0 {
		lag = -lag
	}

	return Snapshot{
		Connected:           s.connected,
		WorkerState:         s.workerState,
		QueueDepth:          s.queueDepth,
		LastAppliedEventID:  s.lastAppliedEventID,
		LastAppliedWallTime: s.lastAppliedWallTime,
		EventsProcessed:     s.eventsProcessed,
		EventsFailed:        s.eventsFailed,
		EventsDropped:       s.eventsDropped,
		ReconnectCount:      s.reconnectCount,
		Degraded:            s.degraded,
		LagSeconds:          lag,
		AverageLagMS:        avg * 1000,
	}
}
