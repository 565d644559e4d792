// Package replica implements the per-replica worker: a bounded event
// queue, a single cooperative worker goroutine driving the
// Disconnected→Idle→Applying→Failed state machine, exponential-backoff
// reconnect, linear retry for transient errors, lag sampling, and
// health statistics.
package replica

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/flowbase/repl-engine/adapter"
	"github.com/flowbase/repl-engine/event"
	"github.com/flowbase/repl-engine/eventlog"
	"github.com/flowbase/repl-engine/metrics"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// EnqueueOutcome is the result of Manager.Enqueue.
type EnqueueOutcome int

const (
	Accepted EnqueueOutcome = iota
	QueueFull
	Disabled
	ShuttingDownOutcome
)

func (o EnqueueOutcome) String() string {
	switch o {
	case Accepted:
		return "Accepted"
	case QueueFull:
		return "QueueFull"
	case Disabled:
		return "Disabled"
	default:
		return "ShuttingDown"
	}
}

// AckOutcome is the result of Manager.AwaitAck.
type AckOutcome int

const (
	Acked AckOutcome = iota
	AckFailed
	AckTimedOut
)

// Options configures a Manager's retry, backoff, and queue behavior.
type Options struct {
	QueueCapacity    int
	AckTimeout       time.Duration
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	ReconnectFactor  float64
	MaxRetries       int
	RetryBase        time.Duration
}

// DefaultOptions returns conservative out-of-the-box defaults.
func DefaultOptions() Options {
	return Options{
		QueueCapacity:    10000,
		AckTimeout:       5 * time.Second,
		ReconnectInitial: 500 * time.Millisecond,
		ReconnectMax:     30 * time.Second,
		ReconnectFactor:  2,
		MaxRetries:       3,
		RetryBase:        1 * time.Second,
	}
}

// Manager owns one Adapter, its event queue, and the worker goroutine
// that applies events to it in order.
type Manager struct {
	Name     string
	ID       string
	Role     string // "PRIMARY" or "REPLICA"
	Priority int

	opts    Options
	adapter adapter.Adapter
	log     *eventlog.Log
	metrics *metrics.ReplicaMetrics
	logger  *log.Entry

	stats *Stats

	mu       sync.Mutex
	enabled  bool
	queue    chan event.Event
	reserved int // slots reserved but not yet pushed, for Reserve()

	waitersMu sync.Mutex
	waiters   map[int64][]chan AckOutcome

	shutdown   chan struct{}
	shutdownWG sync.WaitGroup
	started    bool
	stopOnce   sync.Once
}

// NewManager constructs a Manager. adapter and log must be non-nil;
// metricsHandle may be nil if metrics are not wired.
func NewManager(name string, role string, priority int, a adapter.Adapter, logg *eventlog.Log, opts Options, metricsHandle *metrics.ReplicaMetrics) *Manager {
	return &Manager{
		Name:     name,
		ID:       uuid.NewString(),
		Role:     role,
		Priority: priority,
		opts:     opts,
		adapter:  a,
		log:      logg,
		metrics:  metricsHandle,
		logger:   log.WithFields(log.Fields{"component": "replica", "replica": name}),
		stats:    newStats(),
		enabled:  true,
		queue:    make(chan event.Event, opts.QueueCapacity),
		waiters:  make(map[int64][]chan AckOutcome),
		shutdown: make(chan struct{}),
	}
}

// SetEnabled toggles whether new events are accepted; a disabled replica
// rejects Enqueue with Disabled, which is how a demoted ex-primary is
// taken out of the fan-out set after a promotion.
func (m *Manager) SetEnabled(v bool) {
	m.mu.Lock()
	m.enabled = v
	m.mu.Unlock()
}

func (m *Manager) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// SetRole updates the manager's recorded role, used by promotion to
// flip the old primary and the newly promoted replica.
func (m *Manager) SetRole(role string) {
	m.mu.Lock()
	m.Role = role
	m.mu.Unlock()
}

// Start launches the worker, which connects the adapter in the
// background and keeps retrying with backoff until it succeeds; Start
// itself always returns nil. Idempotent.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	m.shutdownWG.Add(1)
	go m.run(ctx)
	return nil
}

// Stop ceases accepting new events, drains the queue up to deadline,
// and disconnects the adapter. Events remaining after deadline are
// reported as dropped.
func (m *Manager) Stop(deadline time.Duration) {
	m.stopOnce.Do(func() {
		close(m.shutdown)
	})

	done := make(chan struct{})
	go func() {
		m.shutdownWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(deadline):
		remaining := int64(len(m.queue))
		if remaining > 0 {
			m.stats.recordDropped(remaining)
			if m.metrics != nil {
				m.metrics.IncDropped(int(remaining))
			}
			m.logger.Warnf("stop deadline exceeded, dropping %d queued events", remaining)
		}
	}

	_ = m.adapter.Disconnect(context.Background())
	m.stats.setConnected(false)
}

// Enqueue pushes an event onto the bounded FIFO. It never blocks the
// caller beyond a short non-blocking attempt.
func (m *Manager) Enqueue(e event.Event) EnqueueOutcome {
	select {
	case <-m.shutdown:
		return ShuttingDownOutcome
	default:
	}

	if !m.Enabled() {
		return Disabled
	}

	m.mu.Lock()
	if m.reserved > 0 {
		m.reserved--
		m.mu.Unlock()
		m.queue <- e // reservation guarantees room
		m.stats.setQueueDepth(len(m.queue))
		m.publishQueueMetric()
		return Accepted
	}
	m.mu.Unlock()

	select {
	case m.queue <- e:
		m.stats.setQueueDepth(len(m.queue))
		m.publishQueueMetric()
		return Accepted
	default:
		m.stats.recordDropped(1)
		m.publishDroppedMetric()
		return QueueFull
	}
}

// Reserve attempts to reserve n queue slots atomically for a pending
// transactional publish: a multi-statement transaction reserves queue
// capacity for all of its buffered events up front, so the publish
// itself cannot fail partway through with QueueFull. It succeeds only
// if n slots are currently free.
func (m *Manager) Reserve(n int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	free := cap(m.queue) - len(m.queue) - m.reserved
	if free < n {
		return false
	}
	m.reserved += n
	return true
}

// ReleaseReservation gives back slots reserved but never consumed
// (e.g. because a sibling replica's reservation failed and the whole
// transactional publish was aborted).
func (m *Manager) ReleaseReservation(n int) {
	m.mu.Lock()
	m.reserved -= n
	if m.reserved < 0 {
		m.reserved = 0
	}
	m.mu.Unlock()
}

// AwaitAck blocks until the worker reports it has applied at least
// eventID, the replica fails, or timeout elapses.
func (m *Manager) AwaitAck(eventID int64, timeout time.Duration) AckOutcome {
	if m.stats.lastAppliedEventIDSnapshot() >= eventID {
		return Acked
	}

	ch := make(chan AckOutcome, 1)
	m.waitersMu.Lock()
	m.waiters[eventID] = append(m.waiters[eventID], ch)
	m.waitersMu.Unlock()

	// Re-check after registering, in case the worker applied it between
	// our first check and registration.
	if m.stats.lastAppliedEventIDSnapshot() >= eventID {
		m.removeWaiter(eventID, ch)
		return Acked
	}

	select {
	case outcome := <-ch:
		return outcome
	case <-time.After(timeout):
		m.removeWaiter(eventID, ch)
		return AckTimedOut
	}
}

func (m *Manager) removeWaiter(eventID int64, target chan AckOutcome) {
	m.waitersMu.Lock()
	defer m.waitersMu.Unlock()
	list := m.waiters[eventID]
	for i, ch := range list {
		if ch == target {
			m.waiters[eventID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(m.waiters[eventID]) == 0 {
		delete(m.waiters, eventID)
	}
}

func (m *Manager) notifyWaiters(upTo int64, outcome AckOutcome) {
	m.waitersMu.Lock()
	defer m.waitersMu.Unlock()
	for id, list := range m.waiters {
		if id > upTo && outcome == Acked {
			continue
		}
		for _, ch := range list {
			select {
			case ch <- outcome:
			default:
			}
		}
		delete(m.waiters, id)
	}
}

// Stats returns a consistent snapshot of the replica's health and
// throughput.
func (m *Manager) Stats() Snapshot {
	return m.stats.Snapshot(time.Now())
}

func (m *Manager) QueueCapacity() int { return cap(m.queue) }

// Adapter exposes the underlying Adapter, for callers that need direct
// read access (e.g. the coordinator routing reads to the primary).
func (m *Manager) Adapter() adapter.Adapter { return m.adapter }

func (m *Manager) publishQueueMetric() {
	if m.metrics != nil {
		m.metrics.SetQueueDepth(len(m.queue))
	}
}

func (m *Manager) publishDroppedMetric() {
	if m.metrics != nil {
		m.metrics.IncDropped(1)
	}
}

// run is the worker loop implementing the Manager's state machine.
func (m *Manager) run(ctx context.Context) {
	defer m.shutdownWG.Done()

	state := StateDisconnected
	m.stats.setWorkerState(state)
	backoff := m.opts.ReconnectInitial

	for {
		switch state {
		case StateDisconnected:
			if m.shuttingDown() {
				return
			}
			if err := m.adapter.Connect(ctx); err == nil {
				if perr := m.adapter.Ping(ctx); perr == nil {
					m.stats.setConnected(true)
					backoff = m.opts.ReconnectInitial
					state = StateIdle
					m.stats.setWorkerState(state)
					continue
				}
			}
			m.stats.recordReconnect()
			if m.metrics != nil {
				m.metrics.IncReconnect()
			}
			if m.sleepOrShutdown(jitter(backoff)) {
				return
			}
			backoff = nextBackoff(backoff, m.opts.ReconnectFactor, m.opts.ReconnectMax)

		case StateIdle:
			select {
			case e := <-m.queue:
				m.stats.setQueueDepth(len(m.queue))
				m.publishQueueMetric()
				state = StateApplying
				m.stats.setWorkerState(state)
				state = m.apply(ctx, e)
				m.stats.setWorkerState(state)
			case <-m.shutdown:
				state = m.drain(ctx)
				m.stats.setWorkerState(state)
				return
			}

		case StateFailed:
			state = StateDisconnected
			m.stats.setConnected(false)
			m.stats.setWorkerState(state)

		case StateShuttingDown:
			return
		}
	}
}

func (m *Manager) shuttingDown() bool {
	select {
	case <-m.shutdown:
		return true
	default:
		return false
	}
}

func (m *Manager) sleepOrShutdown(d time.Duration) bool {
	select {
	case <-time.After(d):
		return false
	case <-m.shutdown:
		return true
	}
}

// apply drives one event through the retry policy and returns the next
// state: Idle on success, Idle for a non-retryable error, Disconnected
// once a transient ConnectionLost survives MaxRetries retries, or
// ShuttingDown if the manager is stopped during a retry backoff. Both
// transient kinds, Timeout and ConnectionLost, get the same
// attempts/sleep/retry treatment; they differ only in what happens once
// retries are exhausted, since a ConnectionLost that still hasn't
// cleared after MaxRetries means the worker needs to go through
// reconnect, not just mark this one event failed and keep going.
func (m *Manager) apply(ctx context.Context, e event.Event) WorkerState {
	retryBase := m.opts.RetryBase
	attempts := 0

	for {
		_, err := m.adapter.Execute(ctx, e.Statement, e.Parameters)
		if err == nil {
			m.stats.recordApplied(e.ID, e.WallTime, time.Now())
			m.notifyWaiters(e.ID, Acked)
			if m.metrics != nil {
				m.metrics.IncProcessed()
				m.metrics.ObserveLag(time.Since(e.WallTime).Seconds())
			}
			return StateIdle
		}

		kind := classify(err)
		m.logger.WithError(err).WithField("event_id", e.ID).Warn("apply failed")

		if !retryable(kind) {
			m.stats.recordFailed()
			m.notifyWaiters(e.ID, AckFailed)
			if m.metrics != nil {
				m.metrics.IncFailed()
			}
			return StateIdle
		}

		if attempts >= m.opts.MaxRetries {
			m.stats.recordFailed()
			m.notifyWaiters(e.ID, AckFailed)
			if m.metrics != nil {
				m.metrics.IncFailed()
			}
			if kind == "ConnectionLost" {
				m.stats.setConnected(false)
				return StateDisconnected
			}
			return StateIdle
		}

		attempts++
		if m.sleepOrShutdown(time.Duration(attempts) * retryBase) {
			return StateShuttingDown
		}
	}
}

// drain applies the remaining queued events in order, up to the
// shutdown deadline governed by the caller's Stop(deadline); it is only
// reached via the shutdown channel closing while Idle, so it returns
// promptly once the queue empties or Stop's own timer fires and closes
// the manager from outside.
func (m *Manager) drain(ctx context.Context) WorkerState {
	for {
		select {
		case e, ok := <-m.queue:
			if !ok {
				return StateShuttingDown
			}
			m.stats.setQueueDepth(len(m.queue))
			_ = m.apply(ctx, e)
		default:
			return StateShuttingDown
		}
	}
}

func nextBackoff(cur time.Duration, factor float64, max time.Duration) time.Duration {
	next := time.Duration(float64(cur) * factor)
	if next > max {
		next = max
	}
	return next
}

func jitter(d time.Duration) time.Duration {
	delta := float64(d) * 0.2
	offset := (rand.Float64()*2 - 1) * delta
	result := time.Duration(float64(d) + offset)
	if result < 0 {
		result = 0
	}
	return result
}

func classify(err error) string {
	var aerr *adapter.Error
	if e, ok := err.(*adapter.Error); ok {
		aerr = e
	} else if e, ok := asAdapterError(err); ok {
		aerr = e
	}
	if aerr == nil {
		return "Other"
	}
	return aerr.Kind.String()
}

func asAdapterError(err error) (*adapter.Error, bool) {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if e, ok := err.(*adapter.Error); ok {
			return e, true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

func retryable(kind string) bool {
	return kind == "ConnectionLost" || kind == "Timeout"
}
