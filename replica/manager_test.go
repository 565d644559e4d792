package replica

import (
	"context"
	"testing"
	"time"

	"github.com/flowbase/repl-engine/adapter"
	"github.com/flowbase/repl-engine/event"
	"github.com/flowbase/repl-engine/eventlog"
	"github.com/flowbase/repl-engine/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	return Options{
		QueueCapacity:    4,
		AckTimeout:       500 * time.Millisecond,
		ReconnectInitial: 10 * time.Millisecond,
		ReconnectMax:     40 * time.Millisecond,
		ReconnectFactor:  2,
		MaxRetries:       2,
		RetryBase:        5 * time.Millisecond,
	}
}

func newTestManager(t *testing.T, opts Options) (*Manager, *adapter.MemoryAdapter) {
	t.Helper()
	a := adapter.NewMemoryAdapter()
	log := eventlog.New(0, 0)
	mgr := NewManager("replica-1", "REPLICA", 1, a, log, opts, nil)
	return mgr, a
}

func TestEnqueueAppliesInOrderAndAcks(t *testing.T) {
	mgr, _ := newTestManager(t, testOptions())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, mgr.Start(ctx))
	defer mgr.Stop(time.Second)

	g := event.NewIDGenerator()
	b := event.NewBuilder(g, "primary")
	e1 := b.NewFromStatement("INSERT INTO t(k,v) VALUES(?, ?)", []value.Value{value.Int(1), value.Text("a")})
	e2 := b.NewFromStatement("INSERT INTO t(k,v) VALUES(?, ?)", []value.Value{value.Int(2), value.Text("b")})

	assert.Equal(t, Accepted, mgr.Enqueue(e1))
	assert.Equal(t, Accepted, mgr.Enqueue(e2))

	outcome := mgr.AwaitAck(e2.ID, time.Second)
	assert.Equal(t, Acked, outcome)
	assert.Equal(t, e2.ID, mgr.Stats().LastAppliedEventID)
}

func TestQueueFullMarksDegraded(t *testing.T) {
	opts := testOptions()
	opts.QueueCapacity = 1
	mgr, a := newTestManager(t, opts)

	block := make(chan struct{})
	a.SetDelayHook(func(op, stmt string) {
		if op == "execute" {
			<-block
		}
	})
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, mgr.Start(ctx))
	defer mgr.Stop(50 * time.Millisecond)

	g := event.NewIDGenerator()
	b := event.NewBuilder(g, "primary")

	// First event is picked up by the worker and blocks inside Execute.
	first := b.NewFromStatement("INSERT INTO t(k,v) VALUES(?, ?)", nil)
	assert.Equal(t, Accepted, mgr.Enqueue(first))
	time.Sleep(20 * time.Millisecond) // let the worker pick it up

	// Queue capacity 1: one more fits, the next is dropped.
	second := b.NewFromStatement("INSERT INTO t(k,v) VALUES(?, ?)", nil)
	third := b.NewFromStatement("INSERT INTO t(k,v) VALUES(?, ?)", nil)
	assert.Equal(t, Accepted, mgr.Enqueue(second))
	assert.Equal(t, QueueFull, mgr.Enqueue(third))

	stats := mgr.Stats()
	assert.True(t, stats.Degraded)
	assert.Equal(t, int64(1), stats.EventsDropped)
}

func TestReserveAndReleaseReservation(t *testing.T) {
	opts := testOptions()
	opts.QueueCapacity = 2
	mgr, _ := newTestManager(t, opts)

	assert.True(t, mgr.Reserve(2))
	assert.False(t, mgr.Reserve(1)) // no free slots left

	mgr.ReleaseReservation(2)
	assert.True(t, mgr.Reserve(2))
}

func TestAwaitAckTimesOutWhenDisabled(t *testing.T) {
	mgr, _ := newTestManager(t, testOptions())
	mgr.SetEnabled(false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, mgr.Start(ctx))
	defer mgr.Stop(50 * time.Millisecond)

	g := event.NewIDGenerator()
	b := event.NewBuilder(g, "primary")
	e := b.NewFromStatement("INSERT INTO t(k,v) VALUES(?, ?)", nil)

	assert.Equal(t, Disabled, mgr.Enqueue(e))
	outcome := mgr.AwaitAck(e.ID, 50*time.Millisecond)
	assert.Equal(t, AckTimedOut, outcome)
}

func TestConnectionLostDuringApplyIsRetriedBeforeFailing(t *testing.T) {
	opts := testOptions()
	opts.MaxRetries = 2
	mgr, a := newTestManager(t, opts)
	require.NoError(t, a.Connect(context.Background()))

	// Fails the first two Execute calls with ConnectionLost, succeeds on
	// the third: within MaxRetries, so the event should still apply.
	a.SetFailExecuteCount(2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, mgr.Start(ctx))
	defer mgr.Stop(time.Second)

	g := event.NewIDGenerator()
	b := event.NewBuilder(g, "primary")
	e := b.NewFromStatement("INSERT INTO t(k,v) VALUES(?, ?)", []value.Value{value.Int(1), value.Text("a")})

	assert.Equal(t, Accepted, mgr.Enqueue(e))
	outcome := mgr.AwaitAck(e.ID, time.Second)
	assert.Equal(t, Acked, outcome)
	assert.Equal(t, int64(0), mgr.Stats().EventsFailed)
	assert.True(t, mgr.Stats().Connected)
}

func TestConnectionLostExhaustingRetriesDisconnects(t *testing.T) {
	opts := testOptions()
	opts.MaxRetries = 2
	mgr, a := newTestManager(t, opts)
	require.NoError(t, a.Connect(context.Background()))

	// Fails every Execute with ConnectionLost: retries are exhausted and
	// the worker must fall back to Disconnected/reconnect, not silently
	// drop the event with no accounting.
	a.SetFailExecuteCount(1000)
	// SetFailExecuteCount alone leaves Ping healthy, so the reconnect would
	// succeed at once; failing Ping as well keeps the socket down.
	a.SetDelayHook(func(op, stmt string) {
		if op == "execute" {
			a.SetFailPing(true)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, mgr.Start(ctx))
	defer mgr.Stop(50 * time.Millisecond)

	g := event.NewIDGenerator()
	b := event.NewBuilder(g, "primary")
	e := b.NewFromStatement("INSERT INTO t(k,v) VALUES(?, ?)", nil)

	assert.Equal(t, Accepted, mgr.Enqueue(e))
	outcome := mgr.AwaitAck(e.ID, time.Second)
	assert.Equal(t, AckFailed, outcome)

	assert.Eventually(t, func() bool {
		s := mgr.Stats()
		return s.EventsFailed == int64(1) && !s.Connected
	}, time.Second, 10*time.Millisecond)
}

func TestReconnectAfterTransientPingFailure(t *testing.T) {
	opts := testOptions()
	mgr, a := newTestManager(t, opts)
	a.SetFailPing(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, mgr.Start(ctx))
	defer mgr.Stop(50 * time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	assert.False(t, mgr.Stats().Connected)
	assert.GreaterOrEqual(t, mgr.Stats().ReconnectCount, int64(1))

	a.SetFailPing(false)
	assert.Eventually(t, func() bool {
		return mgr.Stats().Connected
	}, time.Second, 10*time.Millisecond)
}
