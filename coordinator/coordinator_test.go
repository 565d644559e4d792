package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/flowbase/repl-engine/adapter"
	"github.com/flowbase/repl-engine/replica"
	"github.com/flowbase/repl-engine/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(mode Mode, minSync int) Config {
	return Config{
		Mode:                  mode,
		MinReplicasSync:       minSync,
		PerReplicaAckTimeout:  2 * time.Second,
		PromotionDrainTimeout: 2 * time.Second,
		EventLogCapacity:      1000,
		EventLogMaxAge:        time.Hour,
		ReplicaOptions: replica.Options{
			QueueCapacity:    10000,
			AckTimeout:       2 * time.Second,
			ReconnectInitial: 10 * time.Millisecond,
			ReconnectMax:     50 * time.Millisecond,
			ReconnectFactor:  2,
			MaxRetries:       2,
			RetryBase:        5 * time.Millisecond,
		},
	}
}

func newTestTopology(t *testing.T, mode Mode, minSync int, replicaNames ...string) (*Coordinator, map[string]*adapter.MemoryAdapter) {
	t.Helper()
	adapters := make(map[string]*adapter.MemoryAdapter)

	specs := []ReplicaSpec{{Name: "primary", Role: "PRIMARY", Enabled: true, Adapter: func() adapter.Adapter {
		a := adapter.NewMemoryAdapter()
		adapters["primary"] = a
		return a
	}()}}

	for _, name := range replicaNames {
		a := adapter.NewMemoryAdapter()
		adapters[name] = a
		specs = append(specs, ReplicaSpec{Name: name, Role: "REPLICA", Enabled: true, Adapter: a})
	}

	coord, err := New(testConfig(mode, minSync), specs, nil)
	require.NoError(t, err)
	require.NoError(t, coord.Start(context.Background()))
	t.Cleanup(func() { coord.Stop(time.Second) })
	return coord, adapters
}

// S1 — async happy path.
func TestExecuteAsyncReplicatesEventually(t *testing.T) {
	coord, adapters := newTestTopology(t, Asynchronous, 1, "r1", "r2")

	id, err := coord.Execute(context.Background(), "INSERT INTO t(k,v) VALUES(?, ?)", []value.Value{value.Int(1), value.Text("a")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	assert.Eventually(t, func() bool {
		snap := adapters["r1"].Snapshot("t")
		snap2 := adapters["r2"].Snapshot("t")
		return len(snap) == 1 && len(snap2) == 1
	}, time.Second, 10*time.Millisecond)
}

// S2 — sync ack: Execute only returns once every replica has applied.
func TestExecuteSyncWaitsForAllReplicas(t *testing.T) {
	coord, adapters := newTestTopology(t, Synchronous, 2, "r1", "r2")

	id, err := coord.Execute(context.Background(), "INSERT INTO t(k,v) VALUES(?, ?)", []value.Value{value.Int(1), value.Text("a")})
	require.NoError(t, err)

	status := coord.Status()
	for name, r := range status.Replicas {
		assert.Equal(t, id, r.Stats.LastAppliedEventID, "replica %s should have applied by the time Execute returned", name)
	}
	assert.Len(t, adapters["r1"].Snapshot("t"), 1)
	assert.Len(t, adapters["r2"].Snapshot("t"), 1)
}

// S3 — semi-sync with one slow replica: Execute returns once N ack,
// the slow replica is left behind but does not fail the write.
func TestExecuteSemiSyncWithOneSlowReplica(t *testing.T) {
	coord, adapters := newTestTopology(t, SemiSync, 2, "r1", "r2", "r3")

	block := make(chan struct{})
	adapters["r3"].SetDelayHook(func(op, stmt string) {
		if op == "execute" {
			<-block
		}
	})
	defer close(block)

	start := time.Now()
	_, err := coord.Execute(context.Background(), "INSERT INTO t(k,v) VALUES(?, ?)", []value.Value{value.Int(1), value.Text("a")})
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.Less(t, elapsed, 2*time.Second, "should not wait for the slow replica")

	// r3's worker holds the first event inside its blocked Execute; a second
	// write stays in r3's queue behind it.
	_, err = coord.Execute(context.Background(), "INSERT INTO t(k,v) VALUES(?, ?)", []value.Value{value.Int(2), value.Text("b")})
	require.NoError(t, err)

	status := coord.Status()
	assert.Greater(t, status.Replicas["r3"].QueueSize, 0)
}

// S6 — promotion: after promote, status reports the new primary and
// subsequent writes land on it.
func TestPromoteSwitchesPrimary(t *testing.T) {
	coord, adapters := newTestTopology(t, Asynchronous, 1, "r1", "r2")

	_, err := coord.Execute(context.Background(), "INSERT INTO t(k,v) VALUES(?, ?)", []value.Value{value.Int(1), value.Text("a")})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(adapters["r1"].Snapshot("t")) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, coord.Promote(context.Background(), "r1"))

	status := coord.Status()
	assert.Equal(t, "r1", status.Primary.Name)

	_, err = coord.Execute(context.Background(), "INSERT INTO t(k,v) VALUES(?, ?)", []value.Value{value.Int(2), value.Text("b")})
	require.NoError(t, err)

	snap := adapters["r1"].Snapshot("t")
	assert.Contains(t, snap, "2")

	oldPrimarySnap := adapters["primary"].Snapshot("t")
	assert.NotContains(t, oldPrimarySnap, "2")
}

func TestFetchOneRoutesToPrimary(t *testing.T) {
	coord, _ := newTestTopology(t, Asynchronous, 1, "r1")

	_, err := coord.Execute(context.Background(), "INSERT INTO t(k,v) VALUES(?, ?)", []value.Value{value.Int(1), value.Text("a")})
	require.NoError(t, err)

	row, err := coord.FetchOne(context.Background(), "SELECT * FROM t WHERE k=?", []value.Value{value.Int(1)})
	require.NoError(t, err)
	assert.Equal(t, "a", row.Get("v").String())
}
