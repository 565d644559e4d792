package facade

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/flowbase/repl-engine/adapter"
	"github.com/flowbase/repl-engine/coordinator"
	"github.com/flowbase/repl-engine/replica"
	"github.com/flowbase/repl-engine/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFacade(t *testing.T, replicaNames ...string) (*Facade, map[string]*adapter.MemoryAdapter) {
	t.Helper()
	adapters := make(map[string]*adapter.MemoryAdapter)
	primary := adapter.NewMemoryAdapter()
	adapters["primary"] = primary

	specs := []coordinator.ReplicaSpec{{Name: "primary", Role: "PRIMARY", Enabled: true, Adapter: primary}}
	for _, name := range replicaNames {
		a := adapter.NewMemoryAdapter()
		adapters[name] = a
		specs = append(specs, coordinator.ReplicaSpec{Name: name, Role: "REPLICA", Enabled: true, Adapter: a})
	}

	cfg := coordinator.Config{
		Mode:                  coordinator.Asynchronous,
		MinReplicasSync:       1,
		PerReplicaAckTimeout:  time.Second,
		PromotionDrainTimeout: time.Second,
		EventLogCapacity:      1000,
		EventLogMaxAge:        time.Hour,
		ReplicaOptions: replica.Options{
			QueueCapacity:    100,
			AckTimeout:       time.Second,
			ReconnectInitial: 10 * time.Millisecond,
			ReconnectMax:     40 * time.Millisecond,
			ReconnectFactor:  2,
			MaxRetries:       2,
			RetryBase:        5 * time.Millisecond,
		},
	}

	coord, err := coordinator.New(cfg, specs, nil)
	require.NoError(t, err)
	require.NoError(t, coord.Start(context.Background()))

	f := New(coord)
	t.Cleanup(func() { f.Stop(time.Second) })
	return f, adapters
}

func TestTransactionCommitsAndReplicates(t *testing.T) {
	f, adapters := newTestFacade(t, "r1", "r2")

	err := f.Transaction(context.Background(), func(tx *Tx) error {
		_, err := tx.Execute(context.Background(), "INSERT INTO t(k,v) VALUES(?, ?)", []value.Value{value.Int(1), value.Text("a")})
		if err != nil {
			return err
		}
		_, err = tx.Execute(context.Background(), "INSERT INTO t(k,v) VALUES(?, ?)", []value.Value{value.Int(2), value.Text("b")})
		return err
	})
	require.NoError(t, err)

	snap := adapters["primary"].Snapshot("t")
	assert.Len(t, snap, 2)

	assert.Eventually(t, func() bool {
		return len(adapters["r1"].Snapshot("t")) == 2 && len(adapters["r2"].Snapshot("t")) == 2
	}, time.Second, 10*time.Millisecond)
}

// Invariant 6: a rolled-back transaction's events never appear in the
// log or on any replica queue, even though reads inside the body see
// the uncommitted writes.
func TestTransactionRollbackNeverReplicates(t *testing.T) {
	f, adapters := newTestFacade(t, "r1", "r2")

	sentinel := fmt.Errorf("body error")
	err := f.Transaction(context.Background(), func(tx *Tx) error {
		_, err := tx.Execute(context.Background(), "INSERT INTO t(k,v) VALUES(?, ?)", []value.Value{value.Int(1), value.Text("a")})
		if err != nil {
			return err
		}
		row, ferr := tx.FetchOne(context.Background(), "SELECT * FROM t WHERE k=?", []value.Value{value.Int(1)})
		if ferr != nil {
			return ferr
		}
		if row.Get("v").String() != "a" {
			return fmt.Errorf("expected in-tx read to observe the uncommitted write, got %v", row.Get("v"))
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	assert.Empty(t, adapters["primary"].Snapshot("t"))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, adapters["r1"].Snapshot("t"))
	assert.Empty(t, adapters["r2"].Snapshot("t"))
}

// Invariant 6 continued: in-tx reads observe in-tx writes, and
// Execute's affected-row count reflects what actually happened against
// the transaction's own snapshot, not a hardcoded value.
func TestTransactionReadYourWritesAndAffectedCount(t *testing.T) {
	f, _ := newTestFacade(t, "r1")

	err := f.Transaction(context.Background(), func(tx *Tx) error {
		affected, err := tx.Execute(context.Background(), "INSERT INTO t(k,v) VALUES(?, ?)", []value.Value{value.Int(1), value.Text("a")})
		if err != nil {
			return err
		}
		if affected != 1 {
			return fmt.Errorf("expected 1 row affected by insert, got %d", affected)
		}

		row, err := tx.FetchOne(context.Background(), "SELECT * FROM t WHERE k=?", []value.Value{value.Int(1)})
		if err != nil {
			return err
		}
		if row.Get("v").String() != "a" {
			return fmt.Errorf("expected in-tx read to see the just-inserted row, got %v", row.Get("v"))
		}

		// Updating a key that doesn't exist in this snapshot affects zero
		// rows, proving Execute isn't just returning a constant.
		affected, err = tx.Execute(context.Background(), "UPDATE t SET v=? WHERE k=?", []value.Value{value.Text("z"), value.Int(99)})
		if err != nil {
			return err
		}
		if affected != 0 {
			return fmt.Errorf("expected 0 rows affected updating a missing key, got %d", affected)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestTransactionWithNoWritesIsANoop(t *testing.T) {
	f, _ := newTestFacade(t)

	err := f.Transaction(context.Background(), func(tx *Tx) error {
		_, ferr := tx.FetchAll(context.Background(), "SELECT * FROM t", nil)
		return ferr
	})
	require.NoError(t, err)
}

func TestFacadeExecuteAndFetchDelegateToCoordinator(t *testing.T) {
	f, adapters := newTestFacade(t, "r1")

	affected, err := f.Execute(context.Background(), "INSERT INTO t(k,v) VALUES(?, ?)", []value.Value{value.Int(1), value.Text("a")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	row, err := f.FetchOne(context.Background(), "SELECT * FROM t WHERE k=?", []value.Value{value.Int(1)})
	require.NoError(t, err)
	assert.Equal(t, "a", row.Get("v").String())

	status := f.Status()
	assert.Equal(t, "primary", status.Primary.Name)
	assert.Len(t, adapters, 2)
}
