package adapter

import (
	"context"
	"testing"

	"github.com/flowbase/repl-engine/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAdapterInsertUpdateDelete(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryAdapter()
	require.NoError(t, a.Connect(ctx))

	n, err := a.Execute(ctx, "INSERT INTO t(k,v) VALUES(?, ?)", []value.Value{value.Int(1), value.Text("a")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	row, err := a.FetchOne(ctx, "SELECT * FROM t WHERE k=?", []value.Value{value.Int(1)})
	require.NoError(t, err)
	assert.Equal(t, "a", row.Get("v").String())

	n, err = a.Execute(ctx, "UPDATE t SET v=? WHERE k=?", []value.Value{value.Text("b"), value.Int(1)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	row, err = a.FetchOne(ctx, "SELECT * FROM t WHERE k=?", []value.Value{value.Int(1)})
	require.NoError(t, err)
	assert.Equal(t, "b", row.Get("v").String())

	n, err = a.Execute(ctx, "DELETE FROM t WHERE k=?", []value.Value{value.Int(1)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = a.FetchOne(ctx, "SELECT * FROM t WHERE k=?", []value.Value{value.Int(1)})
	assert.Error(t, err)
}

func TestMemoryAdapterDuplicateKeyConstraint(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryAdapter()
	require.NoError(t, a.Connect(ctx))

	_, err := a.Execute(ctx, "INSERT INTO t(k,v) VALUES(?, ?)", []value.Value{value.Int(1), value.Text("a")})
	require.NoError(t, err)

	_, err = a.Execute(ctx, "INSERT INTO t(k,v) VALUES(?, ?)", []value.Value{value.Int(1), value.Text("b")})
	require.Error(t, err)
	var aerr *Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, KindConstraintViolation, aerr.Kind)
}

func TestMemoryAdapterNotConnected(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryAdapter()

	_, err := a.Execute(ctx, "INSERT INTO t(k,v) VALUES(?, ?)", []value.Value{value.Int(1), value.Text("a")})
	require.Error(t, err)
	var aerr *Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, KindConnectionLost, aerr.Kind)
}

func TestMemoryAdapterTransactionCommit(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryAdapter()
	require.NoError(t, a.Connect(ctx))

	err := WithTransaction(ctx, a, func(tx Tx) error {
		_, err := tx.Execute(ctx, "INSERT INTO t(k,v) VALUES(?, ?)", []value.Value{value.Int(1), value.Text("a")})
		return err
	})
	require.NoError(t, err)

	snap := a.Snapshot("t")
	require.Contains(t, snap, "1")
	assert.Equal(t, "a", snap["1"]["v"].String())
}

func TestMemoryAdapterTransactionRollbackOnError(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryAdapter()
	require.NoError(t, a.Connect(ctx))

	sentinel := assert.AnError
	err := WithTransaction(ctx, a, func(tx Tx) error {
		_, _ = tx.Execute(ctx, "INSERT INTO t(k,v) VALUES(?, ?)", []value.Value{value.Int(1), value.Text("a")})
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	snap := a.Snapshot("t")
	assert.Empty(t, snap)
}

func TestMemoryAdapterPingFailure(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryAdapter()
	a.SetFailPing(true)
	err := a.Connect(ctx)
	require.Error(t, err)
}
