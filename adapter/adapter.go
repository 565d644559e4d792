// Package adapter defines the Database Adapter capability consumed by
// the replication engine: a narrow contract over one backing store
// (relational SQL engine, document store, or an in-memory fake) that
// the coordinator and replica managers drive without ever seeing
// engine-specific types.
package adapter

import (
	"context"
	"fmt"

	"github.com/flowbase/repl-engine/value"
)

// Kind classifies an adapter-level failure so callers can decide whether
// to retry, reconnect, or give up.
type Kind int

const (
	KindConnectionLost Kind = iota
	KindSyntaxError
	KindConstraintViolation
	KindTimeout
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindConnectionLost:
		return "ConnectionLost"
	case KindSyntaxError:
		return "SyntaxError"
	case KindConstraintViolation:
		return "ConstraintViolation"
	case KindTimeout:
		return "Timeout"
	default:
		return "Other"
	}
}

// Retryable reports whether a worker may retry an operation that failed
// with this kind. Only transient failures are retryable; syntax and
// constraint errors are permanent and retrying them would just repeat
// the same failure.
func (k Kind) Retryable() bool {
	return k == KindConnectionLost || k == KindTimeout
}

// Error wraps an adapter-level failure with its classification.
type Error struct {
	Kind  Kind
	Op    string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("adapter: %s: %s: %v", e.Op, e.Kind, e.Cause)
	}
	return fmt.Sprintf("adapter: %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(op string, kind Kind, cause error) *Error {
	return &Error{Op: op, Kind: kind, Cause: cause}
}

// Row is an ordered mapping from column name to value, preserving the
// column order reported by the backing store.
type Row struct {
	Columns []string
	Values  map[string]value.Value
}

// Get returns the value bound to a column, or Null if absent.
func (r Row) Get(col string) value.Value {
	if v, ok := r.Values[col]; ok {
		return v
	}
	return value.Null()
}

// Tx is a scoped transactional context against one Adapter.
type Tx interface {
	Execute(ctx context.Context, statement string, params []value.Value) (affected int64, err error)
	FetchOne(ctx context.Context, statement string, params []value.Value) (Row, error)
	FetchAll(ctx context.Context, statement string, params []value.Value) ([]Row, error)
	Commit() error
	Rollback() error
}

// Adapter is the capability every backing store must implement. The
// coordinator and replica managers consume only this interface.
type Adapter interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
	Ping(ctx context.Context) error

	Execute(ctx context.Context, statement string, params []value.Value) (affected int64, err error)
	FetchOne(ctx context.Context, statement string, params []value.Value) (Row, error)
	FetchAll(ctx context.Context, statement string, params []value.Value) ([]Row, error)

	// Begin starts a transaction. The returned Tx must be committed or
	// rolled back by the caller; Adapter implementations do not manage
	// the scoping closure themselves (Go has no RAII), so WithTransaction
	// and its callers are responsible for the commit-on-success,
	// rollback-on-error discipline.
	Begin(ctx context.Context) (Tx, error)
}

// WithTransaction runs body against a Tx acquired from adapter, committing
// on a nil return and rolling back otherwise (including on panic), so a
// transaction is guaranteed to commit only on a clean return and to roll
// back on every other exit path.
func WithTransaction(ctx context.Context, a Adapter, body func(Tx) error) (err error) {
	tx, err := a.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = body(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rerr)
		}
		return err
	}
	return tx.Commit()
}
