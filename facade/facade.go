// Package facade is the application-facing entry point to the
// replication engine: a thin shim over the Coordinator that adds
// scoped, atomically-published transactions.
package facade

import (
	"context"
	"fmt"
	"time"

	"github.com/flowbase/repl-engine/adapter"
	"github.com/flowbase/repl-engine/coordinator"
	"github.com/flowbase/repl-engine/event"
	"github.com/flowbase/repl-engine/replica"
	"github.com/flowbase/repl-engine/value"
	log "github.com/sirupsen/logrus"
)

// Facade forwards execute/fetch/transaction/promote/status calls into a
// Coordinator; it adds no state of its own beyond the logger.
type Facade struct {
	coord  *coordinator.Coordinator
	logger *log.Entry
}

func New(coord *coordinator.Coordinator) *Facade {
	return &Facade{coord: coord, logger: log.WithField("component", "facade")}
}

func (f *Facade) Start(ctx context.Context) error { return f.coord.Start(ctx) }

func (f *Facade) Stop(deadline time.Duration) { f.coord.Stop(deadline) }

func (f *Facade) Execute(ctx context.Context, statement string, params []value.Value) (int64, error) {
	return f.coord.Execute(ctx, statement, params)
}

func (f *Facade) FetchOne(ctx context.Context, statement string, params []value.Value) (adapter.Row, error) {
	return f.coord.FetchOne(ctx, statement, params)
}

func (f *Facade) FetchAll(ctx context.Context, statement string, params []value.Value) ([]adapter.Row, error) {
	return f.coord.FetchAll(ctx, statement, params)
}

func (f *Facade) Promote(ctx context.Context, replicaName string) error {
	return f.coord.Promote(ctx, replicaName)
}

func (f *Facade) Status() coordinator.StatusSnapshot { return f.coord.Status() }

// Tx is the scoped transactional context handed to a Transaction body.
// Every write inside it runs immediately inside the primary's
// transaction (so later reads within the same transaction observe it),
// but its ReplicationEvent is only buffered, not published, until Commit.
type Tx struct {
	tx      adapter.Tx
	builder *event.Builder
	events  []event.Event
}

func (t *Tx) Execute(ctx context.Context, statement string, params []value.Value) (int64, error) {
	affected, err := t.tx.Execute(ctx, statement, params)
	if err != nil {
		return 0, err
	}
	t.events = append(t.events, t.builder.NewFromStatement(statement, params))
	return affected, nil
}

func (t *Tx) FetchOne(ctx context.Context, statement string, params []value.Value) (adapter.Row, error) {
	return t.tx.FetchOne(ctx, statement, params)
}

func (t *Tx) FetchAll(ctx context.Context, statement string, params []value.Value) ([]adapter.Row, error) {
	return t.tx.FetchAll(ctx, statement, params)
}

// Transaction runs body against a scoped transactional context on the
// primary. On a nil return, every buffered event is published as one
// atomic group: reserved on every enabled replica first so the publish
// itself cannot fail with QueueFull, committed on the primary, then
// fanned out. On error (or panic) everything is rolled back and
// discarded, including the buffered events, which never reach the log
// or any replica queue.
func (f *Facade) Transaction(ctx context.Context, body func(*Tx) error) error {
	primary := f.coord.PrimaryAdapter()

	var captured []event.Event
	err := adapter.WithTransaction(ctx, primary, func(tx adapter.Tx) error {
		txc := &Tx{tx: tx, builder: f.coord.EventBuilder()}
		if berr := body(txc); berr != nil {
			return berr
		}
		captured = txc.events
		return nil
	})
	if err != nil {
		return err
	}
	if len(captured) == 0 {
		return nil
	}

	replicas := f.coord.EnabledReplicas()
	n := len(captured)
	reserved := make([]*replica.Manager, 0, len(replicas))
	for _, mgr := range replicas {
		if !mgr.Reserve(n) {
			for _, r := range reserved {
				r.ReleaseReservation(n)
			}
			f.logger.WithField("replica", mgr.Name).Warn("transaction publish could not reserve queue capacity, events applied on primary only")
			return fmt.Errorf("facade: replica %s has insufficient queue capacity for %d buffered events", mgr.Name, n)
		}
		reserved = append(reserved, mgr)
	}

	f.coord.ExecuteGroup(captured)
	return nil
}
