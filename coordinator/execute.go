package coordinator

import (
	"context"

	"github.com/flowbase/repl-engine/adapter"
	"github.com/flowbase/repl-engine/event"
	"github.com/flowbase/repl-engine/replica"
	"github.com/flowbase/repl-engine/value"
	"golang.org/x/sync/errgroup"
)

// Execute applies statement to the primary, builds the resulting
// ReplicationEvent, appends it to the log, fans the event out to every
// enabled non-primary replica, and enforces the acknowledgement mode.
func (c *Coordinator) Execute(ctx context.Context, statement string, params []value.Value) (int64, error) {
	if !c.IsActive() {
		return 0, newError(KindShuttingDown, nil, "coordinator is not active")
	}

	c.primaryMu.Lock()
	affected, execErr := c.primary.Adapter().Execute(ctx, statement, params)
	if execErr != nil {
		c.primaryMu.Unlock()
		c.recordWrite("primary_error")
		return 0, classifyPrimaryErr(execErr)
	}

	e := c.builder.NewFromStatement(statement, params)
	c.primaryMu.Unlock()

	c.log.Append(e)

	replicas := c.enabledNonPrimaryReplicas()
	c.fanOut(e)

	switch c.cfg.Mode {
	case Synchronous:
		if err := c.awaitAll(e.ID, replicas); err != nil {
			c.recordWrite("timeout")
			return affected, err
		}
		c.recordWrite("ok")
		return affected, nil

	case SemiSync:
		if err := c.awaitMin(e.ID, replicas, c.cfg.MinReplicasSync); err != nil {
			c.recordWrite("insufficient_acks")
			return affected, err
		}
		c.recordWrite("ok")
		return affected, nil

	default: // Asynchronous
		c.recordWrite("ok")
		return affected, nil
	}
}

// ExecuteGroup publishes a set of already-ordered events as one atomic
// group: events are appended to the log and fanned out in order only
// after the caller's transaction has committed. It assumes the primary
// write already happened inside the transaction; this only handles
// replication publish. Capacity must already be reserved via Reserve on
// every enabled replica (see facade.Transaction), so fan-out here
// cannot itself fail with QueueFull.
func (c *Coordinator) ExecuteGroup(events []event.Event) {
	for _, e := range events {
		c.log.Append(e)
		c.fanOut(e)
	}
}

func (c *Coordinator) recordWrite(result string) {
	if c.metrics != nil {
		c.metrics.RecordWrite(c.cfg.Mode.String(), result)
	}
}

func (c *Coordinator) enabledNonPrimaryReplicas() []*replica.Manager {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*replica.Manager, 0, len(c.order))
	for _, name := range c.order {
		mgr := c.replicas[name]
		if mgr.Enabled() {
			out = append(out, mgr)
		}
	}
	return out
}

// fanOut enqueues e into every enabled non-primary replica. On
// QueueFull the event remains in the log; the affected replica's own
// stats (updated inside Enqueue) mark it degraded and increment
// events_dropped, and the write still proceeds for every other
// replica.
func (c *Coordinator) fanOut(e event.Event) {
	for _, mgr := range c.enabledNonPrimaryReplicas() {
		mgr.Enqueue(e)
	}
}

// awaitAll waits, concurrently across replicas via errgroup, for every
// given replica to acknowledge eventID. Any timeout or failure produces
// ReplicationTimeout; the primary write itself is never rolled back.
func (c *Coordinator) awaitAll(eventID int64, replicas []*replica.Manager) error {
	if len(replicas) == 0 {
		return nil
	}
	g := new(errgroup.Group)
	for _, mgr := range replicas {
		mgr := mgr
		g.Go(func() error {
			switch mgr.AwaitAck(eventID, c.cfg.PerReplicaAckTimeout) {
			case replica.Acked:
				return nil
			case replica.AckFailed:
				return newError(KindReplicationTimeout, nil, "replica %s failed to apply event %d", mgr.Name, eventID)
			default:
				return newError(KindReplicationTimeout, nil, "timed out waiting for replica %s to ack event %d", mgr.Name, eventID)
			}
		})
	}
	return g.Wait()
}

// awaitMin waits until at least min replicas ack eventID, or until so
// many have failed/timed out that min can no longer be reached.
func (c *Coordinator) awaitMin(eventID int64, replicas []*replica.Manager, min int) error {
	if min <= 0 {
		return nil
	}
	if len(replicas) < min {
		return newError(KindInsufficientReplicasAcked, nil,
			"need %d replicas to ack, only %d enabled", min, len(replicas))
	}

	type result struct {
		ok bool
	}
	results := make(chan result, len(replicas))
	for _, mgr := range replicas {
		mgr := mgr
		go func() {
			outcome := mgr.AwaitAck(eventID, c.cfg.PerReplicaAckTimeout)
			results <- result{ok: outcome == replica.Acked}
		}()
	}

	acked, failed := 0, 0
	for i := 0; i < len(replicas); i++ {
		r := <-results
		if r.ok {
			acked++
			if acked >= min {
				return nil
			}
		} else {
			failed++
			if len(replicas)-failed < min {
				return newError(KindInsufficientReplicasAcked, nil,
					"need %d replicas to ack event %d, only %d can still succeed", min, eventID, len(replicas)-failed)
			}
		}
	}
	if acked >= min {
		return nil
	}
	return newError(KindInsufficientReplicasAcked, nil,
		"need %d replicas to ack event %d, only %d acked", min, eventID, acked)
}

func classifyPrimaryErr(err error) error {
	var aerr *adapter.Error
	if e, ok := err.(*adapter.Error); ok {
		aerr = e
	}
	if aerr == nil {
		return newError(KindOther, err, "primary write failed")
	}
	switch aerr.Kind {
	case adapter.KindConnectionLost:
		return newError(KindConnectionLost, err, "primary unreachable")
	case adapter.KindTimeout:
		return newError(KindTimeout, err, "primary write timed out")
	case adapter.KindSyntaxError:
		return newError(KindSyntaxError, err, "primary rejected statement")
	case adapter.KindConstraintViolation:
		return newError(KindConstraintViolation, err, "primary constraint violation")
	default:
		return newError(KindOther, err, "primary write failed")
	}
}
