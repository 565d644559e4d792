package coordinator

import (
	"context"
	"time"

	"github.com/flowbase/repl-engine/replica"
)

// Promote performs failover: it disables the old primary, waits for the
// named replica to drain and catch up to the event log's tail, then
// flips roles. Per the Open Question resolution in SPEC_FULL.md §9.1,
// the log tail is replayed to the promoted replica before it starts
// accepting new writes, rather than accepting writes against an "empty"
// new primary.
func (c *Coordinator) Promote(ctx context.Context, name string) error {
	c.mu.Lock()
	target, ok := c.replicas[name]
	if !ok {
		c.mu.Unlock()
		return newError(KindNoSuchReplica, nil, "replica %s not found", name)
	}
	oldPrimary := c.primary
	c.mu.Unlock()

	if !target.Stats().Connected || !target.Enabled() {
		return newError(KindReplicaNotReady, nil, "replica %s is not connected and enabled", name)
	}

	deadline := time.Now().Add(c.cfg.PromotionDrainTimeout)

	// Step 1: cease writes through the old primary.
	oldPrimary.SetEnabled(false)

	// Step 2: wait for the target to drain its current queue.
	if !c.waitForDrain(target, deadline) {
		oldPrimary.SetEnabled(true)
		return newError(KindDrainTimeout, nil, "replica %s did not drain within %s", name, c.cfg.PromotionDrainTimeout)
	}

	// Replay any log tail the target hasn't applied yet, so it starts
	// primary life caught up rather than with arbitrary gaps.
	lastApplied := target.Stats().LastAppliedEventID
	events, ok := c.log.IterSince(lastApplied)
	if !ok {
		oldPrimary.SetEnabled(true)
		return newError(KindUnrecoverableGap, nil, "replica %s needs events no longer retained in the log", name)
	}
	for _, e := range events {
		target.Enqueue(e)
	}
	if len(events) > 0 {
		last := events[len(events)-1].ID
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		if outcome := target.AwaitAck(last, remaining); outcome != replica.Acked {
			oldPrimary.SetEnabled(true)
			return newError(KindDrainTimeout, nil, "replica %s failed to catch up to event %d before promotion deadline", name, last)
		}
	}

	// Step 3: flip roles.
	c.mu.Lock()
	delete(c.replicas, name)
	c.order = removeName(c.order, name)

	target.SetRole("PRIMARY")
	oldPrimary.SetRole("REPLICA")
	oldPrimary.SetEnabled(false)

	c.replicas[oldPrimary.Name] = oldPrimary
	c.order = append(c.order, oldPrimary.Name)
	c.primary = target
	c.builder = c.builder.WithOrigin(target.Name)
	c.mu.Unlock()

	c.logger.WithFields(map[string]interface{}{"new_primary": name, "old_primary": oldPrimary.Name}).
		Info("promotion complete")

	// Step 4: next_event_id continues uninterrupted, since the event
	// log is not cleared on promotion.
	return nil
}

func (c *Coordinator) waitForDrain(mgr *replica.Manager, deadline time.Time) bool {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if mgr.Stats().QueueDepth == 0 {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		<-ticker.C
	}
}

func removeName(names []string, target string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n != target {
			out = append(out, n)
		}
	}
	return out
}
