package coordinator

import (
	"context"

	"github.com/flowbase/repl-engine/adapter"
	"github.com/flowbase/repl-engine/value"
)

// FetchOne routes an unserialized read to the primary adapter. Reads
// are never queued behind Execute's primary-write mutex.
func (c *Coordinator) FetchOne(ctx context.Context, statement string, params []value.Value) (adapter.Row, error) {
	return c.primary.Adapter().FetchOne(ctx, statement, params)
}

// FetchAll routes an unserialized read to the primary adapter.
func (c *Coordinator) FetchAll(ctx context.Context, statement string, params []value.Value) ([]adapter.Row, error) {
	return c.primary.Adapter().FetchAll(ctx, statement, params)
}

// FetchOneFromReplica routes a read directly to a named replica's
// adapter, for callers willing to trade recency for offloading load
// from the primary.
func (c *Coordinator) FetchOneFromReplica(ctx context.Context, name string, statement string, params []value.Value) (adapter.Row, error) {
	c.mu.RLock()
	mgr, ok := c.replicas[name]
	c.mu.RUnlock()
	if !ok {
		return adapter.Row{}, newError(KindNoSuchReplica, nil, "replica %s not found", name)
	}
	return mgr.Adapter().FetchOne(ctx, statement, params)
}
