// Package coordinator implements the Replication Coordinator: it owns
// the primary Adapter and the set of Replica Managers, executes writes,
// fans events out under the configured acknowledgement mode, and
// performs promotion (failover).
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flowbase/repl-engine/adapter"
	"github.com/flowbase/repl-engine/event"
	"github.com/flowbase/repl-engine/eventlog"
	"github.com/flowbase/repl-engine/metrics"
	"github.com/flowbase/repl-engine/replica"
	log "github.com/sirupsen/logrus"
)

// Mode is the acknowledgement mode governing how long Execute waits for
// replicas before returning.
type Mode int

const (
	Asynchronous Mode = iota
	SemiSync
	Synchronous
)

func (m Mode) String() string {
	switch m {
	case Synchronous:
		return "synchronous"
	case SemiSync:
		return "semi_sync"
	default:
		return "asynchronous"
	}
}

// Config is the coordinator-level configuration.
type Config struct {
	Mode                   Mode
	MinReplicasSync        int
	PerReplicaAckTimeout   time.Duration
	PromotionDrainTimeout  time.Duration
	EventLogCapacity       int
	EventLogMaxAge         time.Duration
	ReplicaOptions         replica.Options
}

// DefaultConfig returns conservative defaults suitable for a single-DC
// deployment with a handful of replicas.
func DefaultConfig() Config {
	return Config{
		Mode:                  Asynchronous,
		MinReplicasSync:       1,
		PerReplicaAckTimeout:  5 * time.Second,
		PromotionDrainTimeout: 30 * time.Second,
		EventLogCapacity:      100000,
		EventLogMaxAge:        3600 * time.Second,
		ReplicaOptions:        replica.DefaultOptions(),
	}
}

// ReplicaSpec describes one participant at construction time.
type ReplicaSpec struct {
	Name         string
	Role         string // "PRIMARY" or "REPLICA"
	Priority     int
	Enabled      bool
	MaxLagSeconds int
	Adapter      adapter.Adapter
}

// Coordinator is the top-level owner of the primary and replica
// managers, the event log, and the acknowledgement policy.
type Coordinator struct {
	cfg Config

	primaryMu sync.Mutex // serializes writes against the primary adapter
	primary   *replica.Manager

	mu       sync.RWMutex // guards replicas/order/active/maxLag
	replicas map[string]*replica.Manager
	order    []string
	maxLag   map[string]int

	log     *eventlog.Log
	ids     *event.IDGenerator
	builder *event.Builder
	metrics *metrics.Registry

	active bool
	logger *log.Entry
}

// New constructs a Coordinator. specs must contain exactly one entry
// with Role "PRIMARY".
func New(cfg Config, specs []ReplicaSpec, metricsRegistry *metrics.Registry) (*Coordinator, error) {
	c := &Coordinator{
		cfg:      cfg,
		replicas: make(map[string]*replica.Manager),
		maxLag:   make(map[string]int),
		log:      eventlog.New(cfg.EventLogCapacity, cfg.EventLogMaxAge),
		ids:      event.NewIDGenerator(),
		metrics:  metricsRegistry,
		logger:   log.WithField("component", "coordinator"),
	}
	c.builder = event.NewBuilder(c.ids, "")

	var primaryName string
	for _, s := range specs {
		var mh *metrics.ReplicaMetrics
		if metricsRegistry != nil {
			mh = metricsRegistry.ForReplica(s.Name)
		}
		mgr := replica.NewManager(s.Name, s.Role, s.Priority, s.Adapter, c.log, cfg.ReplicaOptions, mh)
		mgr.SetEnabled(s.Enabled)
		c.maxLag[s.Name] = s.MaxLagSeconds

		if s.Role == "PRIMARY" {
			if primaryName != "" {
				return nil, fmt.Errorf("exactly one PRIMARY replica required, found second: %s", s.Name)
			}
			primaryName = s.Name
			c.primary = mgr
		} else {
			c.replicas[s.Name] = mgr
			c.order = append(c.order, s.Name)
		}
	}
	if c.primary == nil {
		return nil, fmt.Errorf("exactly one PRIMARY replica required, found none")
	}
	c.builder = event.NewBuilder(c.ids, primaryName)
	return c, nil
}

// Start starts the primary's manager, then every replica manager
// concurrently, and marks the coordinator active. Each manager's worker
// connects its adapter in the background; Start does not wait for the
// primary to connect, and until it has, writes fail with the primary
// adapter's ConnectionLost error. Replica start failures are logged but
// do not prevent Start from succeeding — a disconnected replica simply
// sits in its own reconnect loop.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.primary.Start(ctx); err != nil {
		return err
	}

	c.mu.RLock()
	managers := make([]*replica.Manager, 0, len(c.replicas))
	for _, name := range c.order {
		managers = append(managers, c.replicas[name])
	}
	c.mu.RUnlock()

	var wg sync.WaitGroup
	for _, mgr := range managers {
		wg.Add(1)
		go func(m *replica.Manager) {
			defer wg.Done()
			if err := m.Start(ctx); err != nil {
				c.logger.WithError(err).WithField("replica", m.Name).
					Warn("replica failed to start, left to its own reconnect loop")
			}
		}(mgr)
	}
	wg.Wait()

	c.mu.Lock()
	c.active = true
	c.mu.Unlock()
	return nil
}

// Stop stops all managers, each draining per its own contract.
func (c *Coordinator) Stop(deadline time.Duration) {
	c.mu.Lock()
	c.active = false
	managers := make([]*replica.Manager, 0, len(c.replicas)+1)
	for _, name := range c.order {
		managers = append(managers, c.replicas[name])
	}
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, mgr := range managers {
		wg.Add(1)
		go func(m *replica.Manager) {
			defer wg.Done()
			m.Stop(deadline)
		}(mgr)
	}
	wg.Wait()
	c.primary.Stop(deadline)
}

// IsActive reports whether the coordinator has completed Start.
func (c *Coordinator) IsActive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// PrimaryAdapter exposes the primary's Adapter for read-only callers
// (facade.FetchOne/FetchAll route directly to it, bypassing the
// coordinator's write serialization since reads are not serialized).
func (c *Coordinator) PrimaryAdapter() adapter.Adapter {
	return c.primary.Adapter()
}

// PrimaryName returns the name of the currently active primary replica.
func (c *Coordinator) PrimaryName() string {
	return c.primary.Name
}

// EventBuilder exposes the coordinator's shared id generator so a
// caller building a transactional event group (facade.Transaction)
// stamps events from the same monotonic sequence as ordinary writes.
func (c *Coordinator) EventBuilder() *event.Builder {
	return c.builder
}

// EnabledReplicas returns every currently enabled non-primary replica
// manager, in configured order.
func (c *Coordinator) EnabledReplicas() []*replica.Manager {
	return c.enabledNonPrimaryReplicas()
}
