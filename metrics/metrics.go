// Package metrics wires the replication engine's runtime health into
// Prometheus, independent of (and in addition to) the JSON status
// endpoint the API server exposes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry owns the collectors for one coordinator instance and hands
// out per-replica handles.
type Registry struct {
	queueDepth   *prometheus.GaugeVec
	lagSeconds   *prometheus.GaugeVec
	processed    *prometheus.CounterVec
	failed       *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	reconnects   *prometheus.CounterVec
	coordWrites  *prometheus.CounterVec
}

// NewRegistry creates and registers the collector set against reg. Pass
// prometheus.NewRegistry() in tests to avoid polluting the default
// registry, or prometheus.DefaultRegisterer in production.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "repl_engine_replica_queue_depth",
			Help: "Current number of events queued for a replica.",
		}, []string{"replica"}),
		lagSeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "repl_engine_replica_lag_seconds",
			Help: "Wall-clock lag between event creation and last apply on a replica.",
		}, []string{"replica"}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repl_engine_events_processed_total",
			Help: "Events successfully applied to a replica.",
		}, []string{"replica"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repl_engine_events_failed_total",
			Help: "Events that failed non-retryably on a replica.",
		}, []string{"replica"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repl_engine_events_dropped_total",
			Help: "Events dropped for a replica due to a full queue.",
		}, []string{"replica"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repl_engine_reconnects_total",
			Help: "Reconnect attempts made by a replica worker.",
		}, []string{"replica"}),
		coordWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repl_engine_coordinator_writes_total",
			Help: "Coordinator Execute outcomes by acknowledgement mode and result.",
		}, []string{"mode", "result"}),
	}

	reg.MustRegister(r.queueDepth, r.lagSeconds, r.processed, r.failed, r.dropped, r.reconnects, r.coordWrites)
	return r
}

// ReplicaMetrics is the handle a replica.Manager pushes updates into.
type ReplicaMetrics struct {
	name       string
	queueDepth prometheus.Gauge
	lagSeconds prometheus.Gauge
	processed  prometheus.Counter
	failed     prometheus.Counter
	dropped    prometheus.Counter
	reconnects prometheus.Counter
}

// ForReplica returns a handle bound to one replica's label value.
func (r *Registry) ForReplica(name string) *ReplicaMetrics {
	return &ReplicaMetrics{
		name:       name,
		queueDepth: r.queueDepth.WithLabelValues(name),
		lagSeconds: r.lagSeconds.WithLabelValues(name),
		processed:  r.processed.WithLabelValues(name),
		failed:     r.failed.WithLabelValues(name),
		dropped:    r.dropped.WithLabelValues(name),
		reconnects: r.reconnects.WithLabelValues(name),
	}
}

func (m *ReplicaMetrics) SetQueueDepth(n int)         { m.queueDepth.Set(float64(n)) }
func (m *ReplicaMetrics) ObserveLag(seconds float64)  { m.lagSeconds.Set(seconds) }
func (m *ReplicaMetrics) IncProcessed()               { m.processed.Inc() }
func (m *ReplicaMetrics) IncFailed()                  { m.failed.Inc() }
func (m *ReplicaMetrics) IncDropped(n int)            { m.dropped.Add(float64(n)) }
func (m *ReplicaMetrics) IncReconnect()               { m.reconnects.Inc() }

// RecordWrite records one coordinator.Execute outcome.
func (r *Registry) RecordWrite(mode, result string) {
	r.coordWrites.WithLabelValues(mode, result).Inc()
}
