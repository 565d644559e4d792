package coordinator

// PrimaryStatus is the "primary" section of StatusSnapshot.
type PrimaryStatus struct {
	Name      string     `json:"name"`
	Connected bool       `json:"connected"`
	Stats     StatsField `json:"stats"`
}

// StatsField is the nested per-replica "stats" object, shared shape
// between the primary and every replica entry.
type StatsField struct {
	EventsProcessed    int64   `json:"events_processed"`
	EventsFailed       int64   `json:"events_failed"`
	EventsDropped      int64   `json:"events_dropped"`
	ReconnectCount     int64   `json:"reconnect_count"`
	AverageLagMS       float64 `json:"average_lag_ms"`
	LastAppliedEventID int64   `json:"last_applied_event_id"`
}

// ReplicaStatus is one entry of the "replicas" map in StatusSnapshot.
type ReplicaStatus struct {
	Connected     bool       `json:"connected"`
	Enabled       bool       `json:"enabled"`
	QueueSize     int        `json:"queue_size"`
	QueueCapacity int        `json:"queue_capacity"`
	LagSeconds    float64    `json:"lag_seconds"`
	Stats         StatsField `json:"stats"`
}

// StatusSnapshot is the stable JSON contract served by the API layer's
// status endpoint and consumed by the terminal dashboard.
type StatusSnapshot struct {
	Active          bool                     `json:"active"`
	Mode            string                   `json:"mode"`
	MinReplicasSync int                      `json:"min_replicas_sync"`
	TotalReplicas   int                      `json:"total_replicas"`
	HealthyReplicas int                      `json:"healthy_replicas"`
	Primary         PrimaryStatus            `json:"primary"`
	Replicas        map[string]ReplicaStatus `json:"replicas"`
}

// Status builds a point-in-time StatusSnapshot. A replica counts as
// healthy when it is enabled, connected, and not flagged degraded.
func (c *Coordinator) Status() StatusSnapshot {
	c.mu.RLock()
	names := make([]string, len(c.order))
	copy(names, c.order)
	c.mu.RUnlock()

	primaryStats := c.primary.Stats()
	snap := StatusSnapshot{
		Active:          c.IsActive(),
		Mode:            c.cfg.Mode.String(),
		MinReplicasSync: c.cfg.MinReplicasSync,
		TotalReplicas:   len(names),
		Primary: PrimaryStatus{
			Name:      c.primary.Name,
			Connected: primaryStats.Connected,
			Stats: StatsField{
				EventsProcessed:    primaryStats.EventsProcessed,
				EventsFailed:       primaryStats.EventsFailed,
				EventsDropped:      primaryStats.EventsDropped,
				ReconnectCount:     primaryStats.ReconnectCount,
				AverageLagMS:       primaryStats.AverageLagMS,
				LastAppliedEventID: primaryStats.LastAppliedEventID,
			},
		},
		Replicas: make(map[string]ReplicaStatus, len(names)),
	}

	healthy := 0
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, name := range names {
		mgr := c.replicas[name]
		s := mgr.Stats()
		enabled := mgr.Enabled()
		if enabled && s.Connected && !s.Degraded {
			healthy++
		}
		snap.Replicas[name] = ReplicaStatus{
			Connected:     s.Connected,
			Enabled:       enabled,
			QueueSize:     s.QueueDepth,
			QueueCapacity: mgr.QueueCapacity(),
			LagSeconds:    s.LagSeconds,
			Stats: StatsField{
				EventsProcessed:    s.EventsProcessed,
				EventsFailed:       s.EventsFailed,
				EventsDropped:      s.EventsDropped,
				ReconnectCount:     s.ReconnectCount,
				AverageLagMS:       s.AverageLagMS,
				LastAppliedEventID: s.LastAppliedEventID,
			},
		}
	}
	snap.HealthyReplicas = healthy
	return snap
}
