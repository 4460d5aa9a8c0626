package metrics

import failover "github.com/getpup/failover-manager"

// Collector wraps metrics and provides helper methods with pre-filled labels.
type Collector struct {
	manager string
}

// NewCollector creates a new Collector for the given manager name.
func NewCollector(manager string) *Collector {
	return &Collector{manager: manager}
}

// IncPasses increments the passes counter.
func (c *Collector) IncPasses() {
	PassesTotal.WithLabelValues(c.manager).Inc()
}

// IncPassFailures increments the rolled back passes counter for a reason.
func (c *Collector) IncPassFailures(reason string) {
	PassFailuresTotal.WithLabelValues(c.manager, reason).Inc()
}

// ObserveActions counts the actions of one pass by kind, and the
// reconfiguration, quorum loss and data loss signals among them.
func (c *Collector) ObserveActions(actions []failover.Action) {
	for _, a := range actions {
		ActionsTotal.WithLabelValues(c.manager, a.Kind.String()).Inc()
		switch a.Kind {
		case failover.ActionDoReconfiguration:
			ReconfigurationsTotal.WithLabelValues(c.manager).Inc()
		case failover.ActionQuorumLost:
			QuorumLostTotal.WithLabelValues(c.manager).Inc()
		case failover.ActionDataLoss:
			DataLossTotal.WithLabelValues(c.manager).Inc()
		}
	}
}

// AddDispatchFailures adds n undelivered actions.
func (c *Collector) AddDispatchFailures(n int) {
	DispatchFailuresTotal.WithLabelValues(c.manager).Add(float64(n))
}

// SetFailoverUnits sets the cached failover units gauge.
func (c *Collector) SetFailoverUnits(count int) {
	FailoverUnits.WithLabelValues(c.manager).Set(float64(count))
}

// SetQueuedFailoverUnits sets the queued failover units gauge.
func (c *Collector) SetQueuedFailoverUnits(count int) {
	QueuedFailoverUnits.WithLabelValues(c.manager).Set(float64(count))
}

// SetUpNodes sets the up nodes gauge.
func (c *Collector) SetUpNodes(count int) {
	UpNodes.WithLabelValues(c.manager).Set(float64(count))
}

// ObservePassDuration records a pass duration observation.
func (c *Collector) ObservePassDuration(seconds float64) {
	PassDuration.WithLabelValues(c.manager).Observe(seconds)
}
