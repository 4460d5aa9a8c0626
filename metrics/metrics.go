package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PassesTotal tracks the total number of pipeline passes run.
var PassesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "failover_manager_passes_total",
		Help: "Total pipeline passes run",
	},
	[]string{"manager"},
)

// PassFailuresTotal tracks passes whose actions were discarded, by reason.
var PassFailuresTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "failover_manager_pass_failures_total",
		Help: "Total pipeline passes rolled back",
	},
	[]string{"manager", "reason"},
)

// ActionsTotal tracks the total number of actions produced, by kind.
var ActionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "failover_manager_actions_total",
		Help: "Total actions produced",
	},
	[]string{"manager", "action"},
)

// ReconfigurationsTotal tracks the total number of DoReconfiguration requests sent.
var ReconfigurationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "failover_manager_reconfigurations_total",
		Help: "Total reconfigurations started or resent",
	},
	[]string{"manager"},
)

// QuorumLostTotal tracks the total number of quorum loss signals.
var QuorumLostTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "failover_manager_quorum_lost_total",
		Help: "Total quorum loss signals",
	},
	[]string{"manager"},
)

// DataLossTotal tracks the total number of data loss recoveries.
var DataLossTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "failover_manager_data_loss_total",
		Help: "Total data loss recoveries",
	},
	[]string{"manager"},
)

// DispatchFailuresTotal tracks actions the transport could not deliver.
var DispatchFailuresTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "failover_manager_dispatch_failures_total",
		Help: "Total actions not delivered",
	},
	[]string{"manager"},
)

// FailoverUnits tracks the current number of cached failover units.
var FailoverUnits = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "failover_manager_failover_units",
		Help: "Current cached failover units",
	},
	[]string{"manager"},
)

// QueuedFailoverUnits tracks the failover units with pending work.
var QueuedFailoverUnits = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "failover_manager_queued_failover_units",
		Help: "Current failover units waiting for a worker",
	},
	[]string{"manager"},
)

// UpNodes tracks the current number of up nodes.
var UpNodes = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "failover_manager_up_nodes",
		Help: "Current up nodes",
	},
	[]string{"manager"},
)

// PassDuration tracks time spent in one lock, run, commit and dispatch cycle.
var PassDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "failover_manager_pass_duration_seconds",
		Help:    "Time spent in one pipeline pass including persistence and dispatch",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"manager"},
)
