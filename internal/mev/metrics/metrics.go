// Package metrics exposes the engine's Prometheus collectors: queue
// depth, breaker state, approval throughput, and edge/bundle outcomes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every Prometheus collector the engine exposes.
type Registry struct {
	QueueDepth         prometheus.Gauge
	QueueEnqueued      *prometheus.CounterVec
	QueueDequeued      *prometheus.CounterVec

	BreakerState       *prometheus.GaugeVec
	BreakerTrips       *prometheus.CounterVec

	ApprovalsCreated   *prometheus.CounterVec
	ApprovalsResolved  *prometheus.CounterVec
	ApprovalsPending   prometheus.Gauge

	EdgesDetected      *prometheus.CounterVec
	EdgesRejected      *prometheus.CounterVec
	EdgeLatency        *prometheus.HistogramVec

	BundlesSubmitted   *prometheus.CounterVec
	BundleTipLamports  prometheus.Histogram

	SettlementPnLSOL   *prometheus.HistogramVec

	AgentHealth        *prometheus.GaugeVec
	SwarmPaused        prometheus.Gauge
}

// New constructs and registers every collector against reg.
func New(reg *prometheus.Registry) *Registry {
	m := &Registry{
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mevengine_queue_depth",
			Help: "Number of edges currently waiting in the priority execution queue.",
		}),
		QueueEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mevengine_queue_enqueued_total",
			Help: "Total edges enqueued, by execution mode.",
		}, []string{"execution_mode"}),
		QueueDequeued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mevengine_queue_dequeued_total",
			Help: "Total edges dequeued for execution.",
		}, []string{"execution_mode"}),

		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mevengine_breaker_state",
			Help: "Circuit breaker state per name (0=closed, 1=half-open, 2=open).",
		}, []string{"breaker"}),
		BreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mevengine_breaker_trips_total",
			Help: "Total times a breaker transitioned into the open state.",
		}, []string{"breaker"}),

		ApprovalsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mevengine_approvals_created_total",
			Help: "Total pending approvals created, by type.",
		}, []string{"type"}),
		ApprovalsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mevengine_approvals_resolved_total",
			Help: "Total approvals resolved, by outcome.",
		}, []string{"outcome"}),
		ApprovalsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mevengine_approvals_pending",
			Help: "Number of approvals currently awaiting a decision.",
		}),

		EdgesDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mevengine_edges_detected_total",
			Help: "Total edges derived from signals, by strategy kind.",
		}, []string{"strategy_kind"}),
		EdgesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mevengine_edges_rejected_total",
			Help: "Total dequeued edges dropped before bundle submission (capital, build or signing refusal), by reason.",
		}, []string{"reason"}),
		EdgeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mevengine_edge_signal_to_queue_seconds",
			Help:    "Latency from signal detection to edge enqueue.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}, []string{"strategy_kind"}),

		BundlesSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mevengine_bundles_submitted_total",
			Help: "Total bundles submitted to the block engine, by terminal status.",
		}, []string{"status"}),
		BundleTipLamports: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mevengine_bundle_tip_lamports",
			Help:    "Tip amount attached to submitted bundles, in lamports.",
			Buckets: prometheus.ExponentialBuckets(1000, 2, 10),
		}),

		SettlementPnLSOL: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mevengine_settlement_pnl_sol",
			Help:    "Resolved settlement PnL in SOL, by source.",
			Buckets: []float64{-1, -0.1, -0.01, 0, 0.01, 0.1, 1, 10},
		}, []string{"source"}),

		AgentHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mevengine_agent_health",
			Help: "Per-agent health (0=healthy, 1=degraded, 2=unhealthy, 3=dead).",
		}, []string{"agent_type", "agent_id"}),
		SwarmPaused: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mevengine_swarm_paused",
			Help: "1 if the swarm is currently paused by the overseer, else 0.",
		}),
	}

	reg.MustRegister(
		m.QueueDepth, m.QueueEnqueued, m.QueueDequeued,
		m.BreakerState, m.BreakerTrips,
		m.ApprovalsCreated, m.ApprovalsResolved, m.ApprovalsPending,
		m.EdgesDetected, m.EdgesRejected, m.EdgeLatency,
		m.BundlesSubmitted, m.BundleTipLamports,
		m.SettlementPnLSOL,
		m.AgentHealth, m.SwarmPaused,
	)
	return m
}

// Handler returns an http.Handler serving reg's metrics in Prometheus
// exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// agentHealthValue maps a coarse health label to the gauge's numeric scale.
func agentHealthValue(health string) float64 {
	switch health {
	case "healthy":
		return 0
	case "degraded":
		return 1
	case "unhealthy":
		return 2
	case "dead":
		return 3
	default:
		return -1
	}
}

// SetAgentHealth records agentType/agentID's current health.
func (m *Registry) SetAgentHealth(agentType, agentID, health string) {
	m.AgentHealth.WithLabelValues(agentType, agentID).Set(agentHealthValue(health))
}

// breakerStateValue maps a breaker's state name to the gauge's numeric scale.
func breakerStateValue(state string) float64 {
	switch state {
	case "closed":
		return 0
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return -1
	}
}

// SetBreakerState records name's current circuit-breaker state.
func (m *Registry) SetBreakerState(name, state string) {
	m.BreakerState.WithLabelValues(name).Set(breakerStateValue(state))
}
