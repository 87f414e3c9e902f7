// Package metrics exposes Prometheus counters for the ingestion pipeline and
// a small HTTP surface (/health, /metrics) served during `run`.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all depthwatch metrics.
type Registry struct {
	reg *prometheus.Registry

	// Action pipeline
	ActionsCommitted prometheus.Counter
	ActionsDropped   *prometheus.CounterVec
	CommitFailures   prometheus.Counter

	// Listener health
	WSReconnects    *prometheus.CounterVec
	MessagesDropped *prometheus.CounterVec
	ListenersActive prometheus.Gauge

	// Snapshot generator
	SnapshotsWritten prometheus.Counter
	TicksSkipped     prometheus.Counter
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide registry, creating it on first use.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a registry with all depthwatch metrics registered.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		ActionsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "depthwatch_actions_committed_total",
			Help: "Total actions persisted through batch commits",
		}),
		ActionsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "depthwatch_actions_dropped_total",
			Help: "Total actions dropped, by reason",
		}, []string{"reason"}),
		CommitFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "depthwatch_commit_failures_total",
			Help: "Total store commit failures (batch retained and retried)",
		}),

		WSReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "depthwatch_ws_reconnects_total",
			Help: "Total websocket reconnect attempts, by venue",
		}, []string{"venue"}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "depthwatch_messages_dropped_total",
			Help: "Total venue messages dropped, by venue and reason",
		}, []string{"venue", "reason"}),
		ListenersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "depthwatch_listeners_active",
			Help: "Number of listeners currently running",
		}),

		SnapshotsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "depthwatch_snapshots_written_total",
			Help: "Total order book snapshots written",
		}),
		TicksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "depthwatch_snapshot_ticks_skipped_total",
			Help: "Total snapshot ticks skipped because the book was empty or one-sided",
		}),
	}

	r.reg.MustRegister(
		r.ActionsCommitted,
		r.ActionsDropped,
		r.CommitFailures,
		r.WSReconnects,
		r.MessagesDropped,
		r.ListenersActive,
		r.SnapshotsWritten,
		r.TicksSkipped,
	)
	return r
}
