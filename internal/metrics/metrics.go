// Package metrics exposes the backend's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReconcilePasses counts reconciliation attempts by outcome.
	ReconcilePasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "croupier_reconcile_passes_total",
		Help: "Reconciliation passes over execution records, by result.",
	}, []string{"result"})

	// ReconcileDuration observes how long one reconciliation pass takes,
	// which bounds read-request latency in the request-driven model.
	ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "croupier_reconcile_duration_seconds",
		Help:    "Duration of single-execution reconciliation passes.",
		Buckets: prometheus.DefBuckets,
	})

	// AdapterErrors counts failed orchestrator calls by operation.
	AdapterErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "croupier_orchestrator_errors_total",
		Help: "Orchestrator adapter call failures, by operation.",
	}, []string{"operation"})

	// CatalogSyncs counts catalog synchronization runs by entity kind.
	CatalogSyncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "croupier_catalog_syncs_total",
		Help: "Catalog synchronization runs, by entity kind.",
	}, []string{"kind"})

	// ExecutionsByStatus gauges the execution records per status, refreshed
	// after each batch reconciliation.
	ExecutionsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "croupier_executions",
		Help: "Execution records by status.",
	}, []string{"status"})
)

// Result labels for ReconcilePasses.
const (
	ResultUpdated   = "updated"
	ResultUnchanged = "unchanged"
	ResultSettled   = "settled"
	ResultError     = "error"
)
