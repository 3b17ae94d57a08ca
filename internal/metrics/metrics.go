// Package metrics exposes the engine's Prometheus collectors.
package metrics

// #region imports
import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// #endregion

// #region collectors

var (
	// RunsTotal counts terminal run statuses.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "muse_runs_total",
		Help: "Completed runs by terminal status.",
	}, []string{"status"})

	// DiscoveriesTotal counts novel discoveries by tier.
	DiscoveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "muse_discoveries_total",
		Help: "Novel discoveries written to the registry, by tier.",
	}, []string{"tier"})

	// UpsertRetries counts transient-store retries.
	UpsertRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "muse_upsert_retries_total",
		Help: "Registry upsert attempts retried after a transient error.",
	})

	// NamingFallbacks counts fallback-identifier assignments.
	NamingFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "muse_naming_fallbacks_total",
		Help: "Discoveries assigned a fallback name after collision exhaustion.",
	})

	// CoveragePct tracks per-domain registry coverage.
	CoveragePct = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "muse_coverage_pct",
		Help: "Fraction of a domain's estimated key space present in the registry.",
	}, []string{"domain"})

	// ExploitRatio tracks the last effective exploit ratio per worker.
	ExploitRatio = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "muse_exploit_ratio",
		Help: "Effective exploit ratio used for the most recent decision.",
	}, []string{"worker"})
)

// #endregion
