// Package metrics exposes Prometheus instrumentation for the discovery
// pipeline plus the /metrics and /healthz HTTP surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all CryptoScout metrics.
type Registry struct {
	RunsTotal     *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec

	FetchErrors   *prometheus.CounterVec
	PowerUsersRun *prometheus.CounterVec

	AccountsDiscovered prometheus.Counter
	AccountsPersisted  prometheus.Counter
	AccountsExported   prometheus.Counter
	AccountsDropped    *prometheus.CounterVec

	ActiveRun prometheus.Gauge

	registry *prometheus.Registry
}

// NewRegistry creates and registers all pipeline metrics.
func NewRegistry() *Registry {
	r := &Registry{
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptoscout_runs_total",
				Help: "Total discovery runs by terminal state",
			},
			[]string{"state"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cryptoscout_stage_duration_seconds",
				Help:    "Duration of each pipeline stage in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"stage"},
		),
		FetchErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptoscout_fetch_errors_total",
				Help: "Graph API fetch errors by class",
			},
			[]string{"class"},
		),
		PowerUsersRun: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptoscout_power_users_total",
				Help: "Power users processed per run by outcome",
			},
			[]string{"outcome"},
		),
		AccountsDiscovered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cryptoscout_accounts_discovered_total",
				Help: "Unique accounts aggregated from follow events",
			},
		),
		AccountsPersisted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cryptoscout_accounts_persisted_total",
				Help: "Qualifying accounts written to the discovery store",
			},
		),
		AccountsExported: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cryptoscout_accounts_exported_total",
				Help: "Qualifying accounts handed to exporters",
			},
		),
		AccountsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptoscout_accounts_dropped_total",
				Help: "Accounts dropped before filtering by reason",
			},
			[]string{"reason"},
		),
		ActiveRun: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cryptoscout_active_run",
				Help: "1 while a discovery run is executing",
			},
		),
		registry: prometheus.NewRegistry(),
	}

	r.registry.MustRegister(
		r.RunsTotal, r.StageDuration, r.FetchErrors, r.PowerUsersRun,
		r.AccountsDiscovered, r.AccountsPersisted, r.AccountsExported,
		r.AccountsDropped, r.ActiveRun,
	)
	return r
}

// Prometheus returns the underlying registry for the HTTP handler.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.registry
}
