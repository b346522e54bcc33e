// File: internal/metrics/metrics.go
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager holds all Prometheus metrics for the worker
type Manager struct {
	registry *prometheus.Registry

	// Provider health
	ProviderScore *prometheus.GaugeVec
	ProviderUp    *prometheus.GaugeVec
	ProbeLatency  *prometheus.HistogramVec

	// Block ingestion
	BlocksIngested prometheus.Counter
	TxsIngested    prometheus.Counter
	ReorgsDetected prometheus.Counter
	ReorgDepth     prometheus.Histogram
	ScannerLag     prometheus.Gauge

	// Rollup
	BucketsComputed prometheus.Counter

	// Alerts
	AlertEventsOpened prometheus.Counter
	AlertsOpen        prometheus.Gauge

	// Pipeline scheduling
	PipelineRuns     *prometheus.CounterVec
	PipelineErrors   *prometheus.CounterVec
	PipelineDuration *prometheus.HistogramVec
	PipelineSkips    *prometheus.CounterVec
}

// NewManager creates and registers all worker metrics
func NewManager() *Manager {
	registry := prometheus.NewRegistry()

	m := &Manager{
		registry: registry,

		ProviderScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chainpulse_provider_score",
			Help: "Current health score per RPC provider",
		}, []string{"provider"}),
		ProviderUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chainpulse_provider_up",
			Help: "Whether the provider answered its last probe",
		}, []string{"provider"}),
		ProbeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chainpulse_probe_latency_seconds",
			Help:    "Probe round-trip latency per provider",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),

		BlocksIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chainpulse_blocks_ingested_total",
			Help: "Total blocks durably ingested",
		}),
		TxsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chainpulse_txs_ingested_total",
			Help: "Total transactions durably ingested",
		}),
		ReorgsDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chainpulse_reorgs_detected_total",
			Help: "Total chain reorganizations detected",
		}),
		ReorgDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chainpulse_reorg_depth_blocks",
			Help:    "Depth of detected reorganizations in blocks",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
		}),
		ScannerLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chainpulse_scanner_lag_blocks",
			Help: "Blocks between the chain head and the scanner cursor",
		}),

		BucketsComputed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chainpulse_rollup_buckets_computed_total",
			Help: "Total minute buckets computed or recomputed",
		}),

		AlertEventsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chainpulse_alert_events_opened_total",
			Help: "Total alert events opened",
		}),
		AlertsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chainpulse_alerts_open",
			Help: "Currently open alert events",
		}),

		PipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chainpulse_pipeline_runs_total",
			Help: "Total pipeline ticks executed",
		}, []string{"pipeline"}),
		PipelineErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chainpulse_pipeline_errors_total",
			Help: "Total pipeline ticks that returned an error",
		}, []string{"pipeline"}),
		PipelineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chainpulse_pipeline_duration_seconds",
			Help:    "Pipeline tick duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"pipeline"}),
		PipelineSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chainpulse_pipeline_skips_total",
			Help: "Total ticks skipped because the previous run was still active",
		}, []string{"pipeline"}),
	}

	registry.MustRegister(
		m.ProviderScore, m.ProviderUp, m.ProbeLatency,
		m.BlocksIngested, m.TxsIngested, m.ReorgsDetected, m.ReorgDepth, m.ScannerLag,
		m.BucketsComputed,
		m.AlertEventsOpened, m.AlertsOpen,
		m.PipelineRuns, m.PipelineErrors, m.PipelineDuration, m.PipelineSkips,
	)

	return m
}

// Handler returns the HTTP handler for the /metrics endpoint
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
