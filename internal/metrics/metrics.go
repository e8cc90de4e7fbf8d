// Package metrics holds the prometheus collectors describing the health of
// the telemetry engine itself.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SamplerTicks counts sampler ticks by outcome (ok, error, skipped).
	SamplerTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "activity_sampler_ticks_total",
		Help: "Total number of activity sampler ticks",
	}, []string{"outcome"})

	SamplerTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "activity_sampler_tick_duration_seconds",
		Help:    "Duration of activity sampler ticks",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	// SamplesRecorded counts sample writes by result (ok, error).
	SamplesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "activity_samples_recorded_total",
		Help: "Total number of activity samples written",
	}, []string{"result"})

	// TenantsByState is the classification of the last completed tick.
	TenantsByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "activity_tenants",
		Help: "Tenants per liveness state at the last sampler tick",
	}, []string{"state"})

	// VolumeRefreshes counts volume cache refreshes by outcome (ok, error, skipped).
	VolumeRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "volume_size_cache_refreshes_total",
		Help: "Total number of volume size cache refresh attempts",
	}, []string{"outcome"})

	VolumeCacheAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "volume_size_cache_age_seconds",
		Help: "Age of the volume size cache at the last read",
	})

	StatsFetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "resource_stats_fetch_failures_total",
		Help: "Total number of failed container stats fetches",
	})

	PoolTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orchestrator_pool_timeouts_total",
		Help: "Total number of orchestrator calls that hit the call timeout",
	})
)
