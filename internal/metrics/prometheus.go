package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	// Resolution metrics
	ResolutionsTotal   *prometheus.CounterVec
	ResolutionDuration *prometheus.HistogramVec

	// Cache metrics
	CacheHits     *prometheus.CounterVec
	CacheMisses   prometheus.Counter
	CacheErrors   *prometheus.CounterVec
	EvictedBytes  prometheus.Counter
	EvictedTotal  prometheus.Counter
	ExpiredPurged prometheus.Counter

	// Repository metrics
	FetchesTotal   *prometheus.CounterVec
	FetchDuration  *prometheus.HistogramVec
	FetchAttempts  prometheus.Histogram
	ValidationRejs *prometheus.CounterVec

	// Fallback metrics
	FallbackSteps   *prometheus.CounterVec
	RefreshesTotal  *prometheus.CounterVec
	RefreshQueueLen prometheus.Gauge

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers Prometheus metrics on the default registry
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates metrics registered on reg
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ResolutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptsource_resolutions_total",
				Help: "Total number of prompt resolutions by source",
			},
			[]string{"source"},
		),

		ResolutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "promptsource_resolution_duration_seconds",
				Help:    "Duration of prompt resolution",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		),

		CacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptsource_cache_hits_total",
				Help: "Total number of cache hits by tier",
			},
			[]string{"tier"},
		),

		CacheMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "promptsource_cache_misses_total",
				Help: "Total number of lookups that missed every tier",
			},
		),

		CacheErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptsource_cache_errors_total",
				Help: "Total number of tier failures",
			},
			[]string{"tier", "operation"},
		),

		EvictedBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "promptsource_cache_evicted_bytes_total",
				Help: "Bytes removed from the durable tier to stay within budget",
			},
		),

		EvictedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "promptsource_cache_evicted_entries_total",
				Help: "Entries removed from the durable tier to stay within budget",
			},
		),

		ExpiredPurged: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "promptsource_cache_expired_purged_total",
				Help: "Durable entries removed after their stale window",
			},
		),

		FetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptsource_repository_fetches_total",
				Help: "Total number of repository fetches by outcome",
			},
			[]string{"outcome"},
		),

		FetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "promptsource_repository_fetch_duration_seconds",
				Help:    "Duration of repository fetches including retries",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 20},
			},
			[]string{"outcome"},
		),

		FetchAttempts: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "promptsource_repository_fetch_attempts",
				Help:    "Attempts per repository fetch",
				Buckets: []float64{1, 2, 3, 4, 5},
			},
		),

		ValidationRejs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptsource_validation_rejections_total",
				Help: "Total number of rejected content files",
			},
			[]string{"reason"},
		),

		FallbackSteps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptsource_fallback_steps_total",
				Help: "Fallback steps attempted by step and outcome",
			},
			[]string{"step", "outcome"},
		),

		RefreshesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptsource_background_refreshes_total",
				Help: "Background refreshes by outcome",
			},
			[]string{"outcome"},
		),

		RefreshQueueLen: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "promptsource_background_refresh_queue_length",
				Help: "Refreshes waiting for a worker",
			},
		),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptsource_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),

		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "promptsource_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// RecordResolution records a completed resolution
func (m *Metrics) RecordResolution(source string, duration float64) {
	if m == nil {
		return
	}
	m.ResolutionsTotal.WithLabelValues(source).Inc()
	m.ResolutionDuration.WithLabelValues(source).Observe(duration)
}

// RecordCacheHit records a hit at a tier
func (m *Metrics) RecordCacheHit(tier string) {
	if m == nil {
		return
	}
	m.CacheHits.WithLabelValues(tier).Inc()
}

// RecordCacheMiss records a lookup that missed every tier
func (m *Metrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.CacheMisses.Inc()
}

// RecordCacheError records a tier failure
func (m *Metrics) RecordCacheError(tier, operation string) {
	if m == nil {
		return
	}
	m.CacheErrors.WithLabelValues(tier, operation).Inc()
}

// RecordEviction records a budget enforcement pass
func (m *Metrics) RecordEviction(entries, bytes int64) {
	if m == nil {
		return
	}
	m.EvictedTotal.Add(float64(entries))
	m.EvictedBytes.Add(float64(bytes))
}

// RecordExpiredPurge records durable entries removed after their stale window
func (m *Metrics) RecordExpiredPurge(entries int64) {
	if m == nil {
		return
	}
	m.ExpiredPurged.Add(float64(entries))
}

// RecordFetch records a repository fetch
func (m *Metrics) RecordFetch(outcome string, attempts uint, duration float64) {
	if m == nil {
		return
	}
	m.FetchesTotal.WithLabelValues(outcome).Inc()
	m.FetchDuration.WithLabelValues(outcome).Observe(duration)
	if attempts > 0 {
		m.FetchAttempts.Observe(float64(attempts))
	}
}

// RecordValidationRejection records rejected content
func (m *Metrics) RecordValidationRejection(reason string) {
	if m == nil {
		return
	}
	m.ValidationRejs.WithLabelValues(reason).Inc()
}

// RecordFallbackStep records one attempted fallback step
func (m *Metrics) RecordFallbackStep(step, outcome string) {
	if m == nil {
		return
	}
	m.FallbackSteps.WithLabelValues(step, outcome).Inc()
}

// RecordRefresh records a background refresh outcome
func (m *Metrics) RecordRefresh(outcome string) {
	if m == nil {
		return
	}
	m.RefreshesTotal.WithLabelValues(outcome).Inc()
}

// UpdateRefreshQueueLen updates the refresh backlog gauge
func (m *Metrics) UpdateRefreshQueueLen(n int) {
	if m == nil {
		return
	}
	m.RefreshQueueLen.Set(float64(n))
}

// RecordRequest records an HTTP request
func (m *Metrics) RecordRequest(method, route, status string, duration float64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, route, status).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(duration)
}
