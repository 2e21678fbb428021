package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors
type Metrics struct {
	registry *prometheus.Registry

	WebhookEvents       *prometheus.CounterVec
	ActivitiesPersisted prometheus.Counter
	ResolverTier        *prometheus.CounterVec
	CacheLookups        *prometheus.CounterVec
	StrategyExecutions  *prometheus.CounterVec
	TickDuration        prometheus.Histogram
	RateLimited         *prometheus.CounterVec
}

// New creates and registers the collectors on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		WebhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_events_total",
				Help: "Total number of webhook notifications by outcome",
			},
			[]string{"outcome"},
		),
		ActivitiesPersisted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "watcher_activities_persisted_total",
				Help: "Total number of activity records written",
			},
		),
		ResolverTier: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "token_metadata_resolutions_total",
				Help: "Total number of token metadata resolutions by answering tier",
			},
			[]string{"source"},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_lookups_total",
				Help: "Total number of in-process cache lookups",
			},
			[]string{"cache", "result"},
		),
		StrategyExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strategy_executions_total",
				Help: "Total number of strategy executions by type and outcome",
			},
			[]string{"strategy_type", "outcome"},
		),
		TickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scheduler_tick_duration_seconds",
				Help:    "Duration of scheduler ticks",
				Buckets: prometheus.DefBuckets,
			},
		),
		RateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_rate_limited_total",
				Help: "Total number of requests rejected by the rate limiter",
			},
			[]string{"route"},
		),
	}

	m.registry.MustRegister(
		m.WebhookEvents,
		m.ActivitiesPersisted,
		m.ResolverTier,
		m.CacheLookups,
		m.StrategyExecutions,
		m.TickDuration,
		m.RateLimited,
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry for scraping
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCache records a cache hit or miss
func (m *Metrics) ObserveCache(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(cache, result).Inc()
}
