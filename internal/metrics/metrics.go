package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fetcharr",
		Subsystem: "jobs",
		Name:      "processed_total",
		Help:      "Jobs finished, by type and outcome.",
	}, []string{"type", "outcome"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fetcharr",
		Subsystem: "jobs",
		Name:      "duration_seconds",
		Help:      "Wall-clock job execution time.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"type"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fetcharr",
		Subsystem: "jobs",
		Name:      "queue_depth",
		Help:      "Pending jobs awaiting dispatch.",
	})

	QueueBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fetcharr",
		Subsystem: "jobs",
		Name:      "breaker_state",
		Help:      "Queue breaker state (0 closed, 1 half-open, 2 open).",
	})

	ProviderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fetcharr",
		Subsystem: "provider",
		Name:      "requests_total",
		Help:      "Outbound provider requests, by provider and result.",
	}, []string{"provider", "result"})

	ProviderRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fetcharr",
		Subsystem: "provider",
		Name:      "retries_total",
		Help:      "Retried provider requests.",
	}, []string{"provider"})

	ProviderBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fetcharr",
		Subsystem: "provider",
		Name:      "breaker_state",
		Help:      "Provider breaker state (0 closed, 1 half-open, 2 open).",
	}, []string{"provider"})

	RateLimitWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fetcharr",
		Subsystem: "provider",
		Name:      "rate_limit_waits_total",
		Help:      "Requests that blocked on the provider token bucket.",
	}, []string{"provider"})

	CacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fetcharr",
		Subsystem: "cache",
		Name:      "entries",
		Help:      "Live cache entries.",
	})

	CacheBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fetcharr",
		Subsystem: "cache",
		Name:      "bytes",
		Help:      "Bytes held by the asset cache.",
	})

	CacheGCRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fetcharr",
		Subsystem: "cache",
		Name:      "gc_removed_total",
		Help:      "Cache entries removed by garbage collection.",
	})

	CacheDedupeHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fetcharr",
		Subsystem: "cache",
		Name:      "dedupe_hits_total",
		Help:      "Store calls that resolved to an existing entry.",
	})

	PublishRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fetcharr",
		Subsystem: "publish",
		Name:      "runs_total",
		Help:      "Publish attempts, by outcome.",
	}, []string{"outcome"})

	PlayerNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fetcharr",
		Subsystem: "players",
		Name:      "notifications_total",
		Help:      "Player scan/notification deliveries, by kind and outcome.",
	}, []string{"kind", "outcome"})

	WebhooksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fetcharr",
		Subsystem: "webhooks",
		Name:      "received_total",
		Help:      "Manager webhooks received, by source and event.",
	}, []string{"source", "event"})
)
