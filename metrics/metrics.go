package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obuoy_http_requests_total",
			Help: "Total number of HTTP requests served",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "obuoy_http_request_duration_seconds",
			Help:    "Time taken to serve HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obuoy_http_panics_recovered_total",
			Help: "Total number of handler panics turned into error pages",
		},
		[]string{"method", "route"},
	)

	AntiforgeryRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obuoy_antiforgery_rejections_total",
			Help: "Total number of requests rejected by anti-forgery validation",
		},
		[]string{"reason"},
	)

	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "obuoy_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)

	OutboundRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obuoy_outbound_requests_total",
			Help: "Total number of outbound HTTP requests by named client",
		},
		[]string{"client", "status"},
	)

	OutboundRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "obuoy_outbound_request_duration_seconds",
			Help:    "Latency of outbound HTTP requests by named client",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"client"},
	)

	FeedPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obuoy_feed_polls_total",
			Help: "Total number of station feed fetches",
		},
		[]string{"result"},
	)

	ObservationsStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "obuoy_observations_stored_total",
			Help: "Total number of new observations written to storage",
		},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obuoy_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obuoy_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache"},
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obuoy_cache_errors_total",
			Help: "Total number of cache errors",
		},
		[]string{"cache", "operation"},
	)

	LiveClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "obuoy_live_clients",
			Help: "Number of connected live-update clients",
		},
	)
)
