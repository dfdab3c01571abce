package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	mergesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "timeline_merges_total",
			Help: "Total number of timeline reconciliations.",
		},
	)
	duplicatesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timeline_duplicates_dropped_total",
			Help: "Messages discarded during reconciliation because another copy was kept.",
		},
		[]string{"reason"},
	)
	cacheDegraded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timeline_cache_degraded_total",
			Help: "Local cache operations that degraded to a no-op.",
		},
		[]string{"op"},
	)
	placeholdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timeline_placeholders_total",
			Help: "Optimistic placeholder transitions.",
		},
		[]string{"outcome"},
	)
	liveEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timeline_live_events_total",
			Help: "Live update events by type and application result.",
		},
		[]string{"type", "result"},
	)
	paginationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timeline_pagination_loads_total",
			Help: "Older-history page loads by result.",
		},
		[]string{"result"},
	)
	remoteRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timeline_remote_retries_total",
			Help: "Retried remote calls by operation.",
		},
		[]string{"op"},
	)
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timeline_http_requests_total",
			Help: "Total number of inspection API requests.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "timeline_http_request_duration_seconds",
			Help:    "Inspection API request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(
		mergesTotal,
		duplicatesDropped,
		cacheDegraded,
		placeholdersTotal,
		liveEventsTotal,
		paginationTotal,
		remoteRetries,
		httpRequestsTotal,
		httpRequestDuration,
	)
}

func IncMerge() {
	mergesTotal.Inc()
}

func AddDuplicatesDropped(reason string, n int) {
	if n > 0 {
		duplicatesDropped.WithLabelValues(reason).Add(float64(n))
	}
}

func IncCacheDegraded(op string) {
	cacheDegraded.WithLabelValues(op).Inc()
}

func IncPlaceholder(outcome string) {
	placeholdersTotal.WithLabelValues(outcome).Inc()
}

func IncLiveEvent(eventType, result string) {
	liveEventsTotal.WithLabelValues(eventType, result).Inc()
}

func IncPagination(result string) {
	paginationTotal.WithLabelValues(result).Inc()
}

func IncRemoteRetry(op string) {
	remoteRetries.WithLabelValues(op).Inc()
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}
