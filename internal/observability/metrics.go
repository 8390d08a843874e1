package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stories_http_requests_total",
			Help: "Total number of HTTP requests processed by the stories service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stories_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stories_playback_sessions_active",
			Help: "Number of open playback sessions.",
		},
	)
	viewEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stories_view_events_total",
			Help: "Total number of view events dispatched, by outcome.",
		},
		[]string{"outcome"},
	)
	prefetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stories_prefetch_total",
			Help: "Total number of media prefetch attempts, by outcome.",
		},
		[]string{"outcome"},
	)
	wsActiveStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stories_ws_active_streams",
			Help: "Number of active websocket frame streams.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		sessionsActive,
		viewEventsTotal,
		prefetchTotal,
		wsActiveStreams,
	)
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

func IncSessionsActive() { sessionsActive.Inc() }
func DecSessionsActive() { sessionsActive.Dec() }

func IncViewEvent(outcome string) { viewEventsTotal.WithLabelValues(outcome).Inc() }

func IncPrefetch(outcome string) { prefetchTotal.WithLabelValues(outcome).Inc() }

func IncWSStreams() { wsActiveStreams.Inc() }
func DecWSStreams() { wsActiveStreams.Dec() }
