// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// Metrics instruments the relay's HTTP surface. Series share the "relay_http"
// prefix so they sit next to the socket collectors on the same /metrics page.
//
// Labels:
//
//   - method: HTTP verb
//   - route:  registered Gin route (e.g. /api/v1/voice-meetings), or
//     "unmatched" when nothing was routed
//   - code:   numeric status as a string
//
// WebSocket upgrades are hijacked by the socket server and never produce a
// normal response, so they are counted separately by outcome instead of
// polluting the latency and size histograms with connection lifetimes.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "relay"
	metricsSubsystem = "http"

	unmatchedRoute = "unmatched"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "requests_total",
			Help:      "HTTP requests served by the relay, by route and status.",
		},
		[]string{"method", "route", "code"},
	)

	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "request_duration_seconds",
			Help:      "Latency of non-upgrade HTTP requests.",
			// Emit calls are small fan-outs; the tail above 1s means a stuck store.
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method", "route"},
	)

	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "requests_inflight",
			Help:      "HTTP requests currently being handled.",
		},
	)

	httpRespSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "response_size_bytes",
			Help:      "Size of HTTP response bodies.",
			Buckets:   prometheus.ExponentialBuckets(128, 4, 8), // 128B..2MiB
		},
		[]string{"method", "route"},
	)

	wsUpgrades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "ws_upgrades_total",
			Help:      "WebSocket upgrade attempts by outcome (upgraded, rejected).",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, httpRespSize, wsUpgrades)
}

// Metrics returns a Gin middleware that records relay_http_* series for every
// request it wraps.
//
//	r.Use(middleware.Metrics())
//	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		upgrade := c.IsWebsocket()
		start := time.Now()
		if !upgrade {
			httpInflight.Inc()
			defer httpInflight.Dec()
		}

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		method := c.Request.Method
		status := c.Writer.Status()
		httpReqs.WithLabelValues(method, route, strconv.Itoa(status)).Inc()

		if upgrade {
			// The upgrader writes 101 on the hijacked conn, so gin only sees
			// the status when the handshake was refused.
			outcome := "upgraded"
			if status >= 400 {
				outcome = "rejected"
			}
			wsUpgrades.WithLabelValues(outcome).Inc()
			return
		}

		httpLat.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		if size := c.Writer.Size(); size >= 0 {
			httpRespSize.WithLabelValues(method, route).Observe(float64(size))
		}
	}
}
