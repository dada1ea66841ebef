// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file holds the Prometheus stage. Labels are kept bounded: the route
// template (never the raw path of a matched route), the method, the status
// and the route's rate-limit class.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tbourn/go-cert-backend/internal/ratelimit"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route, method, final status and rate-limit class.",
		},
		[]string{"method", "path", "status", "class"},
	)

	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Time spent in the inner stages and handler.",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method", "path", "class"},
	)

	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "Requests currently inside the pipeline.",
		},
	)

	// Certificate payloads are small; listings of 100 items stay well under 256KiB.
	httpRespSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response body size in bytes.",
			Buckets: prometheus.ExponentialBuckets(256, 4, 7), // 256B..1MiB
		},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, httpRespSize)
}

// Metrics instruments requests of one rate-limit class. The status label is
// the status the request finishes with: the error stage renders after this
// one returns, so pending errors are resolved through StatusOf. Rate-limited
// requests never get here; the rate-limit stage counts those.
func Metrics(class ratelimit.Class) gin.HandlerFunc {
	cls := string(class)
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		path, method := routePath(c), c.Request.Method
		httpReqs.WithLabelValues(method, path, strconv.Itoa(StatusOf(c)), cls).Inc()
		httpLat.WithLabelValues(method, path, cls).Observe(time.Since(start).Seconds())
		// -1 when nothing was written yet (a pending error envelope).
		if size := c.Writer.Size(); size >= 0 {
			httpRespSize.WithLabelValues(method, path).Observe(float64(size))
		}
	}
}

// MetricsStage builds Metrics per route from RoutePolicy.Class.
func MetricsStage() Stage {
	return Stage{Name: StageMetrics, Build: func(p RoutePolicy) gin.HandlerFunc {
		return Metrics(classOf(p))
	}}
}

func classOf(p RoutePolicy) ratelimit.Class {
	if p.Class == "" {
		return ratelimit.ClassDefault
	}
	return p.Class
}

// routePath is the registered route, or the raw path when none matched.
func routePath(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return c.Request.URL.Path
}
