package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/arbedge/opportunity-engine/internal/obs"
)

// requestLogger mirrors the teacher's cmd/api/main.go request logging
// middleware: one structured log line per request, after it completes.
func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request handled")
	}
}

// metricsMiddleware instruments every request into obs.Metrics, grounded
// on the teacher's internal/metrics/middleware.go GinMiddleware: records
// by route pattern (c.FullPath(), falling back to the raw path for
// unmatched routes) so cardinality stays bounded.
func metricsMiddleware(m *obs.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		status := statusLabel(c.Writer.Status())
		duration := time.Since(start).Seconds()

		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(duration)
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
	}
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
