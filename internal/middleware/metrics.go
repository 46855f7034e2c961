package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shelter-registry/shelter-registry/internal/telemetry"
)

// MetricsMiddleware records http_requests_total and http_request_duration_seconds.
// The path label is the matched route template (c.FullPath()); unmatched requests
// use "<no-route>" so scanners cannot blow up label cardinality. Token links are
// templated as /manage/:action/:token/, so tokens never reach a label.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}
		method := c.Request.Method

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
