package middleware

import (
	"slices"
	"strconv"
	"time"

	"github.com/ErlanBelekov/alerting-scheduler/internal/metrics"
	"github.com/gin-gonic/gin"
)

// Metrics records latency and count per route. Requests to skip paths, such
// as probes and the scrape endpoint, are not recorded.
func Metrics(skip ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if slices.Contains(skip, path) {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		if path == "" {
			path = "unknown"
		}
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method

		metrics.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		metrics.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	}
}
