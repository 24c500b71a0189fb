package middleware

import (
	ctxlog "github.com/ErlanBelekov/alerting-scheduler/internal/log"
	"github.com/gin-gonic/gin"
)

const (
	requestIDHeader = "X-Request-ID"
	maxRequestIDLen = 128
)

// RequestID puts a request ID on the context and the response. An inbound
// X-Request-ID is kept unless it is empty or longer than maxRequestIDLen.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > maxRequestIDLen {
			id = ctxlog.NewRequestID()
		}

		c.Request = c.Request.WithContext(ctxlog.WithRequestID(c.Request.Context(), id))
		c.Header(requestIDHeader, id)
		c.Next()
	}
}
