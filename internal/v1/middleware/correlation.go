// Package middleware holds cross-cutting Gin middleware for the HTTP/polling
// surface: request-id propagation today, CORS is wired directly in cmd.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderXRequestID is the header clients may supply to propagate their own
// request id; the broker echoes it on the response either way.
const HeaderXRequestID = "X-Request-Id"

// RequestID assigns a request id (from the inbound header, or freshly
// generated) to the Gin context and echoes it on the response header so
// producer and consumer can correlate a single operation end to end.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderXRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set(HeaderXRequestID, id)
		c.Next()
	}
}
