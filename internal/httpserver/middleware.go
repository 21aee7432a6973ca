package httpserver

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tinytelemetry/pulse/internal/logging"
)

const requestIDHeader = "X-Request-ID"

// requestLogger tags each request with an id and logs it once served.
func requestLogger(base *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header(requestIDHeader, reqID)

		l := logging.WithRequestID(base, reqID)
		c.Request = c.Request.WithContext(logging.WithContext(c.Request.Context(), l))

		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			l.Warn("request failed", append(fields, zap.String("errors", c.Errors.String()))...)
			return
		}
		l.Debug("request", fields...)
	}
}
