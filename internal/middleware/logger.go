package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/logger"
)

// Logger returns a middleware that logs HTTP requests. Query strings are not
// logged because approval links carry their token there.
func Logger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		// Process request
		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		fields := []interface{}{
			"request_id", c.GetString(ContextRequestID),
			"client_ip", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", statusCode,
			"latency", latency.String(),
			"user_agent", c.Request.UserAgent(),
		}

		// Log based on status code
		switch {
		case statusCode >= 500:
			var err error
			if last := c.Errors.Last(); last != nil {
				err = last.Err
			}
			log.Error(err, "Server error", fields...)
		case statusCode >= 400:
			log.Warn("Client error", fields...)
		default:
			log.Info("Request processed", fields...)
		}
	}
}
