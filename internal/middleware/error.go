package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/httputil"
	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/logger"
)

// ErrorHandler renders the last error a handler attached with c.Error, unless
// the handler already wrote a response.
func ErrorHandler(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only handle errors if they exist
		if len(c.Errors) == 0 {
			return
		}

		for _, e := range c.Errors {
			log.Debug("Request error",
				"request_id", c.GetString(ContextRequestID),
				"path", c.Request.URL.Path,
				"error", e.Error())
		}

		if c.Writer.Written() {
			return
		}
		httputil.RespondWithError(c, c.Errors.Last().Err)
	}
}
