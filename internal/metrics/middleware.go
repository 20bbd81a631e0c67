package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// HTTPRecorder is the subset of Collector the admin-API middleware needs
// to record one request's outcome.
type HTTPRecorder interface {
	RecordHTTPRequest(method, path string, status int)
	RecordHTTPDuration(method, endpoint string, duration float64)
}

// AdminRequestLogger times and records every request against recorder,
// then logs it at debug level through logger — the same zerolog shape
// internal/httprequester uses for its own retry logging, applied here to
// adminapi's read-only surface instead of outbound calls.
func AdminRequestLogger(recorder HTTPRecorder, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		elapsed := time.Since(start)
		status := c.Writer.Status()

		if recorder != nil {
			recorder.RecordHTTPRequest(method, path, status)
			recorder.RecordHTTPDuration(method, path, elapsed.Seconds())
		}

		logger.Debug().
			Str("method", method).
			Str("path", path).
			Int("status", status).
			Dur("elapsed", elapsed).
			Msg("adminapi: request")
	}
}
