package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"

	"translator-backend/internal/shared/server/respond"
	"translator-backend/internal/shared/telemetry"
)

// Recovery turns a handler panic into a 500 response and a single
// http.panic log line carrying the request, user and job identifiers.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}
			fields := map[string]any{
				"request_id": RequestIDFromContext(c),
				"error":      rec,
				"stack":      string(debug.Stack()),
				"path":       c.Request.URL.Path,
				"method":     c.Request.Method,
			}
			if userID := c.GetString("userId"); userID != "" {
				fields["user_id"] = userID
			}
			if jobID := c.GetString("jobId"); jobID != "" {
				fields["job_id"] = jobID
			}
			telemetry.Error("http.panic", fields)
			if c.Writer.Written() {
				c.Abort()
				return
			}
			respond.Error(c, http.StatusInternalServerError, "internal", "Unexpected server error", nil)
		}()
		c.Next()
	}
}
