package respond

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"translator-backend/internal/shared/telemetry"
)

// ErrorBody is the error object every endpoint returns.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// ErrorResponse wraps the error body.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// Error aborts the request with a JSON error. Client errors are logged at
// warn level and server errors at error level.
func Error(c *gin.Context, status int, code, message string, details any) {
	requestID := c.GetString("requestId")
	fields := map[string]any{
		"status":     status,
		"code":       code,
		"message":    message,
		"path":       c.FullPath(),
		"method":     c.Request.Method,
		"request_id": requestID,
	}
	if fields["path"] == "" {
		fields["path"] = c.Request.URL.Path
	}
	if userID := c.GetString("userId"); userID != "" {
		fields["user_id"] = userID
	}
	if jobID := c.Param("id"); jobID != "" {
		fields["job_id"] = jobID
	}
	if status >= http.StatusInternalServerError {
		telemetry.Error("http.error", fields)
	} else {
		telemetry.Warn("http.error", fields)
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: ErrorBody{
			Code:      code,
			Message:   message,
			RequestID: requestID,
			Details:   details,
		},
	})
}
