package respond

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"sunat-client/internal/shared/apierr"
	"sunat-client/internal/shared/telemetry"
)

// ErrorBody defines the standardized error object.
type ErrorBody struct {
	Code     string      `json:"code"`
	Message  string      `json:"message"`
	Details  any         `json:"details,omitempty"`
	CanRetry bool        `json:"can_retry,omitempty"`
}

// ErrorResponse wraps the error body.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// Error sends a standardized error response.
func Error(c *gin.Context, status int, code, message string, details any) {
	writeError(c, status, ErrorBody{Code: code, Message: message, Details: details})
}

// FromError maps a client error to its HTTP status and writes it.
func FromError(c *gin.Context, err error) {
	body := ErrorBody{Code: string(apierr.KindOf(err)), Message: apierr.Message(err)}
	var e *apierr.Error
	if errors.As(err, &e) {
		if e.Code != "" {
			body.Code = e.Code
		}
		if len(e.Details) > 0 {
			body.Details = e.Details
		}
		body.CanRetry = e.CanRetry
	}
	if body.Code == "" {
		body.Code = "internal"
	}
	writeError(c, StatusFor(err), body)
}

// StatusFor returns the HTTP status for err's kind.
func StatusFor(err error) int {
	switch apierr.KindOf(err) {
	case apierr.KindValidation:
		return http.StatusBadRequest
	case apierr.KindNotFound:
		return http.StatusNotFound
	case apierr.KindNotReady, apierr.KindCancelled:
		return http.StatusConflict
	case apierr.KindExpired:
		return http.StatusGone
	case apierr.KindTimeout:
		return http.StatusGatewayTimeout
	case apierr.KindTicketFailed:
		return http.StatusUnprocessableEntity
	case apierr.KindTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, status int, body ErrorBody) {
	fields := map[string]any{
		"status":     status,
		"code":       body.Code,
		"message":    body.Message,
		"path":       c.Request.URL.Path,
		"method":     c.Request.Method,
		"request_id": c.GetString("requestId"),
	}
	if ruc := c.GetString("ruc"); ruc != "" {
		fields["ruc"] = ruc
	}
	if status >= http.StatusInternalServerError {
		telemetry.Error("http.error", fields)
	} else {
		telemetry.Warn("http.error", fields)
	}

	c.AbortWithStatusJSON(status, ErrorResponse{Error: body})
}
