package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"sunat-client/internal/shared/telemetry"
)

// quietPaths are probed every few seconds by the UI and load balancers.
var quietPaths = map[string]bool{"/health": true, "/metrics": true}

// Logging writes one request.complete line per call. Server errors log at
// error, client errors at warn. Ticket and book ids are included when the
// handler stored them.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions || quietPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := map[string]any{
			"request_id":        RequestIDFromContext(c),
			"method":            c.Request.Method,
			"route":             c.FullPath(),
			"path":              c.Request.URL.Path,
			"status":            status,
			"status_transition": c.GetString("statusTransition"),
			"duration_ms":       float64(time.Since(start).Microseconds()) / 1000,
			"ruc":               OwnerFromContext(c),
			"ticket_id":         c.GetString("ticketId"),
			"client_ip":         c.ClientIP(),
		}
		if book := c.GetString("bookId"); book != "" {
			fields["book_id"] = book
		}
		if len(c.Errors) > 0 {
			fields["error"] = c.Errors.String()
		}

		switch {
		case status >= http.StatusInternalServerError:
			telemetry.Error("request.complete", fields)
		case status >= http.StatusBadRequest:
			telemetry.Warn("request.complete", fields)
		default:
			telemetry.Info("request.complete", fields)
		}
	}
}
