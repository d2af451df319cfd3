package middleware

import (
	"io"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"sunat-client/internal/shared/server/respond"
	"sunat-client/internal/shared/telemetry"
)

// Recovery turns a handler panic into the standard 500 envelope. The stack is
// logged with the request's RUC, ticket and book so it can be matched to the
// backend call that was in flight.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, rec any) {
		telemetry.Error("http.panic", map[string]any{
			"request_id": RequestIDFromContext(c),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"ruc":        OwnerFromContext(c),
			"ticket_id":  c.GetString("ticketId"),
			"book_id":    c.GetString("bookId"),
			"error":      rec,
			"stack":      string(debug.Stack()),
		})
		respond.Error(c, http.StatusInternalServerError, "internal", "Unexpected agent error", nil)
	})
}
