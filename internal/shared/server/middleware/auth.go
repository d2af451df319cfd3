package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"sunat-client/internal/shared/server/respond"
	"sunat-client/internal/tickets"
)

const (
	ownerKey       = "ruc"
	ownerSourceKey = "rucSource"
)

// Auth checks the optional bridge token and resolves the taxpayer (RUC) the
// request acts for: X-Ruc header, then ?ruc=, then defaultRUC.
func Auth(token, defaultRUC string) gin.HandlerFunc {
	token = strings.TrimSpace(token)
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			return
		}

		if token != "" {
			authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
			if !strings.HasPrefix(authHeader, "Bearer ") {
				respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
				return
			}
			got := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer"))
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
				return
			}
		}

		ruc, source := strings.TrimSpace(c.GetHeader("X-Ruc")), "header"
		if ruc == "" {
			ruc, source = strings.TrimSpace(c.Query("ruc")), "query"
		}
		if ruc == "" {
			ruc, source = strings.TrimSpace(defaultRUC), "default"
		}
		if ruc != "" {
			if !tickets.ValidRUC(ruc) {
				respond.Error(c, http.StatusBadRequest, "validation", "RUC must be 11 digits", nil)
				return
			}
			c.Set(ownerKey, ruc)
			c.Set(ownerSourceKey, source)
		}
		c.Next()
	}
}

// OwnerFromContext fetches the RUC resolved by the auth middleware.
func OwnerFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	val, _ := c.Get(ownerKey)
	if ruc, ok := val.(string); ok {
		return ruc
	}
	return ""
}

// OwnerSource reports where the RUC came from: header, query or default.
func OwnerSource(c *gin.Context) string {
	if c == nil {
		return ""
	}
	return c.GetString(ownerSourceKey)
}
