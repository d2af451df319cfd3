package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sunat-client/internal/shared/server/middleware"
	"sunat-client/internal/shared/server/respond"
)

// whoami tells the UI which taxpayer the agent will act for, so it can warn
// when it is running on the configured default.
type whoami struct {
	RUC       string `json:"ruc"`
	Source    string `json:"source"`
	RequestID string `json:"requestId,omitempty"`
}

func registerMeRoutes(rg *gin.RouterGroup) {
	rg.GET("/me", func(c *gin.Context) {
		ruc := middleware.OwnerFromContext(c)
		if ruc == "" {
			respond.Error(c, http.StatusBadRequest, "validation", "no RUC selected; send X-Ruc or set DEFAULT_RUC", nil)
			return
		}
		respond.OK(c, whoami{
			RUC:       ruc,
			Source:    middleware.OwnerSource(c),
			RequestID: middleware.RequestIDFromContext(c),
		})
	})
}
