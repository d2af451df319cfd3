package bridge

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sunat-client/internal/services/health"
	"sunat-client/internal/shared/config"
	"sunat-client/internal/shared/server"
	"sunat-client/internal/shared/server/middleware"
)

// Rate limit groups. Polling reads are cheap and frequent; long calls hold a
// backend poll loop open for minutes.
const (
	groupDefault = middleware.DefaultRateGroup
	groupPolling = "POLLING"
	groupLong    = "LONG"
)

// DefaultRateLimits are applied per RUC (or client IP). At most two long
// calls per RUC wait on the backend at once.
var DefaultRateLimits = map[string]middleware.RateLimitRule{
	groupDefault: {Rate: 5, Burst: 20},
	groupPolling: {Rate: 10, Burst: 40},
	groupLong:    {Rate: 0.5, Burst: 4, MaxInFlight: 2},
}

// Deps are the collaborators the bridge serves.
type Deps struct {
	Config  config.Config
	Handler *Handler
	Health  *health.Service
}

// NewRouter builds the bridge engine.
func NewRouter(d Deps) *gin.Engine {
	r, api := server.NewEngine(server.EngineOptions{
		AllowOrigins: d.Config.CORSAllowOrigin,
		Token:        d.Config.BridgeToken,
		DefaultRUC:   d.Config.DefaultRUC,
		RateLimits:   DefaultRateLimits,
		GroupFor:     rateGroup,
		Health:       d.Health,
	})
	d.Handler.RegisterRoutes(api)
	return r
}

func rateGroup(c *gin.Context) string {
	switch {
	case c.Request.Method == http.MethodGet && (c.FullPath() == "/api/v1/tickets/:id" || c.FullPath() == "/api/v1/ple/:bookId/workflow"):
		return groupPolling
	case c.Request.Method == http.MethodPost && (c.FullPath() == "/api/v1/tickets/:id/download" || c.FullPath() == "/api/v1/ple/:bookId/workflow"):
		return groupLong
	default:
		return groupDefault
	}
}
