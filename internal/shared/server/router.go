package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sunat-client/internal/services/health"
	"sunat-client/internal/shared/metrics"
	"sunat-client/internal/shared/server/middleware"
	"sunat-client/internal/shared/server/respond"
)

// EngineOptions configures the shared middleware chain.
type EngineOptions struct {
	AllowOrigins []string
	// Token, when set, is required as a bearer token on every request.
	Token      string
	DefaultRUC string
	RateLimits map[string]middleware.RateLimitRule
	GroupFor   func(*gin.Context) string
	Health     *health.Service
}

// NewEngine constructs the Gin engine with middleware, /health, /metrics and
// /api/v1/me registered. Callers add their routes to the returned group.
func NewEngine(opts EngineOptions) (*gin.Engine, *gin.RouterGroup) {
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(opts.AllowOrigins),
	)

	healthSvc := opts.Health
	if healthSvc == nil {
		healthSvc = health.NewService()
	}
	healthHandler := func(c *gin.Context) {
		report := healthSvc.Status(c.Request.Context())
		status := http.StatusOK
		if !report.OK {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(c, status, report)
	}
	r.GET("/health", healthHandler)
	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	api.Use(middleware.Auth(opts.Token, opts.DefaultRUC))
	if len(opts.RateLimits) > 0 {
		api.Use(middleware.RateLimit(middleware.RateLimitConfig{
			Rules:    opts.RateLimits,
			GroupFor: opts.GroupFor,
		}))
	}
	api.GET("/health", healthHandler)
	registerMeRoutes(api)

	return r, api
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
