package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"translator-backend/internal/shared/config"
	"translator-backend/internal/shared/metrics"
	"translator-backend/internal/shared/server/middleware"
	"translator-backend/internal/shared/server/respond"
	"translator-backend/internal/translations"
)

const (
	rateGroupDefault = "DEFAULT"
	rateGroupPolling = "POLLING"
	rateGroupUpload  = "UPLOAD"
)

var rateRules = map[string]middleware.RateLimitRule{
	rateGroupDefault: {Rate: 2, Burst: 20},
	rateGroupPolling: {Rate: 5, Burst: 30},
	rateGroupUpload:  {Rate: 0.2, Burst: 3},
}

// RouterDeps are the handlers and settings the router mounts.
type RouterDeps struct {
	Config             config.Config
	TranslationHandler *translations.Handler
	Ready              func() error
	RateLimiter        *middleware.RateLimiter
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		middleware.Auth("/api/v1/health", "/api/v1/ready", "/metrics"),
		middleware.RateLimit(middleware.RateLimitConfig{
			DefaultGroup: rateGroupDefault,
			GroupFor:     rateGroupFor,
			Limiter:      deps.RateLimiter,
			Rules:        rateRules,
		}),
	)

	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		respond.JSON(c, http.StatusOK, gin.H{"ok": true})
	})
	api.GET("/ready", func(c *gin.Context) {
		if deps.Ready != nil {
			if err := deps.Ready(); err != nil {
				respond.Error(c, http.StatusServiceUnavailable, "not_ready", err.Error(), nil)
				return
			}
		}
		respond.JSON(c, http.StatusOK, gin.H{"ok": true})
	})
	registerMeRoutes(api, rateRules[rateGroupUpload])
	if deps.TranslationHandler != nil {
		deps.TranslationHandler.RegisterRoutes(api)
	}

	return r
}

func rateGroupFor(c *gin.Context) string {
	switch {
	case c.Request.Method == http.MethodGet && c.FullPath() == "/api/v1/translations/:id":
		return rateGroupPolling
	case c.Request.Method == http.MethodPost && c.FullPath() == "/api/v1/translations":
		return rateGroupUpload
	case c.FullPath() == "/api/v1/health" || c.FullPath() == "/metrics":
		return "NONE"
	default:
		return rateGroupDefault
	}
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
