package app

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"fleetd.io/fleetd/internal/api/handlers"
	"fleetd.io/fleetd/internal/api/middleware"
	"fleetd.io/fleetd/internal/config"
	"fleetd.io/fleetd/internal/pkg/logger"
	"fleetd.io/fleetd/internal/pkg/metrics"
)

// defaultAllowedOrigins are used when no origins are configured.
var defaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://localhost:8080",
}

// newRouter mounts the public probes and metrics at the root and the
// authenticated API under /v1.
func newRouter(cfg *config.Config, server *handlers.Server, jwtCfg middleware.JWTConfig,
	m *metrics.Metrics) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.ErrorHandler())
	router.Use(cors.New(buildCORSConfig(cfg)))

	router.GET("/healthz/live", server.GetLiveness)
	router.GET("/healthz/ready", server.GetReadiness)
	if m != nil {
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}

	v1 := router.Group("/v1",
		middleware.RateLimit(middleware.RateLimitConfig{
			PerMinute: cfg.RateLimit.PerMinute,
			Burst:     cfg.RateLimit.Burst,
		}),
		middleware.JWTAuth(jwtCfg),
		middleware.RequireMethodPermission(),
	)
	server.Register(v1)

	admin := v1.Group("/admin", middleware.RequirePermission(middleware.PermissionAdmin))
	admin.GET("/log-level", gin.WrapH(logger.LevelHandler()))
	admin.PUT("/log-level", gin.WrapH(logger.LevelHandler()))
	return router
}

// buildCORSConfig turns the server settings into a cors.Config. A "*"
// origin is dropped unless UnsafeAllowAllOrigins is set, and allowing all
// origins disables credentials.
func buildCORSConfig(cfg *config.Config) cors.Config {
	out := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders:    []string{middleware.RequestIDHeader, "Location"},
		AllowCredentials: cfg.Server.AllowCredentials,
		MaxAge:           12 * time.Hour,
	}

	if cfg.Server.UnsafeAllowAllOrigins {
		out.AllowAllOrigins = true
		out.AllowCredentials = false
		return out
	}

	origins := make([]string, 0, len(cfg.Server.AllowedOrigins))
	for _, origin := range cfg.Server.AllowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "" || origin == "*" {
			continue
		}
		origins = append(origins, origin)
	}
	if len(origins) == 0 {
		origins = append(origins, defaultAllowedOrigins...)
	}
	out.AllowOrigins = origins
	return out
}
