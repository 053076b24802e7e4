package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/web2api/api/handler"
	"github.com/use-agent/web2api/api/middleware"
	"github.com/use-agent/web2api/browser"
	"github.com/use-agent/web2api/cache"
	"github.com/use-agent/web2api/config"
	"github.com/use-agent/web2api/engine"
	"github.com/use-agent/web2api/recipe"
)

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health endpoint is intentionally outside auth so monitoring probes always work.
func NewRouter(reg *recipe.Registry, eng *engine.Engine, pool *browser.Pool, cc *cache.Cache, cfg *config.Config, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")

	// Health — no auth required.
	v1.GET("/health", handler.Health(reg, pool, cc, startTime))

	// Protected group — auth + rate limit.
	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(cfg.RateLimit))

	protected.GET("/sites", handler.Sites(reg))
	protected.GET("/sites/:slug", handler.Site(reg))
	protected.GET("/sites/:slug/:endpoint", handler.Scrape(reg, eng, cc))

	return r
}
