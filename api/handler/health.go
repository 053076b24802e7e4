package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/web2api/browser"
	"github.com/use-agent/web2api/cache"
	"github.com/use-agent/web2api/recipe"
)

// Health handles GET /health. Reports "degraded" instead of "ok" when
// the browser is gone or fewer than 20% of contexts remain lendable,
// so load balancers can drain the instance before it fails outright.
func Health(reg *recipe.Registry, pool *browser.Pool, cc *cache.Cache, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		ph := pool.Health()

		status := "ok"
		if !ph.BrowserConnected || ph.TotalContexts == 0 ||
			ph.AvailableContexts*5 < ph.TotalContexts {
			status = "degraded"
		}

		c.JSON(http.StatusOK, gin.H{
			"status":         status,
			"uptime_seconds": int64(time.Since(startTime).Seconds()),
			"sites":          reg.Count(),
			"pool":           ph,
			"cache":          cc.Stats(),
		})
	}
}
