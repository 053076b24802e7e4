package handler

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/web2api/cache"
	"github.com/use-agent/web2api/engine"
	"github.com/use-agent/web2api/models"
	"github.com/use-agent/web2api/recipe"
)

// Reserved query parameters consumed by the API itself. Everything
// else is passed through to the recipe as an extra parameter.
var reservedParams = map[string]struct{}{
	"page":  {},
	"query": {},
}

var (
	extraNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,63}$`)
	maxExtraValueLen = 512
)

// Scrape handles GET /sites/:slug/:endpoint. It validates request
// parameters, consults the cache, and only reaches the engine on a
// miss or a background refresh.
func Scrape(reg *recipe.Registry, eng *engine.Engine, cc *cache.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		slug := c.Param("slug")
		endpoint := c.Param("endpoint")

		rec := reg.Get(slug)
		if rec == nil {
			errorJSON(c, http.StatusNotFound, models.ErrCodeSiteNotFound,
				fmt.Sprintf("unknown site %q", slug))
			return
		}

		page := 1
		if raw := c.Query("page"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				errorJSON(c, http.StatusBadRequest, models.ErrCodeInvalidParams,
					fmt.Sprintf("page must be a positive integer, got %q", raw))
				return
			}
			page = n
		}

		var query *string
		if raw, ok := c.GetQuery("query"); ok {
			query = &raw
		}

		extra, err := extractExtraParams(c)
		if err != nil {
			errorJSON(c, http.StatusBadRequest, models.ErrCodeInvalidParams, err.Error())
			return
		}

		req := engine.Request{
			Endpoint: endpoint,
			Page:     page,
			Query:    query,
			Extra:    extra,
		}
		key := cache.NewKey(slug, endpoint, page, query, extra)

		state, hit := cc.Get(key)
		switch state {
		case cache.Fresh:
			hit.Metadata.Cached = true
			c.JSON(http.StatusOK, hit)
			return

		case cache.Stale:
			// Serve the stale copy now; refresh off the request path.
			// The refresh must not inherit the request context, it
			// outlives the request.
			cc.TriggerRefresh(key, func() *models.Response {
				return eng.Scrape(context.Background(), rec, req)
			})
			hit.Metadata.Cached = true
			c.JSON(http.StatusOK, hit)
			return
		}

		resp := eng.Scrape(c.Request.Context(), rec, req)
		if resp.Error == nil {
			cc.Set(key, resp)
			c.JSON(http.StatusOK, resp)
			return
		}
		c.JSON(statusForCode(resp.Error.Code), resp)
	}
}

// extractExtraParams validates every non-reserved query parameter.
func extractExtraParams(c *gin.Context) (map[string]string, error) {
	var extra map[string]string
	for name, values := range c.Request.URL.Query() {
		if _, reserved := reservedParams[name]; reserved {
			continue
		}
		if !extraNamePattern.MatchString(name) {
			return nil, fmt.Errorf("invalid parameter name %q", name)
		}
		if len(values) == 0 {
			continue
		}
		if len(values[0]) > maxExtraValueLen {
			return nil, fmt.Errorf("parameter %q exceeds %d characters", name, maxExtraValueLen)
		}
		if extra == nil {
			extra = make(map[string]string)
		}
		extra[name] = values[0]
	}
	return extra, nil
}

// statusForCode maps stable error codes to HTTP statuses.
func statusForCode(code string) int {
	switch code {
	case models.ErrCodeSiteNotFound, models.ErrCodeCapability:
		return http.StatusNotFound
	case models.ErrCodeInvalidParams:
		return http.StatusBadRequest
	case models.ErrCodeScrapeTimeout:
		return http.StatusGatewayTimeout
	case models.ErrCodeScrapeFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorJSON writes a bare error envelope for failures that happen
// before a scrape response shell exists.
func errorJSON(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": models.ErrorDetail{Code: code, Message: message}})
}
