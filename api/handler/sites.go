package handler

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/web2api/models"
	"github.com/use-agent/web2api/recipe"
)

// SiteSummary is one entry of the site catalog.
type SiteSummary struct {
	Name        string            `json:"name"`
	Slug        string            `json:"slug"`
	BaseURL     string            `json:"base_url"`
	Description string            `json:"description,omitempty"`
	Endpoints   []EndpointSummary `json:"endpoints"`
}

// EndpointSummary describes one callable endpoint of a site.
type EndpointSummary struct {
	Name          string `json:"name"`
	Path          string `json:"path"`
	Description   string `json:"description,omitempty"`
	RequiresQuery bool   `json:"requires_query"`
}

// Sites handles GET /sites: the catalog of every loaded recipe.
func Sites(reg *recipe.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		recipes := reg.All()
		sites := make([]SiteSummary, 0, len(recipes))
		for _, rec := range recipes {
			sites = append(sites, summarize(rec))
		}
		c.JSON(http.StatusOK, gin.H{"sites": sites, "count": len(sites)})
	}
}

// Site handles GET /sites/:slug: detail for one recipe.
func Site(reg *recipe.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		slug := c.Param("slug")
		rec := reg.Get(slug)
		if rec == nil {
			errorJSON(c, http.StatusNotFound, models.ErrCodeSiteNotFound,
				fmt.Sprintf("unknown site %q", slug))
			return
		}
		c.JSON(http.StatusOK, summarize(rec))
	}
}

func summarize(rec *recipe.Recipe) SiteSummary {
	s := SiteSummary{
		Name:        rec.Name,
		Slug:        rec.Slug,
		BaseURL:     rec.BaseURL,
		Description: rec.Description,
		Endpoints:   make([]EndpointSummary, 0, len(rec.Endpoints)),
	}
	for name, ep := range rec.Endpoints {
		s.Endpoints = append(s.Endpoints, EndpointSummary{
			Name:          name,
			Path:          fmt.Sprintf("/api/v1/sites/%s/%s", rec.Slug, name),
			Description:   ep.Description,
			RequiresQuery: ep.RequiresQuery,
		})
	}
	sort.Slice(s.Endpoints, func(i, j int) bool { return s.Endpoints[i].Name < s.Endpoints[j].Name })
	return s
}
