package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/use-agent/web2api/browser"
	"github.com/use-agent/web2api/models"
	"github.com/use-agent/web2api/recipe"
)

// PagePool lends browser pages to scrapes. Satisfied by *browser.Pool;
// tests substitute a fake backed by canned elements.
type PagePool interface {
	WithPage(ctx context.Context, fn func(browser.Page) error) error
}

// Request carries one scrape request into the engine. Parameter
// validation (page bounds, extra param shape) happens at the API
// layer; the engine only checks recipe-level requirements.
type Request struct {
	Endpoint string
	Page     int
	Query    *string
	Extra    map[string]string

	// Timeout bounds the whole scrape including page acquisition.
	// Zero falls back to the engine default.
	Timeout time.Duration
}

// Engine turns a validated recipe plus a request into the unified
// response shape. Scrape never returns an error: failures come back as
// a response with a populated Error so the API layer serializes one
// schema for every outcome.
type Engine struct {
	pool    PagePool
	timeout time.Duration
}

const defaultScrapeTimeout = 60 * time.Second

func New(pool PagePool, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = defaultScrapeTimeout
	}
	return &Engine{pool: pool, timeout: timeout}
}

// Scrape runs one request against one recipe endpoint.
func (e *Engine) Scrape(ctx context.Context, rec *recipe.Recipe, req Request) *models.Response {
	started := time.Now()
	if req.Page < 1 {
		req.Page = 1
	}

	resp := &models.Response{
		Site:     models.SiteInfo{Name: rec.Name, Slug: rec.Slug, URL: rec.BaseURL},
		Endpoint: req.Endpoint,
		Items:    []models.Item{},
		Pagination: models.Pagination{
			CurrentPage: req.Page,
			HasPrev:     req.Page > 1,
		},
	}
	ep, ok := rec.Endpoints[req.Endpoint]
	if !ok {
		return e.fail(resp, started, models.NewScrapeError(models.ErrCodeCapability,
			fmt.Sprintf("site %q has no endpoint %q", rec.Slug, req.Endpoint), nil))
	}
	// Only search-style endpoints echo the query back.
	if ep.RequiresQuery && req.Query != nil {
		q := *req.Query
		resp.Query = &q
	}
	if ep.RequiresQuery && (req.Query == nil || *req.Query == "") {
		return e.fail(resp, started, models.NewScrapeError(models.ErrCodeInvalidParams,
			fmt.Sprintf("endpoint %q requires a query parameter", req.Endpoint), nil))
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.timeout
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	slog.Info("scrape.started", "slug", rec.Slug, "endpoint", req.Endpoint, "page", req.Page)

	var result *recipe.Result
	err := e.pool.WithPage(sctx, func(page browser.Page) error {
		if rec.Scraper != nil && rec.Scraper.Supports(req.Endpoint) {
			r, err := rec.Scraper.Scrape(sctx, req.Endpoint, page, recipe.Params{
				Page:  req.Page,
				Query: derefString(req.Query),
				Extra: req.Extra,
			})
			if err != nil {
				return err
			}
			result = r
			return nil
		}
		r, err := e.runDeclarative(sctx, page, rec, ep, req)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return e.fail(resp, started, classify(err))
	}

	e.finish(resp, result, started)
	slog.Info("scrape.completed", "slug", rec.Slug, "endpoint", req.Endpoint,
		"page", req.Page, "items", resp.Metadata.ItemCount,
		"duration_ms", resp.Metadata.ResponseTimeMs)
	return resp
}

// runDeclarative drives the recipe-described scrape: navigate, run
// actions, extract items, derive pagination.
func (e *Engine) runDeclarative(ctx context.Context, page browser.Page, rec *recipe.Recipe, ep *recipe.Endpoint, req Request) (*recipe.Result, error) {
	target, err := BuildURL(rec.BaseURL, ep, req.Page, derefString(req.Query))
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeInternal, "invalid endpoint url", err)
	}

	if err := page.Navigate(ctx, target); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", target, err)
	}
	if err := runActions(ctx, page, ep.Actions); err != nil {
		return nil, err
	}

	items, err := extractItems(ctx, page, &ep.Items, target)
	if err != nil {
		return nil, err
	}

	hasNext := len(items) > 0
	if ep.Pagination.Type == recipe.PaginationNextLink {
		links, err := page.Elements(ctx, ep.Pagination.Selector)
		if err != nil {
			return nil, fmt.Errorf("query next link %q: %w", ep.Pagination.Selector, err)
		}
		hasNext = len(links) > 0
	}

	return &recipe.Result{
		Items:       items,
		CurrentPage: req.Page,
		HasNext:     hasNext,
		HasPrev:     req.Page > 1,
	}, nil
}

// finish folds a scraper result into the response, promoting title and
// url fields to the top of each item.
func (e *Engine) finish(resp *models.Response, result *recipe.Result, started time.Time) {
	if result != nil {
		resp.Items = make([]models.Item, 0, len(result.Items))
		for _, raw := range result.Items {
			item := models.Item{Fields: raw}
			if s, ok := raw["title"].(string); ok {
				item.Title = &s
				delete(raw, "title")
			}
			if s, ok := raw["url"].(string); ok {
				item.URL = &s
				delete(raw, "url")
			}
			resp.Items = append(resp.Items, item)
		}
		resp.Pagination = models.Pagination{
			CurrentPage: result.CurrentPage,
			HasNext:     result.HasNext,
			HasPrev:     result.HasPrev,
			TotalPages:  result.TotalPages,
			TotalItems:  result.TotalItems,
		}
	}
	resp.Metadata = models.Metadata{
		ScrapedAt:      time.Now().UTC(),
		ResponseTimeMs: time.Since(started).Milliseconds(),
		ItemCount:      len(resp.Items),
	}
}

func (e *Engine) fail(resp *models.Response, started time.Time, serr *models.ScrapeError) *models.Response {
	resp.Error = serr.ToDetail()
	resp.Metadata = models.Metadata{
		ScrapedAt:      time.Now().UTC(),
		ResponseTimeMs: time.Since(started).Milliseconds(),
	}

	// Caller mistakes (bad endpoint, missing query) and timeouts are
	// expected noise; real scrape breakage is not.
	level := slog.LevelWarn
	if serr.Code == models.ErrCodeScrapeFailed || serr.Code == models.ErrCodeInternal {
		level = slog.LevelError
	}
	slog.Log(context.Background(), level, "scrape.failed",
		"slug", resp.Site.Slug, "endpoint", resp.Endpoint,
		"code", serr.Code, "error", serr.Error(),
		"duration_ms", resp.Metadata.ResponseTimeMs)
	return resp
}

// classify maps an internal error to a coded scrape error. Deadline
// and pool exhaustion become SCRAPE_TIMEOUT; coded errors pass
// through; everything else is SCRAPE_FAILED.
func classify(err error) *models.ScrapeError {
	var serr *models.ScrapeError
	if errors.As(err, &serr) {
		return serr
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, browser.ErrAcquireTimeout) ||
		errors.Is(err, browser.ErrQueueFull) {
		return models.NewScrapeError(models.ErrCodeScrapeTimeout, "scrape timed out", err)
	}
	return models.NewScrapeError(models.ErrCodeScrapeFailed, "scrape failed", err)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
