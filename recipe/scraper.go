package recipe

import (
	"context"

	"github.com/use-agent/web2api/browser"
)

// Params carries the request parameters handed to a custom scraper.
type Params struct {
	// Page is the 1-based page number requested by the caller.
	Page int

	// Query is the search query, empty when none was provided.
	Query string

	// Extra holds validated extra request parameters.
	Extra map[string]string
}

// Result is the normalized output of a custom scraper. The engine
// wraps it into the unified response shape exactly like declarative
// extraction output.
type Result struct {
	Items       []map[string]any
	CurrentPage int
	HasNext     bool
	HasPrev     bool
	TotalPages  *int
	TotalItems  *int
}

// Scraper is the capability interface a recipe may implement to
// substitute arbitrary logic for one or more endpoints.
//
// The page handed to Scrape is blank — no URL has been loaded. The
// scraper is responsible for navigating itself. Endpoints the scraper
// does not claim via Supports fall back to declarative extraction.
type Scraper interface {
	Supports(endpoint string) bool
	Scrape(ctx context.Context, endpoint string, page browser.Page, params Params) (*Result, error)
}
