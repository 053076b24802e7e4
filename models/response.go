package models

import "time"

// Response is the unified payload returned by every recipe endpoint,
// successful or not. Failed scrapes carry a populated Error and an empty
// item list; the rest of the shape stays identical so clients only ever
// parse one schema.
type Response struct {
	// Site describes the recipe the response was scraped from.
	Site SiteInfo `json:"site"`

	// Endpoint is the recipe endpoint name that was requested.
	Endpoint string `json:"endpoint"`

	// Query echoes the search query, only for endpoints that require one.
	Query *string `json:"query,omitempty"`

	// Items holds the extracted items in page order.
	Items []Item `json:"items"`

	// Pagination describes where this page sits in the result set.
	Pagination Pagination `json:"pagination"`

	// Metadata carries operational details about the scrape.
	Metadata Metadata `json:"metadata"`

	// Error is populated only when the scrape failed.
	Error *ErrorDetail `json:"error,omitempty"`
}

// SiteInfo identifies the scraped site.
type SiteInfo struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
	URL  string `json:"url"`
}

// Item is one extracted result. Title and URL are promoted out of the
// field map when the recipe defines fields with those names; everything
// else lands in Fields.
type Item struct {
	Title  *string        `json:"title"`
	URL    *string        `json:"url"`
	Fields map[string]any `json:"fields"`
}

// Pagination describes the page position of a response.
type Pagination struct {
	CurrentPage int  `json:"current_page"`
	HasNext     bool `json:"has_next"`
	HasPrev     bool `json:"has_prev"`

	// TotalPages and TotalItems stay null for strategies that cannot
	// know them.
	TotalPages *int `json:"total_pages"`
	TotalItems *int `json:"total_items"`
}

// Metadata carries operational details for one scrape request.
type Metadata struct {
	ScrapedAt      time.Time `json:"scraped_at"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	ItemCount      int       `json:"item_count"`

	// Cached is true when the response was served from the response
	// cache rather than a live scrape.
	Cached bool `json:"cached"`
}

// Clone returns a deep copy of the response. The cache clones on both
// store and lookup so callers can never mutate each other's view.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}

	out := *r
	out.Query = cloneStringPtr(r.Query)
	out.Pagination.TotalPages = cloneIntPtr(r.Pagination.TotalPages)
	out.Pagination.TotalItems = cloneIntPtr(r.Pagination.TotalItems)

	if r.Items != nil {
		out.Items = make([]Item, len(r.Items))
		for i, item := range r.Items {
			out.Items[i] = Item{
				Title: cloneStringPtr(item.Title),
				URL:   cloneStringPtr(item.URL),
			}
			if item.Fields != nil {
				fields := make(map[string]any, len(item.Fields))
				for k, v := range item.Fields {
					fields[k] = v
				}
				out.Items[i].Fields = fields
			}
		}
	}

	if r.Error != nil {
		e := *r.Error
		out.Error = &e
	}
	return &out
}

func cloneStringPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneIntPtr(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}
