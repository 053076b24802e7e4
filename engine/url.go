package engine

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/use-agent/web2api/recipe"
)

// BuildURL resolves an endpoint's URL template against the recipe base
// URL. The template may use three placeholders:
//
//	{page}      the mapped pagination value, start + (page-1)*step
//	{page_zero} the zero-based page index
//	{query}     the query-escaped search query
//
// Only placeholders are substituted; the rest of the template,
// including its query string, passes through untouched.
func BuildURL(baseURL string, ep *recipe.Endpoint, page int, query string) (string, error) {
	pg := &ep.Pagination
	mapped := pg.StartValue() + (page-1)*pg.StepValue()

	t := ep.URL
	t = strings.ReplaceAll(t, "{page}", strconv.Itoa(mapped))
	t = strings.ReplaceAll(t, "{page_zero}", strconv.Itoa(page-1))
	t = strings.ReplaceAll(t, "{query}", url.QueryEscape(query))

	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url %q: %w", baseURL, err)
	}
	ref, err := url.Parse(t)
	if err != nil {
		return "", fmt.Errorf("parse endpoint url %q: %w", t, err)
	}
	return base.ResolveReference(ref).String(), nil
}
