// Package hnfront is the compiled-in scraper for the Hacker News front
// page. The table layout there (item row plus a detached subtext row
// sharing an id) does not fit the declarative container/field model, so
// the recipe delegates its front endpoint here.
package hnfront

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/use-agent/web2api/browser"
	"github.com/use-agent/web2api/recipe"
)

const baseURL = "https://news.ycombinator.com/"

var pointsPattern = regexp.MustCompile(`\d+`)

func init() {
	recipe.RegisterScraper("hackernews", &frontScraper{})
}

type frontScraper struct{}

func (s *frontScraper) Supports(endpoint string) bool {
	return endpoint == "front"
}

func (s *frontScraper) Scrape(ctx context.Context, endpoint string, page browser.Page, params recipe.Params) (*recipe.Result, error) {
	target := fmt.Sprintf("%snews?p=%d", baseURL, params.Page)
	if err := page.Navigate(ctx, target); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", target, err)
	}

	rendered, err := page.HTML(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rendered))
	if err != nil {
		return nil, fmt.Errorf("parse front page: %w", err)
	}

	base, _ := url.Parse(baseURL)
	var items []map[string]any
	doc.Find("tr.athing").Each(func(_ int, row *goquery.Selection) {
		link := row.Find("span.titleline > a").First()
		title := strings.TrimSpace(link.Text())
		if title == "" {
			return
		}

		item := map[string]any{"title": title}
		if href, ok := link.Attr("href"); ok {
			if ref, err := url.Parse(href); err == nil {
				item["url"] = base.ResolveReference(ref).String()
			}
		}

		// Points live in the next row's subtext, keyed by the item id.
		if id, ok := row.Attr("id"); ok {
			item["points"] = parsePoints(doc.Find("#score_" + id).Text())
		} else {
			item["points"] = nil
		}

		items = append(items, item)
	})

	return &recipe.Result{
		Items:       items,
		CurrentPage: params.Page,
		HasNext:     doc.Find("a.morelink").Length() > 0,
		HasPrev:     params.Page > 1,
	}, nil
}

// parsePoints extracts the number from a "123 points" score span,
// returning nil for hiring posts and anything else without a score.
func parsePoints(score string) any {
	m := pointsPattern.FindString(score)
	if m == "" {
		return nil
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return nil
	}
	return n
}
