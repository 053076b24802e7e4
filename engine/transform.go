package engine

import (
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/use-agent/web2api/recipe"
)

var (
	intPattern   = regexp.MustCompile(`-?\d+`)
	floatPattern = regexp.MustCompile(`-?\d+(\.\d+)?`)
	spaceRuns    = regexp.MustCompile(`\s+`)
)

// dateLayouts are tried in order by the iso_date transform before
// falling back to RFC3339.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"Jan 2, 2006",
	"January 2, 2006",
}

// ApplyTransform normalizes a raw extracted string. A transform that
// cannot parse its input returns (nil, false) and logs a warning; the
// field degrades to null but the item survives.
func ApplyTransform(transform, value, baseURL string) (any, bool) {
	switch transform {
	case recipe.TransformNone:
		return value, true

	case recipe.TransformStrip:
		return strings.TrimSpace(value), true

	case recipe.TransformStripHTML:
		return stripHTML(value), true

	case recipe.TransformRegexInt:
		m := intPattern.FindString(value)
		if m == "" {
			return transformFailed(transform, value)
		}
		n, err := strconv.Atoi(m)
		if err != nil {
			return transformFailed(transform, value)
		}
		return n, true

	case recipe.TransformRegexFloat:
		m := floatPattern.FindString(value)
		if m == "" {
			return transformFailed(transform, value)
		}
		f, err := strconv.ParseFloat(m, 64)
		if err != nil {
			return transformFailed(transform, value)
		}
		return f, true

	case recipe.TransformISODate:
		s := strings.TrimSpace(value)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.Format("2006-01-02"), true
			}
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.Format("2006-01-02"), true
		}
		return transformFailed(transform, value)

	case recipe.TransformAbsoluteURL:
		// Unparseable fragments pass through untouched instead of failing.
		s := strings.TrimSpace(value)
		base, err := url.Parse(baseURL)
		if err != nil {
			return s, true
		}
		ref, err := url.Parse(s)
		if err != nil {
			return s, true
		}
		return base.ResolveReference(ref).String(), true

	default:
		// Unknown transforms are rejected at recipe load time.
		return transformFailed(transform, value)
	}
}

func transformFailed(transform, value string) (any, bool) {
	slog.Warn("transform.failed", "transform", transform, "value", preview(value))
	return nil, false
}

// preview truncates long values so log lines stay readable.
func preview(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// stripHTML drops tags and collapses whitespace runs to single spaces.
func stripHTML(s string) string {
	tok := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	for {
		switch tok.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(spaceRuns.ReplaceAllString(b.String(), " "))
		case html.TextToken:
			b.Write(tok.Text())
			b.WriteByte(' ')
		}
	}
}
