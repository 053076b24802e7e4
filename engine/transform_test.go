package engine

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/use-agent/web2api/recipe"
)

func TestApplyTransform(t *testing.T) {
	base := "https://example.com/list/"

	tests := []struct {
		name      string
		transform string
		value     string
		want      any
		wantOK    bool
	}{
		{"none passes through", recipe.TransformNone, "  raw  ", "  raw  ", true},
		{"strip trims", recipe.TransformStrip, "  hello \n", "hello", true},
		{"strip_html drops tags", recipe.TransformStripHTML, "<b>bold</b> and <i>italic</i>", "bold and italic", true},
		{"strip_html collapses whitespace", recipe.TransformStripHTML, "<p>a</p>\n\n<p>b</p>", "a b", true},
		{"regex_int finds first number", recipe.TransformRegexInt, "342 points", 342, true},
		{"regex_int stops at thousands separator", recipe.TransformRegexInt, "1,234 comments", 1, true},
		{"regex_int negative", recipe.TransformRegexInt, "temp -7 deg", -7, true},
		{"regex_int no digits", recipe.TransformRegexInt, "no digits here", nil, false},
		{"regex_float price", recipe.TransformRegexFloat, "$12.99", 12.99, true},
		{"regex_float integer input", recipe.TransformRegexFloat, "42 reviews", 42.0, true},
		{"iso_date dashes", recipe.TransformISODate, "2024-03-05", "2024-03-05", true},
		{"iso_date slashes", recipe.TransformISODate, "2024/03/05", "2024-03-05", true},
		{"iso_date short month name", recipe.TransformISODate, "Mar 5, 2024", "2024-03-05", true},
		{"iso_date long month name", recipe.TransformISODate, "March 5, 2024", "2024-03-05", true},
		{"iso_date rfc3339 fallback", recipe.TransformISODate, "2024-03-05T17:04:05Z", "2024-03-05", true},
		{"iso_date garbage", recipe.TransformISODate, "yesterday", nil, false},
		{"absolute_url resolves relative", recipe.TransformAbsoluteURL, "item/42", "https://example.com/list/item/42", true},
		{"absolute_url keeps absolute", recipe.TransformAbsoluteURL, "https://other.org/x", "https://other.org/x", true},
		{"absolute_url root relative", recipe.TransformAbsoluteURL, "/about", "https://example.com/about", true},
		{"absolute_url unparseable passes through", recipe.TransformAbsoluteURL, "://bad", "://bad", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ApplyTransform(tt.transform, tt.value, base)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("ApplyTransform(%s, %q) = %#v, want %#v", tt.transform, tt.value, got, tt.want)
			}
		})
	}
}

// recordingHandler captures slog records so tests can assert on
// emitted warnings.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
	return nil
}
func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordingHandler) count(message string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, r := range h.records {
		if r.Message == message {
			n++
		}
	}
	return n
}

func TestFailedTransformLogsWarning(t *testing.T) {
	h := &recordingHandler{}
	prev := slog.Default()
	slog.SetDefault(slog.New(h))
	defer slog.SetDefault(prev)

	if _, ok := ApplyTransform(recipe.TransformRegexInt, "not a number", ""); ok {
		t.Fatal("expected transform failure")
	}
	if got := h.count("transform.failed"); got != 1 {
		t.Errorf("transform.failed warnings = %d, want 1", got)
	}
}

func TestPreviewTruncatesLongValues(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	got := preview(string(long))
	if len(got) != 123 {
		t.Errorf("preview length = %d, want 123", len(got))
	}
	if got[:3] != "xxx" || got[120:] != "..." {
		t.Errorf("preview shape wrong: %q...%q", got[:3], got[120:])
	}
}
