package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/use-agent/web2api/models"
)

func sampleResponse(items int) *models.Response {
	resp := &models.Response{
		Site:     models.SiteInfo{Name: "Example", Slug: "example", URL: "https://example.com"},
		Endpoint: "list",
		Items:    make([]models.Item, items),
	}
	for i := range resp.Items {
		resp.Items[i] = models.Item{Fields: map[string]any{"n": i}}
	}
	resp.Metadata.ItemCount = items
	return resp
}

func TestKeyNormalizesExtraParams(t *testing.T) {
	q := "go"
	a := NewKey("example", "list", 1, &q, map[string]string{"b": "2", "a": "1"})
	b := NewKey("example", "list", 1, &q, map[string]string{"a": "1", "b": "2"})
	if a != b {
		t.Errorf("keys differ for same params in different order:\n%+v\n%+v", a, b)
	}

	empty := ""
	noQuery := NewKey("example", "list", 1, nil, nil)
	emptyQuery := NewKey("example", "list", 1, &empty, nil)
	if noQuery == emptyQuery {
		t.Error("absent query and empty query must be distinct keys")
	}
}

func TestCacheLifecycle(t *testing.T) {
	c := New(Config{TTL: 50 * time.Millisecond, StaleTTL: 100 * time.Millisecond, MaxEntries: 10})
	key := NewKey("example", "list", 1, nil, nil)

	if state, _ := c.Get(key); state != Miss {
		t.Fatalf("empty cache lookup = %v, want Miss", state)
	}

	c.Set(key, sampleResponse(2))

	state, got := c.Get(key)
	if state != Fresh {
		t.Fatalf("lookup within TTL = %v, want Fresh", state)
	}
	if len(got.Items) != 2 {
		t.Fatalf("cached items = %d, want 2", len(got.Items))
	}

	time.Sleep(60 * time.Millisecond)
	if state, got = c.Get(key); state != Stale || got == nil {
		t.Fatalf("lookup after TTL = %v (resp %v), want Stale with response", state, got)
	}

	time.Sleep(100 * time.Millisecond)
	if state, _ = c.Get(key); state != Miss {
		t.Fatalf("lookup after stale window = %v, want Miss", state)
	}
}

func TestCacheDisabled(t *testing.T) {
	c := New(Config{TTL: 0, MaxEntries: 10})
	key := NewKey("example", "list", 1, nil, nil)

	c.Set(key, sampleResponse(1))
	if state, _ := c.Get(key); state != Miss {
		t.Errorf("disabled cache returned %v, want Miss", state)
	}
	if c.Enabled() {
		t.Error("cache with zero TTL reports enabled")
	}
}

func TestCacheNeverStoresErrors(t *testing.T) {
	c := New(Config{TTL: time.Minute, MaxEntries: 10})
	key := NewKey("example", "list", 1, nil, nil)

	resp := sampleResponse(0)
	resp.Error = &models.ErrorDetail{Code: models.ErrCodeScrapeFailed, Message: "boom"}
	c.Set(key, resp)

	if state, _ := c.Get(key); state != Miss {
		t.Errorf("error response was cached: state = %v", state)
	}
}

func TestCacheReturnsCopies(t *testing.T) {
	c := New(Config{TTL: time.Minute, MaxEntries: 10})
	key := NewKey("example", "list", 1, nil, nil)

	orig := sampleResponse(1)
	c.Set(key, orig)
	orig.Items[0].Fields["n"] = "mutated after store"

	_, first := c.Get(key)
	first.Items[0].Fields["n"] = "mutated after lookup"

	_, second := c.Get(key)
	if got := second.Items[0].Fields["n"]; got != 0 {
		t.Errorf("cached value leaked a mutation: got %v, want 0", got)
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := New(Config{TTL: time.Minute, MaxEntries: 2})

	k1 := NewKey("example", "list", 1, nil, nil)
	k2 := NewKey("example", "list", 2, nil, nil)
	k3 := NewKey("example", "list", 3, nil, nil)

	c.Set(k1, sampleResponse(1))
	c.Set(k2, sampleResponse(1))

	// Touch k1 so k2 becomes the eviction candidate.
	c.Get(k1)
	c.Set(k3, sampleResponse(1))

	if state, _ := c.Get(k2); state != Miss {
		t.Errorf("least recently used entry survived: state = %v", state)
	}
	if state, _ := c.Get(k1); state != Fresh {
		t.Errorf("recently touched entry was evicted: state = %v", state)
	}
	if state, _ := c.Get(k3); state != Fresh {
		t.Errorf("newest entry missing: state = %v", state)
	}
}

func TestTriggerRefreshIsSingleFlight(t *testing.T) {
	c := New(Config{TTL: 10 * time.Millisecond, StaleTTL: time.Minute, MaxEntries: 10})
	key := NewKey("example", "list", 1, nil, nil)
	c.Set(key, sampleResponse(1))
	time.Sleep(20 * time.Millisecond)

	var mu sync.Mutex
	calls := 0
	release := make(chan struct{})
	refresher := func() *models.Response {
		mu.Lock()
		calls++
		mu.Unlock()
		<-release
		return sampleResponse(3)
	}

	for i := 0; i < 5; i++ {
		c.TriggerRefresh(key, refresher)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)

	deadline := time.Now().Add(time.Second)
	for {
		if state, got := c.Get(key); state == Fresh && len(got.Items) == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("refreshed response never landed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("refresher ran %d times, want 1", calls)
	}
}

func TestFailedRefreshKeepsStaleEntry(t *testing.T) {
	c := New(Config{TTL: 10 * time.Millisecond, StaleTTL: time.Minute, MaxEntries: 10})
	key := NewKey("example", "list", 1, nil, nil)
	c.Set(key, sampleResponse(2))
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	c.TriggerRefresh(key, func() *models.Response {
		defer close(done)
		resp := sampleResponse(0)
		resp.Error = &models.ErrorDetail{Code: models.ErrCodeScrapeTimeout, Message: "timed out"}
		return resp
	})
	<-done
	time.Sleep(10 * time.Millisecond)

	state, got := c.Get(key)
	if state != Stale {
		t.Fatalf("state after failed refresh = %v, want Stale", state)
	}
	if len(got.Items) != 2 {
		t.Errorf("stale entry replaced by failed refresh: items = %d, want 2", len(got.Items))
	}

	// The flag must be clear so a later refresh can run.
	ran := make(chan struct{})
	c.TriggerRefresh(key, func() *models.Response {
		close(ran)
		return sampleResponse(4)
	})
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("refresh flag stuck after failed refresh")
	}
}

func TestCacheStats(t *testing.T) {
	c := New(Config{TTL: time.Minute, StaleTTL: time.Minute, MaxEntries: 5})
	key := NewKey("example", "list", 1, nil, nil)

	c.Get(key)
	c.Set(key, sampleResponse(1))
	c.Get(key)

	s := c.Stats()
	if !s.Enabled {
		t.Error("stats report disabled cache")
	}
	if s.Misses != 1 || s.Hits != 1 || s.Stores != 1 {
		t.Errorf("stats = misses %d hits %d stores %d, want 1/1/1", s.Misses, s.Hits, s.Stores)
	}
	if s.Entries != 1 {
		t.Errorf("entries = %d, want 1", s.Entries)
	}
}
