package cache

import (
	"container/list"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/use-agent/web2api/models"
)

// Key addresses one cached response. Two requests with the same tuple
// are cache-equivalent regardless of arrival order; extra parameters
// are folded in pre-sorted so the struct stays comparable.
type Key struct {
	Slug     string
	Endpoint string
	Page     int
	Query    string
	HasQuery bool
	Extra    string
}

// NewKey builds a Key. query == nil means "no query", which is
// distinct from an empty query string.
func NewKey(slug, endpoint string, page int, query *string, extra map[string]string) Key {
	k := Key{Slug: slug, Endpoint: endpoint, Page: page}
	if query != nil {
		k.HasQuery = true
		k.Query = *query
	}
	if len(extra) > 0 {
		pairs := make([]string, 0, len(extra))
		for name, value := range extra {
			pairs = append(pairs, name+"="+value)
		}
		sort.Strings(pairs)
		k.Extra = strings.Join(pairs, "&")
	}
	return k
}

// LookupState classifies a cache lookup.
type LookupState int

const (
	Miss LookupState = iota
	Fresh
	Stale
)

func (s LookupState) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "miss"
	}
}

// entry owns one deep copy of a completed response. Entries are
// replaced, never mutated in place, so handed-out clones can't alias
// cache state.
type entry struct {
	key        Key
	resp       *models.Response
	expiresAt  time.Time
	staleUntil time.Time
	refreshing bool
}

// Config holds the cache construction parameters.
type Config struct {
	// TTL is the fresh window. TTL <= 0 disables the cache entirely.
	TTL time.Duration

	// StaleTTL is the additional window during which an expired entry
	// is still usable while a background refresh runs.
	StaleTTL time.Duration

	// MaxEntries caps the cache size; least-recently-touched entries
	// are evicted beyond it.
	MaxEntries int
}

// Stats is the diagnostics snapshot returned by Stats.
type Stats struct {
	Enabled      bool    `json:"enabled"`
	TTLSeconds   float64 `json:"ttl_seconds"`
	StaleSeconds float64 `json:"stale_ttl_seconds"`
	MaxEntries   int     `json:"max_entries"`
	Entries      int     `json:"entries"`
	Hits         uint64  `json:"hits"`
	StaleHits    uint64  `json:"stale_hits"`
	Misses       uint64  `json:"misses"`
	Stores       uint64  `json:"stores"`
	Evictions    uint64  `json:"evictions"`
	Refreshing   int     `json:"refresh_tasks"`
}

// Cache is an in-memory store of completed responses with a
// fresh/stale/expired lifecycle and single-flight background refresh.
// It is safe for concurrent use; operations share one mutex per
// instance but never block on external I/O.
type Cache struct {
	cfg Config

	mu      sync.Mutex
	entries map[Key]*list.Element
	order   *list.List // front = least recently touched

	hits       uint64
	staleHits  uint64
	misses     uint64
	stores     uint64
	evictions  uint64
	refreshing int
}

// New creates a Cache. A non-positive MaxEntries falls back to 1.
func New(cfg Config) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1
	}
	return &Cache{
		cfg:     cfg,
		entries: make(map[Key]*list.Element),
		order:   list.New(),
	}
}

// Enabled reports whether caching is active.
func (c *Cache) Enabled() bool {
	return c.cfg.TTL > 0
}

// Get looks up key and classifies the result. Hits of any kind return
// a deep copy and refresh the entry's recency order. Entries past
// their stale deadline are purged lazily here, not by a timer.
func (c *Cache) Get(key Key) (LookupState, *models.Response) {
	if !c.Enabled() {
		return Miss, nil
	}

	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.purgeExpired(now)

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return Miss, nil
	}

	c.order.MoveToBack(el)
	e := el.Value.(*entry)
	if e.expiresAt.After(now) {
		c.hits++
		return Fresh, e.resp.Clone()
	}
	c.staleHits++
	return Stale, e.resp.Clone()
}

// Set stores a deep copy of resp under key. Responses carrying an
// error are never cached. Exceeding capacity evicts the least
// recently touched entries.
func (c *Cache) Set(key Key, resp *models.Response) {
	if !c.Enabled() || resp == nil || resp.Error != nil {
		return
	}

	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.purgeExpired(now)

	e := &entry{
		key:        key,
		resp:       resp.Clone(),
		expiresAt:  now.Add(c.cfg.TTL),
		staleUntil: now.Add(c.cfg.TTL + c.cfg.StaleTTL),
	}
	if el, ok := c.entries[key]; ok {
		// Replacement keeps the refresh flag so an in-flight refresh
		// stays single-flight across its own Set.
		e.refreshing = el.Value.(*entry).refreshing
		el.Value = e
		c.order.MoveToBack(el)
	} else {
		c.entries[key] = c.order.PushBack(e)
	}
	c.stores++
	c.trimToCapacity()
}

// TriggerRefresh schedules a background refresh for key. Fire and
// forget: a no-op when the key is absent or a refresh is already in
// flight, so concurrent stale hits cause exactly one upstream scrape.
// The in-flight flag is cleared whether the refresher succeeds or not.
func (c *Cache) TriggerRefresh(key Key, refresher func() *models.Response) {
	if !c.Enabled() {
		return
	}

	c.mu.Lock()
	el, ok := c.entries[key]
	if !ok || el.Value.(*entry).refreshing {
		c.mu.Unlock()
		return
	}
	el.Value.(*entry).refreshing = true
	c.refreshing++
	c.mu.Unlock()

	go c.runRefresh(key, refresher)
}

func (c *Cache) runRefresh(key Key, refresher func() *models.Response) {
	defer func() {
		c.mu.Lock()
		if el, ok := c.entries[key]; ok {
			el.Value.(*entry).refreshing = false
		}
		c.refreshing--
		c.mu.Unlock()
	}()

	resp := refresher()
	if resp == nil || resp.Error != nil {
		slog.Warn("cache refresh failed, keeping stale entry",
			"slug", key.Slug, "endpoint", key.Endpoint, "page", key.Page)
		return
	}
	c.Set(key, resp)
}

// Stats returns cache counters and configuration for health reporting.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.purgeExpired(time.Now())
	return Stats{
		Enabled:      c.Enabled(),
		TTLSeconds:   c.cfg.TTL.Seconds(),
		StaleSeconds: c.cfg.StaleTTL.Seconds(),
		MaxEntries:   c.cfg.MaxEntries,
		Entries:      len(c.entries),
		Hits:         c.hits,
		StaleHits:    c.staleHits,
		Misses:       c.misses,
		Stores:       c.stores,
		Evictions:    c.evictions,
		Refreshing:   c.refreshing,
	}
}

// purgeExpired drops entries past their stale deadline. Caller holds mu.
func (c *Cache) purgeExpired(now time.Time) {
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*entry)
		if !e.staleUntil.After(now) {
			c.order.Remove(el)
			delete(c.entries, e.key)
			c.evictions++
		}
		el = next
	}
}

// trimToCapacity evicts least-recently-touched entries. Caller holds mu.
func (c *Cache) trimToCapacity() {
	for len(c.entries) > c.cfg.MaxEntries {
		el := c.order.Front()
		if el == nil {
			return
		}
		e := c.order.Remove(el).(*entry)
		delete(c.entries, e.key)
		c.evictions++
	}
}
