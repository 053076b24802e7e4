package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Pool errors. ErrPageCreate wraps the underlying cause; the others
// are sentinels the caller can match with errors.Is.
var (
	ErrNotStarted     = errors.New("browser pool is not started")
	ErrPoolClosed     = errors.New("browser pool is shutting down")
	ErrQueueFull      = errors.New("browser pool queue is full")
	ErrAcquireTimeout = errors.New("timed out waiting for a browser context")
	ErrPageCreate     = errors.New("failed to create page from browser context")
)

// closePageTimeout bounds page close during Stop so a hung page cannot
// block shutdown.
const closePageTimeout = 3 * time.Second

// PoolConfig holds the pool's construction parameters.
type PoolConfig struct {
	// MaxContexts is the hard cap on concurrently lendable contexts.
	MaxContexts int

	// ContextTTL is the number of lends after which a context is
	// recycled. 0 disables use-count recycling.
	ContextTTL int

	// AcquireTimeout is the default wait bound for Acquire.
	AcquireTimeout time.Duration

	// PageTimeout is the per-operation timeout applied to every lent page.
	PageTimeout time.Duration

	// QueueSize caps the number of callers allowed to wait
	// simultaneously for a free context.
	QueueSize int
}

// slot owns one browser context plus its lend count.
type slot struct {
	id       int
	ctx      BrowserContext
	useCount int
}

// Pool manages a single browser process and a fixed set of isolated
// browsing contexts, lending short-lived pages to callers under a
// bounded wait queue. It is safe for concurrent use.
//
// One mutex guards the relationship between contexts lent, waiters
// pending and contexts available; the ready queue is a buffered
// channel, so a timed-out waiter can never be handed a slot after
// giving up.
type Pool struct {
	cfg    PoolConfig
	driver Driver

	mu      sync.Mutex
	browser Browser
	ready   chan *slot
	active  map[Page]*slot
	stopC   chan struct{}
	stopped bool
	waiters int
	served  uint64
}

// Health is a read-only snapshot of the pool's state.
type Health struct {
	BrowserConnected    bool   `json:"browser_connected"`
	TotalContexts       int    `json:"total_contexts"`
	AvailableContexts   int    `json:"available_contexts"`
	QueueDepth          int    `json:"queue_size"`
	TotalRequestsServed uint64 `json:"total_requests_served"`
}

// NewPool creates a Pool using the given driver. Call Start before
// acquiring pages.
func NewPool(driver Driver, cfg PoolConfig) *Pool {
	if cfg.MaxContexts <= 0 {
		cfg.MaxContexts = 5
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 20
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 30 * time.Second
	}
	return &Pool{cfg: cfg, driver: driver}
}

// Start launches the browser and pre-creates MaxContexts contexts into
// the ready queue. Idempotent: a no-op when already connected.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.browser != nil && p.browser.Connected() {
		return nil
	}

	b, err := p.driver.Launch(ctx)
	if err != nil {
		return fmt.Errorf("launching browser: %w", err)
	}

	ready := make(chan *slot, p.cfg.MaxContexts)
	for i := 0; i < p.cfg.MaxContexts; i++ {
		bc, err := b.NewContext(ctx)
		if err != nil {
			// Partial start: unwind everything already created.
			close(ready)
			for s := range ready {
				_ = s.ctx.Close()
			}
			_ = b.Close()
			return fmt.Errorf("creating browser context %d: %w", i, err)
		}
		ready <- &slot{id: i, ctx: bc}
	}

	p.browser = b
	p.ready = ready
	p.active = make(map[Page]*slot)
	p.stopC = make(chan struct{})
	p.stopped = false
	slog.Info("browser pool started", "maxContexts", p.cfg.MaxContexts)
	return nil
}

// Stop closes in-flight pages (each with a bounded timeout), all
// contexts and the browser. Waiters fail fast with ErrPoolClosed.
// Safe to call on a partially started or already stopped pool.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped || p.browser == nil {
		if p.stopC != nil && !p.stopped {
			close(p.stopC)
		}
		p.stopped = true
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.stopC)

	active := p.active
	ready := p.ready
	b := p.browser
	p.active = make(map[Page]*slot)
	p.browser = nil
	p.waiters = 0
	p.mu.Unlock()

	// In-flight pages first: callers that never released their pages
	// must not leave a browser process behind.
	contexts := make(map[int]BrowserContext)
	for page, s := range active {
		closePageBounded(page)
		contexts[s.id] = s.ctx
	}

	// Drain the ready queue without blocking.
	for {
		select {
		case s := <-ready:
			contexts[s.id] = s.ctx
		default:
			goto drained
		}
	}
drained:

	for _, bc := range contexts {
		if err := bc.Close(); err != nil {
			slog.Warn("closing browser context during shutdown", "error", err)
		}
	}
	if err := b.Close(); err != nil {
		slog.Warn("closing browser during shutdown", "error", err)
	}
	slog.Info("browser pool stopped")
}

// Acquire lends a page using the default acquire timeout.
func (p *Pool) Acquire(ctx context.Context) (Page, error) {
	return p.AcquireTimeout(ctx, p.cfg.AcquireTimeout)
}

// AcquireTimeout lends a page, waiting up to timeout for a free
// context. Fails immediately with ErrQueueFull when the wait queue is
// at capacity, and with ErrAcquireTimeout when the wait expires.
func (p *Pool) AcquireTimeout(ctx context.Context, timeout time.Duration) (Page, error) {
	p.mu.Lock()
	if p.browser == nil || p.stopped || !p.browser.Connected() {
		p.mu.Unlock()
		return nil, ErrNotStarted
	}
	if p.waiters >= p.cfg.QueueSize {
		p.mu.Unlock()
		return nil, ErrQueueFull
	}
	p.waiters++
	ready := p.ready
	stopC := p.stopC
	p.mu.Unlock()

	s, err := p.waitForSlot(ctx, ready, stopC, timeout)

	p.mu.Lock()
	if p.waiters > 0 {
		p.waiters--
	}
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}

	page, err := s.ctx.NewPage(ctx)
	if err != nil {
		// The context may be wedged: discard it and stand up a fresh
		// one so capacity is preserved. The failure still surfaces.
		p.replaceSlot(s)
		return nil, fmt.Errorf("%w: %v", ErrPageCreate, err)
	}
	if p.cfg.PageTimeout > 0 {
		page.SetDefaultTimeout(p.cfg.PageTimeout)
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		_ = page.Close()
		_ = s.ctx.Close()
		return nil, ErrPoolClosed
	}
	p.active[page] = s
	p.served++
	p.mu.Unlock()
	return page, nil
}

func (p *Pool) waitForSlot(ctx context.Context, ready chan *slot, stopC chan struct{}, timeout time.Duration) (*slot, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s := <-ready:
		return s, nil
	case <-timer.C:
		return nil, ErrAcquireTimeout
	case <-stopC:
		return nil, ErrPoolClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a lent page to the pool. Always safe to call: an
// unknown page is closed, logged and ignored. The backing context is
// recycled when its cookie reset fails or its use count reaches the
// TTL; recycling never blocks other releases.
func (p *Pool) Release(page Page) {
	p.mu.Lock()
	s, ok := p.active[page]
	if ok {
		delete(p.active, page)
	}
	ready := p.ready
	stopped := p.stopped
	p.mu.Unlock()

	if !ok {
		slog.Warn("release of a page not owned by the pool")
		if page != nil {
			_ = page.Close()
		}
		return
	}

	if err := page.Close(); err != nil {
		slog.Warn("closing released page", "error", err)
	}

	corrupted := false
	if err := s.ctx.ClearCookies(context.Background()); err != nil {
		slog.Warn("context cookie reset failed, recycling", "slot", s.id, "error", err)
		corrupted = true
	}

	s.useCount++
	if corrupted || (p.cfg.ContextTTL > 0 && s.useCount >= p.cfg.ContextTTL) {
		fresh := p.recreateSlot(s)
		if fresh == nil {
			return
		}
		s = fresh
	}

	if stopped {
		_ = s.ctx.Close()
		return
	}

	select {
	case ready <- s:
	default:
		// Stop drained the queue concurrently; don't leak the context.
		_ = s.ctx.Close()
	}
}

// WithPage runs fn with a page from the pool and guarantees the page
// is released on every exit path, panics included.
func (p *Pool) WithPage(ctx context.Context, fn func(Page) error) error {
	page, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(page)
	return fn(page)
}

// Health returns a snapshot of the pool's current state.
func (p *Pool) Health() Health {
	p.mu.Lock()
	defer p.mu.Unlock()

	connected := p.browser != nil && !p.stopped && p.browser.Connected()
	h := Health{
		BrowserConnected:    connected,
		QueueDepth:          p.waiters,
		TotalRequestsServed: p.served,
	}
	if connected {
		h.TotalContexts = p.cfg.MaxContexts
		h.AvailableContexts = len(p.ready)
	}
	return h
}

// replaceSlot discards a wedged context and puts a fresh one into the
// ready queue so pool capacity is preserved.
func (p *Pool) replaceSlot(s *slot) {
	_ = s.ctx.Close()

	p.mu.Lock()
	b := p.browser
	ready := p.ready
	stopped := p.stopped
	p.mu.Unlock()

	if b == nil || stopped {
		return
	}
	bc, err := b.NewContext(context.Background())
	if err != nil {
		slog.Error("replacing browser context failed, pool capacity reduced", "slot", s.id, "error", err)
		return
	}
	select {
	case ready <- &slot{id: s.id, ctx: bc}:
	default:
		_ = bc.Close()
	}
}

// recreateSlot closes a worn or corrupted context and returns a fresh
// slot carrying the same id. Returns nil when the pool is stopping.
func (p *Pool) recreateSlot(s *slot) *slot {
	_ = s.ctx.Close()

	p.mu.Lock()
	b := p.browser
	stopped := p.stopped
	p.mu.Unlock()

	if b == nil || stopped {
		return nil
	}
	bc, err := b.NewContext(context.Background())
	if err != nil {
		slog.Error("recycling browser context failed, pool capacity reduced", "slot", s.id, "error", err)
		return nil
	}
	slog.Debug("browser context recycled", "slot", s.id, "useCount", s.useCount)
	return &slot{id: s.id, ctx: bc}
}

// closePageBounded closes a page but gives up after closePageTimeout.
func closePageBounded(page Page) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = page.Close()
	}()
	select {
	case <-done:
	case <-time.After(closePageTimeout):
		slog.Warn("page close timed out during shutdown")
	}
}
