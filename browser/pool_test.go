package browser

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeDriver and friends let pool behavior be exercised without a
// browser process.
type fakeDriver struct {
	launchErr error
	browser   *fakeBrowser
}

func (d *fakeDriver) Launch(ctx context.Context) (Browser, error) {
	if d.launchErr != nil {
		return nil, d.launchErr
	}
	d.browser = &fakeBrowser{connected: true}
	return d.browser, nil
}

type fakeBrowser struct {
	mu        sync.Mutex
	connected bool
	created   []*fakeContext
	ctxErr    error

	// nextPageErr is handed to the next context created, then cleared.
	nextPageErr error
}

func (b *fakeBrowser) NewContext(ctx context.Context) (BrowserContext, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctxErr != nil {
		return nil, b.ctxErr
	}
	c := &fakeContext{id: len(b.created), newPageErr: b.nextPageErr}
	b.nextPageErr = nil
	b.created = append(b.created, c)
	return c, nil
}

func (b *fakeBrowser) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	return nil
}

func (b *fakeBrowser) contextCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.created)
}

type fakeContext struct {
	id int

	mu         sync.Mutex
	closed     bool
	clearErr   error
	newPageErr error
}

func (c *fakeContext) NewPage(ctx context.Context) (Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.newPageErr != nil {
		return nil, c.newPageErr
	}
	return &fakePage{}, nil
}

func (c *fakeContext) ClearCookies(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clearErr
}

func (c *fakeContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeContext) setClearErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearErr = err
}

type fakePage struct {
	mu      sync.Mutex
	closed  bool
	timeout time.Duration
}

func (p *fakePage) SetDefaultTimeout(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeout = d
}
func (p *fakePage) Navigate(ctx context.Context, url string) error { return nil }
func (p *fakePage) Elements(ctx context.Context, sel string) ([]Element, error) {
	return nil, nil
}
func (p *fakePage) WaitSelector(ctx context.Context, sel string, timeout time.Duration) error {
	return nil
}
func (p *fakePage) Click(ctx context.Context, sel string) error      { return nil }
func (p *fakePage) Type(ctx context.Context, sel, text string) error { return nil }
func (p *fakePage) Eval(ctx context.Context, script string) error    { return nil }
func (p *fakePage) HTML(ctx context.Context) (string, error)         { return "", nil }
func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func startPool(t *testing.T, cfg PoolConfig) (*Pool, *fakeDriver) {
	t.Helper()
	d := &fakeDriver{}
	p := NewPool(d, cfg)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(p.Stop)
	return p, d
}

func TestPoolLendsAtMostMaxContexts(t *testing.T) {
	p, _ := startPool(t, PoolConfig{MaxContexts: 2, QueueSize: 10})

	ctx := context.Background()
	p1, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	p2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}

	if _, err := p.AcquireTimeout(ctx, 50*time.Millisecond); !errors.Is(err, ErrAcquireTimeout) {
		t.Fatalf("third acquire on exhausted pool: got %v, want ErrAcquireTimeout", err)
	}

	p.Release(p1)
	p3, err := p.AcquireTimeout(ctx, time.Second)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	p.Release(p2)
	p.Release(p3)
}

func TestPoolAcquireTimeoutIsBounded(t *testing.T) {
	p, _ := startPool(t, PoolConfig{MaxContexts: 1, QueueSize: 10})

	ctx := context.Background()
	held, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer p.Release(held)

	start := time.Now()
	_, err = p.AcquireTimeout(ctx, 10*time.Millisecond)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrAcquireTimeout) {
		t.Fatalf("got %v, want ErrAcquireTimeout", err)
	}
	if elapsed > 110*time.Millisecond {
		t.Errorf("timeout took %v, want under 110ms", elapsed)
	}
}

func TestPoolQueueFull(t *testing.T) {
	p, _ := startPool(t, PoolConfig{MaxContexts: 1, QueueSize: 1})

	ctx := context.Background()
	held, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer p.Release(held)

	waiting := make(chan error, 1)
	go func() {
		_, err := p.AcquireTimeout(ctx, 500*time.Millisecond)
		waiting <- err
	}()

	// Let the goroutine register as a waiter.
	deadline := time.Now().Add(time.Second)
	for p.Health().QueueDepth == 0 {
		if time.Now().After(deadline) {
			t.Fatal("waiter never registered")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := p.AcquireTimeout(ctx, 100*time.Millisecond); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("acquire with full queue: got %v, want ErrQueueFull", err)
	}

	if err := <-waiting; !errors.Is(err, ErrAcquireTimeout) {
		t.Fatalf("queued waiter: got %v, want ErrAcquireTimeout", err)
	}
	if got := p.Health().QueueDepth; got != 0 {
		t.Errorf("queue depth after timeouts = %d, want 0", got)
	}
}

func TestPoolRecyclesContextAfterTTL(t *testing.T) {
	p, d := startPool(t, PoolConfig{MaxContexts: 1, ContextTTL: 2, QueueSize: 10})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		page, err := p.Acquire(ctx)
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		p.Release(page)
	}

	// Two lends hit the TTL, so a second context must now exist and
	// the original must be closed.
	if got := d.browser.contextCount(); got != 2 {
		t.Fatalf("contexts created = %d, want 2", got)
	}
	if !d.browser.created[0].closed {
		t.Error("worn context was not closed")
	}
}

func TestPoolRecyclesCorruptedContext(t *testing.T) {
	p, d := startPool(t, PoolConfig{MaxContexts: 1, QueueSize: 10})

	ctx := context.Background()
	page, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	d.browser.created[0].setClearErr(errors.New("cookie reset failed"))
	p.Release(page)

	if got := d.browser.contextCount(); got != 2 {
		t.Fatalf("contexts created = %d, want 2 after corruption recycle", got)
	}
	if !d.browser.created[0].closed {
		t.Error("corrupted context was not closed")
	}

	// Pool capacity survives: the fresh context is lendable.
	page, err = p.AcquireTimeout(ctx, time.Second)
	if err != nil {
		t.Fatalf("acquire after recycle: %v", err)
	}
	p.Release(page)
}

func TestPoolPageCreateFailureReplacesContext(t *testing.T) {
	d := &fakeDriver{}
	p := NewPool(d, PoolConfig{MaxContexts: 1, QueueSize: 10})

	// Poison the first context created during Start.
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(p.Stop)
	d.browser.created[0].mu.Lock()
	d.browser.created[0].newPageErr = errors.New("target crashed")
	d.browser.created[0].mu.Unlock()

	ctx := context.Background()
	if _, err := p.Acquire(ctx); !errors.Is(err, ErrPageCreate) {
		t.Fatalf("got %v, want ErrPageCreate", err)
	}

	// The wedged context was swapped for a fresh one.
	page, err := p.AcquireTimeout(ctx, time.Second)
	if err != nil {
		t.Fatalf("acquire after replacement: %v", err)
	}
	p.Release(page)
}

func TestPoolStopFailsWaitersFast(t *testing.T) {
	p, _ := startPool(t, PoolConfig{MaxContexts: 1, QueueSize: 10})

	ctx := context.Background()
	held, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	_ = held

	waiting := make(chan error, 1)
	go func() {
		_, err := p.AcquireTimeout(ctx, time.Minute)
		waiting <- err
	}()
	deadline := time.Now().Add(time.Second)
	for p.Health().QueueDepth == 0 {
		if time.Now().After(deadline) {
			t.Fatal("waiter never registered")
		}
		time.Sleep(time.Millisecond)
	}

	start := time.Now()
	p.Stop()

	select {
	case err := <-waiting:
		if !errors.Is(err, ErrPoolClosed) {
			t.Fatalf("waiter got %v, want ErrPoolClosed", err)
		}
		if time.Since(start) > time.Second {
			t.Errorf("waiter took %v to fail, want fast", time.Since(start))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter did not fail after Stop")
	}
}

func TestPoolStopClosesEverything(t *testing.T) {
	d := &fakeDriver{}
	p := NewPool(d, PoolConfig{MaxContexts: 2, QueueSize: 10})
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// One page stays lent across Stop: the holder never releases.
	page, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	p.Stop()

	if d.browser.Connected() {
		t.Error("browser still connected after Stop")
	}
	for _, c := range d.browser.created {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if !closed {
			t.Errorf("context %d not closed after Stop", c.id)
		}
	}
	fp := page.(*fakePage)
	fp.mu.Lock()
	if !fp.closed {
		t.Error("lent page not closed after Stop")
	}
	fp.mu.Unlock()

	if _, err := p.Acquire(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Errorf("acquire after Stop: got %v, want ErrNotStarted", err)
	}
}

func TestPoolReleaseUnknownPage(t *testing.T) {
	p, _ := startPool(t, PoolConfig{MaxContexts: 1, QueueSize: 10})

	stray := &fakePage{}
	p.Release(stray) // must not panic

	stray.mu.Lock()
	defer stray.mu.Unlock()
	if !stray.closed {
		t.Error("unknown page was not closed on release")
	}
}

func TestPoolAppliesPageTimeout(t *testing.T) {
	p, _ := startPool(t, PoolConfig{MaxContexts: 1, QueueSize: 10, PageTimeout: 7 * time.Second})

	page, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer p.Release(page)

	fp := page.(*fakePage)
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if fp.timeout != 7*time.Second {
		t.Errorf("page timeout = %v, want 7s", fp.timeout)
	}
}

func TestWithPageAlwaysReleases(t *testing.T) {
	p, _ := startPool(t, PoolConfig{MaxContexts: 1, QueueSize: 10})

	boom := errors.New("scrape failed")
	if err := p.WithPage(context.Background(), func(Page) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("WithPage error = %v, want %v", err, boom)
	}

	// The slot must be back: a fresh acquire succeeds immediately.
	page, err := p.AcquireTimeout(context.Background(), 100*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire after WithPage: %v", err)
	}
	p.Release(page)
}
