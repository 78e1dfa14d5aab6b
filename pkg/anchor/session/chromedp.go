package session

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tourforge/anchor/internal/config"
)

// Manager owns the headless browser process. All pages are derived from its
// allocator context and tracked for graceful shutdown.
type Manager struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc

	// wg tracks open pages for a graceful shutdown.
	wg sync.WaitGroup
}

// NewManager launches the browser process and verifies it is responsive.
func NewManager(ctx context.Context, logger *zap.Logger, cfg config.BrowserConfig) (*Manager, error) {
	m := &Manager{
		logger: logger.Named("browser_manager"),
		cfg:    cfg,
	}

	allocCtx, cancel := chromedp.NewExecAllocator(ctx, m.buildAllocatorOptions()...)
	m.allocatorCtx = allocCtx
	m.allocatorCancel = cancel

	// Confirm the browser starts before handing the manager out.
	testCtx, cancelTest := context.WithTimeout(allocCtx, 30*time.Second)
	defer cancelTest()
	testCtx, cancelTab := chromedp.NewContext(testCtx)
	defer cancelTab()
	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		m.allocatorCancel()
		return nil, fmt.Errorf("browser failed to start or respond: %w", err)
	}

	m.logger.Info("Browser launched and responsive.")
	return m, nil
}

// buildAllocatorOptions assembles the launch flags for the browser process.
func (m *Manager) buildAllocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	opts = append(opts,
		chromedp.Flag("headless", m.cfg.Headless),
		chromedp.Flag("ignore-certificate-errors", m.cfg.IgnoreTLSErrors),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", m.cfg.Headless),
		chromedp.WindowSize(m.cfg.WindowWidth, m.cfg.WindowHeight),
	)

	if m.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(m.cfg.ExecPath))
	}

	// Flags required for running inside containers.
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
	}

	return opts
}

// NewPage opens an isolated tab and returns a Session bound to it.
func (m *Manager) NewPage(ctx context.Context) (Session, error) {
	tabCtx, cancel := chromedp.NewContext(m.allocatorCtx)

	// Materialize the tab so failures surface here, not on first use. Device
	// metrics are pinned so geometry reads are deterministic across hosts.
	if err := chromedp.Run(tabCtx,
		emulation.SetDeviceMetricsOverride(int64(m.cfg.WindowWidth), int64(m.cfg.WindowHeight), 1, false),
		chromedp.Navigate("about:blank"),
	); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	id := uuid.New().String()
	m.wg.Add(1)
	p := &Page{
		id:         id,
		logger:     m.logger.With(zap.String("page_id", id[:8])),
		tabCtx:     tabCtx,
		tabCancel:  cancel,
		navTimeout: m.cfg.NavigationTimeout,
		released:   m.wg.Done,
	}
	return p, nil
}

// Shutdown waits for open pages to close, then terminates the browser.
func (m *Manager) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Shutdown deadline exceeded; forcing browser termination.", zap.Error(ctx.Err()))
	}

	if m.allocatorCancel != nil {
		m.allocatorCancel()
		<-m.allocatorCtx.Done()
	}
	return nil
}

// Page is a chromedp-backed Session for one tab.
type Page struct {
	id     string
	logger *zap.Logger

	tabCtx     context.Context
	tabCancel  context.CancelFunc
	navTimeout time.Duration
	released   func()

	mu     sync.Mutex
	closed bool
}

var _ Session = (*Page)(nil)

// ID returns the page's unique ID.
func (p *Page) ID() string { return p.id }

// run executes chromedp actions on the tab while honoring the caller's
// context for cancellation and deadline.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("page %s is closed", p.id[:8])
	}
	p.mu.Unlock()

	runCtx, cancel := context.WithCancel(p.tabCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// Navigate loads the URL and waits for the document to become ready.
func (p *Page) Navigate(ctx context.Context, url string) error {
	navCtx := ctx
	if p.navTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, p.navTimeout)
		defer cancel()
	}
	return p.run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// ExecuteScript evaluates JavaScript in the page and returns the raw JSON
// result. When args are present, script must be a function expression.
func (p *Page) ExecuteScript(ctx context.Context, script string, args []interface{}) (json.RawMessage, error) {
	expr := script
	if args != nil {
		encoded, err := jsonAPI.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("encoding script args: %w", err)
		}
		expr = fmt.Sprintf("(%s).apply(null, %s)", script, encoded)
	}

	var raw []byte
	if err := p.run(ctx, chromedp.Evaluate(expr, &raw)); err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}

// Close releases the tab. Safe to call more than once.
func (p *Page) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.tabCancel()
	if p.released != nil {
		p.released()
	}
	return nil
}
