package scraper

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrNoSession indicates Navigate was called before a session existed.
var ErrNoSession = errors.New("fetcher has no active session")

const clickTimeout = time.Second

// Fetch identities rotated through on session replacement.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
	"Mozilla/5.0 (X11; Linux x86_64; rv:127.0) Gecko/20100101 Firefox/127.0",
}

// FetcherConfig controls the chromedp-backed fetcher.
type FetcherConfig struct {
	NavigationTimeout time.Duration
	SiteQPS           float64
	UserAgents        []string
}

// ChromedpFetcher renders pages in headless Chrome. It keeps exactly one
// browser session (the rotation unit) and opens a fresh tab per navigation.
type ChromedpFetcher struct {
	cfg     FetcherConfig
	logger  *zap.Logger
	limiter *rate.Limiter

	mu            sync.Mutex
	allocCtx      context.Context
	allocCancel   context.CancelFunc
	sessionCtx    context.Context
	sessionCancel context.CancelFunc
	userAgent     string
}

// NewChromedpFetcher creates a fetcher; Initialize starts the browser.
func NewChromedpFetcher(cfg FetcherConfig, logger *zap.Logger) (*ChromedpFetcher, error) {
	if cfg.NavigationTimeout <= 0 {
		return nil, fmt.Errorf("navigation timeout must be > 0")
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = defaultUserAgents
	}
	var limiter *rate.Limiter
	if cfg.SiteQPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.SiteQPS), 1)
	}
	return &ChromedpFetcher{cfg: cfg, logger: logger, limiter: limiter}, nil
}

// Initialize creates the exec allocator. The first session is created by
// the rotation that precedes the first fetch of a run.
func (f *ChromedpFetcher) Initialize(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.allocCtx != nil {
		return nil
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.WindowSize(1920, 1080),
	)
	f.allocCtx, f.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	return nil
}

// RotateIdentity replaces the active session with a new browser context
// carrying a freshly picked user agent. On failure the previous session
// stays active.
func (f *ChromedpFetcher) RotateIdentity(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.allocCtx == nil {
		return errors.New("fetcher not initialized")
	}

	ua := f.cfg.UserAgents[rand.IntN(len(f.cfg.UserAgents))]
	sessionCtx, sessionCancel := chromedp.NewContext(f.allocCtx)
	if err := chromedp.Run(sessionCtx); err != nil {
		sessionCancel()
		return fmt.Errorf("start browser session: %w", err)
	}

	if f.sessionCancel != nil {
		f.sessionCancel()
	}
	f.sessionCtx = sessionCtx
	f.sessionCancel = sessionCancel
	f.userAgent = ua
	f.logger.Debug("rotated fetch identity", zap.String("user_agent", ua))
	return nil
}

// Navigate opens a new tab, loads the URL and returns a live handle.
// The caller owns the handle and must Close it.
func (f *ChromedpFetcher) Navigate(ctx context.Context, rawURL string) (PageHandle, error) {
	f.mu.Lock()
	session := f.sessionCtx
	ua := f.userAgent
	f.mu.Unlock()
	if session == nil {
		return nil, ErrNoSession
	}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("site rate limit: %w", err)
		}
	}

	tabCtx, tabCancel := chromedp.NewContext(session)
	stopForward := forwardCancel(ctx, tabCancel)

	navCtx, navCancel := context.WithTimeout(tabCtx, f.cfg.NavigationTimeout)
	defer navCancel()

	tasks := chromedp.Tasks{
		network.Enable(),
		emulation.SetUserAgentOverride(ua),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if err := chromedp.Run(navCtx, tasks); err != nil {
		stopForward()
		tabCancel()
		return nil, fmt.Errorf("navigate %s: %w", rawURL, err)
	}

	return &chromedpPage{
		ctx:         tabCtx,
		cancel:      tabCancel,
		stopForward: stopForward,
		timeout:     f.cfg.NavigationTimeout,
	}, nil
}

// Close tears down the session and allocator. Safe to call on every exit
// path; a later Initialize starts over.
func (f *ChromedpFetcher) Close(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sessionCancel != nil {
		f.sessionCancel()
		f.sessionCtx = nil
		f.sessionCancel = nil
	}
	if f.allocCancel != nil {
		f.allocCancel()
		f.allocCtx = nil
		f.allocCancel = nil
	}
	return nil
}

type chromedpPage struct {
	ctx         context.Context
	cancel      context.CancelFunc
	stopForward func()
	timeout     time.Duration
	closeOnce   sync.Once
}

// HTML snapshots the current DOM of the tab.
func (p *chromedpPage) HTML(ctx context.Context) (string, error) {
	runCtx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	var html string
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("snapshot dom: %w", err)
	}
	return html, nil
}

// Click performs one in-page interaction on the first visible match.
func (p *chromedpPage) Click(ctx context.Context, selector string) error {
	runCtx, cancel := context.WithTimeout(p.ctx, clickTimeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

// Close releases the tab exactly once.
func (p *chromedpPage) Close() {
	p.closeOnce.Do(func() {
		p.stopForward()
		p.cancel()
	})
}

// forwardCancel propagates cancellation of parent to cancel until the
// returned stop function is called.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// UserAgent reports the identity of the active session, empty before the
// first rotation.
func (f *ChromedpFetcher) UserAgent() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.userAgent
}
