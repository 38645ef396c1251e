package scraper

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"autoria-crawler/internal/metrics"
)

// Config carries the crawl parameters of one Engine.
type Config struct {
	StartURL        string
	SiteOrigin      string
	PageConcurrency int
	ItemConcurrency int
	BaseDelay       time.Duration
	SettleWait      time.Duration
	RetryAttempts   int
	RetryDelay      time.Duration

	// MarkupVersion pins the selector bundle ("current", "legacy");
	// empty means detect from the start page.
	MarkupVersion string
}

// Engine orchestrates a whole crawl: pagination planning from the start
// page, bounded-concurrency fan-out over catalog pages and listing items,
// session rotation and persistence. A run degrades on partial failure and
// only the inability to reach the start page aborts an attempt.
type Engine struct {
	cfg     Config
	fetcher Fetcher
	gateway *Gateway
	rotator *Rotator
	logger  *zap.Logger
	clock   Clock

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration)
}

// NewEngine validates the configuration and builds an Engine.
func NewEngine(cfg Config, fetcher Fetcher, gateway *Gateway, rotator *Rotator, logger *zap.Logger) (*Engine, error) {
	if cfg.StartURL == "" {
		return nil, fmt.Errorf("start URL is required")
	}
	if cfg.SiteOrigin == "" {
		return nil, fmt.Errorf("site origin is required")
	}
	if cfg.PageConcurrency <= 0 {
		return nil, fmt.Errorf("page concurrency must be > 0, got %d", cfg.PageConcurrency)
	}
	if cfg.ItemConcurrency <= 0 {
		return nil, fmt.Errorf("item concurrency must be > 0, got %d", cfg.ItemConcurrency)
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.MarkupVersion != "" {
		if _, ok := SelectorsForVersion(cfg.MarkupVersion); !ok {
			return nil, fmt.Errorf("unknown markup version %q", cfg.MarkupVersion)
		}
	}
	return &Engine{
		cfg:     cfg,
		fetcher: fetcher,
		gateway: gateway,
		rotator: rotator,
		logger:  logger,
		clock:   systemClock{},
		sleep:   sleepCtx,
	}, nil
}

// Run executes a crawl with up to RetryAttempts full restarts on failure.
// It never returns an error: an exhausted retry budget or a cancelled
// context yields the stats gathered so far (zero on total failure).
func (e *Engine) Run(ctx context.Context, fullUpdate bool) Stats {
	runID := uuid.NewString()
	logger := e.logger.With(zap.String("run_id", runID))
	start := e.clock.Now()

	for attempt := 1; attempt <= e.cfg.RetryAttempts; attempt++ {
		stats, err := e.runOnce(ctx, logger.With(zap.Int("attempt", attempt)), fullUpdate)
		if err == nil {
			logger.Info("crawl run finished",
				zap.Int("pages_processed", stats.PagesProcessed),
				zap.Int("listings_saved", stats.ListingsSaved),
			)
			metrics.ObserveRun("ok", e.clock.Now().Sub(start))
			return stats
		}

		if ctx.Err() != nil {
			logger.Warn("crawl run cancelled", zap.Error(ctx.Err()))
			metrics.ObserveRun("cancelled", e.clock.Now().Sub(start))
			return stats
		}

		logger.Warn("crawl attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", e.cfg.RetryAttempts),
			zap.Error(err),
		)
		if attempt < e.cfg.RetryAttempts {
			e.sleep(ctx, e.cfg.RetryDelay)
		}
	}

	logger.Error("crawl run failed, retry budget exhausted")
	metrics.ObserveRun("failed", e.clock.Now().Sub(start))
	return Stats{}
}

// runOnce is a single attempt: initialize, plan from the start page, fan
// out and aggregate. Planned-page and item failures are absorbed; only a
// failure before the plan exists is returned for retry.
func (e *Engine) runOnce(ctx context.Context, logger *zap.Logger, fullUpdate bool) (Stats, error) {
	e.transition(logger, stateInitializing)
	if err := e.fetcher.Initialize(ctx); err != nil {
		return Stats{}, fmt.Errorf("initialize fetcher: %w", err)
	}
	defer func() {
		if err := e.fetcher.Close(context.Background()); err != nil {
			logger.Warn("fetcher close failed", zap.Error(err))
		}
		e.transition(logger, stateClosed)
	}()

	// Fresh identity before the first fetch of the run.
	e.rotator.Rotate(ctx)

	e.transition(logger, statePlanning)
	startDoc, err := e.fetchDocument(ctx, e.cfg.StartURL)
	if err != nil {
		metrics.ObserveFetchError("start_page")
		return Stats{}, fmt.Errorf("fetch start page: %w", err)
	}

	selectors := e.resolveSelectors(startDoc, logger)
	planner := NewPlanner(selectors, logger)
	plan := planner.Build(startDoc, e.cfg.StartURL)

	e.transition(logger, stateFanningOut)
	stats := e.crawl(ctx, logger, selectors, startDoc, plan, fullUpdate)

	e.transition(logger, stateAggregating)
	logger.Info("attempt aggregated",
		zap.Int("pages_processed", stats.PagesProcessed),
		zap.Int("listings_saved", stats.ListingsSaved),
	)
	return stats, nil
}

// crawl processes the already-rendered start page and fans the remaining
// planned pages out over the page semaphore. Every page task is issued
// eagerly; admission is controlled by slot acquisition.
func (e *Engine) crawl(ctx context.Context, logger *zap.Logger, selectors SelectorSet, startDoc *goquery.Document, plan Plan, fullUpdate bool) Stats {
	pageSem := make(chan struct{}, e.cfg.PageConcurrency)
	itemSem := make(chan struct{}, e.cfg.ItemConcurrency)

	links := NewLinkExtractor(selectors, e.cfg.SiteOrigin)
	detail := NewDetailExtractor(selectors, e.cfg.SettleWait, logger, e.clock)
	processed := NewProcessedSet()

	// Start page first: its subtree completes before the fan-out begins.
	var stats Stats
	if acquireSlot(ctx, pageSem) {
		metrics.ObservePage()
		saved := e.processItems(ctx, logger, itemSem, detail, processed,
			links.Extract(startDoc, processed), fullUpdate)
		releaseSlot(pageSem)

		stats.PagesProcessed++
		stats.ListingsSaved += saved
		if saved > 0 {
			e.rotator.Rotate(ctx)
		}
	}

	pageSaved := make([]int, len(plan.PageURLs))
	pageAttempted := make([]bool, len(plan.PageURLs))

	var wg sync.WaitGroup
	for i, pageURL := range plan.PageURLs {
		wg.Add(1)
		go func(idx int, url string) {
			defer wg.Done()
			saved, attempted := e.processPage(ctx, logger, pageSem, itemSem, links, detail, processed, url, fullUpdate)
			pageSaved[idx] = saved
			pageAttempted[idx] = attempted
		}(i, pageURL)
	}
	wg.Wait()

	// Every admitted page counts as attempted, fetched or not; only pages
	// never admitted (cancellation) stay out of the totals.
	for i := range pageAttempted {
		if pageAttempted[i] {
			stats.PagesProcessed++
			stats.ListingsSaved += pageSaved[i]
		}
	}
	return stats
}

// processPage runs one catalog page subtree. The page slot is held until
// every child item task has joined, so a slow page throttles admission of
// later pages. A fetch failure skips the subtree but the page still
// counts as attempted.
func (e *Engine) processPage(ctx context.Context, logger *zap.Logger, pageSem, itemSem chan struct{}, links *LinkExtractor, detail *DetailExtractor, processed *ProcessedSet, pageURL string, fullUpdate bool) (int, bool) {
	if !acquireSlot(ctx, pageSem) {
		return 0, false
	}
	defer releaseSlot(pageSem)
	metrics.ObservePage()

	doc, err := e.fetchDocument(ctx, pageURL)
	if err != nil {
		logger.Warn("catalog page fetch failed, skipping",
			zap.String("url", pageURL), zap.Error(err))
		metrics.ObserveFetchError("catalog_page")
		return 0, true
	}

	saved := e.processItems(ctx, logger, itemSem, detail, processed, links.Extract(doc, processed), fullUpdate)
	if saved > 0 {
		e.rotator.Rotate(ctx)
	}
	return saved, true
}

// processItems fans the page's listing URLs out over the item semaphore
// and joins them, returning how many were newly persisted.
func (e *Engine) processItems(ctx context.Context, logger *zap.Logger, itemSem chan struct{}, detail *DetailExtractor, processed *ProcessedSet, urls []string, fullUpdate bool) int {
	if len(urls) == 0 {
		return 0
	}

	saved := make([]bool, len(urls))
	var wg sync.WaitGroup
	for i, url := range urls {
		wg.Add(1)
		go func(idx int, itemURL string) {
			defer wg.Done()
			saved[idx] = e.processItem(ctx, logger, itemSem, detail, processed, itemURL, fullUpdate)
		}(i, url)
	}
	wg.Wait()

	total := 0
	for _, ok := range saved {
		if ok {
			total++
		}
	}
	return total
}

// processItem claims the URL in the run's processed set, navigates to the
// listing, extracts it and persists it. A URL already claimed by another
// task (the same listing surfacing on a second catalog page) is skipped.
func (e *Engine) processItem(ctx context.Context, logger *zap.Logger, itemSem chan struct{}, detail *DetailExtractor, processed *ProcessedSet, itemURL string, fullUpdate bool) bool {
	if !processed.MarkIfNew(itemURL) {
		return false
	}
	if !acquireSlot(ctx, itemSem) {
		return false
	}
	defer releaseSlot(itemSem)

	page, err := e.fetcher.Navigate(ctx, itemURL)
	if err != nil {
		logger.Warn("listing fetch failed, skipping",
			zap.String("url", itemURL), zap.Error(err))
		metrics.ObserveFetchError("listing_page")
		return false
	}
	defer page.Close()

	listing := detail.Extract(ctx, page, itemURL)
	e.politeDelay(ctx)

	if !e.gateway.Save(ctx, listing, fullUpdate) {
		return false
	}
	metrics.ObserveListingSaved()
	return true
}

// fetchDocument navigates to a URL and parses the rendered DOM.
func (e *Engine) fetchDocument(ctx context.Context, url string) (*goquery.Document, error) {
	page, err := e.fetcher.Navigate(ctx, url)
	if err != nil {
		return nil, err
	}
	defer page.Close()

	html, err := page.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", url, err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}
	return doc, nil
}

func (e *Engine) resolveSelectors(doc *goquery.Document, logger *zap.Logger) SelectorSet {
	if e.cfg.MarkupVersion != "" {
		selectors, _ := SelectorsForVersion(e.cfg.MarkupVersion)
		logger.Info("markup version pinned", zap.String("version", selectors.Version))
		return selectors
	}
	selectors := DetectSelectors(doc)
	logger.Info("markup version detected", zap.String("version", selectors.Version))
	return selectors
}

// politeDelay pauses between listing fetches with jitter around the base.
func (e *Engine) politeDelay(ctx context.Context) {
	if e.cfg.BaseDelay <= 0 {
		return
	}
	e.sleep(ctx, jitteredDelay(e.cfg.BaseDelay))
}

func (e *Engine) transition(logger *zap.Logger, to runState) {
	logger.Debug("state transition", zap.String("state", string(to)))
}

// acquireSlot blocks until a semaphore slot is free or the context ends.
func acquireSlot(ctx context.Context, sem chan struct{}) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case sem <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func releaseSlot(sem chan struct{}) {
	<-sem
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
