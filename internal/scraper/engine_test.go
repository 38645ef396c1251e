package scraper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"autoria-crawler/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

// stubFetcher serves canned HTML by URL and records concurrency, split
// by catalog-page and listing-item fetches.
type stubFetcher struct {
	mu              sync.Mutex
	pages           map[string]string
	failFirst       int // fail this many Navigate calls before serving
	navigations     int
	navByURL        map[string]int
	pageInFlight    int
	maxPageInFlight int
	itemInFlight    int
	maxItemInFlight int
	rotations       int
	initialized     bool
}

func (f *stubFetcher) Initialize(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initialized = true
	return nil
}

func (f *stubFetcher) RotateIdentity(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rotations++
	return nil
}

func (f *stubFetcher) Navigate(_ context.Context, rawURL string) (PageHandle, error) {
	f.mu.Lock()
	f.navigations++
	if f.navByURL == nil {
		f.navByURL = make(map[string]int)
	}
	f.navByURL[rawURL]++
	if f.failFirst > 0 {
		f.failFirst--
		f.mu.Unlock()
		return nil, errors.New("net::ERR_CONNECTION_RESET")
	}
	html, ok := f.pages[rawURL]
	if !ok {
		f.mu.Unlock()
		return nil, fmt.Errorf("no fixture for %s", rawURL)
	}
	isItem := strings.Contains(rawURL, "/auto_")
	if isItem {
		f.itemInFlight++
		if f.itemInFlight > f.maxItemInFlight {
			f.maxItemInFlight = f.itemInFlight
		}
	} else {
		f.pageInFlight++
		if f.pageInFlight > f.maxPageInFlight {
			f.maxPageInFlight = f.pageInFlight
		}
	}
	f.mu.Unlock()

	return &stubPage{html: html, onClose: func() {
		f.mu.Lock()
		if isItem {
			f.itemInFlight--
		} else {
			f.pageInFlight--
		}
		f.mu.Unlock()
	}}, nil
}

func (f *stubFetcher) Close(context.Context) error { return nil }

type stubPage struct {
	html      string
	onClose   func()
	closeOnce sync.Once
}

func (p *stubPage) HTML(context.Context) (string, error) { return p.html, nil }

func (p *stubPage) Click(context.Context, string) error { return nil }

func (p *stubPage) Close() { p.closeOnce.Do(p.onClose) }

// memStore is an in-memory ListingStore with a unique URL constraint.
type memStore struct {
	mu       sync.Mutex
	listings map[string]Listing
}

func newMemStore() *memStore {
	return &memStore{listings: make(map[string]Listing)}
}

func (s *memStore) Exists(_ context.Context, url string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.listings[url]
	return ok, nil
}

func (s *memStore) Insert(_ context.Context, listing Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.listings[listing.URL]; ok {
		return errors.New("duplicate key value violates unique constraint")
	}
	s.listings[listing.URL] = listing
	return nil
}

func (s *memStore) UpdateByURL(_ context.Context, url string, listing Listing) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.listings[url]; !ok {
		return false, nil
	}
	s.listings[url] = listing
	return true, nil
}

const startURL = "https://auto.ria.com/uk/car/used/"

// fixtureSite builds a 3-page catalog: 45 listings at 20 per page.
func fixtureSite() map[string]string {
	pages := map[string]string{}
	listing := 0
	addPage := func(url string, n int) {
		var sb strings.Builder
		sb.WriteString(`<html><body><div id="searchResults">`)
		sb.WriteString(`<span id="staticResultsCount">45</span>`)
		sb.WriteString(`<a id="paginationChangeSize">20 оголошень</a>`)
		for i := 0; i < n; i++ {
			listing++
			itemURL := fmt.Sprintf("https://auto.ria.com/auto_test_%d.html", listing)
			sb.WriteString(fmt.Sprintf(`<a class="m-link-ticket" href="%s"></a>`, itemURL))
			pages[itemURL] = fmt.Sprintf(`<html><body>
				<h1 class="head">Test Car %d</h1>
				<div class="price_value"><strong>%d $</strong></div>
			</body></html>`, listing, 5000+listing)
		}
		sb.WriteString(`</div></body></html>`)
		pages[url] = sb.String()
	}
	addPage(startURL, 20)
	addPage(startURL+"?page=2", 20)
	addPage(startURL+"?page=3", 5)
	return pages
}

func testConfig() Config {
	return Config{
		StartURL:        startURL,
		SiteOrigin:      "https://auto.ria.com",
		PageConcurrency: 3,
		ItemConcurrency: 5,
		SettleWait:      time.Millisecond,
		RetryAttempts:   3,
		RetryDelay:      time.Millisecond,
	}
}

func newTestEngine(t *testing.T, cfg Config, fetcher Fetcher, store ListingStore) *Engine {
	t.Helper()
	logger := zap.NewNop()
	engine, err := NewEngine(cfg, fetcher, NewGateway(store, logger), NewRotator(fetcher, logger), logger)
	require.NoError(t, err)
	return engine
}

func TestNewEngineValidation(t *testing.T) {
	fetcher := &stubFetcher{}
	store := newMemStore()
	logger := zap.NewNop()
	gateway := NewGateway(store, logger)
	rotator := NewRotator(fetcher, logger)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing start URL", func(c *Config) { c.StartURL = "" }},
		{"missing origin", func(c *Config) { c.SiteOrigin = "" }},
		{"zero page concurrency", func(c *Config) { c.PageConcurrency = 0 }},
		{"negative item concurrency", func(c *Config) { c.ItemConcurrency = -1 }},
		{"unknown markup version", func(c *Config) { c.MarkupVersion = "v3" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			_, err := NewEngine(cfg, fetcher, gateway, rotator, logger)
			assert.Error(t, err)
		})
	}
}

func TestEngineRunFullCrawl(t *testing.T) {
	fetcher := &stubFetcher{pages: fixtureSite()}
	store := newMemStore()
	engine := newTestEngine(t, testConfig(), fetcher, store)

	stats := engine.Run(context.Background(), false)

	assert.Equal(t, 3, stats.PagesProcessed)
	assert.Equal(t, 45, stats.ListingsSaved)
	assert.Len(t, store.listings, 45)
	assert.True(t, fetcher.initialized)
	// One rotation before the first fetch plus one per page with saves.
	assert.GreaterOrEqual(t, fetcher.rotations, 4)
}

func TestEngineRunSecondPassSkipsKnown(t *testing.T) {
	fetcher := &stubFetcher{pages: fixtureSite()}
	store := newMemStore()
	engine := newTestEngine(t, testConfig(), fetcher, store)

	first := engine.Run(context.Background(), false)
	require.Equal(t, 45, first.ListingsSaved)

	second := engine.Run(context.Background(), false)
	assert.Equal(t, 3, second.PagesProcessed)
	assert.Equal(t, 0, second.ListingsSaved)
	assert.Len(t, store.listings, 45)
}

func TestEngineRunFullUpdateRefreshes(t *testing.T) {
	fetcher := &stubFetcher{pages: fixtureSite()}
	store := newMemStore()
	engine := newTestEngine(t, testConfig(), fetcher, store)

	first := engine.Run(context.Background(), true)
	require.Equal(t, 45, first.ListingsSaved)

	second := engine.Run(context.Background(), true)
	assert.Equal(t, 45, second.ListingsSaved)
	assert.Len(t, store.listings, 45)
}

func TestEngineRetriesThenSucceeds(t *testing.T) {
	// First two attempts cannot reach the start page; the third succeeds.
	fetcher := &stubFetcher{pages: fixtureSite(), failFirst: 2}
	store := newMemStore()
	engine := newTestEngine(t, testConfig(), fetcher, store)

	stats := engine.Run(context.Background(), false)

	assert.Equal(t, 3, stats.PagesProcessed)
	assert.Equal(t, 45, stats.ListingsSaved)
}

func TestEngineRetryBudgetExhausted(t *testing.T) {
	fetcher := &stubFetcher{pages: fixtureSite(), failFirst: 1000}
	store := newMemStore()
	engine := newTestEngine(t, testConfig(), fetcher, store)

	stats := engine.Run(context.Background(), false)

	assert.Zero(t, stats.PagesProcessed)
	assert.Zero(t, stats.ListingsSaved)
	assert.Empty(t, store.listings)
	// One start-page navigation per attempt, nothing more.
	assert.Equal(t, 3, fetcher.navigations)
}

func TestEnginePageFailureDegrades(t *testing.T) {
	pages := fixtureSite()
	delete(pages, startURL+"?page=2")
	fetcher := &stubFetcher{pages: pages}
	store := newMemStore()
	engine := newTestEngine(t, testConfig(), fetcher, store)

	stats := engine.Run(context.Background(), false)

	// The broken page still counts as attempted; only its listings are lost.
	assert.Equal(t, 3, stats.PagesProcessed)
	assert.Equal(t, 25, stats.ListingsSaved)
}

func TestEngineDuplicateListingAcrossPages(t *testing.T) {
	// The same listing is advertised on both catalog pages; it must be
	// fetched and saved exactly once per run.
	dupURL := "https://auto.ria.com/auto_dup_1.html"
	pages := map[string]string{
		startURL: `<html><body><div id="searchResults">
			<span id="staticResultsCount">40</span>
			<a id="paginationChangeSize">20 оголошень</a>
			<a class="m-link-ticket" href="/auto_dup_1.html"></a>
			<a class="m-link-ticket" href="/auto_first_2.html"></a>
		</div></body></html>`,
		startURL + "?page=2": `<html><body><div id="searchResults">
			<a class="m-link-ticket" href="/auto_dup_1.html"></a>
			<a class="m-link-ticket" href="/auto_second_3.html"></a>
		</div></body></html>`,
		dupURL:                                    `<html><body><h1 class="head">Dup</h1></body></html>`,
		"https://auto.ria.com/auto_first_2.html":  `<html><body><h1 class="head">First</h1></body></html>`,
		"https://auto.ria.com/auto_second_3.html": `<html><body><h1 class="head">Second</h1></body></html>`,
	}
	fetcher := &stubFetcher{pages: pages}
	store := newMemStore()
	engine := newTestEngine(t, testConfig(), fetcher, store)

	stats := engine.Run(context.Background(), false)

	assert.Equal(t, 2, stats.PagesProcessed)
	assert.Equal(t, 3, stats.ListingsSaved)
	assert.Equal(t, 1, fetcher.navByURL[dupURL])
	assert.Equal(t, 5, fetcher.navigations)
}

func TestEngineDuplicateNotDoubleCountedOnFullUpdate(t *testing.T) {
	dupURL := "https://auto.ria.com/auto_dup_1.html"
	pages := map[string]string{
		startURL: `<html><body><div id="searchResults">
			<span id="staticResultsCount">40</span>
			<a id="paginationChangeSize">20 оголошень</a>
			<a class="m-link-ticket" href="/auto_dup_1.html"></a>
		</div></body></html>`,
		startURL + "?page=2": `<html><body><div id="searchResults">
			<a class="m-link-ticket" href="/auto_dup_1.html"></a>
		</div></body></html>`,
		dupURL: `<html><body><h1 class="head">Dup</h1></body></html>`,
	}
	fetcher := &stubFetcher{pages: pages}
	store := newMemStore()
	engine := newTestEngine(t, testConfig(), fetcher, store)

	stats := engine.Run(context.Background(), true)

	assert.Equal(t, 1, stats.ListingsSaved)
	assert.Equal(t, 1, fetcher.navByURL[dupURL])
}

func TestEngineConcurrencyBounded(t *testing.T) {
	fetcher := &stubFetcher{pages: fixtureSite()}
	store := newMemStore()
	cfg := testConfig()
	cfg.PageConcurrency = 2
	cfg.ItemConcurrency = 3
	engine := newTestEngine(t, cfg, fetcher, store)

	stats := engine.Run(context.Background(), false)

	require.Equal(t, 45, stats.ListingsSaved)
	// A handle is open only while its semaphore slot is held, so neither
	// class of fetch may exceed its own budget.
	assert.LessOrEqual(t, fetcher.maxPageInFlight, cfg.PageConcurrency)
	assert.LessOrEqual(t, fetcher.maxItemInFlight, cfg.ItemConcurrency)
}

func TestEngineCancelledContext(t *testing.T) {
	fetcher := &stubFetcher{pages: fixtureSite()}
	store := newMemStore()
	engine := newTestEngine(t, testConfig(), fetcher, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats := engine.Run(ctx, false)

	assert.Zero(t, stats.ListingsSaved)
	// No retry storm after cancellation.
	assert.LessOrEqual(t, fetcher.navigations, 1)
}

func TestEngineSinglePagePlan(t *testing.T) {
	pages := map[string]string{
		startURL: `<html><body><div id="searchResults">
			<span id="staticResultsCount">2</span>
			<a id="paginationChangeSize">20 оголошень</a>
			<a class="m-link-ticket" href="/auto_one_1.html"></a>
			<a class="m-link-ticket" href="/auto_two_2.html"></a>
		</div></body></html>`,
		"https://auto.ria.com/auto_one_1.html": `<html><body><h1 class="head">One</h1></body></html>`,
		"https://auto.ria.com/auto_two_2.html": `<html><body><h1 class="head">Two</h1></body></html>`,
	}
	fetcher := &stubFetcher{pages: pages}
	store := newMemStore()
	engine := newTestEngine(t, testConfig(), fetcher, store)

	stats := engine.Run(context.Background(), false)

	assert.Equal(t, 1, stats.PagesProcessed)
	assert.Equal(t, 2, stats.ListingsSaved)
}
