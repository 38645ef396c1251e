package scraper

import (
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

// ProcessedSet tracks URLs already attempted within the current run.
// It lives for exactly one run and is never persisted.
type ProcessedSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewProcessedSet returns an empty set.
func NewProcessedSet() *ProcessedSet {
	return &ProcessedSet{seen: make(map[string]struct{})}
}

// MarkIfNew stores the URL if it has not been seen before and returns true.
func (s *ProcessedSet) MarkIfNew(url string) bool {
	if url == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[url]; ok {
		return false
	}
	s.seen[url] = struct{}{}
	return true
}

// Contains reports whether the URL was already attempted.
func (s *ProcessedSet) Contains(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[url]
	return ok
}

// Len returns the number of tracked URLs.
func (s *ProcessedSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// LinkExtractor pulls listing URLs out of an index page.
type LinkExtractor struct {
	selectors SelectorSet
	origin    string
}

// NewLinkExtractor builds an extractor resolving relative hrefs against origin.
func NewLinkExtractor(selectors SelectorSet, origin string) *LinkExtractor {
	return &LinkExtractor{
		selectors: selectors,
		origin:    strings.TrimSuffix(origin, "/"),
	}
}

// Extract returns listing URLs in document order, skipping any already in
// processed. A page without listing cards yields an empty slice.
func (e *LinkExtractor) Extract(doc *goquery.Document, processed *ProcessedSet) []string {
	links := make([]string, 0, defaultPageSize)
	doc.Find(e.selectors.ListingLink).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" {
			return
		}
		if strings.HasPrefix(href, "/") {
			href = e.origin + href
		}
		if processed != nil && processed.Contains(href) {
			return
		}
		links = append(links, href)
	})
	return links
}
