package scraper

import (
	"context"

	"go.uber.org/zap"
)

// Gateway is the persistence boundary of the crawl pipeline. Store errors
// never escape it; every operation reports plain success or failure so a
// broken database degrades a run instead of aborting it. The exists-then-
// insert sequence is not transactional: the store's unique constraint on
// the URL is the backstop for concurrent duplicate attempts.
type Gateway struct {
	store  ListingStore
	logger *zap.Logger
}

// NewGateway wraps a ListingStore with the boolean error contract.
func NewGateway(store ListingStore, logger *zap.Logger) *Gateway {
	return &Gateway{store: store, logger: logger}
}

// Exists reports whether a listing with the URL is already stored.
// A storage error reads as "not found" so the caller proceeds to insert
// and the unique constraint has the final word.
func (g *Gateway) Exists(ctx context.Context, url string) bool {
	exists, err := g.store.Exists(ctx, url)
	if err != nil {
		g.logger.Error("existence check failed", zap.String("url", url), zap.Error(err))
		return false
	}
	return exists
}

// Insert stores a new listing, reporting success.
func (g *Gateway) Insert(ctx context.Context, listing Listing) bool {
	if err := g.store.Insert(ctx, listing); err != nil {
		g.logger.Error("insert failed", zap.String("url", listing.URL), zap.Error(err))
		return false
	}
	return true
}

// UpdateByURL overwrites the mutable fields of an existing listing. The
// URL key and original FoundAt timestamp are never touched. Returns false
// when no record matches or the store fails.
func (g *Gateway) UpdateByURL(ctx context.Context, url string, listing Listing) bool {
	matched, err := g.store.UpdateByURL(ctx, url, listing)
	if err != nil {
		g.logger.Error("update failed", zap.String("url", url), zap.Error(err))
		return false
	}
	return matched
}

// Save applies the persistence policy for one extracted listing.
// Default mode skips URLs that already exist; full-update mode refreshes
// known records in place and inserts the rest.
func (g *Gateway) Save(ctx context.Context, listing Listing, fullUpdate bool) bool {
	if fullUpdate {
		if g.UpdateByURL(ctx, listing.URL, listing) {
			return true
		}
		return g.Insert(ctx, listing)
	}

	if g.Exists(ctx, listing.URL) {
		g.logger.Debug("listing already stored, skipping", zap.String("url", listing.URL))
		return false
	}
	return g.Insert(ctx, listing)
}
