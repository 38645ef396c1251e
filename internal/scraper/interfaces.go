package scraper

import (
	"context"
	"time"
)

// Fetcher performs JavaScript-rendered page retrieval.
// Implementations own the browser lifecycle: Initialize must be called
// before the first Navigate, Close releases everything and may be followed
// by another Initialize.
type Fetcher interface {
	Initialize(ctx context.Context) error
	Navigate(ctx context.Context, rawURL string) (PageHandle, error)
	RotateIdentity(ctx context.Context) error
	Close(ctx context.Context) error
}

// PageHandle is a live handle to one rendered page. HTML may be called
// repeatedly to re-snapshot the DOM after an interaction.
type PageHandle interface {
	HTML(ctx context.Context) (string, error)
	Click(ctx context.Context, selector string) error
	Close()
}

// ListingStore is the persistence capability behind the gateway.
// Implementations return errors; the gateway converts them to booleans.
type ListingStore interface {
	Exists(ctx context.Context, url string) (bool, error)
	Insert(ctx context.Context, listing Listing) error
	UpdateByURL(ctx context.Context, url string, listing Listing) (bool, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}
