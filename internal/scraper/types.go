package scraper

import (
	"time"
)

// Listing is one extracted catalog record. URL is the unique key; every
// other field besides FoundAt is optional and may be absent on the page.
type Listing struct {
	URL         string
	Title       string
	PriceUSD    *float64
	Odometer    *int
	SellerName  *string
	Phone       *string
	ImageURL    *string
	ImagesCount int
	PlateNumber *string
	VIN         *string
	FoundAt     time.Time
}

// Stats summarizes one crawl run.
type Stats struct {
	PagesProcessed int
	ListingsSaved  int
}

// runState tracks the orchestrator lifecycle; transitions are logged.
type runState string

const (
	stateIdle         runState = "idle"
	stateInitializing runState = "initializing"
	statePlanning     runState = "planning_start_page"
	stateFanningOut   runState = "fanning_out_pages"
	stateAggregating  runState = "aggregating"
	stateClosed       runState = "closed"
)

// Plan is the pagination plan derived from the start page.
type Plan struct {
	TotalCount int
	PageSize   int
	TotalPages int
	PageURLs   []string
}
