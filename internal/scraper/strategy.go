package scraper

import (
	"github.com/PuerkitoBio/goquery"
)

// SelectorSet bundles the site-specific selectors for one markup era.
// AutoRia has shipped more than one frontend over the years, so the
// extraction pipeline is parameterized by a versioned selector bundle
// chosen by a probe on the start page (or pinned via configuration).
type SelectorSet struct {
	Version string

	// marker identifies this markup era during detection.
	Marker string

	// Index page.
	ResultsCount    string
	PageSizeControl string
	ListingLink     string

	// Detail page.
	Title         string
	Price         string
	OdometerBlock string
	SellerName    string
	PhoneReveal   string
	Gallery       string
	GalleryImage  string
	PlateNumber   string
	VIN           string
}

// CurrentSelectors matches the present-day AutoRia markup.
func CurrentSelectors() SelectorSet {
	return SelectorSet{
		Version:         "current",
		Marker:          "#searchResults",
		ResultsCount:    "span#staticResultsCount",
		PageSizeControl: "a#paginationChangeSize",
		ListingLink:     "a.m-link-ticket",
		Title:           "h1.head",
		Price:           "div.price_value strong",
		OdometerBlock:   "div.base-information",
		SellerName:      "div.seller_info_name",
		PhoneReveal:     "a.phone_show_link",
		Gallery:         "div.gallery-order",
		GalleryImage:    "img",
		PlateNumber:     "span.state-num",
		VIN:             "span.label-vin",
	}
}

// LegacySelectors matches the pre-redesign markup still served to some
// regional mirrors.
func LegacySelectors() SelectorSet {
	return SelectorSet{
		Version:         "legacy",
		Marker:          "#searchPagination",
		ResultsCount:    "span#resultsCount",
		PageSizeControl: "a.page-size",
		ListingLink:     "a.address",
		Title:           "h1.auto-content_title",
		Price:           "div.price-seller strong",
		OdometerBlock:   "div.base-information",
		SellerName:      "h4.seller_info_name",
		PhoneReveal:     "span.phone_show_link",
		Gallery:         "div.preview-gallery",
		GalleryImage:    "img",
		PlateNumber:     "span.state-num",
		VIN:             "span.vin-code",
	}
}

// SelectorsForVersion resolves an explicitly configured markup version.
func SelectorsForVersion(version string) (SelectorSet, bool) {
	switch version {
	case "current":
		return CurrentSelectors(), true
	case "legacy":
		return LegacySelectors(), true
	default:
		return SelectorSet{}, false
	}
}

// DetectSelectors probes the document for era markers and returns the
// matching selector bundle, defaulting to the current markup.
func DetectSelectors(doc *goquery.Document) SelectorSet {
	current := CurrentSelectors()
	if doc.Find(current.Marker).Length() > 0 {
		return current
	}
	legacy := LegacySelectors()
	if doc.Find(legacy.Marker).Length() > 0 {
		return legacy
	}
	return current
}
