package scraper

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

var (
	odometerRe  = regexp.MustCompile(`(\d+)\s*тис\. км`)
	phoneRe     = regexp.MustCompile(`\(\d{3}\)\s*\d{3}\s*\d{2}\s*\d{2}`)
	phoneCharRe = regexp.MustCompile(`[^\d+]`)
)

const defaultSettleWait = 2 * time.Second

// DetailExtractor builds a Listing from a rendered item page. Every field
// is extracted independently; a missing element nulls that field only and
// never aborts the record.
type DetailExtractor struct {
	selectors SelectorSet
	settle    time.Duration
	logger    *zap.Logger
	clock     Clock
}

// NewDetailExtractor builds an extractor for the given markup era.
func NewDetailExtractor(selectors SelectorSet, settle time.Duration, logger *zap.Logger, clock Clock) *DetailExtractor {
	if settle <= 0 {
		settle = defaultSettleWait
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &DetailExtractor{selectors: selectors, settle: settle, logger: logger, clock: clock}
}

// Extract reads every field of the listing at url from the live page.
// The phone number requires a click on the reveal control followed by a
// settle wait and a DOM re-snapshot; a failed interaction is logged and
// the rest of the extraction proceeds.
func (d *DetailExtractor) Extract(ctx context.Context, page PageHandle, url string) Listing {
	listing := Listing{URL: url, FoundAt: d.clock.Now()}

	doc := d.snapshot(ctx, page, url)
	if doc != nil {
		listing.Title = extractTitle(doc, d.selectors)
		listing.PriceUSD = extractPrice(doc, d.selectors)
		listing.Odometer = extractOdometer(doc, d.selectors)
		listing.SellerName = extractSeller(doc, d.selectors)
		listing.ImageURL, listing.ImagesCount = extractGallery(doc, d.selectors)
		listing.PlateNumber = extractPlate(doc, d.selectors)
		listing.VIN = extractVIN(doc, d.selectors)
	}

	listing.Phone = d.extractPhone(ctx, page, url)

	return listing
}

func (d *DetailExtractor) snapshot(ctx context.Context, page PageHandle, url string) *goquery.Document {
	html, err := page.HTML(ctx)
	if err != nil {
		d.logger.Warn("page snapshot failed", zap.String("url", url), zap.Error(err))
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		d.logger.Warn("page parse failed", zap.String("url", url), zap.Error(err))
		return nil
	}
	return doc
}

// extractPhone clicks the reveal control, waits for the client-side popup
// to settle, then scans the refreshed DOM for a phone pattern.
func (d *DetailExtractor) extractPhone(ctx context.Context, page PageHandle, url string) *string {
	if err := page.Click(ctx, d.selectors.PhoneReveal); err != nil {
		d.logger.Debug("phone reveal click failed", zap.String("url", url), zap.Error(err))
	}
	settleWait(ctx, d.settle)

	doc := d.snapshot(ctx, page, url)
	if doc == nil {
		return nil
	}
	match := phoneRe.FindString(doc.Text())
	if match == "" {
		d.logger.Debug("phone number not found", zap.String("url", url))
		return nil
	}
	phone := phoneCharRe.ReplaceAllString(match, "")
	if !strings.HasPrefix(phone, "+") {
		phone = "+38" + phone
	}
	return &phone
}

func settleWait(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func extractTitle(doc *goquery.Document, sel SelectorSet) string {
	return CleanText(doc.Find(sel.Title).First().Text())
}

func extractPrice(doc *goquery.Document, sel SelectorSet) *float64 {
	el := doc.Find(sel.Price).First()
	if el.Length() == 0 {
		return nil
	}
	return ExtractNumber(el.Text())
}

func extractOdometer(doc *goquery.Document, sel SelectorSet) *int {
	el := doc.Find(sel.OdometerBlock).First()
	if el.Length() == 0 {
		return nil
	}
	m := odometerRe.FindStringSubmatch(el.Text())
	if m == nil {
		return nil
	}
	thousands, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	km := thousands * 1000
	return &km
}

func extractSeller(doc *goquery.Document, sel SelectorSet) *string {
	el := doc.Find(sel.SellerName).First()
	if el.Length() == 0 {
		return nil
	}
	name := CleanText(el.Text())
	if name == "" {
		return nil
	}
	return &name
}

func extractGallery(doc *goquery.Document, sel SelectorSet) (*string, int) {
	gallery := doc.Find(sel.Gallery).First()
	if gallery.Length() == 0 {
		return nil, 0
	}
	images := gallery.Find(sel.GalleryImage)
	count := images.Length()
	if count == 0 {
		return nil, 0
	}
	src, ok := images.First().Attr("src")
	if !ok || src == "" {
		return nil, count
	}
	return &src, count
}

func extractPlate(doc *goquery.Document, sel SelectorSet) *string {
	el := doc.Find(sel.PlateNumber).First()
	if el.Length() == 0 {
		return nil
	}
	// The badge nests extra markup; only the leading text node is the plate.
	plate := CleanText(el.Contents().First().Text())
	if plate == "" {
		plate = CleanText(el.Text())
	}
	if plate == "" {
		return nil
	}
	return &plate
}

func extractVIN(doc *goquery.Document, sel SelectorSet) *string {
	el := doc.Find(sel.VIN).First()
	if el.Length() == 0 {
		return nil
	}
	vin := CleanText(el.Text())
	if vin == "" {
		return nil
	}
	return &vin
}
