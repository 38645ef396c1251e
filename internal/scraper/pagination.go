package scraper

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

const defaultPageSize = 20

var (
	pageSizeRe   = regexp.MustCompile(`(\d+)\s+оголошень`)
	countStripRe = regexp.MustCompile(`[\s\x{00a0}]+`)
)

// Planner derives the pagination plan from the rendered start page.
type Planner struct {
	selectors SelectorSet
	logger    *zap.Logger
}

// NewPlanner builds a Planner for the given markup era.
func NewPlanner(selectors SelectorSet, logger *zap.Logger) *Planner {
	return &Planner{selectors: selectors, logger: logger}
}

// Build computes total count, page size and the extra page URLs
// (pages 2..N). Missing pagination markup degrades to a single-page plan.
func (p *Planner) Build(doc *goquery.Document, startURL string) Plan {
	plan := Plan{PageSize: defaultPageSize}

	countEl := doc.Find(p.selectors.ResultsCount).First()
	if countEl.Length() == 0 {
		p.logger.Warn("total count element not found, degrading to single page")
	} else {
		raw := countStripRe.ReplaceAllString(strings.TrimSpace(countEl.Text()), "")
		count, err := strconv.Atoi(raw)
		if err != nil {
			p.logger.Warn("unparseable total count", zap.String("text", countEl.Text()))
		} else {
			plan.TotalCount = count
		}
	}

	sizeEl := doc.Find(p.selectors.PageSizeControl).First()
	if sizeEl.Length() > 0 {
		if m := pageSizeRe.FindStringSubmatch(sizeEl.Text()); m != nil {
			if size, err := strconv.Atoi(m[1]); err == nil && size > 0 {
				plan.PageSize = size
			}
		}
	} else {
		p.logger.Warn("items-per-page element not found, using default",
			zap.Int("page_size", defaultPageSize))
	}

	if plan.TotalCount > 0 {
		plan.TotalPages = (plan.TotalCount + plan.PageSize - 1) / plan.PageSize
	}

	base := pageBaseURL(startURL)
	for n := 2; n <= plan.TotalPages; n++ {
		plan.PageURLs = append(plan.PageURLs, fmt.Sprintf("%spage=%d", base, n))
	}

	p.logger.Info("pagination plan built",
		zap.Int("total_count", plan.TotalCount),
		zap.Int("page_size", plan.PageSize),
		zap.Int("total_pages", plan.TotalPages),
	)
	return plan
}

// pageBaseURL strips any existing page parameter from the start URL and
// appends the connector the page parameter should be joined with.
func pageBaseURL(startURL string) string {
	base := startURL
	if i := strings.Index(base, "?"); i >= 0 {
		path, query := base[:i], base[i+1:]
		kept := make([]string, 0, 4)
		for _, param := range strings.Split(query, "&") {
			if param != "" && !strings.HasPrefix(param, "page=") {
				kept = append(kept, param)
			}
		}
		base = path
		if len(kept) > 0 {
			base = path + "?" + strings.Join(kept, "&")
		}
	}
	if strings.Contains(base, "?") {
		return base + "&"
	}
	return base + "?"
}
