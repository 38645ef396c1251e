// Package export writes listing dumps to disk in JSON and CSV form.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"autoria-crawler/internal/scraper"
)

// ListingLister is the read side of the store the dumper consumes.
type ListingLister interface {
	ListAll(ctx context.Context) ([]scraper.Listing, error)
}

// record is the serialized shape of one listing in dump files.
type record struct {
	URL         string   `json:"url"`
	Title       string   `json:"title"`
	PriceUSD    *float64 `json:"price_usd"`
	Odometer    *int     `json:"odometer"`
	SellerName  *string  `json:"seller_name"`
	Phone       *string  `json:"phone"`
	ImageURL    *string  `json:"image_url"`
	ImagesCount int      `json:"images_count"`
	PlateNumber *string  `json:"plate_number"`
	VIN         *string  `json:"vin"`
	FoundAt     string   `json:"datetime_found"`
}

var csvHeader = []string{
	"url", "title", "price_usd", "odometer", "seller_name", "phone",
	"image_url", "images_count", "plate_number", "vin", "datetime_found",
}

// Dumper writes timestamped listing dumps into a directory.
type Dumper struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time
}

// NewDumper builds a Dumper targeting dir; the directory is created on
// first use.
func NewDumper(dir string, logger *zap.Logger) *Dumper {
	return &Dumper{dir: dir, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Backup reads every stored listing and writes one JSON and one CSV dump,
// both stamped with the same moment. Returns the written paths.
func (d *Dumper) Backup(ctx context.Context, lister ListingLister) (string, string, error) {
	listings, err := lister.ListAll(ctx)
	if err != nil {
		return "", "", fmt.Errorf("read listings for backup: %w", err)
	}

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create dump dir: %w", err)
	}

	stamp := d.now().Format("2006-01-02_150405")
	jsonPath := filepath.Join(d.dir, fmt.Sprintf("cars_%s.json", stamp))
	csvPath := filepath.Join(d.dir, fmt.Sprintf("cars_%s.csv", stamp))

	if err := WriteJSON(jsonPath, listings); err != nil {
		return "", "", err
	}
	if err := WriteCSV(csvPath, listings); err != nil {
		return "", "", err
	}

	d.logger.Info("backup written",
		zap.Int("listings", len(listings)),
		zap.String("json", jsonPath),
		zap.String("csv", csvPath),
	)
	return jsonPath, csvPath, nil
}

// WriteJSON dumps the listings to path as an indented JSON array.
func WriteJSON(path string, listings []scraper.Listing) error {
	records := make([]record, 0, len(listings))
	for _, l := range listings {
		records = append(records, toRecord(l))
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal listings: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write json dump: %w", err)
	}
	return nil
}

// WriteCSV dumps the listings to path with a header row; absent optional
// fields become empty cells.
func WriteCSV(path string, listings []scraper.Listing) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv dump: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, l := range listings {
		if err := w.Write(toRow(l)); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv dump: %w", err)
	}
	return nil
}

func toRecord(l scraper.Listing) record {
	return record{
		URL:         l.URL,
		Title:       l.Title,
		PriceUSD:    l.PriceUSD,
		Odometer:    l.Odometer,
		SellerName:  l.SellerName,
		Phone:       l.Phone,
		ImageURL:    l.ImageURL,
		ImagesCount: l.ImagesCount,
		PlateNumber: l.PlateNumber,
		VIN:         l.VIN,
		FoundAt:     l.FoundAt.Format(time.RFC3339),
	}
}

func toRow(l scraper.Listing) []string {
	return []string{
		l.URL,
		l.Title,
		floatCell(l.PriceUSD),
		intCell(l.Odometer),
		strCell(l.SellerName),
		strCell(l.Phone),
		strCell(l.ImageURL),
		strconv.Itoa(l.ImagesCount),
		strCell(l.PlateNumber),
		strCell(l.VIN),
		l.FoundAt.Format(time.RFC3339),
	}
}

func strCell(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func intCell(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func floatCell(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
