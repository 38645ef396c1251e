// Package store provides Postgres-backed persistence for crawled listings.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"autoria-crawler/internal/scraper"
)

// Config controls the Postgres connection pool for the cars table.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// CarStore persists listings in the cars table. It implements
// scraper.ListingStore; URL is the unique key and datetime_found is
// written once on insert and never updated.
type CarStore struct {
	pool pgxPool
}

// New creates a Postgres-backed CarStore using the provided config.
func New(ctx context.Context, cfg Config) (*CarStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &CarStore{pool: pool}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool pgxPool) (*CarStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &CarStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *CarStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the cars table when it does not exist yet.
func (s *CarStore) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS cars (
	id BIGSERIAL PRIMARY KEY,
	url TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL DEFAULT '',
	price_usd DOUBLE PRECISION,
	odometer INTEGER,
	seller_name TEXT,
	phone TEXT,
	image_url TEXT,
	images_count INTEGER NOT NULL DEFAULT 0,
	plate_number TEXT,
	vin TEXT,
	datetime_found TIMESTAMPTZ NOT NULL
)`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create cars table: %w", err)
	}
	return nil
}

// Exists reports whether a listing with the URL is already stored.
func (s *CarStore) Exists(ctx context.Context, url string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM cars WHERE url = $1)`
	var exists bool
	if err := s.pool.QueryRow(ctx, query, url).Scan(&exists); err != nil {
		return false, fmt.Errorf("check listing exists: %w", err)
	}
	return exists, nil
}

// Insert stores a new listing. The unique constraint on url rejects
// concurrent duplicates.
func (s *CarStore) Insert(ctx context.Context, listing scraper.Listing) error {
	if listing.URL == "" {
		return fmt.Errorf("listing url is required")
	}
	const query = `
INSERT INTO cars (
	url,
	title,
	price_usd,
	odometer,
	seller_name,
	phone,
	image_url,
	images_count,
	plate_number,
	vin,
	datetime_found
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)`
	args := []any{
		listing.URL,
		listing.Title,
		listing.PriceUSD,
		listing.Odometer,
		listing.SellerName,
		listing.Phone,
		listing.ImageURL,
		listing.ImagesCount,
		listing.PlateNumber,
		listing.VIN,
		listing.FoundAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert listing: %w", err)
	}
	return nil
}

// UpdateByURL refreshes the mutable fields of an existing listing.
// The url key and datetime_found are never touched. Returns false when no
// row matched.
func (s *CarStore) UpdateByURL(ctx context.Context, url string, listing scraper.Listing) (bool, error) {
	const query = `
UPDATE cars SET
	title = $2,
	price_usd = $3,
	odometer = $4,
	seller_name = $5,
	phone = $6,
	image_url = $7,
	images_count = $8,
	plate_number = $9,
	vin = $10
WHERE url = $1`
	args := []any{
		url,
		listing.Title,
		listing.PriceUSD,
		listing.Odometer,
		listing.SellerName,
		listing.Phone,
		listing.ImageURL,
		listing.ImagesCount,
		listing.PlateNumber,
		listing.VIN,
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update listing: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListAll returns every stored listing in insertion order.
func (s *CarStore) ListAll(ctx context.Context) ([]scraper.Listing, error) {
	const query = `
SELECT
	url,
	title,
	price_usd,
	odometer,
	seller_name,
	phone,
	image_url,
	images_count,
	plate_number,
	vin,
	datetime_found
FROM cars ORDER BY id`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	defer rows.Close()

	var listings []scraper.Listing
	for rows.Next() {
		var l scraper.Listing
		if err := rows.Scan(
			&l.URL,
			&l.Title,
			&l.PriceUSD,
			&l.Odometer,
			&l.SellerName,
			&l.Phone,
			&l.ImageURL,
			&l.ImagesCount,
			&l.PlateNumber,
			&l.VIN,
			&l.FoundAt,
		); err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate listings: %w", err)
	}
	return listings, nil
}
