// Package postgres provides the Postgres-backed record store.
package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/popup-crawler/internal/crawler"
)

// Schema is applied by NewRecordStore.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS popups (
		id TEXT PRIMARY KEY,
		category TEXT,
		start_date DATE,
		end_date DATE,
		lon DOUBLE PRECISION,
		lat DOUBLE PRECISION,
		city TEXT,
		price_type TEXT,
		is_popup BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS popup_translations (
		popup_id TEXT NOT NULL REFERENCES popups(id) ON DELETE CASCADE,
		locale TEXT NOT NULL,
		title TEXT,
		address TEXT,
		price_desc TEXT,
		PRIMARY KEY (popup_id, locale)
	)`,
	`CREATE TABLE IF NOT EXISTS popup_images (
		popup_id TEXT NOT NULL REFERENCES popups(id) ON DELETE CASCADE,
		url TEXT NOT NULL,
		variant TEXT,
		ord INTEGER NOT NULL,
		role TEXT,
		PRIMARY KEY (popup_id, url)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_popups_end ON popups(end_date)`,
	`CREATE INDEX IF NOT EXISTS idx_popups_cat_start ON popups(category, start_date)`,
	`CREATE INDEX IF NOT EXISTS idx_popups_geo ON popups(lat, lon)`,
	`CREATE INDEX IF NOT EXISTS idx_popups_price_type ON popups(price_type)`,
}

const (
	upsertPopupSQL = `
INSERT INTO popups (id, category, start_date, end_date, lon, lat, city, price_type, is_popup)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET
	category = EXCLUDED.category,
	start_date = EXCLUDED.start_date,
	end_date = EXCLUDED.end_date,
	lon = EXCLUDED.lon,
	lat = EXCLUDED.lat,
	city = EXCLUDED.city,
	price_type = EXCLUDED.price_type,
	is_popup = EXCLUDED.is_popup,
	updated_at = now()`

	upsertTranslationSQL = `
INSERT INTO popup_translations (popup_id, locale, title, address, price_desc)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (popup_id, locale) DO UPDATE SET
	title = EXCLUDED.title,
	address = EXCLUDED.address,
	price_desc = EXCLUDED.price_desc`

	deleteImagesSQL = `DELETE FROM popup_images WHERE popup_id = $1`

	insertImageSQL = `
INSERT INTO popup_images (popup_id, url, variant, ord, role)
VALUES ($1, $2, $3, $4, $5)`
)

// RecordStoreConfig controls the Postgres connection pool.
type RecordStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type txPool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// RecordStore upserts merged records into Postgres.
type RecordStore struct {
	pool txPool
}

// NewRecordStore connects to Postgres and applies Schema.
func NewRecordStore(ctx context.Context, cfg RecordStoreConfig) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres_dsn is required")
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
	store := &RecordStore{pool: pool}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewRecordStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRecordStoreWithPool(pool txPool) (*RecordStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RecordStore{pool: pool}, nil
}

// EnsureSchema creates tables and indexes when missing.
func (s *RecordStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range Schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// UpsertRecord writes record in one transaction. Images are replaced wholesale.
func (s *RecordStore) UpsertRecord(ctx context.Context, record *crawler.Record) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("record store is not configured")
	}
	if record == nil || record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := writeRecord(ctx, tx, record); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit %s: %w", record.ID, err)
	}
	return nil
}

func writeRecord(ctx context.Context, tx pgx.Tx, record *crawler.Record) error {
	_, err := tx.Exec(ctx, upsertPopupSQL,
		record.ID,
		nullString(record.Category),
		nullString(record.Duration.Start),
		nullString(record.Duration.End),
		nullFloat(record.Geo.Lon),
		nullFloat(record.Geo.Lat),
		nullString(record.Address.City),
		nullString(record.Pricing.Type),
		record.IsPopup,
	)
	if err != nil {
		return fmt.Errorf("upsert popup %s: %w", record.ID, err)
	}

	locales := make([]string, 0, len(record.Translations))
	for loc := range record.Translations {
		locales = append(locales, loc)
	}
	sort.Strings(locales)
	for _, loc := range locales {
		tr := record.Translations[loc]
		if _, err := tx.Exec(ctx, upsertTranslationSQL,
			record.ID, loc, nullString(tr.Title), nullString(tr.Address), nullString(tr.PriceDesc),
		); err != nil {
			return fmt.Errorf("upsert translation %s/%s: %w", record.ID, loc, err)
		}
	}

	if _, err := tx.Exec(ctx, deleteImagesSQL, record.ID); err != nil {
		return fmt.Errorf("clear images %s: %w", record.ID, err)
	}
	for i, img := range record.Images {
		if _, err := tx.Exec(ctx, insertImageSQL,
			record.ID, img.URL, nullString(img.Variant), i, nullString(img.Role),
		); err != nil {
			return fmt.Errorf("insert image %s #%d: %w", record.ID, i, err)
		}
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
