package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/JakeFAU/popup-crawler/internal/crawler"
)

var recordSchema = []string{
	`CREATE TABLE IF NOT EXISTS popups (
		id TEXT PRIMARY KEY,
		category TEXT,
		start_date TEXT,
		end_date TEXT,
		lon REAL,
		lat REAL,
		city TEXT,
		price_type TEXT,
		is_popup INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
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

// RecordStore upserts merged records into popups, popup_translations and popup_images.
type RecordStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewRecordStore opens the record database at path.
func NewRecordStore(ctx context.Context, path string) (*RecordStore, error) {
	db, err := Open(ctx, path, recordSchema)
	if err != nil {
		return nil, err
	}
	return &RecordStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases the database handle.
func (s *RecordStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close record store: %w", err)
	}
	return nil
}

// UpsertRecord writes record in one transaction. Images are replaced wholesale.
func (s *RecordStore) UpsertRecord(ctx context.Context, record *crawler.Record) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	now := s.now()
	return withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO popups (id, category, start_date, end_date, lon, lat, city, price_type, is_popup, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				category = excluded.category,
				start_date = excluded.start_date,
				end_date = excluded.end_date,
				lon = excluded.lon,
				lat = excluded.lat,
				city = excluded.city,
				price_type = excluded.price_type,
				is_popup = excluded.is_popup,
				updated_at = excluded.updated_at`,
			record.ID,
			nullString(record.Category),
			nullString(record.Duration.Start),
			nullString(record.Duration.End),
			nullFloat(record.Geo.Lon),
			nullFloat(record.Geo.Lat),
			nullString(record.Address.City),
			nullString(record.Pricing.Type),
			record.IsPopup,
			now,
			now,
		)
		if err != nil {
			return fmt.Errorf("upsert popup %s: %w", record.ID, err)
		}

		for locale, tr := range record.Translations {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO popup_translations (popup_id, locale, title, address, price_desc)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(popup_id, locale) DO UPDATE SET
					title = excluded.title,
					address = excluded.address,
					price_desc = excluded.price_desc`,
				record.ID, locale, nullString(tr.Title), nullString(tr.Address), nullString(tr.PriceDesc))
			if err != nil {
				return fmt.Errorf("upsert translation %s/%s: %w", record.ID, locale, err)
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM popup_images WHERE popup_id = ?`, record.ID); err != nil {
			return fmt.Errorf("clear images %s: %w", record.ID, err)
		}
		for i, img := range record.Images {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO popup_images (popup_id, url, variant, ord, role)
				VALUES (?, ?, ?, ?, ?)`,
				record.ID, img.URL, nullString(img.Variant), i, nullString(img.Role))
			if err != nil {
				return fmt.Errorf("insert image %s #%d: %w", record.ID, i, err)
			}
		}
		return nil
	})
}
