package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/JakeFAU/popup-crawler/internal/crawler"
)

var cacheSchema = []string{
	`CREATE TABLE IF NOT EXISTS http_cache (
		url TEXT PRIMARY KEY,
		etag TEXT,
		last_modified TEXT,
		last_status INTEGER NOT NULL DEFAULT 0,
		hit_count INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS http_failures (
		url TEXT PRIMARY KEY,
		last_error TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		last_at TIMESTAMP NOT NULL
	)`,
}

// Cache implements crawler.ConditionalCache on a SQLite file.
type Cache struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewCache opens the cache database at path.
func NewCache(ctx context.Context, path string) (*Cache, error) {
	db, err := Open(ctx, path, cacheSchema)
	if err != nil {
		return nil, err
	}
	return &Cache{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases the database handle.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("close cache: %w", err)
	}
	return nil
}

// Entry returns the stored state for url, or nil when nothing is stored.
func (c *Cache) Entry(ctx context.Context, url string) (*crawler.CacheEntry, error) {
	var entry crawler.CacheEntry
	err := c.db.GetContext(ctx, &entry, `
		SELECT url, etag, last_modified, last_status, hit_count, updated_at
		FROM http_cache WHERE url = ?`, url)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load cache entry: %w", err)
	}
	return &entry, nil
}

// ConditionalHeaders returns If-None-Match / If-Modified-Since for url.
func (c *Cache) ConditionalHeaders(ctx context.Context, url string) (http.Header, error) {
	entry, err := c.Entry(ctx, url)
	if err != nil {
		return nil, err
	}
	headers := http.Header{}
	if entry == nil {
		return headers, nil
	}
	if entry.ETag != nil && *entry.ETag != "" {
		headers.Set("If-None-Match", *entry.ETag)
	}
	if entry.LastModified != nil && *entry.LastModified != "" {
		headers.Set("If-Modified-Since", *entry.LastModified)
	}
	return headers, nil
}

// RecordResponse upserts the validators seen on a response. Validators the
// response omitted keep their previous values.
func (c *Cache) RecordResponse(ctx context.Context, url, etag, lastModified string, status int) error {
	return withTx(ctx, c.db, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO http_cache (url, etag, last_modified, last_status, hit_count, updated_at)
			VALUES (?, ?, ?, ?, 1, ?)
			ON CONFLICT(url) DO UPDATE SET
				etag = COALESCE(excluded.etag, http_cache.etag),
				last_modified = COALESCE(excluded.last_modified, http_cache.last_modified),
				last_status = excluded.last_status,
				hit_count = http_cache.hit_count + 1,
				updated_at = excluded.updated_at`,
			url, nullString(etag), nullString(lastModified), status, c.now())
		if err != nil {
			return fmt.Errorf("upsert cache entry: %w", err)
		}
		return nil
	})
}

// RecordFailure bumps the failure counter for url.
func (c *Cache) RecordFailure(ctx context.Context, url string, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return withTx(ctx, c.db, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO http_failures (url, last_error, count, last_at)
			VALUES (?, ?, 1, ?)
			ON CONFLICT(url) DO UPDATE SET
				last_error = excluded.last_error,
				count = http_failures.count + 1,
				last_at = excluded.last_at`,
			url, msg, c.now())
		if err != nil {
			return fmt.Errorf("upsert failure: %w", err)
		}
		return nil
	})
}

// FailureReport lists failing URLs, most frequent first.
func (c *Cache) FailureReport(ctx context.Context) ([]crawler.HTTPFailure, error) {
	var out []crawler.HTTPFailure
	err := c.db.SelectContext(ctx, &out, `
		SELECT url, last_error, count, last_at
		FROM http_failures
		ORDER BY count DESC, last_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}
	return out, nil
}
