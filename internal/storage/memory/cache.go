// Package memory keeps crawl state in process memory for tests and for runs
// with the durable cache disabled.
package memory

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/popup-crawler/internal/crawler"
)

// Cache implements crawler.ConditionalCache without persistence.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]crawler.CacheEntry
	failures map[string]crawler.HTTPFailure
	now      func() time.Time
}

// NewCache constructs an empty Cache.
func NewCache() *Cache {
	return &Cache{
		entries:  make(map[string]crawler.CacheEntry),
		failures: make(map[string]crawler.HTTPFailure),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Entry returns a copy of the stored state for url.
func (c *Cache) Entry(url string) (crawler.CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[url]
	return entry, ok
}

// ConditionalHeaders returns the validators stored for url.
func (c *Cache) ConditionalHeaders(_ context.Context, url string) (http.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	headers := http.Header{}
	entry, ok := c.entries[url]
	if !ok {
		return headers, nil
	}
	if entry.ETag != nil {
		headers.Set("If-None-Match", *entry.ETag)
	}
	if entry.LastModified != nil {
		headers.Set("If-Modified-Since", *entry.LastModified)
	}
	return headers, nil
}

// RecordResponse stores validators, keeping old ones the response omitted.
func (c *Cache) RecordResponse(_ context.Context, url, etag, lastModified string, status int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := c.entries[url]
	entry.URL = url
	if etag != "" {
		entry.ETag = &etag
	}
	if lastModified != "" {
		entry.LastModified = &lastModified
	}
	entry.LastStatus = status
	entry.HitCount++
	entry.UpdatedAt = c.now()
	c.entries[url] = entry
	return nil
}

// RecordFailure bumps the failure counter for url.
func (c *Cache) RecordFailure(_ context.Context, url string, cause error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := c.failures[url]
	f.URL = url
	f.Error = "unknown error"
	if cause != nil {
		f.Error = cause.Error()
	}
	f.Count++
	f.LastAt = c.now()
	c.failures[url] = f
	return nil
}

// FailureReport lists failures ordered by count then recency.
func (c *Cache) FailureReport(_ context.Context) ([]crawler.HTTPFailure, error) {
	c.mu.Lock()
	out := make([]crawler.HTTPFailure, 0, len(c.failures))
	for _, f := range c.failures {
		out = append(out, f)
	}
	c.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].LastAt.After(out[j].LastAt)
	})
	return out, nil
}
