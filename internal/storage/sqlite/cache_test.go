package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	cache, err := NewCache(context.Background(), filepath.Join(t.TempDir(), "cache.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, cache.Close()) })
	return cache
}

func TestCacheConditionalHeadersEmptyWhenUnknown(t *testing.T) {
	t.Parallel()
	cache := newTestCache(t)
	headers, err := cache.ConditionalHeaders(context.Background(), "https://example.com/a")
	require.NoError(t, err)
	require.Empty(t, headers)
}

func TestCacheKeepsValidatorsWhenResponseOmitsThem(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cache := newTestCache(t)
	url := "https://example.com/festas/1"

	require.NoError(t, cache.RecordResponse(ctx, url, `"abc"`, "Wed, 01 Jan 2025 00:00:00 GMT", 200))
	require.NoError(t, cache.RecordResponse(ctx, url, "", "", 304))

	entry, err := cache.Entry(ctx, url)
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.NotNil(t, entry.ETag)
	require.Equal(t, `"abc"`, *entry.ETag)
	require.Equal(t, 304, entry.LastStatus)
	require.Equal(t, 2, entry.HitCount)

	headers, err := cache.ConditionalHeaders(ctx, url)
	require.NoError(t, err)
	require.Equal(t, `"abc"`, headers.Get("If-None-Match"))
	require.Equal(t, "Wed, 01 Jan 2025 00:00:00 GMT", headers.Get("If-Modified-Since"))
}

func TestCacheReplacesValidatorsWhenPresent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cache := newTestCache(t)
	url := "https://example.com/festas/2"

	require.NoError(t, cache.RecordResponse(ctx, url, `"v1"`, "", 200))
	require.NoError(t, cache.RecordResponse(ctx, url, `"v2"`, "", 200))

	headers, err := cache.ConditionalHeaders(ctx, url)
	require.NoError(t, err)
	require.Equal(t, `"v2"`, headers.Get("If-None-Match"))
	require.Empty(t, headers.Get("If-Modified-Since"))
}

func TestCacheFailureReportOrdering(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cache := newTestCache(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := base
	cache.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	require.NoError(t, cache.RecordFailure(ctx, "https://a", errors.New("boom")))
	require.NoError(t, cache.RecordFailure(ctx, "https://b", errors.New("first")))
	require.NoError(t, cache.RecordFailure(ctx, "https://b", errors.New("second")))
	require.NoError(t, cache.RecordFailure(ctx, "https://c", nil))

	report, err := cache.FailureReport(ctx)
	require.NoError(t, err)
	require.Len(t, report, 3)
	require.Equal(t, "https://b", report[0].URL)
	require.Equal(t, 2, report[0].Count)
	require.Equal(t, "second", report[0].Error)
	// equal counts fall back to most recent first
	require.Equal(t, "https://c", report[1].URL)
	require.Equal(t, "unknown error", report[1].Error)
	require.Equal(t, "https://a", report[2].URL)
}

func TestCacheConcurrentWriters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cache := newTestCache(t)
	url := "https://example.com/shared"

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				require.NoError(t, cache.RecordResponse(ctx, url, "", "", 200))
			}
		}()
	}
	wg.Wait()

	entry, err := cache.Entry(ctx, url)
	require.NoError(t, err)
	require.Equal(t, 40, entry.HitCount)
}
