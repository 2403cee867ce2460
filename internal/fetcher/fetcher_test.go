package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/popup-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/popup-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/popup-crawler/internal/storage/memory"
)

type scriptedFetcher struct {
	mu       sync.Mutex
	steps    []step
	requests []crawler.FetchRequest
}

type step struct {
	resp crawler.FetchResponse
	err  error
}

func (s *scriptedFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.steps) == 0 {
		return crawler.FetchResponse{URL: req.URL, StatusCode: http.StatusOK, Body: []byte("ok")}, nil
	}
	next := s.steps[0]
	s.steps = s.steps[1:]
	if next.resp.URL == "" {
		next.resp.URL = req.URL
	}
	return next.resp, next.err
}

type countingLimiter struct{ calls atomic.Int32 }

func (l *countingLimiter) Wait(ctx context.Context) error {
	l.calls.Add(1)
	return ctx.Err()
}

type recordedPauses struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedPauses) pause(_ context.Context, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
}

func newTestFetcher(next crawler.Fetcher, cache crawler.ConditionalCache, attempts int) (*Fetcher, *countingLimiter, *recordedPauses) {
	limiter := &countingLimiter{}
	pauses := &recordedPauses{}
	policy := crawler.NewRetryPolicy(attempts, time.Millisecond, 10*time.Millisecond, 2, false)
	f := New(next, limiter, cache, policy, zap.NewNop())
	f.pause = pauses.pause
	return f, limiter, pauses
}

func status(code int) step {
	return step{resp: crawler.FetchResponse{StatusCode: code, Headers: http.Header{}}}
}

func TestFetchRetriesUntilSuccess(t *testing.T) {
	t.Parallel()
	next := &scriptedFetcher{steps: []step{status(500), {err: errors.New("connection reset")}}}
	cache := memory.NewCache()
	f, limiter, pauses := newTestFetcher(next, cache, 3)

	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com/a"})
	require.NoError(t, err)
	require.Equal(t, "ok", string(resp.Body))
	require.Equal(t, int32(3), limiter.calls.Load())
	require.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, pauses.delays)

	report, err := cache.FailureReport(context.Background())
	require.NoError(t, err)
	require.Len(t, report, 1)
	require.Equal(t, 2, report[0].Count)
	require.Equal(t, "connection reset", report[0].Error)
}

func TestFetchRetryAfterDoesNotAdvanceBackoff(t *testing.T) {
	t.Parallel()
	throttled := crawler.FetchResponse{StatusCode: http.StatusTooManyRequests, Headers: http.Header{"Retry-After": {"30"}}}
	next := &scriptedFetcher{steps: []step{status(500), {resp: throttled}, status(503)}}
	f, _, pauses := newTestFetcher(next, nil, 4)

	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com/b"})
	require.NoError(t, err)
	// 503 without Retry-After falls back to the next backoff step
	require.Equal(t, []time.Duration{time.Millisecond, 10 * time.Millisecond, 2 * time.Millisecond}, pauses.delays)
}

func TestFetchReturnsStatusErrorAfterBudget(t *testing.T) {
	t.Parallel()
	next := &scriptedFetcher{steps: []step{status(502), status(502), status(404)}}
	f, limiter, pauses := newTestFetcher(next, memory.NewCache(), 3)

	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com/c"})
	var statusErr *crawler.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	require.Equal(t, int32(3), limiter.calls.Load())
	require.Len(t, pauses.delays, 2)
}

func TestFetchReturnsTransportErrorAfterBudget(t *testing.T) {
	t.Parallel()
	boom := errors.New("dial tcp: refused")
	next := &scriptedFetcher{steps: []step{{err: boom}, {err: boom}}}
	f, _, _ := newTestFetcher(next, nil, 2)

	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com/d"})
	require.ErrorIs(t, err, boom)
}

func TestFetchNotModifiedIsNotAnError(t *testing.T) {
	t.Parallel()
	next := &scriptedFetcher{steps: []step{status(http.StatusNotModified)}}
	cache := memory.NewCache()
	f, _, pauses := newTestFetcher(next, cache, 3)

	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com/e"})
	require.NoError(t, err)
	require.True(t, resp.NotModified())
	require.Empty(t, resp.Body)
	require.Empty(t, pauses.delays)

	entry, ok := cache.Entry("https://example.com/e")
	require.True(t, ok)
	require.Equal(t, http.StatusNotModified, entry.LastStatus)
}

func TestFetchAddsConditionalHeadersOnlyWhenAsked(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cache := memory.NewCache()
	require.NoError(t, cache.RecordResponse(ctx, "https://example.com/f", `"tag"`, "", 200))

	next := &scriptedFetcher{}
	f, _, _ := newTestFetcher(next, cache, 1)

	_, err := f.Fetch(ctx, crawler.FetchRequest{
		URL:         "https://example.com/f",
		Headers:     http.Header{"Accept-Language": {"ja"}},
		Conditional: true,
	})
	require.NoError(t, err)
	_, err = f.Fetch(ctx, crawler.FetchRequest{URL: "https://example.com/f"})
	require.NoError(t, err)

	require.Len(t, next.requests, 2)
	require.Equal(t, `"tag"`, next.requests[0].Headers.Get("If-None-Match"))
	require.Equal(t, "ja", next.requests[0].Headers.Get("Accept-Language"))
	require.Empty(t, next.requests[1].Headers.Get("If-None-Match"))
}

func TestFetchStopsOnContextCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f, _, _ := newTestFetcher(&scriptedFetcher{}, nil, 3)

	_, err := f.Fetch(ctx, crawler.FetchRequest{URL: "https://example.com/g"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestFetchAgainstOrigin(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	cache := memory.NewCache()
	f, _, _ := newTestFetcher(collyfetcher.New(collyfetcher.Config{Timeout: time.Second}), cache, 3)
	ctx := context.Background()

	resp, err := f.Fetch(ctx, crawler.FetchRequest{URL: srv.URL, Conditional: true})
	require.NoError(t, err)
	require.Equal(t, "payload", string(resp.Body))

	resp, err = f.Fetch(ctx, crawler.FetchRequest{URL: srv.URL, Conditional: true})
	require.NoError(t, err)
	require.True(t, resp.NotModified())
	require.Equal(t, int32(3), hits.Load())
}
