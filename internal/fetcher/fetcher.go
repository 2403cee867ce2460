// Package fetcher layers rate limiting, retries and conditional caching on
// top of a single-attempt transport.
package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/popup-crawler/internal/crawler"
	"github.com/JakeFAU/popup-crawler/internal/metrics"
)

// Fetcher implements crawler.Fetcher with a retry budget per call.
type Fetcher struct {
	next    crawler.Fetcher
	limiter crawler.RateLimiter
	cache   crawler.ConditionalCache
	policy  *crawler.ExponentialRetryPolicy
	logger  *zap.Logger
	pause   func(ctx context.Context, d time.Duration)
	now     func() time.Time
}

// New wires a retrying fetcher. limiter and cache may be nil.
func New(
	next crawler.Fetcher,
	limiter crawler.RateLimiter,
	cache crawler.ConditionalCache,
	policy *crawler.ExponentialRetryPolicy,
	logger *zap.Logger,
) *Fetcher {
	if policy == nil {
		policy = crawler.NewExponentialRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		next:    next,
		limiter: limiter,
		cache:   cache,
		policy:  policy,
		logger:  logger,
		pause:   sleepCtx,
		now:     time.Now,
	}
}

// Fetch retrieves request.URL. A 304 is returned with a nil error and an
// empty body. Other non-2xx statuses are retried and, once the budget is
// spent, surface as *crawler.StatusError.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	headers := f.requestHeaders(ctx, request)
	maxAttempts := f.policy.MaxAttempts()
	step := 0
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, err)
			}
		}

		resp, err := f.next.Fetch(ctx, crawler.FetchRequest{URL: request.URL, Headers: headers})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, ctxErr)
			}
			metrics.ObserveFetchAttempt(0, 0)
			f.recordFailure(ctx, request.URL, err)
			lastErr = err
		} else {
			metrics.ObserveFetchAttempt(resp.StatusCode, len(resp.Body))
			f.recordResponse(ctx, request.URL, resp)
			if resp.NotModified() {
				f.logger.Debug("not modified", zap.String("url", request.URL))
				return crawler.FetchResponse{URL: resp.URL, StatusCode: resp.StatusCode, Headers: resp.Headers}, nil
			}
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return resp, nil
			}
			lastErr = &crawler.StatusError{URL: request.URL, StatusCode: resp.StatusCode}
			f.recordFailure(ctx, request.URL, lastErr)
		}

		if !f.policy.ShouldRetry(lastErr, attempt) {
			break
		}

		delay, reason := f.nextDelay(resp, err, &step)
		f.logger.Warn("fetch attempt failed, retrying",
			zap.String("url", request.URL),
			zap.Int("attempt", attempt),
			zap.Int("status", resp.StatusCode),
			zap.Duration("delay", delay),
			zap.String("reason", reason),
			zap.Error(lastErr),
		)
		metrics.ObserveRetry(reason)
		f.pause(ctx, delay)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, ctxErr)
		}
	}

	return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, lastErr)
}

// nextDelay honours Retry-After on 429/503 without advancing the backoff
// exponent; everything else takes the next jittered step.
func (f *Fetcher) nextDelay(resp crawler.FetchResponse, transportErr error, step *int) (time.Duration, string) {
	if transportErr == nil &&
		(resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable) {
		if delay, ok := f.policy.RetryAfterDelay(resp.Headers, f.now()); ok {
			return delay, "retry_after"
		}
	}
	*step++
	return f.policy.Backoff(*step), "backoff"
}

func (f *Fetcher) requestHeaders(ctx context.Context, request crawler.FetchRequest) http.Header {
	headers := http.Header{}
	for k, v := range request.Headers {
		headers[k] = append([]string(nil), v...)
	}
	if !request.Conditional || f.cache == nil {
		return headers
	}
	conditional, err := f.cache.ConditionalHeaders(ctx, request.URL)
	if err != nil {
		f.logger.Warn("load conditional headers", zap.String("url", request.URL), zap.Error(err))
		return headers
	}
	for k, v := range conditional {
		headers[k] = append([]string(nil), v...)
	}
	return headers
}

func (f *Fetcher) recordResponse(ctx context.Context, url string, resp crawler.FetchResponse) {
	if f.cache == nil {
		return
	}
	etag, lastModified := "", ""
	if resp.Headers != nil {
		etag = resp.Headers.Get("ETag")
		lastModified = resp.Headers.Get("Last-Modified")
	}
	if err := f.cache.RecordResponse(ctx, url, etag, lastModified, resp.StatusCode); err != nil {
		f.logger.Warn("record cache entry", zap.String("url", url), zap.Error(err))
	}
}

func (f *Fetcher) recordFailure(ctx context.Context, url string, cause error) {
	if f.cache == nil {
		return
	}
	if err := f.cache.RecordFailure(ctx, url, cause); err != nil {
		f.logger.Warn("record fetch failure", zap.String("url", url), zap.Error(err))
	}
}

func sleepCtx(ctx context.Context, delay time.Duration) {
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
