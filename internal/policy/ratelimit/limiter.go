// Package ratelimit enforces one global minimum interval between outbound requests.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/popup-crawler/internal/metrics"
)

// Limiter hands out send slots at most QPS times per second across all callers.
// A nil or disabled Limiter never blocks.
type Limiter struct {
	limiter *rate.Limiter
}

// Config holds rate limiter configuration.
type Config struct {
	QPS float64
}

// New creates a new Limiter. QPS <= 0 disables limiting.
func New(cfg Config) *Limiter {
	if cfg.QPS <= 0 {
		return &Limiter{}
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(cfg.QPS), 1)}
}

// Interval returns the minimum spacing between slots, or zero when disabled.
func (l *Limiter) Interval() time.Duration {
	if l == nil || l.limiter == nil {
		return 0
	}
	return time.Duration(float64(time.Second) / float64(l.limiter.Limit()))
}

// Wait blocks until the caller's slot arrives. Slots are reserved in call
// order; the sleep happens outside the limiter's lock. If ctx ends first the
// slot is handed back and the context error is returned.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.limiter == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	res := l.limiter.Reserve()
	if !res.OK() {
		return fmt.Errorf("rate limit wait: reservation refused")
	}
	delay := res.Delay()
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	start := time.Now()
	select {
	case <-timer.C:
		metrics.ObserveRateLimitWait(time.Since(start))
		return nil
	case <-ctx.Done():
		res.Cancel()
		return fmt.Errorf("rate limit wait: %w", ctx.Err())
	}
}
