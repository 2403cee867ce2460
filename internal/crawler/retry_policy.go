package crawler

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ExponentialRetryPolicy decides how many attempts a fetch gets and how long
// to sleep between them.
type ExponentialRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	multiplier  float64
	jitter      bool
}

// NewExponentialRetryPolicy builds a policy with sane defaults.
func NewExponentialRetryPolicy() *ExponentialRetryPolicy {
	return &ExponentialRetryPolicy{
		maxAttempts: 3,
		baseDelay:   time.Second,
		maxDelay:    10 * time.Second,
		multiplier:  2,
		jitter:      true,
	}
}

// NewRetryPolicy builds a policy from explicit settings. Non-positive values
// fall back to the defaults.
func NewRetryPolicy(attempts int, initial, maxDelay time.Duration, multiplier float64, jitter bool) *ExponentialRetryPolicy {
	p := NewExponentialRetryPolicy()
	if attempts > 0 {
		p.maxAttempts = attempts
	}
	if initial > 0 {
		p.baseDelay = initial
	}
	if maxDelay > 0 {
		p.maxDelay = maxDelay
	}
	if multiplier >= 1 {
		p.multiplier = multiplier
	}
	p.jitter = jitter
	return p
}

// MaxAttempts returns the attempt budget per fetch.
func (p *ExponentialRetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// MaxDelay returns the cap applied to every sleep.
func (p *ExponentialRetryPolicy) MaxDelay() time.Duration {
	return p.maxDelay
}

// ShouldRetry decides whether the error is retryable.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// Backoff returns the sleep before the next attempt. step counts jittered
// sleeps only and starts at 1.
func (p *ExponentialRetryPolicy) Backoff(step int) time.Duration {
	if step < 1 {
		step = 1
	}
	ceiling := float64(p.baseDelay) * math.Pow(p.multiplier, float64(step-1))
	if ceiling > float64(p.maxDelay) || math.IsInf(ceiling, 0) {
		ceiling = float64(p.maxDelay)
	}
	if !p.jitter {
		return time.Duration(ceiling)
	}
	return randomJitter(time.Duration(ceiling))
}

// RetryAfterDelay returns the server-requested delay, capped at the max delay.
// ok is false when the response carries no usable Retry-After header.
func (p *ExponentialRetryPolicy) RetryAfterDelay(headers http.Header, now time.Time) (time.Duration, bool) {
	delay, ok := ParseRetryAfter(headers, now)
	if !ok {
		return 0, false
	}
	if delay > p.maxDelay {
		delay = p.maxDelay
	}
	return delay, true
}

// ParseRetryAfter reads a Retry-After value in seconds or as an HTTP-date.
func ParseRetryAfter(headers http.Header, now time.Time) (time.Duration, bool) {
	if headers == nil {
		return 0, false
	}
	raw := strings.TrimSpace(headers.Get("Retry-After"))
	if raw == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 0 {
			secs = 0
		}
		return time.Duration(secs) * time.Second, true
	}
	at, err := http.ParseTime(raw)
	if err != nil {
		return 0, false
	}
	delay := at.Sub(now)
	if delay < 0 {
		delay = 0
	}
	return delay, true
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
