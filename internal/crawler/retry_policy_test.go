package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffStaysUnderCeiling(t *testing.T) {
	t.Parallel()
	p := NewRetryPolicy(5, 100*time.Millisecond, 300*time.Millisecond, 2, true)
	for step := 1; step <= 6; step++ {
		ceiling := 100 * time.Millisecond << (step - 1)
		if ceiling > 300*time.Millisecond {
			ceiling = 300 * time.Millisecond
		}
		for i := 0; i < 20; i++ {
			d := p.Backoff(step)
			require.GreaterOrEqual(t, d, time.Duration(0))
			require.Less(t, d, ceiling, "step %d", step)
		}
	}
}

func TestBackoffWithoutJitterSleepsFullCap(t *testing.T) {
	t.Parallel()
	p := NewRetryPolicy(3, time.Second, 10*time.Second, 2, false)
	require.Equal(t, time.Second, p.Backoff(1))
	require.Equal(t, 2*time.Second, p.Backoff(2))
	require.Equal(t, 4*time.Second, p.Backoff(3))
	require.Equal(t, 10*time.Second, p.Backoff(10))
}

func TestShouldRetry(t *testing.T) {
	t.Parallel()
	p := NewRetryPolicy(3, time.Millisecond, time.Millisecond, 2, true)
	require.False(t, p.ShouldRetry(nil, 1))
	require.True(t, p.ShouldRetry(errors.New("boom"), 1))
	require.False(t, p.ShouldRetry(errors.New("boom"), 3))
	require.False(t, p.ShouldRetry(fmt.Errorf("wrapped: %w", context.Canceled), 1))
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	h := http.Header{}
	h.Set("Retry-After", "7")
	d, ok := ParseRetryAfter(h, now)
	require.True(t, ok)
	require.Equal(t, 7*time.Second, d)

	h.Set("Retry-After", now.Add(3*time.Second).Format(http.TimeFormat))
	d, ok = ParseRetryAfter(h, now)
	require.True(t, ok)
	require.Equal(t, 3*time.Second, d)

	h.Set("Retry-After", "soon")
	_, ok = ParseRetryAfter(h, now)
	require.False(t, ok)

	_, ok = ParseRetryAfter(nil, now)
	require.False(t, ok)
}

func TestRetryAfterDelayIsCapped(t *testing.T) {
	t.Parallel()
	p := NewRetryPolicy(3, time.Second, 2*time.Second, 2, true)
	h := http.Header{}
	h.Set("Retry-After", "120")
	d, ok := p.RetryAfterDelay(h, time.Now())
	require.True(t, ok)
	require.Equal(t, 2*time.Second, d)
}

func TestRecordTitlesFollowLocaleOrder(t *testing.T) {
	t.Parallel()
	rec := NewRecord()
	rec.Translations["en"] = Translation{Title: "Pop-up"}
	rec.Translations["ko"] = Translation{Title: "팝업", PriceDesc: "무료"}
	rec.Translations["ja"] = Translation{}
	require.Equal(t, []string{"팝업", "Pop-up"}, rec.Titles([]string{"ko", "en", "ja"}))
	require.Equal(t, []string{"무료"}, rec.PriceDescriptions([]string{"ko", "en", "ja"}))
}
