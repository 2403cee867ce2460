package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterSpacesCalls(t *testing.T) {
	t.Parallel()
	l := New(Config{QPS: 2})
	require.Equal(t, 500*time.Millisecond, l.Interval())

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, l.Wait(ctx))
	}
	// first slot is immediate, the remaining nine are 500ms apart
	require.GreaterOrEqual(t, time.Since(start), 4500*time.Millisecond)
}

func TestLimiterIsSharedAcrossGoroutines(t *testing.T) {
	t.Parallel()
	l := New(Config{QPS: 20})
	ctx := context.Background()

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 3; j++ {
				require.NoError(t, l.Wait(ctx))
			}
		}()
	}
	wg.Wait()
	// 12 calls at 50ms spacing, the first immediate
	require.GreaterOrEqual(t, time.Since(start), 500*time.Millisecond)
}

func TestLimiterDisabled(t *testing.T) {
	t.Parallel()
	for _, qps := range []float64{0, -1} {
		l := New(Config{QPS: qps})
		require.Zero(t, l.Interval())
		start := time.Now()
		for i := 0; i < 100; i++ {
			require.NoError(t, l.Wait(context.Background()))
		}
		require.Less(t, time.Since(start), 50*time.Millisecond)
	}

	var nilLimiter *Limiter
	require.NoError(t, nilLimiter.Wait(context.Background()))
}

func TestLimiterContextCancel(t *testing.T) {
	t.Parallel()
	l := New(Config{QPS: 0.5})
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	cancelled, stop := context.WithCancel(context.Background())
	stop()
	require.ErrorIs(t, l.Wait(cancelled), context.Canceled)
}
