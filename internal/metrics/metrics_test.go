package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestStatusClass(t *testing.T) {
	testCases := []struct {
		code     int
		expected string
	}{
		{200, "2xx"},
		{304, "3xx"},
		{404, "4xx"},
		{503, "5xx"},
		{0, "error"},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.expected, StatusClass(tc.code))
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()
	require.NotNil(t, fetchAttemptsTotal)
	require.NotNil(t, recordOutcomesTotal)
}

func TestObserveCounters(t *testing.T) {
	Init()
	before := testutil.ToFloat64(fetchAttemptsTotal.WithLabelValues("4xx"))
	ObserveFetchAttempt(429, 0)
	require.InDelta(t, before+1, testutil.ToFloat64(fetchAttemptsTotal.WithLabelValues("4xx")), 0.001)

	beforeRec := testutil.ToFloat64(recordOutcomesTotal.WithLabelValues("saved"))
	ObserveRecord("saved")
	require.InDelta(t, beforeRec+1, testutil.ToFloat64(recordOutcomesTotal.WithLabelValues("saved")), 0.001)

	ObserveRateLimitWait(10 * time.Millisecond)
	require.Positive(t, testutil.CollectAndCount(rateLimitWaitSeconds))
}
