package circuitbreaker

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/research/internal/metrics"
)

func unavailable(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPWrapper_ExportsStateByDependency(t *testing.T) {
	srv := unavailable(t)
	preset := CircuitBreakerConfig{MaxRequests: 1, Timeout: time.Minute, FailureThreshold: 1, SuccessThreshold: 1}
	hw := NewHTTPWrapper(srv.Client(), "search-metrics-test", "search", preset, zaptest.NewLogger(t))

	state := metrics.BreakerState.WithLabelValues("search", "search-metrics-test")
	assert.Equal(t, float64(StateClosed), testutil.ToFloat64(state))

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := hw.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, float64(StateOpen), testutil.ToFloat64(state))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.BreakerTransitions.WithLabelValues("search", "search-metrics-test", "closed", "open")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.BreakerCalls.WithLabelValues("search", "search-metrics-test", outcomeFailure)))
}

func TestHostHTTPWrapper_ExportsOpenHostsAndRejections(t *testing.T) {
	srv := unavailable(t)
	preset := CircuitBreakerConfig{MaxRequests: 1, Timeout: time.Minute, FailureThreshold: 1, SuccessThreshold: 1}
	hw := NewHostHTTPWrapper(nil, "fetch-metrics-test", "fetch", preset, zaptest.NewLogger(t))

	for i := 0; i < 2; i++ {
		req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
		require.NoError(t, err)
		if resp, err := hw.Do(req); err == nil {
			resp.Body.Close()
		}
	}
	registry.refresh()

	labels := []string{"fetch", "fetch-metrics-test"}
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.BreakerOpenHosts.WithLabelValues(labels...)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.BreakerCalls.WithLabelValues(append(labels, outcomeFailure)...)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.BreakerCalls.WithLabelValues(append(labels, outcomeRejected)...)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.BreakerTransitions.WithLabelValues(append(labels, "closed", "open")...)))
}

func TestRecordCall_Outcomes(t *testing.T) {
	recordCall("archive", "outcome-test", nil)
	recordCall("archive", "outcome-test", ErrTooManyRequests)
	recordCall("archive", "outcome-test", http.ErrHandlerTimeout)

	for _, outcome := range []string{outcomeSuccess, outcomeRejected, outcomeFailure} {
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.BreakerCalls.WithLabelValues("archive", "outcome-test", outcome)), outcome)
	}
}
