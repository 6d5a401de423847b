package circuitbreaker

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errBoom = errors.New("boom")

func TestCircuitBreaker_Lifecycle(t *testing.T) {
	config := DefaultConfig()
	config.FailureThreshold = 3
	config.SuccessThreshold = 2
	config.MaxRequests = 5
	config.Timeout = 50 * time.Millisecond
	config.Interval = 0

	cb := NewCircuitBreaker("search", config, zaptest.NewLogger(t))
	ctx := context.Background()
	assert.Equal(t, StateClosed, cb.State())

	for i := 0; i < 3; i++ {
		require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	}
	assert.Equal(t, StateClosed, cb.State())

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, func() error { return errBoom }), errBoom)
	}
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
	assert.False(t, called)

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	for i := 0; i < 2; i++ {
		require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	config := DefaultConfig()
	config.FailureThreshold = 1
	config.Timeout = 20 * time.Millisecond

	cb := NewCircuitBreaker("fetch", config, zaptest.NewLogger(t))
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return errBoom })
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(40 * time.Millisecond)
	_ = cb.Execute(ctx, func() error { return errBoom })
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenLimitsProbes(t *testing.T) {
	config := DefaultConfig()
	config.MaxRequests = 2
	config.SuccessThreshold = 5

	cb := NewCircuitBreaker("probe", config, zaptest.NewLogger(t))
	cb.mutex.Lock()
	cb.state = StateHalfOpen
	cb.toNewGeneration(time.Now())
	cb.mutex.Unlock()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	}
	assert.ErrorIs(t, cb.Execute(ctx, func() error { return nil }), ErrTooManyRequests)
}

func TestCircuitBreaker_Counts(t *testing.T) {
	cb := NewCircuitBreaker("counts", DefaultConfig(), zaptest.NewLogger(t))
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return nil })
	_ = cb.Execute(ctx, func() error { return errBoom })
	_ = cb.Execute(ctx, func() error { return nil })

	counts := cb.Counts()
	assert.Equal(t, uint32(3), counts.Requests)
	assert.Equal(t, uint32(2), counts.TotalSuccesses)
	assert.Equal(t, uint32(1), counts.TotalFailures)
	assert.Equal(t, uint32(0), counts.ConsecutiveFailures)
}

func TestCircuitBreaker_PanicCountsAsFailure(t *testing.T) {
	config := DefaultConfig()
	config.FailureThreshold = 1
	cb := NewCircuitBreaker("panic", config, zaptest.NewLogger(t))

	assert.Panics(t, func() {
		_ = cb.Execute(context.Background(), func() error { panic("bad") })
	})
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_StateChangeCallback(t *testing.T) {
	config := DefaultConfig()
	config.FailureThreshold = 2

	var transitions [][2]State
	config.OnStateChange = func(_ string, from, to State) {
		transitions = append(transitions, [2]State{from, to})
	}

	cb := NewCircuitBreaker("callback", config, zaptest.NewLogger(t))
	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func() error { return errBoom })
	}
	assert.Equal(t, [][2]State{{StateClosed, StateOpen}}, transitions)
}

func TestPresetsFromEnv(t *testing.T) {
	t.Setenv("CB_SEARCH_FAILURE_THRESHOLD", "9")
	t.Setenv("CB_SEARCH_TIMEOUT", "3s")
	t.Setenv("CB_SEARCH_MAX_REQUESTS", "not-a-number")

	cfg := GetSearchConfig()
	assert.Equal(t, uint32(9), cfg.FailureThreshold)
	assert.Equal(t, 3*time.Second, cfg.Timeout)
	assert.Equal(t, uint32(3), cfg.MaxRequests)

	_, set := os.LookupEnv("CB_FETCH_FAILURE_THRESHOLD")
	require.False(t, set)
	assert.Equal(t, uint32(3), GetFetchConfig().FailureThreshold)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
