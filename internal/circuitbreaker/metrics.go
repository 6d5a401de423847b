package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Kocoro-lab/Shannon/go/research/internal/metrics"
)

// Call outcomes reported per breaker.
const (
	outcomeSuccess  = "success"
	outcomeFailure  = "failure"
	outcomeRejected = "rejected"
)

type breakerKey struct {
	dependency string
	name       string
}

// breakerRegistry tracks every breaker created by a wrapper so their state
// gauges can be refreshed. Per-host fetch breakers are reported as a count
// of open hosts per wrapper instead of one series per host.
type breakerRegistry struct {
	mu       sync.RWMutex
	breakers map[breakerKey]*CircuitBreaker
	hosts    map[breakerKey]*HostHTTPWrapper
}

var registry = &breakerRegistry{
	breakers: make(map[breakerKey]*CircuitBreaker),
	hosts:    make(map[breakerKey]*HostHTTPWrapper),
}

// track exports cb's transitions under dependency and name.
func (r *breakerRegistry) track(dependency, name string, cb *CircuitBreaker) {
	r.mu.Lock()
	r.breakers[breakerKey{dependency, name}] = cb
	r.mu.Unlock()

	next := cb.config.OnStateChange
	cb.config.OnStateChange = func(cbName string, from, to State) {
		if next != nil {
			next(cbName, from, to)
		}
		metrics.BreakerTransitions.WithLabelValues(dependency, name, from.String(), to.String()).Inc()
		metrics.BreakerState.WithLabelValues(dependency, name).Set(float64(to))
	}
	metrics.BreakerState.WithLabelValues(dependency, name).Set(float64(cb.State()))
}

func (r *breakerRegistry) trackHosts(hw *HostHTTPWrapper) {
	r.mu.Lock()
	r.hosts[breakerKey{hw.service, hw.name}] = hw
	r.mu.Unlock()
}

// refresh re-reads breaker state. Open breakers move to half-open lazily, so
// the gauges would otherwise lag behind until the next call.
func (r *breakerRegistry) refresh() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for key, cb := range r.breakers {
		metrics.BreakerState.WithLabelValues(key.dependency, key.name).Set(float64(cb.State()))
	}
	for key, hw := range r.hosts {
		metrics.BreakerOpenHosts.WithLabelValues(key.dependency, key.name).Set(float64(hw.openHosts()))
	}
}

// recordCall counts one call through a breaker. Calls the breaker refused
// without running are counted as rejected rather than failed.
func recordCall(dependency, name string, err error) {
	outcome := outcomeSuccess
	switch {
	case errors.Is(err, ErrCircuitBreakerOpen), errors.Is(err, ErrTooManyRequests):
		outcome = outcomeRejected
	case err != nil:
		outcome = outcomeFailure
	}
	metrics.BreakerCalls.WithLabelValues(dependency, name, outcome).Inc()
}

// StartMetricsCollection refreshes breaker gauges every interval until ctx
// is done.
func StartMetricsCollection(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				registry.refresh()
			}
		}
	}()
}
