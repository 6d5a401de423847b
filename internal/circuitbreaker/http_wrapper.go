package circuitbreaker

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/metrics"
)

// HTTPWrapper sends requests through a circuit breaker. Transport errors and
// 5xx responses count as failures; 4xx responses do not.
type HTTPWrapper struct {
	client  *http.Client
	cb      *CircuitBreaker
	name    string
	service string
	logger  *zap.Logger
}

// NewHTTPWrapper wraps client with a breaker built from preset.
func NewHTTPWrapper(client *http.Client, name, service string, preset CircuitBreakerConfig, logger *zap.Logger) *HTTPWrapper {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := NewCircuitBreaker(name, preset.ToConfig(), logger)
	registry.track(service, name, cb)
	return &HTTPWrapper{client: client, cb: cb, name: name, service: service, logger: logger}
}

// Do executes req. A 5xx response is returned to the caller with a nil error
// after being counted against the breaker.
func (hw *HTTPWrapper) Do(req *http.Request) (*http.Response, error) {
	return doThrough(hw.cb, hw.client, req, hw.name, hw.service)
}

// State returns the breaker state.
func (hw *HTTPWrapper) State() State {
	return hw.cb.State()
}

type httpStatusError struct{ code int }

func (e *httpStatusError) Error() string { return http.StatusText(e.code) }

func doThrough(cb *CircuitBreaker, client *http.Client, req *http.Request, name, service string) (*http.Response, error) {
	var resp *http.Response
	err := cb.Execute(req.Context(), func() error {
		var doErr error
		resp, doErr = client.Do(req)
		if doErr != nil {
			return doErr
		}
		if resp.StatusCode >= 500 {
			return &httpStatusError{code: resp.StatusCode}
		}
		return nil
	})

	recordCall(service, name, err)

	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return resp, nil
	}
	return resp, err
}

// maxHostBreakers bounds the per-host map; past it the map is reset and
// every host starts closed again.
const maxHostBreakers = 4096

// HostHTTPWrapper keeps one breaker per request host, so a single dead site
// cannot stop page fetches from every other host. Metrics are aggregated
// under the wrapper name; the number of open hosts is exported as a gauge.
type HostHTTPWrapper struct {
	client  *http.Client
	preset  CircuitBreakerConfig
	name    string
	service string
	logger  *zap.Logger

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewHostHTTPWrapper wraps client with lazily created per-host breakers.
func NewHostHTTPWrapper(client *http.Client, name, service string, preset CircuitBreakerConfig, logger *zap.Logger) *HostHTTPWrapper {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	hw := &HostHTTPWrapper{
		client:   client,
		preset:   preset,
		name:     name,
		service:  service,
		logger:   logger,
		breakers: make(map[string]*CircuitBreaker),
	}
	registry.trackHosts(hw)
	return hw
}

// Do executes req through the breaker of req's host.
func (hw *HostHTTPWrapper) Do(req *http.Request) (*http.Response, error) {
	return doThrough(hw.breaker(req.URL.Hostname()), hw.client, req, hw.name, hw.service)
}

// HostState returns the breaker state for host; unseen hosts are closed.
func (hw *HostHTTPWrapper) HostState(host string) State {
	hw.mu.Lock()
	cb, ok := hw.breakers[strings.ToLower(host)]
	hw.mu.Unlock()
	if !ok {
		return StateClosed
	}
	return cb.State()
}

func (hw *HostHTTPWrapper) breaker(host string) *CircuitBreaker {
	host = strings.ToLower(host)
	hw.mu.Lock()
	defer hw.mu.Unlock()
	if cb, ok := hw.breakers[host]; ok {
		return cb
	}
	if len(hw.breakers) >= maxHostBreakers {
		hw.logger.Debug("Resetting host breakers", zap.String("name", hw.name), zap.Int("hosts", len(hw.breakers)))
		hw.breakers = make(map[string]*CircuitBreaker)
	}
	cfg := hw.preset.ToConfig()
	cfg.OnStateChange = func(_ string, from, to State) {
		metrics.BreakerTransitions.WithLabelValues(hw.service, hw.name, from.String(), to.String()).Inc()
	}
	cb := NewCircuitBreaker(hw.name+":"+host, cfg, hw.logger)
	hw.breakers[host] = cb
	return cb
}

// openHosts counts hosts whose breaker is currently open.
func (hw *HostHTTPWrapper) openHosts() int {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	n := 0
	for _, cb := range hw.breakers {
		if cb.State() == StateOpen {
			n++
		}
	}
	return n
}
