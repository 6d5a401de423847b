package ratecontrol

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/Kocoro-lab/Shannon/go/research/internal/metrics"
)

// RateLimit is a requests-per-minute budget with a burst allowance.
type RateLimit struct {
	RPM   int `yaml:"rpm" mapstructure:"rpm"`
	Burst int `yaml:"burst" mapstructure:"burst"`
}

// Limits holds the budgets for outbound calls. Keys of Providers are search
// provider names; every fetched host shares HostDefault.
type Limits struct {
	Default     RateLimit            `yaml:"default" mapstructure:"default"`
	HostDefault RateLimit            `yaml:"host_default" mapstructure:"host_default"`
	Providers   map[string]RateLimit `yaml:"providers" mapstructure:"providers"`
}

type limitsFile struct {
	RateLimits Limits `yaml:"rate_limits"`
}

// builtInProviderLimits apply when neither config nor Default names a budget.
var builtInProviderLimits = map[string]RateLimit{
	"brave":   {RPM: 60, Burst: 2},
	"serpapi": {RPM: 30, Burst: 1},
	"exa":     {RPM: 60, Burst: 2},
	"tavily":  {RPM: 100, Burst: 3},
	"http":    {RPM: 60, Burst: 2},
}

// DefaultLimits returns the budgets used without configuration.
func DefaultLimits() Limits {
	return Limits{
		Default:     RateLimit{RPM: 60, Burst: 2},
		HostDefault: RateLimit{RPM: 30, Burst: 3},
	}
}

// LoadLimits reads a YAML file with a top-level rate_limits section. Unset
// fields keep their defaults.
func LoadLimits(path string) (Limits, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Limits{}, fmt.Errorf("failed to read rate limits %s: %w", path, err)
	}
	file := limitsFile{RateLimits: DefaultLimits()}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Limits{}, fmt.Errorf("failed to parse rate limits %s: %w", path, err)
	}
	return file.RateLimits, nil
}

// LimitForProvider resolves the budget of a search provider.
func (l Limits) LimitForProvider(provider string) RateLimit {
	key := strings.ToLower(strings.TrimSpace(provider))
	if override, ok := l.Providers[key]; ok {
		return override
	}
	if limit, ok := builtInProviderLimits[key]; ok {
		return CombineLimits(limit, l.Default)
	}
	return l.Default
}

// CombineLimits returns the stricter of two budgets. A non-positive field
// means unlimited.
func CombineLimits(a, b RateLimit) RateLimit {
	return RateLimit{
		RPM:   minPositive(a.RPM, b.RPM),
		Burst: minPositive(a.Burst, b.Burst),
	}
}

// DelayForLimit is the spacing between requests that keeps within limit.
func DelayForLimit(limit RateLimit) time.Duration {
	if limit.RPM <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(60000.0/float64(limit.RPM))) * time.Millisecond
}

func minPositive(a, b int) int {
	switch {
	case a <= 0:
		return max(b, 0)
	case b <= 0:
		return a
	default:
		return min(a, b)
	}
}

func newLimiter(limit RateLimit) *rate.Limiter {
	if limit.RPM <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := limit.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(float64(limit.RPM)/60.0), burst)
}

// Pacer hands out one token bucket per key.
type Pacer struct {
	mu       sync.Mutex
	limits   Limits
	limiters map[string]*rate.Limiter
}

// NewPacer creates a Pacer for limits.
func NewPacer(limits Limits) *Pacer {
	return &Pacer{limits: limits, limiters: make(map[string]*rate.Limiter)}
}

func (p *Pacer) limiter(key string, limit func() RateLimit) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.limiters[key]; ok {
		return l
	}
	l := newLimiter(limit())
	p.limiters[key] = l
	return l
}

// WaitProvider blocks until the named search provider may be called.
func (p *Pacer) WaitProvider(ctx context.Context, provider string) error {
	l := p.limiter("provider:"+provider, func() RateLimit { return p.limits.LimitForProvider(provider) })
	return wait(ctx, l, "provider")
}

// WaitHost blocks until host may be fetched.
func (p *Pacer) WaitHost(ctx context.Context, host string) error {
	l := p.limiter("host:"+strings.ToLower(host), func() RateLimit { return p.limits.HostDefault })
	return wait(ctx, l, "host")
}

// Update swaps in new limits. Existing buckets are rebuilt lazily.
func (p *Pacer) Update(limits Limits) {
	p.mu.Lock()
	p.limits = limits
	p.limiters = make(map[string]*rate.Limiter)
	p.mu.Unlock()
}

func wait(ctx context.Context, l *rate.Limiter, kind string) error {
	start := time.Now()
	err := l.Wait(ctx)
	metrics.RateLimitWait.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("rate limit wait (%s): %w", kind, err)
	}
	return nil
}
