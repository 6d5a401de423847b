package health

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/circuitbreaker"
)

const slowCheck = 100 * time.Millisecond

// RedisHealthChecker checks the Redis session store
type RedisHealthChecker struct {
	wrapper *circuitbreaker.RedisWrapper
	logger  *zap.Logger
	timeout time.Duration
}

// NewRedisHealthChecker creates a Redis health checker
func NewRedisHealthChecker(wrapper *circuitbreaker.RedisWrapper, logger *zap.Logger) *RedisHealthChecker {
	return &RedisHealthChecker{wrapper: wrapper, logger: logger, timeout: 5 * time.Second}
}

func (r *RedisHealthChecker) Name() string           { return "redis" }
func (r *RedisHealthChecker) IsCritical() bool       { return true }
func (r *RedisHealthChecker) Timeout() time.Duration { return r.timeout }

func (r *RedisHealthChecker) Check(ctx context.Context) CheckResult {
	startTime := time.Now()
	if r.wrapper.IsCircuitBreakerOpen() {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   "circuit breaker open",
			Message: "Redis circuit breaker is open",
		}
	}

	err := r.wrapper.Ping(ctx).Err()
	latency := time.Since(startTime)
	if err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   err.Error(),
			Message: "Redis ping failed",
			Details: map[string]interface{}{"latency_ms": latency.Milliseconds()},
		}
	}
	return latencyResult("Redis", latency)
}

// DatabaseHealthChecker checks the session archive
type DatabaseHealthChecker struct {
	wrapper *circuitbreaker.DatabaseWrapper
	logger  *zap.Logger
	timeout time.Duration
}

// NewDatabaseHealthChecker creates a database health checker. The archive
// is optional for serving requests, so the check is not critical.
func NewDatabaseHealthChecker(wrapper *circuitbreaker.DatabaseWrapper, logger *zap.Logger) *DatabaseHealthChecker {
	return &DatabaseHealthChecker{wrapper: wrapper, logger: logger, timeout: 5 * time.Second}
}

func (d *DatabaseHealthChecker) Name() string           { return "database" }
func (d *DatabaseHealthChecker) IsCritical() bool       { return false }
func (d *DatabaseHealthChecker) Timeout() time.Duration { return d.timeout }

func (d *DatabaseHealthChecker) Check(ctx context.Context) CheckResult {
	startTime := time.Now()
	if d.wrapper.IsCircuitBreakerOpen() {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   "circuit breaker open",
			Message: "Database circuit breaker is open",
		}
	}

	err := d.wrapper.PingContext(ctx)
	latency := time.Since(startTime)
	if err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   err.Error(),
			Message: "Database ping failed",
			Details: map[string]interface{}{"latency_ms": latency.Milliseconds()},
		}
	}
	res := latencyResult("Database", latency)
	res.Details["driver"] = d.wrapper.DriverName()
	return res
}

func latencyResult(component string, latency time.Duration) CheckResult {
	res := CheckResult{
		Status:  StatusHealthy,
		Message: component + " healthy",
		Details: map[string]interface{}{
			"latency_ms":           latency.Milliseconds(),
			"circuit_breaker_open": false,
		},
	}
	if latency > slowCheck {
		res.Status = StatusDegraded
		res.Message = component + " responding but with high latency"
	}
	return res
}

// FuncChecker adapts a function returning an error into a Checker.
type FuncChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	fn       func(ctx context.Context) error
}

// NewFuncChecker creates a checker that is healthy while fn returns nil.
func NewFuncChecker(name string, critical bool, fn func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, critical: critical, timeout: 5 * time.Second, fn: fn}
}

func (f *FuncChecker) Name() string           { return f.name }
func (f *FuncChecker) IsCritical() bool       { return f.critical }
func (f *FuncChecker) Timeout() time.Duration { return f.timeout }

func (f *FuncChecker) Check(ctx context.Context) CheckResult {
	if err := f.fn(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: f.name + " check failed"}
	}
	return CheckResult{Status: StatusHealthy, Message: f.name + " healthy"}
}
