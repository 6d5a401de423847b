package circuitbreaker

import (
	"os"
	"strconv"
	"time"
)

// CircuitBreakerConfig is a breaker preset read from the environment.
type CircuitBreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
	SuccessThreshold uint32
}

// fromEnv overrides defaults with CB_<prefix>_* variables.
func fromEnv(prefix string, defaults CircuitBreakerConfig) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxRequests:      getEnvUint32("CB_"+prefix+"_MAX_REQUESTS", defaults.MaxRequests),
		Interval:         getEnvDuration("CB_"+prefix+"_INTERVAL", defaults.Interval),
		Timeout:          getEnvDuration("CB_"+prefix+"_TIMEOUT", defaults.Timeout),
		FailureThreshold: getEnvUint32("CB_"+prefix+"_FAILURE_THRESHOLD", defaults.FailureThreshold),
		SuccessThreshold: getEnvUint32("CB_"+prefix+"_SUCCESS_THRESHOLD", defaults.SuccessThreshold),
	}
}

// GetSearchConfig is the preset for the search provider client.
func GetSearchConfig() CircuitBreakerConfig {
	return fromEnv("SEARCH", CircuitBreakerConfig{
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          20 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	})
}

// GetFetchConfig is the per-host preset for page fetching.
func GetFetchConfig() CircuitBreakerConfig {
	return fromEnv("FETCH", CircuitBreakerConfig{
		MaxRequests:      1,
		Interval:         30 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	})
}

// GetRedisConfig is the preset for the session store.
func GetRedisConfig() CircuitBreakerConfig {
	return fromEnv("REDIS", CircuitBreakerConfig{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	})
}

// GetDatabaseConfig is the preset for the session archive.
func GetDatabaseConfig() CircuitBreakerConfig {
	return fromEnv("DB", CircuitBreakerConfig{
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	})
}

// ToConfig converts the preset into a breaker Config.
func (cbc CircuitBreakerConfig) ToConfig() Config {
	return Config{
		MaxRequests:      cbc.MaxRequests,
		Interval:         cbc.Interval,
		Timeout:          cbc.Timeout,
		FailureThreshold: cbc.FailureThreshold,
		SuccessThreshold: cbc.SuccessThreshold,
	}
}

func getEnvUint32(key string, defaultValue uint32) uint32 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseUint(val, 10, 32); err == nil {
			return uint32(parsed)
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return defaultValue
}
