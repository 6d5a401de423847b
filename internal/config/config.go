package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Kocoro-lab/Shannon/go/research/internal/db"
	"github.com/Kocoro-lab/Shannon/go/research/internal/providers/fetch"
	"github.com/Kocoro-lab/Shannon/go/research/internal/providers/search"
	"github.com/Kocoro-lab/Shannon/go/research/internal/ratecontrol"
	"github.com/Kocoro-lab/Shannon/go/research/internal/research"
	"github.com/Kocoro-lab/Shannon/go/research/internal/tracing"
)

const (
	defaultConfigPath = "config/research.yaml"
	envPrefix         = "RESEARCH"
)

// ConfigurationError reports an unusable configuration.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

// ServiceConfig contains basic service configuration
type ServiceConfig struct {
	Port               int           `mapstructure:"port"`
	AdminPort          int           `mapstructure:"admin_port"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	GracefulTimeout    time.Duration `mapstructure:"graceful_timeout"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute"`
	RateLimitRedisAddr string        `mapstructure:"rate_limit_redis_addr"`
}

// SessionConfig selects the session store.
type SessionConfig struct {
	Backend   string        `mapstructure:"backend"`
	RedisAddr string        `mapstructure:"redis_addr"`
	TTL       time.Duration `mapstructure:"ttl"`
	CacheSize int           `mapstructure:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

// ArchiveConfig enables the relational archive.
type ArchiveConfig struct {
	Enabled   bool `mapstructure:"enabled"`
	db.Config `mapstructure:",squash"`
}

// QualityConfig points at an optional quality table file.
type QualityConfig struct {
	TablePath string `mapstructure:"table_path"`
}

// PolicyConfig controls admission checks.
type PolicyConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Mode       string `mapstructure:"mode"`
	Path       string `mapstructure:"path"`
	FailClosed bool   `mapstructure:"fail_closed"`
}

// AuthConfig contains authentication configuration
type AuthConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	JWTSecret    string   `mapstructure:"jwt_secret"`
	APIKeyHashes []string `mapstructure:"api_key_hashes"`
}

// TemporalConfig enables the durable workflow worker.
type TemporalConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

// Config is the whole service configuration.
type Config struct {
	Service    ServiceConfig      `mapstructure:"service"`
	Research   research.Config    `mapstructure:"research"`
	Search     search.Config      `mapstructure:"search"`
	Fetch      fetch.Config       `mapstructure:"fetch"`
	RateLimits ratecontrol.Limits `mapstructure:"rate_limits"`
	Session    SessionConfig      `mapstructure:"session"`
	Archive    ArchiveConfig      `mapstructure:"archive"`
	Quality    QualityConfig      `mapstructure:"quality"`
	Policy     PolicyConfig       `mapstructure:"policy"`
	Auth       AuthConfig         `mapstructure:"auth"`
	Tracing    tracing.Config     `mapstructure:"tracing"`
	Temporal   TemporalConfig     `mapstructure:"temporal"`
	Logging    LoggingConfig      `mapstructure:"logging"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.port", 8090)
	v.SetDefault("service.admin_port", 8091)
	v.SetDefault("service.read_timeout", 30*time.Second)
	v.SetDefault("service.write_timeout", 60*time.Second)
	v.SetDefault("service.graceful_timeout", 30*time.Second)
	v.SetDefault("service.rate_limit_per_minute", 0)

	d := research.DefaultConfig()
	v.SetDefault("research.max_results_per_query", d.MaxResultsPerQuery)
	v.SetDefault("research.max_content_per_page", d.MaxContentPerPage)
	v.SetDefault("research.inter_batch_delay", d.InterBatchDelay)
	v.SetDefault("research.fetch_timeout", d.FetchTimeout)
	v.SetDefault("research.max_concurrent_subagents", d.MaxConcurrentSubagents)
	v.SetDefault("research.max_concurrent_fetches", d.MaxConcurrentFetches)

	v.SetDefault("search.provider", "duckduckgo")
	v.SetDefault("search.endpoint", "")
	v.SetDefault("search.api_key", "")
	v.SetDefault("search.timeout", 20*time.Second)

	v.SetDefault("fetch.user_agent", "")
	v.SetDefault("fetch.max_body", 2<<20)
	v.SetDefault("fetch.timeout", 30*time.Second)

	limits := ratecontrol.DefaultLimits()
	v.SetDefault("rate_limits.default.rpm", limits.Default.RPM)
	v.SetDefault("rate_limits.default.burst", limits.Default.Burst)
	v.SetDefault("rate_limits.host_default.rpm", limits.HostDefault.RPM)
	v.SetDefault("rate_limits.host_default.burst", limits.HostDefault.Burst)

	v.SetDefault("session.backend", "memory")
	v.SetDefault("session.redis_addr", "localhost:6379")
	v.SetDefault("session.ttl", 24*time.Hour)
	v.SetDefault("session.cache_size", 10000)
	v.SetDefault("session.cache_ttl", 30*time.Second)

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.driver", "sqlite3")
	v.SetDefault("archive.dsn", "file:research.db?cache=shared")

	v.SetDefault("quality.table_path", "")

	v.SetDefault("policy.enabled", false)
	v.SetDefault("policy.mode", "off")
	v.SetDefault("policy.path", "")
	v.SetDefault("policy.fail_closed", false)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.api_key_hashes", []string{})

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "research-orchestrator")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")

	v.SetDefault("temporal.enabled", false)
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "research")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "json")
}

// Load reads path (or RESEARCH_CONFIG_PATH, or config/research.yaml).
// A missing file is not an error; defaults and RESEARCH_* environment
// variables still apply.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("RESEARCH_CONFIG_PATH")
	}
	if path == "" {
		path = defaultConfigPath
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	switch c.Search.Provider {
	case "duckduckgo":
	case "", "http":
		if c.Search.Endpoint == "" {
			return &ConfigurationError{Field: "search.endpoint", Reason: "required for the http search provider"}
		}
		if c.Search.APIKey == "" {
			return &ConfigurationError{Field: "search.api_key", Reason: "required for the http search provider"}
		}
	default:
		return &ConfigurationError{Field: "search.provider", Reason: fmt.Sprintf("unknown provider %q", c.Search.Provider)}
	}

	switch c.Session.Backend {
	case "memory", "redis":
	default:
		return &ConfigurationError{Field: "session.backend", Reason: fmt.Sprintf("unknown backend %q", c.Session.Backend)}
	}

	switch c.Policy.Mode {
	case "", "off", "dry-run", "enforce":
	default:
		return &ConfigurationError{Field: "policy.mode", Reason: fmt.Sprintf("unknown mode %q", c.Policy.Mode)}
	}

	if c.Auth.Enabled && c.Auth.JWTSecret == "" && len(c.Auth.APIKeyHashes) == 0 {
		return &ConfigurationError{Field: "auth", Reason: "enabled without jwt_secret or api_key_hashes"}
	}
	if c.Research.MaxConcurrentSubagents < 0 || c.Research.MaxResultsPerQuery < 0 {
		return &ConfigurationError{Field: "research", Reason: "limits must not be negative"}
	}
	return nil
}

// NewLogger builds the process logger from cfg.
func NewLogger(cfg LoggingConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, &ConfigurationError{Field: "logging.level", Reason: err.Error()}
		}
	}
	zc := zap.NewProductionConfig()
	if cfg.Encoding == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
