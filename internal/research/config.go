package research

import "time"

// Filtering thresholds applied by Subagents.
const (
	MinQualityScore     = 5
	MinContentChars     = 100
	findingMinLineChars = 50
	findingMaxChars     = 200
)

// Config tunes request volume and pacing of the engine.
type Config struct {
	MaxResultsPerQuery     int           `mapstructure:"max_results_per_query"`
	MaxContentPerPage      int           `mapstructure:"max_content_per_page"`
	InterBatchDelay        time.Duration `mapstructure:"inter_batch_delay"`
	FetchTimeout           time.Duration `mapstructure:"fetch_timeout"`
	MaxConcurrentSubagents int           `mapstructure:"max_concurrent_subagents"`
	MaxConcurrentFetches   int           `mapstructure:"max_concurrent_fetches"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxResultsPerQuery:     5,
		MaxContentPerPage:      20000,
		InterBatchDelay:        250 * time.Millisecond,
		FetchTimeout:           15 * time.Second,
		MaxConcurrentSubagents: 4,
		MaxConcurrentFetches:   5,
	}
}

// withDefaults fills zero fields from DefaultConfig. A zero InterBatchDelay
// is kept so tests can run without pauses.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxResultsPerQuery <= 0 {
		c.MaxResultsPerQuery = d.MaxResultsPerQuery
	}
	if c.MaxContentPerPage <= 0 {
		c.MaxContentPerPage = d.MaxContentPerPage
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	if c.MaxConcurrentSubagents <= 0 {
		c.MaxConcurrentSubagents = d.MaxConcurrentSubagents
	}
	if c.MaxConcurrentFetches <= 0 {
		c.MaxConcurrentFetches = d.MaxConcurrentFetches
	}
	if c.InterBatchDelay < 0 {
		c.InterBatchDelay = 0
	}
	return c
}
