package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	SessionsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_sessions_started_total",
			Help: "Total number of research sessions started",
		},
		[]string{"depth"},
	)

	SessionsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_sessions_completed_total",
			Help: "Total number of research sessions that reached a terminal state",
		},
		[]string{"depth", "status"},
	)

	SessionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "research_session_duration_seconds",
			Help:    "Wall time of a research session from planning to completion",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"depth"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "research_active_sessions",
			Help: "Number of research sessions currently running",
		},
	)

	// Iteration metrics
	Iterations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_iterations_total",
			Help: "Total number of research iterations by decision",
		},
		[]string{"depth", "decision"},
	)

	CoverageScore = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "research_coverage_score",
			Help:    "Coverage score computed at the end of each iteration",
			Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
		[]string{"depth"},
	)

	// Subagent metrics
	SubagentsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_subagents_executed_total",
			Help: "Total number of subagents executed by terminal state",
		},
		[]string{"state"},
	)

	SubagentDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "research_subagent_duration_seconds",
			Help:    "Subagent execution time",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	SourcesMerged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_sources_merged_total",
			Help: "Sources merged into sessions by quality tier",
		},
		[]string{"tier"},
	)

	DuplicateSources = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_duplicate_sources_total",
			Help: "Sources discarded during merge because the URL was already present",
		},
	)

	// Collaborator metrics
	SearchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_search_requests_total",
			Help: "Search provider calls by outcome",
		},
		[]string{"provider", "status"},
	)

	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_provider_errors_total",
			Help: "Search queries that failed and contributed no results",
		},
		[]string{"provider"},
	)

	ExtractionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_extraction_failures_total",
			Help: "Candidate sources dropped because content extraction failed",
		},
		[]string{"reason"},
	)

	FetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "research_fetch_duration_seconds",
			Help:    "Content fetch and extraction time",
			Buckets: prometheus.DefBuckets,
		},
	)

	RateLimitWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "research_rate_limit_wait_seconds",
			Help:    "Time spent waiting on outbound rate limiters",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"limiter"},
	)

	// Session store metrics
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_store_sessions_created_total",
			Help: "Total number of sessions created in the store",
		},
	)

	SessionCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_session_cache_hits_total",
			Help: "Session lookups served from the local cache",
		},
	)

	SessionCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_session_cache_misses_total",
			Help: "Session lookups that went to the backing store",
		},
	)

	SessionCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_session_cache_evictions_total",
			Help: "Sessions evicted from the local cache",
		},
	)

	SessionCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "research_session_cache_size",
			Help: "Current number of sessions in the local cache",
		},
	)

	// Archive metrics
	ArchiveWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_archive_writes_total",
			Help: "Completed sessions written to the archive by outcome",
		},
		[]string{"status"},
	)

	// Admission metrics
	AdmissionDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_admission_decisions_total",
			Help: "Admission policy decisions for new sessions",
		},
		[]string{"decision", "mode"},
	)

	// Breaker metrics. dependency is search, fetch, session or archive;
	// breaker names the wrapper (e.g. search-brave).
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "research_breaker_state",
			Help: "Breaker state per dependency (0=closed, 1=half-open, 2=open)",
		},
		[]string{"dependency", "breaker"},
	)

	BreakerCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_breaker_calls_total",
			Help: "Calls through a breaker by outcome (success, failure, rejected)",
		},
		[]string{"dependency", "breaker", "outcome"},
	)

	BreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_breaker_transitions_total",
			Help: "Breaker state changes",
		},
		[]string{"dependency", "breaker", "from", "to"},
	)

	BreakerOpenHosts = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "research_breaker_open_hosts",
			Help: "Hosts whose page fetch breaker is currently open",
		},
		[]string{"dependency", "breaker"},
	)
)
