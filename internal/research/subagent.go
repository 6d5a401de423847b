package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Kocoro-lab/Shannon/go/research/internal/metadata"
	"github.com/Kocoro-lab/Shannon/go/research/internal/metrics"
)

// Dependencies are the collaborators a Subagent calls out to.
type Dependencies struct {
	Search   SearchProvider
	Fetcher  ContentFetcher
	Assessor Assessor
}

// SubagentResult is the terminal output of one Subagent.
type SubagentResult struct {
	ID          string        `json:"id"`
	Aspect      string        `json:"aspect"`
	Iteration   int           `json:"iteration"`
	State       SubagentState `json:"state"`
	Queries     []string      `json:"queries"`
	Sources     []Source      `json:"sources"`
	Findings    []string      `json:"findings"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Error       string        `json:"error,omitempty"`
}

// TrimContent cuts the content of every Source to at most max characters of
// whitespace-flattened text. ContentLength keeps the fetched length.
func (r *SubagentResult) TrimContent(max int) {
	for i := range r.Sources {
		r.Sources[i].Content = trimContent(r.Sources[i].Content, max)
	}
}

func trimContent(content string, max int) string {
	if len(content) <= max {
		return content
	}
	return truncateRunes(strings.Join(strings.Fields(content), " "), max)
}

// Subagent researches a single aspect. It is created for one iteration and
// discarded once its result is merged.
type Subagent struct {
	ID        string
	Aspect    string
	Iteration int

	snapshot Snapshot
	deps     Dependencies
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	state    SubagentState
	queries  []string
	sources  []Source
	buffer   map[string]bool
	findings []string
}

// NewSubagent binds a worker to aspect with a read-only view of the session.
func NewSubagent(id, aspect string, iteration int, snap Snapshot, deps Dependencies, cfg Config, logger *zap.Logger) *Subagent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subagent{
		ID:        id,
		Aspect:    aspect,
		Iteration: iteration,
		snapshot:  snap,
		deps:      deps,
		cfg:       cfg.withDefaults(),
		logger:    logger.With(zap.String("subagent_id", id), zap.String("aspect", aspect)),
		now:       time.Now,
		state:     SubagentPending,
		buffer:    make(map[string]bool),
	}
}

// State returns the current lifecycle state.
func (a *Subagent) State() SubagentState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Subagent) setState(s SubagentState) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// BuildQueries derives the query list for aspect from a snapshot.
func BuildQueries(aspect string, snap Snapshot) []string {
	queries := []string{aspect}
	if len(snap.PriorFindings) > 0 {
		queries = append(queries, aspect+" detailed explanation", aspect+" expert analysis")
	} else {
		queries = append(queries, strings.TrimSpace(snap.Topic+" "+lastWords(aspect, 2)))
	}

	first := firstWord(aspect)
	added := 0
	for _, gap := range snap.Gaps {
		if added == 2 {
			break
		}
		if first == "" || !strings.EqualFold(firstWord(gap.Aspect), first) {
			continue
		}
		queries = append(queries, gapQuery(gap))
		added++
	}
	return uniqueStrings(queries)
}

func gapQuery(g Gap) string {
	switch g.Kind {
	case GapInsufficientSources:
		return g.Aspect + " sources"
	case GapNoPrimarySources:
		return g.Aspect + " official documentation research"
	default:
		return g.Aspect
	}
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func lastWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) > n {
		fields = fields[len(fields)-n:]
	}
	return strings.Join(fields, " ")
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		key := strings.ToLower(strings.TrimSpace(s))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

type candidate struct {
	result SearchResult
	score  int
	tier   metadata.Tier
}

// Execute runs the searching and evaluating phases and returns the terminal
// result. Search and fetch failures are logged and skipped.
func (a *Subagent) Execute(ctx context.Context) (result SubagentResult) {
	started := a.now()
	result = SubagentResult{ID: a.ID, Aspect: a.Aspect, Iteration: a.Iteration, StartedAt: started}

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Subagent panicked", zap.Any("panic", r))
			a.setState(SubagentFailed)
			result.Error = fmt.Sprintf("panic: %v", r)
		}
		result.State = a.State()
		result.Queries = append([]string(nil), a.queries...)
		result.Sources = append([]Source(nil), a.sources...)
		result.Findings = append([]string(nil), a.findings...)
		result.CompletedAt = a.now()

		metrics.SubagentsExecuted.WithLabelValues(string(result.State)).Inc()
		metrics.SubagentDuration.Observe(result.CompletedAt.Sub(started).Seconds())
	}()

	a.setState(SubagentSearching)
	a.queries = BuildQueries(a.Aspect, a.snapshot)
	a.logger.Debug("Subagent searching", zap.Strings("queries", a.queries))

	for i, query := range a.queries {
		if i > 0 {
			if err := sleep(ctx, a.cfg.InterBatchDelay); err != nil {
				break
			}
		}
		a.runQuery(ctx, query)
	}

	if err := ctx.Err(); err != nil {
		a.setState(SubagentFailed)
		result.Error = err.Error()
		return result
	}

	a.setState(SubagentEvaluating)
	a.findings = a.evaluate()

	a.setState(SubagentCompleted)
	a.logger.Info("Subagent completed",
		zap.Int("queries", len(a.queries)),
		zap.Int("sources", len(a.sources)),
		zap.Int("findings", len(a.findings)),
	)
	return result
}

func (a *Subagent) runQuery(ctx context.Context, query string) {
	results, err := a.deps.Search.Search(ctx, query, a.cfg.MaxResultsPerQuery)
	if err != nil {
		var perr *ProviderError
		provider := "unknown"
		if errors.As(err, &perr) {
			provider = perr.Provider
		}
		metrics.ProviderErrors.WithLabelValues(provider).Inc()
		a.logger.Warn("Search failed, skipping query", zap.String("query", query), zap.Error(err))
		return
	}

	candidates := a.filter(results)
	if len(candidates) == 0 {
		return
	}
	a.sources = append(a.sources, a.fetchAll(ctx, candidates)...)
}

// filter drops known URLs and low-quality origins, reserving accepted URLs in
// the Subagent's buffer.
func (a *Subagent) filter(results []SearchResult) []candidate {
	var out []candidate
	for _, r := range results {
		if strings.TrimSpace(r.URL) == "" {
			continue
		}
		key := dedupKey(r.URL)
		if a.snapshot.KnownURLs[key] || a.buffer[key] {
			continue
		}
		score, tier := a.deps.Assessor.Assess(r.URL)
		if score < MinQualityScore {
			a.logger.Debug("Skipping low quality result", zap.String("url", r.URL), zap.Int("score", score))
			continue
		}
		a.buffer[key] = true
		out = append(out, candidate{result: r, score: score, tier: tier})
	}
	return out
}

// fetchAll extracts content for all candidates concurrently and returns the
// usable Sources in candidate order.
func (a *Subagent) fetchAll(ctx context.Context, candidates []candidate) []Source {
	fetched := make([]*Source, len(candidates))

	g := new(errgroup.Group)
	g.SetLimit(a.cfg.MaxConcurrentFetches)
	for i, c := range candidates {
		g.Go(func() error {
			src, err := a.fetch(ctx, c)
			if err != nil {
				var ef *ExtractionFailure
				reason := "error"
				if errors.As(err, &ef) {
					reason = ef.Reason
				}
				metrics.ExtractionFailures.WithLabelValues(reason).Inc()
				a.logger.Debug("Dropping candidate", zap.String("url", c.result.URL), zap.Error(err))
				return nil
			}
			fetched[i] = src
			return nil
		})
	}
	_ = g.Wait()

	var out []Source
	for _, src := range fetched {
		if src != nil {
			out = append(out, *src)
		}
	}
	return out
}

func (a *Subagent) fetch(ctx context.Context, c candidate) (*Source, error) {
	fctx, cancel := context.WithTimeout(ctx, a.cfg.FetchTimeout)
	defer cancel()

	start := time.Now()
	content, err := a.deps.Fetcher.FetchContent(fctx, c.result.URL, a.cfg.MaxContentPerPage)
	metrics.FetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		reason := "fetch_error"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		return nil, &ExtractionFailure{URL: c.result.URL, Reason: reason, Err: err}
	}

	content = truncateRunes(strings.TrimSpace(content), a.cfg.MaxContentPerPage)
	length := utf8.RuneCountInString(content)
	if length <= MinContentChars {
		return nil, &ExtractionFailure{URL: c.result.URL, Reason: "too_short"}
	}

	domain, _ := metadata.ExtractDomain(c.result.URL)
	title := strings.TrimSpace(c.result.Title)
	if title == "" {
		title = domain
	}
	return &Source{
		URL:           c.result.URL,
		Title:         title,
		Snippet:       c.result.Snippet,
		Content:       content,
		QualityScore:  c.score,
		Tier:          c.tier,
		Domain:        domain,
		ContentLength: length,
		FetchedAt:     a.now(),
		Aspect:        a.Aspect,
	}, nil
}

// evaluate extracts one finding per Source.
func (a *Subagent) evaluate() []string {
	var findings []string
	for _, src := range a.sources {
		if f := ExtractFinding(src); f != "" {
			findings = append(findings, f)
		}
	}
	return findings
}

// ExtractFinding returns "[tier] title: line" where line is the first content
// line longer than 50 characters, cut to 200. Empty if no line qualifies.
func ExtractFinding(src Source) string {
	for _, line := range strings.Split(src.Content, "\n") {
		line = strings.TrimSpace(line)
		if utf8.RuneCountInString(line) <= findingMinLineChars {
			continue
		}
		return fmt.Sprintf("[%s] %s: %s", src.Tier, src.Title, truncateRunes(line, findingMaxChars))
	}
	return ""
}

func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
