package research

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Kocoro-lab/Shannon/go/research/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/research/internal/tracing"
)

// Aspect selection limits per iteration.
const (
	firstPassAspects = 3
	maxPassAspects   = 4
)

// ExitNoAspects is the exit reason when nothing is left to research.
const ExitNoAspects = "No aspects remaining to research"

// ErrSessionNotPending is returned by Run for sessions that already started.
var ErrSessionNotPending = errors.New("session is not pending")

// Synthesizer renders the uncited report for a session.
type Synthesizer interface {
	Synthesize(s *Session) string
}

// CheckpointFunc persists a copy of the session between phases.
type CheckpointFunc func(ctx context.Context, s *Session) error

// LeadResearcher drives the plan, research, evaluate loop for one session at
// a time per call to Run.
type LeadResearcher struct {
	deps       Dependencies
	synth      Synthesizer
	citations  *CitationAgent
	cfg        Config
	logger     *zap.Logger
	sink       ProgressSink
	checkpoint CheckpointFunc
	now        func() time.Time
}

// Option configures a LeadResearcher.
type Option func(*LeadResearcher)

// WithProgressSink sets the receiver of progress events.
func WithProgressSink(sink ProgressSink) Option {
	return func(l *LeadResearcher) {
		if sink != nil {
			l.sink = sink
		}
	}
}

// WithCheckpoint registers a function called after each phase transition.
// Checkpoint errors are logged and do not stop the run.
func WithCheckpoint(fn CheckpointFunc) Option {
	return func(l *LeadResearcher) { l.checkpoint = fn }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *LeadResearcher) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLeadResearcher creates an orchestrator.
func NewLeadResearcher(deps Dependencies, synth Synthesizer, cfg Config, logger *zap.Logger, opts ...Option) *LeadResearcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &LeadResearcher{
		deps:      deps,
		synth:     synth,
		citations: NewCitationAgent(),
		cfg:       cfg.withDefaults(),
		logger:    logger,
		sink:      nopSink{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SelectAspects picks the aspects to research in iteration. The first pass
// takes up to three uncovered planned aspects; later passes take gap aspects
// first, then any uncovered aspect, up to four.
func SelectAspects(s *Session, iteration int) []string {
	mem := s.Memory
	if iteration == 0 {
		uncovered := mem.Uncovered()
		if len(uncovered) > firstPassAspects {
			uncovered = uncovered[:firstPassAspects]
		}
		return uncovered
	}

	planned := make(map[string]bool, len(mem.Plan))
	for _, a := range mem.Plan {
		planned[a] = true
	}

	var selected []string
	seen := make(map[string]bool)
	add := func(aspect string) {
		if len(selected) >= maxPassAspects || seen[aspect] || !planned[aspect] {
			return
		}
		seen[aspect] = true
		selected = append(selected, aspect)
	}
	for _, gap := range mem.Gaps {
		add(gap.Aspect)
	}
	for _, aspect := range mem.Uncovered() {
		add(aspect)
	}
	return selected
}

// Run executes the session to a terminal state and returns the cited report.
// A session that ends with zero sources still completes; only cancellation
// of ctx fails it.
func (l *LeadResearcher) Run(ctx context.Context, s *Session) (string, error) {
	if s.Status != StatusPending {
		return "", fmt.Errorf("%w: %s is %s", ErrSessionNotPending, s.ID, s.Status)
	}

	ctx, span := tracing.StartSessionSpan(ctx, s.ID, string(s.Depth))
	defer span.End()

	logger := l.logger.With(zap.String("session_id", s.ID), zap.String("depth", string(s.Depth)))
	started := l.now()
	depth := string(s.Depth)

	metrics.SessionsStarted.WithLabelValues(depth).Inc()
	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()

	l.transition(ctx, s, StatusPlanning)
	if len(s.Memory.Plan) == 0 {
		s.Memory.SavePlan(Plan(s.Topic, s.Depth))
	}
	logger.Info("Research session started",
		zap.String("topic", s.Topic),
		zap.Strings("plan", s.Memory.Plan),
		zap.Int("iteration_cap", s.IterationCap),
	)
	l.emit(s, EventSessionStarted, "", fmt.Sprintf("Planned %d aspects", len(s.Memory.Plan)), map[string]interface{}{
		"plan": s.Memory.Plan,
	})

	if err := l.iterate(ctx, s, logger); err != nil {
		return "", l.fail(ctx, s, logger, started, err)
	}

	l.transition(ctx, s, StatusSynthesizing)
	report := l.synth.Synthesize(s)

	l.transition(ctx, s, StatusCiting)
	s.Report = l.citations.Process(s, report)

	l.transition(ctx, s, StatusCompleted)
	metrics.SessionsCompleted.WithLabelValues(depth, string(StatusCompleted)).Inc()
	metrics.SessionDuration.WithLabelValues(depth).Observe(l.now().Sub(started).Seconds())

	logger.Info("Research session completed",
		zap.Int("iterations", len(s.Memory.History)),
		zap.Int("sources", len(s.Sources)),
		zap.Int("coverage", s.CoverageScore()),
		zap.String("exit_reason", s.ExitReason),
	)
	l.emit(s, EventSessionCompleted, "", s.ExitReason, map[string]interface{}{
		"sources":  len(s.Sources),
		"coverage": s.CoverageScore(),
	})
	return s.Report, nil
}

func (l *LeadResearcher) iterate(ctx context.Context, s *Session, logger *zap.Logger) error {
	for iter := 0; iter < s.IterationCap; iter++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		aspects := SelectAspects(s, iter)
		if len(aspects) == 0 {
			s.ExitReason = ExitNoAspects
			logger.Info("No aspects left, ending research", zap.Int("iteration", iter))
			return nil
		}

		s.Iteration = iter
		l.transition(ctx, s, StatusResearching)
		l.emit(s, EventIterationStarted, "", fmt.Sprintf("Iteration %d researching %d aspects", iter+1, len(aspects)), map[string]interface{}{
			"aspects": aspects,
		})

		results := l.runBatch(ctx, s, iter, aspects, logger)
		for _, res := range results {
			l.merge(s, res)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		l.transition(ctx, s, StatusEvaluating)
		result := Evaluate(s, iter, aspects)
		s.Memory.SetGaps(result.Gaps)
		s.Memory.AppendIterationResult(result)

		metrics.Iterations.WithLabelValues(string(s.Depth), string(result.Decision)).Inc()
		metrics.CoverageScore.WithLabelValues(string(s.Depth)).Observe(float64(result.CoverageScore))
		logger.Info("Iteration evaluated",
			zap.Int("iteration", iter),
			zap.Int("coverage", result.CoverageScore),
			zap.Int("sources", result.SourceCount),
			zap.Int("gaps", len(result.Gaps)),
			zap.String("decision", string(result.Decision)),
		)
		l.emit(s, EventIterationEvaluated, "", result.Reasoning, map[string]interface{}{
			"coverage": result.CoverageScore,
			"sources":  result.SourceCount,
			"gaps":     GapStrings(result.Gaps),
			"decision": result.Decision,
		})
		l.save(ctx, s)

		if result.Decision == DecisionExit {
			s.ExitReason = result.Reasoning
			return nil
		}
		if err := sleep(ctx, l.cfg.InterBatchDelay); err != nil {
			return err
		}
	}
	return nil
}

// runBatch executes one Subagent per aspect concurrently and returns their
// results in completion order.
func (l *LeadResearcher) runBatch(ctx context.Context, s *Session, iter int, aspects []string, logger *zap.Logger) []SubagentResult {
	var (
		mu      sync.Mutex
		results = make([]SubagentResult, 0, len(aspects))
	)

	g := new(errgroup.Group)
	g.SetLimit(l.cfg.MaxConcurrentSubagents)
	for i, aspect := range aspects {
		agent := NewSubagent(SubagentID(s.ID, iter, i), aspect, iter, s.Snapshot(aspect), l.deps, l.cfg, logger)
		agent.now = l.now
		g.Go(func() error {
			sctx, span := tracing.StartSubagentSpan(ctx, aspect, iter)
			res := agent.Execute(sctx)
			span.End()

			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// SubagentID names the i-th Subagent of an iteration.
func SubagentID(sessionID string, iteration, i int) string {
	return fmt.Sprintf("%s-it%d-sa%d", sessionID, iteration, i)
}

func (l *LeadResearcher) merge(s *Session, res SubagentResult) {
	before := len(s.Sources)
	added := s.Merge(res)
	for _, src := range s.Sources[before:] {
		metrics.SourcesMerged.WithLabelValues(string(src.Tier)).Inc()
	}
	if dup := len(res.Sources) - added; dup > 0 {
		metrics.DuplicateSources.Add(float64(dup))
	}
	l.emit(s, EventSubagentCompleted, res.Aspect, fmt.Sprintf("%d new sources", added), map[string]interface{}{
		"subagent_id": res.ID,
		"state":       res.State,
		"queries":     len(res.Queries),
		"sources":     len(res.Sources),
		"added":       added,
	})
}

func (l *LeadResearcher) fail(ctx context.Context, s *Session, logger *zap.Logger, started time.Time, err error) error {
	s.Error = err.Error()
	if s.ExitReason == "" {
		s.ExitReason = "Research aborted: " + err.Error()
	}
	// ctx is already done here; checkpoint on a detached context.
	l.transition(context.WithoutCancel(ctx), s, StatusFailed)
	metrics.SessionsCompleted.WithLabelValues(string(s.Depth), string(StatusFailed)).Inc()
	metrics.SessionDuration.WithLabelValues(string(s.Depth)).Observe(l.now().Sub(started).Seconds())
	logger.Warn("Research session failed", zap.Error(err))
	l.emit(s, EventSessionFailed, "", s.Error, nil)
	return fmt.Errorf("research session %s failed: %w", s.ID, err)
}

func (l *LeadResearcher) transition(ctx context.Context, s *Session, status Status) {
	s.SetStatus(status, l.now())
	l.save(ctx, s)
}

func (l *LeadResearcher) save(ctx context.Context, s *Session) {
	if l.checkpoint == nil {
		return
	}
	if err := l.checkpoint(ctx, s); err != nil {
		l.logger.Warn("Failed to checkpoint session",
			zap.String("session_id", s.ID),
			zap.String("status", string(s.Status)),
			zap.Error(err),
		)
	}
}

func (l *LeadResearcher) emit(s *Session, eventType, aspect, message string, payload map[string]interface{}) {
	l.sink.Report(Progress{
		Type:      eventType,
		SessionID: s.ID,
		Iteration: s.Iteration,
		Aspect:    aspect,
		Message:   message,
		Payload:   payload,
		Timestamp: l.now(),
	})
}
