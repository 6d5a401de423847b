package research

import (
	"time"

	"github.com/google/uuid"

	"github.com/Kocoro-lab/Shannon/go/research/internal/metadata"
)

// Session is one research run. The orchestrator owns it exclusively while
// running; other readers work on copies obtained through Clone.
type Session struct {
	ID           string            `json:"id"`
	Topic        string            `json:"topic"`
	Depth        Depth             `json:"depth"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	Status       Status            `json:"status"`
	Iteration    int               `json:"iteration"`
	IterationCap int               `json:"iteration_cap"`
	Sources      []*Source         `json:"sources"`
	Subagents    []*SubagentRecord `json:"subagents"`
	Memory       *Memory           `json:"memory"`
	Report       string            `json:"report,omitempty"`
	ExitReason   string            `json:"exit_reason,omitempty"`
	Error        string            `json:"error,omitempty"`

	sourceIndex map[string]int
}

// NewSession creates a pending session with a fresh id.
func NewSession(topic string, depth Depth, now time.Time) *Session {
	return NewSessionWithID(uuid.New().String(), topic, depth, now)
}

// NewSessionWithID creates a pending session with the given id.
func NewSessionWithID(id, topic string, depth Depth, now time.Time) *Session {
	return &Session{
		ID:           id,
		Topic:        topic,
		Depth:        depth,
		CreatedAt:    now,
		UpdatedAt:    now,
		Status:       StatusPending,
		IterationCap: depth.Profile().IterationCap,
		Memory:       NewMemory(),
	}
}

func dedupKey(rawURL string) string {
	return metadata.DedupKey(rawURL)
}

func (s *Session) index() map[string]int {
	if s.sourceIndex == nil || len(s.sourceIndex) != len(s.Sources) {
		s.sourceIndex = make(map[string]int, len(s.Sources))
		for i, src := range s.Sources {
			key := dedupKey(src.URL)
			if _, ok := s.sourceIndex[key]; !ok {
				s.sourceIndex[key] = i
			}
		}
	}
	return s.sourceIndex
}

// HasSource reports whether a Source with the same URL was already merged.
func (s *Session) HasSource(rawURL string) bool {
	_, ok := s.index()[dedupKey(rawURL)]
	return ok
}

// SetStatus moves the session to status.
func (s *Session) SetStatus(status Status, now time.Time) {
	s.Status = status
	s.UpdatedAt = now
	if status.Terminal() {
		t := now
		s.CompletedAt = &t
	}
}

// Snapshot builds the read-only view handed to a Subagent for aspect.
func (s *Session) Snapshot(aspect string) Snapshot {
	known := make(map[string]bool, len(s.Sources))
	for key := range s.index() {
		known[key] = true
	}
	return Snapshot{
		Topic:         s.Topic,
		Depth:         s.Depth,
		PriorFindings: append([]string(nil), s.Memory.Findings[aspect]...),
		Gaps:          append([]Gap(nil), s.Memory.Gaps...),
		KnownURLs:     known,
	}
}

func (s *Session) hasSubagent(id string) bool {
	for _, rec := range s.Subagents {
		if rec.ID == id {
			return true
		}
	}
	return false
}

// Merge folds a finished Subagent into the session and returns how many new
// Sources were added. Duplicate URLs keep the first Source seen. Merging the
// same result twice is a no-op.
func (s *Session) Merge(res SubagentResult) int {
	if s.hasSubagent(res.ID) {
		return 0
	}

	s.Subagents = append(s.Subagents, &SubagentRecord{
		ID:          res.ID,
		Aspect:      res.Aspect,
		Iteration:   res.Iteration,
		State:       res.State,
		Queries:     append([]string(nil), res.Queries...),
		SourceCount: len(res.Sources),
		Findings:    append([]string(nil), res.Findings...),
		StartedAt:   res.StartedAt,
		CompletedAt: res.CompletedAt,
		Error:       res.Error,
	})

	idx := s.index()
	added := 0
	for _, src := range res.Sources {
		key := dedupKey(src.URL)
		if _, dup := idx[key]; dup {
			continue
		}
		merged := src
		merged.Aspect = res.Aspect
		s.Sources = append(s.Sources, &merged)
		idx[key] = len(s.Sources) - 1
		added++
	}

	for _, finding := range res.Findings {
		s.Memory.RecordFinding(res.Aspect, finding)
	}
	if len(res.Sources) > 0 {
		s.Memory.MarkCovered(res.Aspect)
	}
	return added
}

// SourcesFor returns the merged Sources owned by aspect.
func (s *Session) SourcesFor(aspect string) []*Source {
	var out []*Source
	for _, src := range s.Sources {
		if src.Aspect == aspect {
			out = append(out, src)
		}
	}
	return out
}

// CountByTier tallies merged Sources per tier.
func (s *Session) CountByTier() map[metadata.Tier]int {
	counts := make(map[metadata.Tier]int, len(metadata.Tiers))
	for _, src := range s.Sources {
		counts[src.Tier]++
	}
	return counts
}

// ContentVolume is the total extracted content length of merged Sources.
func (s *Session) ContentVolume() int {
	total := 0
	for _, src := range s.Sources {
		total += src.ContentLength
	}
	return total
}

// ResearchedAspects lists every aspect a Subagent has run for, in first-run
// order.
func (s *Session) ResearchedAspects() []string {
	seen := make(map[string]bool)
	var out []string
	for _, rec := range s.Subagents {
		if !seen[rec.Aspect] {
			seen[rec.Aspect] = true
			out = append(out, rec.Aspect)
		}
	}
	return out
}

// CoverageScore is the score of the latest iteration, or 0 before any.
func (s *Session) CoverageScore() int {
	if n := len(s.Memory.History); n > 0 {
		return s.Memory.History[n-1].CoverageScore
	}
	return 0
}

// Summary is a compact status view of a session.
type Summary struct {
	ID             string     `json:"id"`
	Topic          string     `json:"topic"`
	Depth          Depth      `json:"depth"`
	Status         Status     `json:"status"`
	Iteration      int        `json:"iteration"`
	IterationCap   int        `json:"iteration_cap"`
	AspectsPlanned int        `json:"aspects_planned"`
	AspectsCovered int        `json:"aspects_covered"`
	SourceCount    int        `json:"source_count"`
	CoverageScore  int        `json:"coverage_score"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ExitReason     string     `json:"exit_reason,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// Summarize returns the status view of s.
func (s *Session) Summarize() Summary {
	return Summary{
		ID:             s.ID,
		Topic:          s.Topic,
		Depth:          s.Depth,
		Status:         s.Status,
		Iteration:      s.Iteration,
		IterationCap:   s.IterationCap,
		AspectsPlanned: len(s.Memory.Plan),
		AspectsCovered: s.Memory.CoveredCount(),
		SourceCount:    len(s.Sources),
		CoverageScore:  s.CoverageScore(),
		CreatedAt:      s.CreatedAt,
		CompletedAt:    s.CompletedAt,
		ExitReason:     s.ExitReason,
		Error:          s.Error,
	}
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	c := *s
	c.sourceIndex = nil
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}

	c.Sources = make([]*Source, len(s.Sources))
	for i, src := range s.Sources {
		cp := *src
		c.Sources[i] = &cp
	}

	c.Subagents = make([]*SubagentRecord, len(s.Subagents))
	for i, rec := range s.Subagents {
		cp := *rec
		cp.Queries = append([]string(nil), rec.Queries...)
		cp.Findings = append([]string(nil), rec.Findings...)
		c.Subagents[i] = &cp
	}

	c.Memory = s.Memory.clone()
	return &c
}

// TrimContent returns a copy of s whose Sources carry at most max characters
// of whitespace-flattened content each.
func (s *Session) TrimContent(max int) *Session {
	c := s.Clone()
	for _, src := range c.Sources {
		src.Content = trimContent(src.Content, max)
	}
	return c
}

func (m *Memory) clone() *Memory {
	if m == nil {
		return NewMemory()
	}
	c := &Memory{
		Plan:     append([]string(nil), m.Plan...),
		Findings: make(map[string][]string, len(m.Findings)),
		Gaps:     append([]Gap(nil), m.Gaps...),
		Covered:  make(map[string]bool, len(m.Covered)),
		Notes:    make(map[string]string, len(m.Notes)),
	}
	for k, v := range m.Findings {
		c.Findings[k] = append([]string(nil), v...)
	}
	for k, v := range m.Covered {
		c.Covered[k] = v
	}
	for k, v := range m.Notes {
		c.Notes[k] = v
	}
	c.History = make([]IterationResult, len(m.History))
	for i, r := range m.History {
		r.AspectsResearched = append([]string(nil), r.AspectsResearched...)
		r.Gaps = append([]Gap(nil), r.Gaps...)
		c.History[i] = r
	}
	return c
}
