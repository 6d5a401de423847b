package research

// Memory is the research state shared across iterations. Only the
// orchestrator mutates it; Subagents get a Snapshot instead.
type Memory struct {
	Plan     []string            `json:"plan"`
	Findings map[string][]string `json:"findings"`
	Gaps     []Gap               `json:"gaps"`
	Covered  map[string]bool     `json:"covered"`
	History  []IterationResult   `json:"history"`
	Notes    map[string]string   `json:"notes"`
}

// NewMemory returns an empty Memory.
func NewMemory() *Memory {
	return &Memory{
		Findings: make(map[string][]string),
		Covered:  make(map[string]bool),
		Notes:    make(map[string]string),
	}
}

// SavePlan stores the aspect plan.
func (m *Memory) SavePlan(aspects []string) {
	m.Plan = append([]string(nil), aspects...)
}

// RecordFinding appends a finding under aspect.
func (m *Memory) RecordFinding(aspect, finding string) {
	if m.Findings == nil {
		m.Findings = make(map[string][]string)
	}
	m.Findings[aspect] = append(m.Findings[aspect], finding)
}

// SetGaps replaces the gap list.
func (m *Memory) SetGaps(gaps []Gap) {
	m.Gaps = append([]Gap(nil), gaps...)
}

// MarkCovered adds aspect to the covered set. The set never shrinks.
func (m *Memory) MarkCovered(aspect string) {
	if m.Covered == nil {
		m.Covered = make(map[string]bool)
	}
	m.Covered[aspect] = true
}

// IsCovered reports whether aspect has been covered.
func (m *Memory) IsCovered(aspect string) bool {
	return m.Covered[aspect]
}

// CoveredCount counts covered aspects that belong to the plan.
func (m *Memory) CoveredCount() int {
	n := 0
	for _, aspect := range m.Plan {
		if m.Covered[aspect] {
			n++
		}
	}
	return n
}

// Uncovered returns planned aspects not yet covered, in plan order.
func (m *Memory) Uncovered() []string {
	var out []string
	for _, aspect := range m.Plan {
		if !m.Covered[aspect] {
			out = append(out, aspect)
		}
	}
	return out
}

// AppendIterationResult adds r to the history.
func (m *Memory) AppendIterationResult(r IterationResult) {
	m.History = append(m.History, r)
}

// SetContext stores an ad-hoc note.
func (m *Memory) SetContext(key, value string) {
	if m.Notes == nil {
		m.Notes = make(map[string]string)
	}
	m.Notes[key] = value
}

// Context returns a note stored with SetContext.
func (m *Memory) Context(key string) (string, bool) {
	v, ok := m.Notes[key]
	return v, ok
}

// Snapshot is the read-only view a Subagent works from.
type Snapshot struct {
	Topic         string          `json:"topic"`
	Depth         Depth           `json:"depth"`
	PriorFindings []string        `json:"prior_findings,omitempty"`
	Gaps          []Gap           `json:"gaps,omitempty"`
	KnownURLs     map[string]bool `json:"known_urls,omitempty"`
}

// Knows reports whether the session already holds rawURL.
func (s Snapshot) Knows(rawURL string) bool {
	return s.KnownURLs[dedupKey(rawURL)]
}
