package research

import (
	"fmt"
	"strings"
	"time"

	"github.com/Kocoro-lab/Shannon/go/research/internal/metadata"
)

// Depth selects how thorough a session is. It is fixed at creation.
type Depth string

const (
	DepthBasic         Depth = "basic"
	DepthModerate      Depth = "moderate"
	DepthComprehensive Depth = "comprehensive"
)

// DepthProfile holds the limits derived from a depth tier.
type DepthProfile struct {
	IterationCap        int
	AspectCount         int
	CoverageThreshold   int
	MinSourcesPerAspect int
}

var depthProfiles = map[Depth]DepthProfile{
	DepthBasic:         {IterationCap: 2, AspectCount: 2, CoverageThreshold: 60, MinSourcesPerAspect: 2},
	DepthModerate:      {IterationCap: 3, AspectCount: 5, CoverageThreshold: 75, MinSourcesPerAspect: 3},
	DepthComprehensive: {IterationCap: 4, AspectCount: 11, CoverageThreshold: 90, MinSourcesPerAspect: 5},
}

// ParseDepth accepts a depth name case-insensitively.
func ParseDepth(s string) (Depth, error) {
	d := Depth(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := depthProfiles[d]; !ok {
		return "", fmt.Errorf("unknown depth %q (want basic, moderate or comprehensive)", s)
	}
	return d, nil
}

// Profile returns the limits for d. Unknown depths get the basic profile.
func (d Depth) Profile() DepthProfile {
	if p, ok := depthProfiles[d]; ok {
		return p
	}
	return depthProfiles[DepthBasic]
}

// Status is the lifecycle state of a session.
type Status string

const (
	// StatusPending is a stored session that has not started running.
	StatusPending      Status = "pending"
	StatusPlanning     Status = "planning"
	StatusResearching  Status = "researching"
	StatusEvaluating   Status = "evaluating"
	StatusSynthesizing Status = "synthesizing"
	StatusCiting       Status = "citing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// Terminal reports whether no further transitions happen from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// SubagentState is the lifecycle of one Subagent.
type SubagentState string

const (
	SubagentPending    SubagentState = "pending"
	SubagentSearching  SubagentState = "searching"
	SubagentEvaluating SubagentState = "evaluating"
	SubagentCompleted  SubagentState = "completed"
	SubagentFailed     SubagentState = "failed"
)

// Decision is the outcome of evaluating one iteration.
type Decision string

const (
	DecisionContinue Decision = "continue"
	DecisionExit     Decision = "exit"
)

// Source is a deduplicated reference gathered by a Subagent.
type Source struct {
	URL           string        `json:"url"`
	Title         string        `json:"title"`
	Snippet       string        `json:"snippet,omitempty"`
	Content       string        `json:"content"`
	QualityScore  int           `json:"quality_score"`
	Tier          metadata.Tier `json:"tier"`
	Domain        string        `json:"domain"`
	ContentLength int           `json:"content_length"`
	FetchedAt     time.Time     `json:"fetched_at"`
	Aspect        string        `json:"aspect"`
	CitationID    int           `json:"citation_id,omitempty"`
}

// IterationResult records one pass of the research loop. It is never
// modified after being appended to the history.
type IterationResult struct {
	Index             int      `json:"index"`
	AspectsResearched []string `json:"aspects_researched"`
	SourceCount       int      `json:"source_count"`
	CoverageScore     int      `json:"coverage_score"`
	Gaps              []Gap    `json:"gaps"`
	Decision          Decision `json:"decision"`
	Reasoning         string   `json:"reasoning"`
}

// SubagentRecord is what a session keeps about a finished Subagent.
type SubagentRecord struct {
	ID          string        `json:"id"`
	Aspect      string        `json:"aspect"`
	Iteration   int           `json:"iteration"`
	State       SubagentState `json:"state"`
	Queries     []string      `json:"queries"`
	SourceCount int           `json:"source_count"`
	Findings    []string      `json:"findings"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Error       string        `json:"error,omitempty"`
}

// Duration is how long the Subagent ran.
func (r *SubagentRecord) Duration() time.Duration {
	if r.CompletedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}
