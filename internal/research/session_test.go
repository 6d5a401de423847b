package research

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kocoro-lab/Shannon/go/research/internal/metadata"
)

func result(id, aspect string, sources ...Source) SubagentResult {
	return SubagentResult{
		ID:       id,
		Aspect:   aspect,
		State:    SubagentCompleted,
		Sources:  sources,
		Findings: []string{"finding from " + id},
	}
}

func TestMerge_FirstWriteWins(t *testing.T) {
	s := plannedSession(DepthBasic)
	a0, a1 := s.Memory.Plan[0], s.Memory.Plan[1]

	first := Source{URL: "https://www.example.com/page/", Title: "first", QualityScore: 5, Tier: metadata.TierGeneral}
	second := Source{URL: "https://example.com/page", Title: "second", QualityScore: 10, Tier: metadata.TierPrimary}

	assert.Equal(t, 1, s.Merge(result("sa-1", a0, first)))
	assert.Equal(t, 0, s.Merge(result("sa-2", a1, second)))

	require.Len(t, s.Sources, 1)
	assert.Equal(t, "first", s.Sources[0].Title)
	assert.Equal(t, a0, s.Sources[0].Aspect)
	assert.True(t, s.HasSource("https://example.com/page?utm_source=x"))

	// a1 returned a source, even though it was a duplicate
	assert.True(t, s.Memory.IsCovered(a1))
}

func TestMerge_Idempotent(t *testing.T) {
	s := plannedSession(DepthBasic)
	a0 := s.Memory.Plan[0]
	res := result("sa-1", a0,
		Source{URL: "https://a.example.com/1", Title: "one"},
		Source{URL: "https://a.example.com/2", Title: "two"},
	)

	assert.Equal(t, 2, s.Merge(res))
	assert.Equal(t, 0, s.Merge(res))

	assert.Len(t, s.Sources, 2)
	assert.Len(t, s.Subagents, 1)
	assert.Equal(t, []string{"finding from sa-1"}, s.Memory.Findings[a0])
}

func TestMerge_EmptyResultLeavesAspectUncovered(t *testing.T) {
	s := plannedSession(DepthBasic)
	s.Merge(result("sa-1", s.Memory.Plan[0]))

	assert.False(t, s.Memory.IsCovered(s.Memory.Plan[0]))
	assert.Equal(t, []string{s.Memory.Plan[0]}, s.ResearchedAspects())
}

func TestSnapshot_IsDetached(t *testing.T) {
	s := plannedSession(DepthBasic)
	a0 := s.Memory.Plan[0]
	s.Merge(result("sa-1", a0, Source{URL: "https://a.example.com/1"}))
	s.Memory.SetGaps([]Gap{{Kind: GapMissingCoverage, Aspect: s.Memory.Plan[1]}})

	snap := s.Snapshot(a0)
	assert.True(t, snap.Knows("https://a.example.com/1/"))
	assert.Equal(t, []string{"finding from sa-1"}, snap.PriorFindings)

	s.Memory.RecordFinding(a0, "later")
	s.Memory.SetGaps(nil)
	assert.Len(t, snap.PriorFindings, 1)
	assert.Len(t, snap.Gaps, 1)
}

func TestClone_DeepCopy(t *testing.T) {
	s := plannedSession(DepthBasic)
	a0 := s.Memory.Plan[0]
	s.Merge(result("sa-1", a0, Source{URL: "https://a.example.com/1", Title: "one"}))
	s.SetStatus(StatusCompleted, testNow)

	c := s.Clone()
	c.Sources[0].Title = "changed"
	c.Memory.MarkCovered(s.Memory.Plan[1])
	c.Subagents[0].Findings[0] = "changed"

	assert.Equal(t, "one", s.Sources[0].Title)
	assert.False(t, s.Memory.IsCovered(s.Memory.Plan[1]))
	assert.Equal(t, "finding from sa-1", s.Subagents[0].Findings[0])
	require.NotNil(t, c.CompletedAt)
	assert.Equal(t, testNow, *c.CompletedAt)
}

func TestTrimContent(t *testing.T) {
	s := plannedSession(DepthBasic)
	long := strings.Repeat("tidal   output\n", 500)
	s.Merge(result("sa-1", s.Memory.Plan[0],
		Source{URL: "https://a.example.com/long", Content: long, ContentLength: len(long)},
		Source{URL: "https://a.example.com/short", Content: "short  page", ContentLength: 11},
	))

	trimmed := s.TrimContent(40)
	assert.Equal(t, "tidal output tidal output tidal output t", trimmed.Sources[0].Content)
	assert.Equal(t, len(long), trimmed.Sources[0].ContentLength)
	assert.Equal(t, "short  page", trimmed.Sources[1].Content)
	// the original keeps its content
	assert.Equal(t, long, s.Sources[0].Content)

	res := result("sa-2", s.Memory.Plan[1], Source{URL: "https://b.example.com", Content: long})
	res.TrimContent(40)
	assert.Len(t, res.Sources[0].Content, 40)
}

func TestSummarize(t *testing.T) {
	s := plannedSession(DepthModerate)
	s.Merge(result("sa-1", s.Memory.Plan[0], Source{URL: "https://a.example.com/1"}))
	s.Memory.AppendIterationResult(IterationResult{Index: 0, CoverageScore: 42})

	sum := s.Summarize()
	assert.Equal(t, 5, sum.AspectsPlanned)
	assert.Equal(t, 1, sum.AspectsCovered)
	assert.Equal(t, 1, sum.SourceCount)
	assert.Equal(t, 42, sum.CoverageScore)
	assert.Equal(t, 3, sum.IterationCap)
}

func TestMemory_Context(t *testing.T) {
	m := NewMemory()
	m.SetContext("note", "value")
	v, ok := m.Context("note")
	assert.True(t, ok)
	assert.Equal(t, "value", v)

	_, ok = m.Context("missing")
	assert.False(t, ok)
}
