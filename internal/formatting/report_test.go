package formatting

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Kocoro-lab/Shannon/go/research/internal/metadata"
	"github.com/Kocoro-lab/Shannon/go/research/internal/research"
)

var fixedNow = time.Date(2025, 5, 4, 10, 30, 0, 0, time.UTC)

func sampleSession() *research.Session {
	s := research.NewSessionWithID("sess-1", "solid state batteries", research.DepthBasic, fixedNow.Add(-time.Minute))
	s.Memory.SavePlan(research.Plan(s.Topic, s.Depth))
	aspect := s.Memory.Plan[0]

	var sources []research.Source
	for i := 0; i < 17; i++ {
		tier, score := metadata.TierGeneral, 5
		if i%3 == 0 {
			tier, score = metadata.TierPrimary, 10
		}
		sources = append(sources, research.Source{
			URL:           fmt.Sprintf("https://s%d.example.org/a", i),
			Title:         fmt.Sprintf("Source %02d", i),
			Content:       strings.Repeat("word ", 100),
			ContentLength: 500,
			QualityScore:  score,
			Tier:          tier,
		})
	}
	s.Merge(research.SubagentResult{
		ID:          "sa-1",
		Aspect:      aspect,
		State:       research.SubagentCompleted,
		Queries:     []string{aspect},
		Sources:     sources,
		Findings:    []string{"[primary] Source 00: a finding"},
		StartedAt:   fixedNow.Add(-30 * time.Second),
		CompletedAt: fixedNow.Add(-28 * time.Second),
	})
	s.Memory.AppendIterationResult(research.Evaluate(s, 0, []string{aspect}))
	return s
}

func TestSynthesize_SectionOrder(t *testing.T) {
	out := NewReportSynthesizerWithClock(func() time.Time { return fixedNow }).Synthesize(sampleSession())

	sections := []string{
		"# Research Report: solid state batteries",
		"## Executive Summary",
		"## Research Plan",
		"## Iteration History",
		"## Subagent Reports",
		"## Detailed Source Analysis",
		"## Sources by Tier",
		"## Session Metadata",
	}
	last := -1
	for _, section := range sections {
		idx := strings.Index(out, section)
		if assert.GreaterOrEqual(t, idx, 0, section) {
			assert.Greater(t, idx, last, section)
			last = idx
		}
	}
}

func TestSynthesize_Content(t *testing.T) {
	s := sampleSession()
	out := NewReportSynthesizerWithClock(func() time.Time { return fixedNow }).Synthesize(s)

	assert.Contains(t, out, "| Sources | 17 |")
	assert.Contains(t, out, "| Primary sources | 6 |")
	assert.Contains(t, out, "- [x] solid state batteries overview definition")
	assert.Contains(t, out, "- [ ] solid state batteries current state developments")
	assert.Contains(t, out, "### Iteration 1")
	assert.Contains(t, out, "  - Missing coverage: solid state batteries current state developments")
	assert.Contains(t, out, "- Duration: 2s")
	assert.Contains(t, out, "### Primary (6)")
	assert.Contains(t, out, "### General (11)")
	assert.Contains(t, out, "- Generated: 2025-05-04T10:30:00Z")

	// top 15 only
	assert.Contains(t, out, "### 15. ")
	assert.NotContains(t, out, "### 16. ")
	// primaries rank first
	assert.Contains(t, out, "### 1. Source 00")
}

func TestSynthesize_EmptySession(t *testing.T) {
	s := research.NewSessionWithID("empty", "nothing", research.DepthBasic, fixedNow)
	s.Memory.SavePlan(research.Plan(s.Topic, s.Depth))

	out := NewReportSynthesizer().Synthesize(s)
	assert.Contains(t, out, "No iterations were run.")
	assert.Contains(t, out, "No subagents were run.")
	assert.Equal(t, 2, strings.Count(out, "No sources were collected."))
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "a b c", Excerpt("a\n b\t\tc", 10))
	assert.Equal(t, "abc...", Excerpt("abcdef", 3))
}
