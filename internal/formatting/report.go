package formatting

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Kocoro-lab/Shannon/go/research/internal/metadata"
	"github.com/Kocoro-lab/Shannon/go/research/internal/research"
)

const (
	detailedSourceLimit = 15
	excerptChars        = 300
)

// ReportSynthesizer renders the session report. Section order is fixed:
// executive summary, research plan, iteration history, subagent reports,
// detailed source analysis, sources by tier, session metadata.
type ReportSynthesizer struct {
	now func() time.Time
}

// NewReportSynthesizer returns a synthesizer stamped with time.Now.
func NewReportSynthesizer() *ReportSynthesizer {
	return &ReportSynthesizer{now: time.Now}
}

// NewReportSynthesizerWithClock is NewReportSynthesizer with a custom clock.
func NewReportSynthesizerWithClock(now func() time.Time) *ReportSynthesizer {
	if now == nil {
		now = time.Now
	}
	return &ReportSynthesizer{now: now}
}

// Synthesize implements research.Synthesizer.
func (r *ReportSynthesizer) Synthesize(s *research.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Research Report: %s\n\n", s.Topic)

	writeExecutiveSummary(&b, s)
	writePlan(&b, s)
	writeIterations(&b, s)
	writeSubagents(&b, s)
	writeSourceAnalysis(&b, s)
	writeSourcesByTier(&b, s)
	r.writeMetadata(&b, s)

	return b.String()
}

func writeExecutiveSummary(b *strings.Builder, s *research.Session) {
	tiers := s.CountByTier()
	b.WriteString("## Executive Summary\n\n")
	b.WriteString("| Metric | Value |\n")
	b.WriteString("|---|---|\n")
	fmt.Fprintf(b, "| Depth | %s |\n", s.Depth)
	fmt.Fprintf(b, "| Iterations | %d of %d |\n", len(s.Memory.History), s.IterationCap)
	fmt.Fprintf(b, "| Aspects covered | %d of %d |\n", s.Memory.CoveredCount(), len(s.Memory.Plan))
	fmt.Fprintf(b, "| Sources | %d |\n", len(s.Sources))
	fmt.Fprintf(b, "| Primary sources | %d |\n", tiers[metadata.TierPrimary])
	fmt.Fprintf(b, "| Authoritative sources | %d |\n", tiers[metadata.TierAuthoritative])
	fmt.Fprintf(b, "| Coverage score | %d%% |\n", s.CoverageScore())
	fmt.Fprintf(b, "| Subagents | %d |\n", len(s.Subagents))
	if s.ExitReason != "" {
		fmt.Fprintf(b, "\n**Outcome:** %s\n", s.ExitReason)
	}
	b.WriteString("\n")
}

func writePlan(b *strings.Builder, s *research.Session) {
	b.WriteString("## Research Plan\n\n")
	for _, aspect := range s.Memory.Plan {
		mark := " "
		if s.Memory.IsCovered(aspect) {
			mark = "x"
		}
		fmt.Fprintf(b, "- [%s] %s\n", mark, aspect)
	}
	b.WriteString("\n")
}

func writeIterations(b *strings.Builder, s *research.Session) {
	b.WriteString("## Iteration History\n\n")
	if len(s.Memory.History) == 0 {
		b.WriteString("No iterations were run.\n\n")
		return
	}
	for _, it := range s.Memory.History {
		fmt.Fprintf(b, "### Iteration %d\n\n", it.Index+1)
		fmt.Fprintf(b, "- Aspects researched: %s\n", strings.Join(it.AspectsResearched, ", "))
		fmt.Fprintf(b, "- Sources: %d\n", it.SourceCount)
		fmt.Fprintf(b, "- Coverage score: %d%%\n", it.CoverageScore)
		fmt.Fprintf(b, "- Decision: %s\n", it.Decision)
		fmt.Fprintf(b, "- Reasoning: %s\n", it.Reasoning)
		if len(it.Gaps) > 0 {
			b.WriteString("- Gaps:\n")
			for _, g := range it.Gaps {
				fmt.Fprintf(b, "  - %s\n", g)
			}
		}
		b.WriteString("\n")
	}
}

func writeSubagents(b *strings.Builder, s *research.Session) {
	b.WriteString("## Subagent Reports\n\n")
	if len(s.Subagents) == 0 {
		b.WriteString("No subagents were run.\n\n")
		return
	}
	for _, rec := range s.Subagents {
		fmt.Fprintf(b, "### %s (iteration %d)\n\n", rec.Aspect, rec.Iteration+1)
		fmt.Fprintf(b, "- State: %s\n", rec.State)
		fmt.Fprintf(b, "- Queries: %d\n", len(rec.Queries))
		fmt.Fprintf(b, "- Sources found: %d\n", rec.SourceCount)
		fmt.Fprintf(b, "- Duration: %s\n", rec.Duration().Round(time.Millisecond))
		if rec.Error != "" {
			fmt.Fprintf(b, "- Error: %s\n", rec.Error)
		}
		if len(rec.Findings) > 0 {
			b.WriteString("\n**Findings:**\n\n")
			for _, f := range rec.Findings {
				fmt.Fprintf(b, "- %s\n", f)
			}
		}
		b.WriteString("\n")
	}
}

func writeSourceAnalysis(b *strings.Builder, s *research.Session) {
	b.WriteString("## Detailed Source Analysis\n\n")
	ranked := research.Rank(s.Sources)
	if len(ranked) == 0 {
		b.WriteString("No sources were collected.\n\n")
		return
	}
	if len(ranked) > detailedSourceLimit {
		ranked = ranked[:detailedSourceLimit]
	}
	for i, src := range ranked {
		fmt.Fprintf(b, "### %d. %s\n\n", i+1, src.Title)
		fmt.Fprintf(b, "- URL: %s\n", src.URL)
		fmt.Fprintf(b, "- Quality: %s (%d/10)\n", src.Tier, src.QualityScore)
		fmt.Fprintf(b, "- Aspect: %s\n", src.Aspect)
		fmt.Fprintf(b, "- Content length: %d characters\n\n", src.ContentLength)
		fmt.Fprintf(b, "> %s\n\n", Excerpt(src.Content, excerptChars))
	}
}

func writeSourcesByTier(b *strings.Builder, s *research.Session) {
	b.WriteString("## Sources by Tier\n\n")
	if len(s.Sources) == 0 {
		b.WriteString("No sources were collected.\n\n")
		return
	}
	for _, tier := range metadata.Tiers {
		var group []*research.Source
		for _, src := range s.Sources {
			if src.Tier == tier {
				group = append(group, src)
			}
		}
		if len(group) == 0 {
			continue
		}
		fmt.Fprintf(b, "### %s (%d)\n\n", titleCase(string(tier)), len(group))
		for _, src := range group {
			fmt.Fprintf(b, "- %s: %s\n", src.Title, src.URL)
		}
		b.WriteString("\n")
	}
}

func (r *ReportSynthesizer) writeMetadata(b *strings.Builder, s *research.Session) {
	b.WriteString("## Session Metadata\n\n")
	fmt.Fprintf(b, "- Session ID: %s\n", s.ID)
	fmt.Fprintf(b, "- Topic: %s\n", s.Topic)
	fmt.Fprintf(b, "- Depth: %s\n", s.Depth)
	fmt.Fprintf(b, "- Iteration cap: %d\n", s.IterationCap)
	fmt.Fprintf(b, "- Created: %s\n", s.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(b, "- Generated: %s\n", r.now().UTC().Format(time.RFC3339))
}

// Excerpt flattens whitespace in content and cuts it to max characters.
func Excerpt(content string, max int) string {
	flat := strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(flat) <= max {
		return flat
	}
	return string([]rune(flat)[:max]) + "..."
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
