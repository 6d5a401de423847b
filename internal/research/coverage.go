package research

import (
	"fmt"
	"strings"

	"github.com/Kocoro-lab/Shannon/go/research/internal/metadata"
)

// Score weights.
const (
	coverageAspectWeight   = 50
	primaryPointsPerSource = 5
	primaryPointsCap       = 25
	authoritativePoints    = 3
	authoritativePointsCap = 15
	largeContentThreshold  = 100000
	largeContentBonus      = 10
	mediumContentThreshold = 50000
	mediumContentBonus     = 5
)

// CoverageScore computes the 0-100 completeness estimate from the full
// merged state of s.
func CoverageScore(s *Session) int {
	score := 0
	if planned := len(s.Memory.Plan); planned > 0 {
		score = coverageAspectWeight * s.Memory.CoveredCount() / planned
	}

	tiers := s.CountByTier()
	score += min(primaryPointsPerSource*tiers[metadata.TierPrimary], primaryPointsCap)
	score += min(authoritativePoints*tiers[metadata.TierAuthoritative], authoritativePointsCap)

	switch volume := s.ContentVolume(); {
	case volume > largeContentThreshold:
		score += largeContentBonus
	case volume > mediumContentThreshold:
		score += mediumContentBonus
	}

	return max(0, min(score, 100))
}

// IdentifyGaps lists shortfalls for every planned aspect, in plan order.
func IdentifyGaps(s *Session) []Gap {
	profile := s.Depth.Profile()
	var gaps []Gap
	for _, aspect := range s.Memory.Plan {
		if !s.Memory.IsCovered(aspect) {
			gaps = append(gaps, Gap{Kind: GapMissingCoverage, Aspect: aspect})
			continue
		}

		sources := s.SourcesFor(aspect)
		if len(sources) < profile.MinSourcesPerAspect {
			gaps = append(gaps, Gap{Kind: GapInsufficientSources, Aspect: aspect})
		}
		if s.Depth == DepthComprehensive && !hasTier(sources, metadata.TierPrimary) {
			gaps = append(gaps, Gap{Kind: GapNoPrimarySources, Aspect: aspect})
		}
	}
	return gaps
}

func hasTier(sources []*Source, tier metadata.Tier) bool {
	for _, src := range sources {
		if src.Tier == tier {
			return true
		}
	}
	return false
}

// Evaluate scores the session after iteration and applies the stopping rule.
// It reads s without modifying it, so repeated calls on unchanged state give
// the same result.
func Evaluate(s *Session, iteration int, researched []string) IterationResult {
	profile := s.Depth.Profile()
	score := CoverageScore(s)
	gaps := IdentifyGaps(s)
	total := len(s.Sources)
	required := profile.MinSourcesPerAspect * len(s.ResearchedAspects())
	last := iteration >= s.IterationCap-1

	result := IterationResult{
		Index:             iteration,
		AspectsResearched: append([]string(nil), researched...),
		SourceCount:       total,
		CoverageScore:     score,
		Gaps:              gaps,
	}

	switch {
	case score >= profile.CoverageThreshold && total >= required:
		result.Decision = DecisionExit
		result.Reasoning = fmt.Sprintf(
			"Coverage threshold met: score %d%% >= %d%% with %d sources (required %d)",
			score, profile.CoverageThreshold, total, required)
	case last:
		result.Decision = DecisionExit
		result.Reasoning = fmt.Sprintf(
			"Max iterations reached (%d/%d): score %d%% (threshold %d%%), %d sources (required %d)",
			iteration+1, s.IterationCap, score, profile.CoverageThreshold, total, required)
	case len(gaps) == 0:
		result.Decision = DecisionExit
		result.Reasoning = fmt.Sprintf(
			"No coverage gaps remaining: score %d%% (threshold %d%%), %d sources (required %d)",
			score, profile.CoverageThreshold, total, required)
	default:
		result.Decision = DecisionContinue
		result.Reasoning = fmt.Sprintf(
			"Continuing: score %d%% (threshold %d%%), %d sources (required %d), %d gaps: %s",
			score, profile.CoverageThreshold, total, required, len(gaps), strings.Join(GapStrings(gaps), "; "))
	}
	return result
}
