package research

import (
	"fmt"
	"strings"
)

// GapKind identifies the shortfall a Gap describes.
type GapKind string

const (
	GapMissingCoverage     GapKind = "missing_coverage"
	GapInsufficientSources GapKind = "insufficient_sources"
	GapNoPrimarySources    GapKind = "no_primary_sources"
)

var gapPrefixes = map[GapKind]string{
	GapMissingCoverage:     "Missing coverage",
	GapInsufficientSources: "Insufficient sources for",
	GapNoPrimarySources:    "No primary sources for",
}

// Gap is a shortfall for one planned aspect.
type Gap struct {
	Kind   GapKind `json:"kind"`
	Aspect string  `json:"aspect"`
}

// String renders the gap as "{label}: {aspect}".
func (g Gap) String() string {
	prefix, ok := gapPrefixes[g.Kind]
	if !ok {
		prefix = string(g.Kind)
	}
	return fmt.Sprintf("%s: %s", prefix, g.Aspect)
}

// ParseGap recovers a Gap from its String form.
func ParseGap(s string) (Gap, error) {
	for kind, prefix := range gapPrefixes {
		if rest, ok := strings.CutPrefix(s, prefix+": "); ok {
			return Gap{Kind: kind, Aspect: rest}, nil
		}
	}
	return Gap{}, fmt.Errorf("unrecognized gap %q", s)
}

// GapStrings renders each gap with String.
func GapStrings(gaps []Gap) []string {
	out := make([]string, len(gaps))
	for i, g := range gaps {
		out[i] = g.String()
	}
	return out
}
