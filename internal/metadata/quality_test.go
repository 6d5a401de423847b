package metadata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestAssess_DefaultTable(t *testing.T) {
	a := NewQualityAssessor(zaptest.NewLogger(t))

	tests := []struct {
		url   string
		score int
		tier  Tier
	}{
		{"https://www.nasa.gov/missions", 10, TierPrimary},
		{"https://cs.stanford.edu/people", 10, TierPrimary},
		{"https://www.ox.ac.uk/research", 10, TierPrimary},
		{"https://arxiv.org/abs/2401.00001", 10, TierPrimary},
		{"https://www.w3.org/TR/html52/", 10, TierPrimary},
		{"https://github.com/golang/go", 10, TierPrimary},
		{"https://docs.python.org/3/library/", 10, TierPrimary},
		{"https://www.anthropic.com/research", 10, TierPrimary},
		{"https://en.wikipedia.org/wiki/Go", 8, TierAuthoritative},
		{"https://www.reuters.com/technology/", 8, TierAuthoritative},
		{"https://stackoverflow.com/questions/1", 7, TierQuality},
		{"https://arstechnica.com/science/", 7, TierQuality},
		{"https://medium.com/@someone/post", 5, TierGeneral},
		{"https://example.com/page", 5, TierGeneral},
		{"https://www.reddit.com/r/golang", 3, TierLow},
		{"https://www.quora.com/What-is", 3, TierLow},
		{"not a url", 3, TierLow},
		{"", 3, TierLow},
		{"http://[::1", 3, TierLow},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			score, tier := a.Assess(tt.url)
			assert.Equal(t, tt.score, score)
			assert.Equal(t, tt.tier, tier)
		})
	}
}

func TestAssess_SubdomainBoundary(t *testing.T) {
	a := NewQualityAssessor(nil)

	// "notgithub.com" must not match the github.com rule.
	score, tier := a.Assess("https://notgithub.com/x")
	assert.Equal(t, UnmatchedScore, score)
	assert.Equal(t, TierGeneral, tier)

	score, tier = a.Assess("https://gist.github.com/x")
	assert.Equal(t, 10, score)
	assert.Equal(t, TierPrimary, tier)
}

func TestAssess_IsPure(t *testing.T) {
	a := NewQualityAssessor(nil)
	for i := 0; i < 3; i++ {
		score, tier := a.Assess("https://www.bbc.co.uk/news")
		assert.Equal(t, 8, score)
		assert.Equal(t, TierAuthoritative, tier)
	}
}

func TestParseQualityTable(t *testing.T) {
	data := []byte(`
rules:
  - tier: primary
    score: 10
    domains: [example.org]
  - tier: low
    score: 2
    suffixes: [".test"]
`)
	table, err := ParseQualityTable(data)
	require.NoError(t, err)
	require.Len(t, table.Rules, 2)

	a := NewQualityAssessor(nil)
	require.NoError(t, a.SetTable(table))

	score, tier := a.Assess("https://blog.example.org/a")
	assert.Equal(t, 10, score)
	assert.Equal(t, TierPrimary, tier)

	score, tier = a.Assess("https://site.test/")
	assert.Equal(t, 2, score)
	assert.Equal(t, TierLow, tier)

	// Entries of the default table no longer apply.
	score, tier = a.Assess("https://github.com/x")
	assert.Equal(t, UnmatchedScore, score)
	assert.Equal(t, TierGeneral, tier)
}

func TestParseQualityTable_Invalid(t *testing.T) {
	cases := map[string]string{
		"empty":        `rules: []`,
		"unknown tier": "rules:\n  - tier: stellar\n    score: 9\n    domains: [a.com]\n",
		"bad score":    "rules:\n  - tier: primary\n    score: 11\n    domains: [a.com]\n",
		"no patterns":  "rules:\n  - tier: primary\n    score: 10\n",
		"not yaml":     "rules: [",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseQualityTable([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestLoadFile_KeepsPreviousTableOnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quality.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules: ["), 0o644))

	a := NewQualityAssessor(zaptest.NewLogger(t))
	assert.Error(t, a.LoadFile(path))

	score, tier := a.Assess("https://github.com/x")
	assert.Equal(t, 10, score)
	assert.Equal(t, TierPrimary, tier)

	assert.Error(t, a.LoadFile(filepath.Join(dir, "missing.yaml")))
}
