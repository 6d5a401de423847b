package research

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/research/internal/metadata"
)

func TestBuildQueries(t *testing.T) {
	tests := []struct {
		name   string
		aspect string
		snap   Snapshot
		want   []string
	}{
		{
			name:   "broadening query collapses into aspect",
			aspect: "rust overview definition",
			snap:   Snapshot{Topic: "rust"},
			want:   []string{"rust overview definition"},
		},
		{
			name:   "broadening query uses last two words",
			aspect: "rust current state developments",
			snap:   Snapshot{Topic: "rust"},
			want:   []string{"rust current state developments", "rust state developments"},
		},
		{
			name:   "refinement and gap queries",
			aspect: "rust current state developments",
			snap: Snapshot{
				Topic:         "rust",
				PriorFindings: []string{"[primary] something"},
				Gaps: []Gap{
					{Kind: GapMissingCoverage, Aspect: "rust key technical concepts"},
					{Kind: GapInsufficientSources, Aspect: "rust overview definition"},
					{Kind: GapNoPrimarySources, Aspect: "rust challenges limitations"},
				},
			},
			want: []string{
				"rust current state developments",
				"rust current state developments detailed explanation",
				"rust current state developments expert analysis",
				"rust key technical concepts",
				"rust overview definition sources",
			},
		},
		{
			name:   "gap first word must match",
			aspect: "rust current state developments",
			snap: Snapshot{
				Topic: "rust",
				Gaps: []Gap{
					{Kind: GapMissingCoverage, Aspect: "python overview definition"},
					{Kind: GapNoPrimarySources, Aspect: "Rust challenges limitations"},
				},
			},
			want: []string{
				"rust current state developments",
				"rust state developments",
				"Rust challenges limitations official documentation research",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildQueries(tt.aspect, tt.snap))
		})
	}
}

func TestExtractFinding(t *testing.T) {
	long := strings.Repeat("x", 250)
	src := Source{
		Title:   "Docs",
		Tier:    metadata.TierPrimary,
		Content: "short line\n\n   " + long + "\nanother line that is also quite long enough to qualify here",
	}
	got := ExtractFinding(src)
	assert.Equal(t, "[primary] Docs: "+strings.Repeat("x", 200), got)

	assert.Empty(t, ExtractFinding(Source{Title: "t", Content: "tiny\nlines\nonly"}))
}

func TestSubagent_FiltersAndFetches(t *testing.T) {
	search := &fakeSearch{fn: func(string, int) ([]SearchResult, error) {
		return []SearchResult{
			{Title: "Thread", URL: "https://reddit.com/r/topic"},
			{Title: "Known", URL: "https://known.example.edu/page"},
			{Title: "No URL", URL: ""},
			{Title: "", URL: "https://en.wikipedia.org/wiki/Topic"},
			{Title: "Preprint", URL: "https://arxiv.org/abs/1234"},
		}, nil
	}}
	fetcher := &fakeFetcher{content: func(rawURL string) string {
		if strings.Contains(rawURL, "arxiv") {
			return "too short"
		}
		return fixedContent(2000)(rawURL)
	}}

	snap := Snapshot{
		Topic:     "topic",
		KnownURLs: map[string]bool{metadata.DedupKey("https://known.example.edu/page"): true},
	}
	agent := NewSubagent("sa-1", "topic current state developments", 0, snap, testDeps(search, fetcher), testConfig(), zaptest.NewLogger(t))
	assert.Equal(t, SubagentPending, agent.State())

	res := agent.Execute(context.Background())

	assert.Equal(t, SubagentCompleted, res.State)
	assert.Equal(t, []string{"topic current state developments", "topic state developments"}, search.Queries())
	assert.Equal(t, 2, fetcher.calls, "second query finds only buffered URLs")

	require.Len(t, res.Sources, 1)
	src := res.Sources[0]
	assert.Equal(t, "https://en.wikipedia.org/wiki/Topic", src.URL)
	assert.Equal(t, "en.wikipedia.org", src.Domain)
	assert.Equal(t, "en.wikipedia.org", src.Title)
	assert.Equal(t, metadata.TierAuthoritative, src.Tier)
	assert.Equal(t, 8, src.QualityScore)
	assert.Equal(t, 2000, src.ContentLength)
	assert.Equal(t, "topic current state developments", src.Aspect)

	require.Len(t, res.Findings, 1)
	assert.True(t, strings.HasPrefix(res.Findings[0], "[authoritative] en.wikipedia.org: Findings published at"))
}

func TestSubagent_ProviderErrorIsSwallowed(t *testing.T) {
	search := &fakeSearch{fn: func(query string, _ int) ([]SearchResult, error) {
		if strings.Contains(query, "state developments") && !strings.Contains(query, "current") {
			return nil, &ProviderError{Provider: "fake", Query: query, Message: "upstream 503"}
		}
		return govPerQuery(query, 1)
	}}
	fetcher := &fakeFetcher{content: fixedContent(500)}

	agent := NewSubagent("sa-1", "x current state developments", 0, Snapshot{Topic: "x"}, testDeps(search, fetcher), testConfig(), zaptest.NewLogger(t))
	res := agent.Execute(context.Background())

	assert.Equal(t, SubagentCompleted, res.State)
	assert.Len(t, search.Queries(), 2)
	assert.Len(t, res.Sources, 1)
	assert.Empty(t, res.Error)
}

func TestSubagent_FetchErrorDropsCandidate(t *testing.T) {
	search := &fakeSearch{fn: govPerQuery}
	fetcher := &fakeFetcher{err: assert.AnError}

	agent := NewSubagent("sa-1", "x overview definition", 0, Snapshot{Topic: "x"}, testDeps(search, fetcher), testConfig(), zaptest.NewLogger(t))
	res := agent.Execute(context.Background())

	assert.Equal(t, SubagentCompleted, res.State)
	assert.Empty(t, res.Sources)
	assert.Empty(t, res.Findings)
}

func TestSubagent_CancelledContextFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	search := &fakeSearch{fn: govPerQuery}
	fetcher := &fakeFetcher{content: fixedContent(500)}
	agent := NewSubagent("sa-1", "x overview definition", 0, Snapshot{Topic: "x"}, testDeps(search, fetcher), testConfig(), zaptest.NewLogger(t))

	res := agent.Execute(ctx)
	assert.Equal(t, SubagentFailed, res.State)
	assert.Equal(t, context.Canceled.Error(), res.Error)
	assert.Empty(t, res.Sources)
}

func TestSubagent_TruncatesContent(t *testing.T) {
	search := &fakeSearch{fn: govPerQuery}
	fetcher := &fakeFetcher{content: func(string) string { return strings.Repeat("y", 5000) }}
	cfg := testConfig()
	cfg.MaxContentPerPage = 300

	agent := NewSubagent("sa-1", "x overview definition", 0, Snapshot{Topic: "x"}, testDeps(search, fetcher), cfg, zaptest.NewLogger(t))
	res := agent.Execute(context.Background())

	require.Len(t, res.Sources, 1)
	assert.Equal(t, 300, res.Sources[0].ContentLength)
}
