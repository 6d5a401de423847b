package research

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/Kocoro-lab/Shannon/go/research/internal/metadata"
)

// fakeSearch records queries and delegates to fn.
type fakeSearch struct {
	mu      sync.Mutex
	queries []string
	fn      func(query string, max int) ([]SearchResult, error)
}

func (f *fakeSearch) Search(_ context.Context, query string, max int) ([]SearchResult, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if f.fn == nil {
		return []SearchResult{}, nil
	}
	return f.fn(query, max)
}

func (f *fakeSearch) Queries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

// govPerQuery returns one .gov result whose path is derived from the query.
func govPerQuery(query string, _ int) ([]SearchResult, error) {
	slug := strings.ReplaceAll(strings.ToLower(query), " ", "-")
	return []SearchResult{{
		Title:   "Report on " + query,
		URL:     "https://data.example.gov/" + url.PathEscape(slug),
		Snippet: "official data",
	}}, nil
}

type fakeFetcher struct {
	mu      sync.Mutex
	calls   int
	content func(rawURL string) string
	err     error
}

func (f *fakeFetcher) FetchContent(ctx context.Context, rawURL string, maxChars int) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text := f.content(rawURL)
	if len([]rune(text)) > maxChars {
		text = string([]rune(text)[:maxChars])
	}
	return text, nil
}

func fixedContent(n int) func(string) string {
	return func(rawURL string) string {
		line := fmt.Sprintf("Findings published at %s describe the subject in depth.", rawURL)
		var b strings.Builder
		for b.Len() < n {
			b.WriteString(line)
			b.WriteString("\n")
		}
		return b.String()[:n]
	}
}

func testDeps(search SearchProvider, fetcher ContentFetcher) Dependencies {
	return Dependencies{
		Search:   search,
		Fetcher:  fetcher,
		Assessor: metadata.NewQualityAssessor(nil),
	}
}

type staticSynth struct {
	text string
}

func (s staticSynth) Synthesize(*Session) string { return s.text }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.InterBatchDelay = 0
	return cfg
}
