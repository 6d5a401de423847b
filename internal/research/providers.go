package research

import (
	"context"
	"fmt"

	"github.com/Kocoro-lab/Shannon/go/research/internal/metadata"
)

// SearchResult is one ranked page reference returned by a search provider.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// SearchProvider issues a query and returns ranked references. Zero results
// is an empty slice with a nil error; failures are *ProviderError.
type SearchProvider interface {
	Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
}

// ContentFetcher retrieves a page and returns cleaned text of at most
// maxChars. An empty string means no content was obtained.
type ContentFetcher interface {
	FetchContent(ctx context.Context, url string, maxChars int) (string, error)
}

// Assessor scores a reference by its origin domain.
type Assessor interface {
	Assess(rawURL string) (int, metadata.Tier)
}

// ProviderError is a failed search call.
type ProviderError struct {
	Provider string
	Query    string
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("search provider %s failed for %q: %s: %v", e.Provider, e.Query, e.Message, e.Err)
	}
	return fmt.Sprintf("search provider %s failed for %q: %s", e.Provider, e.Query, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ExtractionFailure is a candidate that produced no usable content.
type ExtractionFailure struct {
	URL    string
	Reason string
	Err    error
}

func (e *ExtractionFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction failed for %s: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("extraction failed for %s: %s", e.URL, e.Reason)
}

func (e *ExtractionFailure) Unwrap() error { return e.Err }
