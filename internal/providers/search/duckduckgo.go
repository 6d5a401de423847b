package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/Kocoro-lab/Shannon/go/research/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/research/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/research/internal/ratecontrol"
	"github.com/Kocoro-lab/Shannon/go/research/internal/research"
	"github.com/Kocoro-lab/Shannon/go/research/internal/tracing"
)

const (
	duckDuckGoName     = "duckduckgo"
	duckDuckGoEndpoint = "https://html.duckduckgo.com/html/"
	duckDuckGoRedirect = "//duckduckgo.com/l/?uddg="
	maxResultPage      = 1 << 20
)

// DuckDuckGo scrapes the keyless HTML interface. It is the fallback when no
// search API is configured.
type DuckDuckGo struct {
	endpoint  string
	userAgent string
	http      *circuitbreaker.HTTPWrapper
	pacer     *ratecontrol.Pacer
	logger    *zap.Logger
}

// NewDuckDuckGo builds the scraper. An empty endpoint uses the public one.
func NewDuckDuckGo(endpoint, userAgent string, pacer *ratecontrol.Pacer, logger *zap.Logger) *DuckDuckGo {
	if logger == nil {
		logger = zap.NewNop()
	}
	if endpoint == "" {
		endpoint = duckDuckGoEndpoint
	}
	if userAgent == "" {
		userAgent = "Mozilla/5.0 (compatible; ResearchOrchestrator/1.0)"
	}
	httpClient := &http.Client{Timeout: 20 * time.Second}
	return &DuckDuckGo{
		endpoint:  endpoint,
		userAgent: userAgent,
		http:      circuitbreaker.NewHTTPWrapper(httpClient, "search-"+duckDuckGoName, "search", circuitbreaker.GetSearchConfig(), logger),
		pacer:     pacer,
		logger:    logger,
	}
}

// Search implements research.SearchProvider.
func (d *DuckDuckGo) Search(ctx context.Context, query string, maxResults int) ([]research.SearchResult, error) {
	results, err := d.search(ctx, query, maxResults)
	if err != nil {
		metrics.SearchRequests.WithLabelValues(duckDuckGoName, "error").Inc()
		return nil, &research.ProviderError{Provider: duckDuckGoName, Query: query, Message: "html search failed", Err: err}
	}
	metrics.SearchRequests.WithLabelValues(duckDuckGoName, "success").Inc()
	return results, nil
}

func (d *DuckDuckGo) search(ctx context.Context, query string, maxResults int) ([]research.SearchResult, error) {
	if d.pacer != nil {
		if err := d.pacer.WaitProvider(ctx, duckDuckGoName); err != nil {
			return nil, err
		}
	}

	target := d.endpoint + "?q=" + url.QueryEscape(query)
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodGet, target)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept", "text/html")
	tracing.InjectTraceparent(ctx, req)

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResultPage))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return parseResults(string(body), maxResults)
}

// parseResults extracts result blocks from a DuckDuckGo HTML page.
func parseResults(page string, maxResults int) ([]research.SearchResult, error) {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	results := []research.SearchResult{}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if maxResults > 0 && len(results) >= maxResults {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" {
			class := attr(n, "class")
			if strings.Contains(class, "result") && strings.Contains(class, "results_links") {
				if r := extractResult(n); r.URL != "" && r.Title != "" {
					results = append(results, r)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return results, nil
}

func extractResult(block *html.Node) research.SearchResult {
	var r research.SearchResult
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			class := attr(n, "class")
			switch {
			case strings.Contains(class, "result__a"):
				r.URL = attr(n, "href")
				r.Title = text(n)
			case strings.Contains(class, "result__snippet"):
				r.Snippet = text(n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(block)
	r.URL = unwrapRedirect(r.URL)
	return r
}

// unwrapRedirect resolves the /l/?uddg= tracking link to its target.
func unwrapRedirect(href string) string {
	if !strings.HasPrefix(href, duckDuckGoRedirect) {
		return href
	}
	decoded, err := url.QueryUnescape(strings.TrimPrefix(href, duckDuckGoRedirect))
	if err != nil {
		return href
	}
	if idx := strings.Index(decoded, "&"); idx > 0 {
		decoded = decoded[:idx]
	}
	return decoded
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func text(n *html.Node) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if s := strings.TrimSpace(n.Data); s != "" {
				parts = append(parts, s)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(parts, " ")
}
