package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/research/internal/interceptors"
	"github.com/Kocoro-lab/Shannon/go/research/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/research/internal/ratecontrol"
	"github.com/Kocoro-lab/Shannon/go/research/internal/research"
	"github.com/Kocoro-lab/Shannon/go/research/internal/tracing"
)

const maxErrorBody = 512

// Config selects the search backend.
type Config struct {
	Provider string        `mapstructure:"provider"`
	Endpoint string        `mapstructure:"endpoint"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type searchRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type searchResponse struct {
	Results []research.SearchResult `json:"results"`
}

// Client is a research.SearchProvider backed by a JSON search API:
// POST {query, max_results} and receive {results: [{title, url, snippet}]}.
type Client struct {
	provider string
	endpoint string
	apiKey   string
	http     *circuitbreaker.HTTPWrapper
	pacer    *ratecontrol.Pacer
	logger   *zap.Logger
}

// NewClient builds a client. pacer may be nil to disable pacing.
func NewClient(cfg Config, pacer *ratecontrol.Pacer, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	provider := cfg.Provider
	if provider == "" {
		provider = "http"
	}
	httpClient := &http.Client{Timeout: cfg.Timeout, Transport: interceptors.NewWorkflowRoundTripper(nil)}
	return &Client{
		provider: provider,
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		http:     circuitbreaker.NewHTTPWrapper(httpClient, "search-"+provider, "search", circuitbreaker.GetSearchConfig(), logger),
		pacer:    pacer,
		logger:   logger,
	}
}

// Name returns the provider label used in metrics and errors.
func (c *Client) Name() string { return c.provider }

// Search implements research.SearchProvider.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]research.SearchResult, error) {
	results, err := c.search(ctx, query, maxResults)
	if err != nil {
		metrics.SearchRequests.WithLabelValues(c.provider, "error").Inc()
		return nil, err
	}
	metrics.SearchRequests.WithLabelValues(c.provider, "success").Inc()
	return results, nil
}

func (c *Client) search(ctx context.Context, query string, maxResults int) ([]research.SearchResult, error) {
	if c.pacer != nil {
		if err := c.pacer.WaitProvider(ctx, c.provider); err != nil {
			return nil, c.fail(query, "rate limit wait", err)
		}
	}

	body, err := json.Marshal(searchRequest{Query: query, MaxResults: maxResults})
	if err != nil {
		return nil, c.fail(query, "encode request", err)
	}

	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, c.endpoint)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, c.fail(query, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.fail(query, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, c.fail(query, fmt.Sprintf("returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))), nil)
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, c.fail(query, "decode response", err)
	}

	out := make([]research.SearchResult, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		if maxResults > 0 && len(out) >= maxResults {
			break
		}
		out = append(out, r)
	}
	return out, nil
}

func (c *Client) fail(query, message string, err error) error {
	return &research.ProviderError{Provider: c.provider, Query: query, Message: message, Err: err}
}
