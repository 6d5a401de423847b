package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/Kocoro-lab/Shannon/go/research/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/research/internal/ratecontrol"
	"github.com/Kocoro-lab/Shannon/go/research/internal/tracing"
)

const (
	defaultUserAgent = "Mozilla/5.0 (compatible; ResearchOrchestrator/1.0)"
	defaultMaxBody   = 2 << 20
	maxDepth         = 50
)

var (
	multiNewlinePattern = regexp.MustCompile(`\n{3,}`)
	multiSpacePattern   = regexp.MustCompile(`[ \t]{2,}`)
)

// Config tunes outbound page retrieval.
type Config struct {
	UserAgent string        `mapstructure:"user_agent"`
	MaxBody   int64         `mapstructure:"max_body"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// Fetcher is a research.ContentFetcher that downloads a page and reduces it
// to readable markdown-flavoured text.
type Fetcher struct {
	userAgent string
	maxBody   int64
	http      *circuitbreaker.HostHTTPWrapper
	pacer     *ratecontrol.Pacer
	logger    *zap.Logger
}

// NewFetcher builds a fetcher. pacer may be nil.
func NewFetcher(cfg Config, pacer *ratecontrol.Pacer, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = defaultMaxBody
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := &http.Client{Timeout: cfg.Timeout}
	return &Fetcher{
		userAgent: cfg.UserAgent,
		maxBody:   cfg.MaxBody,
		http:      circuitbreaker.NewHostHTTPWrapper(client, "fetch", "fetch", circuitbreaker.GetFetchConfig(), logger),
		pacer:     pacer,
		logger:    logger,
	}
}

// FetchContent implements research.ContentFetcher. Unsupported content types
// yield an empty string and a nil error.
func (f *Fetcher) FetchContent(ctx context.Context, rawURL string, maxChars int) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid url %q", rawURL)
	}
	if f.pacer != nil {
		if err := f.pacer.WaitHost(ctx, u.Hostname()); err != nil {
			return "", err
		}
	}

	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodGet, rawURL)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")
	tracing.InjectTraceparent(ctx, req)

	resp, err := f.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var text string
	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	switch {
	case strings.Contains(contentType, "text/plain"), strings.Contains(contentType, "text/markdown"):
		text = strings.TrimSpace(string(body))
	case contentType == "", strings.Contains(contentType, "html"):
		text, err = HTMLToText(string(body))
		if err != nil {
			return "", fmt.Errorf("failed to extract text: %w", err)
		}
	default:
		f.logger.Debug("Skipping unsupported content type",
			zap.String("url", rawURL),
			zap.String("content_type", contentType),
		)
		return "", nil
	}

	return truncate(text, maxChars), nil
}

// HTMLToText reduces an HTML document to headings, paragraphs and list
// items. Scripts, styles and page chrome are dropped.
func HTMLToText(document string) (string, error) {
	doc, err := html.Parse(strings.NewReader(document))
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	extractText(doc, &sb, 0)
	return cleanText(sb.String()), nil
}

func extractText(n *html.Node, sb *strings.Builder, depth int) {
	if depth > maxDepth {
		return
	}

	switch n.Type {
	case html.TextNode:
		if text := strings.TrimSpace(n.Data); text != "" {
			sb.WriteString(text)
			sb.WriteString(" ")
		}
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg", "nav", "footer", "header", "form":
			return
		case "title":
			sb.WriteString("# ")
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				extractText(c, sb, depth+1)
			}
			sb.WriteString("\n\n")
			return
		case "h1", "h2", "h3", "h4", "h5", "h6":
			level := int(n.Data[1] - '0')
			sb.WriteString("\n\n" + strings.Repeat("#", level) + " ")
		case "p", "div", "section", "article", "blockquote", "table", "tr":
			sb.WriteString("\n\n")
		case "br":
			sb.WriteString("\n")
		case "li":
			sb.WriteString("\n- ")
		case "pre":
			sb.WriteString("\n\n")
		case "img":
			if alt := attr(n, "alt"); alt != "" {
				fmt.Fprintf(sb, "[Image: %s]", alt)
			}
			return
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, sb, depth+1)
	}

	if n.Type == html.ElementNode {
		switch n.Data {
		case "h1", "h2", "h3", "h4", "h5", "h6", "pre":
			sb.WriteString("\n\n")
		}
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func cleanText(s string) string {
	s = multiSpacePattern.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = multiNewlinePattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func truncate(s string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	return string([]rune(s)[:maxChars])
}
