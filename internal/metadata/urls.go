package metadata

import (
	"fmt"
	"net/url"
	"strings"
)

// trackingParams are query parameters dropped during normalization.
var trackingParams = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
	"fbclid", "gclid", "msclkid",
	"ref", "source",
}

// NormalizeURL cleans a URL for deduplication:
// - lowercases scheme and host
// - strips a leading "www."
// - drops the fragment and tracking parameters
// - trims the trailing slash
func NormalizeURL(rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", err
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.TrimPrefix(strings.ToLower(parsed.Host), "www.")
	parsed.Fragment = ""
	parsed.RawFragment = ""

	if parsed.RawQuery != "" {
		q := parsed.Query()
		for _, param := range trackingParams {
			q.Del(param)
		}
		parsed.RawQuery = q.Encode()
	}

	parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	parsed.RawPath = ""

	return parsed.String(), nil
}

// DedupKey returns the normalized form of rawURL, or the trimmed raw string
// when it cannot be parsed.
func DedupKey(rawURL string) string {
	if normalized, err := NormalizeURL(rawURL); err == nil {
		return normalized
	}
	return strings.TrimSpace(rawURL)
}

// ExtractDomain returns the lowercase host of a URL without port and without a
// leading "www.". Other subdomains are preserved:
// "https://docs.example.com:8443/x" -> "docs.example.com".
func ExtractDomain(rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", err
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	return strings.TrimPrefix(host, "www."), nil
}
