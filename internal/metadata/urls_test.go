package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://WWW.Example.com/Path/", "https://example.com/Path"},
		{"https://example.com/a#section", "https://example.com/a"},
		{"https://example.com/a?utm_source=x&id=7", "https://example.com/a?id=7"},
		{"https://example.com/?fbclid=abc", "https://example.com"},
		{"HTTP://example.com", "http://example.com"},
	}
	for _, tt := range tests {
		got, err := NormalizeURL(tt.in)
		if assert.NoError(t, err, tt.in) {
			assert.Equal(t, tt.want, got, tt.in)
		}
	}

	_, err := NormalizeURL("relative/path")
	assert.Error(t, err)
}

func TestDedupKey(t *testing.T) {
	assert.Equal(t, DedupKey("https://www.example.com/a/"), DedupKey("https://example.com/a"))
	assert.Equal(t, "no-host", DedupKey("  no-host "))
}

func TestExtractDomain(t *testing.T) {
	tests := map[string]string{
		"https://www.example.com/x":        "example.com",
		"https://docs.example.com:8443/x":  "docs.example.com",
		"http://API.Example.COM":           "api.example.com",
	}
	for in, want := range tests {
		got, err := ExtractDomain(in)
		assert.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ExtractDomain("::bad")
	assert.Error(t, err)
	_, err = ExtractDomain("plain words")
	assert.Error(t, err)
}
