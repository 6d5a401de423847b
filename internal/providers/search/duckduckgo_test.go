package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const resultPage = `<html><body>
<div class="results">
  <div class="result results_links results_links_deep web-result">
    <h2><a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fen.wikipedia.org%2Fwiki%2FBattery&amp;rut=abc">Battery - <b>Wikipedia</b></a></h2>
    <a class="result__snippet" href="#">An electric <b>battery</b> is a source.</a>
  </div>
  <div class="result results_links web-result">
    <h2><a class="result__a" href="https://www.nature.com/articles/x">Nature article</a></h2>
  </div>
  <div class="result results_links web-result">
    <h2><a class="result__a" href="">No link</a></h2>
  </div>
  <div class="result results_links web-result">
    <h2><a class="result__a" href="https://third.example.org/">Third</a></h2>
  </div>
</div>
</body></html>`

func TestParseResults(t *testing.T) {
	results, err := parseResults(resultPage, 10)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "https://en.wikipedia.org/wiki/Battery", results[0].URL)
	assert.Equal(t, "Battery - Wikipedia", results[0].Title)
	assert.Equal(t, "An electric battery is a source.", results[0].Snippet)
	assert.Equal(t, "https://www.nature.com/articles/x", results[1].URL)
	assert.Equal(t, "https://third.example.org/", results[2].URL)

	limited, err := parseResults(resultPage, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestUnwrapRedirect(t *testing.T) {
	assert.Equal(t, "https://a.org/x", unwrapRedirect("//duckduckgo.com/l/?uddg=https%3A%2F%2Fa.org%2Fx&rut=1"))
	assert.Equal(t, "https://b.org", unwrapRedirect("https://b.org"))
}

func TestDuckDuckGo_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "battery chemistry", r.URL.Query().Get("q"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(resultPage))
	}))
	defer srv.Close()

	d := NewDuckDuckGo(srv.URL+"/html/", "", nil, zaptest.NewLogger(t))
	results, err := d.Search(context.Background(), "battery chemistry", 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestDuckDuckGo_NonOKIsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	d := NewDuckDuckGo(srv.URL, "", nil, zaptest.NewLogger(t))
	_, err := d.Search(context.Background(), "q", 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duckduckgo")
}
