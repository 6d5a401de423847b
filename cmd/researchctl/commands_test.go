package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Kocoro-lab/Shannon/go/research/internal/auth"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestPlanCommand(t *testing.T) {
	out, _, err := execute(t, "plan", "--topic", "solid state batteries", "--depth", "basic")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "Depth basic")
	assert.Contains(t, lines[0], "up to 2 iterations")
	assert.Equal(t, " 1. solid state batteries overview definition", lines[1])
	assert.Equal(t, " 2. solid state batteries current state developments", lines[2])
}

func TestPlanCommand_RejectsUnknownDepth(t *testing.T) {
	_, _, err := execute(t, "plan", "--topic", "x", "--depth", "exhaustive")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown depth")
}

func TestAssessCommand(t *testing.T) {
	out, _, err := execute(t, "assess", "https://arxiv.org/abs/2401.00001", "https://example.com/page")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"SCORE", "TIER", "URL"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"10", "primary", "https://arxiv.org/abs/2401.00001"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"5", "general", "https://example.com/page"}, strings.Fields(lines[2]))
}

func TestAssessCommand_RequiresURL(t *testing.T) {
	_, _, err := execute(t, "assess")
	assert.Error(t, err)
}

func TestAssessCommand_MissingTable(t *testing.T) {
	_, _, err := execute(t, "assess", "--table", filepath.Join(t.TempDir(), "nope.yaml"), "https://example.com")
	assert.Error(t, err)
}

func TestHashKeyCommand(t *testing.T) {
	key := "rk_0123456789abcdef"
	out, _, err := execute(t, "hash-key", key)
	require.NoError(t, err)

	hash := strings.TrimSpace(out)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)))

	_, _, err = execute(t, "hash-key", "short")
	assert.Error(t, err)
}

func TestTokenCommand(t *testing.T) {
	out, _, err := execute(t, "token", "--secret", "s3cret", "--client", "ci", "--scopes", auth.ScopeResearchRead)
	require.NoError(t, err)

	client, err := auth.NewJWTManager("s3cret", 0).ValidateAccessToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "ci", client.ClientID)
	assert.Equal(t, []string{auth.ScopeResearchRead}, client.Scopes)
}

func TestTokenCommand_RequiresSecret(t *testing.T) {
	t.Setenv("RESEARCH_AUTH_JWT_SECRET", "")
	_, _, err := execute(t, "token")
	assert.Error(t, err)
}

func TestRunCommand_Validation(t *testing.T) {
	_, _, err := execute(t, "run", "--depth", "basic")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--topic")

	_, _, err = execute(t, "run", "--topic", "x", "--depth", "deep")
	assert.Error(t, err)
}

// searchBackend serves the JSON search API and the pages it links to.
func searchBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("POST /search", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query string `json:"query"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		slug := strings.ReplaceAll(req.Query, " ", "-")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"results":[{"title":%q,"url":"%s/pages/%s","snippet":"about %s"}]}`,
			req.Query, srv.URL, slug, req.Query)
	})
	mux.HandleFunc("GET /pages/{slug}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		body := strings.Repeat("Tidal energy converts the rise and fall of the sea into electricity. ", 20)
		fmt.Fprintf(w, "<html><head><title>%s</title></head><body><p>%s</p></body></html>", r.PathValue("slug"), body)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, endpoint string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "research.yaml")
	cfg := fmt.Sprintf(`
search:
  provider: http
  endpoint: %s/search
  api_key: test-key
research:
  inter_batch_delay: 0s
rate_limits:
  default: {rpm: 60000, burst: 100}
  host_default: {rpm: 60000, burst: 100}
`, endpoint)
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func TestRunCommand_WritesReport(t *testing.T) {
	srv := searchBackend(t)
	configPath := writeConfig(t, srv.URL)
	outPath := filepath.Join(t.TempDir(), "report.md")

	out, progress, err := execute(t, "run", "--config", configPath, "--topic", "tidal energy", "--depth", "basic", "-o", outPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Report written to "+outPath)
	assert.Contains(t, progress, "[SESSION_STARTED]")
	assert.Contains(t, progress, "[SESSION_COMPLETED]")

	report, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Contains(t, string(report), "# Research Report: tidal energy")
	assert.Contains(t, string(report), srv.URL+"/pages/")
}
