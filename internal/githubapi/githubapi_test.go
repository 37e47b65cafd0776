package githubapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient("test-token")
	c.BaseURL = srv.URL
	c.PollInterval = 10 * time.Millisecond
	c.InitialGrace = 0
	c.ForkSettle = 0
	return c
}

func TestParseRepoURL(t *testing.T) {
	cases := []struct {
		in          string
		owner, repo string
		ok          bool
	}{
		{"https://github.com/acme/widget", "acme", "widget", true},
		{"https://github.com/acme/widget.git", "acme", "widget", true},
		{"https://github.com/acme/widget/", "acme", "widget", true},
		{"https://www.github.com/acme/widget", "acme", "widget", true},
		{"https://gitlab.com/acme/widget", "", "", false},
		{"not a url", "", "", false},
	}
	for _, tc := range cases {
		owner, repo, ok := ParseRepoURL(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.owner, owner, tc.in)
		assert.Equal(t, tc.repo, repo, tc.in)
	}
}

func TestEnsureForkOwnerKeepsOriginal(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"login": "acme"})
	})
	c := testClient(t, mux)

	url, err := c.EnsureFork(context.Background(), "https://github.com/acme/widget")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/widget", url)
}

func TestEnsureForkReusesExistingFork(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"login": "bot"})
	})
	mux.HandleFunc("/repos/bot/widget", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"archived": false, "clone_url": "https://github.com/bot/widget.git"})
	})
	c := testClient(t, mux)

	url, err := c.EnsureFork(context.Background(), "https://github.com/acme/widget")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/bot/widget.git", url)
}

func TestEnsureForkCreatesFork(t *testing.T) {
	forked := false
	mux := http.NewServeMux()
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"login": "bot"})
	})
	mux.HandleFunc("/repos/bot/widget", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/repos/acme/widget/forks", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		forked = true
		json.NewEncoder(w).Encode(map[string]any{"owner": map[string]string{"login": "bot"}})
	})
	c := testClient(t, mux)

	url, err := c.EnsureFork(context.Background(), "https://github.com/acme/widget")
	require.NoError(t, err)
	assert.True(t, forked)
	assert.Equal(t, "https://github.com/bot/widget.git", url)
}

func runsHandler(t *testing.T, pages ...[]map[string]any) http.Handler {
	call := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widget/actions/runs", func(w http.ResponseWriter, r *http.Request) {
		page := pages[call]
		if call < len(pages)-1 {
			call++
		}
		json.NewEncoder(w).Encode(map[string]any{"workflow_runs": page})
	})
	return mux
}

func TestWaitForWorkflowsSuccess(t *testing.T) {
	c := testClient(t, runsHandler(t,
		[]map[string]any{{"status": "in_progress", "conclusion": nil, "head_branch": "TEAM_AI_Fix"}},
		[]map[string]any{{"status": "completed", "conclusion": "success", "head_branch": "TEAM_AI_Fix"}},
	))

	res := c.WaitForWorkflows(context.Background(), "https://github.com/acme/widget", "TEAM_AI_Fix", 2*time.Second)
	assert.Equal(t, "success", res.Status)
}

func TestWaitForWorkflowsFailure(t *testing.T) {
	c := testClient(t, runsHandler(t,
		[]map[string]any{{"status": "completed", "conclusion": "failure", "head_branch": "TEAM_AI_Fix"}},
	))

	res := c.WaitForWorkflows(context.Background(), "https://github.com/acme/widget", "TEAM_AI_Fix", 2*time.Second)
	assert.Equal(t, "failure", res.Status)
}

func TestWaitForWorkflowsNoWorkflows(t *testing.T) {
	c := testClient(t, runsHandler(t, []map[string]any{}))

	res := c.WaitForWorkflows(context.Background(), "https://github.com/acme/widget", "TEAM_AI_Fix", 100*time.Millisecond)
	assert.Equal(t, "no_workflows", res.Status)
}

func TestWaitForWorkflowsIgnoresOtherBranches(t *testing.T) {
	c := testClient(t, runsHandler(t,
		[]map[string]any{{"status": "completed", "conclusion": "failure", "head_branch": "main"}},
	))

	res := c.WaitForWorkflows(context.Background(), "https://github.com/acme/widget", "TEAM_AI_Fix", 100*time.Millisecond)
	assert.Equal(t, "no_workflows", res.Status)
}

func TestWaitForWorkflowsTimeout(t *testing.T) {
	c := testClient(t, runsHandler(t,
		[]map[string]any{{"status": "in_progress", "conclusion": nil, "head_branch": "TEAM_AI_Fix"}},
	))

	res := c.WaitForWorkflows(context.Background(), "https://github.com/acme/widget", "TEAM_AI_Fix", 100*time.Millisecond)
	assert.Equal(t, "timeout", res.Status)
}
