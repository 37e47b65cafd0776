// Package githubapi talks to the GitHub REST API for the two things the
// agent needs from a hosting provider: forking a repository it cannot
// push to, and polling Actions runs after a push.
package githubapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.github.com"

var repoURLRe = regexp.MustCompile(`^https?://(?:www\.)?github\.com/([^/]+)/([^/]+?)(?:\.git)?/?$`)

// ParseRepoURL extracts (owner, repo) from a GitHub clone URL.
func ParseRepoURL(repoURL string) (string, string, bool) {
	m := repoURLRe.FindStringSubmatch(strings.TrimSpace(repoURL))
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client

	// PollInterval between Actions queries; the initial grace sleep
	// gives workflows time to appear after a push. ForkSettle is the
	// wait for a freshly created fork to materialize.
	PollInterval time.Duration
	InitialGrace time.Duration
	ForkSettle   time.Duration
}

func NewClient(token string) *Client {
	return &Client{
		BaseURL:      defaultBaseURL,
		Token:        token,
		HTTP:         &http.Client{Timeout: 15 * time.Second},
		PollInterval: 10 * time.Second,
		InitialGrace: 5 * time.Second,
		ForkSettle:   3 * time.Second,
	}
}

// CIResult is the outcome of waiting for workflow runs.
type CIResult struct {
	Status     string `json:"status"` // success | failure | timeout | no_workflows | error
	Conclusion string `json:"conclusion,omitempty"`
	Message    string `json:"message"`
}

type workflowRun struct {
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
	HeadBranch string `json:"head_branch"`
}

type workflowRunsPage struct {
	WorkflowRuns []workflowRun `json:"workflow_runs"`
}

// AuthenticatedUser returns the token owner's login.
func (c *Client) AuthenticatedUser(ctx context.Context) (string, error) {
	var user struct {
		Login string `json:"login"`
	}
	if err := c.get(ctx, "/user", &user); err != nil {
		return "", err
	}
	if user.Login == "" {
		return "", errors.New("github: empty login")
	}
	return user.Login, nil
}

// EnsureFork returns a pushable clone URL for repoURL: the original when
// the token owner already owns it, an existing fork when one is present,
// or a freshly created fork otherwise.
func (c *Client) EnsureFork(ctx context.Context, repoURL string) (string, error) {
	owner, repo, ok := ParseRepoURL(repoURL)
	if !ok {
		return "", fmt.Errorf("github: cannot parse repo url %q", repoURL)
	}
	user, err := c.AuthenticatedUser(ctx)
	if err != nil {
		return "", err
	}
	if strings.EqualFold(owner, user) {
		return repoURL, nil
	}

	var existing struct {
		Archived bool   `json:"archived"`
		CloneURL string `json:"clone_url"`
	}
	if err := c.get(ctx, fmt.Sprintf("/repos/%s/%s", user, repo), &existing); err == nil && !existing.Archived {
		return fmt.Sprintf("https://github.com/%s/%s.git", user, repo), nil
	}

	var created struct {
		Owner struct {
			Login string `json:"login"`
		} `json:"owner"`
	}
	if err := c.post(ctx, fmt.Sprintf("/repos/%s/%s/forks", owner, repo), &created); err != nil {
		return "", fmt.Errorf("github: create fork: %w", err)
	}
	forkOwner := created.Owner.Login
	if forkOwner == "" {
		forkOwner = user
	}
	// Forks materialize asynchronously; give GitHub a moment.
	if !c.sleep(ctx, c.ForkSettle) {
		return "", ctx.Err()
	}
	return fmt.Sprintf("https://github.com/%s/%s.git", forkOwner, repo), nil
}

// WaitForWorkflows polls Actions runs for the pushed branch until they
// all complete or the timeout elapses.
func (c *Client) WaitForWorkflows(ctx context.Context, repoURL, branch string, timeout time.Duration) *CIResult {
	owner, repo, ok := ParseRepoURL(repoURL)
	if !ok {
		return &CIResult{Status: "error", Message: "invalid GitHub URL"}
	}
	path := fmt.Sprintf("/repos/%s/%s/actions/runs?branch=%s&per_page=10&event=push",
		owner, repo, url.QueryEscape(branch))

	deadline := time.Now().Add(timeout)
	if !c.sleep(ctx, c.InitialGrace) {
		return &CIResult{Status: "error", Message: "cancelled"}
	}

	sawRuns := false
	for time.Now().Before(deadline) {
		var page workflowRunsPage
		if err := c.get(ctx, path, &page); err != nil {
			if ctx.Err() != nil {
				return &CIResult{Status: "error", Message: "cancelled"}
			}
			log.Printf("githubapi: poll failed: %v", err)
			if !c.sleep(ctx, c.PollInterval) {
				return &CIResult{Status: "error", Message: "cancelled"}
			}
			continue
		}

		var runs []workflowRun
		for _, r := range page.WorkflowRuns {
			if r.HeadBranch == branch {
				runs = append(runs, r)
			}
		}
		if len(runs) == 0 {
			if !c.sleep(ctx, c.PollInterval) {
				return &CIResult{Status: "error", Message: "cancelled"}
			}
			continue
		}
		sawRuns = true

		allCompleted := true
		anyFailure := false
		for _, r := range runs {
			switch r.Status {
			case "queued", "in_progress", "pending", "waiting", "requested":
				allCompleted = false
			}
			switch r.Conclusion {
			case "failure", "cancelled", "timed_out":
				anyFailure = true
			}
		}
		if allCompleted {
			conclusion := "success"
			if anyFailure {
				conclusion = "failure"
			}
			return &CIResult{
				Status:     conclusion,
				Conclusion: conclusion,
				Message:    fmt.Sprintf("%d workflow(s) completed", len(runs)),
			}
		}
		if !c.sleep(ctx, c.PollInterval) {
			return &CIResult{Status: "error", Message: "cancelled"}
		}
	}

	if sawRuns {
		return &CIResult{Status: "timeout", Message: "timeout waiting for workflows"}
	}
	return &CIResult{Status: "no_workflows", Message: "no workflow runs found"}
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, out)
}

func (c *Client) post(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodPost, path, out)
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("github: %s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
