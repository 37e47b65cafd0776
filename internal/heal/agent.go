package heal

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"healbot/internal/githubapi"
	"healbot/internal/history"
	"healbot/internal/llm/ensemble"
	"healbot/internal/llm/providers"
	"healbot/internal/models"
	"healbot/internal/runner"
	"healbot/internal/toolchain"
	"healbot/internal/validate"
	"healbot/internal/vcs"
)

// Agent owns the per-run lifecycle: workspace creation, clone, the
// healing loop, and teardown. One RunReport comes out of every call.
type Agent struct {
	Workspace string
	Token     string
	Registry  *providers.Registry
	History   *history.Store
	GitHub    *githubapi.Client
	Opts      Options
}

func NewAgent(workspace, token string, registry *providers.Registry, hist *history.Store, opts Options) *Agent {
	if opts.RetryLimit <= 0 {
		opts.RetryLimit = 5
	}
	if opts.WallClock <= 0 {
		opts.WallClock = 15 * time.Minute
	}
	if opts.CITimeout <= 0 {
		opts.CITimeout = 300 * time.Second
	}
	a := &Agent{
		Workspace: workspace,
		Token:     token,
		Registry:  registry,
		History:   hist,
		Opts:      opts,
	}
	if token != "" {
		a.GitHub = githubapi.NewClient(token)
		a.Opts.PollUpstream = true
	}
	return a
}

// Heal runs the full pipeline for one request. The cloned working tree
// is torn down before returning; only the report and the error-history
// log survive.
func (a *Agent) Heal(ctx context.Context, req models.RunRequest) *models.RunReport {
	if req.Token == "" {
		req.Token = a.Token
	}

	dir, err := a.workdir(req.RepoURL)
	if err != nil {
		return a.failedReport(req, fmt.Sprintf("workspace: %v", err))
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			log.Printf("heal: workspace teardown failed: %v", rmErr)
		}
	}()

	adapter, err := vcs.Clone(ctx, req.RepoURL, dir, req.Token)
	if err != nil {
		return a.failedReport(req, err.Error())
	}
	if a.GitHub != nil {
		adapter.Forker = a.GitHub
	}

	validator := validate.New()
	tools := toolchain.NewRunner(validator)
	engine := ensemble.NewEngine(a.Registry, a.Registry, a.History, func(ctx context.Context, relPath string, contents []byte) error {
		return validator.Check(ctx, relPath, contents)
	})
	engine.Deadline = a.Registry.Timeout

	loop := NewLoop(adapter, runner.New(dir), engine, tools, a.Opts)
	loop.History = a.History
	if a.GitHub != nil {
		loop.CI = a.GitHub
	}

	return loop.Run(ctx, req)
}

func (a *Agent) workdir(repoURL string) (string, error) {
	if err := os.MkdirAll(a.Workspace, 0o755); err != nil {
		return "", err
	}
	name := strings.TrimSuffix(filepath.Base(strings.TrimSuffix(repoURL, "/")), ".git")
	if name == "" || name == "." {
		name = "repo"
	}
	dir := filepath.Join(a.Workspace, fmt.Sprintf("%s-%s", name, uuid.NewString()[:8]))
	return dir, nil
}

func (a *Agent) failedReport(req models.RunRequest, msg string) *models.RunReport {
	return &models.RunReport{
		RepoURL:    req.RepoURL,
		TeamName:   req.TeamName,
		TeamLeader: req.TeamLeader,
		BranchName: vcs.BranchName(req.TeamName, req.TeamLeader),
		CIStatus:   models.CIFailed,
		RetryLimit: a.Opts.RetryLimit,
		Error:      msg,
		Score:      ComputeScore(time.Hour, 0),
		Fixes:      []models.FixRecord{},
		Timeline:   []models.Iteration{},
	}
}
