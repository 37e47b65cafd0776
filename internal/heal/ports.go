package heal

import (
	"context"
	"time"

	"healbot/internal/githubapi"
	"healbot/internal/history"
	"healbot/internal/llm/ensemble"
	"healbot/internal/models"
	"healbot/internal/toolchain"
)

// VCS is the git surface the loop drives.
type VCS interface {
	Dir() string
	Snapshot() (string, error)
	ResetTo(hash string) error
	CommitAll(message string) (string, error)
	CreateBranch(name string) error
	Push(ctx context.Context, branch string) error
}

// Runner produces the current failure list for the working tree.
type Runner interface {
	Run(ctx context.Context) ([]models.Failure, error)
}

// Fixer is the ensemble behind the tool-first layer.
type Fixer interface {
	GenerateFix(ctx context.Context, req ensemble.Request) (*ensemble.Result, error)
}

// Tools is the deterministic auto-fix layer consulted before the Fixer.
type Tools interface {
	Apply(ctx context.Context, repoRoot, relPath, language string, bug models.BugType) (toolchain.Outcome, error)
}

// CIPoller watches upstream CI after a push; optional.
type CIPoller interface {
	WaitForWorkflows(ctx context.Context, repoURL, branch string, timeout time.Duration) *githubapi.CIResult
}

// HistorySink records fix outcomes for future few-shot context.
type HistorySink interface {
	Add(e history.Entry) error
}
