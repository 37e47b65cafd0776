// Package heal drives the detect → classify → repair → validate → commit
// cycle until the tests pass, the loop converges, or the retry budget is
// spent. Two guarantees hold throughout: a site fixed once is never
// re-fixed in the same run, and an iteration that raises the failure
// count is rolled back to its snapshot.
package heal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"healbot/internal/classify"
	"healbot/internal/history"
	"healbot/internal/llm/ensemble"
	"healbot/internal/models"
	"healbot/internal/vcs"
)

// regressionJumpFactor: a pre-iteration failure count above this multiple
// of the previous count is treated as a latent regression.
const regressionJumpFactor = 1.5

type Options struct {
	RetryLimit   int
	WallClock    time.Duration
	CITimeout    time.Duration
	PollUpstream bool
}

type Loop struct {
	VCS     VCS
	Runner  Runner
	Fixer   Fixer
	Tools   Tools
	CI      CIPoller
	History HistorySink

	Opts Options

	// now is swappable for tests.
	now func() time.Time
}

func NewLoop(v VCS, r Runner, f Fixer, t Tools, opts Options) *Loop {
	if opts.RetryLimit <= 0 {
		opts.RetryLimit = 5
	}
	if opts.WallClock <= 0 {
		opts.WallClock = 15 * time.Minute
	}
	if opts.CITimeout <= 0 {
		opts.CITimeout = 300 * time.Second
	}
	return &Loop{VCS: v, Runner: r, Fixer: f, Tools: t, Opts: opts, now: time.Now}
}

// run-scoped mutable state.
type runState struct {
	report      *models.RunReport
	fixSites    map[models.FixSite]bool
	uniqueSeen  map[string]bool
	prevCounts  []int // failure counts observed before each iteration
	commitsMade int
	started     time.Time
}

// Run executes one healing run and always returns a report.
func (l *Loop) Run(ctx context.Context, req models.RunRequest) *models.RunReport {
	branch := vcs.BranchName(req.TeamName, req.TeamLeader)
	st := &runState{
		report: &models.RunReport{
			RepoURL:    req.RepoURL,
			TeamName:   req.TeamName,
			TeamLeader: req.TeamLeader,
			BranchName: branch,
			CIStatus:   models.CIFailed,
			RetryLimit: l.Opts.RetryLimit,
		},
		fixSites:   make(map[models.FixSite]bool),
		uniqueSeen: make(map[string]bool),
		started:    l.now(),
	}

	cctx, cancel := context.WithTimeout(ctx, l.Opts.WallClock)
	defer cancel()

	if err := l.VCS.CreateBranch(branch); err != nil {
		st.report.Error = fmt.Sprintf("create branch: %v", err)
		return l.finalize(st)
	}

	l.iterate(cctx, branch, st)
	return l.finalize(st)
}

func (l *Loop) iterate(ctx context.Context, branch string, st *runState) {
	for i := 1; i <= l.Opts.RetryLimit; i++ {
		if ctx.Err() != nil {
			st.report.Error = "wall-clock cap reached"
			return
		}

		failures, err := l.Runner.Run(ctx)
		if err != nil {
			st.report.Error = fmt.Sprintf("runner: %v", err)
			return
		}
		l.countUnique(st, failures)
		errorsBefore := len(failures)

		if errorsBefore == 0 {
			st.report.CIStatus = models.CIPassed
			l.appendIteration(st, models.Iteration{
				Iteration:     i,
				Status:        models.CIPassed,
				FailuresCount: 0,
				Decision:      models.DecisionPassed,
			})
			return
		}

		// Convergence: two consecutive iterations with the same
		// pre-fix count means the run is stuck.
		n := len(st.prevCounts)
		if n >= 2 && st.prevCounts[n-1] == errorsBefore && st.prevCounts[n-2] == errorsBefore {
			l.appendIteration(st, models.Iteration{
				Iteration:     i,
				Status:        models.CIFailed,
				FailuresCount: errorsBefore,
				Decision:      models.DecisionStuck,
				Reason:        "convergence_stuck",
			})
			return
		}

		// A sharp jump means the previous iteration regressed in a way
		// its own post-check missed; undo it and re-observe.
		if n >= 1 && float64(errorsBefore) > regressionJumpFactor*float64(st.prevCounts[n-1]) {
			if prev := l.lastSnapshot(st); prev != "" {
				if err := l.VCS.ResetTo(prev); err != nil {
					log.Printf("heal: latent-regression reset failed: %v", err)
				} else {
					st.report.RegressionsPrevented++
					l.markLastRolledBack(st, "latent_regression")
					st.prevCounts = append(st.prevCounts, errorsBefore)
					continue
				}
			}
		}
		st.prevCounts = append(st.prevCounts, errorsBefore)

		snapshot, err := l.VCS.Snapshot()
		if err != nil {
			st.report.Error = fmt.Sprintf("snapshot: %v", err)
			return
		}

		iter := models.Iteration{
			Iteration:     i,
			Status:        models.CIFailed,
			FailuresCount: errorsBefore,
			Snapshot:      snapshot,
		}

		classify.SortBySeverity(failures)
		applied, records, lockedSites := l.fixAll(ctx, failures, st)
		fixCount := len(st.report.Fixes)
		st.report.Fixes = append(st.report.Fixes, records...)

		if applied > 0 {
			msg := l.commitMessage(records)
			if _, err := l.VCS.CommitAll(msg); err != nil {
				log.Printf("heal: commit failed: %v", err)
			} else {
				st.commitsMade++
				if err := l.VCS.Push(ctx, branch); err != nil {
					// Push rejection (after the fork fallback) is terminal.
					st.report.Error = err.Error()
					iter.Decision = models.DecisionApplied
					l.appendIteration(st, iter)
					return
				}
			}
		}

		failuresAfter, err := l.Runner.Run(ctx)
		if err != nil {
			st.report.Error = fmt.Sprintf("runner: %v", err)
			l.appendIteration(st, iter)
			return
		}
		l.countUnique(st, failuresAfter)
		iter.FailuresAfter = len(failuresAfter)

		if applied > 0 && len(failuresAfter) > errorsBefore {
			// Non-regression guarantee: drop the whole iteration.
			if err := l.VCS.ResetTo(snapshot); err != nil {
				log.Printf("heal: rollback failed: %v", err)
			} else {
				st.report.RegressionsPrevented++
				if st.commitsMade > 0 {
					st.commitsMade--
				}
				iter.Decision = models.DecisionRolledBack
				iter.Reason = "patch_introduced_regression"
				st.report.Fixes = st.report.Fixes[:fixCount]
				st.report.TotalFixesApplied -= len(lockedSites)
				for _, site := range lockedSites {
					delete(st.fixSites, site)
				}
				l.appendIteration(st, iter)
				continue
			}
		}

		iter.Decision = models.DecisionApplied
		if len(failuresAfter) == 0 {
			iter.Status = models.CIPassed
		}
		l.appendIteration(st, iter)

		if applied > 0 && l.CI != nil && l.Opts.PollUpstream {
			res := l.CI.WaitForWorkflows(ctx, st.report.RepoURL, branch, l.Opts.CITimeout)
			st.report.GithubCI = &models.GithubCI{Status: res.Status, Message: res.Message}
			if res.Status == "success" {
				st.report.CIStatus = models.CIPassed
				return
			}
		}
	}

	// Budget exhausted; one last observation decides the verdict.
	failures, err := l.Runner.Run(ctx)
	if err == nil {
		l.countUnique(st, failures)
		if len(failures) == 0 {
			st.report.CIStatus = models.CIPassed
		}
	}
}

// fixAll walks the sorted failures, locking each accepted site, batching
// same-file failures into one attempt.
func (l *Loop) fixAll(ctx context.Context, failures []models.Failure, st *runState) (int, []models.FixRecord, []models.FixSite) {
	byFile := make(map[string][]models.Failure)
	var fileOrder []string
	for _, f := range failures {
		if st.fixSites[f.Site()] {
			continue
		}
		if _, ok := byFile[f.File]; !ok {
			fileOrder = append(fileOrder, f.File)
		}
		byFile[f.File] = append(byFile[f.File], f)
	}

	applied := 0
	var records []models.FixRecord
	var locked []models.FixSite
	for _, file := range fileOrder {
		group := byFile[file]
		rec := l.fixFile(ctx, file, group, st)
		records = append(records, rec)
		if rec.Status == models.FixStatusFixed {
			applied++
			for _, f := range group {
				st.fixSites[f.Site()] = true
				locked = append(locked, f.Site())
			}
			st.report.TotalFixesApplied += len(group)
		}
	}
	return applied, records, locked
}

// fixFile repairs every failure recorded against one file: tools first,
// then the ensemble.
func (l *Loop) fixFile(ctx context.Context, file string, group []models.Failure, st *runState) models.FixRecord {
	lead := group[0]
	allLines := linesOf(group)
	rec := models.FixRecord{
		File:          file,
		BugType:       lead.Type,
		Line:          lead.Line,
		AllLines:      allLines,
		ErrorMessage:  lead.Message,
		ProvidersUsed: []string{},
		Status:        models.FixStatusFailed,
		Debug:         map[string]any{},
	}

	outcome, err := l.Tools.Apply(ctx, l.VCS.Dir(), file, lead.Language, lead.Type)
	if err != nil {
		rec.Debug["tool_error"] = err.Error()
	}
	if outcome.Applied {
		rec.Status = models.FixStatusFixed
		rec.Origin = outcome.Tool
		rec.CommitMessage = commitMessageFor(lead)
		rec.Debug["strategy"] = "auto-format-" + outcome.Tool
		l.record(lead, "", models.FixStatusFixed)
		return rec
	}

	content, err := os.ReadFile(filepath.Join(l.VCS.Dir(), file))
	if err != nil {
		rec.Debug["exception"] = err.Error()
		return rec
	}

	result, err := l.Fixer.GenerateFix(ctx, ensemble.Request{
		File:            file,
		Language:        lead.Language,
		Content:         string(content),
		Bug:             lead.Type,
		Failures:        group,
		ToolDiagnostics: outcome.Diagnostics,
	})
	if err != nil {
		rec.Debug["exception"] = err.Error()
		if errors.Is(err, ensemble.ErrAllInvalid) {
			rec.Debug["strategy"] = "ensemble_validation_exhausted"
		}
		l.record(lead, "", models.FixStatusFailed)
		return rec
	}

	if err := os.WriteFile(filepath.Join(l.VCS.Dir(), file), []byte(result.Content), 0o644); err != nil {
		rec.Debug["exception"] = err.Error()
		return rec
	}

	rec.Status = models.FixStatusFixed
	rec.Origin = "ensemble"
	rec.ProvidersUsed = result.Providers
	rec.RawResponses = summarizeRaw(result.Raw)
	rec.CommitMessage = commitMessageFor(lead)
	l.record(lead, result.Content, models.FixStatusFixed)
	return rec
}

func (l *Loop) record(f models.Failure, fix, status string) {
	if l.History == nil {
		return
	}
	if err := l.History.Add(history.Entry{
		Type:    f.Type,
		Message: f.Message,
		Fix:     fix,
		Status:  status,
	}); err != nil {
		log.Printf("heal: history append failed: %v", err)
	}
}

func (l *Loop) commitMessage(records []models.FixRecord) string {
	for _, r := range records {
		if r.Status == models.FixStatusFixed {
			return r.CommitMessage
		}
	}
	return vcs.CommitPrefix + "apply fixes"
}

func (l *Loop) appendIteration(st *runState, it models.Iteration) {
	it.Timestamp = l.now().UTC().Format(time.RFC3339)
	st.report.Timeline = append(st.report.Timeline, it)
}

func (l *Loop) lastSnapshot(st *runState) string {
	for i := len(st.report.Timeline) - 1; i >= 0; i-- {
		if s := st.report.Timeline[i].Snapshot; s != "" {
			return s
		}
	}
	return ""
}

func (l *Loop) markLastRolledBack(st *runState, reason string) {
	if len(st.report.Timeline) == 0 {
		return
	}
	last := &st.report.Timeline[len(st.report.Timeline)-1]
	last.Decision = models.DecisionRolledBack
	last.Reason = reason
}

func (l *Loop) countUnique(st *runState, failures []models.Failure) {
	for _, f := range failures {
		key := fmt.Sprintf("%s:%d:%s", f.File, f.Line, f.Type)
		if !st.uniqueSeen[key] {
			st.uniqueSeen[key] = true
			st.report.TotalFailuresDetected++
		}
	}
}

func commitMessageFor(f models.Failure) string {
	desc := ensemble.FixDescription(f.Type, f.Message)
	if f.Line > 0 {
		return fmt.Sprintf("%s%s error in %s line %d → Fix: %s", vcs.CommitPrefix, f.Type, f.File, f.Line, desc)
	}
	return fmt.Sprintf("%s%s error in %s → Fix: %s", vcs.CommitPrefix, f.Type, f.File, desc)
}

func linesOf(group []models.Failure) []int {
	seen := make(map[int]bool)
	var out []int
	for _, f := range group {
		if f.Line > 0 && !seen[f.Line] {
			seen[f.Line] = true
			out = append(out, f.Line)
		}
		for _, n := range f.AllLines {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	if len(out) <= 1 {
		return nil
	}
	sort.Ints(out)
	return out
}

func summarizeRaw(raw map[string]string) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if len(v) > 200 {
			v = v[:200] + "..."
		}
		out[k] = v
	}
	return out
}
