// Package ensemble fans one fix request out to W (provider, model) pairs
// in parallel and reconciles the responses into a single winning patch.
package ensemble

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"healbot/internal/llm/providers"
	"healbot/internal/models"
)

// Client sends one prompt to one named provider+model within a deadline.
type Client interface {
	Complete(ctx context.Context, provider, model, system, user string) (string, error)
}

// Selector yields the candidate list for a bug type.
type Selector interface {
	SelectForBug(bug models.BugType) []providers.Candidate
}

// History supplies few-shot context from past fixes.
type History interface {
	FewShot(bug models.BugType, limit int) (string, error)
}

// ValidateFunc checks proposed contents for a file; nil error accepts.
type ValidateFunc func(ctx context.Context, relPath string, contents []byte) error

// Request is one fix attempt: the full current contents of a failing
// file plus every failure recorded against it.
type Request struct {
	File            string
	Language        string
	Content         string
	Bug             models.BugType
	Failures        []models.Failure
	ToolDiagnostics string
}

// Result is the winning patch.
type Result struct {
	Content   string
	Providers []string
	Raw       map[string]string
}

var (
	// ErrNoResponses: every provider errored, timed out, or returned
	// empty output.
	ErrNoResponses = errors.New("ensemble: no provider produced a response")
	// ErrAllInvalid: responses arrived but none survived validation,
	// even after self-repair.
	ErrAllInvalid = errors.New("ensemble: no response passed validation")
	// ErrNoCandidates: the selector yielded nothing for this bug type.
	ErrNoCandidates = errors.New("ensemble: no candidates for bug type")
)

const fewShotLimit = 5

type Engine struct {
	Client   Client
	Selector Selector
	History  History
	Validate ValidateFunc

	// Deadline is the shared budget for one fan-out.
	Deadline time.Duration
	// RepairRounds bounds the self-repair loop.
	RepairRounds int
}

func NewEngine(client Client, selector Selector, hist History, validate ValidateFunc) *Engine {
	return &Engine{
		Client:       client,
		Selector:     selector,
		History:      hist,
		Validate:     validate,
		Deadline:     25 * time.Second,
		RepairRounds: 3,
	}
}

type response struct {
	candidate providers.Candidate
	content   string // sanitized
	err       error
}

// GenerateFix runs the fan-out and reconciliation for one request.
func (e *Engine) GenerateFix(ctx context.Context, req Request) (*Result, error) {
	candidates := e.Selector.SelectForBug(req.Bug)
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}

	fewShot := ""
	if e.History != nil {
		fs, err := e.History.FewShot(req.Bug, fewShotLimit)
		if err != nil {
			log.Printf("ensemble: few-shot lookup failed: %v", err)
		} else {
			fewShot = fs
		}
	}
	userPrompt := buildUserPrompt(req, fewShot)

	raw := make(map[string]string)
	responses := e.fanOut(ctx, candidates, systemPrompt, userPrompt, raw)
	if len(responses) == 0 {
		return nil, ErrNoResponses
	}

	winner, invalid := e.reconcile(ctx, req, responses)
	if winner == nil {
		winner = e.selfRepair(ctx, req, candidates, invalid, raw)
	}
	if winner == nil {
		return nil, ErrAllInvalid
	}
	// Sanitize trims the text; the written file ends with a newline.
	content := winner.content
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return &Result{Content: content, Providers: winner.providers, Raw: raw}, nil
}

// fanOut issues all candidate calls in parallel under a shared deadline
// and collects whatever arrives in time. A majority of byte-identical
// responses ends collection early.
func (e *Engine) fanOut(ctx context.Context, candidates []providers.Candidate, system, user string, raw map[string]string) []response {
	deadline := e.Deadline
	if deadline <= 0 {
		deadline = 25 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	results := make(chan response, len(candidates))
	var wg sync.WaitGroup
	for _, c := range candidates {
		wg.Add(1)
		go func(c providers.Candidate) {
			defer wg.Done()
			text, err := e.Client.Complete(cctx, c.Provider, c.Model, system, user)
			results <- response{candidate: c, content: Sanitize(text), err: err}
		}(c)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	need := len(candidates)/2 + 1
	counts := make(map[string]int)
	var collected []response
	for r := range results {
		key := fmt.Sprintf("%s(%s)", r.candidate.Provider, r.candidate.Model)
		if r.err != nil {
			raw[key] = "ERROR: " + r.err.Error()
			log.Printf("ensemble: %s failed: %v", key, r.err)
			continue
		}
		raw[key] = r.content
		if r.content == "" {
			continue
		}
		collected = append(collected, r)
		norm := NormalizeWhitespace(r.content)
		counts[norm]++
		if counts[norm] >= need && need > 1 {
			// Majority already decided; stop waiting on the rest.
			cancel()
		}
	}
	return collected
}

type winner struct {
	content   string
	providers []string
}

// reconcile applies the deterministic tie-break: validate, majority by
// whitespace-normalized identity, then longest, priority breaking ties.
// It returns the winner plus the invalid responses (for self-repair).
func (e *Engine) reconcile(ctx context.Context, req Request, responses []response) (*winner, []response) {
	var valid, invalid []response
	for _, r := range responses {
		if !withinSizeGuardrail(req, r.content) {
			invalid = append(invalid, r)
			continue
		}
		if e.Validate != nil {
			if err := e.Validate(ctx, req.File, []byte(r.content)); err != nil {
				r.err = err
				invalid = append(invalid, r)
				continue
			}
		}
		valid = append(valid, r)
	}
	if len(valid) == 0 {
		return nil, invalid
	}
	if len(valid) == 1 {
		return &winner{content: valid[0].content, providers: []string{valid[0].candidate.Provider}}, invalid
	}

	// Group by normalized identity; the largest group of two or more
	// wins, priority breaking ties between groups of equal size.
	groups := make(map[string][]response)
	for _, r := range valid {
		k := NormalizeWhitespace(r.content)
		groups[k] = append(groups[k], r)
	}
	var best []response
	for _, g := range groups {
		switch {
		case len(g) > len(best):
			best = g
		case len(g) == len(best) && len(g) > 0 && minPriority(g) < minPriority(best):
			best = g
		}
	}
	if len(best) >= 2 {
		sort.Slice(best, func(i, j int) bool { return best[i].candidate.Priority < best[j].candidate.Priority })
		names := make([]string, len(best))
		for i, r := range best {
			names[i] = r.candidate.Provider
		}
		return &winner{content: best[0].content, providers: names}, invalid
	}

	// No majority: longest valid response, ties broken by priority.
	sort.Slice(valid, func(i, j int) bool {
		if len(valid[i].content) != len(valid[j].content) {
			return len(valid[i].content) > len(valid[j].content)
		}
		return valid[i].candidate.Priority < valid[j].candidate.Priority
	})
	return &winner{content: valid[0].content, providers: []string{valid[0].candidate.Provider}}, invalid
}

// selfRepair re-prompts the highest-priority candidate with the
// highest-priority invalid output (its own, unless it produced none), up
// to RepairRounds rounds.
func (e *Engine) selfRepair(ctx context.Context, req Request, candidates []providers.Candidate, invalid []response, raw map[string]string) *winner {
	if len(invalid) == 0 {
		return nil
	}
	sort.Slice(invalid, func(i, j int) bool { return invalid[i].candidate.Priority < invalid[j].candidate.Priority })
	broken := invalid[0]
	checkerMsg := "output failed validation"
	if broken.err != nil {
		checkerMsg = broken.err.Error()
	}

	primary := candidates[0]
	rounds := e.RepairRounds
	if rounds <= 0 {
		rounds = 3
	}
	brokenContent := broken.content
	for round := 1; round <= rounds; round++ {
		prompt := buildRepairPrompt(req, brokenContent, checkerMsg)
		text, err := e.Client.Complete(ctx, primary.Provider, primary.Model, repairSystemPrompt, prompt)
		key := fmt.Sprintf("%s(%s)#repair%d", primary.Provider, primary.Model, round)
		if err != nil {
			raw[key] = "ERROR: " + err.Error()
			log.Printf("ensemble: repair round %d failed: %v", round, err)
			continue
		}
		content := Sanitize(text)
		raw[key] = content
		if content == "" || !withinSizeGuardrail(req, content) {
			brokenContent = content
			continue
		}
		if e.Validate != nil {
			if verr := e.Validate(ctx, req.File, []byte(content)); verr != nil {
				checkerMsg = verr.Error()
				brokenContent = content
				continue
			}
		}
		return &winner{content: content, providers: []string{primary.Provider}}
	}
	return nil
}

// withinSizeGuardrail rejects contents whose length diverges too far
// from the original; runaway rewrites are regressions waiting to happen.
func withinSizeGuardrail(req Request, content string) bool {
	if len(content) < 10 {
		return false
	}
	base := len(req.Content)
	var maxDiff int
	switch {
	case len(req.Failures) > 1:
		maxDiff = max(5000, base*8/10)
	case base < 500:
		maxDiff = max(600, base*9/10)
	default:
		maxDiff = max(2000, base/2)
	}
	diff := len(content) - base
	if diff < 0 {
		diff = -diff
	}
	return diff <= maxDiff
}

func minPriority(g []response) int {
	m := 1 << 30
	for _, r := range g {
		if r.candidate.Priority < m {
			m = r.candidate.Priority
		}
	}
	return m
}
