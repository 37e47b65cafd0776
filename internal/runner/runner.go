// Package runner discovers a cloned project's tests, executes them along
// with the linters the project's languages support, and normalizes the
// output into failure records.
package runner

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/yargevad/filepathx"

	"healbot/internal/classify"
	"healbot/internal/models"
)

// ErrNoProject: the repository contains nothing the runner knows how to
// test or lint.
var ErrNoProject = errors.New("runner: no supported source files found")

var testPatterns = []string{
	"**/test_*.py", "**/*_test.py",
	"**/*.test.js", "**/*.test.ts", "**/*.spec.js", "**/*.spec.ts",
	"**/test_*.js", "**/test_*.ts",
}

var skipDirs = []string{"node_modules", "venv", ".venv", "__pycache__", ".git", "vendor"}

type Runner struct {
	Root    string
	Timeout time.Duration
}

func New(root string) *Runner {
	return &Runner{Root: root, Timeout: 90 * time.Second}
}

// DiscoverTests returns repo-relative test file paths.
func (r *Runner) DiscoverTests() ([]string, error) {
	seen := make(map[string]bool)
	var tests []string
	for _, pattern := range testPatterns {
		matches, err := filepathx.Glob(filepath.Join(r.Root, pattern))
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			rel, err := filepath.Rel(r.Root, m)
			if err != nil || skipped(rel) || seen[rel] {
				continue
			}
			seen[rel] = true
			tests = append(tests, filepath.ToSlash(rel))
		}
	}
	sort.Strings(tests)
	return tests, nil
}

// DiscoverSources returns repo-relative source files. Run lints them on
// every run and compile-checks them when the project carries no tests.
func (r *Runner) DiscoverSources() ([]string, error) {
	var sources []string
	err := filepath.WalkDir(r.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, rerr := filepath.Rel(r.Root, path)
		if rerr != nil {
			return rerr
		}
		if d.IsDir() {
			if skipped(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".py", ".js", ".ts", ".jsx", ".tsx", ".rb":
			sources = append(sources, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(sources)
	return sources, nil
}

// Run executes tests and linters and returns the merged, deduplicated,
// classified failure list. An empty slice means the project is healthy.
func (r *Runner) Run(ctx context.Context) ([]models.Failure, error) {
	tests, err := r.DiscoverTests()
	if err != nil {
		return nil, err
	}
	sources, err := r.DiscoverSources()
	if err != nil {
		return nil, err
	}
	if len(tests) == 0 && len(sources) == 0 {
		return nil, ErrNoProject
	}

	var out strings.Builder
	if len(tests) > 0 {
		out.WriteString(r.runTests(ctx, tests))
	}
	out.WriteString(r.runLinters(ctx, sources))
	if len(tests) == 0 {
		out.WriteString(r.compileCheck(ctx, sources))
	}

	failures := append(ParseTestOutput(out.String()), ParseLinterOutput(out.String())...)
	for i := range failures {
		failures[i].Language = LanguageOf(failures[i].File)
		failures[i].Type = classify.Classify(failures[i].Message, failures[i].Language)
	}
	failures = classify.Dedupe(failures)
	classify.SortBySeverity(failures)
	return failures, nil
}

func (r *Runner) runTests(ctx context.Context, tests []string) string {
	var py, js []string
	for _, t := range tests {
		if strings.HasSuffix(t, ".py") {
			py = append(py, t)
		} else {
			js = append(js, t)
		}
	}
	var out strings.Builder
	if len(py) > 0 {
		args := append([]string{"-m", "pytest"}, py...)
		args = append(args, "-v", "--tb=short")
		out.WriteString(r.exec(ctx, "python3", args...))
	}
	if len(js) > 0 {
		out.WriteString(r.exec(ctx, "npx", "--yes", "jest", "--passWithNoTests", "--no-cache", "--verbose"))
	}
	return out.String()
}

func (r *Runner) runLinters(ctx context.Context, sources []string) string {
	var py, js []string
	for _, s := range sources {
		switch strings.ToLower(filepath.Ext(s)) {
		case ".py":
			py = append(py, s)
		case ".js", ".ts", ".jsx", ".tsx":
			js = append(js, s)
		}
	}
	if len(py) > 50 {
		py = py[:50]
	}
	if len(js) > 30 {
		js = js[:30]
	}

	var out strings.Builder
	if len(py) > 0 {
		out.WriteString(r.exec(ctx, "python3", append([]string{"-m", "flake8", "--max-line-length=120"}, py...)...))
		out.WriteString(r.exec(ctx, "python3", append([]string{"-m", "pyflakes"}, py...)...))
	}
	if len(js) > 0 {
		if _, err := os.Stat(filepath.Join(r.Root, "package.json")); err == nil {
			args := append([]string{"--yes", "eslint", "--format", "compact", "--no-error-on-unmatched-pattern"}, js...)
			out.WriteString(r.exec(ctx, "npx", args...))
		}
	}
	return out.String()
}

// compileCheck catches syntax errors in test-less repositories; pytest
// would have surfaced them otherwise.
func (r *Runner) compileCheck(ctx context.Context, sources []string) string {
	var out strings.Builder
	for _, s := range sources {
		if strings.HasSuffix(s, ".py") {
			out.WriteString(r.exec(ctx, "python3", "-m", "py_compile", s))
		}
	}
	return out.String()
}

func (r *Runner) exec(ctx context.Context, name string, args ...string) string {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, name, args...)
	cmd.Dir = r.Root
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	_ = cmd.Run() // non-zero exit is the signal we parse, not an error
	return buf.String()
}

// LanguageOf maps a file path to its toolchain language.
func LanguageOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".py":
		return "python"
	case ".js", ".jsx":
		return "javascript"
	case ".ts", ".tsx":
		return "typescript"
	case ".rb":
		return "ruby"
	default:
		return ""
	}
}

func skipped(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		for _, skip := range skipDirs {
			if part == skip {
				return true
			}
		}
	}
	return false
}
