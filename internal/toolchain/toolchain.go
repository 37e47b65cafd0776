// Package toolchain maps (language, bug type) to deterministic external
// fixers, tried before any model is consulted.
package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"healbot/internal/models"
)

// Tool is one fixer invocation. Args receives the offending file path and
// the repository root. ReportOnly tools never modify the file; their
// diagnostics are fed forward as model context instead.
type Tool struct {
	Name       string
	ReportOnly bool
	Args       func(file, repoRoot string) []string
}

// ToolsFor returns the ordered fixer list for a (language, bug type)
// pair. SYNTAX, IMPORT and LOGIC always return nil: those classes are
// model-only.
func ToolsFor(language string, bug models.BugType) []Tool {
	switch bug {
	case models.BugLinting, models.BugIndentation:
		switch language {
		case "python":
			return []Tool{
				{Name: "autopep8", Args: func(file, _ string) []string {
					return []string{"python3", "-m", "autopep8", "--in-place", "--aggressive", file}
				}},
				{Name: "black", Args: func(file, _ string) []string {
					return []string{"black", "--quiet", file}
				}},
			}
		case "javascript", "typescript":
			return []Tool{
				{Name: "eslint", Args: func(file, _ string) []string {
					return []string{"npx", "--yes", "eslint", "--fix", file}
				}},
				{Name: "prettier", Args: func(file, _ string) []string {
					return []string{"npx", "--yes", "prettier", "--write", file}
				}},
			}
		case "ruby":
			return []Tool{
				{Name: "rubocop", Args: func(file, _ string) []string {
					return []string{"rubocop", "-A", file}
				}},
			}
		}
	case models.BugTypeError:
		if language == "python" {
			return []Tool{
				{Name: "mypy", ReportOnly: true, Args: func(file, repoRoot string) []string {
					return []string{"mypy", "--no-error-summary", file}
				}},
			}
		}
	}
	return nil
}

// Validator is the parse check a fixer's result must still pass.
type Validator interface {
	CheckFile(ctx context.Context, repoRoot, relPath string) error
}

// Outcome reports what the registry did for one failure.
type Outcome struct {
	Applied     bool
	Tool        string
	Diagnostics string // report-only tool output, forwarded as model context
}

type Runner struct {
	Timeout   time.Duration
	Validator Validator
}

func NewRunner(v Validator) *Runner {
	return &Runner{Timeout: 30 * time.Second, Validator: v}
}

// Apply tries each tool in order against the file. A fixer succeeds when
// it exits zero and the file still parses; on parse breakage the original
// contents are restored and the next tool is tried. Report-only tools
// contribute diagnostics without ever applying.
func (r *Runner) Apply(ctx context.Context, repoRoot, relPath string, language string, bug models.BugType) (Outcome, error) {
	tools := ToolsFor(language, bug)
	if len(tools) == 0 {
		return Outcome{}, nil
	}

	fullPath := filepath.Join(repoRoot, relPath)
	original, err := os.ReadFile(fullPath)
	if err != nil {
		return Outcome{}, fmt.Errorf("read %s: %w", relPath, err)
	}

	var diagnostics string
	for _, tool := range tools {
		out, runErr := r.run(ctx, repoRoot, tool.Args(fullPath, repoRoot))
		if tool.ReportOnly {
			// Exit status is irrelevant, the output is the product.
			if out != "" {
				diagnostics = out
			}
			continue
		}
		if runErr != nil {
			log.Printf("toolchain: %s failed on %s: %v", tool.Name, relPath, runErr)
			continue
		}
		if r.Validator != nil {
			if err := r.Validator.CheckFile(ctx, repoRoot, relPath); err != nil {
				// Tool broke the file; put it back and move on.
				if werr := os.WriteFile(fullPath, original, 0o644); werr != nil {
					return Outcome{}, fmt.Errorf("restore %s: %w", relPath, werr)
				}
				continue
			}
		}
		return Outcome{Applied: true, Tool: tool.Name, Diagnostics: diagnostics}, nil
	}
	return Outcome{Diagnostics: diagnostics}, nil
}

func (r *Runner) run(ctx context.Context, dir string, argv []string) (string, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	out := buf.String()
	if err != nil {
		var ee *exec.Error
		if errors.As(err, &ee) {
			return out, fmt.Errorf("%s not installed", argv[0])
		}
		if cctx.Err() != nil {
			return out, fmt.Errorf("%s timed out", argv[0])
		}
		return out, fmt.Errorf("%s: %w", argv[0], err)
	}
	return out, nil
}
