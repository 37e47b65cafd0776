// Package validate runs the minimum static check a language offers on
// proposed file contents before a patch is accepted.
package validate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Error carries the checker's own message so the ensemble can feed it
// back into a self-repair prompt.
type Error struct {
	Checker string
	Output  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Checker, e.Output)
}

type Validator struct {
	// Timeout bounds each checker invocation.
	Timeout time.Duration
}

func New() *Validator {
	return &Validator{Timeout: 10 * time.Second}
}

// Check validates proposed contents for the file at relPath. The contents
// are staged into a scratch file with the same extension so checkers see
// the right language. A missing checker binary trivially accepts.
func (v *Validator) Check(ctx context.Context, relPath string, contents []byte) error {
	ext := strings.ToLower(filepath.Ext(relPath))
	argv := checkerFor(ext)
	if argv == nil {
		return nil
	}

	tmp, err := stage(relPath, contents)
	if err != nil {
		return err
	}
	defer os.RemoveAll(filepath.Dir(tmp))

	timeout := v.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, argv[1:]...), tmp)
	cmd := exec.CommandContext(cctx, argv[0], args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	runErr := cmd.Run()
	if runErr == nil {
		return nil
	}
	if errors.Is(runErr, exec.ErrNotFound) || isNotFound(runErr) {
		// Best effort: no checker installed means nothing to reject with.
		return nil
	}
	if cctx.Err() != nil {
		return &Error{Checker: argv[0], Output: "validation timed out"}
	}
	msg := strings.TrimSpace(out.String())
	if msg == "" {
		msg = runErr.Error()
	}
	return &Error{Checker: argv[0], Output: msg}
}

// CheckFile validates the file as it currently exists in the repo.
func (v *Validator) CheckFile(ctx context.Context, repoRoot, relPath string) error {
	contents, err := os.ReadFile(filepath.Join(repoRoot, relPath))
	if err != nil {
		return err
	}
	return v.Check(ctx, relPath, contents)
}

// checkerFor returns the checker argv prefix for a file extension, nil
// when the language has no checker and the validator trivially accepts.
func checkerFor(ext string) []string {
	switch ext {
	case ".py":
		// py_compile parses to an AST and byte-compiles in one step.
		return []string{"python3", "-m", "py_compile"}
	case ".js", ".jsx":
		return []string{"node", "--check"}
	case ".ts", ".tsx":
		return []string{"npx", "--yes", "tsc", "--noEmit", "--skipLibCheck"}
	case ".rb":
		return []string{"ruby", "-c"}
	default:
		return nil
	}
}

func stage(relPath string, contents []byte) (string, error) {
	dir, err := os.MkdirTemp("", "healbot-validate")
	if err != nil {
		return "", err
	}
	tmp := filepath.Join(dir, filepath.Base(relPath))
	if err := os.WriteFile(tmp, contents, 0o644); err != nil {
		os.RemoveAll(dir)
		return "", err
	}
	return tmp, nil
}

func isNotFound(err error) bool {
	var ee *exec.Error
	return errors.As(err, &ee) && errors.Is(ee.Err, exec.ErrNotFound)
}
