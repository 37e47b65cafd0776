package ensemble

import (
	"fmt"
	"strings"

	"healbot/internal/models"
)

const systemPrompt = `You are an expert code refactoring engine.
CRITICAL POLICY (MUST FOLLOW EXACTLY):
1. Wrap your entire corrected file strictly inside <fixed_code> and </fixed_code> tags.
2. DO NOT output any conversational text, explanations, or markdown outside the tags.
3. Always return the FULL corrected file. Never edit snippets.
4. Modify ONLY the exact line(s) causing the error(s).
5. DO NOT add decorative comments, docstrings, or blank lines.
6. DO NOT reformat, refactor, rename, or "clean up" code that has no error.
7. Preserve all existing logic, structure, comments, and formatting exactly as they are.`

const repairSystemPrompt = `You are an expert code refactoring engine.
Your previous fix introduced a syntax error; fix it without removing existing structure.
Wrap the complete corrected file inside <fixed_code> and </fixed_code> tags, with no other output.`

// buildUserPrompt renders the fix request: the complete current file
// (never snippets), every failure on it, the bug type, and any matching
// few-shot history.
func buildUserPrompt(req Request, fewShot string) string {
	var b strings.Builder
	if fewShot != "" {
		b.WriteString("Learn from these past fixes (avoid repeating the same mistakes):\n")
		b.WriteString(fewShot)
		b.WriteString("\n---\n\n")
	}
	fmt.Fprintf(&b, "File: %s\nBug type: %s\n\nErrors to fix:\n", req.File, req.Bug)
	for _, f := range req.Failures {
		if f.Line > 0 {
			fmt.Fprintf(&b, "- Line %d: %s\n", f.Line, f.Message)
		} else {
			fmt.Fprintf(&b, "- %s\n", f.Message)
		}
	}
	if req.ToolDiagnostics != "" {
		fmt.Fprintf(&b, "\nStatic analyzer output:\n%s\n", req.ToolDiagnostics)
	}
	fmt.Fprintf(&b, "\nCurrent FULL file content:\n%s\n", req.Content)
	b.WriteString("\nFix ALL of the errors listed above. Output the COMPLETE corrected file inside <fixed_code> tags.")
	return b.String()
}

func buildRepairPrompt(req Request, broken, checkerMsg string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "File: %s\n\nYour previous fix introduced this error:\n%s\n", req.File, checkerMsg)
	fmt.Fprintf(&b, "\nYour broken output:\n%s\n", truncateTail(broken, 8000))
	fmt.Fprintf(&b, "\nOriginal file content (before your fix):\n%s\n", req.Content)
	b.WriteString("\nFix the syntax error without removing existing structure. Return the full file inside <fixed_code> tags.")
	return b.String()
}

// FixDescription renders the human half of a commit message for a bug.
func FixDescription(bug models.BugType, message string) string {
	m := strings.ToLower(message)
	switch bug {
	case models.BugLinting:
		switch {
		case strings.Contains(m, "unused import"), strings.Contains(m, "f401"):
			return "remove the unused import statement"
		case strings.Contains(m, "unused variable"), strings.Contains(m, "f841"):
			return "remove the unused variable"
		case strings.Contains(m, "line too long"), strings.Contains(m, "e501"):
			return "break the line to meet length limit"
		}
		return "fix linting issue"
	case models.BugSyntax:
		switch {
		case strings.Contains(m, "colon"):
			return "add the colon at the correct position"
		case strings.Contains(m, "paren"):
			return "add the missing parenthesis"
		case strings.Contains(m, "indent"):
			return "fix indentation"
		}
		return "fix syntax error"
	case models.BugIndentation:
		return "fix indentation"
	case models.BugImport:
		if strings.Contains(m, "cannot import") || strings.Contains(m, "no module") {
			return "add the missing import statement"
		}
		return "fix import error"
	case models.BugTypeError:
		return "fix type mismatch"
	case models.BugLogic:
		return "fix logic error"
	}
	return "fix the error"
}

func truncateTail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
