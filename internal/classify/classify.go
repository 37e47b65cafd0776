// Package classify maps raw tool output onto the closed bug-type set and
// orders failures for repair.
package classify

import (
	"regexp"
	"sort"
	"strings"

	"healbot/internal/models"
)

var lintCodeRe = regexp.MustCompile(`\b[ewfd]\d{3}\b`)
var tsTypeCodeRe = regexp.MustCompile(`\bts2\d{3}\b`)

// Classify assigns a BugType to a raw failure message. Deterministic and
// pure: the same (message, language) always yields the same type. Rules
// apply in order, first match wins; anything unmatched, including test
// assertion failures, is LOGIC.
func Classify(message, language string) models.BugType {
	m := strings.ToLower(message)

	// flake8 E999 is a SyntaxError in disguise; it must beat the generic
	// lint-code rule below.
	switch {
	case strings.Contains(m, "e999"),
		strings.Contains(m, "syntaxerror"),
		strings.Contains(m, "unexpected token"),
		strings.Contains(m, "missing ;"),
		strings.Contains(m, "missing colon"),
		strings.Contains(m, "invalid syntax"),
		strings.Contains(m, "unexpected eof"):
		return models.BugSyntax
	}

	switch {
	case strings.Contains(m, "indentationerror"),
		strings.Contains(m, "expected an indented block"),
		strings.Contains(m, "expected indented block"),
		strings.Contains(m, "w191"),
		strings.Contains(m, "e128"),
		strings.Contains(m, "eslint(indent)"),
		strings.Contains(m, "rule: indent"):
		return models.BugIndentation
	}

	switch {
	case strings.Contains(m, "modulenotfounderror"),
		strings.Contains(m, "importerror"),
		strings.Contains(m, "cannot find module"),
		strings.Contains(m, "cannot import"),
		strings.Contains(m, "no module named"):
		return models.BugImport
	}

	switch {
	case strings.Contains(m, "typeerror"),
		tsTypeCodeRe.MatchString(m),
		strings.Contains(m, "incompatible type"),
		strings.Contains(m, "type mismatch"),
		strings.Contains(m, "[assignment]"),
		strings.Contains(m, "[arg-type]"):
		return models.BugTypeError
	}

	// Style and lint codes: flake8 E/W/F/D, eslint style rules, rubocop cops.
	switch {
	case lintCodeRe.MatchString(m),
		strings.Contains(m, "trailing whitespace"),
		strings.Contains(m, "line too long"),
		strings.Contains(m, "missing docstring"),
		strings.Contains(m, "unused import"),
		strings.Contains(m, "unused variable"),
		strings.Contains(m, "style/"),
		strings.Contains(m, "layout/"),
		strings.Contains(m, "no-unused-vars"):
		return models.BugLinting
	}

	return models.BugLogic
}

// SortBySeverity orders failures for repair: severity rank first, then
// (file, line) for a stable, reproducible order.
func SortBySeverity(failures []models.Failure) {
	sort.SliceStable(failures, func(i, j int) bool {
		a, b := failures[i], failures[j]
		if sa, sb := a.Type.Severity(), b.Type.Severity(); sa != sb {
			return sa < sb
		}
		if a.File != b.File {
			return a.File < b.File
		}
		return a.Line < b.Line
	})
}

// Dedupe collapses failures sharing the same (file, line, type), keeping
// the first occurrence.
func Dedupe(failures []models.Failure) []models.Failure {
	type key struct {
		file string
		line int
		typ  models.BugType
	}
	seen := make(map[key]bool, len(failures))
	out := failures[:0:0]
	for _, f := range failures {
		k := key{f.File, f.Line, f.Type}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, f)
	}
	return out
}
