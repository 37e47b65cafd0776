package runner

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"healbot/internal/models"
)

var (
	pytestFailedRe   = regexp.MustCompile(`FAILED\s+([^\s:]+\.py)::\S+`)
	pyTracebackRe    = regexp.MustCompile(`([^\s:"]+\.py):(\d+)`)
	pyFileLineRe     = regexp.MustCompile(`File "([^"]+)", line (\d+)`)
	jestFrameRe      = regexp.MustCompile(`at\s+.*?([^\s:(]+\.(?:js|ts|jsx|tsx)):(\d+)`)
	lintPyRe         = regexp.MustCompile(`^([^\s:]+\.py):(\d+):(?:\d+:)?\s*(.+)$`)
	lintJSCompactRe  = regexp.MustCompile(`^([^\s:]+\.(?:js|ts|jsx|tsx)):\s*line\s+(\d+),`)
	extraLineRefsRe  = regexp.MustCompile(`(?i)(?:line|:)\s*(\d+)`)
	errorIndicatorRe = regexp.MustCompile(`(?i)error`)
)

// ParseTestOutput extracts failures from pytest and jest output: FAILED
// headers, traceback frames, interpreter syntax reports, and jest stack
// frames. Results are deduplicated by (file, line).
func ParseTestOutput(output string) []models.Failure {
	lines := strings.Split(output, "\n")
	seen := make(map[models.FixSite]bool)
	var failures []models.Failure

	add := func(file string, line int, message, context string) {
		file = strings.TrimPrefix(normPath(file), "./")
		site := models.FixSite{File: file, Line: line}
		if file == "" || seen[site] {
			return
		}
		seen[site] = true
		failures = append(failures, models.Failure{
			File:    file,
			Line:    line,
			Kind:    kindOf(message),
			Message: strings.TrimSpace(message),
			Context: context,
		})
	}

	for i, line := range lines {
		ctx := window(lines, i)
		if m := pytestFailedRe.FindStringSubmatch(line); m != nil {
			add(m[1], 0, line, ctx)
			continue
		}
		if m := pyFileLineRe.FindStringSubmatch(line); m != nil && errorIndicatorRe.MatchString(ctx) {
			n, _ := strconv.Atoi(m[2])
			add(m[1], n, line, ctx)
			continue
		}
		if m := pyTracebackRe.FindStringSubmatch(line); m != nil {
			n, _ := strconv.Atoi(m[2])
			add(m[1], n, line, ctx)
			continue
		}
		if m := jestFrameRe.FindStringSubmatch(line); m != nil {
			n, _ := strconv.Atoi(m[2])
			add(m[1], n, line, ctx)
		}
	}
	return failures
}

// ParseLinterOutput extracts failures from flake8/pyflakes and eslint
// compact output. Every line number mentioned in a message is collected
// into AllLines.
func ParseLinterOutput(output string) []models.Failure {
	lines := strings.Split(output, "\n")
	seen := make(map[models.FixSite]bool)
	var failures []models.Failure

	for _, line := range lines {
		var file, text string
		var lineNum int
		if m := lintPyRe.FindStringSubmatch(line); m != nil {
			file = m[1]
			lineNum, _ = strconv.Atoi(m[2])
			text = m[3]
		} else if m := lintJSCompactRe.FindStringSubmatch(line); m != nil {
			file = m[1]
			lineNum, _ = strconv.Atoi(m[2])
			text = line[len(m[0]):]
		} else {
			continue
		}
		file = strings.TrimPrefix(normPath(file), "./")
		site := models.FixSite{File: file, Line: lineNum}
		if seen[site] {
			continue
		}
		seen[site] = true
		failures = append(failures, models.Failure{
			File:     file,
			Line:     lineNum,
			Kind:     kindOf(line),
			Message:  strings.TrimSpace(line),
			Context:  line,
			AllLines: collectLineRefs(text, lineNum),
		})
	}
	return failures
}

var (
	lintKindRe  = regexp.MustCompile(`\b([EWFDC]\d{3,4}|TS\d{4})\b`)
	errorKindRe = regexp.MustCompile(`\b([A-Z][a-z]+(?:[A-Z][a-z]+)*Error)\b`)
)

// kindOf extracts the tool's own error identifier from a message: a lint
// or compiler code when present, else the exception class name.
func kindOf(message string) string {
	if m := lintKindRe.FindStringSubmatch(message); m != nil {
		return m[1]
	}
	if m := errorKindRe.FindStringSubmatch(message); m != nil {
		return m[1]
	}
	return ""
}

// collectLineRefs gathers every line number a message mentions; nil when
// the primary line is the only one.
func collectLineRefs(message string, primary int) []int {
	found := map[int]bool{primary: true}
	for _, m := range extraLineRefsRe.FindAllStringSubmatch(message, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil {
			found[n] = true
		}
	}
	if len(found) <= 1 {
		return nil
	}
	out := make([]int, 0, len(found))
	for n := range found {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

func window(lines []string, i int) string {
	lo := i - 2
	if lo < 0 {
		lo = 0
	}
	hi := i + 5
	if hi > len(lines) {
		hi = len(lines)
	}
	return strings.Join(lines[lo:hi], "\n")
}

// normPath normalizes separators in tool-reported paths.
func normPath(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}
