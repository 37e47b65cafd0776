package ensemble

import (
	"regexp"
	"strings"
)

var (
	fixedCodeRe  = regexp.MustCompile(`(?is)<fixed_code>\s*(.*?)\s*</fixed_code>`)
	fencedRe     = regexp.MustCompile("(?is)```[a-z]*\\s*\n?(.*?)```")
	decorativeRe = regexp.MustCompile(`^\s*(#|//)\s*[=\-*~_\s]{5,}.*$`)
)

// Sanitize extracts code from a model response. Models leak prose and
// markdown around the file contents despite instructions, so extraction
// is layered: strict <fixed_code> tags first, then fenced blocks, then
// the raw text with any stray fence lines removed.
func Sanitize(text string) string {
	t := strings.TrimSpace(text)
	if t == "" {
		return ""
	}

	if m := fixedCodeRe.FindStringSubmatch(t); m != nil {
		inner := strings.TrimSpace(m[1])
		if fm := fencedRe.FindStringSubmatch(inner); fm != nil {
			inner = strings.TrimSpace(fm[1])
		}
		return stripDecorative(inner)
	}

	if m := fencedRe.FindStringSubmatch(t); m != nil {
		return stripDecorative(strings.TrimSpace(m[1]))
	}

	if strings.HasPrefix(t, "```") {
		lines := strings.Split(t, "\n")
		if len(lines) > 0 && strings.HasPrefix(lines[0], "```") {
			lines = lines[1:]
		}
		if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
			lines = lines[:len(lines)-1]
		}
		t = strings.Join(lines, "\n")
	}

	return stripDecorative(strings.TrimSpace(t))
}

// stripDecorative drops ASCII-art separator comments models like to add;
// they churn diffs without changing behavior.
func stripDecorative(code string) string {
	lines := strings.Split(code, "\n")
	out := lines[:0:0]
	for _, line := range lines {
		if decorativeRe.MatchString(line) {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// NormalizeWhitespace reduces contents to a form where byte-identical
// means "same patch": CRLF folded, trailing blanks trimmed, interior
// whitespace runs collapsed. Leading indentation is kept as is.
func NormalizeWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		body := strings.TrimLeft(line, " \t")
		fields := strings.Fields(body)
		if len(fields) == 0 {
			lines[i] = ""
			continue
		}
		lines[i] = line[:len(line)-len(body)] + strings.Join(fields, " ")
	}
	joined := strings.Join(lines, "\n")
	return strings.TrimSpace(joined)
}
