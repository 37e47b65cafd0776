package models

// BugType is the closed set of error classes the agent knows how to repair.
type BugType string

const (
	BugSyntax      BugType = "SYNTAX"
	BugIndentation BugType = "INDENTATION"
	BugImport      BugType = "IMPORT"
	BugTypeError   BugType = "TYPE_ERROR"
	BugLogic       BugType = "LOGIC"
	BugLinting     BugType = "LINTING"
)

// severityOrder: lower = fix first. Syntax and indentation errors mask
// everything else, so they must clear before other classes are attempted.
var severityOrder = map[BugType]int{
	BugSyntax:      1,
	BugIndentation: 2,
	BugImport:      3,
	BugTypeError:   4,
	BugLogic:       5,
	BugLinting:     6,
}

// Severity returns the fix-ordering rank for a bug type. Unknown types
// rank with LOGIC.
func (b BugType) Severity() int {
	if p, ok := severityOrder[b]; ok {
		return p
	}
	return severityOrder[BugLogic]
}

func (b BugType) Valid() bool {
	_, ok := severityOrder[b]
	return ok
}
