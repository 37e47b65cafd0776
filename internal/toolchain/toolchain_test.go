package toolchain

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healbot/internal/models"
)

func TestRegistryTable(t *testing.T) {
	py := ToolsFor("python", models.BugLinting)
	require.Len(t, py, 2)
	assert.Equal(t, "autopep8", py[0].Name)
	assert.Equal(t, "black", py[1].Name)

	pyIndent := ToolsFor("python", models.BugIndentation)
	require.Len(t, pyIndent, 2)
	assert.Equal(t, "autopep8", pyIndent[0].Name)

	js := ToolsFor("javascript", models.BugLinting)
	require.Len(t, js, 2)
	assert.Equal(t, "eslint", js[0].Name)
	assert.Equal(t, "prettier", js[1].Name)

	rb := ToolsFor("ruby", models.BugIndentation)
	require.Len(t, rb, 1)
	assert.Equal(t, "rubocop", rb[0].Name)

	mypy := ToolsFor("python", models.BugTypeError)
	require.Len(t, mypy, 1)
	assert.True(t, mypy[0].ReportOnly)
}

func TestModelOnlyClassesHaveNoTools(t *testing.T) {
	for _, bug := range []models.BugType{models.BugSyntax, models.BugImport, models.BugLogic} {
		assert.Empty(t, ToolsFor("python", bug), "bug: %s", bug)
		assert.Empty(t, ToolsFor("javascript", bug), "bug: %s", bug)
	}
	assert.Empty(t, ToolsFor("unknown", models.BugLinting))
}

func TestToolArgsReceiveFileAndRoot(t *testing.T) {
	tools := ToolsFor("python", models.BugLinting)
	args := tools[0].Args("/repo/app.py", "/repo")
	assert.Contains(t, args, "/repo/app.py")
}

func TestApplyWithoutToolsIsANoOp(t *testing.T) {
	dir := t.TempDir()
	file := "app.py"
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte("x = 1\n"), 0o644))

	r := NewRunner(nil)
	outcome, err := r.Apply(context.Background(), dir, file, "python", models.BugSyntax)
	require.NoError(t, err)
	assert.False(t, outcome.Applied)
	assert.Empty(t, outcome.Tool)
}

func TestApplyMissingFile(t *testing.T) {
	r := NewRunner(nil)
	_, err := r.Apply(context.Background(), t.TempDir(), "ghost.py", "python", models.BugLinting)
	assert.Error(t, err)
}

func TestReportOnlyNeverApplies(t *testing.T) {
	dir := t.TempDir()
	file := "app.py"
	content := []byte("def f(x: int) -> str:\n    return x\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), content, 0o644))

	r := NewRunner(nil)
	outcome, err := r.Apply(context.Background(), dir, file, "python", models.BugTypeError)
	require.NoError(t, err)
	assert.False(t, outcome.Applied)

	after, err := os.ReadFile(filepath.Join(dir, file))
	require.NoError(t, err)
	assert.Equal(t, content, after)
}
