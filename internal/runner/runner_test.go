package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, root, name, content string) {
	t.Helper()
	full := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestDiscoverTests(t *testing.T) {
	root := t.TempDir()
	seed(t, root, "tests/test_app.py", "def test_ok():\n    assert True\n")
	seed(t, root, "src/app.test.js", "test('ok', () => {})\n")
	seed(t, root, "src/app.py", "x = 1\n")
	seed(t, root, "node_modules/pkg/test_dep.py", "ignored\n")

	r := New(root)
	tests, err := r.DiscoverTests()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"tests/test_app.py", "src/app.test.js"}, tests)
}

func TestDiscoverSourcesSkipsVendoredTrees(t *testing.T) {
	root := t.TempDir()
	seed(t, root, "app.py", "x = 1\n")
	seed(t, root, "lib/util.ts", "export const x = 1\n")
	seed(t, root, "venv/lib/site.py", "ignored\n")
	seed(t, root, "node_modules/dep/index.js", "ignored\n")
	seed(t, root, "notes.txt", "ignored\n")

	r := New(root)
	sources, err := r.DiscoverSources()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"app.py", "lib/util.ts"}, sources)
}

func TestRunErrorsOnEmptyProject(t *testing.T) {
	root := t.TempDir()
	seed(t, root, "README.md", "# nothing\n")

	r := New(root)
	_, err := r.Run(context.Background())
	assert.ErrorIs(t, err, ErrNoProject)
}
