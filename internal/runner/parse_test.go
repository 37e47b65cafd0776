package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pytestOutput = `============================= test session starts ==============================
collected 2 items

tests/test_app.py::test_add FAILED                                       [ 50%]
tests/test_app.py::test_sub PASSED                                       [100%]

=================================== FAILURES ===================================
___________________________________ test_add ___________________________________
tests/test_app.py:7: in test_add
    assert add(1, 2) == 3
E   AssertionError: assert 2 == 3
FAILED tests/test_app.py::test_add - AssertionError: assert 2 == 3
=========================== short test summary info ============================
`

const syntaxOutput = `  File "app.py", line 3
    def f(:
          ^
SyntaxError: invalid syntax
`

const jestOutput = `  ● add › returns the sum

    expect(received).toBe(expected)

      at Object.<anonymous> (src/app.test.js:12:19)
`

const flake8Output = `app.py:2:1: F401 'os' imported but unused
app.py:5:80: E501 line too long (130 > 120 characters)
utils.py:9:1: W291 trailing whitespace
`

const eslintOutput = `src/index.js: line 4, col 10, Error - 'x' is defined but never used. (no-unused-vars)
`

func TestParseTestOutputPytest(t *testing.T) {
	failures := ParseTestOutput(pytestOutput)
	require.NotEmpty(t, failures)

	files := make(map[string]bool)
	for _, f := range failures {
		files[f.File] = true
	}
	assert.True(t, files["tests/test_app.py"])
}

func TestParseTestOutputSyntaxError(t *testing.T) {
	failures := ParseTestOutput(syntaxOutput)
	require.NotEmpty(t, failures)
	assert.Equal(t, "app.py", failures[0].File)
	assert.Equal(t, 3, failures[0].Line)
}

func TestParseTestOutputJest(t *testing.T) {
	failures := ParseTestOutput(jestOutput)
	require.Len(t, failures, 1)
	assert.Equal(t, "src/app.test.js", failures[0].File)
	assert.Equal(t, 12, failures[0].Line)
}

func TestParseTestOutputDeduplicates(t *testing.T) {
	failures := ParseTestOutput(syntaxOutput + syntaxOutput)
	count := 0
	for _, f := range failures {
		if f.File == "app.py" && f.Line == 3 {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestParseLinterOutputFlake8(t *testing.T) {
	failures := ParseLinterOutput(flake8Output)
	require.Len(t, failures, 3)

	assert.Equal(t, "app.py", failures[0].File)
	assert.Equal(t, 2, failures[0].Line)
	assert.Contains(t, failures[0].Message, "F401")

	assert.Equal(t, "utils.py", failures[2].File)
	assert.Equal(t, 9, failures[2].Line)
}

func TestParseLinterOutputESLintCompact(t *testing.T) {
	failures := ParseLinterOutput(eslintOutput)
	require.Len(t, failures, 1)
	assert.Equal(t, "src/index.js", failures[0].File)
	assert.Equal(t, 4, failures[0].Line)
}

func TestParseLinterOutputEmpty(t *testing.T) {
	assert.Empty(t, ParseLinterOutput(""))
	assert.Empty(t, ParseLinterOutput("all good\nnothing to see\n"))
}

func TestLanguageOf(t *testing.T) {
	assert.Equal(t, "python", LanguageOf("a/b/app.py"))
	assert.Equal(t, "javascript", LanguageOf("x.js"))
	assert.Equal(t, "javascript", LanguageOf("x.jsx"))
	assert.Equal(t, "typescript", LanguageOf("x.ts"))
	assert.Equal(t, "ruby", LanguageOf("x.rb"))
	assert.Equal(t, "", LanguageOf("x.go"))
}
