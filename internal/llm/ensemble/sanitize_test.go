package ensemble

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeFixedCodeTags(t *testing.T) {
	in := "Here is the fix:\n<fixed_code>\ndef f():\n    return 1\n</fixed_code>\nHope this helps!"
	assert.Equal(t, "def f():\n    return 1", Sanitize(in))
}

func TestSanitizeFencedBlockInsideTags(t *testing.T) {
	in := "<fixed_code>\n```python\ndef f():\n    return 1\n```\n</fixed_code>"
	assert.Equal(t, "def f():\n    return 1", Sanitize(in))
}

func TestSanitizeFencedBlock(t *testing.T) {
	in := "```python\ndef f():\n    return 1\n```"
	assert.Equal(t, "def f():\n    return 1", Sanitize(in))
}

func TestSanitizeBareCode(t *testing.T) {
	in := "def f():\n    return 1\n"
	assert.Equal(t, "def f():\n    return 1", Sanitize(in))
}

func TestSanitizeStripsDecorativeComments(t *testing.T) {
	in := "<fixed_code>\n# ============================\ndef f():\n    return 1\n# ----------------------------\n</fixed_code>"
	out := Sanitize(in)
	assert.NotContains(t, out, "====")
	assert.NotContains(t, out, "----")
	assert.Contains(t, out, "def f():")
}

func TestSanitizeEmpty(t *testing.T) {
	assert.Equal(t, "", Sanitize(""))
	assert.Equal(t, "", Sanitize("   \n  "))
}

func TestNormalizeWhitespace(t *testing.T) {
	a := "def f():\n    return 1\n"
	b := "def f():\r\n    return  1   \n\n"
	assert.Equal(t, NormalizeWhitespace(a), NormalizeWhitespace(b))

	c := "def f():\n    return 2\n"
	assert.NotEqual(t, NormalizeWhitespace(a), NormalizeWhitespace(c))
}
