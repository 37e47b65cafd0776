package validate

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnknownLanguageTriviallyAccepts(t *testing.T) {
	v := New()
	assert.NoError(t, v.Check(context.Background(), "README.md", []byte("# anything\n")))
	assert.NoError(t, v.Check(context.Background(), "main.go", []byte("package main\n")))
}

func TestPythonSyntaxError(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not installed")
	}
	v := New()
	err := v.Check(context.Background(), "app.py", []byte("def f(:\n    return 1\n"))
	require.Error(t, err)

	var verr *Error
	require.ErrorAs(t, err, &verr)
	assert.NotEmpty(t, verr.Output)
}

func TestPythonValid(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not installed")
	}
	v := New()
	assert.NoError(t, v.Check(context.Background(), "app.py", []byte("def f():\n    return 1\n")))
}

func TestJavascriptSyntaxError(t *testing.T) {
	if _, err := exec.LookPath("node"); err != nil {
		t.Skip("node not installed")
	}
	v := New()
	err := v.Check(context.Background(), "app.js", []byte("function f( {\n"))
	require.Error(t, err)
}

func TestCheckerErrorMessageSurfaced(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not installed")
	}
	v := New()
	err := v.Check(context.Background(), "bad.py", []byte("def f(:\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "python3")
}
