package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phpmago/analyzer/internal/diagnostic"
)

func TestBaselineRoundTrip(t *testing.T) {
	root := "/project"
	diags := []diagnostic.Diagnostic{
		{Code: diagnostic.CodeUndefinedVariable, File: "/project/src/a.php", Line: 5, Column: 12, Message: "undefined variable `$x`"},
		{Code: diagnostic.CodeInvalidReturnStatement, File: "/project/src/b.php", Line: 9, Column: 5, Message: "cannot return `string` from a function declared to return `int`"},
	}

	path := filepath.Join(t.TempDir(), "baseline.json")
	require.NoError(t, saveBaseline(path, root, diags))

	kept, err := filterBaseline(path, root, diags)
	require.NoError(t, err)
	assert.Empty(t, kept)
}

func TestBaselineKeepsNewFindings(t *testing.T) {
	root := "/project"
	old := []diagnostic.Diagnostic{
		{Code: diagnostic.CodeUndefinedVariable, File: "/project/src/a.php", Line: 5, Message: "undefined variable `$x`"},
	}
	path := filepath.Join(t.TempDir(), "baseline.json")
	require.NoError(t, saveBaseline(path, root, old))

	current := append([]diagnostic.Diagnostic{
		{Code: diagnostic.CodeNullAccess, File: "/project/src/a.php", Line: 2, Message: "possibly accessing property on `null`"},
	}, old...)

	kept, err := filterBaseline(path, root, current)
	require.NoError(t, err)
	require.Len(t, kept, 1)
	assert.Equal(t, diagnostic.CodeNullAccess, kept[0].Code)
}

func TestBaselineEntryAbsorbsOneOccurrence(t *testing.T) {
	root := "/project"
	one := []diagnostic.Diagnostic{
		{Code: diagnostic.CodeUndefinedVariable, File: "/project/src/a.php", Line: 5, Message: "undefined variable `$x`"},
	}
	path := filepath.Join(t.TempDir(), "baseline.json")
	require.NoError(t, saveBaseline(path, root, one))

	// The same finding now appears twice; only one is baselined.
	two := append(append([]diagnostic.Diagnostic{}, one...), diagnostic.Diagnostic{
		Code: diagnostic.CodeUndefinedVariable, File: "/project/src/a.php", Line: 20, Message: "undefined variable `$x`",
	})

	kept, err := filterBaseline(path, root, two)
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}

func TestEmptyBaseline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "baseline.json")
	require.NoError(t, saveBaseline(path, "/project", nil))

	kept, err := filterBaseline(path, "/project", []diagnostic.Diagnostic{
		{Code: diagnostic.CodeUndefinedVariable, File: "/project/a.php", Message: "undefined variable `$x`"},
	})
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}
