package diagnostic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollectorSortedIsDeterministic(t *testing.T) {
	c := NewCollector()
	c.Report(Diagnostic{Code: CodeUndefinedVariable, File: "b.php", Line: 3, Column: 1})
	c.Report(Diagnostic{Code: CodeUndefinedVariable, File: "a.php", Line: 9, Column: 1})
	c.Report(Diagnostic{Code: CodeNullAccess, File: "a.php", Line: 2, Column: 5})
	c.Report(Diagnostic{Code: CodeInvalidArgument, File: "a.php", Line: 2, Column: 1})

	sorted := c.Sorted()
	assert.Equal(t, "a.php", sorted[0].File)
	assert.Equal(t, 2, sorted[0].Line)
	assert.Equal(t, 1, sorted[0].Column)
	assert.Equal(t, CodeNullAccess, sorted[1].Code)
	assert.Equal(t, 9, sorted[2].Line)
	assert.Equal(t, "b.php", sorted[3].File)

	// Sorting twice yields identical output.
	assert.Equal(t, sorted, c.Sorted())
}

func TestApplySuppressions(t *testing.T) {
	diag := func(code string, line int) Diagnostic {
		return Diagnostic{Code: code, File: "a.php", Line: line, Column: 1, Severity: SeverityError}
	}

	testCases := []struct {
		name     string
		diags    []Diagnostic
		pragmas  []Pragma
		expected []string
	}{
		{
			name:     "expect consumes matching diagnostic",
			diags:    []Diagnostic{diag(CodeUndefinedVariable, 5)},
			pragmas:  []Pragma{{Kind: PragmaExpect, Code: CodeUndefinedVariable, File: "a.php", Line: 4}},
			expected: nil,
		},
		{
			name:     "expect matches same line",
			diags:    []Diagnostic{diag(CodeUndefinedVariable, 4)},
			pragmas:  []Pragma{{Kind: PragmaExpect, Code: CodeUndefinedVariable, File: "a.php", Line: 4}},
			expected: nil,
		},
		{
			name:     "unfulfilled expect is reported",
			diags:    nil,
			pragmas:  []Pragma{{Kind: PragmaExpect, Code: CodeNullAccess, File: "a.php", Line: 7}},
			expected: []string{CodeUnfulfilledExpectation},
		},
		{
			name:     "expect consumes exactly one",
			diags:    []Diagnostic{diag(CodeUndefinedVariable, 5), diag(CodeUndefinedVariable, 5)},
			pragmas:  []Pragma{{Kind: PragmaExpect, Code: CodeUndefinedVariable, File: "a.php", Line: 4}},
			expected: []string{CodeUndefinedVariable},
		},
		{
			name:     "ignore drops all matches",
			diags:    []Diagnostic{diag(CodeUndefinedVariable, 5), diag(CodeUndefinedVariable, 5)},
			pragmas:  []Pragma{{Kind: PragmaIgnore, Code: CodeUndefinedVariable, File: "a.php", Line: 4}},
			expected: nil,
		},
		{
			name:     "wrong code is not suppressed",
			diags:    []Diagnostic{diag(CodeNullAccess, 5)},
			pragmas:  []Pragma{{Kind: PragmaIgnore, Code: CodeUndefinedVariable, File: "a.php", Line: 4}},
			expected: []string{CodeNullAccess},
		},
		{
			name:     "distant line is not suppressed",
			diags:    []Diagnostic{diag(CodeNullAccess, 9)},
			pragmas:  []Pragma{{Kind: PragmaIgnore, Code: CodeNullAccess, File: "a.php", Line: 4}},
			expected: []string{CodeNullAccess},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := ApplySuppressions(tc.diags, tc.pragmas)
			var codes []string
			for _, d := range got {
				codes = append(codes, d.Code)
			}
			assert.Equal(t, tc.expected, codes)
		})
	}
}
