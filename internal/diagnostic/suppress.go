package diagnostic

import "fmt"

// PragmaKind distinguishes the two suppression comment families.
type PragmaKind int

const (
	// PragmaExpect asserts that a diagnostic of the given code occurs on the
	// pragma's line or the line below; a miss is itself reported.
	PragmaExpect PragmaKind = iota
	// PragmaIgnore silently drops matching diagnostics.
	PragmaIgnore
)

// Pragma is one parsed @mago-expect / @mago-ignore comment.
type Pragma struct {
	Kind PragmaKind
	Code string
	File string
	Line int
}

// ApplySuppressions filters diags against the given pragmas. An expect
// pragma consumes exactly one matching diagnostic; an unconsumed expect is
// reported as analysis:unfulfilled-expectation so fixture drift is caught.
// Ignore pragmas drop every match on their target line.
func ApplySuppressions(diags []Diagnostic, pragmas []Pragma) []Diagnostic {
	if len(pragmas) == 0 {
		return diags
	}

	type expectState struct {
		pragma   Pragma
		consumed bool
	}
	expects := make([]*expectState, 0)
	ignores := make([]Pragma, 0)
	for _, p := range pragmas {
		switch p.Kind {
		case PragmaExpect:
			expects = append(expects, &expectState{pragma: p})
		case PragmaIgnore:
			ignores = append(ignores, p)
		}
	}

	matches := func(p Pragma, d Diagnostic) bool {
		if p.File != d.File || p.Code != d.Code {
			return false
		}
		// The pragma suppresses its own line and the next one, covering both
		// trailing and leading comment placement.
		return d.Line == p.Line || d.Line == p.Line+1
	}

	var out []Diagnostic
	for _, d := range diags {
		suppressed := false
		for _, e := range expects {
			if !e.consumed && matches(e.pragma, d) {
				e.consumed = true
				suppressed = true
				break
			}
		}
		if !suppressed {
			for _, ig := range ignores {
				if matches(ig, d) {
					suppressed = true
					break
				}
			}
		}
		if !suppressed {
			out = append(out, d)
		}
	}

	for _, e := range expects {
		if !e.consumed {
			out = append(out, Diagnostic{
				Code:     CodeUnfulfilledExpectation,
				Severity: SeverityError,
				File:     e.pragma.File,
				Line:     e.pragma.Line,
				Column:   1,
				Message:  fmt.Sprintf("expected %s but the analysis did not report it", e.pragma.Code),
			})
		}
	}
	return out
}
