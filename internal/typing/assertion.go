package typing

// AssertionWhen says on which outcome of a call an assertion applies.
type AssertionWhen int

const (
	// AssertAlways narrows unconditionally after the call returns.
	AssertAlways AssertionWhen = iota
	// AssertIfTrue narrows in the branch where the call returned true.
	AssertIfTrue
	// AssertIfFalse narrows in the branch where the call returned false.
	AssertIfFalse
)

// Assertion is a custom narrowing declared on a function or method through
// @psalm-assert, @phpstan-assert and friends: after the call, Param is known
// to be (or, when Negated, known not to be) of Type.
type Assertion struct {
	Param   string
	Type    Type
	When    AssertionWhen
	Negated bool
}
