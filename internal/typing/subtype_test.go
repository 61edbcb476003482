package typing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsSubtype(t *testing.T) {
	c := NewChecker(nil)

	testCases := []struct {
		name     string
		sub      Type
		super    Type
		expected bool
	}{
		{name: "int is subtype of int", sub: Int(), super: Int(), expected: true},
		{name: "int is subtype of float", sub: Int(), super: Float(), expected: true},
		{name: "float is not subtype of int", sub: Float(), super: Int(), expected: false},
		{name: "never is subtype of anything", sub: Never(), super: String(), expected: true},
		{name: "anything is subtype of mixed", sub: Object{Name: "Foo"}, super: Mixed(), expected: true},
		{name: "mixed is not subtype of int", sub: Mixed(), super: Int(), expected: false},

		{name: "literal is subtype of its scalar", sub: IntLiteral{Value: 3}, super: Int(), expected: true},
		{name: "string literal is subtype of string", sub: StringLiteral{Value: "a"}, super: String(), expected: true},
		{name: "distinct literals are unrelated", sub: IntLiteral{Value: 3}, super: IntLiteral{Value: 4}, expected: false},
		{name: "literal is subtype of union containing it", sub: StringLiteral{Value: "a"}, super: NewUnion(StringLiteral{Value: "a"}, StringLiteral{Value: "b"}), expected: true},
		{name: "true is subtype of bool", sub: BoolLiteral{Value: true}, super: Bool(), expected: true},
		{name: "bool is not subtype of true", sub: Bool(), super: BoolLiteral{Value: true}, expected: false},

		{name: "union left distributes as forall", sub: NewUnion(Int(), String()), super: NewUnion(Int(), String(), Null()), expected: true},
		{name: "union left fails on uncovered member", sub: NewUnion(Int(), Object{Name: "Foo"}), super: NewUnion(Int(), String()), expected: false},
		{name: "member is subtype of union", sub: Int(), super: NewUnion(Int(), String()), expected: true},

		{name: "string is not null", sub: String(), super: Null(), expected: false},
		{name: "null is subtype of nullable", sub: Null(), super: Nullable(String()), expected: true},

		{name: "intersection right requires all", sub: Object{Name: "Foo"}, super: NewIntersection(Object{Name: "Foo"}, Object{Name: "Bar"}), expected: false},
		{
			name:     "intersection left satisfies by any member",
			sub:      NewIntersection(Object{Name: "Foo"}, Object{Name: "Bar"}),
			super:    Object{Name: "Foo"},
			expected: true,
		},

		{name: "object name comparison is case-insensitive", sub: Object{Name: "App\\Entity\\User"}, super: Object{Name: "app\\entity\\user"}, expected: true},
		{name: "unrelated objects without hierarchy", sub: Object{Name: "Foo"}, super: Object{Name: "Bar"}, expected: false},
		{name: "any object is subtype of object", sub: Object{Name: "Foo"}, super: Object{Name: "object"}, expected: true},
		{name: "bare generic name accepts any instantiation", sub: Object{Name: "Collection", TypeArgs: []Type{Int()}}, super: Object{Name: "Collection"}, expected: true},
		{
			name:     "template args invariant without declared variance",
			sub:      Object{Name: "Collection", TypeArgs: []Type{Int()}},
			super:    Object{Name: "Collection", TypeArgs: []Type{Float()}},
			expected: false,
		},

		{name: "list of subtype elements", sub: List{Element: Int()}, super: List{Element: NewUnion(Int(), String())}, expected: true},
		{name: "callable covariant return", sub: Callable{Return: Int()}, super: Callable{Return: Float()}, expected: true},
		{
			name:     "callable contravariant parameter",
			sub:      Callable{Params: []CallableParam{{Type: NewUnion(Int(), String())}}, Return: Int()},
			super:    Callable{Params: []CallableParam{{Type: Int()}}, Return: Int()},
			expected: true,
		},
		{
			name:     "callable narrowing parameter rejected",
			sub:      Callable{Params: []CallableParam{{Type: Int()}}, Return: Int()},
			super:    Callable{Params: []CallableParam{{Type: NewUnion(Int(), String())}}, Return: Int()},
			expected: false,
		},

		{name: "int literal in mask", sub: IntLiteral{Value: 6}, super: IntMask{Bits: []int64{1, 2, 4}}, expected: true},
		{name: "int literal outside mask", sub: IntLiteral{Value: 8}, super: IntMask{Bits: []int64{1, 2, 4}}, expected: false},
		{name: "zero is always in a mask", sub: IntLiteral{Value: 0}, super: IntMask{Bits: []int64{1, 2, 4}}, expected: true},
		{name: "mask is subtype of int", sub: IntMask{Bits: []int64{1, 2}}, super: Int(), expected: true},
		{name: "plain int is not subtype of mask", sub: Int(), super: IntMask{Bits: []int64{1, 2}}, expected: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, c.IsSubtype(tc.sub, tc.super))
		})
	}
}

func TestShapeSubtyping(t *testing.T) {
	c := NewChecker(nil)

	sealed := func(keys ...ShapeKey) Shape { return Shape{Sealed: true, Keys: keys} }

	testCases := []struct {
		name     string
		sub      Type
		super    Type
		expected bool
	}{
		{
			name:     "sealed shape covers required keys",
			sub:      sealed(ShapeKey{Name: "name", Value: String()}, ShapeKey{Name: "age", Value: Int()}),
			super:    sealed(ShapeKey{Name: "name", Value: String()}, ShapeKey{Name: "age", Value: Int(), Optional: true}),
			expected: true,
		},
		{
			name:     "missing required key fails",
			sub:      sealed(ShapeKey{Name: "name", Value: String()}),
			super:    sealed(ShapeKey{Name: "name", Value: String()}, ShapeKey{Name: "age", Value: Int()}),
			expected: false,
		},
		{
			name:     "extra key rejected by sealed supertype",
			sub:      sealed(ShapeKey{Name: "name", Value: String()}, ShapeKey{Name: "extra", Value: Int()}),
			super:    sealed(ShapeKey{Name: "name", Value: String()}),
			expected: false,
		},
		{
			name:     "sealed shape fits unsealed supertype",
			sub:      sealed(ShapeKey{Name: "name", Value: String()}),
			super:    Shape{ExtraKey: String(), ExtraValue: String()},
			expected: true,
		},
		{
			name:     "unsealed extra type must fit",
			sub:      Shape{ExtraKey: String(), ExtraValue: Int()},
			super:    Shape{ExtraKey: String(), ExtraValue: NewUnion(Int(), String())},
			expected: true,
		},
		{
			name:     "unsealed extra type mismatch",
			sub:      Shape{ExtraKey: String(), ExtraValue: Object{Name: "Foo"}},
			super:    Shape{ExtraKey: String(), ExtraValue: Int()},
			expected: false,
		},
		{
			name:     "unsealed shape never fits sealed supertype",
			sub:      Shape{Keys: []ShapeKey{{Name: "name", Value: String()}}, ExtraKey: String(), ExtraValue: Mixed()},
			super:    sealed(ShapeKey{Name: "name", Value: String()}),
			expected: false,
		},
		{
			name:     "positional sealed shape is a list",
			sub:      sealed(ShapeKey{Name: "0", Value: Int()}, ShapeKey{Name: "1", Value: Int()}),
			super:    List{Element: Int()},
			expected: true,
		},
		{
			name:     "string-keyed shape is not a list",
			sub:      sealed(ShapeKey{Name: "name", Value: Int()}),
			super:    List{Element: Int()},
			expected: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, c.IsSubtype(tc.sub, tc.super))
		})
	}
}

// Reflexivity and transitivity over a representative sample of the algebra.
func TestSubtypeLaws(t *testing.T) {
	c := NewChecker(nil)

	sample := []Type{
		Int(), Float(), String(), Bool(), Null(), Mixed(), Never(),
		IntLiteral{Value: 1}, StringLiteral{Value: "a"}, BoolLiteral{Value: true},
		NewUnion(Int(), String()),
		NewUnion(Int(), Null()),
		Object{Name: "Foo"},
		Object{Name: "object"},
		List{Element: Int()},
		Shape{Sealed: true, Keys: []ShapeKey{{Name: "name", Value: String()}}},
		Shape{ExtraKey: String(), ExtraValue: Mixed()},
		Callable{Params: []CallableParam{{Type: Int()}}, Return: String()},
		IntMask{Bits: []int64{1, 2, 4}},
	}

	for _, a := range sample {
		assert.True(t, c.IsSubtype(a, a), "reflexivity failed for %s", a)
	}

	for _, a := range sample {
		for _, b := range sample {
			for _, d := range sample {
				if c.IsSubtype(a, b) && c.IsSubtype(b, d) {
					assert.True(t, c.IsSubtype(a, d), "transitivity failed: %s <: %s <: %s", a, b, d)
				}
			}
		}
	}

	for _, a := range sample {
		for _, b := range sample {
			u := c.Union(a, b)
			assert.True(t, c.IsSubtype(a, u), "union not an upper bound of %s and %s", a, b)
			assert.True(t, c.IsSubtype(b, u), "union not an upper bound of %s and %s", a, b)

			i := c.Intersect(a, b)
			assert.True(t, c.IsSubtype(i, a), "intersection not a lower bound of %s and %s", a, b)
			assert.True(t, c.IsSubtype(i, b), "intersection not a lower bound of %s and %s", a, b)
		}
	}
}
