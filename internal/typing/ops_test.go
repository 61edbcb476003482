package typing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubtract(t *testing.T) {
	c := NewChecker(nil)

	testCases := []struct {
		name     string
		from     Type
		remove   Type
		expected string
	}{
		{name: "null from nullable string", from: Nullable(String()), remove: Null(), expected: "string"},
		{name: "string from int|string", from: NewUnion(Int(), String()), remove: String(), expected: "int"},
		{name: "everything removed yields never", from: String(), remove: String(), expected: "never"},
		{name: "mixed cannot be narrowed by subtraction", from: Mixed(), remove: Null(), expected: "mixed"},
		{name: "false from bool leaves true", from: Bool(), remove: BoolLiteral{Value: false}, expected: "true"},
		{name: "literal from literal union", from: NewUnion(StringLiteral{Value: "a"}, StringLiteral{Value: "b"}), remove: StringLiteral{Value: "a"}, expected: "'b'"},
		{name: "object from object|null", from: NewUnion(Object{Name: "Foo"}, Null()), remove: Object{Name: "Foo"}, expected: "null"},
		{name: "unrelated subtraction is identity", from: NewUnion(Int(), String()), remove: Object{Name: "Foo"}, expected: "int|string"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, c.Subtract(tc.from, tc.remove).String())
		})
	}
}

// merge(narrow(E, C, true), narrow(E, C, false)) must cover the original
// environment type; here expressed on the algebra directly.
func TestIntersectSubtractRoundTrip(t *testing.T) {
	c := NewChecker(nil)

	testCases := []struct {
		name      string
		declared  Type
		condition Type
	}{
		{name: "nullable string against null", declared: Nullable(String()), condition: Null()},
		{name: "union against one member", declared: NewUnion(Int(), String(), Null()), condition: String()},
		{name: "bool against true", declared: Bool(), condition: BoolLiteral{Value: true}},
		{name: "mixed against string", declared: Mixed(), condition: String()},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			truthy := c.Intersect(tc.declared, tc.condition)
			falsy := c.Subtract(tc.declared, tc.condition)
			merged := c.Union(truthy, falsy)
			assert.True(t, c.IsSubtype(tc.declared, merged),
				"narrowing invented information: %s not covered by %s", tc.declared, merged)
		})
	}
}

func TestSubstitute(t *testing.T) {
	tp := TemplateParam{Name: "T", Owner: "Collection", Bound: Mixed()}
	binding := []TemplateBinding{{Param: tp, To: Object{Name: "App\\Entity\\User"}}}

	testCases := []struct {
		name     string
		typ      Type
		expected string
	}{
		{name: "bare parameter", typ: tp, expected: "App\\Entity\\User"},
		{name: "inside union", typ: NewUnion(tp, Null()), expected: "App\\Entity\\User|null"},
		{name: "inside generic args", typ: Object{Name: "Collection", TypeArgs: []Type{Int(), tp}}, expected: "Collection<int, App\\Entity\\User>"},
		{name: "inside list", typ: List{Element: tp}, expected: "list<App\\Entity\\User>"},
		{
			name:     "inside shape",
			typ:      Shape{Sealed: true, Keys: []ShapeKey{{Name: "item", Value: tp}}},
			expected: "array{item: App\\Entity\\User}",
		},
		{
			name:     "inside callable",
			typ:      Callable{Params: []CallableParam{{Type: tp}}, Return: tp},
			expected: "callable(App\\Entity\\User): App\\Entity\\User",
		},
		{name: "unbound parameter untouched", typ: TemplateParam{Name: "U", Owner: "Collection"}, expected: "U"},
		{name: "plain type untouched", typ: Int(), expected: "int"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Substitute(tc.typ, binding).String())
		})
	}
}

func TestWiden(t *testing.T) {
	assert.Equal(t, "int", Widen(IntLiteral{Value: 3}).String())
	assert.Equal(t, "string", Widen(StringLiteral{Value: "a"}).String())
	assert.Equal(t, "bool", Widen(NewUnion(BoolLiteral{Value: true}, BoolLiteral{Value: false})).String())
	assert.Equal(t, "int", Widen(IntMask{Bits: []int64{1, 2}}).String())
	assert.Equal(t, "int|string", Widen(NewUnion(IntLiteral{Value: 1}, String())).String())
}

func TestContainsTemplate(t *testing.T) {
	tp := TemplateParam{Name: "T", Owner: "f"}
	assert.True(t, ContainsTemplate(NewUnion(Int(), tp)))
	assert.True(t, ContainsTemplate(Object{Name: "Collection", TypeArgs: []Type{tp}}))
	assert.False(t, ContainsTemplate(NewUnion(Int(), String())))
}
