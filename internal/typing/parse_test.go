package typing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		name     string
		src      string
		expected string
	}{
		{name: "scalar", src: "int", expected: "int"},
		{name: "scalar alias", src: "boolean", expected: "bool"},
		{name: "nullable", src: "?string", expected: "null|string"},
		{name: "union", src: "int|string|null", expected: "int|null|string"},
		{name: "nullable union", src: "?string|int", expected: "int|null|string"},
		{name: "intersection", src: "Countable&Traversable", expected: "Countable&Traversable"},
		{name: "class name", src: "App\\Entity\\User", expected: "App\\Entity\\User"},
		{name: "leading backslash stripped", src: "\\App\\Entity\\User", expected: "App\\Entity\\User"},
		{name: "generic object", src: "Collection<int, User>", expected: "Collection<int, User>"},
		{name: "nested generics", src: "Collection<int, Collection<int, User>>", expected: "Collection<int, Collection<int, User>>"},
		{name: "typed array suffix", src: "string[]", expected: "array<int|string, string>"},
		{name: "generic array", src: "array<string, int>", expected: "array<string, int>"},
		{name: "value-only array", src: "array<int>", expected: "array<int|string, int>"},
		{name: "plain array", src: "array", expected: "array"},
		{name: "list", src: "list<string>", expected: "list<string>"},
		{name: "sealed shape", src: "array{name: string, age?: int}", expected: "array{name: string, age?: int}"},
		{name: "unsealed shape", src: "array{name: string, ...}", expected: "array{name: string, ...}"},
		{name: "positional shape", src: "array{int, string}", expected: "array{0: int, 1: string}"},
		{name: "string literal", src: "'draft'|'published'", expected: "'draft'|'published'"},
		{name: "int literal", src: "0|1", expected: "0|1"},
		{name: "bool literals", src: "true|false", expected: "false|true"},
		{name: "int mask", src: "int-mask<1, 2, 4>", expected: "int-mask<1, 2, 4>"},
		{name: "callable signature", src: "callable(int, string=): bool", expected: "callable(int, string=): bool"},
		{name: "bare callable", src: "callable", expected: "callable(): mixed"},
		{name: "closure with signature", src: "Closure(int): int", expected: "callable(int): int"},
		{name: "conditional return", src: "($flag is true ? string : int)", expected: "($flag is true ? string : int)"},
		{name: "generator", src: "Generator<int, string, mixed, void>", expected: "Generator<int, string, mixed, void>"},
		{name: "array-key", src: "array-key", expected: "int|string"},
		{name: "scalar keyword", src: "scalar", expected: "bool|float|int|string"},
		{name: "never aliases", src: "no-return", expected: "never"},
		{name: "string refinement", src: "non-empty-string", expected: "string"},
		{name: "class-string", src: "class-string<User>", expected: "string"},
		{name: "int refinement", src: "positive-int", expected: "int"},
		{name: "int range", src: "int<0, max>", expected: "int"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			typ, err := Parse(tc.src, ParseOptions{})
			require.NoError(t, err)
			assert.Equal(t, tc.expected, typ.String())
		})
	}
}

func TestParseErrors(t *testing.T) {
	testCases := []struct {
		name string
		src  string
	}{
		{name: "empty", src: ""},
		{name: "unterminated generic", src: "Collection<int"},
		{name: "unterminated shape", src: "array{name: string"},
		{name: "trailing garbage", src: "int ^"},
		{name: "unterminated string literal", src: "'abc"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			typ, err := Parse(tc.src, ParseOptions{})
			assert.Error(t, err)
			// Malformed expressions degrade to mixed so analysis continues.
			assert.True(t, IsMixed(typ))
		})
	}
}

func TestParseResolvesNames(t *testing.T) {
	opts := ParseOptions{
		ResolveName: func(name string) string {
			if name == "User" {
				return "App\\Entity\\User"
			}
			return name
		},
	}
	typ, err := Parse("User|null", opts)
	require.NoError(t, err)
	assert.Equal(t, "App\\Entity\\User|null", typ.String())

	// Fully qualified names bypass the resolver.
	typ, err = Parse("\\User", opts)
	require.NoError(t, err)
	assert.Equal(t, "User", typ.String())
}

func TestParseTemplatesAndAliases(t *testing.T) {
	opts := ParseOptions{
		Templates: map[string]TemplateParam{
			"T": {Name: "T", Owner: "Collection", Bound: Mixed()},
		},
		Aliases: map[string]Type{
			"UserData": Shape{Sealed: true, Keys: []ShapeKey{{Name: "id", Value: Int()}}},
		},
	}

	typ, err := Parse("T|null", opts)
	require.NoError(t, err)
	union, ok := typ.(Union)
	require.True(t, ok)
	_, isTemplate := union.Members[0].(TemplateParam)
	if !isTemplate {
		_, isTemplate = union.Members[1].(TemplateParam)
	}
	assert.True(t, isTemplate)

	typ, err = Parse("UserData", opts)
	require.NoError(t, err)
	assert.Equal(t, "array{id: int}", typ.String())
}
