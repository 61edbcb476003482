package phpast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phpmago/analyzer/internal/diagnostic"
)

func parseSource(t *testing.T, source string) *File {
	t.Helper()
	parser, err := NewParser()
	require.NoError(t, err)
	t.Cleanup(parser.Close)

	file, err := ParseFile(parser, "test.php", []byte(source))
	require.NoError(t, err)
	t.Cleanup(file.Close)
	return file
}

func TestParseFileCollectsNamespaceContext(t *testing.T) {
	file := parseSource(t, `<?php

namespace App\Service;

use App\Entity\User;
use Doctrine\DBAL\Connection as Db;
use Symfony\Component\{HttpFoundation\Request, Routing\Router as R};

class UserService {}
`)

	assert.Equal(t, "App\\Service", file.Namespace)
	assert.Equal(t, "App\\Entity\\User", file.Uses["User"])
	assert.Equal(t, "Symfony\\Component\\HttpFoundation\\Request", file.Uses["Request"])
	assert.Equal(t, "Doctrine\\DBAL\\Connection", file.Aliases["Db"])
	assert.Equal(t, "Symfony\\Component\\Routing\\Router", file.Aliases["R"])
}

func TestNameResolver(t *testing.T) {
	resolver := NewNameResolver(
		"App\\Service",
		map[string]string{"User": "App\\Entity\\User"},
		map[string]string{"Db": "Doctrine\\DBAL\\Connection"},
	)

	testCases := []struct {
		name     string
		typeName string
		expected string
	}{
		{name: "use statement", typeName: "User", expected: "App\\Entity\\User"},
		{name: "alias", typeName: "Db", expected: "Doctrine\\DBAL\\Connection"},
		{name: "current namespace fallback", typeName: "Helper", expected: "App\\Service\\Helper"},
		{name: "fully qualified", typeName: "\\Acme\\Thing", expected: "Acme\\Thing"},
		{name: "relative through use", typeName: "User\\Factory", expected: "App\\Entity\\User\\Factory"},
		{name: "relative through namespace", typeName: "Sub\\Helper", expected: "App\\Service\\Sub\\Helper"},
		{name: "primitive untouched", typeName: "string", expected: "string"},
		{name: "special untouched", typeName: "self", expected: "self"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, resolver.Resolve(tc.typeName))
		})
	}
}

func TestNativeTypeConversion(t *testing.T) {
	file := parseSource(t, `<?php
function f(?int $a, string|false $b, Countable&Traversable $c, array $d): void {}
`)

	fn := FirstOfKind(file.Root(), "function_definition")
	require.NotNil(t, fn)
	resolver := file.Resolver()

	params := fn.ChildByFieldName("parameters")
	require.NotNil(t, params)

	var rendered []string
	for _, param := range NamedChildren(params) {
		if param.Kind() != "simple_parameter" {
			continue
		}
		typeNode := param.ChildByFieldName("type")
		rendered = append(rendered, NativeType(typeNode, file.Content, resolver).String())
	}
	assert.Equal(t, []string{"int|null", "false|string", "Countable&Traversable", "array"}, rendered)

	returnType := fn.ChildByFieldName("return_type")
	require.NotNil(t, returnType)
	assert.Equal(t, "void", NativeType(returnType, file.Content, resolver).String())
}

func TestNativeTypeResolvesNames(t *testing.T) {
	file := parseSource(t, `<?php
namespace App;

use Acme\Logger;

function f(Logger $log, Entity $e) {}
`)

	fn := FirstOfKind(file.Root(), "function_definition")
	require.NotNil(t, fn)
	resolver := file.Resolver()

	params := fn.ChildByFieldName("parameters")
	var rendered []string
	for _, param := range NamedChildren(params) {
		if param.Kind() != "simple_parameter" {
			continue
		}
		rendered = append(rendered, NativeType(param.ChildByFieldName("type"), file.Content, resolver).String())
	}
	assert.Equal(t, []string{"Acme\\Logger", "App\\Entity"}, rendered)

	// A missing hint yields mixed.
	assert.Equal(t, "mixed", NativeType(nil, file.Content, resolver).String())
}

func TestDocCommentFor(t *testing.T) {
	file := parseSource(t, `<?php
/** @return int */
function f() {}

// not a docblock
function g() {}
`)

	var fns []string
	for _, child := range NamedChildren(file.Root()) {
		if child.Kind() == "function_definition" {
			fns = append(fns, DocCommentFor(child, file.Content))
		}
	}
	require.Len(t, fns, 2)
	assert.Equal(t, "/** @return int */", fns[0])
	assert.Equal(t, "", fns[1])
}

func TestPragmaExtraction(t *testing.T) {
	file := parseSource(t, `<?php
// @mago-expect analysis:redundant-condition
$a = 1;
/** @mago-ignore analysis:null-access */
$b = 2;
// @mago-expect analysis:invalid-argument,analysis:invalid-return-statement
$c = 3;
// plain comment
`)

	pragmas := file.Pragmas()
	require.Len(t, pragmas, 4)

	assert.Equal(t, diagnostic.Pragma{Kind: diagnostic.PragmaExpect, Code: "analysis:redundant-condition", File: "test.php", Line: 2}, pragmas[0])
	assert.Equal(t, diagnostic.Pragma{Kind: diagnostic.PragmaIgnore, Code: "analysis:null-access", File: "test.php", Line: 4}, pragmas[1])
	assert.Equal(t, "analysis:invalid-argument", pragmas[2].Code)
	assert.Equal(t, "analysis:invalid-return-statement", pragmas[3].Code)
	assert.Equal(t, 6, pragmas[2].Line)
}

func TestHasModifier(t *testing.T) {
	file := parseSource(t, `<?php
class C {
    final public static function f(): void {}
    private readonly int $x;
}
`)

	method := FirstOfKind(file.Root(), "method_declaration")
	require.NotNil(t, method)
	assert.True(t, HasModifier(method, file.Content, "static"))
	assert.True(t, HasModifier(method, file.Content, "final"))
	assert.True(t, HasModifier(method, file.Content, "public"))
	assert.False(t, HasModifier(method, file.Content, "abstract"))

	prop := FirstOfKind(file.Root(), "property_declaration")
	require.NotNil(t, prop)
	assert.True(t, HasModifier(prop, file.Content, "private"))
	assert.True(t, HasModifier(prop, file.Content, "readonly"))
}
