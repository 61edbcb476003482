package infer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phpmago/analyzer/internal/diagnostic"
	"github.com/phpmago/analyzer/internal/phpast"
	"github.com/phpmago/analyzer/internal/symbol"
	"github.com/phpmago/analyzer/internal/typing"
)

func analyze(t *testing.T, table *symbol.Table, scope Scope, body string) []diagnostic.Diagnostic {
	t.Helper()
	if table == nil {
		table = symbol.NewTable()
	}
	if !table.Frozen() {
		require.Empty(t, table.Freeze())
	}

	parser, err := phpast.NewParser()
	require.NoError(t, err)
	t.Cleanup(parser.Close)

	source := "<?php\nfunction f() {\n" + body + "\n}\n"
	file, err := phpast.ParseFile(parser, "test.php", []byte(source))
	require.NoError(t, err)
	t.Cleanup(file.Close)

	fn := phpast.FirstOfKind(file.Root(), "function_definition")
	require.NotNil(t, fn)

	scope.File = file
	if scope.Name == "" {
		scope.Name = "f"
	}
	if scope.Line == 0 {
		scope.Line = 2
	}

	col := diagnostic.NewCollector()
	New(table).AnalyzeBody(scope, fn.ChildByFieldName("body"), col)
	return col.Sorted()
}

func mustType(t *testing.T, expr string) typing.Type {
	t.Helper()
	typ, err := typing.Parse(expr, typing.ParseOptions{})
	require.NoError(t, err)
	return typ
}

func TestUndefinedVariable(t *testing.T) {
	diags := analyze(t, nil, Scope{}, `$a = $b;`)

	require.Len(t, diags, 1)
	assert.Equal(t, diagnostic.CodeUndefinedVariable, diags[0].Code)
	assert.Equal(t, diagnostic.SeverityError, diags[0].Severity)
	assert.Contains(t, diags[0].Message, "$b")
}

func TestPossiblyUndefinedVariableAfterBranch(t *testing.T) {
	scope := Scope{Params: []symbol.Parameter{{Name: "cond", Type: typing.Bool()}}}
	diags := analyze(t, nil, scope, `
if ($cond) {
    $a = 1;
}
echo $a;`)

	require.Len(t, diags, 1)
	assert.Equal(t, diagnostic.CodePossiblyUndefinedVariable, diags[0].Code)
	assert.Equal(t, diagnostic.SeverityWarning, diags[0].Severity)
}

func TestOptionalShapeKeyWithoutGuard(t *testing.T) {
	scope := Scope{Params: []symbol.Parameter{
		{Name: "user", Type: mustType(t, "array{name: string, age?: int}")},
	}}
	diags := analyze(t, nil, scope, `$n = $user['age'];`)

	require.Len(t, diags, 1)
	assert.Equal(t, diagnostic.CodePossiblyUndefinedIndex, diags[0].Code)
}

func TestIssetGuardsOptionalShapeKey(t *testing.T) {
	scope := Scope{Params: []symbol.Parameter{
		{Name: "user", Type: mustType(t, "array{name: string, age?: int}")},
	}}
	diags := analyze(t, nil, scope, `
if (isset($user['age'])) {
    $n = $user['age'];
}`)

	assert.Empty(t, diags)
}

func TestUndefinedIndexOnSealedShape(t *testing.T) {
	scope := Scope{Params: []symbol.Parameter{
		{Name: "user", Type: mustType(t, "array{name: string}")},
	}}
	diags := analyze(t, nil, scope, `$e = $user['email'];`)

	require.Len(t, diags, 1)
	assert.Equal(t, diagnostic.CodeUndefinedIndex, diags[0].Code)
	assert.Equal(t, diagnostic.SeverityError, diags[0].Severity)
	assert.Contains(t, diags[0].Message, "email")
}

func TestRedundantCondition(t *testing.T) {
	scope := Scope{
		Params:    []symbol.Parameter{{Name: "x", Type: typing.Int()}},
		Return:    typing.Int(),
		HasReturn: true,
	}
	diags := analyze(t, nil, scope, `
if (is_int($x)) {
    return $x;
}
return 0;`)

	require.Len(t, diags, 1)
	assert.Equal(t, diagnostic.CodeRedundantCondition, diags[0].Code)
	assert.Equal(t, diagnostic.SeverityWarning, diags[0].Severity)
}

func TestImpossibleCondition(t *testing.T) {
	scope := Scope{
		Params:    []symbol.Parameter{{Name: "x", Type: typing.Int()}},
		Return:    mustType(t, "int|string"),
		HasReturn: true,
	}
	diags := analyze(t, nil, scope, `
if (is_string($x)) {
    return 'a';
}
return 1;`)

	require.Len(t, diags, 1)
	assert.Equal(t, diagnostic.CodeImpossibleCondition, diags[0].Code)
}

func userTable() *symbol.Table {
	table := symbol.NewTable()
	table.AddClass(&symbol.ClassLike{
		Name: "User",
		Properties: []symbol.Property{
			{Name: "name", Type: typing.String()},
		},
		Methods: []symbol.Method{
			{Name: "id", Return: typing.Int()},
		},
	})
	return table
}

func TestNullComparisonNarrowsReceiver(t *testing.T) {
	scope := Scope{
		Params:    []symbol.Parameter{{Name: "u", Type: typing.NewUnion(typing.Object{Name: "User"}, typing.Null())}},
		Return:    typing.String(),
		HasReturn: true,
	}
	diags := analyze(t, userTable(), scope, `
if ($u === null) {
    return '';
}
return $u->name;`)

	assert.Empty(t, diags)
}

func TestNullAccessWithoutGuard(t *testing.T) {
	scope := Scope{
		Params:    []symbol.Parameter{{Name: "u", Type: typing.NewUnion(typing.Object{Name: "User"}, typing.Null())}},
		Return:    typing.String(),
		HasReturn: true,
	}
	diags := analyze(t, userTable(), scope, `return $u->name;`)

	require.Len(t, diags, 1)
	assert.Equal(t, diagnostic.CodeNullAccess, diags[0].Code)
}

func TestNonExistentMethod(t *testing.T) {
	scope := Scope{Params: []symbol.Parameter{{Name: "u", Type: typing.Object{Name: "User"}}}}
	diags := analyze(t, userTable(), scope, `$u->rename('x');`)

	require.Len(t, diags, 1)
	assert.Equal(t, diagnostic.CodeNonExistentMethod, diags[0].Code)
	assert.Contains(t, diags[0].Message, "User::rename()")
}

func TestInstanceofNarrowing(t *testing.T) {
	table := symbol.NewTable()
	table.AddClass(&symbol.ClassLike{Name: "Animal", Kind: symbol.KindClass})
	table.AddClass(&symbol.ClassLike{
		Name:    "Dog",
		Supers:  []symbol.SuperRef{{Name: "Animal", Kind: symbol.SuperExtends}},
		Methods: []symbol.Method{{Name: "bark", Return: typing.Void()}},
	})

	scope := Scope{Params: []symbol.Parameter{{Name: "a", Type: typing.Object{Name: "Animal"}}}}
	diags := analyze(t, table, scope, `
if ($a instanceof Dog) {
    $a->bark();
}`)

	assert.Empty(t, diags)
}

func TestMethodCallSubstitutesClassTemplates(t *testing.T) {
	table := symbol.NewTable()
	table.AddClass(&symbol.ClassLike{
		Name:      "Collection",
		Templates: []symbol.TemplateParam{{Name: "T"}},
		Methods: []symbol.Method{
			{Name: "first", Return: typing.TemplateParam{Name: "T", Owner: "Collection"}},
		},
	})

	scope := Scope{
		Params:    []symbol.Parameter{{Name: "c", Type: typing.Object{Name: "Collection", TypeArgs: []typing.Type{typing.Int()}}}},
		Return:    typing.Int(),
		HasReturn: true,
	}
	diags := analyze(t, table, scope, `return $c->first();`)

	assert.Empty(t, diags)
}

func TestArgumentChecks(t *testing.T) {
	table := symbol.NewTable()
	table.AddFunction(&symbol.Function{
		Name:   "greet",
		Params: []symbol.Parameter{{Name: "name", Type: typing.String()}},
		Return: typing.Void(),
	})

	t.Run("wrong type", func(t *testing.T) {
		diags := analyze(t, table, Scope{}, `greet(42);`)
		require.Len(t, diags, 1)
		assert.Equal(t, diagnostic.CodeInvalidArgument, diags[0].Code)
		assert.Contains(t, diags[0].Message, "argument 1")
	})

	t.Run("too few", func(t *testing.T) {
		diags := analyze(t, table, Scope{}, `greet();`)
		require.Len(t, diags, 1)
		assert.Equal(t, diagnostic.CodeInvalidArgument, diags[0].Code)
		assert.Contains(t, diags[0].Message, "too few")
	})

	t.Run("ok", func(t *testing.T) {
		diags := analyze(t, table, Scope{}, `greet('hi');`)
		assert.Empty(t, diags)
	})
}

func TestNonExistentFunction(t *testing.T) {
	diags := analyze(t, nil, Scope{}, `frobnicate();`)

	require.Len(t, diags, 1)
	assert.Equal(t, diagnostic.CodeNonExistentFunction, diags[0].Code)
}

func TestMissingReturnStatement(t *testing.T) {
	scope := Scope{
		Params:    []symbol.Parameter{{Name: "c", Type: typing.Bool()}},
		Return:    typing.Int(),
		HasReturn: true,
	}
	diags := analyze(t, nil, scope, `
if ($c) {
    return 1;
}`)

	require.Len(t, diags, 1)
	assert.Equal(t, diagnostic.CodeMissingReturnStatement, diags[0].Code)
}

func TestVoidReturnWithValue(t *testing.T) {
	scope := Scope{Return: typing.Void(), HasReturn: true}
	diags := analyze(t, nil, scope, `return 1;`)

	require.Len(t, diags, 1)
	assert.Equal(t, diagnostic.CodeInvalidReturnStatement, diags[0].Code)
}

func TestLoopAccumulatorConverges(t *testing.T) {
	scope := Scope{
		Params:    []symbol.Parameter{{Name: "items", Type: typing.List{Element: typing.Int()}}},
		Return:    typing.Int(),
		HasReturn: true,
	}
	diags := analyze(t, nil, scope, `
$total = 0;
foreach ($items as $item) {
    $total = $total + $item;
}
return $total;`)

	assert.Empty(t, diags)
}

func TestAssertionFunctionNarrows(t *testing.T) {
	table := symbol.NewTable()
	table.AddFunction(&symbol.Function{
		Name:   "is_positive",
		Params: []symbol.Parameter{{Name: "value", Type: typing.Mixed()}},
		Return: typing.Bool(),
		Assertions: []typing.Assertion{
			{Param: "value", Type: typing.Int(), When: typing.AssertIfTrue},
		},
	})

	scope := Scope{
		Params:    []symbol.Parameter{{Name: "v", Type: mustType(t, "int|string")}},
		Return:    typing.Int(),
		HasReturn: true,
	}
	diags := analyze(t, table, scope, `
if (is_positive($v)) {
    return $v;
}
return 0;`)

	assert.Empty(t, diags)
}

func TestNullCoalesceDropsNull(t *testing.T) {
	scope := Scope{
		Params:    []symbol.Parameter{{Name: "name", Type: mustType(t, "string|null")}},
		Return:    typing.String(),
		HasReturn: true,
	}
	diags := analyze(t, nil, scope, `return $name ?? 'anonymous';`)

	assert.Empty(t, diags)
}

func TestSwitchCaseNarrowsSubject(t *testing.T) {
	scope := Scope{
		Params:    []symbol.Parameter{{Name: "mode", Type: mustType(t, "'fast'|'slow'")}},
		Return:    typing.Int(),
		HasReturn: true,
	}
	diags := analyze(t, nil, scope, `
switch ($mode) {
    case 'fast':
        return 1;
    default:
        return 2;
}`)

	assert.Empty(t, diags)
}

func TestDiagnosticsReportedOncePerLoopBody(t *testing.T) {
	scope := Scope{Params: []symbol.Parameter{{Name: "items", Type: mustType(t, "list<array{name: string}>")}}}
	diags := analyze(t, nil, scope, `
foreach ($items as $item) {
    $e = $item['email'];
}`)

	require.Len(t, diags, 1)
	assert.Equal(t, diagnostic.CodeUndefinedIndex, diags[0].Code)
}
