package stub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phpmago/analyzer/internal/symbol"
	"github.com/phpmago/analyzer/internal/typing"
)

func TestCoreHierarchyResolves(t *testing.T) {
	table := symbol.NewTable()
	Register(table)

	assert.Empty(t, table.Freeze())

	assert.True(t, table.IsAncestor("Generator", "Traversable"))
	assert.True(t, table.IsAncestor("RuntimeException", "Throwable"))
	assert.True(t, table.IsAncestor("TypeError", "Throwable"))
	assert.True(t, table.IsAncestor("Exception", "Stringable"))
	assert.True(t, table.IsAncestor("BackedEnum", "UnitEnum"))
}

func TestGeneratorInstantiation(t *testing.T) {
	table := symbol.NewTable()
	Register(table)
	require.Empty(t, table.Freeze())

	gen := typing.Object{Name: "Generator", TypeArgs: []typing.Type{
		typing.Int(), typing.String(), typing.Mixed(), typing.Void(),
	}}
	inst, ok := table.AncestorInstantiation(gen, "Iterator")
	require.True(t, ok)
	require.Len(t, inst.TypeArgs, 2)
	assert.Equal(t, "int", inst.TypeArgs[0].String())
	assert.Equal(t, "string", inst.TypeArgs[1].String())
}

func TestProjectDeclarationWins(t *testing.T) {
	table := symbol.NewTable()
	Register(table)

	table.AddClass(&symbol.ClassLike{
		Name:    "Exception",
		Kind:    symbol.KindClass,
		Supers:  []symbol.SuperRef{{Name: "Throwable", Kind: symbol.SuperImplements}},
		Methods: []symbol.Method{{Name: "custom", Return: typing.Void()}},
	})
	require.Empty(t, table.Freeze())

	c := table.Class("Exception")
	require.NotNil(t, c)
	assert.NotNil(t, c.Method("custom"))
}

func TestIteratorMethodLookup(t *testing.T) {
	table := symbol.NewTable()
	Register(table)
	require.Empty(t, table.Freeze())

	gen := typing.Object{Name: "Generator", TypeArgs: []typing.Type{
		typing.Int(), typing.Object{Name: "stdClass"}, typing.Mixed(), typing.Void(),
	}}
	m, lookup, ok := table.MethodOn(gen, "current")
	require.True(t, ok)
	got := typing.Substitute(m.Return, lookup.Bindings)
	assert.Equal(t, "stdClass", got.String())
}
