package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phpmago/analyzer/internal/diagnostic"
	"github.com/phpmago/analyzer/internal/phpast"
	"github.com/phpmago/analyzer/internal/symbol"
)

func collectSource(t *testing.T, src string) (*symbol.Table, []diagnostic.Diagnostic) {
	t.Helper()
	parser, err := phpast.NewParser()
	require.NoError(t, err)
	defer parser.Close()

	file, err := phpast.ParseFile(parser, "test.php", []byte(src))
	require.NoError(t, err)
	defer file.Close()

	table := symbol.NewTable()
	col := diagnostic.NewCollector()
	c := &Collector{Table: table, Registry: NewAliasRegistry()}
	c.CollectFile(file, col)
	return table, col.Sorted()
}

func TestCollectsClassMembers(t *testing.T) {
	table, diags := collectSource(t, `<?php

namespace App;

use App\Contract\Renderable;

abstract class Widget extends Base implements Renderable
{
    public const MODE = 'compact';

    protected static ?string $label = null;

    /**
     * @param list<string> $parts
     */
    public function assemble(array $parts, int $depth = 0): string
    {
        return '';
    }
}
`)
	assert.Empty(t, diags)

	c := table.Class("App\\Widget")
	require.NotNil(t, c)
	assert.Equal(t, symbol.KindClass, c.Kind)
	assert.True(t, c.Abstract)

	require.Len(t, c.Supers, 2)
	assert.Equal(t, "App\\Base", c.Supers[0].Name)
	assert.Equal(t, symbol.SuperExtends, c.Supers[0].Kind)
	assert.Equal(t, "App\\Contract\\Renderable", c.Supers[1].Name)
	assert.Equal(t, symbol.SuperImplements, c.Supers[1].Kind)

	cons := c.Constant("MODE")
	require.NotNil(t, cons)
	assert.Equal(t, "'compact'", cons.Value)
	assert.Equal(t, "string", cons.Type.String())

	prop := c.Property("label")
	require.NotNil(t, prop)
	assert.True(t, prop.Static)
	assert.True(t, prop.HasDefault)
	assert.Equal(t, symbol.Protected, prop.Visibility)
	assert.Equal(t, "null|string", prop.Type.String())

	m := c.Method("assemble")
	require.NotNil(t, m)
	require.Len(t, m.Params, 2)
	assert.Equal(t, "list<string>", m.Params[0].Type.String())
	assert.False(t, m.Params[0].Optional)
	assert.True(t, m.Params[1].Optional)
	assert.Equal(t, "string", m.Return.String())
}

func TestCollectsBackedEnum(t *testing.T) {
	table, diags := collectSource(t, `<?php

enum Status: string
{
    case Active = 'active';
    case Retired = 'retired';

    public function label(): string
    {
        return 'x';
    }
}
`)
	assert.Empty(t, diags)

	c := table.Class("Status")
	require.NotNil(t, c)
	assert.Equal(t, symbol.KindEnum, c.Kind)
	require.NotNil(t, c.BackingType)
	assert.Equal(t, "string", c.BackingType.String())

	require.Len(t, c.Cases, 2)
	assert.Equal(t, "Active", c.Cases[0].Name)
	assert.Equal(t, "'active'", c.Cases[0].Value)
	assert.NotNil(t, c.Method("label"))
}

func TestClassTemplatesScopeMemberDocblocks(t *testing.T) {
	table, diags := collectSource(t, `<?php

/**
 * @template T
 */
class Box
{
    /**
     * @param T $item
     * @return T
     */
    public function wrap($item)
    {
        return $item;
    }
}
`)
	assert.Empty(t, diags)

	c := table.Class("Box")
	require.NotNil(t, c)
	require.Len(t, c.Templates, 1)
	assert.Equal(t, "T", c.Templates[0].Name)

	m := c.Method("wrap")
	require.NotNil(t, m)
	require.Len(t, m.Params, 1)
	assert.Equal(t, "T", m.Params[0].Type.String())
	assert.Equal(t, "T", m.Return.String())
}

func TestPromotedConstructorProperties(t *testing.T) {
	table, diags := collectSource(t, `<?php

final class Money
{
    public function __construct(
        private readonly int $amount,
        private readonly string $currency = 'EUR',
    ) {
    }
}
`)
	assert.Empty(t, diags)

	c := table.Class("Money")
	require.NotNil(t, c)

	amount := c.Property("amount")
	require.NotNil(t, amount)
	assert.Equal(t, symbol.Private, amount.Visibility)
	assert.True(t, amount.Readonly)
	assert.Equal(t, "int", amount.Type.String())

	currency := c.Property("currency")
	require.NotNil(t, currency)
	assert.True(t, currency.HasDefault)

	ctor := c.Method("__construct")
	require.NotNil(t, ctor)
	require.Len(t, ctor.Params, 2)
	assert.True(t, ctor.Params[1].Optional)
}

func TestMalformedDocTypeIsReported(t *testing.T) {
	_, diags := collectSource(t, `<?php

/**
 * @param int| $broken
 */
function f($broken): void
{
}
`)
	require.Len(t, diags, 1)
	assert.Equal(t, diagnostic.CodeInvalidType, diags[0].Code)
}

func TestFunctionCollection(t *testing.T) {
	table, diags := collectSource(t, `<?php

namespace App;

/**
 * @template T
 * @param list<T> $items
 * @return T|null
 */
function first(array $items)
{
    return $items[0] ?? null;
}
`)
	assert.Empty(t, diags)

	f := table.Function("App\\first")
	require.NotNil(t, f)
	require.Len(t, f.Templates, 1)
	assert.Equal(t, "T", f.Templates[0].Name)
	require.Len(t, f.Params, 1)
	assert.Equal(t, "list<T>", f.Params[0].Type.String())
	assert.Equal(t, "T|null", f.Return.String())
}
