package analyzer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phpmago/analyzer/internal/cache"
	"github.com/phpmago/analyzer/internal/diagnostic"
)

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, src := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	}
	return dir
}

func runProject(t *testing.T, files map[string]string) *Result {
	t.Helper()
	res, err := New(writeProject(t, files), Options{}).Run(context.Background())
	require.NoError(t, err)
	return res
}

func codes(diags []diagnostic.Diagnostic) []string {
	out := make([]string, 0, len(diags))
	for _, d := range diags {
		out = append(out, d.Code)
	}
	return out
}

func TestUndefinedVariableEndToEnd(t *testing.T) {
	res := runProject(t, map[string]string{
		"render.php": `<?php

function render(): string
{
    return $message;
}
`,
	})

	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, diagnostic.CodeUndefinedVariable, res.Diagnostics[0].Code)
	assert.Equal(t, 5, res.Diagnostics[0].Line)
	assert.Equal(t, 1, res.Files)
}

const comparableSource = `<?php

/**
 * @template T
 */
interface Comparable
{
    /**
     * @param T $other
     */
    public function compareTo($other): int;
}
`

func TestComparableTemplateScenario(t *testing.T) {
	t.Run("matching implementation is clean", func(t *testing.T) {
		res := runProject(t, map[string]string{
			"Comparable.php": comparableSource,
			"Data.php": `<?php

/**
 * @implements Comparable<Data>
 */
final class Data implements Comparable
{
    public function __construct(private readonly int $value)
    {
    }

    /**
     * @param Data $other
     */
    public function compareTo($other): int
    {
        return $this->value <=> $other->value;
    }
}
`,
		})
		assert.Empty(t, res.Diagnostics, "got: %v", res.Diagnostics)
	})

	t.Run("narrowing the template argument away is reported", func(t *testing.T) {
		res := runProject(t, map[string]string{
			"Comparable.php": comparableSource,
			"Data.php": `<?php

/**
 * @implements Comparable<Data>
 */
final class Data implements Comparable
{
    public function compareTo(string $other): int
    {
        return 0;
    }
}
`,
		})
		require.Len(t, res.Diagnostics, 1)
		assert.Equal(t, diagnostic.CodeIncompatibleParameterType, res.Diagnostics[0].Code)
		assert.Equal(t, "Data.php", filepath.Base(res.Diagnostics[0].File))
	})
}

func TestTraitPropertyDefaultConflict(t *testing.T) {
	res := runProject(t, map[string]string{
		"meter.php": `<?php

trait Counts
{
    public int $count = 0;
}

trait Tallies
{
    public int $count = 1;
}

class Meter
{
    use Counts;
    use Tallies;
}
`,
	})

	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, diagnostic.CodeIncompatiblePropertyDefault, res.Diagnostics[0].Code)
	assert.Equal(t, 13, res.Diagnostics[0].Line)
}

func TestTraitMethodConflict(t *testing.T) {
	t.Run("conflicting return types", func(t *testing.T) {
		res := runProject(t, map[string]string{
			"service.php": `<?php

trait Alpha
{
    public function ping(): int
    {
        return 1;
    }
}

trait Beta
{
    public function ping(): string
    {
        return 'x';
    }
}

class Service
{
    use Alpha;
    use Beta;
}
`,
		})
		require.Len(t, res.Diagnostics, 1)
		assert.Equal(t, diagnostic.CodeIncompatibleReturnType, res.Diagnostics[0].Code)
	})

	t.Run("static mismatch", func(t *testing.T) {
		res := runProject(t, map[string]string{
			"service.php": `<?php

trait Alpha
{
    public function ping(): int
    {
        return 1;
    }
}

trait Beta
{
    public static function ping(): int
    {
        return 2;
    }
}

class Service
{
    use Alpha;
    use Beta;
}
`,
		})
		require.Len(t, res.Diagnostics, 1)
		assert.Equal(t, diagnostic.CodeIncompatibleStatic, res.Diagnostics[0].Code)
	})
}

func TestImportedTypeAlias(t *testing.T) {
	const source = `<?php

/**
 * @psalm-type UserShape = array{name: string}
 */
class Source
{
}
`

	t.Run("imported alias resolves in signatures", func(t *testing.T) {
		res := runProject(t, map[string]string{
			"Source.php": source,
			"Consumer.php": `<?php

/**
 * @psalm-import-type UserShape from Source
 */
class Consumer
{
    /**
     * @return UserShape
     */
    public function make(): array
    {
        return ['name' => 'x'];
    }
}
`,
		})
		assert.Empty(t, res.Diagnostics, "got: %v", res.Diagnostics)
	})

	t.Run("violating the imported shape is reported", func(t *testing.T) {
		res := runProject(t, map[string]string{
			"Source.php": source,
			"Consumer.php": `<?php

/**
 * @psalm-import-type UserShape from Source
 */
class Consumer
{
    /**
     * @return UserShape
     */
    public function make(): array
    {
        return ['name' => 1];
    }
}
`,
		})
		require.Len(t, res.Diagnostics, 1)
		assert.Equal(t, diagnostic.CodeInvalidReturnStatement, res.Diagnostics[0].Code)
		assert.Equal(t, "Consumer.php", filepath.Base(res.Diagnostics[0].File))
	})
}

func TestInlineVarAnnotation(t *testing.T) {
	t.Run("pinned type flows into later checks", func(t *testing.T) {
		res := runProject(t, map[string]string{
			"pin.php": `<?php

function f(mixed $raw): int
{
    /** @var string $s */
    $s = $raw;
    return $s;
}
`,
		})
		require.Len(t, res.Diagnostics, 1)
		assert.Equal(t, diagnostic.CodeInvalidReturnStatement, res.Diagnostics[0].Code)
	})

	t.Run("variable name falls back to the assignment target", func(t *testing.T) {
		res := runProject(t, map[string]string{
			"pin.php": `<?php

function f(mixed $raw): int
{
    /** @var string */
    $s = $raw;
    return $s;
}
`,
		})
		require.Len(t, res.Diagnostics, 1)
		assert.Equal(t, diagnostic.CodeInvalidReturnStatement, res.Diagnostics[0].Code)
	})
}

func TestInheritDocSignatureCopyDown(t *testing.T) {
	res := runProject(t, map[string]string{
		"Base.php": `<?php

class Base
{
    /**
     * @return list<int>
     */
    public function items(): array
    {
        return [1];
    }
}
`,
		"Child.php": `<?php

class Child extends Base
{
    /**
     * @inheritDoc
     */
    public function items(): array
    {
        return ['a'];
    }
}
`,
	})

	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, diagnostic.CodeInvalidReturnStatement, res.Diagnostics[0].Code)
	assert.Equal(t, "Child.php", filepath.Base(res.Diagnostics[0].File))
}

func TestVisibilityNarrowingEndToEnd(t *testing.T) {
	res := runProject(t, map[string]string{
		"shapes.php": `<?php

class Shape
{
    public function area(): float
    {
        return 0.0;
    }
}

class Circle extends Shape
{
    protected function area(): float
    {
        return 3.14;
    }
}
`,
	})

	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, diagnostic.CodeIncompatibleVisibility, res.Diagnostics[0].Code)
}

func TestUninitializedPropertyEndToEnd(t *testing.T) {
	res := runProject(t, map[string]string{
		"point.php": `<?php

class Point
{
    private int $x;
    private int $y;

    public function __construct(int $x)
    {
        $this->x = $x;
    }
}
`,
	})

	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, diagnostic.CodeUninitializedProperty, res.Diagnostics[0].Code)
	assert.Equal(t, 6, res.Diagnostics[0].Line)
}

func TestExpectPragma(t *testing.T) {
	t.Run("consumed expectation suppresses the finding", func(t *testing.T) {
		res := runProject(t, map[string]string{
			"broken.php": `<?php

function broken(): void
{
    // @mago-expect analysis:undefined-variable
    echo $missing;
}
`,
		})
		assert.Empty(t, res.Diagnostics, "got: %v", res.Diagnostics)
	})

	t.Run("unfulfilled expectation is reported", func(t *testing.T) {
		res := runProject(t, map[string]string{
			"fine.php": `<?php

function fine(): void
{
    // @mago-expect analysis:undefined-variable
    echo 'ok';
}
`,
		})
		require.Len(t, res.Diagnostics, 1)
		assert.Equal(t, diagnostic.CodeUnfulfilledExpectation, res.Diagnostics[0].Code)
		assert.Equal(t, 5, res.Diagnostics[0].Line)
	})

	t.Run("ignore drops the finding", func(t *testing.T) {
		res := runProject(t, map[string]string{
			"noisy.php": `<?php

function noisy(): void
{
    // @mago-ignore analysis:undefined-variable
    echo $missing;
}
`,
		})
		assert.Empty(t, res.Diagnostics, "got: %v", res.Diagnostics)
	})
}

func TestDeterministicOutput(t *testing.T) {
	files := map[string]string{
		"a.php": `<?php

function a(): void
{
    echo $oops;
}
`,
		"b.php": `<?php

function b(): int
{
    return 'nope';
}
`,
	}
	dir := writeProject(t, files)

	first, err := New(dir, Options{}).Run(context.Background())
	require.NoError(t, err)
	second, err := New(dir, Options{}).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, first.Diagnostics, 2)
	assert.ElementsMatch(t,
		[]string{diagnostic.CodeUndefinedVariable, diagnostic.CodeInvalidReturnStatement},
		codes(first.Diagnostics))
	assert.Equal(t, first.Diagnostics, second.Diagnostics)
}

func TestCacheReuse(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"a.php": `<?php

function a(): void
{
    echo $oops;
}
`,
	})
	store, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	first, err := New(dir, Options{Cache: store}).Run(context.Background())
	require.NoError(t, err)
	second, err := New(dir, Options{Cache: store}).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, first.Diagnostics, 1)
	assert.Equal(t, first.Diagnostics, second.Diagnostics)
}

func TestCancelledContext(t *testing.T) {
	dir := writeProject(t, map[string]string{"a.php": "<?php function a(): void {}\n"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(dir, Options{}).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
