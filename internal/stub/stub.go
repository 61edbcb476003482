// Package stub declares the core runtime symbols the engine always needs:
// the iterator hierarchy, the throwable chain and the enum interfaces.
// Hierarchy resolution depends on these even when no stub files are loaded,
// so they are constructed programmatically and merged before the symbol
// table freezes.
package stub

import (
	"github.com/phpmago/analyzer/internal/symbol"
	"github.com/phpmago/analyzer/internal/typing"
)

// Register adds the core symbols to an unfrozen table. Project declarations
// added afterwards win, since later AddClass calls replace earlier ones.
func Register(table *symbol.Table) {
	for _, c := range coreClasses() {
		table.AddClass(c)
	}
}

func tpl(owner, name string) typing.Type {
	return typing.TemplateParam{Name: name, Owner: owner}
}

func coreClasses() []*symbol.ClassLike {
	throwableMethods := []symbol.Method{
		{Name: "getMessage", Return: typing.String()},
		{Name: "getCode", Return: typing.Int()},
		{Name: "getFile", Return: typing.String()},
		{Name: "getLine", Return: typing.Int()},
		{Name: "getTrace", Return: typing.Shape{ExtraKey: typing.Int(), ExtraValue: typing.Mixed()}},
		{Name: "getTraceAsString", Return: typing.String()},
		{Name: "getPrevious", Return: typing.NewUnion(typing.Object{Name: "Throwable"}, typing.Null())},
		{Name: "__toString", Return: typing.String()},
	}

	exception := func(name, parent string) *symbol.ClassLike {
		return &symbol.ClassLike{
			Name:   name,
			Kind:   symbol.KindClass,
			Supers: []symbol.SuperRef{{Name: parent, Kind: symbol.SuperExtends}},
		}
	}

	return []*symbol.ClassLike{
		{
			Name: "Traversable",
			Kind: symbol.KindInterface,
			Templates: []symbol.TemplateParam{
				{Name: "TKey", Variance: typing.Covariant},
				{Name: "TValue", Variance: typing.Covariant},
			},
		},
		{
			Name: "Iterator",
			Kind: symbol.KindInterface,
			Templates: []symbol.TemplateParam{
				{Name: "TKey", Variance: typing.Covariant},
				{Name: "TValue", Variance: typing.Covariant},
			},
			Supers: []symbol.SuperRef{{
				Name: "Traversable",
				Kind: symbol.SuperExtends,
				Args: []typing.Type{tpl("Iterator", "TKey"), tpl("Iterator", "TValue")},
			}},
			Methods: []symbol.Method{
				{Name: "current", Return: tpl("Iterator", "TValue")},
				{Name: "key", Return: tpl("Iterator", "TKey")},
				{Name: "next", Return: typing.Void()},
				{Name: "rewind", Return: typing.Void()},
				{Name: "valid", Return: typing.Bool()},
			},
		},
		{
			Name: "IteratorAggregate",
			Kind: symbol.KindInterface,
			Templates: []symbol.TemplateParam{
				{Name: "TKey", Variance: typing.Covariant},
				{Name: "TValue", Variance: typing.Covariant},
			},
			Supers: []symbol.SuperRef{{
				Name: "Traversable",
				Kind: symbol.SuperExtends,
				Args: []typing.Type{tpl("IteratorAggregate", "TKey"), tpl("IteratorAggregate", "TValue")},
			}},
			Methods: []symbol.Method{
				{Name: "getIterator", Return: typing.Object{
					Name:     "Traversable",
					TypeArgs: []typing.Type{tpl("IteratorAggregate", "TKey"), tpl("IteratorAggregate", "TValue")},
				}},
			},
		},
		{
			Name: "Generator",
			Kind: symbol.KindClass,
			Templates: []symbol.TemplateParam{
				{Name: "TKey"},
				{Name: "TValue"},
				{Name: "TSend", Variance: typing.Contravariant},
				{Name: "TReturn"},
			},
			Supers: []symbol.SuperRef{{
				Name: "Iterator",
				Kind: symbol.SuperImplements,
				Args: []typing.Type{tpl("Generator", "TKey"), tpl("Generator", "TValue")},
			}},
			Final: true,
			Methods: []symbol.Method{
				{Name: "current", Return: tpl("Generator", "TValue")},
				{Name: "key", Return: tpl("Generator", "TKey")},
				{Name: "next", Return: typing.Void()},
				{Name: "rewind", Return: typing.Void()},
				{Name: "valid", Return: typing.Bool()},
				{Name: "send", Params: []symbol.Parameter{{Name: "value", Type: tpl("Generator", "TSend")}}, Return: tpl("Generator", "TValue")},
				{Name: "getReturn", Return: tpl("Generator", "TReturn")},
			},
		},
		{
			Name: "ArrayAccess",
			Kind: symbol.KindInterface,
			Templates: []symbol.TemplateParam{
				{Name: "TKey"},
				{Name: "TValue"},
			},
			Methods: []symbol.Method{
				{Name: "offsetExists", Params: []symbol.Parameter{{Name: "offset", Type: typing.Mixed()}}, Return: typing.Bool()},
				{Name: "offsetGet", Params: []symbol.Parameter{{Name: "offset", Type: typing.Mixed()}}, Return: tpl("ArrayAccess", "TValue")},
				{Name: "offsetSet", Params: []symbol.Parameter{
					{Name: "offset", Type: typing.Mixed()},
					{Name: "value", Type: typing.Mixed()},
				}, Return: typing.Void()},
				{Name: "offsetUnset", Params: []symbol.Parameter{{Name: "offset", Type: typing.Mixed()}}, Return: typing.Void()},
			},
		},
		{
			Name: "Countable",
			Kind: symbol.KindInterface,
			Methods: []symbol.Method{
				{Name: "count", Return: typing.Int()},
			},
		},
		{
			Name: "Stringable",
			Kind: symbol.KindInterface,
			Methods: []symbol.Method{
				{Name: "__toString", Return: typing.String()},
			},
		},
		{
			Name:    "Throwable",
			Kind:    symbol.KindInterface,
			Supers:  []symbol.SuperRef{{Name: "Stringable", Kind: symbol.SuperExtends}},
			Methods: throwableMethods,
		},
		{
			Name:   "Exception",
			Kind:   symbol.KindClass,
			Supers: []symbol.SuperRef{{Name: "Throwable", Kind: symbol.SuperImplements}},
			Properties: []symbol.Property{
				{Name: "message", Type: typing.String(), Visibility: symbol.Protected, HasDefault: true, Default: "''"},
				{Name: "code", Type: typing.Int(), Visibility: symbol.Protected, HasDefault: true, Default: "0"},
			},
			Methods: append([]symbol.Method{
				{Name: "__construct", Params: []symbol.Parameter{
					{Name: "message", Type: typing.String(), Optional: true},
					{Name: "code", Type: typing.Int(), Optional: true},
					{Name: "previous", Type: typing.NewUnion(typing.Object{Name: "Throwable"}, typing.Null()), Optional: true},
				}, Return: typing.Void()},
			}, throwableMethods...),
		},
		{
			Name:   "Error",
			Kind:   symbol.KindClass,
			Supers: []symbol.SuperRef{{Name: "Throwable", Kind: symbol.SuperImplements}},
			Methods: append([]symbol.Method{
				{Name: "__construct", Params: []symbol.Parameter{
					{Name: "message", Type: typing.String(), Optional: true},
					{Name: "code", Type: typing.Int(), Optional: true},
					{Name: "previous", Type: typing.NewUnion(typing.Object{Name: "Throwable"}, typing.Null()), Optional: true},
				}, Return: typing.Void()},
			}, throwableMethods...),
		},
		exception("RuntimeException", "Exception"),
		exception("LogicException", "Exception"),
		exception("InvalidArgumentException", "LogicException"),
		exception("DomainException", "LogicException"),
		exception("OutOfRangeException", "LogicException"),
		exception("UnexpectedValueException", "RuntimeException"),
		exception("TypeError", "Error"),
		exception("ValueError", "Error"),
		exception("ArgumentCountError", "TypeError"),
		{
			Name: "UnitEnum",
			Kind: symbol.KindInterface,
			Methods: []symbol.Method{
				{Name: "cases", Static: true, Return: typing.List{Element: typing.Object{Name: "UnitEnum"}}},
			},
		},
		{
			Name:   "BackedEnum",
			Kind:   symbol.KindInterface,
			Supers: []symbol.SuperRef{{Name: "UnitEnum", Kind: symbol.SuperExtends}},
			Methods: []symbol.Method{
				{Name: "from", Static: true,
					Params: []symbol.Parameter{{Name: "value", Type: typing.NewUnion(typing.Int(), typing.String())}},
					Return: typing.Object{Name: "BackedEnum"}},
				{Name: "tryFrom", Static: true,
					Params: []symbol.Parameter{{Name: "value", Type: typing.NewUnion(typing.Int(), typing.String())}},
					Return: typing.NewUnion(typing.Object{Name: "BackedEnum"}, typing.Null())},
			},
		},
		{
			Name: "Closure",
			Kind: symbol.KindClass,
			Final: true,
		},
		{
			Name: "stdClass",
			Kind: symbol.KindClass,
		},
	}
}
