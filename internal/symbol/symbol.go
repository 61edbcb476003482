// Package symbol holds the class-like symbol table and the hierarchy
// resolver. Symbols are collected file by file, then the table is frozen:
// hierarchies are flattened with template arguments substituted at each hop,
// cycles and unresolvable ancestors are diagnosed, and the table becomes
// read-only for the inference pass.
package symbol

import (
	"sort"
	"strings"
	"sync"

	"github.com/phpmago/analyzer/internal/typing"
)

// Kind of a class-like declaration.
type Kind int

const (
	KindClass Kind = iota
	KindInterface
	KindTrait
	KindEnum
)

func (k Kind) String() string {
	switch k {
	case KindClass:
		return "class"
	case KindInterface:
		return "interface"
	case KindTrait:
		return "trait"
	case KindEnum:
		return "enum"
	}
	return "unknown"
}

// Visibility of a member. The zero value is public, matching PHP's default.
type Visibility int

const (
	Public Visibility = iota
	Protected
	Private
)

func (v Visibility) String() string {
	switch v {
	case Protected:
		return "protected"
	case Private:
		return "private"
	}
	return "public"
}

// NarrowerThan reports whether v is less visible than other.
func (v Visibility) NarrowerThan(other Visibility) bool {
	return v > other
}

// Parameter of a method or function.
type Parameter struct {
	Name     string
	Type     typing.Type
	Optional bool
	Variadic bool
	ByRef    bool
}

// Method declaration.
type Method struct {
	Name       string
	Visibility Visibility
	Static     bool
	Abstract   bool
	Final      bool
	Params     []Parameter
	Return     typing.Type
	Line       int
	Assertions []typing.Assertion
	// FromTrait names the trait a flattened member was adopted from.
	FromTrait string
	// InheritDoc marks a method whose docblock defers to the nearest
	// inherited declaration; the analyzer copies the parent types down.
	InheritDoc bool
}

// RequiredParams counts the non-optional, non-variadic parameters.
func (m *Method) RequiredParams() int {
	n := 0
	for _, p := range m.Params {
		if !p.Optional && !p.Variadic {
			n++
		}
	}
	return n
}

// Property declaration.
type Property struct {
	Name       string
	Type       typing.Type
	Visibility Visibility
	Static     bool
	Readonly   bool
	HasDefault bool
	Default    string
	Line       int
	FromTrait  string
}

// Constant declaration.
type Constant struct {
	Name       string
	Type       typing.Type
	Value      string
	Visibility Visibility
	Final      bool
	Line       int
	FromTrait  string
}

// EnumCase of an enum declaration.
type EnumCase struct {
	Name  string
	Value string
	Line  int
}

// TemplateParam is a template parameter declared on a class-like or
// function, with its variance and upper bound.
type TemplateParam struct {
	Name     string
	Variance typing.Variance
	Bound    typing.Type
}

// AsType returns the placeholder type for this declaration.
func (t TemplateParam) AsType(owner string) typing.TemplateParam {
	return typing.TemplateParam{Name: t.Name, Owner: owner, Bound: t.Bound}
}

// SuperKind distinguishes the clause a supertype reference came from.
type SuperKind int

const (
	SuperExtends SuperKind = iota
	SuperImplements
	SuperUse
)

// SuperRef is one extends/implements/use clause entry with the template
// arguments the clause (or its docblock counterpart) supplies.
type SuperRef struct {
	Name string
	Args []typing.Type
	Kind SuperKind
	Line int
}

// ClassLike is one class, interface, trait or enum declaration. Immutable
// after the table freezes.
type ClassLike struct {
	Name     string
	Kind     Kind
	File     string
	Line     int
	Final    bool
	Abstract bool
	Readonly bool

	Templates  []TemplateParam
	Supers     []SuperRef
	Properties []Property
	Methods    []Method
	Constants  []Constant
	Cases      []EnumCase

	// BackingType is set for backed enums (int or string).
	BackingType typing.Type
}

// Method returns the declared method, matched case-insensitively as PHP does.
func (c *ClassLike) Method(name string) *Method {
	for i := range c.Methods {
		if strings.EqualFold(c.Methods[i].Name, name) {
			return &c.Methods[i]
		}
	}
	return nil
}

// Property returns the declared property. Property names are case-sensitive.
func (c *ClassLike) Property(name string) *Property {
	for i := range c.Properties {
		if c.Properties[i].Name == name {
			return &c.Properties[i]
		}
	}
	return nil
}

// Constant returns the declared constant.
func (c *ClassLike) Constant(name string) *Constant {
	for i := range c.Constants {
		if c.Constants[i].Name == name {
			return &c.Constants[i]
		}
	}
	return nil
}

// Case returns the declared enum case.
func (c *ClassLike) Case(name string) *EnumCase {
	for i := range c.Cases {
		if c.Cases[i].Name == name {
			return &c.Cases[i]
		}
	}
	return nil
}

// TemplateTypes returns the placeholder types for the declaration's
// template parameters.
func (c *ClassLike) TemplateTypes() []typing.Type {
	out := make([]typing.Type, 0, len(c.Templates))
	for _, t := range c.Templates {
		out = append(out, t.AsType(c.Name))
	}
	return out
}

// Function is a standalone function declaration.
type Function struct {
	Name       string
	File       string
	Line       int
	Templates  []TemplateParam
	Params     []Parameter
	Return     typing.Type
	Assertions []typing.Assertion
}

// Table owns every class-like and function symbol of a run. Collection is
// concurrent (guarded); Freeze resolves hierarchies and flips the table to
// read-only.
type Table struct {
	mu        sync.Mutex
	classes   map[string]*ClassLike
	functions map[string]*Function
	order     []string
	frozen    bool
	resolved  map[string]*Resolved
}

// NewTable returns an empty, unfrozen table.
func NewTable() *Table {
	return &Table{
		classes:   make(map[string]*ClassLike),
		functions: make(map[string]*Function),
	}
}

// AddClass registers a class-like. Later declarations of the same name win;
// duplicate symbols across files are a project problem the engine does not
// arbitrate. Panics if the table is frozen.
func (t *Table) AddClass(c *ClassLike) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozen {
		panic("symbol table is frozen")
	}
	key := strings.ToLower(c.Name)
	if _, exists := t.classes[key]; !exists {
		t.order = append(t.order, key)
	}
	t.classes[key] = c
}

// AddFunction registers a standalone function.
func (t *Table) AddFunction(f *Function) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozen {
		panic("symbol table is frozen")
	}
	t.functions[strings.ToLower(f.Name)] = f
}

// Class returns the class-like declared under name, case-insensitively.
func (t *Table) Class(name string) *ClassLike {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.classes[strings.ToLower(strings.TrimPrefix(name, "\\"))]
}

// Function returns the standalone function declared under name.
func (t *Table) Function(name string) *Function {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.functions[strings.ToLower(strings.TrimPrefix(name, "\\"))]
}

// ClassNames returns all class-like names in sorted order.
func (t *Table) ClassNames() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.classes))
	for _, key := range t.order {
		names = append(names, t.classes[key].Name)
	}
	sort.Strings(names)
	return names
}

// Frozen reports whether Freeze has run.
func (t *Table) Frozen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frozen
}
