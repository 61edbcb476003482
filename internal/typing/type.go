// Package typing implements the type algebra of the analyzer: the closed set
// of type shapes that PHP native types and docblock type expressions can
// describe, together with subtyping, union, intersection, subtraction and
// template substitution over them.
package typing

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Type is the closed sum over all type shapes. Every variant lives in this
// package; consumers are expected to switch exhaustively over the concrete
// types below.
type Type interface {
	isType()
	String() string
}

// ScalarKind enumerates the scalar atoms of the algebra.
type ScalarKind int

const (
	IntKind ScalarKind = iota
	FloatKind
	StringKind
	BoolKind
	NullKind
	VoidKind
	MixedKind
	NeverKind
)

func (k ScalarKind) String() string {
	switch k {
	case IntKind:
		return "int"
	case FloatKind:
		return "float"
	case StringKind:
		return "string"
	case BoolKind:
		return "bool"
	case NullKind:
		return "null"
	case VoidKind:
		return "void"
	case MixedKind:
		return "mixed"
	case NeverKind:
		return "never"
	}
	return "unknown"
}

// Scalar is a plain scalar type. MixedKind is the top type, NeverKind the
// bottom type.
type Scalar struct {
	Kind ScalarKind
}

func (Scalar) isType()          {}
func (s Scalar) String() string { return s.Kind.String() }

// Convenience constructors for the scalar atoms.
func Int() Type    { return Scalar{Kind: IntKind} }
func Float() Type  { return Scalar{Kind: FloatKind} }
func String() Type { return Scalar{Kind: StringKind} }
func Bool() Type   { return Scalar{Kind: BoolKind} }
func Null() Type   { return Scalar{Kind: NullKind} }
func Void() Type   { return Scalar{Kind: VoidKind} }
func Mixed() Type  { return Scalar{Kind: MixedKind} }
func Never() Type  { return Scalar{Kind: NeverKind} }

// ArrayKey is the implicit int|string key type of PHP arrays.
func ArrayKey() Type { return NewUnion(Int(), String()) }

// IntLiteral is a fixed integer value.
type IntLiteral struct {
	Value int64
}

func (IntLiteral) isType()          {}
func (l IntLiteral) String() string { return strconv.FormatInt(l.Value, 10) }

// FloatLiteral is a fixed float value.
type FloatLiteral struct {
	Value float64
}

func (FloatLiteral) isType() {}
func (l FloatLiteral) String() string {
	return strconv.FormatFloat(l.Value, 'g', -1, 64)
}

// StringLiteral is a fixed string value.
type StringLiteral struct {
	Value string
}

func (StringLiteral) isType()          {}
func (l StringLiteral) String() string { return "'" + l.Value + "'" }

// BoolLiteral is true or false as its own type.
type BoolLiteral struct {
	Value bool
}

func (BoolLiteral) isType() {}
func (l BoolLiteral) String() string {
	if l.Value {
		return "true"
	}
	return "false"
}

// Union is a set of alternatives. Members are flattened, deduplicated and
// kept in canonical (sorted by rendering) order so that equal unions render
// identically. Construct through NewUnion, never directly.
type Union struct {
	Members []Type
}

func (Union) isType() {}
func (u Union) String() string {
	parts := make([]string, 0, len(u.Members))
	for _, m := range u.Members {
		s := m.String()
		if _, ok := m.(Union); ok {
			s = "(" + s + ")"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "|")
}

// Intersection is a set of constraints that must all hold.
type Intersection struct {
	Members []Type
}

func (Intersection) isType() {}
func (i Intersection) String() string {
	parts := make([]string, 0, len(i.Members))
	for _, m := range i.Members {
		s := m.String()
		switch m.(type) {
		case Union, Intersection:
			s = "(" + s + ")"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "&")
}

// Object is a class, interface, enum or the plain `object` type, optionally
// carrying template arguments. Names are fully qualified without a leading
// backslash and compared case-insensitively.
type Object struct {
	Name     string
	TypeArgs []Type
}

func (Object) isType() {}
func (o Object) String() string {
	if len(o.TypeArgs) == 0 {
		return o.Name
	}
	args := make([]string, 0, len(o.TypeArgs))
	for _, a := range o.TypeArgs {
		args = append(args, a.String())
	}
	return o.Name + "<" + strings.Join(args, ", ") + ">"
}

// ShapeKey is one entry of an array shape.
type ShapeKey struct {
	Name     string
	Value    Type
	Optional bool
}

// Shape is an array type. With Keys it is an array shape (`array{...}`);
// Sealed shapes admit no keys beyond those listed, unsealed shapes admit
// further ExtraKey => ExtraValue entries. A key-less unsealed shape is the
// generic `array<K, V>`.
type Shape struct {
	Keys       []ShapeKey
	Sealed     bool
	ExtraKey   Type
	ExtraValue Type
}

func (Shape) isType() {}
func (s Shape) String() string {
	if len(s.Keys) == 0 {
		if s.ExtraValue == nil {
			return "array"
		}
		if s.ExtraKey == nil {
			return "array<" + s.ExtraValue.String() + ">"
		}
		return "array<" + s.ExtraKey.String() + ", " + s.ExtraValue.String() + ">"
	}
	parts := make([]string, 0, len(s.Keys))
	for _, k := range s.Keys {
		name := k.Name
		if k.Optional {
			name += "?"
		}
		parts = append(parts, name+": "+k.Value.String())
	}
	if !s.Sealed {
		parts = append(parts, "...")
	}
	return "array{" + strings.Join(parts, ", ") + "}"
}

// Key returns the entry for name, if declared.
func (s Shape) Key(name string) (ShapeKey, bool) {
	for _, k := range s.Keys {
		if k.Name == name {
			return k, true
		}
	}
	return ShapeKey{}, false
}

// List is the positional variant of an array: consecutive int keys from zero.
type List struct {
	Element Type
}

func (List) isType()          {}
func (l List) String() string { return "list<" + l.Element.String() + ">" }

// CallableParam is one parameter of a callable type.
type CallableParam struct {
	Type     Type
	Optional bool
	Variadic bool
}

// Callable is a function type with parameter and return types.
type Callable struct {
	Params []CallableParam
	Return Type
}

func (Callable) isType() {}
func (c Callable) String() string {
	parts := make([]string, 0, len(c.Params))
	for _, p := range c.Params {
		s := p.Type.String()
		if p.Variadic {
			s = "..." + s
		} else if p.Optional {
			s += "="
		}
		parts = append(parts, s)
	}
	ret := "mixed"
	if c.Return != nil {
		ret = c.Return.String()
	}
	return "callable(" + strings.Join(parts, ", ") + "): " + ret
}

// Conditional is a return type guarded by a predicate over a parameter:
// ($subject is Is ? Then : Else).
type Conditional struct {
	Subject string
	Is      Type
	Then    Type
	Else    Type
}

func (Conditional) isType() {}
func (c Conditional) String() string {
	return "(" + c.Subject + " is " + c.Is.String() + " ? " + c.Then.String() + " : " + c.Else.String() + ")"
}

// TemplateParam is an unbound generics placeholder declared on a class-like
// or function. Owner is the declaring symbol's name, used to keep identically
// named parameters of different owners apart.
type TemplateParam struct {
	Name  string
	Owner string
	Bound Type
}

func (TemplateParam) isType()          {}
func (t TemplateParam) String() string { return t.Name }

// Constraint returns the parameter's upper bound, defaulting to mixed.
func (t TemplateParam) Constraint() Type {
	if t.Bound == nil {
		return Mixed()
	}
	return t.Bound
}

// IntMask restricts an int to bitwise-or combinations of the given literals,
// including zero (the empty combination).
type IntMask struct {
	Bits []int64
}

func (IntMask) isType() {}
func (m IntMask) String() string {
	parts := make([]string, 0, len(m.Bits))
	for _, b := range m.Bits {
		parts = append(parts, strconv.FormatInt(b, 10))
	}
	return "int-mask<" + strings.Join(parts, ", ") + ">"
}

// IsMixed reports whether t is the top type.
func IsMixed(t Type) bool {
	s, ok := t.(Scalar)
	return ok && s.Kind == MixedKind
}

// IsNever reports whether t is the bottom type.
func IsNever(t Type) bool {
	s, ok := t.(Scalar)
	return ok && s.Kind == NeverKind
}

// IsNull reports whether t is exactly null.
func IsNull(t Type) bool {
	s, ok := t.(Scalar)
	return ok && s.Kind == NullKind
}

// IsVoid reports whether t is the void return type.
func IsVoid(t Type) bool {
	s, ok := t.(Scalar)
	return ok && s.Kind == VoidKind
}

// Nullable wraps t in a union with null.
func Nullable(t Type) Type {
	return NewUnion(t, Null())
}

// Equal reports structural equality, relying on the canonical rendering of
// both sides. Union member order is canonical by construction, so rendering
// equality is structural equality.
func Equal(a, b Type) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.String() == b.String()
}

// NewUnion builds the canonical union of the given types: nested unions are
// flattened, duplicates removed, mixed absorbs everything, never vanishes.
// Zero surviving members yield never, one yields the member itself.
func NewUnion(members ...Type) Type {
	flat := make([]Type, 0, len(members))
	var collect func(t Type)
	collect = func(t Type) {
		switch v := t.(type) {
		case nil:
		case Union:
			for _, m := range v.Members {
				collect(m)
			}
		case Scalar:
			if v.Kind == NeverKind {
				return
			}
			flat = append(flat, v)
		default:
			flat = append(flat, t)
		}
	}
	for _, m := range members {
		collect(m)
	}

	seen := make(map[string]bool, len(flat))
	uniq := flat[:0]
	for _, m := range flat {
		if IsMixed(m) {
			return Mixed()
		}
		key := m.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		uniq = append(uniq, m)
	}

	switch len(uniq) {
	case 0:
		return Never()
	case 1:
		return uniq[0]
	}
	sort.SliceStable(uniq, func(i, j int) bool {
		return uniq[i].String() < uniq[j].String()
	})
	return Union{Members: uniq}
}

// NewIntersection builds the canonical intersection of the given types.
// Mixed members vanish, never absorbs everything, duplicates are removed.
func NewIntersection(members ...Type) Type {
	flat := make([]Type, 0, len(members))
	var collect func(t Type)
	collect = func(t Type) {
		switch v := t.(type) {
		case nil:
		case Intersection:
			for _, m := range v.Members {
				collect(m)
			}
		case Scalar:
			if v.Kind == MixedKind {
				return
			}
			flat = append(flat, v)
		default:
			flat = append(flat, t)
		}
	}
	for _, m := range members {
		collect(m)
	}

	seen := make(map[string]bool, len(flat))
	uniq := flat[:0]
	for _, m := range flat {
		if IsNever(m) {
			return Never()
		}
		key := m.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		uniq = append(uniq, m)
	}

	switch len(uniq) {
	case 0:
		return Mixed()
	case 1:
		return uniq[0]
	}
	sort.SliceStable(uniq, func(i, j int) bool {
		return uniq[i].String() < uniq[j].String()
	})
	return Intersection{Members: uniq}
}

// UnionMembers returns the members of t when it is a union, or t itself as a
// single-element slice otherwise.
func UnionMembers(t Type) []Type {
	if u, ok := t.(Union); ok {
		return u.Members
	}
	return []Type{t}
}

// Generator builds the Generator<TKey, TValue, TSend, TReturn> object type
// used for coroutine bodies.
func Generator(key, value, send, ret Type) Type {
	return Object{Name: "Generator", TypeArgs: []Type{key, value, send, ret}}
}

// TemplateBinding maps a template parameter to a concrete type, scoped to one
// call site or one extends/implements/use clause.
type TemplateBinding struct {
	Param TemplateParam
	To    Type
}

func (b TemplateBinding) String() string {
	return fmt.Sprintf("%s@%s => %s", b.Param.Name, b.Param.Owner, b.To)
}
