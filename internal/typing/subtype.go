package typing

import (
	"strconv"
	"strings"
)

// Variance describes how a template argument position relates two generic
// instantiations.
type Variance int

const (
	Invariant Variance = iota
	Covariant
	Contravariant
)

// Hierarchy is the view of the symbol table the algebra needs for object
// subtyping. A nil Hierarchy degrades to name-identity comparison, which is
// what the algebra's own unit tests use.
type Hierarchy interface {
	// IsAncestor reports whether super appears in sub's flattened ancestor
	// list. Both names are fully qualified; comparison is case-insensitive.
	IsAncestor(sub, super string) bool

	// AncestorInstantiation returns sub's view of ancestor super: the object
	// type super with its template arguments substituted through every hop
	// from sub. The second result is false when super is not an ancestor.
	AncestorInstantiation(sub Object, super string) (Object, bool)

	// TemplateVariances returns the declared variance per template parameter
	// of the named class-like, in declaration order.
	TemplateVariances(name string) []Variance
}

// DefaultIntMaskLimit bounds int-mask enumeration; comparing masks costs
// 2^n and a runaway literal list must fail instead of hanging.
const DefaultIntMaskLimit = 8

// Checker evaluates subtype relations against an optional hierarchy.
type Checker struct {
	Hierarchy    Hierarchy
	IntMaskLimit int
}

// NewChecker returns a checker over the given hierarchy with default bounds.
func NewChecker(h Hierarchy) *Checker {
	return &Checker{Hierarchy: h, IntMaskLimit: DefaultIntMaskLimit}
}

// IsSubtype reports whether sub can be used where super is expected.
func (c *Checker) IsSubtype(sub, super Type) bool {
	if sub == nil || super == nil {
		return false
	}

	// Top and bottom first: never is a subtype of everything, everything is
	// a subtype of mixed.
	if IsNever(sub) || IsMixed(super) {
		return true
	}
	if IsMixed(sub) {
		return false
	}

	// A template parameter stands for any type within its bound.
	if tp, ok := sub.(TemplateParam); ok {
		if Equal(sub, super) {
			return true
		}
		return c.IsSubtype(tp.Constraint(), super)
	}
	if _, ok := super.(TemplateParam); ok {
		// Only the parameter itself (or never, handled above) is a safe
		// subtype of an unbound placeholder.
		return Equal(sub, super)
	}

	// Union on the left distributes as "forall", union on the right as
	// "exists".
	if u, ok := sub.(Union); ok {
		for _, m := range u.Members {
			if !c.IsSubtype(m, super) {
				return false
			}
		}
		return true
	}
	if u, ok := super.(Union); ok {
		for _, m := range u.Members {
			if c.IsSubtype(sub, m) {
				return true
			}
		}
		return false
	}

	// Intersection on the right requires all constraints; on the left any
	// constraint that already satisfies super suffices.
	if i, ok := super.(Intersection); ok {
		for _, m := range i.Members {
			if !c.IsSubtype(sub, m) {
				return false
			}
		}
		return true
	}
	if i, ok := sub.(Intersection); ok {
		for _, m := range i.Members {
			if c.IsSubtype(m, super) {
				return true
			}
		}
		return false
	}

	if cond, ok := sub.(Conditional); ok {
		return c.IsSubtype(cond.Then, super) && c.IsSubtype(cond.Else, super)
	}
	if cond, ok := super.(Conditional); ok {
		return c.IsSubtype(sub, NewUnion(cond.Then, cond.Else))
	}

	switch s := super.(type) {
	case Scalar:
		return c.isSubtypeOfScalar(sub, s)
	case IntLiteral:
		l, ok := sub.(IntLiteral)
		return ok && l.Value == s.Value
	case FloatLiteral:
		switch l := sub.(type) {
		case FloatLiteral:
			return l.Value == s.Value
		case IntLiteral:
			return float64(l.Value) == s.Value
		}
		return false
	case StringLiteral:
		l, ok := sub.(StringLiteral)
		return ok && l.Value == s.Value
	case BoolLiteral:
		l, ok := sub.(BoolLiteral)
		return ok && l.Value == s.Value
	case IntMask:
		return c.isSubtypeOfIntMask(sub, s)
	case Object:
		return c.isSubtypeOfObject(sub, s)
	case Shape:
		return c.isSubtypeOfShape(sub, s)
	case List:
		return c.isSubtypeOfList(sub, s)
	case Callable:
		return c.isSubtypeOfCallable(sub, s)
	}
	return false
}

func (c *Checker) isSubtypeOfScalar(sub Type, super Scalar) bool {
	switch s := sub.(type) {
	case Scalar:
		if s.Kind == super.Kind {
			return true
		}
		// int is accepted where float is expected, never the reverse.
		return s.Kind == IntKind && super.Kind == FloatKind
	case IntLiteral:
		return super.Kind == IntKind || super.Kind == FloatKind
	case FloatLiteral:
		return super.Kind == FloatKind
	case StringLiteral:
		return super.Kind == StringKind
	case BoolLiteral:
		return super.Kind == BoolKind
	case IntMask:
		return super.Kind == IntKind || super.Kind == FloatKind
	case Object:
		// Enums backed by scalars still are not scalars; Stringable is not
		// string. No object is a scalar subtype.
		return false
	}
	return false
}

func (c *Checker) isSubtypeOfObject(sub Type, super Object) bool {
	// `object` is the top of the object side of the algebra.
	if strings.EqualFold(super.Name, "object") {
		_, ok := sub.(Object)
		return ok
	}

	o, ok := sub.(Object)
	if !ok {
		// Closures satisfy callable-ish interfaces only via hierarchy; a
		// Callable is not an Object.
		return false
	}

	if strings.EqualFold(o.Name, super.Name) {
		return c.argsCompatible(o, super, super.Name)
	}

	if c.Hierarchy == nil {
		return false
	}
	if !c.Hierarchy.IsAncestor(o.Name, super.Name) {
		return false
	}
	inst, ok := c.Hierarchy.AncestorInstantiation(o, super.Name)
	if !ok {
		return false
	}
	return c.argsCompatible(inst, super, super.Name)
}

// argsCompatible compares template arguments of two instantiations of the
// same class-like according to declared variance.
func (c *Checker) argsCompatible(sub, super Object, owner string) bool {
	if len(super.TypeArgs) == 0 {
		// Bare name accepts any instantiation.
		return true
	}
	if len(sub.TypeArgs) != len(super.TypeArgs) {
		return false
	}
	var variances []Variance
	if c.Hierarchy != nil {
		variances = c.Hierarchy.TemplateVariances(owner)
	}
	for i := range super.TypeArgs {
		v := Invariant
		if i < len(variances) {
			v = variances[i]
		}
		switch v {
		case Covariant:
			if !c.IsSubtype(sub.TypeArgs[i], super.TypeArgs[i]) {
				return false
			}
		case Contravariant:
			if !c.IsSubtype(super.TypeArgs[i], sub.TypeArgs[i]) {
				return false
			}
		default:
			if !Equal(sub.TypeArgs[i], super.TypeArgs[i]) {
				return false
			}
		}
	}
	return true
}

func (c *Checker) isSubtypeOfShape(sub Type, super Shape) bool {
	switch s := sub.(type) {
	case Shape:
		return c.shapeSubtype(s, super)
	case List:
		// A list is an unsealed int-keyed array.
		return c.shapeSubtype(Shape{ExtraKey: Int(), ExtraValue: s.Element}, super)
	}
	return false
}

func (c *Checker) shapeSubtype(sub, super Shape) bool {
	// Every required key of super must be present with a compatible value.
	for _, sk := range super.Keys {
		k, ok := sub.Key(sk.Name)
		if !ok {
			if sk.Optional {
				continue
			}
			// An unsealed sub may carry the key through its extra type, but
			// presence is not guaranteed, so a required key fails.
			return false
		}
		if k.Optional && !sk.Optional {
			return false
		}
		if !c.IsSubtype(k.Value, sk.Value) {
			return false
		}
	}

	if super.Sealed {
		// No keys beyond those listed.
		if !sub.Sealed {
			return false
		}
		for _, k := range sub.Keys {
			if _, ok := super.Key(k.Name); !ok {
				return false
			}
		}
		return true
	}

	// Unsealed super: explicit sub keys beyond super's list plus sub's extra
	// type must fit super's extra type.
	extraKey := super.ExtraKey
	if extraKey == nil {
		extraKey = ArrayKey()
	}
	extraValue := super.ExtraValue
	if extraValue == nil {
		extraValue = Mixed()
	}
	for _, k := range sub.Keys {
		if _, ok := super.Key(k.Name); ok {
			continue
		}
		if !c.IsSubtype(shapeKeyType(k.Name), extraKey) || !c.IsSubtype(k.Value, extraValue) {
			return false
		}
	}
	if !sub.Sealed {
		subKey := sub.ExtraKey
		if subKey == nil {
			subKey = ArrayKey()
		}
		subValue := sub.ExtraValue
		if subValue == nil {
			subValue = Mixed()
		}
		if !c.IsSubtype(subKey, extraKey) || !c.IsSubtype(subValue, extraValue) {
			return false
		}
	}
	return true
}

func (c *Checker) isSubtypeOfList(sub Type, super List) bool {
	switch s := sub.(type) {
	case List:
		return c.IsSubtype(s.Element, super.Element)
	case Shape:
		// Only sealed shapes with consecutive int keys from zero are lists.
		if !s.Sealed {
			return false
		}
		for i, k := range s.Keys {
			if k.Name != strconv.Itoa(i) || k.Optional {
				return false
			}
			if !c.IsSubtype(k.Value, super.Element) {
				return false
			}
		}
		return true
	}
	return false
}

func (c *Checker) isSubtypeOfCallable(sub Type, super Callable) bool {
	s, ok := sub.(Callable)
	if !ok {
		if o, okObj := sub.(Object); okObj && strings.EqualFold(o.Name, "Closure") {
			// Bare Closure with no signature information.
			return true
		}
		return false
	}
	// Parameters are contravariant, returns covariant. The sub may accept
	// more (optional) parameters but not require more.
	required := 0
	for _, p := range super.Params {
		if !p.Optional && !p.Variadic {
			required++
		}
	}
	subRequired := 0
	for _, p := range s.Params {
		if !p.Optional && !p.Variadic {
			subRequired++
		}
	}
	if subRequired > required {
		return false
	}
	for i, p := range s.Params {
		if i >= len(super.Params) {
			break
		}
		if !c.IsSubtype(super.Params[i].Type, p.Type) {
			return false
		}
	}
	if super.Return == nil || IsVoid(super.Return) {
		return true
	}
	if s.Return == nil {
		return false
	}
	return c.IsSubtype(s.Return, super.Return)
}

// isSubtypeOfIntMask enumerates every bitwise-or combination of the mask
// literals and checks membership. The enumeration is bounded by IntMaskLimit.
func (c *Checker) isSubtypeOfIntMask(sub Type, super IntMask) bool {
	limit := c.IntMaskLimit
	if limit <= 0 {
		limit = DefaultIntMaskLimit
	}
	if len(super.Bits) > limit {
		// Too many literals to enumerate; refuse to claim the relation.
		return false
	}
	allowed := make(map[int64]bool, 1<<len(super.Bits))
	for combo := 0; combo < 1<<len(super.Bits); combo++ {
		var v int64
		for i, b := range super.Bits {
			if combo&(1<<i) != 0 {
				v |= b
			}
		}
		allowed[v] = true
	}
	switch s := sub.(type) {
	case IntLiteral:
		return allowed[s.Value]
	case IntMask:
		if len(s.Bits) > limit {
			return false
		}
		for combo := 0; combo < 1<<len(s.Bits); combo++ {
			var v int64
			for i, b := range s.Bits {
				if combo&(1<<i) != 0 {
					v |= b
				}
			}
			if !allowed[v] {
				return false
			}
		}
		return true
	}
	return false
}

func shapeKeyType(name string) Type {
	if n, err := strconv.ParseInt(name, 10, 64); err == nil {
		return IntLiteral{Value: n}
	}
	return StringLiteral{Value: name}
}
