package typing

// Union combines two types into their least upper bound within the algebra.
func (c *Checker) Union(a, b Type) Type {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if c.IsSubtype(a, b) {
		return b
	}
	if c.IsSubtype(b, a) {
		return a
	}
	return NewUnion(a, b)
}

// Intersect computes the greatest type that is a subtype of both a and b.
// Disjoint scalar atoms intersect to never; overlapping unions keep only the
// members compatible with the other side.
func (c *Checker) Intersect(a, b Type) Type {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if IsMixed(a) {
		return b
	}
	if IsMixed(b) {
		return a
	}
	if c.IsSubtype(a, b) {
		return a
	}
	if c.IsSubtype(b, a) {
		return b
	}

	if _, ok := a.(Union); ok {
		var kept []Type
		for _, m := range UnionMembers(a) {
			r := c.Intersect(m, b)
			if !IsNever(r) {
				kept = append(kept, r)
			}
		}
		return NewUnion(kept...)
	}
	if _, ok := b.(Union); ok {
		return c.Intersect(b, a)
	}

	// Two unrelated object types may still share a common subclass; keep the
	// intersection open. Everything else is disjoint.
	_, aObj := a.(Object)
	_, bObj := b.(Object)
	if aObj && bObj {
		return NewIntersection(a, b)
	}
	return Never()
}

// Subtract removes the portion of a covered by b. It powers falsy-branch
// narrowing: removing null from ?string yields string. When a is mixed no
// complement can be computed and mixed is returned unchanged.
func (c *Checker) Subtract(a, b Type) Type {
	if a == nil || b == nil {
		return a
	}
	if IsMixed(a) {
		return a
	}
	var kept []Type
	for _, m := range UnionMembers(a) {
		if c.IsSubtype(m, b) {
			continue
		}
		// bool splits into its two literals when one of them is removed.
		if s, ok := m.(Scalar); ok && s.Kind == BoolKind {
			if bl, ok := b.(BoolLiteral); ok {
				kept = append(kept, BoolLiteral{Value: !bl.Value})
				continue
			}
		}
		kept = append(kept, m)
	}
	return NewUnion(kept...)
}

// Substitute replaces template parameters by their bindings, walking every
// composite shape. Unbound parameters are left in place.
func Substitute(t Type, bindings []TemplateBinding) Type {
	if t == nil || len(bindings) == 0 {
		return t
	}
	switch v := t.(type) {
	case TemplateParam:
		for _, b := range bindings {
			if b.Param.Name == v.Name && (b.Param.Owner == "" || v.Owner == "" || b.Param.Owner == v.Owner) {
				return b.To
			}
		}
		return v
	case Union:
		members := make([]Type, 0, len(v.Members))
		for _, m := range v.Members {
			members = append(members, Substitute(m, bindings))
		}
		return NewUnion(members...)
	case Intersection:
		members := make([]Type, 0, len(v.Members))
		for _, m := range v.Members {
			members = append(members, Substitute(m, bindings))
		}
		return NewIntersection(members...)
	case Object:
		if len(v.TypeArgs) == 0 {
			return v
		}
		args := make([]Type, 0, len(v.TypeArgs))
		for _, a := range v.TypeArgs {
			args = append(args, Substitute(a, bindings))
		}
		return Object{Name: v.Name, TypeArgs: args}
	case Shape:
		keys := make([]ShapeKey, 0, len(v.Keys))
		for _, k := range v.Keys {
			keys = append(keys, ShapeKey{Name: k.Name, Value: Substitute(k.Value, bindings), Optional: k.Optional})
		}
		out := Shape{Keys: keys, Sealed: v.Sealed}
		if v.ExtraKey != nil {
			out.ExtraKey = Substitute(v.ExtraKey, bindings)
		}
		if v.ExtraValue != nil {
			out.ExtraValue = Substitute(v.ExtraValue, bindings)
		}
		return out
	case List:
		return List{Element: Substitute(v.Element, bindings)}
	case Callable:
		params := make([]CallableParam, 0, len(v.Params))
		for _, p := range v.Params {
			params = append(params, CallableParam{Type: Substitute(p.Type, bindings), Optional: p.Optional, Variadic: p.Variadic})
		}
		out := Callable{Params: params}
		if v.Return != nil {
			out.Return = Substitute(v.Return, bindings)
		}
		return out
	case Conditional:
		return Conditional{
			Subject: v.Subject,
			Is:      Substitute(v.Is, bindings),
			Then:    Substitute(v.Then, bindings),
			Else:    Substitute(v.Else, bindings),
		}
	}
	return t
}

// ContainsTemplate reports whether t mentions any template parameter.
func ContainsTemplate(t Type) bool {
	found := false
	walk(t, func(x Type) {
		if _, ok := x.(TemplateParam); ok {
			found = true
		}
	})
	return found
}

// Widen erases literal refinements: literals become their scalar, int-mask
// becomes int. Composite shapes widen member-wise. Used when a loop fails to
// converge within the iteration cap.
func Widen(t Type) Type {
	switch v := t.(type) {
	case IntLiteral:
		return Int()
	case FloatLiteral:
		return Float()
	case StringLiteral:
		return String()
	case BoolLiteral:
		return Bool()
	case IntMask:
		return Int()
	case Union:
		members := make([]Type, 0, len(v.Members))
		for _, m := range v.Members {
			members = append(members, Widen(m))
		}
		return NewUnion(members...)
	case List:
		return List{Element: Widen(v.Element)}
	}
	return t
}

func walk(t Type, f func(Type)) {
	if t == nil {
		return
	}
	f(t)
	switch v := t.(type) {
	case Union:
		for _, m := range v.Members {
			walk(m, f)
		}
	case Intersection:
		for _, m := range v.Members {
			walk(m, f)
		}
	case Object:
		for _, a := range v.TypeArgs {
			walk(a, f)
		}
	case Shape:
		for _, k := range v.Keys {
			walk(k.Value, f)
		}
		walk(v.ExtraKey, f)
		walk(v.ExtraValue, f)
	case List:
		walk(v.Element, f)
	case Callable:
		for _, p := range v.Params {
			walk(p.Type, f)
		}
		walk(v.Return, f)
	case Conditional:
		walk(v.Is, f)
		walk(v.Then, f)
		walk(v.Else, f)
	}
}
