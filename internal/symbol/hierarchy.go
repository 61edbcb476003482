package symbol

import (
	"fmt"
	"strings"

	"github.com/phpmago/analyzer/internal/diagnostic"
	"github.com/phpmago/analyzer/internal/typing"
)

// Ancestor is one entry of a flattened hierarchy: the ancestor's canonical
// name with the template arguments it receives, expressed in terms of the
// descendant's own template parameters.
type Ancestor struct {
	Name string
	Kind Kind
	Args []typing.Type
}

// Resolved is the flattened hierarchy of one class-like.
type Resolved struct {
	Ancestors []Ancestor
	byName    map[string]int
	// Failed marks a symbol whose hierarchy could not be resolved (cycle or
	// missing ancestor); inference skips such symbols.
	Failed bool
}

// Ancestor returns the flattened entry for name, if present.
func (r *Resolved) Ancestor(name string) (Ancestor, bool) {
	if r == nil {
		return Ancestor{}, false
	}
	i, ok := r.byName[strings.ToLower(name)]
	if !ok {
		return Ancestor{}, false
	}
	return r.Ancestors[i], true
}

// Freeze resolves every hierarchy, runs trait composition and constant
// override checks, and flips the table to read-only. It returns the
// structural diagnostics found along the way. Must be called exactly once,
// after collection and before inference.
func (t *Table) Freeze() []diagnostic.Diagnostic {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozen {
		panic("symbol table is already frozen")
	}
	t.frozen = true
	t.resolved = make(map[string]*Resolved, len(t.classes))

	var diags []diagnostic.Diagnostic
	for _, key := range t.order {
		t.resolve(key, nil, &diags)
	}
	for _, key := range t.order {
		c := t.classes[key]
		if t.resolved[key].Failed {
			continue
		}
		diags = append(diags, t.checkTraitComposition(c)...)
		diags = append(diags, t.checkConstantOverrides(c)...)
	}

	// Flattening runs after the composition checks so conflicts are reported
	// against the original declarations; on conflict the first trait wins.
	flattened := make(map[string]bool, len(t.order))
	var flatten func(key string)
	flatten = func(key string) {
		if flattened[key] {
			return
		}
		flattened[key] = true
		c := t.classes[key]
		r := t.resolved[key]
		if r == nil || r.Failed {
			return
		}
		for _, super := range c.Supers {
			if super.Kind != SuperUse {
				continue
			}
			traitKey := strings.ToLower(strings.TrimPrefix(super.Name, "\\"))
			trait, ok := t.classes[traitKey]
			if !ok || trait.Kind != KindTrait {
				continue
			}
			flatten(traitKey)
			anc, _ := r.Ancestor(trait.Name)
			t.adoptTraitMembers(c, trait, bindingsFor(trait, anc.Args))
		}
	}
	for _, key := range t.order {
		flatten(key)
	}
	return diags
}

// adoptTraitMembers copies trait members into the using class-like with the
// trait's template parameters substituted, the way the runtime composes
// traits. Members the class declares itself win; FromTrait keeps the origin.
func (t *Table) adoptTraitMembers(c, trait *ClassLike, bindings []typing.TemplateBinding) {
	for _, m := range trait.Methods {
		if c.Method(m.Name) != nil {
			continue
		}
		if m.FromTrait == "" {
			m.FromTrait = trait.Name
		}
		if len(bindings) > 0 {
			params := make([]Parameter, len(m.Params))
			copy(params, m.Params)
			for i := range params {
				params[i].Type = typing.Substitute(params[i].Type, bindings)
			}
			m.Params = params
			m.Return = typing.Substitute(m.Return, bindings)
		}
		c.Methods = append(c.Methods, m)
	}
	for _, p := range trait.Properties {
		if c.Property(p.Name) != nil {
			continue
		}
		if p.FromTrait == "" {
			p.FromTrait = trait.Name
		}
		p.Type = typing.Substitute(p.Type, bindings)
		c.Properties = append(c.Properties, p)
	}
	for _, cons := range trait.Constants {
		if c.Constant(cons.Name) != nil {
			continue
		}
		if cons.FromTrait == "" {
			cons.FromTrait = trait.Name
		}
		cons.Type = typing.Substitute(cons.Type, bindings)
		c.Constants = append(c.Constants, cons)
	}
}

// resolve flattens the hierarchy of the class stored under key. The stack
// carries the keys currently being resolved for cycle detection.
func (t *Table) resolve(key string, stack []string, diags *[]diagnostic.Diagnostic) *Resolved {
	if r, ok := t.resolved[key]; ok {
		return r
	}
	for _, s := range stack {
		if s == key {
			c := t.classes[key]
			*diags = append(*diags, diagnostic.Diagnostic{
				Code:     diagnostic.CodeCircularInheritance,
				Severity: diagnostic.SeverityError,
				File:     c.File,
				Line:     c.Line,
				Column:   1,
				Message:  fmt.Sprintf("circular inheritance involving %s `%s`", c.Kind, c.Name),
			})
			failed := &Resolved{Failed: true, byName: map[string]int{}}
			t.resolved[key] = failed
			return failed
		}
	}

	c := t.classes[key]
	r := &Resolved{byName: make(map[string]int)}
	stack = append(stack, key)

	for _, super := range c.Supers {
		superKey := strings.ToLower(strings.TrimPrefix(super.Name, "\\"))
		target, ok := t.classes[superKey]
		if !ok {
			*diags = append(*diags, diagnostic.Diagnostic{
				Code:     diagnostic.CodeNonExistentClassLike,
				Severity: diagnostic.SeverityError,
				File:     c.File,
				Line:     super.Line,
				Column:   1,
				Message:  fmt.Sprintf("class-like `%s` referenced by %s `%s` does not exist", super.Name, c.Kind, c.Name),
			})
			r.Failed = true
			continue
		}

		parent := t.resolve(superKey, stack, diags)
		if parent.Failed {
			r.Failed = true
		}

		// The clause's arguments bind the target's template parameters;
		// missing arguments fall back to the declared bound.
		args := super.Args
		bindings := make([]typing.TemplateBinding, 0, len(target.Templates))
		for i, tp := range target.Templates {
			to := typing.Type(typing.Mixed())
			if tp.Bound != nil {
				to = tp.Bound
			}
			if i < len(args) {
				to = args[i]
			}
			bindings = append(bindings, typing.TemplateBinding{Param: tp.AsType(target.Name), To: to})
		}
		boundArgs := make([]typing.Type, 0, len(target.Templates))
		for _, b := range bindings {
			boundArgs = append(boundArgs, b.To)
		}

		r.add(Ancestor{Name: target.Name, Kind: target.Kind, Args: boundArgs})
		for _, anc := range parent.Ancestors {
			substituted := make([]typing.Type, 0, len(anc.Args))
			for _, a := range anc.Args {
				substituted = append(substituted, typing.Substitute(a, bindings))
			}
			r.add(Ancestor{Name: anc.Name, Kind: anc.Kind, Args: substituted})
		}
	}

	t.resolved[key] = r
	return r
}

func (r *Resolved) add(a Ancestor) {
	key := strings.ToLower(a.Name)
	if _, ok := r.byName[key]; ok {
		return
	}
	r.byName[key] = len(r.Ancestors)
	r.Ancestors = append(r.Ancestors, a)
}

// Resolved returns the flattened hierarchy of name. Only valid after Freeze.
func (t *Table) Resolved(name string) *Resolved {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resolved[strings.ToLower(strings.TrimPrefix(name, "\\"))]
}

// checkTraitComposition compares colliding member declarations across the
// traits used by one class. Identical declarations compose silently; any
// differing attribute produces a diagnostic naming exactly what conflicted.
func (t *Table) checkTraitComposition(c *ClassLike) []diagnostic.Diagnostic {
	var traits []*ClassLike
	for _, super := range c.Supers {
		if super.Kind != SuperUse {
			continue
		}
		if target, ok := t.classes[strings.ToLower(strings.TrimPrefix(super.Name, "\\"))]; ok && target.Kind == KindTrait {
			traits = append(traits, target)
		}
	}
	if len(traits) < 2 {
		return nil
	}

	var diags []diagnostic.Diagnostic
	report := func(code, format string, args ...any) {
		diags = append(diags, diagnostic.Diagnostic{
			Code:     code,
			Severity: diagnostic.SeverityError,
			File:     c.File,
			Line:     c.Line,
			Column:   1,
			Message:  fmt.Sprintf(format, args...),
		})
	}

	seenMethods := make(map[string]struct {
		trait string
		m     Method
	})
	seenProps := make(map[string]struct {
		trait string
		prop  Property
	})
	seenConsts := make(map[string]struct {
		trait string
		cons  Constant
	})
	for _, trait := range traits {
		for _, m := range trait.Methods {
			key := strings.ToLower(m.Name)
			prev, ok := seenMethods[key]
			if !ok {
				seenMethods[key] = struct {
					trait string
					m     Method
				}{trait.Name, m}
				continue
			}
			switch {
			case len(prev.m.Params) != len(m.Params):
				report(diagnostic.CodeIncompatibleParameterCount,
					"method `%s` has conflicting parameter counts in traits `%s` and `%s`", m.Name, prev.trait, trait.Name)
			case !paramsEqual(prev.m.Params, m.Params):
				report(diagnostic.CodeIncompatibleParameterType,
					"method `%s` has conflicting parameter types in traits `%s` and `%s`", m.Name, prev.trait, trait.Name)
			case !typing.Equal(prev.m.Return, m.Return):
				report(diagnostic.CodeIncompatibleReturnType,
					"method `%s` has conflicting return types in traits `%s` and `%s`", m.Name, prev.trait, trait.Name)
			case prev.m.Visibility != m.Visibility:
				report(diagnostic.CodeIncompatibleVisibility,
					"method `%s` has conflicting visibility in traits `%s` and `%s`", m.Name, prev.trait, trait.Name)
			case prev.m.Static != m.Static:
				report(diagnostic.CodeIncompatibleStatic,
					"method `%s` mixes static and non-static declarations in traits `%s` and `%s`", m.Name, prev.trait, trait.Name)
			case prev.m.Final != m.Final:
				report(diagnostic.CodeIncompatibleVisibility,
					"method `%s` mixes final and non-final declarations in traits `%s` and `%s`", m.Name, prev.trait, trait.Name)
			}
		}
		for _, p := range trait.Properties {
			prev, ok := seenProps[p.Name]
			if !ok {
				seenProps[p.Name] = struct {
					trait string
					prop  Property
				}{trait.Name, p}
				continue
			}
			switch {
			case !typing.Equal(prev.prop.Type, p.Type):
				report(diagnostic.CodeIncompatiblePropertyType,
					"property `$%s` has conflicting types in traits `%s` and `%s`", p.Name, prev.trait, trait.Name)
			case prev.prop.Default != p.Default || prev.prop.HasDefault != p.HasDefault:
				report(diagnostic.CodeIncompatiblePropertyDefault,
					"property `$%s` has conflicting default values in traits `%s` and `%s`", p.Name, prev.trait, trait.Name)
			case prev.prop.Visibility != p.Visibility:
				report(diagnostic.CodeIncompatiblePropertyVisibility,
					"property `$%s` has conflicting visibility in traits `%s` and `%s`", p.Name, prev.trait, trait.Name)
			case prev.prop.Static != p.Static:
				report(diagnostic.CodeIncompatibleStatic,
					"property `$%s` mixes static and non-static declarations in traits `%s` and `%s`", p.Name, prev.trait, trait.Name)
			}
		}
		for _, cons := range trait.Constants {
			prev, ok := seenConsts[cons.Name]
			if !ok {
				seenConsts[cons.Name] = struct {
					trait string
					cons  Constant
				}{trait.Name, cons}
				continue
			}
			if prev.cons.Value != cons.Value || prev.cons.Visibility != cons.Visibility || prev.cons.Final != cons.Final {
				report(diagnostic.CodeIncompatibleConstant,
					"constant `%s` has conflicting declarations in traits `%s` and `%s`", cons.Name, prev.trait, trait.Name)
			}
		}
	}
	return diags
}

func paramsEqual(a, b []Parameter) bool {
	for i := range a {
		if !typing.Equal(a[i].Type, b[i].Type) {
			return false
		}
	}
	return true
}

// checkConstantOverrides enforces the constant override rules along the
// class chain: visibility may not narrow and a final constant may not be
// redeclared. Trait-provided constants must match the class declaration
// exactly.
func (t *Table) checkConstantOverrides(c *ClassLike) []diagnostic.Diagnostic {
	var diags []diagnostic.Diagnostic
	r := t.resolved[strings.ToLower(c.Name)]
	if r == nil {
		return nil
	}
	for _, cons := range c.Constants {
		for _, anc := range r.Ancestors {
			parent, ok := t.classes[strings.ToLower(anc.Name)]
			if !ok {
				continue
			}
			parentConst := parent.Constant(cons.Name)
			if parentConst == nil {
				continue
			}
			if parent.Kind == KindTrait {
				if parentConst.Value != cons.Value || parentConst.Visibility != cons.Visibility || parentConst.Final != cons.Final {
					diags = append(diags, diagnostic.Diagnostic{
						Code:     diagnostic.CodeIncompatibleConstant,
						Severity: diagnostic.SeverityError,
						File:     c.File,
						Line:     cons.Line,
						Column:   1,
						Message: fmt.Sprintf("constant `%s` must match the declaration in trait `%s` exactly",
							cons.Name, parent.Name),
					})
				}
				continue
			}
			if parentConst.Final {
				diags = append(diags, diagnostic.Diagnostic{
					Code:     diagnostic.CodeIncompatibleConstant,
					Severity: diagnostic.SeverityError,
					File:     c.File,
					Line:     cons.Line,
					Column:   1,
					Message:  fmt.Sprintf("constant `%s` overrides a final constant of `%s`", cons.Name, parent.Name),
				})
			}
			if cons.Visibility.NarrowerThan(parentConst.Visibility) {
				diags = append(diags, diagnostic.Diagnostic{
					Code:     diagnostic.CodeIncompatibleConstant,
					Severity: diagnostic.SeverityError,
					File:     c.File,
					Line:     cons.Line,
					Column:   1,
					Message: fmt.Sprintf("constant `%s` narrows visibility from %s to %s",
						cons.Name, parentConst.Visibility, cons.Visibility),
				})
			}
			break
		}
	}
	return diags
}

// IsAncestor implements typing.Hierarchy.
func (t *Table) IsAncestor(sub, super string) bool {
	if strings.EqualFold(sub, super) {
		return true
	}
	r := t.Resolved(sub)
	if r == nil {
		return false
	}
	_, ok := r.Ancestor(super)
	return ok
}

// AncestorInstantiation implements typing.Hierarchy: it computes sub's view
// of ancestor super by substituting sub's concrete type arguments into the
// flattened ancestor arguments.
func (t *Table) AncestorInstantiation(sub typing.Object, super string) (typing.Object, bool) {
	if strings.EqualFold(sub.Name, super) {
		return sub, true
	}
	c := t.Class(sub.Name)
	r := t.Resolved(sub.Name)
	if c == nil || r == nil {
		return typing.Object{}, false
	}
	anc, ok := r.Ancestor(super)
	if !ok {
		return typing.Object{}, false
	}

	bindings := make([]typing.TemplateBinding, 0, len(c.Templates))
	for i, tp := range c.Templates {
		to := typing.Type(typing.Mixed())
		if tp.Bound != nil {
			to = tp.Bound
		}
		if i < len(sub.TypeArgs) {
			to = sub.TypeArgs[i]
		}
		bindings = append(bindings, typing.TemplateBinding{Param: tp.AsType(c.Name), To: to})
	}
	args := make([]typing.Type, 0, len(anc.Args))
	for _, a := range anc.Args {
		args = append(args, typing.Substitute(a, bindings))
	}
	return typing.Object{Name: anc.Name, TypeArgs: args}, true
}

// TemplateVariances implements typing.Hierarchy.
func (t *Table) TemplateVariances(name string) []typing.Variance {
	c := t.Class(name)
	if c == nil {
		return nil
	}
	out := make([]typing.Variance, 0, len(c.Templates))
	for _, tp := range c.Templates {
		out = append(out, tp.Variance)
	}
	return out
}

// MemberLookup is the result of resolving a member through the hierarchy:
// the owning class-like and the template bindings accumulated from the
// receiver instantiation down to the owner.
type MemberLookup struct {
	Owner    *ClassLike
	Bindings []typing.TemplateBinding
}

// lookupOwner walks recv's class and flattened ancestors until pick returns
// true, collecting the bindings that instantiate the owner.
func (t *Table) lookupOwner(recv typing.Object, pick func(*ClassLike) bool) (*MemberLookup, bool) {
	c := t.Class(recv.Name)
	if c == nil {
		return nil, false
	}
	if pick(c) {
		return &MemberLookup{Owner: c, Bindings: bindingsFor(c, recv.TypeArgs)}, true
	}
	r := t.Resolved(recv.Name)
	if r == nil {
		return nil, false
	}
	for _, anc := range r.Ancestors {
		owner := t.Class(anc.Name)
		if owner == nil || !pick(owner) {
			continue
		}
		inst, ok := t.AncestorInstantiation(recv, anc.Name)
		if !ok {
			continue
		}
		return &MemberLookup{Owner: owner, Bindings: bindingsFor(owner, inst.TypeArgs)}, true
	}
	return nil, false
}

// MethodOn resolves a method on the given receiver type, walking parents
// and interfaces the way the runtime would.
func (t *Table) MethodOn(recv typing.Object, name string) (*Method, *MemberLookup, bool) {
	lookup, ok := t.lookupOwner(recv, func(c *ClassLike) bool { return c.Method(name) != nil })
	if !ok {
		return nil, nil, false
	}
	return lookup.Owner.Method(name), lookup, true
}

// PropertyOn resolves a property on the given receiver type.
func (t *Table) PropertyOn(recv typing.Object, name string) (*Property, *MemberLookup, bool) {
	lookup, ok := t.lookupOwner(recv, func(c *ClassLike) bool { return c.Property(name) != nil })
	if !ok {
		return nil, nil, false
	}
	return lookup.Owner.Property(name), lookup, true
}

// ConstantOn resolves a class constant on the given receiver type.
func (t *Table) ConstantOn(recv typing.Object, name string) (*Constant, *MemberLookup, bool) {
	lookup, ok := t.lookupOwner(recv, func(c *ClassLike) bool { return c.Constant(name) != nil })
	if !ok {
		return nil, nil, false
	}
	return lookup.Owner.Constant(name), lookup, true
}

func bindingsFor(c *ClassLike, args []typing.Type) []typing.TemplateBinding {
	if len(c.Templates) == 0 {
		return nil
	}
	bindings := make([]typing.TemplateBinding, 0, len(c.Templates))
	for i, tp := range c.Templates {
		to := typing.Type(typing.Mixed())
		if tp.Bound != nil {
			to = tp.Bound
		}
		if i < len(args) {
			to = args[i]
		}
		bindings = append(bindings, typing.TemplateBinding{Param: tp.AsType(c.Name), To: to})
	}
	return bindings
}
