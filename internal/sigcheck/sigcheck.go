// Package sigcheck verifies that overriding members keep their inherited
// contract: covariant returns, contravariant parameters, matching static
// modifiers and visibility that only ever widens. It works on symbol table
// entries whose template parameters have already been substituted down to
// the overriding class's view.
package sigcheck

import (
	"fmt"

	"github.com/phpmago/analyzer/internal/diagnostic"
	"github.com/phpmago/analyzer/internal/symbol"
	"github.com/phpmago/analyzer/internal/typing"
)

// Checker runs override compatibility checks.
type Checker struct {
	types *typing.Checker
}

// New returns a checker using the given subtype oracle.
func New(types *typing.Checker) *Checker {
	return &Checker{types: types}
}

type reportFn func(code string, severity diagnostic.Severity, format string, args ...any)

func reporter(diags *[]diagnostic.Diagnostic, file string, line int) reportFn {
	return func(code string, severity diagnostic.Severity, format string, args ...any) {
		*diags = append(*diags, diagnostic.Diagnostic{
			Code:     code,
			Severity: severity,
			File:     file,
			Line:     line,
			Column:   1,
			Message:  fmt.Sprintf(format, args...),
		})
	}
}

// CheckOverride compares child, declared on childOwner, against parent, the
// member it overrides. The parent's types must already be instantiated to
// the child's view of the hierarchy.
func (c *Checker) CheckOverride(parentOwner, childOwner *symbol.ClassLike, parent, child *symbol.Method) []diagnostic.Diagnostic {
	var diags []diagnostic.Diagnostic
	at := reporter(&diags, childOwner.File, child.Line)
	label := fmt.Sprintf("%s::%s()", childOwner.Name, child.Name)
	parentLabel := fmt.Sprintf("%s::%s()", parentOwner.Name, parent.Name)

	if parent.Static != child.Static {
		at(diagnostic.CodeIncompatibleStatic, diagnostic.SeverityError,
			"%s and %s disagree on the static modifier", label, parentLabel)
	}
	if child.Visibility.NarrowerThan(parent.Visibility) {
		at(diagnostic.CodeIncompatibleVisibility, diagnostic.SeverityError,
			"%s narrows visibility of %s from %s to %s", label, parentLabel, parent.Visibility, child.Visibility)
	}

	c.checkReturn(at, label, parentLabel, parent.Return, child.Return)
	c.checkParams(at, label, parentLabel, parent.Params, child.Params)
	return diags
}

// checkReturn enforces return covariance. void matches only void, and never
// is the universal bottom that overrides anything.
func (c *Checker) checkReturn(at reportFn, label, parentLabel string, parent, child typing.Type) {
	if parent == nil || child == nil {
		return
	}
	if typing.ContainsTemplate(parent) || typing.ContainsTemplate(child) {
		return
	}
	if typing.IsNever(child) {
		return
	}
	if typing.IsVoid(parent) != typing.IsVoid(child) {
		at(diagnostic.CodeIncompatibleReturnType, diagnostic.SeverityError,
			"%s return type %s is incompatible with %s declaring %s", label, child, parentLabel, parent)
		return
	}
	if typing.IsVoid(parent) || typing.IsMixed(parent) {
		return
	}
	if !c.types.IsSubtype(child, parent) {
		at(diagnostic.CodeIncompatibleReturnType, diagnostic.SeverityError,
			"%s return type %s is not a subtype of %s declared by %s", label, child, parent, parentLabel)
	}
}

// checkParams enforces parameter contravariance and the arity rules: extra
// child parameters must be optional, required parent parameters may not be
// dropped unless they were trailing optionals.
func (c *Checker) checkParams(at reportFn, label, parentLabel string, parent, child []symbol.Parameter) {
	childVariadic := len(child) > 0 && child[len(child)-1].Variadic

	for i := range parent {
		pp := &parent[i]
		var cp *symbol.Parameter
		switch {
		case i < len(child) && !child[i].Variadic:
			cp = &child[i]
		case childVariadic:
			cp = &child[len(child)-1]
		default:
			if pp.Optional || pp.Variadic {
				continue
			}
			at(diagnostic.CodeIncompatibleParameterCount, diagnostic.SeverityError,
				"%s drops required parameter $%s declared by %s", label, pp.Name, parentLabel)
			continue
		}

		if cp.Name != pp.Name && !cp.Variadic {
			at(diagnostic.CodeIncompatibleParameterName, diagnostic.SeverityWarning,
				"%s renames parameter $%s of %s to $%s, breaking named arguments", label, pp.Name, parentLabel, cp.Name)
		}

		pt, ct := pp.Type, cp.Type
		if pt == nil || ct == nil || typing.IsMixed(ct) {
			continue
		}
		if typing.ContainsTemplate(pt) || typing.ContainsTemplate(ct) {
			continue
		}
		if !c.types.IsSubtype(pt, ct) {
			at(diagnostic.CodeIncompatibleParameterType, diagnostic.SeverityError,
				"parameter $%s of %s has type %s, which does not accept the %s declared by %s", cp.Name, label, ct, pt, parentLabel)
		}
	}

	for i := len(parent); i < len(child); i++ {
		cp := &child[i]
		if cp.Optional || cp.Variadic {
			continue
		}
		at(diagnostic.CodeIncompatibleParameterCount, diagnostic.SeverityError,
			"%s adds required parameter $%s not accepted by %s", label, cp.Name, parentLabel)
	}
}

// CheckPropertyOverride compares an overriding property declaration against
// the inherited one. PHP property types are invariant.
func (c *Checker) CheckPropertyOverride(parentOwner, childOwner *symbol.ClassLike, parent, child *symbol.Property) []diagnostic.Diagnostic {
	var diags []diagnostic.Diagnostic
	at := reporter(&diags, childOwner.File, child.Line)
	label := fmt.Sprintf("%s::$%s", childOwner.Name, child.Name)
	parentLabel := fmt.Sprintf("%s::$%s", parentOwner.Name, parent.Name)

	if parent.Static != child.Static {
		at(diagnostic.CodeIncompatibleStatic, diagnostic.SeverityError,
			"%s and %s disagree on the static modifier", label, parentLabel)
	}
	if child.Visibility.NarrowerThan(parent.Visibility) {
		at(diagnostic.CodeIncompatiblePropertyVisibility, diagnostic.SeverityError,
			"%s narrows visibility of %s from %s to %s", label, parentLabel, parent.Visibility, child.Visibility)
	}

	pt, ct := parent.Type, child.Type
	if pt != nil && ct != nil &&
		!typing.IsMixed(pt) && !typing.IsMixed(ct) &&
		!typing.ContainsTemplate(pt) && !typing.ContainsTemplate(ct) &&
		!typing.Equal(pt, ct) {
		at(diagnostic.CodeIncompatiblePropertyType, diagnostic.SeverityError,
			"%s changes the type of %s from %s to %s", label, parentLabel, pt, ct)
	}
	return diags
}
