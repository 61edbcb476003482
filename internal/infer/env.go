// Package infer implements the flow-sensitive type inference and narrowing
// engine. It walks the flow graph of one function or method body, threads a
// type environment through every statement, narrows along branch edges and
// reports type violations as diagnostics without ever aborting.
package infer

import (
	"sort"

	"github.com/phpmago/analyzer/internal/typing"
)

// Binding is the state of one variable in an environment.
type Binding struct {
	Type typing.Type
	// MaybeUndef marks a variable that is only assigned on some of the
	// paths reaching this point.
	MaybeUndef bool
}

// Env maps variable names (without the $ prefix) to bindings. Environments
// are value-copied at flow splits; mutation always goes through Set on a
// cloned map.
type Env map[string]Binding

// NewEnv returns an empty environment.
func NewEnv() Env {
	return make(Env)
}

// Clone returns an independent copy.
func (e Env) Clone() Env {
	out := make(Env, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// Get returns the binding for a variable.
func (e Env) Get(name string) (Binding, bool) {
	b, ok := e[name]
	return b, ok
}

// Set binds a variable to a definitely-assigned type.
func (e Env) Set(name string, t typing.Type) {
	e[name] = Binding{Type: t}
}

// Names returns the bound variable names in sorted order.
func (e Env) Names() []string {
	names := make([]string, 0, len(e))
	for k := range e {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Equal reports whether two environments bind the same variables to equal
// types and undef states.
func (e Env) Equal(other Env) bool {
	if len(e) != len(other) {
		return false
	}
	for k, v := range e {
		o, ok := other[k]
		if !ok || v.MaybeUndef != o.MaybeUndef || !typing.Equal(v.Type, o.Type) {
			return false
		}
	}
	return true
}

// Merge joins two environments at a flow join point: types union per
// variable, and a variable missing on either side becomes possibly
// undefined.
func Merge(a, b Env) Env {
	if a == nil {
		return b.Clone()
	}
	if b == nil {
		return a.Clone()
	}
	out := make(Env, len(a))
	for k, va := range a {
		if vb, ok := b[k]; ok {
			out[k] = Binding{
				Type:       typing.NewUnion(va.Type, vb.Type),
				MaybeUndef: va.MaybeUndef || vb.MaybeUndef,
			}
		} else {
			out[k] = Binding{Type: va.Type, MaybeUndef: true}
		}
	}
	for k, vb := range b {
		if _, ok := a[k]; !ok {
			out[k] = Binding{Type: vb.Type, MaybeUndef: true}
		}
	}
	return out
}

// Widen replaces every literal-refined binding by its base type. It is the
// conservative fallback when loop analysis does not converge within the
// iteration cap.
func (e Env) Widen() Env {
	out := make(Env, len(e))
	for k, v := range e {
		out[k] = Binding{Type: typing.Widen(v.Type), MaybeUndef: v.MaybeUndef}
	}
	return out
}
