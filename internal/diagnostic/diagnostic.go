// Package diagnostic defines the typed diagnostics the engine emits and the
// collector that accumulates them per analysis run. The `analysis:` code
// namespace is the wire contract consumed by reporting tools and by the
// @mago-expect assertions in test fixtures; codes must stay stable.
package diagnostic

import (
	"fmt"
	"sort"
	"sync"
)

// Severity of a diagnostic.
type Severity int

const (
	SeverityError Severity = iota + 1
	SeverityWarning
	SeverityHint
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityHint:
		return "hint"
	}
	return "unknown"
}

// Stable diagnostic codes.
const (
	CodeNonExistentClassLike           = "analysis:non-existent-class-like"
	CodeCircularInheritance            = "analysis:circular-inheritance"
	CodeInvalidType                    = "analysis:invalid-type"
	CodeIncompatibleReturnType         = "analysis:incompatible-return-type"
	CodeIncompatibleParameterType      = "analysis:incompatible-parameter-type"
	CodeIncompatibleParameterName      = "analysis:incompatible-parameter-name"
	CodeIncompatibleParameterCount     = "analysis:incompatible-parameter-count"
	CodeIncompatibleVisibility         = "analysis:incompatible-visibility"
	CodeIncompatibleStatic             = "analysis:incompatible-static"
	CodeIncompatiblePropertyType       = "analysis:incompatible-property-type"
	CodeIncompatiblePropertyDefault    = "analysis:incompatible-property-default"
	CodeIncompatiblePropertyVisibility = "analysis:incompatible-property-visibility"
	CodeIncompatibleConstant           = "analysis:incompatible-constant"
	CodePossiblyUndefinedVariable      = "analysis:possibly-undefined-variable"
	CodeUndefinedVariable              = "analysis:undefined-variable"
	CodePossiblyUndefinedIndex         = "analysis:possibly-undefined-index"
	CodeUndefinedIndex                 = "analysis:undefined-index"
	CodeRedundantCondition             = "analysis:redundant-condition"
	CodeImpossibleCondition            = "analysis:impossible-condition"
	CodeNullAccess                     = "analysis:null-access"
	CodeNonExistentMethod              = "analysis:non-existent-method"
	CodeNonExistentProperty            = "analysis:non-existent-property"
	CodeNonExistentFunction            = "analysis:non-existent-function"
	CodeInvalidArgument                = "analysis:invalid-argument"
	CodeInvalidReturnStatement         = "analysis:invalid-return-statement"
	CodeMissingReturnStatement         = "analysis:missing-return-statement"
	CodeUninitializedProperty          = "analysis:uninitialized-property"
	CodeTemplateBoundViolation         = "analysis:template-bound-violation"
	CodeUnfulfilledExpectation         = "analysis:unfulfilled-expectation"
)

// Diagnostic is one finding, immutable once emitted.
type Diagnostic struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	File     string   `json:"file"`
	Line     int      `json:"line"`
	Column   int      `json:"column"`
	EndLine  int      `json:"endLine,omitempty"`
	EndCol   int      `json:"endColumn,omitempty"`
	Message  string   `json:"message"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s:%d:%d %s [%s]", d.File, d.Line, d.Column, d.Message, d.Code)
}

// Collector accumulates diagnostics for one analysis run. Safe for
// concurrent use; per-file analysis tasks report into the same collector.
type Collector struct {
	mu    sync.Mutex
	items []Diagnostic
}

func NewCollector() *Collector {
	return &Collector{}
}

// Report adds a diagnostic to the run.
func (c *Collector) Report(d Diagnostic) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, d)
}

// ReportAll adds a batch of diagnostics.
func (c *Collector) ReportAll(ds []Diagnostic) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, ds...)
}

// Len returns the number of collected diagnostics.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Sorted returns the diagnostics ordered by file, line, column and code.
// Worker scheduling must never leak into the output order.
func (c *Collector) Sorted() []Diagnostic {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Diagnostic, len(c.items))
	copy(out, c.items)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Column != b.Column {
			return a.Column < b.Column
		}
		if a.Code != b.Code {
			return a.Code < b.Code
		}
		return a.Message < b.Message
	})
	return out
}
