// Package analyzer orchestrates a whole-project analysis run: it scans the
// tree for PHP files, collects symbols in a first parallel pass, freezes the
// hierarchy, then runs flow-sensitive inference and override checks in a
// second parallel pass. Suppression pragmas are applied at the end so the
// final diagnostic list is what reporting tools consume.
package analyzer

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/phpmago/analyzer/internal/cache"
	"github.com/phpmago/analyzer/internal/diagnostic"
	"github.com/phpmago/analyzer/internal/infer"
	"github.com/phpmago/analyzer/internal/phpast"
	"github.com/phpmago/analyzer/internal/sigcheck"
	"github.com/phpmago/analyzer/internal/stub"
	"github.com/phpmago/analyzer/internal/symbol"
	"github.com/phpmago/analyzer/internal/typing"
)

var defaultSkipDirs = map[string]bool{
	".git":         true,
	".svn":         true,
	".idea":        true,
	".vscode":      true,
	"node_modules": true,
	"vendor-bin":   true,
	"cache":        true,
	"var":          true,
}

// Options configures a run.
type Options struct {
	// SkipDirs overrides the default directory skip list.
	SkipDirs map[string]bool
	// Cache, when set, reuses inference results for unchanged files.
	Cache *cache.Store
	// LoopPasses overrides the engine's loop fixed-point cap.
	LoopPasses int
}

// Result is the outcome of one run.
type Result struct {
	Diagnostics []diagnostic.Diagnostic
	Files       int
	Classes     int
	Duration    time.Duration
}

// Analyzer runs the two-phase analysis over one project root. A fresh
// Analyzer is needed per run; the symbol table freezes along the way.
type Analyzer struct {
	root     string
	opts     Options
	table    *symbol.Table
	registry *AliasRegistry
}

// New returns an analyzer for the project at root. Root may also name a
// single PHP file.
func New(root string, opts Options) *Analyzer {
	return &Analyzer{
		root:     root,
		opts:     opts,
		table:    symbol.NewTable(),
		registry: NewAliasRegistry(),
	}
}

// Table exposes the symbol table, frozen after Run.
func (a *Analyzer) Table() *symbol.Table {
	return a.table
}

// Run executes the full analysis. The context is checked between files, so
// cancellation takes effect at file granularity.
func (a *Analyzer) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	skip := a.opts.SkipDirs
	if skip == nil {
		skip = defaultSkipDirs
	}
	files, err := scanFiles(a.root, skip)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", a.root, err)
	}

	col := diagnostic.NewCollector()
	stub.Register(a.table)
	collector := &Collector{Table: a.table, Registry: a.registry}

	var mu sync.Mutex
	hashes := make(map[string]uint64, len(files))
	var pragmas []diagnostic.Pragma

	a.runWorkers(ctx, files, func(parser *tree_sitter.Parser, path string) {
		content, err := os.ReadFile(path)
		if err != nil {
			log.Printf("failed to read %s: %v", path, err)
			return
		}
		file, err := phpast.ParseFile(parser, path, content)
		if err != nil {
			log.Printf("failed to parse %s: %v", path, err)
			return
		}
		defer file.Close()

		collector.CollectFile(file, col)
		filePragmas := file.Pragmas()

		mu.Lock()
		hashes[path] = cache.Hash(content)
		pragmas = append(pragmas, filePragmas...)
		mu.Unlock()
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resolveImportedAliases(a.table, a.registry)
	col.ReportAll(a.table.Freeze())
	a.applyInheritDoc()
	a.prepareCache(hashes)

	engine := infer.New(a.table)
	if a.opts.LoopPasses > 0 {
		engine.LoopPasses = a.opts.LoopPasses
	}

	a.runWorkers(ctx, files, func(parser *tree_sitter.Parser, path string) {
		a.analyzeFile(parser, path, hashes[path], engine, col)
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.checkOverrides(engine.Checker, col)

	// Unfulfilled expectations land at the end of the slice, so sort once
	// more through a collector.
	final := diagnostic.NewCollector()
	final.ReportAll(diagnostic.ApplySuppressions(col.Sorted(), pragmas))

	return &Result{
		Diagnostics: final.Sorted(),
		Files:       len(files),
		Classes:     len(a.table.ClassNames()),
		Duration:    time.Since(start),
	}, nil
}

// runWorkers feeds the file list through a bounded worker pool. Parsers are
// not safe for concurrent use, so each worker owns one.
func (a *Analyzer) runWorkers(ctx context.Context, files []string, work func(parser *tree_sitter.Parser, path string)) {
	workerCount := runtime.NumCPU() + 2
	if workerCount > 16 {
		workerCount = 16
	}

	fileChan := make(chan string, 100)
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			parser, err := phpast.NewParser()
			if err != nil {
				log.Printf("failed to create parser: %v", err)
				return
			}
			defer parser.Close()

			for path := range fileChan {
				if ctx.Err() != nil {
					continue
				}
				work(parser, path)
			}
		}()
	}

feed:
	for _, path := range files {
		select {
		case <-ctx.Done():
			break feed
		case fileChan <- path:
		}
	}
	close(fileChan)
	wg.Wait()
}

// analyzeFile runs the inference pass over one file, going through the
// result cache when one is configured.
func (a *Analyzer) analyzeFile(parser *tree_sitter.Parser, path string, hash uint64, engine *infer.Engine, col *diagnostic.Collector) {
	if a.opts.Cache != nil {
		if diags, ok, err := a.opts.Cache.Lookup(path, hash); err == nil && ok {
			col.ReportAll(diags)
			return
		}
	}

	content, err := os.ReadFile(path)
	if err != nil {
		log.Printf("failed to read %s: %v", path, err)
		return
	}
	file, err := phpast.ParseFile(parser, path, content)
	if err != nil {
		log.Printf("failed to parse %s: %v", path, err)
		return
	}
	defer file.Close()

	fileCol := diagnostic.NewCollector()
	a.analyzeBodies(file, engine, fileCol)
	diags := fileCol.Sorted()
	col.ReportAll(diags)

	if a.opts.Cache != nil {
		if err := a.opts.Cache.Save(path, hash, diags); err != nil {
			log.Printf("failed to cache results for %s: %v", path, err)
		}
	}
}

// analyzeBodies walks the file for function and method bodies and runs the
// engine over each, using the frozen symbol table for signatures.
func (a *Analyzer) analyzeBodies(file *phpast.File, engine *infer.Engine, col *diagnostic.Collector) {
	var walk func(node *tree_sitter.Node, self *symbol.ClassLike)
	walk = func(node *tree_sitter.Node, self *symbol.ClassLike) {
		for _, child := range phpast.NamedChildren(node) {
			switch child.Kind() {
			case "class_declaration", "interface_declaration", "trait_declaration", "enum_declaration":
				nameNode := child.ChildByFieldName("name")
				if nameNode == nil {
					continue
				}
				name := qualifyIn(file, file.Text(nameNode))
				c := a.table.Class(name)
				if c == nil {
					continue
				}
				if r := a.table.Resolved(name); r != nil && r.Failed {
					// An unresolved hierarchy makes member types meaningless.
					continue
				}
				if body := child.ChildByFieldName("body"); body != nil {
					walk(body, c)
				}
			case "method_declaration":
				if self != nil {
					a.analyzeMethod(file, self, child, engine, col)
				}
			case "function_definition":
				a.analyzeFunction(file, child, engine, col)
				if body := child.ChildByFieldName("body"); body != nil {
					walk(body, nil)
				}
			default:
				walk(child, self)
			}
		}
	}
	walk(file.Root(), nil)
}

func (a *Analyzer) analyzeMethod(file *phpast.File, self *symbol.ClassLike, node *tree_sitter.Node, engine *infer.Engine, col *diagnostic.Collector) {
	nameNode := node.ChildByFieldName("name")
	body := node.ChildByFieldName("body")
	if nameNode == nil || body == nil {
		return
	}
	m := self.Method(file.Text(nameNode))
	if m == nil {
		return
	}
	engine.AnalyzeBody(infer.Scope{
		File:       file,
		Name:       self.Name + "::" + m.Name,
		Line:       phpast.Line(node),
		Params:     m.Params,
		Return:     m.Return,
		HasReturn:  m.Return != nil,
		Assertions: m.Assertions,
		Self:       self,
		Static:     m.Static,
		Templates:  templateScope(self),
		Aliases:    a.registry.AliasesFor(self.Name),
	}, body, col)
}

func (a *Analyzer) analyzeFunction(file *phpast.File, node *tree_sitter.Node, engine *infer.Engine, col *diagnostic.Collector) {
	nameNode := node.ChildByFieldName("name")
	body := node.ChildByFieldName("body")
	if nameNode == nil || body == nil {
		return
	}
	f := a.table.Function(qualifyIn(file, file.Text(nameNode)))
	if f == nil {
		return
	}
	engine.AnalyzeBody(infer.Scope{
		File:       file,
		Name:       f.Name,
		Line:       phpast.Line(node),
		Params:     f.Params,
		Return:     f.Return,
		HasReturn:  f.Return != nil,
		Assertions: f.Assertions,
		Templates:  functionTemplateScope(f),
	}, body, col)
}

// applyInheritDoc copies the nearest inherited declaration's parameter and
// return types onto methods whose docblock only defers with @inheritDoc,
// substituted into the child's instantiation. Runs between freezing and the
// inference pass so both the body checks and the override checks see the
// inherited types.
func (a *Analyzer) applyInheritDoc() {
	for _, name := range a.table.ClassNames() {
		c := a.table.Class(name)
		r := a.table.Resolved(name)
		if c == nil || r == nil || r.Failed {
			continue
		}
		recv := typing.Object{Name: c.Name, TypeArgs: c.TemplateTypes()}
		for i := range c.Methods {
			m := &c.Methods[i]
			if !m.InheritDoc {
				continue
			}
			_, pm, bindings := a.findParentMethod(r, recv, m.Name)
			if pm == nil {
				continue
			}
			parent := substituteMethod(pm, bindings)
			// Trait-adopted methods may share their parameter slice with
			// the trait's declaration; copy before writing.
			params := make([]symbol.Parameter, len(m.Params))
			copy(params, m.Params)
			for j := range params {
				if j < len(parent.Params) && parent.Params[j].Type != nil {
					params[j].Type = parent.Params[j].Type
				}
			}
			m.Params = params
			if parent.Return != nil {
				m.Return = parent.Return
			}
		}
	}
}

// checkOverrides compares every method and property against its nearest
// inherited declaration. Parent signatures are substituted into the child's
// instantiation first, so `implements Comparable<Data>` checks against
// `compareTo(Data $other)` rather than the bare template parameter.
func (a *Analyzer) checkOverrides(checker *typing.Checker, col *diagnostic.Collector) {
	sc := sigcheck.New(checker)
	for _, name := range a.table.ClassNames() {
		c := a.table.Class(name)
		r := a.table.Resolved(name)
		if c == nil || r == nil || r.Failed || c.Kind == symbol.KindTrait {
			continue
		}
		recv := typing.Object{Name: c.Name, TypeArgs: c.TemplateTypes()}

		for i := range c.Methods {
			child := &c.Methods[i]
			if strings.EqualFold(child.Name, "__construct") {
				continue
			}
			parent, pm, bindings := a.findParentMethod(r, recv, child.Name)
			if pm == nil {
				continue
			}
			col.ReportAll(sc.CheckOverride(parent, c, substituteMethod(pm, bindings), child))
		}

		for i := range c.Properties {
			child := &c.Properties[i]
			parent, pp, bindings := a.findParentProperty(r, recv, child.Name)
			if pp == nil {
				continue
			}
			col.ReportAll(sc.CheckPropertyOverride(parent, c, substituteProperty(pp, bindings), child))
		}
	}
}

// findParentMethod walks the flattened ancestors nearest-first for an
// inherited method declaration. Private methods do not participate.
func (a *Analyzer) findParentMethod(r *symbol.Resolved, recv typing.Object, name string) (*symbol.ClassLike, *symbol.Method, []typing.TemplateBinding) {
	for _, anc := range r.Ancestors {
		parent := a.table.Class(anc.Name)
		if parent == nil || parent.Kind == symbol.KindTrait {
			continue
		}
		pm := parent.Method(name)
		if pm == nil || pm.Visibility == symbol.Private {
			continue
		}
		return parent, pm, a.ancestorBindings(recv, parent)
	}
	return nil, nil, nil
}

func (a *Analyzer) findParentProperty(r *symbol.Resolved, recv typing.Object, name string) (*symbol.ClassLike, *symbol.Property, []typing.TemplateBinding) {
	for _, anc := range r.Ancestors {
		parent := a.table.Class(anc.Name)
		if parent == nil || parent.Kind == symbol.KindTrait {
			continue
		}
		pp := parent.Property(name)
		if pp == nil || pp.Visibility == symbol.Private {
			continue
		}
		return parent, pp, a.ancestorBindings(recv, parent)
	}
	return nil, nil, nil
}

// ancestorBindings binds the parent's template parameters to the child's
// view of that ancestor.
func (a *Analyzer) ancestorBindings(recv typing.Object, parent *symbol.ClassLike) []typing.TemplateBinding {
	if len(parent.Templates) == 0 {
		return nil
	}
	inst, ok := a.table.AncestorInstantiation(recv, parent.Name)
	if !ok {
		return nil
	}
	bindings := make([]typing.TemplateBinding, 0, len(parent.Templates))
	for i, tp := range parent.Templates {
		to := typing.Type(typing.Mixed())
		if tp.Bound != nil {
			to = tp.Bound
		}
		if i < len(inst.TypeArgs) {
			to = inst.TypeArgs[i]
		}
		bindings = append(bindings, typing.TemplateBinding{Param: tp.AsType(parent.Name), To: to})
	}
	return bindings
}

func substituteMethod(m *symbol.Method, bindings []typing.TemplateBinding) *symbol.Method {
	if len(bindings) == 0 {
		return m
	}
	out := *m
	out.Params = make([]symbol.Parameter, len(m.Params))
	copy(out.Params, m.Params)
	for i := range out.Params {
		out.Params[i].Type = typing.Substitute(out.Params[i].Type, bindings)
	}
	out.Return = typing.Substitute(out.Return, bindings)
	return &out
}

func substituteProperty(p *symbol.Property, bindings []typing.TemplateBinding) *symbol.Property {
	if len(bindings) == 0 {
		return p
	}
	out := *p
	out.Type = typing.Substitute(out.Type, bindings)
	return &out
}

func functionTemplateScope(f *symbol.Function) map[string]typing.TemplateParam {
	if len(f.Templates) == 0 {
		return nil
	}
	out := make(map[string]typing.TemplateParam, len(f.Templates))
	for _, t := range f.Templates {
		out[t.Name] = typing.TemplateParam{Name: t.Name, Owner: f.Name, Bound: t.Bound}
	}
	return out
}

func qualifyIn(file *phpast.File, name string) string {
	if file.Namespace != "" {
		return file.Namespace + "\\" + name
	}
	return name
}

// projectStamp is the reserved cache key holding the whole-project content
// fingerprint. NUL keeps it out of the path namespace.
const projectStamp = "\x00project"

// prepareCache clears the result cache when any file changed, since a symbol
// change in one file can shift inference results in every other file.
func (a *Analyzer) prepareCache(hashes map[string]uint64) {
	store := a.opts.Cache
	if store == nil {
		return
	}

	paths := make([]string, 0, len(hashes))
	for p := range hashes {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	digest := xxhash.New()
	for _, p := range paths {
		fmt.Fprintf(digest, "%s:%d\n", p, hashes[p])
	}
	stamp := digest.Sum64()

	if _, ok, err := store.Lookup(projectStamp, stamp); err == nil && ok {
		return
	}
	if err := store.Clear(); err != nil {
		log.Printf("failed to clear result cache: %v", err)
		return
	}
	if err := store.Save(projectStamp, stamp, nil); err != nil {
		log.Printf("failed to stamp result cache: %v", err)
	}
}

// scanFiles lists the PHP files under root in sorted order. A root naming a
// single file is analyzed as-is.
func scanFiles(root string, skip map[string]bool) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{root}, nil
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && skip[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(path, ".php") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
