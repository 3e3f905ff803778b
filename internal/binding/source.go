package binding

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
)

// SourceIndex recovers method parameter names by parsing Go source files.
// Methods are keyed by package name, receiver type and method name.
type SourceIndex struct {
	mu      sync.RWMutex
	methods map[string][]sourceMethod
	files   int
}

type sourceMethod struct {
	dir   string
	file  string
	names []string
}

// IndexOption configures source indexing.
type IndexOption func(*indexOptions)

type indexOptions struct {
	includeTests bool
	workers      int
}

// IncludeTests also indexes _test.go files.
func IncludeTests() IndexOption {
	return func(o *indexOptions) { o.includeTests = true }
}

// NewSourceIndex parses every Go file under dirs.
func NewSourceIndex(dirs []string, opts ...IndexOption) (*SourceIndex, error) {
	options := indexOptions{workers: runtime.NumCPU()}
	if options.workers > 8 {
		options.workers = 8
	}
	for _, opt := range opts {
		opt(&options)
	}

	var files []string
	for _, dir := range dirs {
		err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				name := d.Name()
				if p != dir && (name == "vendor" || name == "testdata" || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")) {
					return filepath.SkipDir
				}
				return nil
			}
			if !strings.HasSuffix(p, ".go") {
				return nil
			}
			if !options.includeTests && strings.HasSuffix(p, "_test.go") {
				return nil
			}
			files = append(files, p)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("index %s: %w", dir, err)
		}
	}

	idx := &SourceIndex{methods: make(map[string][]sourceMethod)}
	if err := idx.parseFiles(files, options.workers); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *SourceIndex) parseFiles(files []string, workers int) error {
	if workers < 1 {
		workers = 1
	}
	jobs := make(chan string, workers*2)
	errs := make(chan error, len(files))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for file := range jobs {
				if err := idx.parseFile(file); err != nil {
					errs <- err
				}
			}
		}()
	}
	for _, file := range files {
		jobs <- file
	}
	close(jobs)
	wg.Wait()
	close(errs)

	if err, ok := <-errs; ok {
		return err
	}
	return nil
}

func (idx *SourceIndex) parseFile(file string) error {
	fset := token.NewFileSet()
	node, err := parser.ParseFile(fset, file, nil, parser.SkipObjectResolution)
	if err != nil {
		return fmt.Errorf("parse %s: %w", file, err)
	}

	dir := filepath.ToSlash(filepath.Dir(file))
	found := make(map[string]sourceMethod)
	for _, decl := range node.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Recv == nil || len(fn.Recv.List) != 1 {
			continue
		}
		recv := receiverName(fn.Recv.List[0].Type)
		if recv == "" {
			continue
		}
		key := node.Name.Name + "." + recv + "." + fn.Name.Name
		found[key] = sourceMethod{dir: dir, file: file, names: parameterNames(fn)}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.files++
	for key, m := range found {
		idx.methods[key] = append(idx.methods[key], m)
	}
	return nil
}

func receiverName(expr ast.Expr) string {
	switch e := expr.(type) {
	case *ast.Ident:
		return e.Name
	case *ast.StarExpr:
		return receiverName(e.X)
	case *ast.IndexExpr:
		return receiverName(e.X)
	case *ast.IndexListExpr:
		return receiverName(e.X)
	case *ast.ParenExpr:
		return receiverName(e.X)
	default:
		return ""
	}
}

func parameterNames(fn *ast.FuncDecl) []string {
	var names []string
	if fn.Type.Params == nil {
		return names
	}
	for _, param := range fn.Type.Params.List {
		if len(param.Names) == 0 {
			names = append(names, "")
			continue
		}
		for _, name := range param.Names {
			names = append(names, name.Name)
		}
	}
	return names
}

// Len returns the number of indexed methods.
func (idx *SourceIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.methods)
}

// Files returns the number of parsed files.
func (idx *SourceIndex) Files() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.files
}

// Keys returns the indexed method keys, sorted.
func (idx *SourceIndex) Keys() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	keys := make([]string, 0, len(idx.methods))
	for k := range idx.methods {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (idx *SourceIndex) Strategy() string { return StrategySource }

// Names returns the source parameter names of ref. When several packages
// share a name, the one whose directory ends the owner's import path wins.
func (idx *SourceIndex) Names(ref MethodRef) ([]string, error) {
	if ref.Owner == nil {
		return nil, fmt.Errorf("method %s has no owner type", ref.Name)
	}
	pkgPath := ref.Owner.PkgPath()
	key := path.Base(pkgPath) + "." + ref.Owner.Name() + "." + ref.Name

	idx.mu.RLock()
	candidates := idx.methods[key]
	idx.mu.RUnlock()

	switch len(candidates) {
	case 0:
		return nil, fmt.Errorf("no source for %s", key)
	case 1:
		return append([]string(nil), candidates[0].names...), nil
	}

	var match []sourceMethod
	for _, c := range candidates {
		if pkgPath == c.dir || strings.HasSuffix(pkgPath, "/"+strings.TrimPrefix(c.dir, "./")) {
			match = append(match, c)
		}
	}
	if len(match) != 1 {
		return nil, fmt.Errorf("%s is ambiguous across %d source directories", key, len(candidates))
	}
	return append([]string(nil), match[0].names...), nil
}

// NewSource returns a binder using the source-names strategy over idx.
func NewSource(idx *SourceIndex, opts ...Option) Binder {
	return New(idx, opts...)
}
