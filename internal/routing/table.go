// Package routing builds the immutable route table: the (pattern, verb) map
// of bound handler methods plus the ordered filter and interceptor chains.
package routing

import (
	"fmt"
	"sort"
	"sync"

	"github.com/conneroisu/switchyard/internal/catalog"
	"github.com/conneroisu/switchyard/internal/errors"
	"github.com/conneroisu/switchyard/internal/web"
)

// Filter runs before routing. Returning an error rejects the request.
type Filter interface {
	Before(req *web.Request, resp *web.Response) error
}

// AfterFilter is a Filter with an after-hook.
type AfterFilter interface {
	Filter
	After(req *web.Request, resp *web.Response)
}

// Interceptor wraps handler invocation. PreHandle returning false rejects
// the request.
type Interceptor interface {
	PreHandle(req *web.Request, resp *web.Response) bool
	PostHandle(req *web.Request, resp *web.Response)
}

// FilterEntry is a filter registered for one pattern.
type FilterEntry struct {
	Pattern *Pattern
	Order   int
	Seq     int
	Owner   catalog.TypeID
	Filter  Filter
}

// InterceptorEntry is an interceptor registered for one pattern.
type InterceptorEntry struct {
	Pattern     *Pattern
	Order       int
	Seq         int
	Owner       catalog.TypeID
	Interceptor Interceptor
}

// Match is a resolved route.
type Match struct {
	Handler *Handler
	Vars    map[string]string
}

type routeKey struct {
	pattern string
	verb    web.Verb
}

type scopeKey struct {
	pattern string
	owner   catalog.TypeID
}

// Table is the route table. It is filled during startup and read
// concurrently afterwards.
type Table struct {
	mu           sync.RWMutex
	byKey        map[routeKey]*Handler
	exact        map[routeKey]*Handler
	variable     []*Handler
	routes       []*Handler
	filters      []*FilterEntry
	interceptors []*InterceptorEntry
	scopes       map[string]map[scopeKey]bool
	seq          int
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		byKey: make(map[routeKey]*Handler),
		exact: make(map[routeKey]*Handler),
		scopes: map[string]map[scopeKey]bool{
			"filter":      {},
			"interceptor": {},
		},
	}
}

// AddRoute registers h. The first handler for a (pattern, verb) wins; later
// ones are rejected with a route conflict.
func (t *Table) AddRoute(h *Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := routeKey{pattern: h.Pattern.Key(), verb: h.Verb}
	if existing, ok := t.byKey[key]; ok {
		return errors.NewRouteConflict(errors.CodeDuplicateRoute,
			fmt.Sprintf("%s %s already mapped to %s.%s", h.Verb, h.Pattern, existing.Owner, existing.Method)).
			WithComponent(string(h.Owner)).WithContext("method", h.Method)
	}

	h.seq = t.next()
	t.byKey[key] = h
	t.routes = append(t.routes, h)
	if h.Pattern.IsLiteral() {
		t.exact[routeKey{pattern: h.Pattern.String(), verb: h.Verb}] = h
		return nil
	}
	t.variable = append(t.variable, h)
	sort.SliceStable(t.variable, func(i, j int) bool {
		a, b := t.variable[i], t.variable[j]
		if moreSpecific(a.Pattern, b.Pattern) {
			return true
		}
		if moreSpecific(b.Pattern, a.Pattern) {
			return false
		}
		return a.seq < b.seq
	})
	return nil
}

// AddFilter registers a filter for one pattern. A component may register a
// given pattern only once.
func (t *Table) AddFilter(e FilterEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.claimScope("filter", e.Pattern, e.Owner); err != nil {
		return err
	}
	e.Seq = t.next()
	t.filters = append(t.filters, &e)
	sort.SliceStable(t.filters, func(i, j int) bool {
		return ordered(t.filters[i].Order, t.filters[i].Seq, t.filters[j].Order, t.filters[j].Seq)
	})
	return nil
}

// AddInterceptor registers an interceptor for one pattern.
func (t *Table) AddInterceptor(e InterceptorEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.claimScope("interceptor", e.Pattern, e.Owner); err != nil {
		return err
	}
	e.Seq = t.next()
	t.interceptors = append(t.interceptors, &e)
	sort.SliceStable(t.interceptors, func(i, j int) bool {
		return ordered(t.interceptors[i].Order, t.interceptors[i].Seq, t.interceptors[j].Order, t.interceptors[j].Seq)
	})
	return nil
}

func (t *Table) claimScope(kind string, p *Pattern, owner catalog.TypeID) error {
	key := scopeKey{pattern: p.Key(), owner: owner}
	if t.scopes[kind][key] {
		return errors.NewRouteConflict(errors.CodeDuplicateScope,
			fmt.Sprintf("%s %s already registered for %s", kind, owner, p)).WithComponent(string(owner))
	}
	t.scopes[kind][key] = true
	return nil
}

func ordered(orderA, seqA, orderB, seqB int) bool {
	if orderA != orderB {
		return orderA < orderB
	}
	return seqA < seqB
}

func (t *Table) next() int {
	t.seq++
	return t.seq
}

// Resolve finds the handler for path and verb. Literal routes outrank
// variable routes; among variable routes the most specific wins. A HEAD
// request falls back to the GET route.
func (t *Table) Resolve(path string, verb web.Verb) (*Match, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	path = web.CleanPath(path)
	if m, ok := t.resolve(path, verb); ok {
		return m, true
	}
	if verb == web.HEAD {
		return t.resolve(path, web.GET)
	}
	return nil, false
}

func (t *Table) resolve(path string, verb web.Verb) (*Match, bool) {
	if h, ok := t.exact[routeKey{pattern: path, verb: verb}]; ok {
		return &Match{Handler: h}, true
	}
	for _, h := range t.variable {
		if h.Verb != verb {
			continue
		}
		if vars, ok := h.Pattern.Match(path); ok {
			return &Match{Handler: h, Vars: vars}, true
		}
	}
	return nil, false
}

// Allowed returns the verbs mapped for path, sorted.
func (t *Table) Allowed(path string) []web.Verb {
	t.mu.RLock()
	defer t.mu.RUnlock()

	path = web.CleanPath(path)
	seen := make(map[web.Verb]bool)
	for _, h := range t.routes {
		if _, ok := h.Pattern.Match(path); ok {
			seen[h.Verb] = true
		}
	}
	out := make([]web.Verb, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FiltersFor returns the filters whose pattern matches path, in run order.
// A filter registered under several matching patterns runs once.
func (t *Table) FiltersFor(path string) []*FilterEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	path = web.CleanPath(path)
	seen := make(map[catalog.TypeID]bool)
	var out []*FilterEntry
	for _, e := range t.filters {
		if seen[e.Owner] {
			continue
		}
		if _, ok := e.Pattern.Match(path); ok {
			seen[e.Owner] = true
			out = append(out, e)
		}
	}
	return out
}

// InterceptorsFor returns the interceptors whose pattern matches path, in
// run order.
func (t *Table) InterceptorsFor(path string) []*InterceptorEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	path = web.CleanPath(path)
	seen := make(map[catalog.TypeID]bool)
	var out []*InterceptorEntry
	for _, e := range t.interceptors {
		if seen[e.Owner] {
			continue
		}
		if _, ok := e.Pattern.Match(path); ok {
			seen[e.Owner] = true
			out = append(out, e)
		}
	}
	return out
}

// Routes returns every route in registration order.
func (t *Table) Routes() []*Handler {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]*Handler(nil), t.routes...)
}

// Filters returns every filter entry in run order.
func (t *Table) Filters() []*FilterEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]*FilterEntry(nil), t.filters...)
}

// Interceptors returns every interceptor entry in run order.
func (t *Table) Interceptors() []*InterceptorEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]*InterceptorEntry(nil), t.interceptors...)
}
