// Package catalog holds the explicit list of application types the framework
// may discover.
//
// Go cannot enumerate the types of a package at runtime, so applications
// register each candidate type once, together with its capability tags,
// constructor, factory methods, route mappings and filter or interceptor
// scope. The registry then enumerates a namespace of the catalog the same way
// a classpath scanner would enumerate a package.
package catalog

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/conneroisu/switchyard/internal/errors"
	"github.com/conneroisu/switchyard/internal/web"
)

// TypeID identifies a component type: the struct's package path and name.
type TypeID string

// IDOf returns the identity of t. Pointer types share the identity of their
// element type.
func IDOf(t reflect.Type) TypeID {
	if t == nil {
		return ""
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Name() == "" {
		return TypeID(t.String())
	}
	if t.PkgPath() == "" {
		return TypeID(t.Name())
	}
	return TypeID(t.PkgPath() + "." + t.Name())
}

// IDFor returns the identity of T.
func IDFor[T any]() TypeID {
	return IDOf(reflect.TypeOf((*T)(nil)).Elem())
}

// Tag is a capability attached to a descriptor.
type Tag string

// Built-in component-defining tags.
const (
	TagComponent     Tag = "component"
	TagConfiguration Tag = "configuration"
	TagController    Tag = "controller"
	TagFilter        Tag = "filter"
	TagInterceptor   Tag = "interceptor"
)

// RouteSpec maps one handler method onto one or more path patterns.
type RouteSpec struct {
	Method   string
	Paths    []string
	Verb     web.Verb
	Params   []string
	Produces string
}

// ScopeSpec is the path scope and order of a filter or interceptor.
type ScopeSpec struct {
	Patterns []string
	Order    int
}

// Descriptor describes one candidate type.
type Descriptor struct {
	Type      reflect.Type
	Namespace string
	Tags      []Tag

	// New builds the instance. When nil the registry allocates a zero value.
	New func() (any, error)

	// Factories names the factory methods of a configuration type. Empty
	// means every exported zero-argument method returning a value.
	Factories []string

	Routes      []RouteSpec
	Filter      *ScopeSpec
	Interceptor *ScopeSpec

	seq int
}

// ID returns the descriptor's type identity.
func (d *Descriptor) ID() TypeID { return IDOf(d.Type) }

// Seq returns the registration sequence number.
func (d *Descriptor) Seq() int { return d.seq }

// Has reports whether the descriptor carries tag.
func (d *Descriptor) Has(tag Tag) bool {
	for _, t := range d.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Name returns the short type name.
func (d *Descriptor) Name() string {
	if d.Type == nil {
		return ""
	}
	return d.Type.Name()
}

func (d *Descriptor) clone() *Descriptor {
	out := *d
	out.Tags = append([]Tag(nil), d.Tags...)
	out.Factories = append([]string(nil), d.Factories...)
	out.Routes = make([]RouteSpec, len(d.Routes))
	for i, r := range d.Routes {
		r.Paths = append([]string(nil), r.Paths...)
		r.Params = append([]string(nil), r.Params...)
		if r.Verb == "" {
			r.Verb = web.GET
		}
		out.Routes[i] = r
	}
	if d.Filter != nil {
		f := *d.Filter
		f.Patterns = append([]string(nil), f.Patterns...)
		out.Filter = &f
	}
	if d.Interceptor != nil {
		i := *d.Interceptor
		i.Patterns = append([]string(nil), i.Patterns...)
		out.Interceptor = &i
	}
	return &out
}

// Catalog is the set of registered descriptors.
type Catalog struct {
	mu      sync.RWMutex
	byID    map[TypeID]*Descriptor
	order   []*Descriptor
	markers map[Tag]struct{}
	nextSeq int
}

// New creates an empty catalog with the built-in markers defined.
func New() *Catalog {
	c := &Catalog{
		byID:    make(map[TypeID]*Descriptor),
		markers: make(map[Tag]struct{}),
	}
	for _, tag := range []Tag{TagComponent, TagConfiguration, TagController, TagFilter, TagInterceptor} {
		c.markers[tag] = struct{}{}
	}
	return c
}

// DefineMarker makes tag component-defining, e.g. "service" or "repository".
func (c *Catalog) DefineMarker(tag Tag) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markers[tag] = struct{}{}
}

// Markers returns the component-defining tags, sorted.
func (c *Catalog) Markers() []Tag {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Tag, 0, len(c.markers))
	for tag := range c.markers {
		out = append(out, tag)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsComponent reports whether d carries at least one component-defining tag.
func (c *Catalog) IsComponent(d *Descriptor) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, tag := range d.Tags {
		if _, ok := c.markers[tag]; ok {
			return true
		}
	}
	return false
}

// Register adds d to the catalog. The type must be a struct (or a pointer to
// one). A second registration of the same type keeps the first descriptor and
// returns a duplicate error.
func (c *Catalog) Register(d Descriptor) error {
	if d.Type == nil {
		return errors.NewDiscoveryError(errors.CodeInvalidDescriptor, "descriptor has no type", nil)
	}
	for d.Type.Kind() == reflect.Ptr {
		d.Type = d.Type.Elem()
	}
	if d.Type.Kind() != reflect.Struct {
		return errors.NewDiscoveryError(errors.CodeInvalidDescriptor,
			fmt.Sprintf("type %s is not a struct", d.Type), nil).WithComponent(string(IDOf(d.Type)))
	}
	if d.Namespace == "" {
		d.Namespace = d.Type.PkgPath()
	}
	d.Namespace = strings.TrimSuffix(d.Namespace, "/")

	c.mu.Lock()
	defer c.mu.Unlock()

	id := IDOf(d.Type)
	if _, exists := c.byID[id]; exists {
		return errors.NewDiscoveryError(errors.CodeDuplicateType, "type already registered", nil).
			WithComponent(string(id))
	}

	stored := d.clone()
	stored.seq = c.nextSeq
	c.nextSeq++
	c.byID[id] = stored
	c.order = append(c.order, stored)
	return nil
}

// Lookup returns the descriptor registered for id.
func (c *Catalog) Lookup(id TypeID) (*Descriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.byID[id]
	return d, ok
}

// Len returns the number of registered descriptors.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// InNamespace reports whether namespace ns contains d. The empty namespace
// contains everything; otherwise d must sit at ns or below it.
func InNamespace(d *Descriptor, ns string) bool {
	ns = strings.TrimSuffix(ns, "/")
	if ns == "" {
		return true
	}
	return d.Namespace == ns || strings.HasPrefix(d.Namespace, ns+"/")
}

// Enumerate returns every descriptor in namespace ns in registration order.
func (c *Catalog) Enumerate(ns string) []*Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Descriptor, 0, len(c.order))
	for _, d := range c.order {
		if InNamespace(d, ns) {
			out = append(out, d)
		}
	}
	return out
}

// EnumerateParallel matches descriptors against ns on a pool of workers and
// returns them in registration order, identical to Enumerate.
func (c *Catalog) EnumerateParallel(ctx context.Context, ns string, workers int) ([]*Descriptor, error) {
	if workers <= 1 {
		return c.Enumerate(ns), nil
	}

	c.mu.RLock()
	snapshot := append([]*Descriptor(nil), c.order...)
	c.mu.RUnlock()

	jobs := make(chan *Descriptor, workers*2)
	results := make(chan *Descriptor, len(snapshot))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range jobs {
				if InNamespace(d, ns) {
					results <- d
				}
			}
		}()
	}

	var ctxErr error
feed:
	for _, d := range snapshot {
		if ctxErr = ctx.Err(); ctxErr != nil {
			break
		}
		select {
		case jobs <- d:
		case <-ctx.Done():
			ctxErr = ctx.Err()
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	close(results)

	if ctxErr != nil {
		return nil, ctxErr
	}

	out := make([]*Descriptor, 0, len(results))
	for d := range results {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out, nil
}
