package catalog

import (
	"fmt"
	"reflect"

	"github.com/conneroisu/switchyard/internal/web"
)

// Builder assembles the descriptor of T fluently.
//
//	catalog.Component[UserController](c).
//		Controller().
//		Get("Show", "/users/{id}").
//		Params("Show", "id").
//		Register()
type Builder[T any] struct {
	c   *Catalog
	d   Descriptor
	err error
}

// Component starts a descriptor for T in c. Without any other tag the type is
// registered as a plain component.
func Component[T any](c *Catalog) *Builder[T] {
	return &Builder[T]{
		c: c,
		d: Descriptor{Type: reflect.TypeOf((*T)(nil)).Elem()},
	}
}

// In places the type in namespace ns instead of its package path.
func (b *Builder[T]) In(ns string) *Builder[T] {
	b.d.Namespace = ns
	return b
}

// Tag attaches capability tags.
func (b *Builder[T]) Tag(tags ...Tag) *Builder[T] {
	for _, tag := range tags {
		if !b.d.Has(tag) {
			b.d.Tags = append(b.d.Tags, tag)
		}
	}
	return b
}

// Constructor sets the function that builds the instance.
func (b *Builder[T]) Constructor(fn func() (*T, error)) *Builder[T] {
	if fn == nil {
		b.d.New = nil
		return b
	}
	b.d.New = func() (any, error) {
		v, err := fn()
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, nil
		}
		return v, nil
	}
	return b
}

// Configuration marks T as a configuration type. Factories name its factory
// methods; none means every exported zero-argument method.
func (b *Builder[T]) Configuration(factories ...string) *Builder[T] {
	b.d.Factories = append(b.d.Factories, factories...)
	return b.Tag(TagConfiguration)
}

// Controller marks T as a controller.
func (b *Builder[T]) Controller() *Builder[T] {
	return b.Tag(TagController)
}

// Route maps method onto paths for verb.
func (b *Builder[T]) Route(method string, verb web.Verb, paths ...string) *Builder[T] {
	if len(paths) == 0 {
		b.fail(fmt.Errorf("route %s has no paths", method))
		return b
	}
	if verb == "" {
		verb = web.GET
	}
	b.d.Routes = append(b.d.Routes, RouteSpec{Method: method, Paths: paths, Verb: verb})
	return b
}

// Get maps method onto paths for GET.
func (b *Builder[T]) Get(method string, paths ...string) *Builder[T] {
	return b.Route(method, web.GET, paths...)
}

// Post maps method onto paths for POST.
func (b *Builder[T]) Post(method string, paths ...string) *Builder[T] {
	return b.Route(method, web.POST, paths...)
}

// Params declares the parameter names of method, for the declared-names
// binding strategy.
func (b *Builder[T]) Params(method string, names ...string) *Builder[T] {
	return b.eachRoute(method, func(r *RouteSpec) { r.Params = append([]string(nil), names...) })
}

// Produces sets the default content type of method's results.
func (b *Builder[T]) Produces(method, contentType string) *Builder[T] {
	return b.eachRoute(method, func(r *RouteSpec) { r.Produces = contentType })
}

// Filter marks T as a filter over patterns.
func (b *Builder[T]) Filter(order int, patterns ...string) *Builder[T] {
	b.d.Filter = &ScopeSpec{Patterns: patterns, Order: order}
	return b.Tag(TagFilter)
}

// Interceptor marks T as an interceptor over patterns.
func (b *Builder[T]) Interceptor(order int, patterns ...string) *Builder[T] {
	b.d.Interceptor = &ScopeSpec{Patterns: patterns, Order: order}
	return b.Tag(TagInterceptor)
}

// Descriptor returns the descriptor built so far.
func (b *Builder[T]) Descriptor() Descriptor {
	return b.d
}

// Register adds the descriptor to the catalog.
func (b *Builder[T]) Register() error {
	if b.err != nil {
		return fmt.Errorf("catalog: %s: %w", IDOf(b.d.Type), b.err)
	}
	if len(b.d.Tags) == 0 {
		b.d.Tags = []Tag{TagComponent}
	}
	return b.c.Register(b.d)
}

// MustRegister is like Register but panics on error.
func (b *Builder[T]) MustRegister() {
	if err := b.Register(); err != nil {
		panic(err)
	}
}

func (b *Builder[T]) eachRoute(method string, fn func(r *RouteSpec)) *Builder[T] {
	found := false
	for i := range b.d.Routes {
		if b.d.Routes[i].Method == method {
			fn(&b.d.Routes[i])
			found = true
		}
	}
	if !found {
		b.fail(fmt.Errorf("method %s has no route", method))
	}
	return b
}

func (b *Builder[T]) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}
