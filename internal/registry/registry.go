// Package registry implements the component registry: the dependency
// injection container that owns exactly one instance per component type.
//
// Discovery runs in two phases. The first phase instantiates every
// configuration type (and the beans its factory methods return) and every
// type carrying a component-defining tag. The second phase assigns fields
// tagged `inject:""` from the instances the first phase produced. Failures
// are recorded in the returned Report and never abort the scan.
package registry

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/conneroisu/switchyard/internal/catalog"
	"github.com/conneroisu/switchyard/internal/errors"
	"github.com/conneroisu/switchyard/internal/logging"
)

// Source records how an entry's instance was produced.
type Source string

const (
	SourceConstructor Source = "constructor"
	SourceZero        Source = "zero"
	SourceFactory     Source = "factory"
	SourceProvided    Source = "provided"
)

// Entry is one live instance held by the registry.
type Entry struct {
	ID   catalog.TypeID
	Type reflect.Type
	// Instance is a pointer for component types, and the factory's declared
	// result for factory beans.
	Instance reflect.Value
	// Descriptor is nil for factory beans and provided instances.
	Descriptor *catalog.Descriptor
	Source     Source
	// Origin and Factory name the configuration method that built a bean.
	Origin  catalog.TypeID
	Factory string
	Added   time.Time
}

// Interface returns the instance as an interface value.
func (e *Entry) Interface() any {
	if !e.Instance.IsValid() {
		return nil
	}
	return e.Instance.Interface()
}

// Observer is notified of registry activity.
type Observer interface {
	EntryAdded(e *Entry)
	DiscoveryFailed(err *errors.FrameworkError)
}

// Report summarizes one Discover call.
type Report struct {
	Namespace  string
	Added      []catalog.TypeID
	Duplicates []catalog.TypeID
	Skipped    []catalog.TypeID
	Wired      int
	Errors     []*errors.FrameworkError
	Duration   time.Duration
}

// Err joins the recorded errors, or returns nil.
func (r *Report) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

// Registry is the component container.
type Registry struct {
	catalog  *catalog.Catalog
	logger   logging.Logger
	workers  int
	observer Observer

	mu      sync.RWMutex
	entries map[catalog.TypeID]*Entry
	order   []*Entry
	sealed  bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger logging.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithWorkers enumerates the catalog on n workers.
func WithWorkers(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithObserver sets the observer.
func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observer = o }
}

// New creates an empty registry over c.
func New(c *catalog.Catalog, opts ...Option) *Registry {
	r := &Registry{
		catalog: c,
		logger:  logging.NewNop(),
		workers: 1,
		entries: make(map[catalog.TypeID]*Entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithComponent("registry")
	return r
}

// Catalog returns the catalog the registry discovers from.
func (r *Registry) Catalog() *catalog.Catalog { return r.catalog }

// Provide stores an externally built instance under the identity of its
// dynamic type, so components can inject framework services.
func (r *Registry) Provide(instance any) error {
	return r.ProvideAs(reflect.TypeOf(instance), instance)
}

// ProvideAs stores instance under the identity of t, which may be an
// interface type the instance implements.
func (r *Registry) ProvideAs(t reflect.Type, instance any) error {
	if t == nil || instance == nil {
		return errors.NewDiscoveryError(errors.CodeInvalidDescriptor, "nil instance provided", nil)
	}
	v := reflect.ValueOf(instance)
	if !v.Type().AssignableTo(t) {
		return errors.NewDiscoveryError(errors.CodeTypeMismatch,
			fmt.Sprintf("%s is not assignable to %s", v.Type(), t), nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return errors.NewDiscoveryError(errors.CodeSealed, "registry is sealed", nil)
	}
	id := catalog.IDOf(t)
	if _, exists := r.entries[id]; exists {
		return errors.NewDiscoveryError(errors.CodeDuplicateType, "type already present", nil).
			WithComponent(string(id))
	}
	r.store(&Entry{ID: id, Type: t, Instance: v, Source: SourceProvided})
	return nil
}

// Lookup returns the entry stored for t. Pointer types resolve to their
// element type's entry.
func (r *Registry) Lookup(t reflect.Type) (*Entry, bool) {
	return r.LookupID(catalog.IDOf(t))
}

// LookupID returns the entry stored under id.
func (r *Registry) LookupID(id catalog.TypeID) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// Get returns the instance stored for T.
func Get[T any](r *Registry) (T, bool) {
	var zero T
	e, ok := r.Lookup(reflect.TypeOf((*T)(nil)).Elem())
	if !ok {
		return zero, false
	}
	v, ok := e.Interface().(T)
	return v, ok
}

// Count returns the number of instances stored under id: zero or one.
func (r *Registry) Count(id catalog.TypeID) int {
	if _, ok := r.LookupID(id); ok {
		return 1
	}
	return 0
}

// Entries returns every entry in insertion order.
func (r *Registry) Entries() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Entry(nil), r.order...)
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Seal freezes the registry. Later discovery and Provide calls fail without
// mutating anything.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Sealed reports whether Seal was called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// IsComponent reports whether e was built from a component-defining
// descriptor.
func (r *Registry) IsComponent(e *Entry) bool {
	return e.Descriptor != nil && r.catalog.IsComponent(e.Descriptor)
}

func (r *Registry) store(e *Entry) {
	e.Added = time.Now()
	r.entries[e.ID] = e
	r.order = append(r.order, e)
	if r.observer != nil {
		r.observer.EntryAdded(e)
	}
}

// Discover enumerates namespace ns and adds every new component to the
// registry. Types already present are left untouched.
func (r *Registry) Discover(ctx context.Context, ns string) *Report {
	start := time.Now()
	report := &Report{Namespace: ns}
	collector := errors.NewCollector()
	defer func() {
		report.Errors = collector.Errors()
		report.Duration = time.Since(start)
		if r.observer != nil {
			for _, err := range report.Errors {
				r.observer.DiscoveryFailed(err)
			}
		}
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		collector.Add(errors.NewDiscoveryError(errors.CodeSealed, "registry is sealed", nil).
			WithContext("namespace", ns))
		return report
	}

	descriptors, err := r.catalog.EnumerateParallel(ctx, ns, r.workers)
	if err != nil {
		collector.Add(errors.NewDiscoveryError(errors.CodeInvalidDescriptor, "enumeration interrupted", err).
			WithContext("namespace", ns))
		return report
	}

	// Configuration types first, so their beans are present before the
	// components that may share a type with them.
	for _, d := range descriptors {
		if d.Has(catalog.TagConfiguration) {
			r.addConfiguration(ctx, d, report, collector)
		}
	}
	for _, d := range descriptors {
		if d.Has(catalog.TagConfiguration) {
			continue
		}
		if !r.catalog.IsComponent(d) {
			report.Skipped = append(report.Skipped, d.ID())
			continue
		}
		r.addComponent(ctx, d, report, collector)
	}

	report.Wired = r.wireAll(ctx, collector)

	r.logger.Info(ctx, "discovery complete",
		"namespace", ns,
		"added", len(report.Added),
		"duplicates", len(report.Duplicates),
		"wired", report.Wired,
		"errors", collector.Len())
	return report
}

func (r *Registry) addComponent(ctx context.Context, d *catalog.Descriptor, report *Report, collector *errors.Collector) (*Entry, bool) {
	id := d.ID()
	if _, exists := r.entries[id]; exists {
		report.Duplicates = append(report.Duplicates, id)
		r.logger.Debug(ctx, "component already present", "type", id)
		return nil, false
	}

	instance, source, err := instantiate(d)
	if err != nil {
		collector.Add(err.WithComponent(string(id)))
		r.logger.Warn(ctx, err, "component skipped", "type", id)
		return nil, false
	}

	e := &Entry{ID: id, Type: d.Type, Instance: instance, Descriptor: d, Source: source}
	r.store(e)
	report.Added = append(report.Added, id)
	r.logger.Debug(ctx, "component added", "type", id, "source", source)
	return e, true
}

func (r *Registry) addConfiguration(ctx context.Context, d *catalog.Descriptor, report *Report, collector *errors.Collector) {
	e, ok := r.addComponent(ctx, d, report, collector)
	if !ok {
		return
	}
	r.logger.Info(ctx, "configuration loaded", "type", e.ID)

	for _, f := range factoryMethods(e, collector) {
		declared := f.fn.Type().Out(0)
		id := catalog.IDOf(declared)
		if _, exists := r.entries[id]; exists {
			report.Duplicates = append(report.Duplicates, id)
			r.logger.Warn(ctx, nil, "factory result type already present, factory not invoked",
				"configuration", e.ID, "factory", f.name, "type", id)
			continue
		}

		bean, err := callFactory(f)
		if err != nil {
			collector.Add(err.WithComponent(string(e.ID)).WithContext("factory", f.name))
			r.logger.Warn(ctx, err, "factory skipped", "configuration", e.ID, "factory", f.name)
			continue
		}

		r.store(&Entry{
			ID:       id,
			Type:     declared,
			Instance: bean,
			Source:   SourceFactory,
			Origin:   e.ID,
			Factory:  f.name,
		})
		report.Added = append(report.Added, id)
		r.logger.Debug(ctx, "bean added", "type", id, "factory", f.name)
	}
}
