// Package di assembles the framework services in dependency order: config,
// logger, metrics, catalog, registry, binder, route table, static root,
// dispatch pipeline, HTTP handler and server.
package di

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"reflect"
	"sort"
	"sync"

	"github.com/conneroisu/switchyard/internal/binding"
	"github.com/conneroisu/switchyard/internal/catalog"
	"github.com/conneroisu/switchyard/internal/config"
	"github.com/conneroisu/switchyard/internal/dispatch"
	"github.com/conneroisu/switchyard/internal/errors"
	"github.com/conneroisu/switchyard/internal/logging"
	"github.com/conneroisu/switchyard/internal/metrics"
	"github.com/conneroisu/switchyard/internal/registry"
	"github.com/conneroisu/switchyard/internal/routing"
	"github.com/conneroisu/switchyard/internal/staticfs"
	"github.com/conneroisu/switchyard/internal/server"
)

// Core service names.
const (
	ServiceConfig   = "config"
	ServiceLogger   = "logger"
	ServiceMetrics  = "metrics"
	ServiceCatalog  = "catalog"
	ServiceRegistry = "registry"
	ServiceBinder   = "binder"
	ServiceRoutes   = "routes"
	ServiceStatic   = "static"
	ServicePipeline = "pipeline"
	ServiceHandler  = "handler"
	ServiceServer   = "server"
)

// FactoryFunc creates a service, resolving its dependencies through r.
type FactoryFunc func(r DependencyResolver) (interface{}, error)

// DependencyResolver resolves services during creation.
type DependencyResolver interface {
	Get(name string) (interface{}, error)
	GetByTag(tag string) ([]interface{}, error)
}

// ServiceDefinition describes a registered service.
type ServiceDefinition struct {
	Name         string
	Factory      FactoryFunc
	Singleton    bool
	Dependencies []string
	Tags         []string
}

// ServiceContainer creates and holds the framework services.
type ServiceContainer struct {
	mu         sync.RWMutex
	services   map[string]ServiceDefinition
	singletons map[string]interface{}
	creating   map[string]*sync.WaitGroup
	created    []string

	config  *config.Config
	catalog *catalog.Catalog

	reports     []*registry.Report
	routeReport *routing.BuildReport
	initialized bool
}

type dependencyResolver struct {
	container *ServiceContainer
	resolving map[string]bool
}

func (dr *dependencyResolver) Get(name string) (interface{}, error) {
	return dr.container.resolve(name, dr.resolving)
}

func (dr *dependencyResolver) GetByTag(tag string) ([]interface{}, error) {
	return dr.container.byTag(tag, dr.resolving)
}

// NewServiceContainer creates a container for cfg and the application
// catalog cat.
func NewServiceContainer(cfg *config.Config, cat *catalog.Catalog) *ServiceContainer {
	if cfg == nil {
		cfg = config.Default()
	}
	if cat == nil {
		cat = catalog.New()
	}
	return &ServiceContainer{
		services:   make(map[string]ServiceDefinition),
		singletons: make(map[string]interface{}),
		creating:   make(map[string]*sync.WaitGroup),
		config:     cfg,
		catalog:    cat,
	}
}

// Register registers a transient service: every Get creates a new instance.
func (c *ServiceContainer) Register(name string, factory FactoryFunc) *ServiceBuilder {
	c.mu.Lock()
	defer c.mu.Unlock()
	def := ServiceDefinition{Name: name, Factory: factory}
	c.services[name] = def
	return &ServiceBuilder{definition: def, container: c}
}

// RegisterSingleton registers a service created once on first Get.
func (c *ServiceContainer) RegisterSingleton(name string, factory FactoryFunc) *ServiceBuilder {
	return c.Register(name, factory).AsSingleton()
}

// RegisterInstance registers an existing instance.
func (c *ServiceContainer) RegisterInstance(name string, instance interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.singletons[name] = instance
	c.services[name] = ServiceDefinition{Name: name, Singleton: true}
}

// Get returns the named service, creating it and its dependencies if
// needed. A dependency cycle is an error.
func (c *ServiceContainer) Get(name string) (interface{}, error) {
	return c.resolve(name, make(map[string]bool))
}

// MustGet is Get that panics on error.
func (c *ServiceContainer) MustGet(name string) interface{} {
	instance, err := c.Get(name)
	if err != nil {
		panic(fmt.Sprintf("failed to get service '%s': %v", name, err))
	}
	return instance
}

// Has reports whether name is registered.
func (c *ServiceContainer) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.services[name]
	return ok
}

// GetByTag returns every service carrying tag, in name order.
func (c *ServiceContainer) GetByTag(tag string) ([]interface{}, error) {
	return c.byTag(tag, make(map[string]bool))
}

// ListServices returns the registered service names, sorted.
func (c *ServiceContainer) ListServices() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.services))
	for name := range c.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetServiceDefinition returns the definition of name.
func (c *ServiceContainer) GetServiceDefinition(name string) (ServiceDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.services[name]
	return def, ok
}

func (c *ServiceContainer) byTag(tag string, resolving map[string]bool) ([]interface{}, error) {
	c.mu.RLock()
	var names []string
	for name, def := range c.services {
		for _, t := range def.Tags {
			if t == tag {
				names = append(names, name)
				break
			}
		}
	}
	c.mu.RUnlock()
	sort.Strings(names)

	out := make([]interface{}, 0, len(names))
	for _, name := range names {
		svc, err := c.resolve(name, resolving)
		if err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	return out, nil
}

func (c *ServiceContainer) resolve(name string, resolving map[string]bool) (interface{}, error) {
	if resolving[name] {
		return nil, fmt.Errorf("circular dependency detected for service '%s'", name)
	}

	c.mu.Lock()
	def, ok := c.services[name]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("service '%s' not registered", name)
	}

	if !def.Singleton {
		c.mu.Unlock()
		resolving[name] = true
		defer delete(resolving, name)
		instance, err := c.create(def, resolving)
		if err != nil {
			return nil, fmt.Errorf("failed to create service '%s': %w", name, err)
		}
		return instance, nil
	}

	if instance, ok := c.singletons[name]; ok {
		c.mu.Unlock()
		return instance, nil
	}
	if wg, busy := c.creating[name]; busy {
		c.mu.Unlock()
		wg.Wait()
		c.mu.RLock()
		defer c.mu.RUnlock()
		instance, ok := c.singletons[name]
		if !ok {
			return nil, fmt.Errorf("service '%s' failed to initialize", name)
		}
		return instance, nil
	}

	wg := &sync.WaitGroup{}
	wg.Add(1)
	c.creating[name] = wg
	c.mu.Unlock()

	resolving[name] = true
	instance, err := c.create(def, resolving)
	delete(resolving, name)

	c.mu.Lock()
	delete(c.creating, name)
	if err == nil {
		c.singletons[name] = instance
		c.created = append(c.created, name)
	}
	c.mu.Unlock()
	wg.Done()

	if err != nil {
		return nil, fmt.Errorf("failed to create singleton service '%s': %w", name, err)
	}
	return instance, nil
}

func (c *ServiceContainer) create(def ServiceDefinition, resolving map[string]bool) (interface{}, error) {
	if def.Factory == nil {
		return nil, fmt.Errorf("factory is nil")
	}
	return def.Factory(&dependencyResolver{container: c, resolving: resolving})
}

// Initialize registers the core services. It is idempotent.
func (c *ServiceContainer) Initialize() error {
	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return nil
	}
	c.initialized = true
	c.mu.Unlock()

	c.registerCoreServices()
	return nil
}

func (c *ServiceContainer) registerCoreServices() {
	c.RegisterInstance(ServiceConfig, c.config)
	c.RegisterInstance(ServiceCatalog, c.catalog)

	c.RegisterSingleton(ServiceLogger, func(r DependencyResolver) (interface{}, error) {
		level, err := logging.ParseLevel(c.config.Logging.Level)
		if err != nil {
			return nil, err
		}
		return logging.NewLogger(&logging.LoggerConfig{
			Level:  level,
			Format: c.config.Logging.Format,
			Output: os.Stderr,
		}), nil
	}).DependsOn(ServiceConfig).WithTag("core")

	c.RegisterSingleton(ServiceMetrics, func(r DependencyResolver) (interface{}, error) {
		return metrics.New(), nil
	}).WithTag("core")

	c.RegisterSingleton(ServiceRegistry, func(r DependencyResolver) (interface{}, error) {
		logger, err := resolveAs[logging.Logger](r, ServiceLogger)
		if err != nil {
			return nil, err
		}
		opts := []registry.Option{
			registry.WithLogger(logger),
			registry.WithWorkers(c.config.Discovery.Workers),
		}
		if c.config.Metrics.Enabled {
			m, err := resolveAs[*metrics.Metrics](r, ServiceMetrics)
			if err != nil {
				return nil, err
			}
			opts = append(opts, registry.WithObserver(m))
		}
		return c.discover(registry.New(c.catalog, opts...), logger)
	}).DependsOn(ServiceCatalog, ServiceLogger, ServiceMetrics).WithTag("core")

	c.RegisterSingleton(ServiceBinder, func(r DependencyResolver) (interface{}, error) {
		logger, err := resolveAs[logging.Logger](r, ServiceLogger)
		if err != nil {
			return nil, err
		}
		return binding.Select(c.config.Binding, logger)
	}).DependsOn(ServiceLogger).WithTag("core")

	c.RegisterSingleton(ServiceRoutes, func(r DependencyResolver) (interface{}, error) {
		reg, err := resolveAs[*registry.Registry](r, ServiceRegistry)
		if err != nil {
			return nil, err
		}
		binder, err := resolveAs[binding.Binder](r, ServiceBinder)
		if err != nil {
			return nil, err
		}
		logger, err := resolveAs[logging.Logger](r, ServiceLogger)
		if err != nil {
			return nil, err
		}
		table, report := routing.Build(reg, binder, logger)
		c.mu.Lock()
		c.routeReport = report
		c.mu.Unlock()
		if c.config.Metrics.Enabled {
			if m, err := resolveAs[*metrics.Metrics](r, ServiceMetrics); err == nil {
				m.SetRoutes(len(table.Routes()))
			}
		}
		return table, nil
	}).DependsOn(ServiceRegistry, ServiceBinder, ServiceLogger).WithTag("core")

	c.RegisterSingleton(ServiceStatic, func(r DependencyResolver) (interface{}, error) {
		logger, err := resolveAs[logging.Logger](r, ServiceLogger)
		if err != nil {
			return nil, err
		}
		return staticfs.New(c.config.Static, logger)
	}).DependsOn(ServiceLogger).WithTag("core")

	c.RegisterSingleton(ServicePipeline, func(r DependencyResolver) (interface{}, error) {
		table, err := resolveAs[*routing.Table](r, ServiceRoutes)
		if err != nil {
			return nil, err
		}
		binder, err := resolveAs[binding.Binder](r, ServiceBinder)
		if err != nil {
			return nil, err
		}
		root, err := resolveAs[*staticfs.Root](r, ServiceStatic)
		if err != nil {
			return nil, err
		}
		logger, err := resolveAs[logging.Logger](r, ServiceLogger)
		if err != nil {
			return nil, err
		}
		opts := []dispatch.Option{dispatch.WithLogger(logger), dispatch.WithStatic(root)}
		if c.config.Metrics.Enabled {
			m, err := resolveAs[*metrics.Metrics](r, ServiceMetrics)
			if err != nil {
				return nil, err
			}
			opts = append(opts, dispatch.WithRecorder(m))
		}
		return dispatch.New(table, binder, opts...), nil
	}).DependsOn(ServiceRoutes, ServiceBinder, ServiceStatic, ServiceLogger).WithTag("core")

	c.RegisterSingleton(ServiceHandler, func(r DependencyResolver) (interface{}, error) {
		pipeline, err := resolveAs[*dispatch.Pipeline](r, ServicePipeline)
		if err != nil {
			return nil, err
		}
		logger, err := resolveAs[logging.Logger](r, ServiceLogger)
		if err != nil {
			return nil, err
		}
		var m *metrics.Metrics
		if c.config.Metrics.Enabled {
			if m, err = resolveAs[*metrics.Metrics](r, ServiceMetrics); err != nil {
				return nil, err
			}
		}
		return newHandler(c.config, pipeline, m, logger), nil
	}).DependsOn(ServicePipeline, ServiceLogger).WithTag("core")

	c.RegisterSingleton(ServiceServer, func(r DependencyResolver) (interface{}, error) {
		h, err := resolveAs[http.Handler](r, ServiceHandler)
		if err != nil {
			return nil, err
		}
		logger, err := resolveAs[logging.Logger](r, ServiceLogger)
		if err != nil {
			return nil, err
		}
		return server.New(c.config, h, logger), nil
	}).DependsOn(ServiceHandler, ServiceLogger).WithTag("core")
}

// discover runs discovery over the configured namespaces and seals the
// registry. Discovery errors are logged and reported, never fatal.
func (c *ServiceContainer) discover(reg *registry.Registry, logger logging.Logger) (*registry.Registry, error) {
	if err := reg.Provide(c.config); err != nil {
		return nil, err
	}
	if err := reg.ProvideAs(reflect.TypeOf((*logging.Logger)(nil)).Elem(), logger); err != nil {
		return nil, err
	}

	namespaces := c.config.Discovery.Namespaces
	if len(namespaces) == 0 {
		namespaces = []string{""}
	}
	ctx := context.Background()
	for _, ns := range namespaces {
		report := reg.Discover(ctx, ns)
		c.mu.Lock()
		c.reports = append(c.reports, report)
		c.mu.Unlock()
		if err := report.Err(); err != nil {
			logger.Warn(ctx, err, "discovery finished with errors", "namespace", ns, "errors", len(report.Errors))
		}
	}
	reg.Seal()
	return reg, nil
}

func resolveAs[T any](r DependencyResolver, name string) (T, error) {
	var zero T
	svc, err := r.Get(name)
	if err != nil {
		return zero, err
	}
	typed, ok := svc.(T)
	if !ok {
		return zero, fmt.Errorf("service '%s' is %T, not %s", name, svc, reflect.TypeOf((*T)(nil)).Elem())
	}
	return typed, nil
}

// Shutdown releases services in reverse creation order.
func (c *ServiceContainer) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	created := append([]string(nil), c.created...)
	instances := make(map[string]interface{}, len(c.singletons))
	for name, svc := range c.singletons {
		instances[name] = svc
	}
	c.mu.Unlock()

	var errs []error
	for i := len(created) - 1; i >= 0; i-- {
		name := created[i]
		switch svc := instances[name].(type) {
		case interface{ Shutdown(context.Context) error }:
			if err := svc.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("failed to shutdown %s: %w", name, err))
			}
		case interface{ Close() error }:
			if err := svc.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close %s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// ServiceBuilder refines a registered definition.
type ServiceBuilder struct {
	definition ServiceDefinition
	container  *ServiceContainer
}

// AsSingleton marks the service as a singleton.
func (sb *ServiceBuilder) AsSingleton() *ServiceBuilder {
	sb.definition.Singleton = true
	sb.update()
	return sb
}

// DependsOn records dependencies for introspection.
func (sb *ServiceBuilder) DependsOn(names ...string) *ServiceBuilder {
	sb.definition.Dependencies = append(sb.definition.Dependencies, names...)
	sb.update()
	return sb
}

// WithTag adds tags.
func (sb *ServiceBuilder) WithTag(tags ...string) *ServiceBuilder {
	sb.definition.Tags = append(sb.definition.Tags, tags...)
	sb.update()
	return sb
}

func (sb *ServiceBuilder) update() {
	sb.container.mu.Lock()
	sb.container.services[sb.definition.Name] = sb.definition
	sb.container.mu.Unlock()
}
