package routing

import (
	"context"
	"fmt"

	"github.com/conneroisu/switchyard/internal/binding"
	"github.com/conneroisu/switchyard/internal/catalog"
	"github.com/conneroisu/switchyard/internal/errors"
	"github.com/conneroisu/switchyard/internal/logging"
	"github.com/conneroisu/switchyard/internal/registry"
)

// BuildReport summarizes table construction.
type BuildReport struct {
	Routes       int
	Filters      int
	Interceptors int
	Conflicts    []*errors.FrameworkError
	Errors       []*errors.FrameworkError
}

// Build derives the route table from the controllers, filters and
// interceptors held by reg. Problems with one mapping are reported and the
// mapping skipped; the rest of the table is still built.
func Build(reg *registry.Registry, binder binding.Binder, logger logging.Logger) (*Table, *BuildReport) {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.WithComponent("routing")
	ctx := context.Background()

	table := NewTable()
	report := &BuildReport{}
	fail := func(err *errors.FrameworkError) {
		if err.Kind == errors.KindRouteConflict {
			report.Conflicts = append(report.Conflicts, err)
			logger.Warn(ctx, err, "mapping ignored")
			return
		}
		report.Errors = append(report.Errors, err)
		logger.Error(ctx, err, "mapping skipped")
	}

	for _, e := range reg.Entries() {
		if !reg.IsComponent(e) {
			continue
		}
		d := e.Descriptor
		if d.Has(catalog.TagController) {
			buildRoutes(table, e, binder, report, fail, logger)
		}
		if d.Has(catalog.TagFilter) {
			buildFilter(table, e, report, fail)
		}
		if d.Has(catalog.TagInterceptor) {
			buildInterceptor(table, e, report, fail)
		}
	}

	logger.Info(ctx, "route table built",
		"routes", report.Routes,
		"filters", report.Filters,
		"interceptors", report.Interceptors,
		"conflicts", len(report.Conflicts),
		"errors", len(report.Errors))
	return table, report
}

func buildRoutes(table *Table, e *registry.Entry, binder binding.Binder, report *BuildReport, fail func(*errors.FrameworkError), logger logging.Logger) {
	for _, spec := range e.Descriptor.Routes {
		fn := e.Instance.MethodByName(spec.Method)
		if !fn.IsValid() {
			fail(errors.NewConfigError(errors.CodeMissingMethod,
				fmt.Sprintf("method %s not found", spec.Method)).WithComponent(string(e.ID)))
			continue
		}

		plan, err := binder.Prepare(binding.MethodRef{
			Owner:    e.Type,
			Name:     spec.Method,
			Func:     fn,
			Declared: spec.Params,
		})
		if err != nil {
			fail(asFrameworkError(err).WithComponent(string(e.ID)))
			continue
		}

		for _, path := range spec.Paths {
			pattern, err := ParsePattern(path)
			if err != nil {
				fail(errors.NewConfigError(errors.CodeInvalidDescriptor, err.Error()).WithComponent(string(e.ID)))
				continue
			}
			h, err := NewHandler(pattern, spec.Verb, e.ID, spec.Method, fn, plan)
			if err != nil {
				fail(asFrameworkError(err))
				continue
			}
			h.Produces = spec.Produces
			if err := table.AddRoute(h); err != nil {
				fail(asFrameworkError(err))
				continue
			}
			report.Routes++
			logger.Debug(context.Background(), "route mapped", "verb", h.Verb, "pattern", h.Pattern, "handler", spec.Method)
		}
	}
}

func scopeOf(spec *catalog.ScopeSpec) (int, []string) {
	if spec == nil || len(spec.Patterns) == 0 {
		order := 0
		if spec != nil {
			order = spec.Order
		}
		return order, []string{"/*"}
	}
	return spec.Order, spec.Patterns
}

func buildFilter(table *Table, e *registry.Entry, report *BuildReport, fail func(*errors.FrameworkError)) {
	f, ok := e.Interface().(Filter)
	if !ok {
		fail(errors.NewConfigError(errors.CodeMissingCapability, "tagged filter does not implement Filter").
			WithComponent(string(e.ID)))
		return
	}
	order, patterns := scopeOf(e.Descriptor.Filter)
	for _, p := range patterns {
		pattern, err := ParsePattern(p)
		if err != nil {
			fail(errors.NewConfigError(errors.CodeInvalidDescriptor, err.Error()).WithComponent(string(e.ID)))
			continue
		}
		if err := table.AddFilter(FilterEntry{Pattern: pattern, Order: order, Owner: e.ID, Filter: f}); err != nil {
			fail(asFrameworkError(err))
			continue
		}
		report.Filters++
	}
}

func buildInterceptor(table *Table, e *registry.Entry, report *BuildReport, fail func(*errors.FrameworkError)) {
	in, ok := e.Interface().(Interceptor)
	if !ok {
		fail(errors.NewConfigError(errors.CodeMissingCapability, "tagged interceptor does not implement Interceptor").
			WithComponent(string(e.ID)))
		return
	}
	order, patterns := scopeOf(e.Descriptor.Interceptor)
	for _, p := range patterns {
		pattern, err := ParsePattern(p)
		if err != nil {
			fail(errors.NewConfigError(errors.CodeInvalidDescriptor, err.Error()).WithComponent(string(e.ID)))
			continue
		}
		if err := table.AddInterceptor(InterceptorEntry{Pattern: pattern, Order: order, Owner: e.ID, Interceptor: in}); err != nil {
			fail(asFrameworkError(err))
			continue
		}
		report.Interceptors++
	}
}

func asFrameworkError(err error) *errors.FrameworkError {
	var fe *errors.FrameworkError
	if errors.As(err, &fe) {
		return fe
	}
	e := errors.NewConfigError(errors.CodeInvalidDescriptor, "invalid mapping")
	e.Cause = err
	return e
}
