package di

import (
	"context"
	"net/http"

	"github.com/conneroisu/switchyard/internal/config"
	"github.com/conneroisu/switchyard/internal/dispatch"
	"github.com/conneroisu/switchyard/internal/logging"
	"github.com/conneroisu/switchyard/internal/metrics"
	"github.com/conneroisu/switchyard/internal/middleware"
	"github.com/conneroisu/switchyard/internal/registry"
	"github.com/conneroisu/switchyard/internal/routing"
	"github.com/conneroisu/switchyard/internal/server"
	"github.com/conneroisu/switchyard/internal/staticfs"
)

// newHandler wraps the pipeline for the transport: panic recovery, access
// logging and, when enabled, the metrics endpoint.
func newHandler(cfg *config.Config, pipeline *dispatch.Pipeline, m *metrics.Metrics, logger logging.Logger) http.Handler {
	chain := middleware.NewChain(
		middleware.Recover(logger),
		middleware.AccessLog(logger),
	)
	if m != nil && cfg.Metrics.Enabled {
		chain.Add(middleware.Mount(cfg.Metrics.Path, m.Handler()))
	}
	return chain.Apply(pipeline)
}

// Boot creates every service up to the HTTP handler: discovery, wiring,
// route table and pipeline. The listener is not opened.
func (c *ServiceContainer) Boot() error {
	if err := c.Initialize(); err != nil {
		return err
	}
	_, err := c.Get(ServiceHandler)
	return err
}

// Run boots the container and serves until ctx is cancelled, then shuts
// every service down.
func (c *ServiceContainer) Run(ctx context.Context) error {
	if err := c.Boot(); err != nil {
		return err
	}
	srv, err := c.Server()
	if err != nil {
		return err
	}

	if c.config.Static.Watch && c.config.Static.Cache {
		root, err := c.Static()
		if err != nil {
			return err
		}
		if err := root.Watch(ctx); err != nil {
			logger, _ := c.Logger()
			logger.Warn(ctx, err, "static root not watched")
		}
	}

	runErr := srv.Start(ctx)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.config.Server.ShutdownTimeout)
	defer cancel()
	if err := c.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Config returns the configuration.
func (c *ServiceContainer) Config() *config.Config { return c.config }

// Logger returns the framework logger.
func (c *ServiceContainer) Logger() (logging.Logger, error) {
	return resolveAs[logging.Logger](c, ServiceLogger)
}

// Metrics returns the metrics collectors.
func (c *ServiceContainer) Metrics() (*metrics.Metrics, error) {
	return resolveAs[*metrics.Metrics](c, ServiceMetrics)
}

// Registry returns the sealed component registry.
func (c *ServiceContainer) Registry() (*registry.Registry, error) {
	return resolveAs[*registry.Registry](c, ServiceRegistry)
}

// Routes returns the route table.
func (c *ServiceContainer) Routes() (*routing.Table, error) {
	return resolveAs[*routing.Table](c, ServiceRoutes)
}

// Static returns the static content root.
func (c *ServiceContainer) Static() (*staticfs.Root, error) {
	return resolveAs[*staticfs.Root](c, ServiceStatic)
}

// Pipeline returns the dispatch pipeline.
func (c *ServiceContainer) Pipeline() (*dispatch.Pipeline, error) {
	return resolveAs[*dispatch.Pipeline](c, ServicePipeline)
}

// Handler returns the transport handler.
func (c *ServiceContainer) Handler() (http.Handler, error) {
	return resolveAs[http.Handler](c, ServiceHandler)
}

// Server returns the HTTP server.
func (c *ServiceContainer) Server() (*server.Server, error) {
	return resolveAs[*server.Server](c, ServiceServer)
}

// DiscoveryReports returns one report per discovered namespace.
func (c *ServiceContainer) DiscoveryReports() []*registry.Report {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*registry.Report(nil), c.reports...)
}

// RouteReport returns the route table build report, or nil before the
// table is built.
func (c *ServiceContainer) RouteReport() *routing.BuildReport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.routeReport
}
