// Package internal contains the implementation packages of switchyard.
//
// # Package Organization
//
//   - catalog: typed component descriptors and capability tags
//   - registry: instantiation, factory beans and field injection
//   - binding: parameter-name strategies and request argument binding
//   - routing: patterns, the route table and filter/interceptor scopes
//   - dispatch: the per-request state machine and response rendering
//   - web: request and response wrappers
//   - staticfs: static content with a cache invalidated by watcher events
//   - watcher: debounced file system notifications
//   - middleware: net/http middleware around the dispatcher
//   - server: the HTTP listener and graceful shutdown
//   - di: service container that assembles all of the above
//   - config, logging, errors, metrics, version: ambient support
//   - showcase: a sample application served by the binary
//   - testutils: helpers shared by package tests
//
// Startup runs catalog, registry, routing and then the pipeline; after that
// the route table and registry are read-only and requests are dispatched
// concurrently.
package internal
