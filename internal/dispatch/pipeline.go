// Package dispatch runs inbound requests through the filter and interceptor
// chains, resolves and binds the handler, invokes it and sends exactly one
// response.
package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/conneroisu/switchyard/internal/binding"
	"github.com/conneroisu/switchyard/internal/errors"
	"github.com/conneroisu/switchyard/internal/logging"
	"github.com/conneroisu/switchyard/internal/routing"
	"github.com/conneroisu/switchyard/internal/staticfs"
	"github.com/conneroisu/switchyard/internal/web"
)

// Stages reported to a Recorder on rejection.
const (
	StageFilter      = "filter"
	StageInterceptor = "interceptor"
)

const staticRoute = "static"

// Recorder observes dispatched requests. *metrics.Metrics implements it.
type Recorder interface {
	RequestStarted()
	RequestFinished(verb, route string, status int, d time.Duration)
	Rejected(stage string)
}

type nopRecorder struct{}

func (nopRecorder) RequestStarted()                                     {}
func (nopRecorder) RequestFinished(string, string, int, time.Duration) {}
func (nopRecorder) Rejected(string)                                     {}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithRecorder sets the request recorder.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) {
		if r != nil {
			p.recorder = r
		}
	}
}

// WithStatic serves paths matching the root's suffixes from the root.
func WithStatic(root *staticfs.Root) Option {
	return func(p *Pipeline) { p.static = root }
}

// WithOutcomes receives every finished Outcome.
func WithOutcomes(fn func(*Outcome)) Option {
	return func(p *Pipeline) { p.onOutcome = fn }
}

// Pipeline dispatches requests. It is safe for concurrent use once built.
type Pipeline struct {
	table     *routing.Table
	binder    binding.Binder
	static    *staticfs.Root
	logger    logging.Logger
	recorder  Recorder
	onOutcome func(*Outcome)
}

// New creates a pipeline over a built route table.
func New(table *routing.Table, binder binding.Binder, opts ...Option) *Pipeline {
	p := &Pipeline{
		table:    table,
		binder:   binder,
		logger:   logging.NewNop(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.WithComponent("dispatch")
	return p
}

// ServeHTTP implements http.Handler.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.Dispatch(w, r)
}

// Dispatch handles one request and reports its outcome. Every request gets
// exactly one response; failures that escape the stages become a 500 and the
// connection is closed.
func (p *Pipeline) Dispatch(w http.ResponseWriter, r *http.Request) (out *Outcome) {
	start := time.Now()
	req := web.NewRequest(r)
	resp := web.NewResponse(w, req)

	out = &Outcome{RequestID: req.ID(), Verb: string(req.Verb()), Path: req.Path()}
	out.enter(StateReceived)

	logger := p.logger.With("request_id", req.ID(), "verb", req.Verb(), "path", req.Path())
	ctx := logging.WithLogger(req.Context(), logger)
	req.WithContext(ctx)
	resp.SetHeader(web.RequestIDHeader, req.ID())

	p.recorder.RequestStarted()
	defer func() {
		if rec := recover(); rec != nil {
			err := errors.NewTransportError(errors.CodeHandlerPanic, fmt.Sprintf("dispatch panicked: %v", rec), nil)
			out.fail(err)
			if !resp.IsSent() {
				resp.Prepare(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)).CloseConnection()
				p.send(ctx, resp, out)
			}
		}
		out.Status = resp.Status()
		out.Duration = time.Since(start)
		p.recorder.RequestFinished(out.Verb, out.Route, out.Status, out.Duration)
		p.logOutcome(ctx, logger, out)
		if p.onOutcome != nil {
			p.onOutcome(out)
		}
	}()

	p.run(ctx, req, resp, out)
	return out
}

func (p *Pipeline) run(ctx context.Context, req *web.Request, resp *web.Response, out *Outcome) {
	path := req.Path()

	filters := p.table.FiltersFor(path)
	for _, f := range filters {
		if err := f.Filter.Before(req, resp); err != nil {
			p.reject(ctx, resp, out, StageFilter, string(f.Owner), err)
			return
		}
	}
	interceptors := p.table.InterceptorsFor(path)
	for _, in := range interceptors {
		if !in.Interceptor.PreHandle(req, resp) {
			p.reject(ctx, resp, out, StageInterceptor, string(in.Owner), nil)
			return
		}
	}
	out.enter(StateFiltered)

	p.handle(ctx, req, resp, out)

	for i := len(interceptors) - 1; i >= 0; i-- {
		interceptors[i].Interceptor.PostHandle(req, resp)
	}
	for i := len(filters) - 1; i >= 0; i-- {
		if af, ok := filters[i].Filter.(routing.AfterFilter); ok {
			af.After(req, resp)
		}
	}

	if resp.IsSent() {
		if !out.Failed() {
			out.enter(StateResponded)
		}
		return
	}
	if p.send(ctx, resp, out) && !out.Failed() {
		out.enter(StateResponded)
	}
}

// handle resolves, binds and invokes the handler and stages the response.
func (p *Pipeline) handle(ctx context.Context, req *web.Request, resp *web.Response, out *Outcome) {
	path := req.Path()

	if p.static != nil && p.static.Matches(path) {
		out.Route = staticRoute
		out.enter(StateRouted)
		if err := p.static.Serve(path, resp); err != nil {
			p.fail(resp, out, err)
		}
		return
	}

	match, suffix, ok := p.resolve(path, req.Verb())
	if !ok {
		p.fail(resp, out, p.notFound(path, resp))
		return
	}
	h := match.Handler
	out.Route = h.Pattern.String()
	req.SetPathVars(match.Vars)
	out.enter(StateRouted)

	args, err := p.binder.Bind(h.Plan, req, resp)
	if err != nil {
		p.fail(resp, out, err)
		return
	}
	out.enter(StateBound)

	result, err := h.Invoke(args)
	if err != nil {
		p.fail(resp, out, err)
		return
	}
	if result == nil {
		if resp.IsSent() {
			out.enter(StateInvoked)
			return
		}
		p.fail(resp, out, errors.NewHandlerError(errors.CodeNilResult, "handler returned no result", nil).
			WithComponent(string(h.Owner)).WithContext("method", h.Method))
		return
	}
	out.enter(StateInvoked)

	if resp.IsSent() {
		return
	}
	if err := render(ctx, result, suffix, h.Produces, resp); err != nil {
		p.fail(resp, out, errors.NewHandlerError(errors.CodeEncodeFailed, "cannot encode result", err).
			WithComponent(string(h.Owner)).WithContext("method", h.Method))
	}
}

// resolve looks the path up with a representation suffix removed. The full
// path wins only when it names a literal route or the base path has none.
func (p *Pipeline) resolve(path string, verb web.Verb) (*routing.Match, string, bool) {
	full, fullOK := p.table.Resolve(path, verb)
	if fullOK && full.Handler.Pattern.IsLiteral() {
		return full, "", true
	}
	if base, suffix, ok := splitRepresentation(path); ok {
		if m, ok := p.table.Resolve(base, verb); ok {
			return m, suffix, true
		}
	}
	if fullOK {
		return full, "", true
	}
	return nil, "", false
}

func (p *Pipeline) notFound(path string, resp *web.Response) error {
	allowed := p.table.Allowed(path)
	if len(allowed) == 0 {
		if base, _, ok := splitRepresentation(path); ok {
			allowed = p.table.Allowed(base)
		}
	}
	if len(allowed) == 0 {
		return errors.NewNotFound(errors.CodeRouteNotFound, "no route for "+path)
	}
	verbs := make([]string, len(allowed))
	for i, v := range allowed {
		verbs[i] = string(v)
	}
	resp.SetHeader("Allow", strings.Join(verbs, ", "))
	return errors.NewMethodNotAllowed("verb not allowed for " + path)
}

// fail stages the error response for err. Handler failures close the
// connection.
func (p *Pipeline) fail(resp *web.Response, out *Outcome, err error) {
	out.fail(err)
	if resp.IsSent() {
		return
	}
	status := http.StatusInternalServerError
	var fe *errors.FrameworkError
	if errors.As(err, &fe) {
		status = fe.HTTPStatus()
	}
	message := http.StatusText(status)
	if status < http.StatusInternalServerError && fe != nil {
		message = fe.Message
	}
	resp.Prepare(status, message)
	if status >= http.StatusInternalServerError {
		resp.CloseConnection()
	}
}

// reject answers a short-circuited request. A hook that already sent a
// response keeps it; a hook that set an error status keeps that status.
func (p *Pipeline) reject(ctx context.Context, resp *web.Response, out *Outcome, stage, owner string, cause error) {
	err := errors.NewRejected(fmt.Sprintf("rejected by %s %s", stage, owner)).WithComponent(owner)
	err.Cause = cause
	out.fail(err)
	p.recorder.Rejected(stage)
	if resp.IsSent() {
		return
	}
	status := http.StatusForbidden
	if s := resp.Status(); s >= http.StatusBadRequest {
		status = s
	}
	resp.Prepare(status, http.StatusText(status))
	p.send(ctx, resp, out)
}

func (p *Pipeline) send(ctx context.Context, resp *web.Response, out *Outcome) bool {
	if err := resp.Send(); err != nil {
		out.fail(errors.NewTransportError(errors.CodeWriteFailed, "cannot write response", err))
		logging.FromContext(ctx, p.logger).Warn(ctx, err, "response write failed")
		return false
	}
	return true
}

func (p *Pipeline) logOutcome(ctx context.Context, logger logging.Logger, out *Outcome) {
	fields := []interface{}{
		"status", out.Status,
		"route", out.Route,
		"state", out.State,
		"duration", out.Duration,
	}
	switch {
	case out.Status >= http.StatusInternalServerError:
		logger.Error(ctx, out.Err, "request failed", append(fields, "trace", out.TraceString())...)
	case out.Err != nil:
		logger.Warn(ctx, out.Err, "request not served", fields...)
	default:
		logger.Debug(ctx, "request handled", fields...)
	}
}
