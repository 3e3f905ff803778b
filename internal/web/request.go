// Package web defines the request and response objects exchanged between the
// transport and the dispatch pipeline.
//
// A Request wraps the decoded *http.Request and adds path variables, a
// request ID and per-request attributes. A Response buffers status, headers,
// cookies and content until Send writes it exactly once.
package web

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Verb is an HTTP request method.
type Verb string

const (
	GET     Verb = http.MethodGet
	POST    Verb = http.MethodPost
	PUT     Verb = http.MethodPut
	PATCH   Verb = http.MethodPatch
	DELETE  Verb = http.MethodDelete
	HEAD    Verb = http.MethodHead
	OPTIONS Verb = http.MethodOptions
)

// RequestIDHeader carries a caller-supplied request ID.
const RequestIDHeader = "X-Request-ID"

// Request is the decoded inbound request for one exchange.
type Request struct {
	raw     *http.Request
	ctx     context.Context
	id      string
	path    string
	verb    Verb
	vars    map[string]string
	query   url.Values
	form    url.Values
	formErr error

	attrMu sync.Mutex
	attrs  map[string]interface{}
}

// NewRequest wraps r. Query and form values are parsed eagerly; a malformed
// body is remembered and reported by FormError.
func NewRequest(r *http.Request) *Request {
	req := &Request{
		raw:   r,
		ctx:   r.Context(),
		path:  CleanPath(r.URL.Path),
		verb:  Verb(strings.ToUpper(r.Method)),
		vars:  map[string]string{},
		query: r.URL.Query(),
		form:  url.Values{},
	}

	if id := r.Header.Get(RequestIDHeader); id != "" && len(id) <= 128 {
		req.id = id
	} else {
		req.id = uuid.NewString()
	}

	if err := r.ParseForm(); err != nil {
		req.formErr = err
	} else {
		req.form = r.PostForm
	}

	return req
}

// CleanPath normalizes an URL path: leading slash, no trailing slash except
// for the root, no dot segments.
func CleanPath(p string) string {
	if p == "" {
		return "/"
	}
	cleaned := path.Clean("/" + p)
	return cleaned
}

// Raw returns the underlying transport request.
func (r *Request) Raw() *http.Request { return r.raw }

// ID returns the request ID.
func (r *Request) ID() string { return r.id }

// Path returns the cleaned request path.
func (r *Request) Path() string { return r.path }

// Verb returns the request method.
func (r *Request) Verb() Verb { return r.verb }

// Context returns the request context.
func (r *Request) Context() context.Context { return r.ctx }

// WithContext replaces the request context in place.
func (r *Request) WithContext(ctx context.Context) {
	if ctx != nil {
		r.ctx = ctx
	}
}

// Header returns the first value of a request header.
func (r *Request) Header(name string) string { return r.raw.Header.Get(name) }

// Headers returns all request headers.
func (r *Request) Headers() http.Header { return r.raw.Header }

// Cookie returns the named cookie.
func (r *Request) Cookie(name string) (*http.Cookie, error) { return r.raw.Cookie(name) }

// Query returns the first query value for name.
func (r *Request) Query(name string) string { return r.query.Get(name) }

// PathVar returns a path variable captured by the matched route.
func (r *Request) PathVar(name string) (string, bool) {
	v, ok := r.vars[name]
	return v, ok
}

// SetPathVars records the variables captured by route matching.
func (r *Request) SetPathVars(vars map[string]string) {
	r.vars = make(map[string]string, len(vars))
	for k, v := range vars {
		r.vars[k] = v
	}
}

// FormError reports a body that could not be parsed as a form.
func (r *Request) FormError() error { return r.formErr }

// Lookup returns the values for name, searching path variables, then query
// parameters, then form fields.
func (r *Request) Lookup(name string) ([]string, bool) {
	if v, ok := r.vars[name]; ok {
		return []string{v}, true
	}
	if v, ok := r.query[name]; ok && len(v) > 0 {
		return v, true
	}
	if v, ok := r.form[name]; ok && len(v) > 0 {
		return v, true
	}
	return nil, false
}

// Keys returns every parameter name available to Lookup, sorted.
func (r *Request) Keys() []string {
	seen := make(map[string]struct{}, len(r.vars)+len(r.query)+len(r.form))
	for k := range r.vars {
		seen[k] = struct{}{}
	}
	for k := range r.query {
		seen[k] = struct{}{}
	}
	for k := range r.form {
		seen[k] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// KeepAlive reports whether the client asked to keep the connection open.
func (r *Request) KeepAlive() bool {
	if r.raw.Close {
		return false
	}
	conn := strings.ToLower(r.raw.Header.Get("Connection"))
	if r.raw.ProtoMajor == 1 && r.raw.ProtoMinor == 0 {
		return conn == "keep-alive"
	}
	return conn != "close"
}

// Set stores a request-scoped attribute.
func (r *Request) Set(key string, value interface{}) {
	r.attrMu.Lock()
	defer r.attrMu.Unlock()
	if r.attrs == nil {
		r.attrs = make(map[string]interface{})
	}
	r.attrs[key] = value
}

// Get returns a request-scoped attribute.
func (r *Request) Get(key string) (interface{}, bool) {
	r.attrMu.Lock()
	defer r.attrMu.Unlock()
	v, ok := r.attrs[key]
	return v, ok
}
