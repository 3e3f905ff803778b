// Package errors defines the framework error taxonomy shared by discovery,
// routing, binding and dispatch.
//
// Startup errors (discovery, wiring, route conflicts) are recovered locally
// and collected into reports; request errors (binding, handler, not found)
// map onto exactly one HTTP status via HTTPStatus.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind represents a category of framework error.
type Kind string

const (
	KindDiscovery        Kind = "discovery"
	KindWiring           Kind = "wiring"
	KindRouteConflict    Kind = "route_conflict"
	KindBinding          Kind = "binding"
	KindHandler          Kind = "handler"
	KindNotFound         Kind = "not_found"
	KindMethodNotAllowed Kind = "method_not_allowed"
	KindRejected         Kind = "rejected"
	KindTransport        Kind = "transport"
	KindConfig           Kind = "config"
)

// Common error codes.
const (
	CodeConstructorFailed = "ERR_CONSTRUCTOR_FAILED"
	CodeFactoryFailed     = "ERR_FACTORY_FAILED"
	CodeInvalidDescriptor = "ERR_INVALID_DESCRIPTOR"
	CodeDuplicateType     = "ERR_DUPLICATE_TYPE"
	CodeSealed            = "ERR_REGISTRY_SEALED"
	CodeFieldNotSettable  = "ERR_FIELD_NOT_SETTABLE"
	CodeTypeMismatch      = "ERR_TYPE_MISMATCH"
	CodeDuplicateRoute    = "ERR_DUPLICATE_ROUTE"
	CodeDuplicateScope    = "ERR_DUPLICATE_SCOPE"
	CodeMissingMethod     = "ERR_MISSING_METHOD"
	CodeMissingCapability = "ERR_MISSING_CAPABILITY"
	CodeMissingParam      = "ERR_MISSING_PARAM"
	CodeInvalidParam      = "ERR_INVALID_PARAM"
	CodeCyclicParam       = "ERR_CYCLIC_PARAM"
	CodeParamNames        = "ERR_PARAM_NAMES"
	CodeDepthExceeded     = "ERR_DEPTH_EXCEEDED"
	CodeHandlerFailed     = "ERR_HANDLER_FAILED"
	CodeHandlerPanic      = "ERR_HANDLER_PANIC"
	CodeNilResult         = "ERR_NIL_RESULT"
	CodeRouteNotFound     = "ERR_ROUTE_NOT_FOUND"
	CodeFileNotFound      = "ERR_FILE_NOT_FOUND"
	CodePathTraversal     = "ERR_PATH_TRAVERSAL"
	CodeVerbNotAllowed    = "ERR_VERB_NOT_ALLOWED"
	CodeRejected          = "ERR_REJECTED"
	CodeEncodeFailed      = "ERR_ENCODE_FAILED"
	CodeWriteFailed       = "ERR_WRITE_FAILED"
	CodeConfigInvalid     = "ERR_CONFIG_INVALID"
)

// FrameworkError is a structured error type with context.
type FrameworkError struct {
	Kind      Kind
	Code      string
	Message   string
	Cause     error
	Component string
	Context   map[string]interface{}
}

// Error implements the error interface.
func (e *FrameworkError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Component != "" {
		parts = append(parts, "component:"+e.Component)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *FrameworkError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison by kind and code.
func (e *FrameworkError) Is(target error) bool {
	var t *FrameworkError
	if errors.As(target, &t) {
		return e.Kind == t.Kind && (t.Code == "" || e.Code == t.Code)
	}

	return false
}

// WithContext adds context information to the error.
func (e *FrameworkError) WithContext(key string, value interface{}) *FrameworkError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithComponent adds component context.
func (e *FrameworkError) WithComponent(component string) *FrameworkError {
	e.Component = component

	return e
}

// HTTPStatus maps the error kind onto a response status.
func (e *FrameworkError) HTTPStatus() int {
	switch e.Kind {
	case KindBinding:
		return http.StatusBadRequest
	case KindRejected:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	default:
		return http.StatusInternalServerError
	}
}

func newError(kind Kind, code, message string, cause error) *FrameworkError {
	return &FrameworkError{Kind: kind, Code: code, Message: message, Cause: cause}
}

// NewDiscoveryError creates an error for a type that could not be enumerated
// or instantiated.
func NewDiscoveryError(code, message string, cause error) *FrameworkError {
	return newError(KindDiscovery, code, message, cause)
}

// NewWiringError creates an error for a failed field injection.
func NewWiringError(code, message string, cause error) *FrameworkError {
	return newError(KindWiring, code, message, cause)
}

// NewRouteConflict creates an error for a duplicate registration.
func NewRouteConflict(code, message string) *FrameworkError {
	return newError(KindRouteConflict, code, message, nil)
}

// NewBindingError creates a client-side argument error.
func NewBindingError(code, message string, cause error) *FrameworkError {
	return newError(KindBinding, code, message, cause)
}

// NewHandlerError creates a server-side handler failure.
func NewHandlerError(code, message string, cause error) *FrameworkError {
	return newError(KindHandler, code, message, cause)
}

// NewNotFound creates a not-found error.
func NewNotFound(code, message string) *FrameworkError {
	return newError(KindNotFound, code, message, nil)
}

// NewMethodNotAllowed creates an error for a known path with an unmapped verb.
func NewMethodNotAllowed(message string) *FrameworkError {
	return newError(KindMethodNotAllowed, CodeVerbNotAllowed, message, nil)
}

// NewRejected creates an error for a request stopped by a before-hook.
func NewRejected(message string) *FrameworkError {
	return newError(KindRejected, CodeRejected, message, nil)
}

// NewTransportError creates an error for a failed response write.
func NewTransportError(code, message string, cause error) *FrameworkError {
	return newError(KindTransport, code, message, cause)
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *FrameworkError {
	return newError(KindConfig, code, message, nil)
}

// KindOf returns the kind of a framework error, or KindHandler for any other
// non-nil error.
func KindOf(err error) Kind {
	var fe *FrameworkError
	if errors.As(err, &fe) {
		return fe.Kind
	}

	return KindHandler
}

// StatusOf returns the HTTP status for an error.
func StatusOf(err error) int {
	var fe *FrameworkError
	if errors.As(err, &fe) {
		return fe.HTTPStatus()
	}

	return http.StatusInternalServerError
}

// Is, As, New and Join re-export the standard helpers so callers importing this
// package under the name errors keep access to them.
var (
	Is   = errors.Is
	As   = errors.As
	New  = errors.New
	Join = errors.Join
)
