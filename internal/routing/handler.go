package routing

import (
	"fmt"
	"reflect"

	"github.com/conneroisu/switchyard/internal/binding"
	"github.com/conneroisu/switchyard/internal/catalog"
	"github.com/conneroisu/switchyard/internal/errors"
	"github.com/conneroisu/switchyard/internal/web"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Handler is a controller method bound to its component instance.
type Handler struct {
	Pattern  *Pattern
	Verb     web.Verb
	Owner    catalog.TypeID
	Method   string
	Produces string
	Plan     *binding.Plan

	fn  reflect.Value
	seq int
}

// NewHandler binds fn, a method value, to pattern and verb.
func NewHandler(pattern *Pattern, verb web.Verb, owner catalog.TypeID, method string, fn reflect.Value, plan *binding.Plan) (*Handler, error) {
	if !fn.IsValid() || fn.Kind() != reflect.Func {
		return nil, errors.NewConfigError(errors.CodeMissingMethod, fmt.Sprintf("%s.%s is not a method", owner, method))
	}
	if err := checkResults(fn.Type()); err != nil {
		return nil, errors.NewConfigError(errors.CodeInvalidParam, fmt.Sprintf("%s.%s: %v", owner, method, err))
	}
	if verb == "" {
		verb = web.GET
	}
	return &Handler{
		Pattern: pattern,
		Verb:    verb,
		Owner:   owner,
		Method:  method,
		Plan:    plan,
		fn:      fn,
	}, nil
}

// checkResults accepts (), (T), (error) and (T, error).
func checkResults(t reflect.Type) error {
	switch t.NumOut() {
	case 0, 1:
		return nil
	case 2:
		if t.Out(1) != errorType {
			return fmt.Errorf("second result must be error, got %s", t.Out(1))
		}
		if t.Out(0) == errorType {
			return fmt.Errorf("first result must not be error")
		}
		return nil
	default:
		return fmt.Errorf("handlers return at most two values, got %d", t.NumOut())
	}
}

// String returns "VERB /pattern -> Owner.Method".
func (h *Handler) String() string {
	return fmt.Sprintf("%s %s -> %s.%s", h.Verb, h.Pattern, h.Owner, h.Method)
}

// Seq returns the registration sequence of the route.
func (h *Handler) Seq() int { return h.seq }

// Invoke calls the handler with args. A panic becomes a handler error. The
// result is nil when the handler returned nothing or a nil value.
func (h *Handler) Invoke(args []reflect.Value) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = errors.NewHandlerError(errors.CodeHandlerPanic, fmt.Sprintf("handler panicked: %v", rec), nil).
				WithComponent(string(h.Owner)).WithContext("method", h.Method)
		}
	}()

	out := h.fn.Call(args)
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if h.fn.Type().Out(0) == errorType {
			return nil, handlerErr(h, out[0])
		}
		return value(out[0]), nil
	default:
		if err := handlerErr(h, out[1]); err != nil {
			return nil, err
		}
		return value(out[0]), nil
	}
}

func handlerErr(h *Handler, v reflect.Value) error {
	if v.IsNil() {
		return nil
	}
	cause := v.Interface().(error)
	if errors.KindOf(cause) != errors.KindHandler {
		return cause
	}
	var fe *errors.FrameworkError
	if errors.As(cause, &fe) {
		return fe
	}
	return errors.NewHandlerError(errors.CodeHandlerFailed, "handler failed", cause).
		WithComponent(string(h.Owner)).WithContext("method", h.Method)
}

func value(v reflect.Value) any {
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if v.IsNil() {
			return nil
		}
	}
	return v.Interface()
}
