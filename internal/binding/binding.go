// Package binding turns a raw request into the argument list of a handler
// method.
//
// Go reflection does not keep parameter names, so a NameResolver supplies
// them: DeclaredNames reads the names registered with the route, SourceIndex
// recovers them from the component's Go source. Either way the request-time
// contract is the same. Plans are prepared once at startup, where cyclic or
// too-deep parameter types are rejected, and applied per request by Bind.
package binding

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/conneroisu/switchyard/internal/errors"
	"github.com/conneroisu/switchyard/internal/web"
)

// Strategy names.
const (
	StrategyDeclared = "declared"
	StrategySource   = "source"
)

// DefaultMaxDepth bounds compound parameter recursion.
const DefaultMaxDepth = 8

// ParamTag overrides the request key of a compound field: `param:"name"`.
// `param:"-"` skips the field.
const ParamTag = "param"

// Kind classifies a handler parameter.
type Kind int

const (
	KindRequest Kind = iota
	KindResponse
	KindContext
	KindScalar
	KindCompound
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindContext:
		return "context"
	case KindScalar:
		return "scalar"
	case KindCompound:
		return "compound"
	default:
		return "unknown"
	}
}

var (
	requestType  = reflect.TypeOf((*web.Request)(nil))
	responseType = reflect.TypeOf((*web.Response)(nil))
	contextType  = reflect.TypeOf((*context.Context)(nil)).Elem()
	durationType = reflect.TypeOf(time.Duration(0))
	timeType     = reflect.TypeOf(time.Time{})
	bytesType    = reflect.TypeOf([]byte(nil))
)

// MethodRef identifies a handler method.
type MethodRef struct {
	// Owner is the component's struct type.
	Owner reflect.Type
	Name  string
	// Func is the method value bound to the component instance.
	Func reflect.Value
	// Declared holds the names registered with the route, if any.
	Declared []string
}

// String returns Owner.Name.
func (m MethodRef) String() string {
	if m.Owner == nil {
		return m.Name
	}
	return m.Owner.Name() + "." + m.Name
}

// Field is the bind plan of one compound field.
type Field struct {
	Index  int
	Name   string
	Type   reflect.Type
	Kind   Kind
	Fields []*Field
}

// Param is the bind plan of one method parameter.
type Param struct {
	Index  int
	Name   string
	Type   reflect.Type
	Kind   Kind
	Fields []*Field
}

// Plan is the prepared argument plan of a method.
type Plan struct {
	Method   string
	Strategy string
	Params   []Param
}

// Names returns the parameter names in order; special parameters have
// empty names.
func (p *Plan) Names() []string {
	out := make([]string, len(p.Params))
	for i, param := range p.Params {
		out[i] = param.Name
	}
	return out
}

// Binder prepares and applies argument plans.
type Binder interface {
	Strategy() string
	Prepare(ref MethodRef) (*Plan, error)
	Bind(plan *Plan, req *web.Request, resp *web.Response) ([]reflect.Value, error)
}

// NameResolver supplies the parameter names of a method, one per parameter.
type NameResolver interface {
	Strategy() string
	Names(ref MethodRef) ([]string, error)
}

// Option configures a binder.
type Option func(*strategyBinder)

// WithMaxDepth bounds compound recursion.
func WithMaxDepth(depth int) Option {
	return func(b *strategyBinder) {
		if depth > 0 {
			b.maxDepth = depth
		}
	}
}

type strategyBinder struct {
	resolver NameResolver
	maxDepth int
}

// New creates a binder that takes parameter names from resolver.
func New(resolver NameResolver, opts ...Option) Binder {
	b := &strategyBinder{resolver: resolver, maxDepth: DefaultMaxDepth}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *strategyBinder) Strategy() string { return b.resolver.Strategy() }

func configError(code, message string, cause error) *errors.FrameworkError {
	err := errors.NewConfigError(code, message)
	err.Cause = cause
	return err
}

func classify(t reflect.Type) (Kind, bool) {
	switch {
	case t == requestType:
		return KindRequest, true
	case t == responseType:
		return KindResponse, true
	case t == contextType:
		return KindContext, true
	case isScalar(t):
		return KindScalar, true
	case isCompound(t):
		return KindCompound, true
	default:
		return 0, false
	}
}

func isSpecial(t reflect.Type) bool {
	return t == requestType || t == responseType || t == contextType
}

// Prepare builds the argument plan of ref.
func (b *strategyBinder) Prepare(ref MethodRef) (*Plan, error) {
	if !ref.Func.IsValid() || ref.Func.Kind() != reflect.Func {
		return nil, configError(errors.CodeMissingMethod, fmt.Sprintf("%s is not a method", ref), nil)
	}
	ft := ref.Func.Type()
	if ft.IsVariadic() {
		return nil, configError(errors.CodeInvalidParam, fmt.Sprintf("%s: variadic handlers are not supported", ref), nil)
	}

	names, err := b.resolver.Names(ref)
	if err != nil {
		return nil, configError(errors.CodeParamNames, fmt.Sprintf("%s: parameter names unavailable", ref), err)
	}
	if len(names) != ft.NumIn() {
		return nil, configError(errors.CodeParamNames,
			fmt.Sprintf("%s: %d names for %d parameters", ref, len(names), ft.NumIn()), nil)
	}

	plan := &Plan{Method: ref.String(), Strategy: b.resolver.Strategy(), Params: make([]Param, ft.NumIn())}
	for i := 0; i < ft.NumIn(); i++ {
		t := ft.In(i)
		kind, ok := classify(t)
		if !ok {
			return nil, configError(errors.CodeInvalidParam,
				fmt.Sprintf("%s: parameter %d has unsupported type %s", ref, i, t), nil)
		}
		param := Param{Index: i, Name: names[i], Type: t, Kind: kind}
		switch kind {
		case KindRequest, KindResponse, KindContext:
			param.Name = ""
		case KindScalar:
			if param.Name == "" || param.Name == "_" {
				return nil, configError(errors.CodeParamNames,
					fmt.Sprintf("%s: parameter %d of type %s has no name", ref, i, t), nil)
			}
		case KindCompound:
			fields, err := b.planStruct(structOf(t), 1, map[reflect.Type]bool{})
			if err != nil {
				return nil, configError(err.Code, fmt.Sprintf("%s: parameter %d: %s", ref, i, err.Message), nil)
			}
			param.Fields = fields
		}
		plan.Params[i] = param
	}
	return plan, nil
}

func structOf(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Ptr {
		return t.Elem()
	}
	return t
}

func (b *strategyBinder) planStruct(t reflect.Type, depth int, stack map[reflect.Type]bool) ([]*Field, *errors.FrameworkError) {
	if stack[t] {
		return nil, errors.NewConfigError(errors.CodeCyclicParam, fmt.Sprintf("type %s refers to itself", t))
	}
	if depth > b.maxDepth {
		return nil, errors.NewConfigError(errors.CodeDepthExceeded,
			fmt.Sprintf("type %s nests deeper than %d", t, b.maxDepth))
	}
	stack[t] = true
	defer delete(stack, t)

	var fields []*Field
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name := sf.Name
		if tag, ok := sf.Tag.Lookup(ParamTag); ok {
			if tag == "-" {
				continue
			}
			if tag != "" {
				name = tag
			}
		}

		kind, ok := classify(sf.Type)
		if !ok || isSpecial(sf.Type) {
			continue
		}
		f := &Field{Index: i, Name: name, Type: sf.Type, Kind: kind}
		if kind == KindCompound {
			nested, err := b.planStruct(structOf(sf.Type), depth+1, stack)
			if err != nil {
				return nil, err
			}
			f.Fields = nested
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// Bind builds the argument values for plan from req and resp.
func (b *strategyBinder) Bind(plan *Plan, req *web.Request, resp *web.Response) ([]reflect.Value, error) {
	args := make([]reflect.Value, len(plan.Params))
	for i, p := range plan.Params {
		switch p.Kind {
		case KindRequest:
			args[i] = reflect.ValueOf(req)
		case KindResponse:
			args[i] = reflect.ValueOf(resp)
		case KindContext:
			args[i] = reflect.ValueOf(req.Context())
		case KindScalar:
			v, err := bindScalar(req, p.Name, p.Type, true)
			if err != nil {
				return nil, err
			}
			args[i] = v
		case KindCompound:
			v, err := bindStruct(req, structOf(p.Type), p.Fields)
			if err != nil {
				return nil, err
			}
			if p.Type.Kind() == reflect.Ptr {
				v = v.Addr()
			}
			args[i] = v
		}
	}
	return args, nil
}

func bindScalar(req *web.Request, name string, t reflect.Type, required bool) (reflect.Value, error) {
	values, ok := lookup(req, name)
	if !ok {
		if required && !optional(t) {
			return reflect.Value{}, errors.NewBindingError(errors.CodeMissingParam,
				fmt.Sprintf("missing parameter %q", name), nil).WithContext("param", name)
		}
		return reflect.Zero(t), nil
	}
	v, err := convert(t, values)
	if err != nil {
		return reflect.Value{}, errors.NewBindingError(errors.CodeInvalidParam,
			fmt.Sprintf("invalid value for parameter %q", name), err).WithContext("param", name)
	}
	return v, nil
}

func bindStruct(req *web.Request, t reflect.Type, fields []*Field) (reflect.Value, error) {
	v := reflect.New(t).Elem()
	for _, f := range fields {
		target := v.Field(f.Index)
		switch f.Kind {
		case KindScalar:
			fv, err := bindScalar(req, f.Name, f.Type, false)
			if err != nil {
				return reflect.Value{}, err
			}
			target.Set(fv)
		case KindCompound:
			nested, err := bindStruct(req, structOf(f.Type), f.Fields)
			if err != nil {
				return reflect.Value{}, err
			}
			if f.Type.Kind() == reflect.Ptr {
				nested = nested.Addr()
			}
			target.Set(nested)
		}
	}
	return v, nil
}

func optional(t reflect.Type) bool {
	return t.Kind() == reflect.Ptr || (t.Kind() == reflect.Slice && t != bytesType)
}
