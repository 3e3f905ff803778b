package registry

import (
	"fmt"
	"reflect"

	"github.com/conneroisu/switchyard/internal/catalog"
	"github.com/conneroisu/switchyard/internal/errors"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// instantiate builds the instance for d: its constructor's result, or a
// freshly allocated zero value.
func instantiate(d *catalog.Descriptor) (instance reflect.Value, source Source, ferr *errors.FrameworkError) {
	defer func() {
		if rec := recover(); rec != nil {
			instance = reflect.Value{}
			ferr = errors.NewDiscoveryError(errors.CodeConstructorFailed,
				fmt.Sprintf("constructor panicked: %v", rec), nil)
		}
	}()

	if d.New == nil {
		return reflect.New(d.Type), SourceZero, nil
	}

	v, err := d.New()
	if err != nil {
		return reflect.Value{}, "", errors.NewDiscoveryError(errors.CodeConstructorFailed, "constructor failed", err)
	}
	if v == nil {
		return reflect.Value{}, "", errors.NewDiscoveryError(errors.CodeConstructorFailed, "constructor returned nil", nil)
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Type().Elem() != d.Type {
		return reflect.Value{}, "", errors.NewDiscoveryError(errors.CodeTypeMismatch,
			fmt.Sprintf("constructor returned %T, want *%s", v, d.Type), nil)
	}
	return rv, SourceConstructor, nil
}

type factory struct {
	name string
	fn   reflect.Value
}

func isFactory(t reflect.Type) bool {
	if t.NumIn() != 0 || t.IsVariadic() {
		return false
	}
	switch t.NumOut() {
	case 1:
		return t.Out(0) != errorType
	case 2:
		return t.Out(0) != errorType && t.Out(1) == errorType
	default:
		return false
	}
}

// factoryMethods returns the factory methods of a configuration instance.
// Named factories that are missing or have the wrong shape are reported.
// Without names, every exported method with a factory signature is used, in
// method-name order.
func factoryMethods(e *Entry, collector *errors.Collector) []factory {
	var out []factory

	if names := e.Descriptor.Factories; len(names) > 0 {
		for _, name := range names {
			fn := e.Instance.MethodByName(name)
			if !fn.IsValid() {
				collector.Add(errors.NewDiscoveryError(errors.CodeFactoryFailed,
					fmt.Sprintf("factory method %s not found", name), nil).WithComponent(string(e.ID)))
				continue
			}
			if !isFactory(fn.Type()) {
				collector.Add(errors.NewDiscoveryError(errors.CodeFactoryFailed,
					fmt.Sprintf("factory method %s must take no arguments and return T or (T, error)", name), nil).
					WithComponent(string(e.ID)))
				continue
			}
			out = append(out, factory{name: name, fn: fn})
		}
		return out
	}

	t := e.Instance.Type()
	for i := 0; i < t.NumMethod(); i++ {
		fn := e.Instance.Method(i)
		if isFactory(fn.Type()) {
			out = append(out, factory{name: t.Method(i).Name, fn: fn})
		}
	}
	return out
}

func callFactory(f factory) (result reflect.Value, ferr *errors.FrameworkError) {
	defer func() {
		if rec := recover(); rec != nil {
			result = reflect.Value{}
			ferr = errors.NewDiscoveryError(errors.CodeFactoryFailed,
				fmt.Sprintf("factory %s panicked: %v", f.name, rec), nil)
		}
	}()

	out := f.fn.Call(nil)
	if len(out) == 2 && !out[1].IsNil() {
		return reflect.Value{}, errors.NewDiscoveryError(errors.CodeFactoryFailed,
			fmt.Sprintf("factory %s failed", f.name), out[1].Interface().(error))
	}
	if isNil(out[0]) {
		return reflect.Value{}, errors.NewDiscoveryError(errors.CodeFactoryFailed,
			fmt.Sprintf("factory %s returned nil", f.name), nil)
	}
	return out[0], nil
}

func isNil(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	default:
		return !v.IsValid()
	}
}
