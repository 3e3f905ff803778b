package registry

import (
	"context"
	"fmt"
	"reflect"
	"unsafe"

	"github.com/conneroisu/switchyard/internal/catalog"
	"github.com/conneroisu/switchyard/internal/errors"
)

// InjectTag marks a field for injection: `inject:""`.
const InjectTag = "inject"

// wireAll assigns the inject fields of every component instance. Fields that
// already hold a value are left alone, so a field is wired at most once.
func (r *Registry) wireAll(ctx context.Context, collector *errors.Collector) int {
	wired := 0
	for _, e := range r.order {
		if !r.IsComponent(e) {
			continue
		}
		wired += r.wire(ctx, e, collector)
	}
	return wired
}

func (r *Registry) wire(ctx context.Context, e *Entry, collector *errors.Collector) int {
	v := e.Instance.Elem()
	t := v.Type()
	wired := 0

	// Only the struct's own fields; promoted fields of embedded structs are
	// not visited.
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.Anonymous {
			continue
		}
		if _, ok := sf.Tag.Lookup(InjectTag); !ok {
			continue
		}

		field := v.Field(i)
		if !field.IsZero() {
			continue
		}

		dep, ok := r.entries[catalog.IDOf(sf.Type)]
		if !ok {
			r.logger.Debug(ctx, "no instance for injected field", "type", e.ID, "field", sf.Name, "want", sf.Type)
			continue
		}

		if !dep.Instance.Type().AssignableTo(sf.Type) {
			err := errors.NewWiringError(errors.CodeTypeMismatch,
				fmt.Sprintf("field %s: %s is not assignable to %s", sf.Name, dep.Instance.Type(), sf.Type), nil).
				WithComponent(string(e.ID))
			collector.Add(err)
			r.logger.Warn(ctx, err, "field left unset", "type", e.ID, "field", sf.Name)
			continue
		}

		if err := setField(field, dep.Instance); err != nil {
			ferr := errors.NewWiringError(errors.CodeFieldNotSettable,
				fmt.Sprintf("field %s cannot be set", sf.Name), err).WithComponent(string(e.ID))
			collector.Add(ferr)
			r.logger.Warn(ctx, ferr, "field left unset", "type", e.ID, "field", sf.Name)
			continue
		}
		wired++
		r.logger.Debug(ctx, "field wired", "type", e.ID, "field", sf.Name, "dependency", dep.ID)
	}
	return wired
}

// setField assigns value to field, reaching unexported fields through their
// address.
func setField(field, value reflect.Value) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%v", rec)
		}
	}()

	if field.CanSet() {
		field.Set(value)
		return nil
	}
	if !field.CanAddr() {
		return fmt.Errorf("field is not addressable")
	}
	reflect.NewAt(field.Type(), unsafe.Pointer(field.UnsafeAddr())).Elem().Set(value)
	return nil
}
