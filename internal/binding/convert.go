package binding

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/spf13/cast"
	"golang.org/x/text/cases"

	"github.com/conneroisu/switchyard/internal/web"
)

func isScalar(t reflect.Type) bool {
	switch {
	case t == durationType, t == timeType, t == bytesType:
		return true
	case t.Kind() == reflect.Ptr:
		return isBasic(t.Elem()) || t.Elem() == durationType || t.Elem() == timeType
	case t.Kind() == reflect.Slice:
		return isBasic(t.Elem()) || t.Elem() == durationType || t.Elem() == timeType
	default:
		return isBasic(t)
	}
}

func isBasic(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

func isCompound(t reflect.Type) bool {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct && t != timeType
}

// lookup finds name in the request, falling back to a case-folded match.
func lookup(req *web.Request, name string) ([]string, bool) {
	if values, ok := req.Lookup(name); ok {
		return values, true
	}
	folder := cases.Fold()
	want := folder.String(name)
	for _, key := range req.Keys() {
		if folder.String(key) == want {
			return req.Lookup(key)
		}
	}
	return nil, false
}

// convert parses values into t. Slices take every value; other types take
// the first.
func convert(t reflect.Type, values []string) (reflect.Value, error) {
	if len(values) == 0 {
		return reflect.Zero(t), nil
	}

	switch {
	case t == bytesType:
		return reflect.ValueOf([]byte(values[0])), nil
	case t.Kind() == reflect.Slice:
		out := reflect.MakeSlice(t, 0, len(values))
		for _, s := range values {
			v, err := convertOne(t.Elem(), s)
			if err != nil {
				return reflect.Value{}, err
			}
			out = reflect.Append(out, v)
		}
		return out, nil
	case t.Kind() == reflect.Ptr:
		v, err := convertOne(t.Elem(), values[0])
		if err != nil {
			return reflect.Value{}, err
		}
		ptr := reflect.New(t.Elem())
		ptr.Elem().Set(v)
		return ptr, nil
	default:
		return convertOne(t, values[0])
	}
}

func convertOne(t reflect.Type, s string) (reflect.Value, error) {
	switch t {
	case durationType:
		d, err := cast.ToDurationE(s)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(d), nil
	case timeType:
		tm, err := cast.ToTimeE(s)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(tm), nil
	}

	v := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.String:
		v.SetString(s)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return reflect.Value{}, err
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, t.Bits())
		if err != nil {
			return reflect.Value{}, err
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, t.Bits())
		if err != nil {
			return reflect.Value{}, err
		}
		v.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, t.Bits())
		if err != nil {
			return reflect.Value{}, err
		}
		v.SetFloat(f)
	default:
		return reflect.Value{}, fmt.Errorf("unsupported type %s", t)
	}
	return v, nil
}
