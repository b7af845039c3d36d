package binder

import (
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Path binds fields tagged `path:"name"` using extractor, typically
// chi.URLParam.
func Path(extractor func(r *http.Request, name string) string) func(r *http.Request, v any) error {
	return func(r *http.Request, v any) error {
		if extractor == nil {
			return fmt.Errorf("%w: nil extractor", ErrInvalidPath)
		}
		return bind(v, "path", ErrInvalidPath, func(name string) []string {
			if s := extractor(r, name); s != "" {
				return []string{s}
			}
			return nil
		})
	}
}

// Query binds fields tagged `query:"name"`. Slice fields accept repeated
// parameters and comma-separated values.
func Query() func(r *http.Request, v any) error {
	return func(r *http.Request, v any) error {
		q := r.URL.Query()
		return bind(v, "query", ErrInvalidQuery, func(name string) []string { return q[name] })
	}
}

func bind(v any, tag string, errKind error, lookup func(name string) []string) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return ErrInvalidTarget
	}
	rv = rv.Elem()
	rt := rv.Type()

	for i := range rt.NumField() {
		f := rt.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
		if name == "" || name == "-" || !f.IsExported() {
			continue
		}
		values := lookup(name)
		if len(values) == 0 {
			continue
		}
		if err := set(rv.Field(i), values); err != nil {
			return fmt.Errorf("%w: %s: %v", errKind, name, err)
		}
	}
	return nil
}

var timeType = reflect.TypeOf(time.Time{})

func set(field reflect.Value, values []string) error {
	if field.Kind() == reflect.Pointer {
		ptr := reflect.New(field.Type().Elem())
		if err := set(ptr.Elem(), values); err != nil {
			return err
		}
		field.Set(ptr)
		return nil
	}

	if field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.String {
		var out []string
		for _, v := range values {
			for _, part := range strings.Split(v, ",") {
				if part = strings.TrimSpace(part); part != "" {
					out = append(out, part)
				}
			}
		}
		field.Set(reflect.ValueOf(out).Convert(field.Type()))
		return nil
	}

	raw := values[0]
	if field.Type() == timeType {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return err
		}
		field.Set(reflect.ValueOf(t))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetUint(n)
	case reflect.Float32, reflect.Float64:
		n, err := strconv.ParseFloat(raw, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetFloat(n)
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}
