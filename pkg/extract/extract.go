// Package extract pulls a JSON object out of free-form model output.
//
// Models are asked to reply with a bare JSON object but regularly wrap it in
// prose or code fences, and drift on field types ("5" for 5, "true" for
// true). Parse takes everything between the first '{' and the last '}' and
// decodes it field by field, coercing what it can. Only text without a
// well-formed object degrades to the raw text.
package extract

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"

	"github.com/spf13/cast"
)

// ErrNoObject is reported when the text holds no '{' ... '}' span.
var ErrNoObject = errors.New("no json object in text")

// Result is either a parsed value or a degraded result carrying the raw text.
type Result[T any] struct {
	Value    T
	Raw      string
	Degraded bool
	Err      error
	// Dropped names fields that were present but could not be coerced.
	Dropped []string
}

// Parse never panics; malformed JSON yields a Degraded result with Err set.
// Fields whose values cannot be coerced are left at their zero value.
func Parse[T any](raw string) Result[T] {
	res := Result[T]{Raw: raw}
	span, ok := Span(raw)
	if !ok {
		res.Degraded = true
		res.Err = ErrNoObject
		return res
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(span), &fields); err != nil {
		res.Degraded = true
		res.Err = err
		return res
	}

	rv := reflect.ValueOf(&res.Value).Elem()
	if rv.Kind() != reflect.Struct {
		if err := json.Unmarshal([]byte(span), &res.Value); err != nil {
			var zero T
			res.Value = zero
			res.Degraded = true
			res.Err = err
		}
		return res
	}
	res.Dropped = decodeStruct(rv, fields)
	return res
}

// Span returns the substring from the first '{' through the last '}'.
func Span(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < start {
		return "", false
	}
	return raw[start : end+1], true
}

// Or returns the parsed value, or fallback(raw) when the result is degraded.
func (r Result[T]) Or(fallback func(raw string) T) T {
	if r.Degraded {
		return fallback(r.Raw)
	}
	return r.Value
}

func decodeStruct(rv reflect.Value, fields map[string]any) []string {
	var dropped []string
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}
		name, ok := jsonName(f)
		if !ok {
			continue
		}
		v, ok := lookup(fields, name)
		if !ok || v == nil {
			continue
		}
		if !assign(rv.Field(i), v) {
			dropped = append(dropped, name)
		}
	}
	return dropped
}

func jsonName(f reflect.StructField) (string, bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		name = f.Name
	}
	return name, true
}

// lookup matches keys exactly first, then case-insensitively like encoding/json.
func lookup(fields map[string]any, name string) (any, bool) {
	if v, ok := fields[name]; ok {
		return v, true
	}
	for k, v := range fields {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

// assign coerces v into dst and reports whether it succeeded. dst is left
// untouched on failure.
func assign(dst reflect.Value, v any) bool {
	switch dst.Kind() {
	case reflect.String:
		if isComposite(v) {
			return false
		}
		s, err := cast.ToStringE(v)
		if err != nil {
			return false
		}
		dst.SetString(s)
	case reflect.Bool:
		b, err := cast.ToBoolE(v)
		if err != nil {
			return false
		}
		dst.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := cast.ToInt64E(v)
		if err != nil {
			return false
		}
		dst.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := cast.ToUint64E(v)
		if err != nil {
			return false
		}
		dst.SetUint(n)
	case reflect.Float32, reflect.Float64:
		n, err := cast.ToFloat64E(v)
		if err != nil {
			return false
		}
		dst.SetFloat(n)
	case reflect.Slice:
		if dst.Type().Elem().Kind() == reflect.String {
			return assignStrings(dst, v)
		}
		return assignJSON(dst, v)
	default:
		return assignJSON(dst, v)
	}
	return true
}

// assignStrings accepts a list or a lone string. List items that are not
// scalars are skipped.
func assignStrings(dst reflect.Value, v any) bool {
	var out []string
	switch v := v.(type) {
	case string:
		out = []string{v}
	case []any:
		out = make([]string, 0, len(v))
		for _, item := range v {
			if item == nil || isComposite(item) {
				continue
			}
			s, err := cast.ToStringE(item)
			if err != nil {
				continue
			}
			out = append(out, s)
		}
	default:
		return false
	}
	slice := reflect.MakeSlice(dst.Type(), len(out), len(out))
	for i, s := range out {
		slice.Index(i).SetString(s)
	}
	dst.Set(slice)
	return true
}

func assignJSON(dst reflect.Value, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	tmp := reflect.New(dst.Type())
	if err := json.Unmarshal(data, tmp.Interface()); err != nil {
		return false
	}
	dst.Set(tmp.Elem())
	return true
}

func isComposite(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}
