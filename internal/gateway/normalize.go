package gateway

import (
	"encoding/json"
	"reflect"
	"strings"
)

// Mapper is implemented by response types that know how to flatten
// themselves into a plain map.
type Mapper interface {
	ToMap() map[string]any
}

// documentFields are the keys probed during the reflective fallback in
// Normalize, matching the provider's document shape.
var documentFields = []string{"metadata", "html", "markdown", "json", "screenshot", "links"}

// Normalize coerces an arbitrary provider response into a plain map.
// It tries, in order: the value as a map, a ToMap method, a JSON
// round-trip, and finally a field-by-field probe of the known document
// keys. A value that defeats all four yields an empty map, never a panic.
func Normalize(v any) map[string]any {
	if v == nil {
		return map[string]any{}
	}
	if m, ok := v.(map[string]any); ok {
		return m
	}
	if mp, ok := v.(Mapper); ok {
		if m := mp.ToMap(); m != nil {
			return m
		}
	}
	if m := viaJSON(v); m != nil {
		return m
	}
	return viaFields(v)
}

func viaJSON(v any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func viaFields(v any) map[string]any {
	out := map[string]any{}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return out
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return out
	}
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		name := strings.ToLower(field.Name)
		for _, want := range documentFields {
			if name == want {
				out[want] = rv.Field(i).Interface()
				break
			}
		}
	}
	return out
}
