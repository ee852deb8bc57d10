package gateway

import "reflect"

// Sanitize strips values that cannot round-trip through JSON storage:
// functions, channels, and unsafe pointers, at any nesting depth. Plain
// data passes through untouched, so the operation is idempotent.
func Sanitize(v any) any {
	switch val := v.(type) {
	case nil, string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return val
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if !storable(item) {
				continue
			}
			out[k] = Sanitize(item)
		}
		return out
	case []any:
		out := make([]any, 0, len(val))
		for _, item := range val {
			if !storable(item) {
				continue
			}
			out = append(out, Sanitize(item))
		}
		return out
	default:
		if !storable(val) {
			return nil
		}
		return val
	}
}

// SanitizeMap is Sanitize specialized to the common top-level shape.
func SanitizeMap(m map[string]any) map[string]any {
	out, _ := Sanitize(m).(map[string]any)
	return out
}

func storable(v any) bool {
	if v == nil {
		return true
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return false
	}
	return true
}
