package report

import (
	"reflect"
)

// Merge copies each secondary key into a copy of primary only when the key is
// absent from primary or its primary value is empty. Neither input is modified.
func Merge(primary, secondary Fields) Fields {
	merged := make(Fields, len(primary)+len(secondary))
	for k, v := range primary {
		merged[k] = v
	}
	for k, v := range secondary {
		if cur, ok := merged[k]; !ok || isEmpty(cur) {
			merged[k] = v
		}
	}
	return merged
}

// MergeAll folds results left to right, so earlier inputs take precedence.
func MergeAll(all ...Fields) Fields {
	merged := Fields{}
	for _, f := range all {
		if len(f) == 0 {
			continue
		}
		merged = Merge(merged, f)
	}
	return merged
}

// MergeMaps applies the same precedence rule to untyped maps (patient info, lifestyle).
func MergeMaps(primary, secondary map[string]any) map[string]any {
	return map[string]any(Merge(Fields(primary), Fields(secondary)))
}

// isEmpty reports nil, "", and zero-length collections. Numeric zero and
// false are real values and are kept.
func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	switch t := v.(type) {
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	case Fields:
		return len(t) == 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
