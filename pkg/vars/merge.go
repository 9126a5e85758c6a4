package vars

import "fmt"

// DeepCopy returns a copy of v in which every nested map and slice is duplicated.
// Scalars are returned as is.
func DeepCopy(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = DeepCopy(val)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[toKey(k)] = DeepCopy(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = DeepCopy(val)
		}
		return out
	case []string:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = val
		}
		return out
	default:
		return v
	}
}

// CopyMap deep copies a variable mapping.
func CopyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return DeepCopy(m).(map[string]interface{})
}

// DeepMerge merges src into dst in place and returns dst. Keys whose values are
// mappings on both sides are merged recursively; any other value in src replaces
// the value in dst. src is copied, so later mutation of dst never reaches src.
func DeepMerge(dst, src map[string]interface{}) map[string]interface{} {
	if dst == nil {
		dst = make(map[string]interface{}, len(src))
	}
	for k, srcVal := range src {
		srcMap, srcIsMap := asMap(srcVal)
		dstMap, dstIsMap := asMap(dst[k])
		if srcIsMap && dstIsMap {
			// dst values were copied in by an earlier merge, so mutating them is safe
			dst[k] = DeepMerge(dstMap, srcMap)
			continue
		}
		dst[k] = DeepCopy(srcVal)
	}
	return dst
}

// Merge returns a new mapping with override deep-merged over base. Neither input is modified.
func Merge(base, override map[string]interface{}) map[string]interface{} {
	return DeepMerge(CopyMap(base), override)
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch t := v.(type) {
	case map[string]interface{}:
		return t, true
	case map[interface{}]interface{}:
		return DeepCopy(t).(map[string]interface{}), true
	}
	return nil, false
}

func toKey(k interface{}) string {
	if s, ok := k.(string); ok {
		return s
	}
	return fmt.Sprint(k)
}
