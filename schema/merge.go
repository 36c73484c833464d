package schema

// Merge applies patch to current and returns the result. For every key in
// patch: when both sides hold structured records (map[string]any), the
// records merge recursively key by key; every other value, lists included,
// replaces the current value wholesale. Lists are never merged element-wise.
//
// Merge is pure. Neither input is mutated; untouched branches of current are
// shared with the result, so callers that hand the result to mutating code
// should [Clone] it first.
func Merge(current, patch map[string]any) map[string]any {
	merged := make(map[string]any, len(current)+len(patch))
	for k, v := range current {
		merged[k] = v
	}
	for k, pv := range patch {
		cv, exists := merged[k]
		if exists {
			cm, currentIsRecord := cv.(map[string]any)
			pm, patchIsRecord := pv.(map[string]any)
			if currentIsRecord && patchIsRecord {
				merged[k] = Merge(cm, pm)
				continue
			}
		}
		merged[k] = pv
	}
	return merged
}

// Clone returns a deep copy of value: nested map[string]any and []any trees
// are copied; every other value is assigned as-is (scalars are copied by
// value, and state values hold only JSON-shaped data).
func Clone(value map[string]any) map[string]any {
	if value == nil {
		return nil
	}
	out := make(map[string]any, len(value))
	for k, v := range value {
		out[k] = cloneAny(v)
	}
	return out
}

func cloneAny(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return Clone(tv)
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = cloneAny(e)
		}
		return out
	default:
		return v
	}
}
