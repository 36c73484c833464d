package schema

import (
	"reflect"
	"testing"
)

func TestMergeNestedRecords(t *testing.T) {
	current := map[string]any{"a": map[string]any{"x": 0, "y": 2}}
	patch := map[string]any{"a": map[string]any{"x": 1}}

	got := Merge(current, patch)

	want := map[string]any{"a": map[string]any{"x": 1, "y": 2}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Merge() = %v, want %v", got, want)
	}
}

func TestMergeReplacesListsWholesale(t *testing.T) {
	current := map[string]any{"a": []any{9}}
	patch := map[string]any{"a": []any{1, 2}}

	got := Merge(current, patch)

	want := map[string]any{"a": []any{1, 2}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Merge() = %v, want %v (full replacement, not concatenation)", got, want)
	}
}

func TestMergeReplacesScalarWithRecordAndBack(t *testing.T) {
	got := Merge(map[string]any{"a": 1}, map[string]any{"a": map[string]any{"x": 1}})
	if !reflect.DeepEqual(got, map[string]any{"a": map[string]any{"x": 1}}) {
		t.Errorf("scalar -> record: got %v", got)
	}

	got = Merge(map[string]any{"a": map[string]any{"x": 1}}, map[string]any{"a": "flat"})
	if !reflect.DeepEqual(got, map[string]any{"a": "flat"}) {
		t.Errorf("record -> scalar: got %v", got)
	}
}

func TestMergeKeepsUnpatchedKeys(t *testing.T) {
	current := map[string]any{"keep": "original", "change": 1}
	patch := map[string]any{"change": 2, "add": true}

	got := Merge(current, patch)

	want := map[string]any{"keep": "original", "change": 2, "add": true}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Merge() = %v, want %v", got, want)
	}
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	current := map[string]any{"a": map[string]any{"x": 0, "y": 2}, "b": 1}
	patch := map[string]any{"a": map[string]any{"x": 1}}

	Merge(current, patch)

	if got := current["a"].(map[string]any)["x"]; got != 0 {
		t.Errorf("current mutated: a.x = %v, want 0", got)
	}
	if got := patch["a"].(map[string]any); len(got) != 1 {
		t.Errorf("patch mutated: a = %v, want single-key record", got)
	}
}

func TestMergeDeepRecursion(t *testing.T) {
	current := map[string]any{
		"cfg": map[string]any{
			"net": map[string]any{"host": "a", "port": 1},
			"ui":  map[string]any{"theme": "dark"},
		},
	}
	patch := map[string]any{
		"cfg": map[string]any{
			"net": map[string]any{"port": 2},
		},
	}

	got := Merge(current, patch)

	want := map[string]any{
		"cfg": map[string]any{
			"net": map[string]any{"host": "a", "port": 2},
			"ui":  map[string]any{"theme": "dark"},
		},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Merge() = %v, want %v", got, want)
	}
}

func TestCloneIsDeep(t *testing.T) {
	original := map[string]any{
		"nested": map[string]any{"k": "v"},
		"list":   []any{map[string]any{"i": 1}},
	}

	clone := Clone(original)
	clone["nested"].(map[string]any)["k"] = "changed"
	clone["list"].([]any)[0].(map[string]any)["i"] = 9

	if got := original["nested"].(map[string]any)["k"]; got != "v" {
		t.Errorf("original nested mutated via clone: %v", got)
	}
	if got := original["list"].([]any)[0].(map[string]any)["i"]; got != 1 {
		t.Errorf("original list element mutated via clone: %v", got)
	}
}

func TestCloneNil(t *testing.T) {
	if got := Clone(nil); got != nil {
		t.Errorf("Clone(nil) = %v, want nil", got)
	}
}
