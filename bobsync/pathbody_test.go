package bobsync

import (
	"reflect"
	"testing"
)

func TestBuildRequestBodyNested(t *testing.T) {
	got := BuildRequestBody("root.work.title", "Engineer")
	want := map[string]any{"work": map[string]any{"title": "Engineer"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("body = %#v, want %#v", got, want)
	}
}

func TestBuildRequestBodyWithoutRootPrefix(t *testing.T) {
	got := BuildRequestBody("work.department", "dep-1")
	want := map[string]any{"work": map[string]any{"department": "dep-1"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("body = %#v, want %#v", got, want)
	}
}

func TestBuildRequestBodyCustomFieldCollapse(t *testing.T) {
	got := BuildRequestBody("root.userData.custom.category_1.field_2", "v")
	want := map[string]any{
		"userData": map[string]any{
			"custom": map[string]any{"category_1.field_2": "v"},
		},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("body = %#v, want %#v", got, want)
	}
}

func TestBuildRequestBodySingleSegment(t *testing.T) {
	got := BuildRequestBody("root.email", "a@b.c")
	want := map[string]any{"email": "a@b.c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("body = %#v, want %#v", got, want)
	}
}

func TestFieldValueRoundTrip(t *testing.T) {
	paths := []string{
		"root.work.title",
		"root.userData.custom.category_1.field_2",
		"root.email",
	}
	for _, path := range paths {
		body := BuildRequestBody(path, "expected")
		if got := fieldValueFromRecord(body, path); got != "expected" {
			t.Errorf("path %s: read back %q, want %q", path, got, "expected")
		}
	}
}

func TestFieldValueAbsentPath(t *testing.T) {
	record := map[string]any{"work": map[string]any{"title": "Engineer"}}
	if got := fieldValueFromRecord(record, "root.work.department"); got != "" {
		t.Fatalf("absent path read back %q, want empty", got)
	}
	if got := fieldValueFromRecord(record, "root.work.title.deep"); got != "" {
		t.Fatalf("path through scalar read back %q, want empty", got)
	}
}
