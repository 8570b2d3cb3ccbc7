package bobsync

import "strings"

const pathRootPrefix = "root."

// Custom fields live under userData.custom and must be addressed with one
// compound dotted key instead of deep nesting. Building them nested lands
// the write on the wrong field, silently.
const (
	customEnvelope = "userData"
	customBucket   = "custom"
)

// BuildRequestBody turns a dotted field path into the nested JSON body the
// update endpoint expects.
//
//	root.work.title                          -> {work: {title: v}}
//	root.userData.custom.category_1.field_2  -> {userData: {custom: {"category_1.field_2": v}}}
func BuildRequestBody(path string, value any) map[string]any {
	path = strings.TrimPrefix(path, pathRootPrefix)
	segments := strings.Split(path, ".")

	if len(segments) >= 3 && segments[0] == customEnvelope && segments[1] == customBucket {
		compound := strings.Join(segments[2:], ".")
		return map[string]any{
			customEnvelope: map[string]any{
				customBucket: map[string]any{compound: value},
			},
		}
	}

	body := map[string]any{segments[len(segments)-1]: value}
	for i := len(segments) - 2; i >= 0; i-- {
		body = map[string]any{segments[i]: body}
	}
	return body
}

// fieldValueFromRecord walks a decoded employee record along the same path
// convention, for post-write verification. Returns "" when any segment is
// absent.
func fieldValueFromRecord(record map[string]any, path string) string {
	path = strings.TrimPrefix(path, pathRootPrefix)
	segments := strings.Split(path, ".")

	if len(segments) >= 3 && segments[0] == customEnvelope && segments[1] == customBucket {
		segments = []string{customEnvelope, customBucket, strings.Join(segments[2:], ".")}
	}

	var current any = record
	for _, seg := range segments {
		m, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current, ok = m[seg]
		if !ok {
			return ""
		}
	}
	return stringifyCell(current)
}
