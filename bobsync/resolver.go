package bobsync

import (
	"strings"
)

// ListNameResolver is one strategy for deciding which named list backs a
// list-typed field. Strategies are tried in priority order; the chain is
// declarative so each step stays independently testable.
type ListNameResolver interface {
	Resolve(field FieldDescriptor) (string, bool)
}

// byMetadataListName uses the list name the platform metadata reports.
// Highest priority: it is the platform's own answer.
type byMetadataListName struct{}

func (byMetadataListName) Resolve(field FieldDescriptor) (string, bool) {
	if field.ListName != "" {
		return field.ListName, true
	}
	return "", false
}

// byFieldId maps well-known built-in field ids to their list names.
type byFieldId struct{}

var builtinFieldLists = map[string]string{
	"work.department":     "department",
	"work.site":           "site",
	"work.title":          "title",
	"payroll.employment":  "employmentType",
	"internal.status":     "status",
}

func (byFieldId) Resolve(field FieldDescriptor) (string, bool) {
	name, ok := builtinFieldLists[field.ID]
	return name, ok
}

// byCategoryPrefix derives a list name from the field's category for custom
// list fields, e.g. category "Training" + field "Course" -> "Training.Course".
type byCategoryPrefix struct{}

func (byCategoryPrefix) Resolve(field FieldDescriptor) (string, bool) {
	if field.Category == "" || field.Name == "" {
		return "", false
	}
	return field.Category + "." + field.Name, true
}

// byPathSuffix falls back to the final path segment.
type byPathSuffix struct{}

func (byPathSuffix) Resolve(field FieldDescriptor) (string, bool) {
	path := strings.TrimPrefix(field.Path, pathRootPrefix)
	segments := strings.Split(path, ".")
	last := segments[len(segments)-1]
	if last == "" {
		return "", false
	}
	return last, true
}

// DefaultListResolvers is the standardized fallback order: platform list
// name first, then built-in field id, then category prefix, then path
// suffix.
func DefaultListResolvers() []ListNameResolver {
	return []ListNameResolver{
		byMetadataListName{},
		byFieldId{},
		byCategoryPrefix{},
		byPathSuffix{},
	}
}

// ResolveListName runs the chain and fails with ConfigurationError when no
// strategy produces a name.
func ResolveListName(field FieldDescriptor, resolvers []ListNameResolver) (string, error) {
	for _, r := range resolvers {
		if name, ok := r.Resolve(field); ok {
			return name, nil
		}
	}
	return "", &ConfigurationError{Msg: "cannot determine list name for field " + field.Path}
}
