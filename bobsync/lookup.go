package bobsync

import (
	"fmt"
	"strings"

	"github.com/mmdatafocus/bobsync_backend/sheet"
)

// LookupIndex builds in-memory maps from the current reference sheets. Maps
// are rebuilt on every call, never cached: correctness over staleness. All
// builders are deterministic for a given snapshot.
type LookupIndex struct {
	Sheets sheet.Store
}

// Roster sheet header names (row 1). Matching is case-insensitive.
const (
	headerInternalId = "internalid"
	headerExternalId = "externalid"
)

// Lists sheet headers.
const (
	headerListName   = "listname"
	headerValueId    = "valueid"
	headerValueLabel = "valuelabel"
)

// ExternalToInternal maps the caller-side employee id to the platform id.
// Duplicate external ids silently overwrite, last wins. A missing sheet or
// missing header columns yields an empty map; callers that cannot proceed
// without it raise ConfigurationError themselves.
func (ix *LookupIndex) ExternalToInternal() (map[string]string, error) {
	rows, err := ix.Sheets.ReadRows(SheetRoster)
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	if len(rows) == 0 {
		return out, nil
	}

	extCol, intCol := -1, -1
	for i, h := range rows[0] {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case headerExternalId:
			extCol = i
		case headerInternalId:
			intCol = i
		}
	}
	if extCol < 0 || intCol < 0 {
		return out, nil
	}

	for _, row := range rows[1:] {
		ext := normalizeCell(cellAt(row, extCol))
		internal := normalizeCell(cellAt(row, intCol))
		if ext == "" || internal == "" {
			continue
		}
		out[ext] = internal
	}
	return out, nil
}

// ListLabelToId maps display labels of one named list to value ids. Keys
// include both the original label and its lowercased form so callers get
// case-insensitive fallback from the same map. Labels are not unique per
// list; the first sheet row wins for a duplicate label, which keeps
// resolution deterministic.
func (ix *LookupIndex) ListLabelToId(listName string) (map[string]string, error) {
	entries, err := ix.listEntries(listName)
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	for _, e := range entries {
		if _, dup := out[e.ValueLabel]; !dup {
			out[e.ValueLabel] = e.ValueId
		}
		lower := strings.ToLower(e.ValueLabel)
		if _, dup := out[lower]; !dup {
			out[lower] = e.ValueId
		}
	}
	return out, nil
}

// ListIdToLabel is the reverse map, used to render verified values.
func (ix *LookupIndex) ListIdToLabel(listName string) (map[string]string, error) {
	entries, err := ix.listEntries(listName)
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	for _, e := range entries {
		out[e.ValueId] = e.ValueLabel
	}
	return out, nil
}

// ListLabels returns the labels of one list in sheet order, for diagnostics.
func (ix *LookupIndex) ListLabels(listName string) ([]string, error) {
	entries, err := ix.listEntries(listName)
	if err != nil {
		return nil, err
	}
	labels := make([]string, 0, len(entries))
	for _, e := range entries {
		labels = append(labels, e.ValueLabel)
	}
	return labels, nil
}

func (ix *LookupIndex) listEntries(listName string) ([]ListEntry, error) {
	rows, err := ix.Sheets.ReadRows(SheetLists)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	nameCol, idCol, labelCol := -1, -1, -1
	for i, h := range rows[0] {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case headerListName:
			nameCol = i
		case headerValueId:
			idCol = i
		case headerValueLabel:
			labelCol = i
		}
	}
	if nameCol < 0 || idCol < 0 || labelCol < 0 {
		return nil, nil
	}

	var entries []ListEntry
	for _, row := range rows[1:] {
		if !strings.EqualFold(normalizeCell(cellAt(row, nameCol)), listName) {
			continue
		}
		id := normalizeCell(cellAt(row, idCol))
		label := normalizeCell(cellAt(row, labelCol))
		if id == "" || label == "" {
			continue
		}
		entries = append(entries, ListEntry{ListName: listName, ValueId: id, ValueLabel: label})
	}
	return entries, nil
}

// FieldByPath finds the field descriptor for a dotted path in the Fields
// sheet. Required for every run; a missing descriptor is a configuration
// problem, not a row problem.
func (ix *LookupIndex) FieldByPath(path string) (FieldDescriptor, error) {
	rows, err := ix.Sheets.ReadRows(SheetFields)
	if err != nil {
		return FieldDescriptor{}, err
	}
	if len(rows) < 2 {
		return FieldDescriptor{}, &ConfigurationError{Msg: "Fields sheet is empty; refresh field metadata first"}
	}

	cols := map[string]int{}
	for i, h := range rows[0] {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	pathCol, ok := cols["path"]
	if !ok {
		return FieldDescriptor{}, &ConfigurationError{Msg: "Fields sheet is missing the Path header"}
	}

	for _, row := range rows[1:] {
		if normalizeCell(cellAt(row, pathCol)) != path {
			continue
		}
		get := func(name string) string {
			i, ok := cols[name]
			if !ok {
				return ""
			}
			return normalizeCell(cellAt(row, i))
		}
		return FieldDescriptor{
			ID:         get("id"),
			Name:       get("name"),
			Path:       path,
			Category:   get("category"),
			Type:       get("type"),
			Calculated: strings.EqualFold(get("calculated"), "true"),
			ListName:   get("listname"),
		}, nil
	}
	return FieldDescriptor{}, &ConfigurationError{Msg: fmt.Sprintf("field %q not found in Fields sheet", path)}
}

func cellAt(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

// normalizeCell treats blank and the literal "null" as empty.
func normalizeCell(s string) string {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "null") {
		return ""
	}
	return s
}

func stringifyCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", val), "0"), ".")
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", val)
	}
}
