package bobsync

import (
	"errors"
	"testing"
)

func rosterSheet() *memSheets {
	sheets := newMemSheets()
	sheets.ReplaceRows(SheetRoster, [][]string{
		{"InternalId", "ExternalId", "DisplayName"},
		{"1001", "E-1", "Alice"},
		{"1002", "E-2", "Bob"},
		{"1003", "E-2", "Duplicate wins"},
		{"", "E-3", "No internal id"},
	})
	sheets.ReplaceRows(SheetLists, [][]string{
		{"ListName", "ValueId", "ValueLabel"},
		{"department", "10", "Engineering"},
		{"department", "11", "Sales"},
		{"department", "12", "Engineering"},
		{"site", "20", "Berlin"},
	})
	sheets.ReplaceRows(SheetFields, [][]string{
		{"Id", "Name", "Path", "Category", "Type", "Calculated", "ListName"},
		{"work.department", "Department", "root.work.department", "work", "list", "false", "department"},
		{"work.title", "Title", "root.work.title", "work", "text", "false", ""},
		{"payroll.total", "Total", "root.payroll.total", "payroll", "number", "true", ""},
	})
	return sheets
}

func TestExternalToInternal(t *testing.T) {
	index := &LookupIndex{Sheets: rosterSheet()}
	m, err := index.ExternalToInternal()
	if err != nil {
		t.Fatal(err)
	}
	if m["E-1"] != "1001" {
		t.Errorf("E-1 = %q, want 1001", m["E-1"])
	}
	if m["E-2"] != "1003" {
		t.Errorf("duplicate external id: E-2 = %q, want last row 1003", m["E-2"])
	}
	if _, ok := m["E-3"]; ok {
		t.Error("row without internal id must be excluded")
	}
}

func TestExternalToInternalMissingSheet(t *testing.T) {
	index := &LookupIndex{Sheets: newMemSheets()}
	m, err := index.ExternalToInternal()
	if err != nil {
		t.Fatal(err)
	}
	if len(m) != 0 {
		t.Fatalf("missing sheet: got %d entries, want 0", len(m))
	}
}

func TestListLabelToIdFirstMatchWins(t *testing.T) {
	index := &LookupIndex{Sheets: rosterSheet()}
	m, err := index.ListLabelToId("department")
	if err != nil {
		t.Fatal(err)
	}
	if m["Engineering"] != "10" {
		t.Errorf("duplicate label: Engineering = %q, want first row 10", m["Engineering"])
	}
	if m["engineering"] != "10" {
		t.Errorf("lowercased key: engineering = %q, want 10", m["engineering"])
	}
	if _, ok := m["Berlin"]; ok {
		t.Error("entry of another list must not leak in")
	}
}

func TestListIdToLabel(t *testing.T) {
	index := &LookupIndex{Sheets: rosterSheet()}
	m, err := index.ListIdToLabel("department")
	if err != nil {
		t.Fatal(err)
	}
	if m["10"] != "Engineering" || m["11"] != "Sales" {
		t.Fatalf("reverse map = %v", m)
	}
	if _, ok := m["20"]; ok {
		t.Error("entry of another list must not leak in")
	}
}

func TestFieldByPath(t *testing.T) {
	index := &LookupIndex{Sheets: rosterSheet()}

	field, err := index.FieldByPath("root.work.department")
	if err != nil {
		t.Fatal(err)
	}
	if field.Type != "list" || field.ListName != "department" {
		t.Fatalf("descriptor = %+v", field)
	}

	calculated, err := index.FieldByPath("root.payroll.total")
	if err != nil {
		t.Fatal(err)
	}
	if !calculated.Calculated {
		t.Error("calculated flag not parsed")
	}

	_, err = index.FieldByPath("root.no.such")
	var confErr *ConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("unknown path: err = %v, want ConfigurationError", err)
	}
}

func TestFieldByPathEmptySheet(t *testing.T) {
	index := &LookupIndex{Sheets: newMemSheets()}
	_, err := index.FieldByPath("root.work.title")
	var confErr *ConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("empty Fields sheet: err = %v, want ConfigurationError", err)
	}
}
