package bobsync

import (
	"context"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
)

type fakeHistoryAPI struct {
	existing   []map[string]any
	inserted   []map[string]any
	insertCode int
}

func (f *fakeHistoryAPI) SearchEmployeeByExternalId(_ context.Context, _ string) (string, error) {
	return "", nil
}

func (f *fakeHistoryAPI) FetchHistoryEntries(_ context.Context, _ string, _ string) ([]map[string]any, error) {
	entries := append([]map[string]any(nil), f.existing...)
	for _, ins := range f.inserted {
		entries = append(entries, ins)
	}
	return entries, nil
}

func (f *fakeHistoryAPI) InsertHistoryEntry(_ context.Context, _ string, _ string, payload map[string]any) (int, []byte, error) {
	code := f.insertCode
	if code == 0 {
		code = http.StatusOK
	}
	if code >= 200 && code < 300 {
		f.inserted = append(f.inserted, payload)
	}
	return code, nil, nil
}

func newHistoryHandler(t *testing.T, api *fakeHistoryAPI, table string) *HistoryInsertHandler {
	t.Helper()
	handler := &HistoryInsertHandler{API: api, Index: &LookupIndex{Sheets: rosterSheet()}}
	state := &BatchState{Kind: "history_insert", HistoryTable: table}
	if err := handler.Prepare(context.Background(), state); err != nil {
		t.Fatal(err)
	}
	return handler
}

func TestHistoryTableByNameUnknown(t *testing.T) {
	if _, err := HistoryTableByName("bonuses"); err == nil {
		t.Fatal("want error for unknown table")
	}
	if _, err := HistoryTableByName(" Salaries "); err != nil {
		t.Fatalf("case/space normalisation failed: %v", err)
	}
}

func TestSalaryPayload(t *testing.T) {
	payload, effDate, err := buildSalaryPayload([]string{"2026-01-01", "75000.50", "EUR", "annual", "merit"})
	if err != nil {
		t.Fatal(err)
	}
	if effDate != "2026-01-01" {
		t.Fatalf("effective date = %q", effDate)
	}
	base := payload["base"].(map[string]any)
	amount := base["value"].(decimal.Decimal)
	if !amount.Equal(decimal.RequireFromString("75000.50")) {
		t.Fatalf("amount = %s", amount)
	}
	if base["currency"] != "EUR" || payload["payPeriod"] != "annual" || payload["reason"] != "merit" {
		t.Fatalf("payload = %#v", payload)
	}
}

func TestSalaryPayloadRejectsBadAmount(t *testing.T) {
	if _, _, err := buildSalaryPayload([]string{"2026-01-01", "not-a-number", "EUR"}); err == nil {
		t.Fatal("want error for unparseable amount")
	}
	if _, _, err := buildSalaryPayload([]string{"", "100", "EUR"}); err == nil {
		t.Fatal("want error for missing effective date")
	}
	if _, _, err := buildSalaryPayload([]string{"2026-01-01", "100", ""}); err == nil {
		t.Fatal("want error for missing currency")
	}
}

func TestWorkPayloadNeedsData(t *testing.T) {
	if _, _, err := buildWorkPayload([]string{"2026-01-01"}); err == nil {
		t.Fatal("want error for effective date only")
	}
	payload, _, err := buildWorkPayload([]string{"2026-01-01", "Engineer", "", "Berlin"})
	if err != nil {
		t.Fatal(err)
	}
	if payload["title"] != "Engineer" || payload["site"] != "Berlin" {
		t.Fatalf("payload = %#v", payload)
	}
	if _, ok := payload["department"]; ok {
		t.Error("blank column must be omitted")
	}
}

func TestHistoryInsertDuplicateEffectiveDateSkips(t *testing.T) {
	api := &fakeHistoryAPI{existing: []map[string]any{{"effectiveDate": "2026-01-01"}}}
	handler := newHistoryHandler(t, api, "salaries")

	row := StagedRow{RowIndex: 2, ExternalId: "E-1", Cells: []string{"2026-01-01", "100", "EUR"}}
	handler.ProcessRow(context.Background(), &row)

	if row.Status != RowStatusSkip {
		t.Fatalf("status = %s (%s), want SKIP", row.Status, row.ErrorText)
	}
	if len(api.inserted) != 0 {
		t.Fatal("duplicate date must not be inserted")
	}
}

func TestHistoryInsertCompletesAndVerifies(t *testing.T) {
	api := &fakeHistoryAPI{}
	handler := newHistoryHandler(t, api, "salaries")

	row := StagedRow{RowIndex: 2, ExternalId: "E-1", Cells: []string{"2026-02-01", "100", "EUR"}}
	handler.ProcessRow(context.Background(), &row)

	if row.Status != RowStatusCompleted {
		t.Fatalf("status = %s (%s), want COMPLETED", row.Status, row.ErrorText)
	}
	if len(api.inserted) != 1 {
		t.Fatalf("inserted = %d, want 1", len(api.inserted))
	}
	if row.VerifiedValue != "2026-02-01" {
		t.Fatalf("verified = %q, want effective date", row.VerifiedValue)
	}
	if row.InternalId != "1001" {
		t.Fatalf("internal id = %q, want from roster", row.InternalId)
	}
}

func TestHistoryInsertBadRowFailsLocally(t *testing.T) {
	api := &fakeHistoryAPI{}
	handler := newHistoryHandler(t, api, "salaries")

	row := StagedRow{RowIndex: 2, ExternalId: "E-1", Cells: []string{"2026-02-01", "oops", "EUR"}}
	handler.ProcessRow(context.Background(), &row)

	if row.Status != RowStatusFailed {
		t.Fatalf("status = %s, want FAILED", row.Status)
	}
	if len(api.inserted) != 0 {
		t.Fatal("invalid row must not be inserted")
	}
}
