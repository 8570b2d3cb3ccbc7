package bobsync

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// History staging sheets. Column 1 is always ExternalId; the listed data
// columns follow, then the shared result columns.
const (
	SheetSalary   = "Salary"
	SheetWork     = "Work"
	SheetVariable = "Variable"
	SheetEquity   = "Equity"
)

// HistoryTable describes one employee history table variant: where its
// staged rows live, which endpoint they post to, and how a row becomes a
// request payload. BuildPayload also returns the effective date used for
// duplicate detection.
type HistoryTable struct {
	Name         string
	Endpoint     string
	Sheet        string
	Columns      []string
	BuildPayload func(cells []string) (map[string]any, string, error)
}

var historyTables = map[string]HistoryTable{
	"salaries": {
		Name:         "salaries",
		Endpoint:     "salaries",
		Sheet:        SheetSalary,
		Columns:      []string{"EffectiveDate", "BaseAmount", "Currency", "PayPeriod", "Reason"},
		BuildPayload: buildSalaryPayload,
	},
	"work": {
		Name:         "work",
		Endpoint:     "work",
		Sheet:        SheetWork,
		Columns:      []string{"EffectiveDate", "Title", "Department", "Site", "Reason"},
		BuildPayload: buildWorkPayload,
	},
	"variable": {
		Name:         "variable",
		Endpoint:     "variable",
		Sheet:        SheetVariable,
		Columns:      []string{"EffectiveDate", "Amount", "Currency", "VariableType", "PaymentPeriod"},
		BuildPayload: buildVariablePayload,
	},
	"equities": {
		Name:         "equities",
		Endpoint:     "equities",
		Sheet:        SheetEquity,
		Columns:      []string{"EffectiveDate", "Quantity", "EquityType", "Reason"},
		BuildPayload: buildEquityPayload,
	},
}

func HistoryTableByName(name string) (HistoryTable, error) {
	table, ok := historyTables[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		known := make([]string, 0, len(historyTables))
		for n := range historyTables {
			known = append(known, n)
		}
		return HistoryTable{}, &ConfigurationError{
			Msg: fmt.Sprintf("unknown history table %q (known: %s)", name, strings.Join(known, ", ")),
		}
	}
	return table, nil
}

func buildSalaryPayload(cells []string) (map[string]any, string, error) {
	effDate := historyCell(cells, 0)
	if effDate == "" {
		return nil, "", fmt.Errorf("missing effective date")
	}
	amount, err := decimal.NewFromString(historyCell(cells, 1))
	if err != nil {
		return nil, "", fmt.Errorf("invalid base amount %q", historyCell(cells, 1))
	}
	currency := historyCell(cells, 2)
	if currency == "" {
		return nil, "", fmt.Errorf("missing currency")
	}
	payload := map[string]any{
		"effectiveDate": effDate,
		"base": map[string]any{
			"value":    amount,
			"currency": currency,
		},
	}
	if period := historyCell(cells, 3); period != "" {
		payload["payPeriod"] = period
	}
	if reason := historyCell(cells, 4); reason != "" {
		payload["reason"] = reason
	}
	return payload, effDate, nil
}

func buildWorkPayload(cells []string) (map[string]any, string, error) {
	effDate := historyCell(cells, 0)
	if effDate == "" {
		return nil, "", fmt.Errorf("missing effective date")
	}
	payload := map[string]any{"effectiveDate": effDate}
	if title := historyCell(cells, 1); title != "" {
		payload["title"] = title
	}
	if department := historyCell(cells, 2); department != "" {
		payload["department"] = department
	}
	if site := historyCell(cells, 3); site != "" {
		payload["site"] = site
	}
	if reason := historyCell(cells, 4); reason != "" {
		payload["reason"] = reason
	}
	if len(payload) == 1 {
		return nil, "", fmt.Errorf("work entry has no data besides effective date")
	}
	return payload, effDate, nil
}

func buildVariablePayload(cells []string) (map[string]any, string, error) {
	effDate := historyCell(cells, 0)
	if effDate == "" {
		return nil, "", fmt.Errorf("missing effective date")
	}
	amount, err := decimal.NewFromString(historyCell(cells, 1))
	if err != nil {
		return nil, "", fmt.Errorf("invalid amount %q", historyCell(cells, 1))
	}
	currency := historyCell(cells, 2)
	if currency == "" {
		return nil, "", fmt.Errorf("missing currency")
	}
	payload := map[string]any{
		"effectiveDate": effDate,
		"amount": map[string]any{
			"value":    amount,
			"currency": currency,
		},
	}
	if vtype := historyCell(cells, 3); vtype != "" {
		payload["variableType"] = vtype
	}
	if period := historyCell(cells, 4); period != "" {
		payload["paymentPeriod"] = period
	}
	return payload, effDate, nil
}

func buildEquityPayload(cells []string) (map[string]any, string, error) {
	effDate := historyCell(cells, 0)
	if effDate == "" {
		return nil, "", fmt.Errorf("missing effective date")
	}
	quantity, err := decimal.NewFromString(historyCell(cells, 1))
	if err != nil {
		return nil, "", fmt.Errorf("invalid quantity %q", historyCell(cells, 1))
	}
	payload := map[string]any{
		"effectiveDate": effDate,
		"quantity":      quantity,
	}
	if etype := historyCell(cells, 2); etype != "" {
		payload["equityType"] = etype
	}
	if reason := historyCell(cells, 3); reason != "" {
		payload["reason"] = reason
	}
	return payload, effDate, nil
}

func historyCell(cells []string, i int) string {
	if i >= len(cells) {
		return ""
	}
	return normalizeCell(cells[i])
}

// historyAPI is the slice of the HiBob client the history-insert path needs.
type historyAPI interface {
	SearchEmployeeByExternalId(ctx context.Context, externalId string) (string, error)
	FetchHistoryEntries(ctx context.Context, internalId string, endpoint string) ([]map[string]any, error)
	InsertHistoryEntry(ctx context.Context, internalId string, endpoint string, payload map[string]any) (int, []byte, error)
}

// HistoryInsertHandler appends staged rows to one employee history table.
// An entry whose effective date already exists remotely is skipped rather
// than inserted twice; the API has no 304 on these endpoints, so the
// duplicate check happens client side.
type HistoryInsertHandler struct {
	API   historyAPI
	Index *LookupIndex
	Table HistoryTable

	idByExtern map[string]string
}

func (h *HistoryInsertHandler) Prepare(ctx context.Context, state *BatchState) error {
	table, err := HistoryTableByName(state.HistoryTable)
	if err != nil {
		return err
	}
	h.Table = table

	idByExtern, err := h.Index.ExternalToInternal()
	if err != nil {
		return err
	}
	h.idByExtern = idByExtern
	return nil
}

func (h *HistoryInsertHandler) ProcessRow(ctx context.Context, row *StagedRow) {
	row.Status = RowStatusProcessing
	row.HttpCode = 0
	row.ErrorText = ""
	row.VerifiedValue = ""
	row.Retryable = false

	if strings.TrimSpace(row.ExternalId) == "" {
		row.Status = RowStatusFailed
		row.ErrorText = "missing external id"
		return
	}

	internalId, ok := h.idByExtern[strings.TrimSpace(row.ExternalId)]
	if !ok {
		var err error
		internalId, err = h.API.SearchEmployeeByExternalId(ctx, strings.TrimSpace(row.ExternalId))
		if err != nil {
			failRow(row, err)
			return
		}
	}
	if internalId == "" {
		row.Status = RowStatusFailed
		row.ErrorText = "remote record not found"
		return
	}
	row.InternalId = internalId

	payload, effDate, err := h.Table.BuildPayload(row.Cells)
	if err != nil {
		row.Status = RowStatusFailed
		row.ErrorText = err.Error()
		return
	}

	existing, err := h.API.FetchHistoryEntries(ctx, internalId, h.Table.Endpoint)
	if err != nil {
		failRow(row, err)
		return
	}
	for _, entry := range existing {
		if stringifyCell(entry["effectiveDate"]) == effDate {
			row.Status = RowStatusSkip
			row.ErrorText = "already correct"
			row.VerifiedValue = effDate
			return
		}
	}

	status, respBody, err := h.API.InsertHistoryEntry(ctx, internalId, h.Table.Endpoint, payload)
	if err != nil {
		failRow(row, err)
		return
	}
	classifyRowResult(row, status, respBody)

	if row.Status == RowStatusCompleted {
		h.verifyRow(ctx, row, effDate)
	}
}

// verifyRow confirms the inserted effective date reads back; failures leave
// the verified column empty.
func (h *HistoryInsertHandler) verifyRow(ctx context.Context, row *StagedRow, effDate string) {
	entries, err := h.API.FetchHistoryEntries(ctx, row.InternalId, h.Table.Endpoint)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if stringifyCell(entry["effectiveDate"]) == effDate {
			row.VerifiedValue = effDate
			return
		}
	}
}
