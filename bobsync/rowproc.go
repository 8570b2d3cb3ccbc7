package bobsync

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/mmdatafocus/bobsync_backend/utils"
)

// employeeAPI is the slice of the HiBob client the field-update path needs.
type employeeAPI interface {
	SearchEmployeeByExternalId(ctx context.Context, externalId string) (string, error)
	UpdateEmployeeField(ctx context.Context, internalId string, body map[string]any) (int, []byte, error)
	GetEmployee(ctx context.Context, internalId string) (map[string]any, error)
}

// RowHandler processes one staged row per call. Prepare runs once per
// chunk before the row loop; ProcessRow mutates the row in place and
// never returns an error, failures land in the row's status columns.
type RowHandler interface {
	Prepare(ctx context.Context, state *BatchState) error
	ProcessRow(ctx context.Context, row *StagedRow)
}

// FieldUpdateHandler pushes one sheet column into a single employee field.
type FieldUpdateHandler struct {
	API    employeeAPI
	Index  *LookupIndex
	Mapper *ValueMapper
	Verify bool

	field      FieldDescriptor
	listName   string
	labelById  map[string]string
	idByExtern map[string]string
}

func (h *FieldUpdateHandler) Prepare(ctx context.Context, state *BatchState) error {
	field, err := h.Index.FieldByPath(state.TargetPath)
	if err != nil {
		return err
	}
	if field.Calculated {
		return &ConfigurationError{Msg: "field " + field.Path + " is calculated and cannot be written"}
	}
	h.field = field

	if isListField(field) {
		listName, err := ResolveListName(field, DefaultListResolvers())
		if err != nil {
			return err
		}
		h.listName = listName
		h.labelById, err = h.Index.ListIdToLabel(listName)
		if err != nil {
			return err
		}
	}

	idByExtern, err := h.Index.ExternalToInternal()
	if err != nil {
		return err
	}
	h.idByExtern = idByExtern
	return nil
}

func (h *FieldUpdateHandler) ProcessRow(ctx context.Context, row *StagedRow) {
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

	internalId, err := h.resolveInternalId(ctx, row)
	if err != nil {
		failRow(row, err)
		return
	}
	if internalId == "" {
		row.Status = RowStatusFailed
		row.ErrorText = "remote record not found"
		return
	}
	row.InternalId = internalId

	value, err := h.resolveValue(ctx, row.RawValue)
	if err != nil {
		failRow(row, err)
		return
	}

	body := BuildRequestBody(h.field.Path, value)
	status, respBody, err := h.API.UpdateEmployeeField(ctx, internalId, body)
	if err != nil {
		failRow(row, err)
		return
	}
	classifyRowResult(row, status, respBody)

	// A 304 skip gets the same read-back as a write: the column then shows
	// the value the remote already held.
	if (row.Status == RowStatusCompleted || row.Status == RowStatusSkip) && h.Verify {
		h.verifyRow(ctx, row)
	}
}

func (h *FieldUpdateHandler) resolveInternalId(ctx context.Context, row *StagedRow) (string, error) {
	if id, ok := h.idByExtern[strings.TrimSpace(row.ExternalId)]; ok {
		return id, nil
	}
	// Roster snapshot miss, fall back to a live search.
	return h.API.SearchEmployeeByExternalId(ctx, strings.TrimSpace(row.ExternalId))
}

// resolveValue maps list-field labels to value ids; plain fields pass
// through untouched.
func (h *FieldUpdateHandler) resolveValue(ctx context.Context, raw string) (any, error) {
	if h.listName == "" {
		return raw, nil
	}
	return h.Mapper.Resolve(ctx, raw, h.listName)
}

// verifyRow is best effort: a read-back failure never flips the row's
// status, the verified column just stays empty.
func (h *FieldUpdateHandler) verifyRow(ctx context.Context, row *StagedRow) {
	record, err := h.API.GetEmployee(ctx, row.InternalId)
	if err != nil {
		return
	}
	verified := fieldValueFromRecord(record, h.field.Path)
	if label, ok := h.labelById[verified]; ok {
		verified = label
	}
	row.VerifiedValue = verified
}

func isListField(field FieldDescriptor) bool {
	t := strings.ToLower(field.Type)
	return t == "list" || t == "multi-list" || t == "hierarchy-list"
}

// classifyRowResult maps an HTTP status to the row outcome. 304 means the
// remote value already matches and counts as a skip, not a failure.
func classifyRowResult(row *StagedRow, status int, body []byte) {
	row.HttpCode = status
	switch {
	case status >= 200 && status < 300:
		row.Status = RowStatusCompleted
	case status == http.StatusNotModified:
		row.Status = RowStatusSkip
		row.ErrorText = "already correct"
	case status == http.StatusNotFound:
		row.Status = RowStatusFailed
		row.ErrorText = "remote record not found"
	default:
		row.Status = RowStatusFailed
		row.ErrorText = utils.Truncate(strings.TrimSpace(string(body)), errorTextLimit)
		row.Retryable = status == http.StatusTooManyRequests || status >= 500
	}
}

// failRow records a pre-request or transport failure. Only transient
// network problems are marked retryable; data and lookup errors will fail
// the same way next time.
func failRow(row *StagedRow, err error) {
	row.Status = RowStatusFailed
	var transient *TransientNetworkError
	if errors.As(err, &transient) {
		row.HttpCode = transient.StatusCode
		row.Retryable = true
	}
	var unexpected *UnexpectedResponseError
	if errors.As(err, &unexpected) {
		row.HttpCode = unexpected.StatusCode
	}
	row.ErrorText = utils.Truncate(err.Error(), errorTextLimit)
}
