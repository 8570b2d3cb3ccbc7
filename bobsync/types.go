package bobsync

import (
	"encoding/json"
	"time"
)

// Sheet names of the workbook. Reference sheets are replaced wholesale on
// refresh; the staging sheets are written per row during a run.
const (
	SheetFields  = "Fields"
	SheetLists   = "Lists"
	SheetRoster  = "Roster"
	SheetStaging = "Staging"
)

// Staging sheet columns (1-based).
const (
	ColExternalId = 1
	ColRawValue   = 2
	ColInternalId = 3
	ColStatus     = 4
	ColHttpCode   = 5
	ColError      = 6
	ColVerified   = 7
)

const (
	RowStatusPending    = "PENDING"
	RowStatusProcessing = "PROCESSING"
	RowStatusCompleted  = "COMPLETED"
	RowStatusSkip       = "SKIP"
	RowStatusFailed     = "FAILED"
)

// errorTextLimit bounds the stored error excerpt per row.
const errorTextLimit = 200

type FieldDescriptor struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Path       string `json:"path"`
	Category   string `json:"category"`
	Type       string `json:"type"`
	Calculated bool   `json:"calculated"`
	ListName   string `json:"listName"`
}

type ListEntry struct {
	ListName   string `json:"listName"`
	ValueId    string `json:"valueId"`
	ValueLabel string `json:"valueLabel"`
}

type EmployeeRecord struct {
	InternalId     string `json:"internalId"`
	ExternalId     string `json:"externalId"`
	DisplayName    string `json:"displayName"`
	Site           string `json:"site"`
	Location       string `json:"location"`
	Status         string `json:"status"`
	EmploymentType string `json:"employmentType"`
	HireDate       string `json:"hireDate"`
}

// StagedRow is one staging-sheet row plus its result columns. RowIndex is
// the 1-based sheet row it came from.
type StagedRow struct {
	RowIndex      int
	ExternalId    string
	RawValue      string
	Cells         []string // data cells after ExternalId, for history inserts
	InternalId    string
	Status        string
	HttpCode      int
	ErrorText     string
	VerifiedValue string

	// Retryable is derived during processing and recorded with the run
	// error; it is not a sheet column.
	Retryable bool
}

const (
	RunModeAll         = "all"
	RunModeRetryFailed = "retry_failed"
)

type BatchTotals struct {
	Completed int `json:"completed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// BatchState is the sole durable cross-invocation state of a run, stored as
// one JSON property. Owned exclusively by the orchestrator; NextRowIndex is
// monotonically non-decreasing and never exceeds TotalRows+1 (both sheet row
// numbers, data starting at row 2).
type BatchState struct {
	RunId          uint        `json:"run_id"`
	Kind           string      `json:"kind"` // models.BulkRunKind*
	TargetPath     string      `json:"target_path"`
	HistoryTable   string      `json:"history_table"`
	Mode           string      `json:"mode"`
	NextRowIndex   int         `json:"next_row_index"`
	TotalRows      int         `json:"total_rows"`
	StartedAt      time.Time   `json:"started_at"`
	LastProgressAt time.Time   `json:"last_progress_at"`
	Totals         BatchTotals `json:"totals"`
}

func DecodeBatchState(raw string) (BatchState, bool) {
	if raw == "" {
		return BatchState{}, false
	}
	var state BatchState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return BatchState{}, false
	}
	return state, true
}

func EncodeBatchState(state BatchState) string {
	b, _ := json.Marshal(state)
	return string(b)
}

// HiBob API response shapes (only what the core reads).

type namedListResponse struct {
	Name   string           `json:"name"`
	Values []namedListValue `json:"values"`
}

type namedListValue struct {
	ID       json.Number      `json:"id"`
	Value    string           `json:"value"`
	Name     string           `json:"name"`
	Archived bool             `json:"archived"`
	Children []namedListValue `json:"children"`
}

type fieldsMetadataResponse []fieldMetadata

type fieldMetadata struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	JsonPath string `json:"jsonPath"`
	Type     string `json:"type"`
	TypeData struct {
		ListName string `json:"listName"`
	} `json:"typeData"`
	Calculated bool `json:"calculated"`
}

// HTTP request/response DTOs of the service surface.

type ConnectRequest struct {
	ServiceUserId string `json:"serviceUserId" binding:"required"`
	Token         string `json:"token" binding:"required"`
}

type StartBulkUpdateRequest struct {
	FieldPath string `json:"fieldPath" binding:"required"`
}

type StatusResponse struct {
	Connected   bool         `json:"connected"`
	ActiveBatch *ActiveBatch `json:"activeBatch"`
}

type ActiveBatch struct {
	RunId          uint        `json:"runId"`
	Kind           string      `json:"kind"`
	TargetPath     string      `json:"targetPath,omitempty"`
	HistoryTable   string      `json:"historyTable,omitempty"`
	NextRowIndex   int         `json:"nextRowIndex"`
	TotalRows      int         `json:"totalRows"`
	Totals         BatchTotals `json:"totals"`
	StartedAt      string      `json:"startedAt"`
	LastProgressAt string      `json:"lastProgressAt"`
}

type RunResponse struct {
	ID           uint    `json:"id"`
	Kind         string  `json:"kind"`
	TargetPath   string  `json:"targetPath,omitempty"`
	HistoryTable string  `json:"historyTable,omitempty"`
	Status       string  `json:"status"`
	TriggeredBy  string  `json:"triggeredBy"`
	TotalRows    int     `json:"totalRows"`
	Completed    int     `json:"completed"`
	Skipped      int     `json:"skipped"`
	Failed       int     `json:"failed"`
	StartedAt    *string `json:"startedAt"`
	FinishedAt   *string `json:"finishedAt"`
	DurationMs   int64   `json:"durationMs"`
}

type RunErrorResponse struct {
	ID         uint   `json:"id"`
	RowIndex   int    `json:"rowIndex"`
	ExternalId string `json:"externalId"`
	HttpCode   int    `json:"httpCode"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
}

type RunDetailResponse struct {
	RunResponse
	Errors []RunErrorResponse `json:"errors"`
}

type ChunkPubSubPayload struct {
	RunId uint `json:"run_id"`
}

type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}
