package models

import "time"

const (
	BulkRunStatusQueued    = "queued"
	BulkRunStatusRunning   = "running"
	BulkRunStatusSuccess   = "success"
	BulkRunStatusFailed    = "failed"
	BulkRunStatusPartial   = "partial"
	BulkRunStatusCancelled = "cancelled"
)

const (
	BulkRunTriggeredManual    = "manual"
	BulkRunTriggeredRetry     = "retry"
	BulkRunTriggeredScheduler = "scheduler"
)

const (
	BulkRunKindFieldUpdate   = "field_update"
	BulkRunKindHistoryInsert = "history_insert"
)

// BulkRun is the durable history row for one batch run. Live progress
// (nextRowIndex, totals) lives in the property store and is owned by the
// orchestrator; this row is updated at chunk boundaries for reporting only.
type BulkRun struct {
	ID            uint       `gorm:"primary_key" json:"id"`
	Kind          string     `gorm:"size:20;not null" json:"kind"`
	TargetPath    string     `gorm:"size:255" json:"target_path"`
	HistoryTable  string     `gorm:"size:20" json:"history_table"`
	Status        string     `gorm:"index;size:20;not null" json:"status"`
	TriggeredBy   string     `gorm:"size:20" json:"triggered_by"`
	TotalRows     int        `json:"total_rows"`
	Completed     int        `json:"completed"`
	Skipped       int        `json:"skipped"`
	Failed        int        `json:"failed"`
	ParentRunId   *uint      `gorm:"index" json:"parent_run_id"`
	StartedAt     *time.Time `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	DurationMs    int64      `json:"duration_ms"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// BulkRunError is one row-scoped failure captured during a run.
type BulkRunError struct {
	ID         uint      `gorm:"primary_key" json:"id"`
	BulkRunId  uint      `gorm:"index;not null" json:"bulk_run_id"`
	RowIndex   int       `json:"row_index"`
	ExternalId string    `gorm:"size:128" json:"external_id"`
	HttpCode   int       `json:"http_code"`
	Message    string    `gorm:"type:text" json:"message"`
	Retryable  bool      `gorm:"default:false" json:"retryable"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}
