package bobsync

import (
	"context"
	"strconv"
	"time"

	"github.com/mmdatafocus/bobsync_backend/config"
	"github.com/mmdatafocus/bobsync_backend/models"
	"github.com/mmdatafocus/bobsync_backend/sheet"
)

// Scheduler arranges the next chunk invocation after the current one
// persists its progress.
type Scheduler interface {
	ScheduleNext(ctx context.Context, runId uint) error
}

// sheetLayout maps a staging sheet's columns. Column 1 is ExternalId,
// dataCols data columns follow, then the five result columns.
type sheetLayout struct {
	sheet    string
	dataCols int
}

func (l sheetLayout) colInternalId() int { return ColExternalId + l.dataCols + 1 }
func (l sheetLayout) colStatus() int     { return l.colInternalId() + 1 }
func (l sheetLayout) colHttpCode() int   { return l.colInternalId() + 2 }
func (l sheetLayout) colError() int      { return l.colInternalId() + 3 }
func (l sheetLayout) colVerified() int   { return l.colInternalId() + 4 }

func layoutForState(state *BatchState) (sheetLayout, error) {
	switch state.Kind {
	case models.BulkRunKindFieldUpdate:
		return sheetLayout{sheet: SheetStaging, dataCols: 1}, nil
	case models.BulkRunKindHistoryInsert:
		table, err := HistoryTableByName(state.HistoryTable)
		if err != nil {
			return sheetLayout{}, err
		}
		return sheetLayout{sheet: table.Sheet, dataCols: len(table.Columns)}, nil
	default:
		return sheetLayout{}, &ConfigurationError{Msg: "unknown run kind " + state.Kind}
	}
}

// Orchestrator owns the batch state machine. One chunk at a time, state
// persisted after every chunk, progress resumable from NextRowIndex after
// any interruption.
type Orchestrator struct {
	Store      PropertyStore
	Lock       Locker
	Sheets     sheet.Store
	Runs       RunRecorder
	Scheduler  Scheduler
	Pacer      Pacer
	NewHandler func(state *BatchState) (RowHandler, error)

	ChunkSize        int
	MaxChunkDuration time.Duration
	LockTTL          time.Duration
}

// StartRun creates the run row, seeds the batch state, and triggers the
// first chunk. Exactly one run may be active at a time.
func (o *Orchestrator) StartRun(ctx context.Context, kind string, targetPath string, historyTable string, mode string, triggeredBy string, parentRunId *uint) (*models.BulkRun, error) {
	// The chunk lock serializes concurrent starts; without it two starts
	// could both pass the state check and the second would overwrite the
	// first run's state.
	release, ok, err := o.Lock.TryAcquire(ctx, batchLockKey, o.lockTTL())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &ConfigurationError{Msg: "a batch run is already active"}
	}
	defer release()

	if _, found, err := o.Store.Get(ctx, batchStateKey); err != nil {
		return nil, err
	} else if found {
		return nil, &ConfigurationError{Msg: "a batch run is already active"}
	}

	state := BatchState{
		Kind:         kind,
		TargetPath:   targetPath,
		HistoryTable: historyTable,
		Mode:         mode,
		NextRowIndex: 2,
		StartedAt:    time.Now().UTC(),
	}
	layout, err := layoutForState(&state)
	if err != nil {
		return nil, err
	}

	rows, err := o.Sheets.ReadRows(layout.sheet)
	if err != nil {
		return nil, &FatalInfrastructureError{Op: "read staging sheet", Err: err}
	}
	state.TotalRows = lastDataRow(rows)
	dataRows := 0
	if state.TotalRows >= 2 {
		dataRows = state.TotalRows - 1
	}

	now := time.Now().UTC()
	run := models.BulkRun{
		Kind:         kind,
		TargetPath:   targetPath,
		HistoryTable: historyTable,
		Status:       models.BulkRunStatusRunning,
		TriggeredBy:  triggeredBy,
		TotalRows:    dataRows,
		ParentRunId:  parentRunId,
		StartedAt:    &now,
	}
	if err := o.Runs.CreateRun(&run); err != nil {
		return nil, err
	}

	state.RunId = run.ID
	state.LastProgressAt = state.StartedAt
	if err := o.Store.Set(ctx, batchStateKey, EncodeBatchState(state)); err != nil {
		return nil, err
	}

	if err := o.Scheduler.ScheduleNext(ctx, run.ID); err != nil {
		config.GetLogger().WithError(err).Warn("bobsync: first chunk trigger failed, fallback ticker will pick it up")
	}
	return &run, nil
}

// RunChunk processes one chunk of the active run. Lock contention and a
// missing state are both clean no-ops so that duplicate triggers are
// harmless.
func (o *Orchestrator) RunChunk(ctx context.Context) error {
	release, ok, err := o.Lock.TryAcquire(ctx, batchLockKey, o.lockTTL())
	if err != nil {
		return err
	}
	if !ok {
		config.GetLogger().Debug("bobsync: chunk lock held elsewhere, skipping")
		return nil
	}
	defer release()

	raw, found, err := o.Store.Get(ctx, batchStateKey)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	state, ok := DecodeBatchState(raw)
	if !ok {
		// Unreadable state cannot make progress, drop it rather than loop.
		_ = o.Store.Delete(ctx, batchStateKey)
		return &FatalInfrastructureError{Op: "decode batch state", Err: errUnreadableState}
	}

	if state.NextRowIndex > state.TotalRows {
		return o.finalize(ctx, &state)
	}

	layout, err := layoutForState(&state)
	if err != nil {
		return o.abortRun(ctx, &state, err)
	}
	handler, err := o.NewHandler(&state)
	if err != nil {
		return o.abortRun(ctx, &state, err)
	}
	if err := handler.Prepare(ctx, &state); err != nil {
		if _, fatal := err.(*FatalInfrastructureError); fatal {
			// Infrastructure hiccups leave the state for a later retry.
			return err
		}
		return o.abortRun(ctx, &state, err)
	}

	rows, err := o.Sheets.ReadRows(layout.sheet)
	if err != nil {
		return &FatalInfrastructureError{Op: "read staging sheet", Err: err}
	}

	end := state.NextRowIndex + o.chunkSize() - 1
	if end > state.TotalRows {
		end = state.TotalRows
	}

	chunkStart := time.Now()
	for rowIdx := state.NextRowIndex; rowIdx <= end; rowIdx++ {
		row := parseStagedRow(rows, rowIdx, layout)

		if state.Mode == RunModeRetryFailed && row.Status != RowStatusFailed {
			// Retry runs only touch previously failed rows.
			state.NextRowIndex = rowIdx + 1
			continue
		}

		o.writeCell(layout.sheet, rowIdx, layout.colStatus(), RowStatusProcessing)
		handler.ProcessRow(ctx, &row)
		o.writeRowResult(layout, &row)
		o.tallyRow(&state, &row)

		state.NextRowIndex = rowIdx + 1
		state.LastProgressAt = time.Now().UTC()

		// Paced after every row, the chunk's last included: the next chunk
		// is scheduled immediately, its first call must not land early.
		o.Pacer.Delay()
		if o.MaxChunkDuration > 0 && time.Since(chunkStart) >= o.MaxChunkDuration {
			// Stop at a row boundary; the persisted index resumes here.
			break
		}
	}

	// A cancel may have cleared the state while rows were processing;
	// persisting now would resurrect the cancelled run.
	if current, stillActive, err := o.Store.Get(ctx, batchStateKey); err != nil {
		return err
	} else if !stillActive {
		return nil
	} else if live, ok := DecodeBatchState(current); !ok || live.RunId != state.RunId {
		return nil
	}

	if err := o.Store.Set(ctx, batchStateKey, EncodeBatchState(state)); err != nil {
		return err
	}
	o.updateRunProgress(&state)

	if state.NextRowIndex > state.TotalRows {
		return o.finalize(ctx, &state)
	}
	if err := o.Scheduler.ScheduleNext(ctx, state.RunId); err != nil {
		config.GetLogger().WithError(err).Warn("bobsync: next chunk trigger failed, fallback ticker will pick it up")
	}
	return nil
}

// Cancel stops the active run by clearing its state immediately, even
// while a chunk is in flight. The running chunk finishes its rows but
// re-checks the state before persisting and becomes a no-op.
func (o *Orchestrator) Cancel(ctx context.Context) (*models.BulkRun, error) {
	raw, found, err := o.Store.Get(ctx, batchStateKey)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &ConfigurationError{Msg: "no batch run is active"}
	}
	state, decodable := DecodeBatchState(raw)

	if err := o.Store.Delete(ctx, batchStateKey); err != nil {
		return nil, err
	}
	if !decodable {
		return nil, nil
	}

	now := time.Now().UTC()
	updates := map[string]any{
		"status":      models.BulkRunStatusCancelled,
		"completed":   state.Totals.Completed,
		"skipped":     state.Totals.Skipped,
		"failed":      state.Totals.Failed,
		"finished_at": now,
		"duration_ms": now.Sub(state.StartedAt).Milliseconds(),
	}
	if err := o.Runs.UpdateRun(state.RunId, updates); err != nil {
		return nil, err
	}
	return o.Runs.GetRun(state.RunId)
}

// RetryFailed starts a child run over the same staging sheet that only
// reprocesses rows left in FAILED.
func (o *Orchestrator) RetryFailed(ctx context.Context, triggeredBy string) (*models.BulkRun, error) {
	parent, err := o.Runs.LastRetryableRun()
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, &ConfigurationError{Msg: "no failed run to retry"}
	}
	parentId := parent.ID
	return o.StartRun(ctx, parent.Kind, parent.TargetPath, parent.HistoryTable, RunModeRetryFailed, triggeredBy, &parentId)
}

// ActiveState returns the decoded batch state, or found=false when no run
// is active.
func (o *Orchestrator) ActiveState(ctx context.Context) (BatchState, bool, error) {
	raw, found, err := o.Store.Get(ctx, batchStateKey)
	if err != nil || !found {
		return BatchState{}, false, err
	}
	state, ok := DecodeBatchState(raw)
	if !ok {
		return BatchState{}, false, nil
	}
	return state, true, nil
}

func (o *Orchestrator) finalize(ctx context.Context, state *BatchState) error {
	now := time.Now().UTC()
	updates := map[string]any{
		"status":      finalRunStatus(state.Totals),
		"completed":   state.Totals.Completed,
		"skipped":     state.Totals.Skipped,
		"failed":      state.Totals.Failed,
		"finished_at": now,
		"duration_ms": now.Sub(state.StartedAt).Milliseconds(),
	}
	if err := o.Runs.UpdateRun(state.RunId, updates); err != nil {
		return err
	}
	if err := o.Store.Delete(ctx, batchStateKey); err != nil {
		return err
	}
	config.GetLogger().WithField("run_id", state.RunId).
		WithField("completed", state.Totals.Completed).
		WithField("skipped", state.Totals.Skipped).
		WithField("failed", state.Totals.Failed).
		Info("bobsync: run finished")
	return nil
}

// abortRun handles configuration-level failures: the run cannot make row
// progress, so it fails as a whole and the state is dropped.
func (o *Orchestrator) abortRun(ctx context.Context, state *BatchState, cause error) error {
	now := time.Now().UTC()
	updates := map[string]any{
		"status":      models.BulkRunStatusFailed,
		"completed":   state.Totals.Completed,
		"skipped":     state.Totals.Skipped,
		"failed":      state.Totals.Failed,
		"finished_at": now,
		"duration_ms": now.Sub(state.StartedAt).Milliseconds(),
	}
	if err := o.Runs.UpdateRun(state.RunId, updates); err != nil {
		config.GetLogger().WithError(err).Error("bobsync: failed to mark run failed")
	}
	o.Runs.RecordError(&models.BulkRunError{
		BulkRunId: state.RunId,
		RowIndex:  0,
		Message:   cause.Error(),
	})
	if err := o.Store.Delete(ctx, batchStateKey); err != nil {
		return err
	}
	return cause
}

func (o *Orchestrator) tallyRow(state *BatchState, row *StagedRow) {
	switch row.Status {
	case RowStatusCompleted:
		state.Totals.Completed++
	case RowStatusSkip:
		state.Totals.Skipped++
	case RowStatusFailed:
		state.Totals.Failed++
		o.Runs.RecordError(&models.BulkRunError{
			BulkRunId:  state.RunId,
			RowIndex:   row.RowIndex,
			ExternalId: row.ExternalId,
			HttpCode:   row.HttpCode,
			Message:    row.ErrorText,
			Retryable:  row.Retryable,
		})
	}
}

func (o *Orchestrator) updateRunProgress(state *BatchState) {
	updates := map[string]any{
		"completed": state.Totals.Completed,
		"skipped":   state.Totals.Skipped,
		"failed":    state.Totals.Failed,
	}
	if err := o.Runs.UpdateRun(state.RunId, updates); err != nil {
		config.GetLogger().WithError(err).Warn("bobsync: run progress update failed")
	}
}

// writeRowResult writes the result columns of one row. Sheet write errors
// are logged and swallowed, the in-state totals remain authoritative.
func (o *Orchestrator) writeRowResult(layout sheetLayout, row *StagedRow) {
	httpCode := ""
	if row.HttpCode > 0 {
		httpCode = strconv.Itoa(row.HttpCode)
	}
	values := [][]string{{row.InternalId, row.Status, httpCode, row.ErrorText, row.VerifiedValue}}
	if err := o.Sheets.WriteRange(layout.sheet, row.RowIndex, layout.colInternalId(), values); err != nil {
		config.GetLogger().WithError(err).WithField("row", row.RowIndex).Warn("bobsync: result write failed")
	}
}

func (o *Orchestrator) writeCell(sheetName string, rowIdx int, col int, value string) {
	if err := o.Sheets.WriteRange(sheetName, rowIdx, col, [][]string{{value}}); err != nil {
		config.GetLogger().WithError(err).WithField("row", rowIdx).Warn("bobsync: cell write failed")
	}
}

func (o *Orchestrator) chunkSize() int {
	if o.ChunkSize > 0 {
		return o.ChunkSize
	}
	return 5
}

func (o *Orchestrator) lockTTL() time.Duration {
	if o.LockTTL > 0 {
		return o.LockTTL
	}
	return 2 * time.Minute
}

// parseStagedRow reads one sheet row (1-based absolute index) into a
// StagedRow. rows come from ReadRows, so index 0 is sheet row 1.
func parseStagedRow(rows [][]string, rowIdx int, layout sheetLayout) StagedRow {
	var cells []string
	if rowIdx-1 < len(rows) {
		cells = rows[rowIdx-1]
	}
	row := StagedRow{
		RowIndex:   rowIdx,
		ExternalId: normalizeCell(cellAt(cells, ColExternalId-1)),
		Status:     normalizeCell(cellAt(cells, layout.colStatus()-1)),
		InternalId: normalizeCell(cellAt(cells, layout.colInternalId()-1)),
	}
	row.Cells = make([]string, layout.dataCols)
	for i := 0; i < layout.dataCols; i++ {
		row.Cells[i] = cellAt(cells, ColExternalId+i)
	}
	if layout.dataCols > 0 {
		row.RawValue = normalizeCell(row.Cells[0])
	}
	if code := normalizeCell(cellAt(cells, layout.colHttpCode()-1)); code != "" {
		if parsed, err := strconv.Atoi(code); err == nil {
			row.HttpCode = parsed
		}
	}
	return row
}

// lastDataRow returns the highest 1-based sheet row holding data, ignoring
// rows whose every cell is blank. Returns 1 (header only) for an empty
// staging sheet.
func lastDataRow(rows [][]string) int {
	last := 1
	for i := len(rows) - 1; i >= 1; i-- {
		for _, cell := range rows[i] {
			if normalizeCell(cell) != "" {
				return i + 1
			}
		}
	}
	return last
}

func finalRunStatus(totals BatchTotals) string {
	switch {
	case totals.Failed == 0:
		return models.BulkRunStatusSuccess
	case totals.Completed+totals.Skipped == 0:
		return models.BulkRunStatusFailed
	default:
		return models.BulkRunStatusPartial
	}
}

var errUnreadableState = &ConfigurationError{Msg: "persisted batch state is unreadable"}
