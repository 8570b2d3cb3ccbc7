package bobsync

import (
	"context"
	"errors"
	"testing"

	"github.com/mmdatafocus/bobsync_backend/models"
)

// scriptedHandler assigns a fixed outcome per external id and records what
// it was asked to process.
type scriptedHandler struct {
	outcomes  map[string]string // external id -> row status
	prepared  int
	processed []int
	onProcess func(row *StagedRow)
}

func (h *scriptedHandler) Prepare(_ context.Context, _ *BatchState) error {
	h.prepared++
	return nil
}

func (h *scriptedHandler) ProcessRow(_ context.Context, row *StagedRow) {
	h.processed = append(h.processed, row.RowIndex)
	status, ok := h.outcomes[row.ExternalId]
	if !ok {
		status = RowStatusCompleted
	}
	row.Status = status
	if status == RowStatusFailed {
		row.ErrorText = "scripted failure"
	}
	if h.onProcess != nil {
		h.onProcess(row)
	}
}

func stagingSheet(rows ...[]string) *memSheets {
	sheets := newMemSheets()
	all := [][]string{{"ExternalId", "NewValue", "InternalId", "Status", "HttpCode", "Error", "VerifiedValue"}}
	all = append(all, rows...)
	sheets.ReplaceRows(SheetStaging, all)
	return sheets
}

type orchestratorFixture struct {
	orch      *Orchestrator
	store     *memStore
	locker    *fakeLocker
	scheduler *fakeScheduler
	recorder  *memRecorder
	handler   *scriptedHandler
	sheets    *memSheets
}

func newFixture(sheets *memSheets, handler *scriptedHandler, chunkSize int) *orchestratorFixture {
	f := &orchestratorFixture{
		store:     newMemStore(),
		locker:    &fakeLocker{},
		scheduler: &fakeScheduler{},
		recorder:  newMemRecorder(),
		handler:   handler,
		sheets:    sheets,
	}
	f.orch = &Orchestrator{
		Store:     f.store,
		Lock:      f.locker,
		Sheets:    sheets,
		Runs:      f.recorder,
		Scheduler: f.scheduler,
		Pacer:     noopPacer{},
		NewHandler: func(_ *BatchState) (RowHandler, error) {
			return handler, nil
		},
		ChunkSize: chunkSize,
	}
	return f
}

func startFieldRun(t *testing.T, f *orchestratorFixture) *models.BulkRun {
	t.Helper()
	run, err := f.orch.StartRun(context.Background(), models.BulkRunKindFieldUpdate,
		"root.work.department", "", RunModeAll, models.BulkRunTriggeredManual, nil)
	if err != nil {
		t.Fatal(err)
	}
	return run
}

func TestStartRunSeedsStateAndTriggersChunk(t *testing.T) {
	sheets := stagingSheet([]string{"E-1", "A"}, []string{"E-2", "B"}, []string{"E-3", "C"})
	f := newFixture(sheets, &scriptedHandler{}, 2)

	run := startFieldRun(t, f)
	if run.TotalRows != 3 {
		t.Fatalf("run.TotalRows = %d, want 3", run.TotalRows)
	}

	state, active, err := f.orch.ActiveState(context.Background())
	if err != nil || !active {
		t.Fatalf("active state: %v %v", active, err)
	}
	if state.NextRowIndex != 2 || state.TotalRows != 4 {
		t.Fatalf("state = next %d total %d, want 2 and 4", state.NextRowIndex, state.TotalRows)
	}
	if len(f.scheduler.scheduled) != 1 {
		t.Fatalf("scheduled = %d, want the immediate first trigger", len(f.scheduler.scheduled))
	}
}

func TestStartRunRejectsSecondActiveRun(t *testing.T) {
	f := newFixture(stagingSheet([]string{"E-1", "A"}), &scriptedHandler{}, 2)
	startFieldRun(t, f)

	_, err := f.orch.StartRun(context.Background(), models.BulkRunKindFieldUpdate,
		"root.work.title", "", RunModeAll, models.BulkRunTriggeredManual, nil)
	var confErr *ConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("err = %v, want ConfigurationError", err)
	}
}

func TestStartRunLockContentionRefused(t *testing.T) {
	f := newFixture(stagingSheet([]string{"E-1", "A"}), &scriptedHandler{}, 10)
	f.locker.held = true

	_, err := f.orch.StartRun(context.Background(), models.BulkRunKindFieldUpdate,
		"root.work.department", "", RunModeAll, models.BulkRunTriggeredManual, nil)
	var confErr *ConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("err = %v, want ConfigurationError", err)
	}
	if _, found, _ := f.store.Get(context.Background(), batchStateKey); found {
		t.Fatal("refused start must not write state")
	}
}

func TestRunChunkProcessesChunkAndSchedulesNext(t *testing.T) {
	sheets := stagingSheet([]string{"E-1", "A"}, []string{"E-2", "B"}, []string{"E-3", "C"})
	handler := &scriptedHandler{}
	f := newFixture(sheets, handler, 2)
	startFieldRun(t, f)

	if err := f.orch.RunChunk(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(handler.processed) != 2 {
		t.Fatalf("processed = %v, want rows 2 and 3", handler.processed)
	}
	state, active, _ := f.orch.ActiveState(context.Background())
	if !active || state.NextRowIndex != 4 {
		t.Fatalf("next = %d active = %v, want 4 true", state.NextRowIndex, active)
	}
	if state.Totals.Completed != 2 {
		t.Fatalf("completed = %d, want 2", state.Totals.Completed)
	}
	// Start trigger plus the follow-up for the unfinished run.
	if len(f.scheduler.scheduled) != 2 {
		t.Fatalf("scheduled = %d, want 2", len(f.scheduler.scheduled))
	}
	if sheets.cell(SheetStaging, 2, ColStatus) != RowStatusCompleted {
		t.Fatalf("row 2 status cell = %q", sheets.cell(SheetStaging, 2, ColStatus))
	}
}

func TestRunFinishesWithSuccess(t *testing.T) {
	sheets := stagingSheet([]string{"E-1", "A"}, []string{"E-2", "B"})
	f := newFixture(sheets, &scriptedHandler{}, 10)
	run := startFieldRun(t, f)

	if err := f.orch.RunChunk(context.Background()); err != nil {
		t.Fatal(err)
	}

	if _, active, _ := f.orch.ActiveState(context.Background()); active {
		t.Fatal("state must be deleted after the final chunk")
	}
	final, _ := f.recorder.GetRun(run.ID)
	if final.Status != models.BulkRunStatusSuccess {
		t.Fatalf("status = %s, want success", final.Status)
	}
	if final.Completed != 2 || final.FinishedAt == nil {
		t.Fatalf("final run = %+v", final)
	}
}

func TestRunFinishesPartialWithErrorRows(t *testing.T) {
	sheets := stagingSheet([]string{"E-1", "A"}, []string{"E-2", "B"}, []string{"E-3", "C"})
	handler := &scriptedHandler{outcomes: map[string]string{
		"E-2": RowStatusFailed,
		"E-3": RowStatusSkip,
	}}
	f := newFixture(sheets, handler, 10)
	run := startFieldRun(t, f)

	if err := f.orch.RunChunk(context.Background()); err != nil {
		t.Fatal(err)
	}

	final, _ := f.recorder.GetRun(run.ID)
	if final.Status != models.BulkRunStatusPartial {
		t.Fatalf("status = %s, want partial", final.Status)
	}
	if final.Completed != 1 || final.Skipped != 1 || final.Failed != 1 {
		t.Fatalf("totals = %d/%d/%d", final.Completed, final.Skipped, final.Failed)
	}
	if len(f.recorder.errors) != 1 || f.recorder.errors[0].ExternalId != "E-2" {
		t.Fatalf("error rows = %+v", f.recorder.errors)
	}
}

func TestPacerDelaysEveryProcessedRow(t *testing.T) {
	sheets := stagingSheet(
		[]string{"E-1", "A"}, []string{"E-2", "B"},
		[]string{"E-3", "C"}, []string{"E-4", "D"},
	)
	f := newFixture(sheets, &scriptedHandler{}, 2)
	pacer := &countPacer{}
	f.orch.Pacer = pacer
	startFieldRun(t, f)

	if err := f.orch.RunChunk(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := f.orch.RunChunk(context.Background()); err != nil {
		t.Fatal(err)
	}

	// The last row of each chunk paces too; the next chunk is triggered
	// immediately and must not land its first call early.
	if pacer.delays != 4 {
		t.Fatalf("delays = %d across 4 processed rows, want 4", pacer.delays)
	}
}

func TestCancelWhileChunkInFlight(t *testing.T) {
	sheets := stagingSheet([]string{"E-1", "A"}, []string{"E-2", "B"}, []string{"E-3", "C"})
	handler := &scriptedHandler{}
	f := newFixture(sheets, handler, 10)
	run := startFieldRun(t, f)

	handler.onProcess = func(row *StagedRow) {
		if row.RowIndex != 2 {
			return
		}
		if _, err := f.orch.Cancel(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	if err := f.orch.RunChunk(context.Background()); err != nil {
		t.Fatal(err)
	}

	if _, active, _ := f.orch.ActiveState(context.Background()); active {
		t.Fatal("chunk must not persist state back after a cancel")
	}
	final, _ := f.recorder.GetRun(run.ID)
	if final.Status != models.BulkRunStatusCancelled {
		t.Fatalf("status = %s, want cancelled", final.Status)
	}
	// Only the start trigger; a cancelled run gets no follow-up chunk.
	if len(f.scheduler.scheduled) != 1 {
		t.Fatalf("scheduled = %d, want 1", len(f.scheduler.scheduled))
	}
}

func TestRunChunkLockContentionIsNoop(t *testing.T) {
	sheets := stagingSheet([]string{"E-1", "A"})
	handler := &scriptedHandler{}
	f := newFixture(sheets, handler, 10)
	startFieldRun(t, f)

	f.locker.held = true
	if err := f.orch.RunChunk(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(handler.processed) != 0 {
		t.Fatal("contended chunk must not touch any row")
	}
	state, active, _ := f.orch.ActiveState(context.Background())
	if !active || state.NextRowIndex != 2 {
		t.Fatal("contended chunk must not advance state")
	}
}

func TestRunChunkWithoutStateIsNoop(t *testing.T) {
	handler := &scriptedHandler{}
	f := newFixture(stagingSheet([]string{"E-1", "A"}), handler, 10)

	if err := f.orch.RunChunk(context.Background()); err != nil {
		t.Fatal(err)
	}
	if handler.prepared != 0 || len(handler.processed) != 0 {
		t.Fatal("stale trigger must be a no-op")
	}
}

func TestRunChunkResumesFromPersistedIndex(t *testing.T) {
	rows := make([][]string, 0, 20)
	for i := 0; i < 20; i++ {
		rows = append(rows, []string{"E-1", "A"})
	}
	handler := &scriptedHandler{}
	f := newFixture(stagingSheet(rows...), handler, 5)
	run := startFieldRun(t, f)

	// Simulate progress persisted before an interruption.
	state, _, _ := f.orch.ActiveState(context.Background())
	state.RunId = run.ID
	state.NextRowIndex = 14
	f.store.Set(context.Background(), batchStateKey, EncodeBatchState(state))

	if err := f.orch.RunChunk(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := []int{14, 15, 16, 17, 18}
	if len(handler.processed) != len(want) {
		t.Fatalf("processed = %v, want %v", handler.processed, want)
	}
	for i, rowIdx := range want {
		if handler.processed[i] != rowIdx {
			t.Fatalf("processed = %v, want %v", handler.processed, want)
		}
	}
}

func TestRetryModeOnlyTouchesFailedRows(t *testing.T) {
	sheets := stagingSheet(
		[]string{"E-1", "A", "1001", RowStatusCompleted, "200", "", "A"},
		[]string{"E-2", "B", "", RowStatusFailed, "500", "boom", ""},
		[]string{"E-3", "C", "1003", RowStatusSkip, "304", "already correct", ""},
	)
	handler := &scriptedHandler{}
	f := newFixture(sheets, handler, 10)

	run, err := f.orch.StartRun(context.Background(), models.BulkRunKindFieldUpdate,
		"root.work.department", "", RunModeRetryFailed, models.BulkRunTriggeredRetry, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.orch.RunChunk(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(handler.processed) != 1 || handler.processed[0] != 3 {
		t.Fatalf("processed = %v, want only the failed row 3", handler.processed)
	}
	if got := sheets.cell(SheetStaging, 2, ColStatus); got != RowStatusCompleted {
		t.Fatalf("completed row overwritten: %q", got)
	}
	final, _ := f.recorder.GetRun(run.ID)
	if final.Status != models.BulkRunStatusSuccess {
		t.Fatalf("status = %s, want success", final.Status)
	}
}

func TestRetryFailedRequiresRetryableParent(t *testing.T) {
	f := newFixture(stagingSheet([]string{"E-1", "A"}), &scriptedHandler{}, 10)
	_, err := f.orch.RetryFailed(context.Background(), models.BulkRunTriggeredRetry)
	var confErr *ConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("err = %v, want ConfigurationError", err)
	}
}

func TestRetryFailedInheritsParentTarget(t *testing.T) {
	sheets := stagingSheet([]string{"E-1", "A", "", RowStatusFailed, "500", "boom", ""})
	handler := &scriptedHandler{outcomes: map[string]string{"E-1": RowStatusFailed}}
	f := newFixture(sheets, handler, 10)

	parent := startFieldRun(t, f)
	if err := f.orch.RunChunk(context.Background()); err != nil {
		t.Fatal(err)
	}

	child, err := f.orch.RetryFailed(context.Background(), models.BulkRunTriggeredRetry)
	if err != nil {
		t.Fatal(err)
	}
	if child.TargetPath != parent.TargetPath {
		t.Fatalf("child target = %q, want parent's", child.TargetPath)
	}
	if child.ParentRunId == nil || *child.ParentRunId != parent.ID {
		t.Fatalf("child parent id = %v, want %d", child.ParentRunId, parent.ID)
	}
}

func TestCancelStopsActiveRun(t *testing.T) {
	f := newFixture(stagingSheet([]string{"E-1", "A"}), &scriptedHandler{}, 10)
	startFieldRun(t, f)

	run, err := f.orch.Cancel(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != models.BulkRunStatusCancelled {
		t.Fatalf("status = %s, want cancelled", run.Status)
	}
	if _, active, _ := f.orch.ActiveState(context.Background()); active {
		t.Fatal("state must be gone after cancel")
	}
}

func TestCancelWithoutActiveRun(t *testing.T) {
	f := newFixture(stagingSheet(), &scriptedHandler{}, 10)
	_, err := f.orch.Cancel(context.Background())
	var confErr *ConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("err = %v, want ConfigurationError", err)
	}
}

func TestFinalRunStatus(t *testing.T) {
	cases := []struct {
		totals BatchTotals
		want   string
	}{
		{BatchTotals{Completed: 3}, models.BulkRunStatusSuccess},
		{BatchTotals{Skipped: 2}, models.BulkRunStatusSuccess},
		{BatchTotals{}, models.BulkRunStatusSuccess},
		{BatchTotals{Completed: 2, Failed: 1}, models.BulkRunStatusPartial},
		{BatchTotals{Failed: 2}, models.BulkRunStatusFailed},
	}
	for _, tc := range cases {
		if got := finalRunStatus(tc.totals); got != tc.want {
			t.Errorf("%+v: status = %s, want %s", tc.totals, got, tc.want)
		}
	}
}
