package bobsync

import (
	"context"
	"sync"
	"time"

	"github.com/mmdatafocus/bobsync_backend/models"
)

// memSheets is an in-memory sheet.Store for tests.
type memSheets struct {
	mu     sync.Mutex
	sheets map[string][][]string
}

func newMemSheets() *memSheets {
	return &memSheets{sheets: map[string][][]string{}}
}

func (m *memSheets) ReadRows(sheetName string) ([][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.sheets[sheetName]
	out := make([][]string, len(rows))
	for i, row := range rows {
		out[i] = append([]string(nil), row...)
	}
	return out, nil
}

func (m *memSheets) WriteRange(sheetName string, startRow int, startCol int, values [][]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	grid := m.sheets[sheetName]
	for i, rowValues := range values {
		rowIdx := startRow - 1 + i
		for len(grid) <= rowIdx {
			grid = append(grid, nil)
		}
		for j, v := range rowValues {
			colIdx := startCol - 1 + j
			for len(grid[rowIdx]) <= colIdx {
				grid[rowIdx] = append(grid[rowIdx], "")
			}
			grid[rowIdx][colIdx] = v
		}
	}
	m.sheets[sheetName] = grid
	return nil
}

func (m *memSheets) AppendRow(sheetName string, values []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sheets[sheetName] = append(m.sheets[sheetName], append([]string(nil), values...))
	return nil
}

func (m *memSheets) ReplaceRows(sheetName string, rows [][]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(rows))
	for i, row := range rows {
		out[i] = append([]string(nil), row...)
	}
	m.sheets[sheetName] = out
	return nil
}

func (m *memSheets) cell(sheetName string, row int, col int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	grid := m.sheets[sheetName]
	if row-1 >= len(grid) || col-1 >= len(grid[row-1]) {
		return ""
	}
	return grid[row-1][col-1]
}

// memStore is an in-memory PropertyStore.
type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemStore() *memStore {
	return &memStore{data: map[string]string{}}
}

func (s *memStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *memStore) Set(_ context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *memStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// fakeLocker grants the lock unless held is set.
type fakeLocker struct {
	held     bool
	acquired int
}

func (l *fakeLocker) TryAcquire(_ context.Context, _ string, _ time.Duration) (func(), bool, error) {
	if l.held {
		return nil, false, nil
	}
	l.acquired++
	return func() {}, true, nil
}

// countPacer counts Delay calls instead of sleeping.
type countPacer struct {
	delays int
}

func (p *countPacer) Delay() { p.delays++ }

// fakeScheduler counts trigger requests.
type fakeScheduler struct {
	scheduled []uint
}

func (s *fakeScheduler) ScheduleNext(_ context.Context, runId uint) error {
	s.scheduled = append(s.scheduled, runId)
	return nil
}

// memRecorder is an in-memory RunRecorder.
type memRecorder struct {
	mu     sync.Mutex
	nextId uint
	runs   map[uint]*models.BulkRun
	errors []models.BulkRunError
}

func newMemRecorder() *memRecorder {
	return &memRecorder{runs: map[uint]*models.BulkRun{}}
}

func (r *memRecorder) CreateRun(run *models.BulkRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextId++
	run.ID = r.nextId
	clone := *run
	r.runs[run.ID] = &clone
	return nil
}

func (r *memRecorder) UpdateRun(runId uint, updates map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runId]
	if !ok {
		return nil
	}
	for key, value := range updates {
		switch key {
		case "status":
			run.Status = value.(string)
		case "completed":
			run.Completed = value.(int)
		case "skipped":
			run.Skipped = value.(int)
		case "failed":
			run.Failed = value.(int)
		case "finished_at":
			t := value.(time.Time)
			run.FinishedAt = &t
		case "duration_ms":
			run.DurationMs = value.(int64)
		}
	}
	return nil
}

func (r *memRecorder) GetRun(runId uint) (*models.BulkRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runId]
	if !ok {
		return nil, nil
	}
	clone := *run
	return &clone, nil
}

func (r *memRecorder) LastRetryableRun() (*models.BulkRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := r.nextId; id >= 1; id-- {
		run, ok := r.runs[id]
		if !ok {
			continue
		}
		if run.Status == models.BulkRunStatusFailed || run.Status == models.BulkRunStatusPartial {
			clone := *run
			return &clone, nil
		}
	}
	return nil, nil
}

func (r *memRecorder) RecordError(rowError *models.BulkRunError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, *rowError)
}
