package sheet

import (
	"errors"
	"os"
	"sync"

	"github.com/xuri/excelize/v2"
)

// XLSXStore implements Store over a local .xlsx workbook. Mutations are
// flushed to disk before returning so progress survives process restarts.
// A single mutex serializes access; the sync core is sequential anyway.
type XLSXStore struct {
	path string

	mu sync.Mutex
	f  *excelize.File
}

func OpenXLSX(path string) (*XLSXStore, error) {
	if path == "" {
		return nil, errors.New("workbook path is required")
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		f := excelize.NewFile()
		if err := f.SaveAs(path); err != nil {
			return nil, err
		}
		return &XLSXStore{path: path, f: f}, nil
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	return &XLSXStore{path: path, f: f}, nil
}

func (s *XLSXStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

func (s *XLSXStore) ReadRows(sheetName string) ([][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.f.GetSheetIndex(sheetName)
	if err != nil {
		return nil, err
	}
	if idx < 0 {
		return [][]string{}, nil
	}
	rows, err := s.f.GetRows(sheetName)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *XLSXStore) WriteRange(sheetName string, startRow int, startCol int, values [][]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureSheet(sheetName); err != nil {
		return err
	}
	for r, row := range values {
		for c, val := range row {
			cell, err := excelize.CoordinatesToCellName(startCol+c, startRow+r)
			if err != nil {
				return err
			}
			if err := s.f.SetCellValue(sheetName, cell, val); err != nil {
				return err
			}
		}
	}
	return s.f.Save()
}

func (s *XLSXStore) AppendRow(sheetName string, values []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureSheet(sheetName); err != nil {
		return err
	}
	rows, err := s.f.GetRows(sheetName)
	if err != nil {
		return err
	}
	rowNo := len(rows) + 1
	for c, val := range values {
		cell, err := excelize.CoordinatesToCellName(c+1, rowNo)
		if err != nil {
			return err
		}
		if err := s.f.SetCellValue(sheetName, cell, val); err != nil {
			return err
		}
	}
	return s.f.Save()
}

func (s *XLSXStore) ReplaceRows(sheetName string, rows [][]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.f.GetSheetIndex(sheetName)
	if err != nil {
		return err
	}
	if idx >= 0 {
		if err := s.f.DeleteSheet(sheetName); err != nil {
			return err
		}
	}
	if _, err := s.f.NewSheet(sheetName); err != nil {
		return err
	}
	for r, row := range rows {
		for c, val := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return err
			}
			if err := s.f.SetCellValue(sheetName, cell, val); err != nil {
				return err
			}
		}
	}
	return s.f.Save()
}

func (s *XLSXStore) ensureSheet(sheetName string) error {
	idx, err := s.f.GetSheetIndex(sheetName)
	if err != nil {
		return err
	}
	if idx < 0 {
		_, err = s.f.NewSheet(sheetName)
	}
	return err
}
