// Package sheet is the narrow seam to the staging workbook. The sync core
// only ever reads rectangular ranges of scalar cells, writes them back, or
// appends a row; everything else about the workbook is presentation.
package sheet

// Store reads and writes rectangular cell ranges of one workbook.
// Coordinates are 1-based. No transactional guarantees: a WriteRange is
// visible as soon as it returns.
type Store interface {
	// ReadRows returns every populated row of a sheet, including the header
	// row. Missing sheets yield an empty slice, not an error.
	ReadRows(sheetName string) ([][]string, error)
	// WriteRange writes values with its top-left cell at (startRow, startCol).
	WriteRange(sheetName string, startRow int, startCol int, values [][]string) error
	// AppendRow adds one row after the last populated row.
	AppendRow(sheetName string, values []string) error
	// ReplaceRows clears the sheet and writes rows from the top. Used for
	// wholesale reference refreshes.
	ReplaceRows(sheetName string, rows [][]string) error
}
