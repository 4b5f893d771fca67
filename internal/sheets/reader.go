// Package sheets abstracts reading tabular data out of uploaded workbooks.
package sheets

import "context"

// Row is one data row keyed by the header cell of each column. Missing cells
// are absent from the map; blank cells are present with an empty value.
type Row map[string]string

// Get returns the trimmed value of a column, or "" when absent.
func (r Row) Get(key string) string {
	return r[key]
}

// Sheet describes one tab of a workbook.
type Sheet struct {
	Name      string
	TotalRows int64
}

// RowFunc receives each data row in order. rowNumber is 1-based and counts
// data rows only (the header row is consumed, not delivered). Returning an
// error stops the scan and propagates the error to the caller.
type RowFunc func(rowNumber int64, row Row) error

// Reader streams rows out of a workbook one sheet at a time. Implementations
// must not buffer whole sheets in memory; workbooks can run to millions of
// rows.
type Reader interface {
	// Sheets lists the workbook's tabs with their data row counts.
	Sheets() ([]Sheet, error)
	// ReadRows streams the named sheet's data rows through fn.
	ReadRows(ctx context.Context, sheetName string, fn RowFunc) error
	// Close releases the underlying file handle.
	Close() error
}
