package sheets

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ExcelReader reads .xlsx workbooks. The first non-empty row of each sheet is
// the header; rows are streamed through excelize's row iterator so workbook
// size does not bound memory.
type ExcelReader struct {
	f *excelize.File
}

// OpenExcel opens the workbook at path.
func OpenExcel(path string) (*ExcelReader, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	return &ExcelReader{f: f}, nil
}

func (r *ExcelReader) Sheets() ([]Sheet, error) {
	names := r.f.GetSheetList()
	out := make([]Sheet, 0, len(names))
	for _, name := range names {
		n, err := r.countDataRows(name)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sheet %q: %w", name, err)
		}
		out = append(out, Sheet{Name: name, TotalRows: n})
	}
	return out, nil
}

func (r *ExcelReader) ReadRows(ctx context.Context, sheetName string, fn RowFunc) error {
	it, err := r.f.Rows(sheetName)
	if err != nil {
		return fmt.Errorf("failed to open sheet %q: %w", sheetName, err)
	}
	defer func() { _ = it.Close() }()

	var headers []string
	var rowNumber int64
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		cells, err := it.Columns()
		if err != nil {
			return fmt.Errorf("failed to read row from sheet %q: %w", sheetName, err)
		}
		if emptyCells(cells) {
			continue
		}
		if headers == nil {
			headers = trimCells(cells)
			continue
		}
		rowNumber++
		if err := fn(rowNumber, cellsToRow(headers, cells)); err != nil {
			return err
		}
	}
	return it.Error()
}

func (r *ExcelReader) Close() error {
	return r.f.Close()
}

// countDataRows counts non-empty rows after the header.
func (r *ExcelReader) countDataRows(sheetName string) (int64, error) {
	it, err := r.f.Rows(sheetName)
	if err != nil {
		return 0, err
	}
	defer func() { _ = it.Close() }()

	var count int64
	seenHeader := false
	for it.Next() {
		cells, err := it.Columns()
		if err != nil {
			return 0, err
		}
		if emptyCells(cells) {
			continue
		}
		if !seenHeader {
			seenHeader = true
			continue
		}
		count++
	}
	return count, it.Error()
}

func cellsToRow(headers, cells []string) Row {
	row := make(Row, len(headers))
	for i, h := range headers {
		if h == "" {
			continue
		}
		if i < len(cells) {
			row[h] = strings.TrimSpace(cells[i])
		} else {
			row[h] = ""
		}
	}
	return row
}

func trimCells(cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = strings.TrimSpace(c)
	}
	return out
}

func emptyCells(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
