package sheets

import (
	"context"
	"fmt"
)

// MemoryReader is an in-memory Reader for tests and fixtures.
type MemoryReader struct {
	Order int
	Data  map[string][]Row
	Names []string
}

// NewMemoryReader builds a reader over the given sheets in declaration order.
func NewMemoryReader(names []string, data map[string][]Row) *MemoryReader {
	return &MemoryReader{Data: data, Names: names}
}

func (m *MemoryReader) Sheets() ([]Sheet, error) {
	out := make([]Sheet, 0, len(m.Names))
	for _, name := range m.Names {
		out = append(out, Sheet{Name: name, TotalRows: int64(len(m.Data[name]))})
	}
	return out, nil
}

func (m *MemoryReader) ReadRows(ctx context.Context, sheetName string, fn RowFunc) error {
	rows, ok := m.Data[sheetName]
	if !ok {
		return fmt.Errorf("sheet %q not found", sheetName)
	}
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(int64(i+1), row); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryReader) Close() error { return nil }
