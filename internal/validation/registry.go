package validation

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/neobrutalism/crm-migration/internal/sheets"
)

// ErrUnknownSheetType is returned when no validator is registered for a type.
var ErrUnknownSheetType = errors.New("unknown sheet type")

// Sheet types with registered validators.
const (
	SheetTypeContracts = "contracts"
	SheetTypeCustomers = "customers"
	SheetTypeVolumes   = "volumes"
)

// RowValidator validates one parsed row. rowNumber is the 1-based data row
// index within the sheet (header excluded).
type RowValidator func(row sheets.Row, rowNumber int64) ValidationResult

// Registry maps sheet types to their row validators. Registration happens at
// startup; Resolve is safe for concurrent use by importer workers.
type Registry struct {
	mu         sync.RWMutex
	validators map[string]RowValidator
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{validators: make(map[string]RowValidator)}
}

// DefaultRegistry returns a registry with all built-in sheet validators. The
// customers validator's reference date is fixed here, so every row of every
// job this registry serves validates against the same instant.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(SheetTypeContracts, ValidateContractRow)
	r.Register(SheetTypeCustomers, NewCustomerRowValidator(time.Now().UTC()))
	r.Register(SheetTypeVolumes, ValidateVolumeRow)
	return r
}

// Register binds a validator to a sheet type, replacing any previous binding.
func (r *Registry) Register(sheetType string, v RowValidator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators[normalizeType(sheetType)] = v
}

// Resolve returns the validator for sheetType, or ErrUnknownSheetType.
func (r *Registry) Resolve(sheetType string) (RowValidator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.validators[normalizeType(sheetType)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSheetType, sheetType)
	}
	return v, nil
}

// Types returns the registered sheet types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.validators))
	for t := range r.validators {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Detect maps a workbook sheet name to one of the registered sheet types,
// matching case-insensitively on the name prefix. Returns "" when the name
// matches no registered type.
func (r *Registry) Detect(sheetName string) string {
	name := normalizeType(sheetName)
	for _, t := range r.Types() {
		if name == t || strings.HasPrefix(name, t+"_") || strings.HasPrefix(name, t+" ") {
			return t
		}
	}
	return ""
}

func normalizeType(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
