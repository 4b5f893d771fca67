// Package validation holds the per-sheet-type row validators and the registry
// that resolves them. Validators are pure functions over a parsed row: they
// never touch storage, so a validation pass cannot fail a job.
package validation

// ValidationError describes a single rule violation on a row.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Rule    string `json:"rule,omitempty"`
}

// ValidationResult accumulates rule violations for one row. The zero value is
// a passing result.
type ValidationResult struct {
	Errors []ValidationError `json:"errors,omitempty"`
}

// AddError records a violation.
func (r *ValidationResult) AddError(code, message, field string) {
	r.Errors = append(r.Errors, ValidationError{Code: code, Message: message, Field: field})
}

// AddRuleError records a violation attributed to a named business rule.
func (r *ValidationResult) AddRuleError(code, message, field, rule string) {
	r.Errors = append(r.Errors, ValidationError{Code: code, Message: message, Field: field, Rule: rule})
}

// Valid reports whether the row passed every rule.
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}
