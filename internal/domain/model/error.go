package model

import (
	"encoding/json"
	"time"
)

// Well-known error codes produced by row validation and persistence.
const (
	ErrorCodeMissingRequiredField = "MISSING_REQUIRED_FIELD"
	ErrorCodeInvalidFormat        = "INVALID_FORMAT"
	ErrorCodeInvalidEnumValue     = "INVALID_ENUM_VALUE"
	ErrorCodeInvalidNumber        = "INVALID_NUMBER"
	ErrorCodeInvalidDateRange     = "INVALID_DATE_RANGE"
	// ErrorCodePersistFailure marks a row that validated but could not be
	// written to storage. It is distinguishable from validation codes so
	// operators can tell data problems from infrastructure problems.
	ErrorCodePersistFailure = "PERSIST_FAILURE"
)

// MigrationError is one row-level failure. Errors are append-only: they are
// never updated or deleted, and they are written on a connection independent
// of any batch transaction so a rolled-back batch cannot take its error
// records with it.
type MigrationError struct {
	ID             int64           `json:"id"                        db:"id"`
	JobID          string          `json:"job_id"                    db:"job_id"`
	SheetName      string          `json:"sheet_name"                db:"sheet_name"`
	RowNumber      int64           `json:"row_number"                db:"row_number"`
	BatchNumber    int             `json:"batch_number"              db:"batch_number"`
	ErrorCode      string          `json:"error_code"                db:"error_code"`
	ErrorMessage   string          `json:"error_message"             db:"error_message"`
	ErrorData      json.RawMessage `json:"error_data,omitempty"      db:"error_data"`
	ValidationRule *string         `json:"validation_rule,omitempty" db:"validation_rule"`
	CreatedAt      time.Time       `json:"created_at"                db:"created_at"`
}

// ErrorFilter narrows error listings. Zero values mean "no filter".
type ErrorFilter struct {
	SheetName   string
	ErrorCode   string
	BatchNumber int
}
