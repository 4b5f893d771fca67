package validation

import (
	"github.com/neobrutalism/crm-migration/internal/domain/model"
	"github.com/neobrutalism/crm-migration/internal/sheets"
)

// Volume sheet columns.
const (
	colVolumeCode      = "volume_code"
	colVolumeContract  = "contract_number"
	colDocumentCount   = "document_count"
	colOpenDate        = "open_date"
	colCloseDate       = "close_date"
	colStorageLocation = "storage_location"
)

// ValidateVolumeRow checks one row of a volumes sheet.
func ValidateVolumeRow(row sheets.Row, rowNumber int64) ValidationResult {
	var res ValidationResult

	code := requireField(&res, row, colVolumeCode, "volume code")
	if code != "" && !codePattern.MatchString(code) {
		res.AddRuleError(model.ErrorCodeInvalidFormat,
			"volume code may only contain uppercase letters, digits, and underscore",
			colVolumeCode, "volume-code-format")
	}
	requireField(&res, row, colVolumeContract, "contract number")
	checkPositiveInt(&res, row, colDocumentCount, "document count")

	openDate, hasOpen := checkDate(&res, row, colOpenDate, "open date")
	closeDate, hasClose := checkDate(&res, row, colCloseDate, "close date")
	if hasOpen && hasClose && closeDate.Before(openDate) {
		res.AddRuleError(model.ErrorCodeInvalidDateRange,
			"close date must not be before open date",
			colCloseDate, "volume-date-order")
	}

	return res
}
