package validation

import (
	"github.com/neobrutalism/crm-migration/internal/domain/model"
	"github.com/neobrutalism/crm-migration/internal/sheets"
)

// Contract sheet columns.
const (
	colContractNumber    = "contract_number"
	colDocumentType      = "document_type"
	colRetentionCategory = "retention_category"
	colRetentionMonths   = "retention_months"
	colDueDate           = "due_date"
	colDestructionDate   = "destruction_date"
	colBoxCode           = "box_code"
)

// Retention categories.
const (
	retentionPermanent  = "permanent"
	retentionShortTerm  = "short_term"
	retentionMediumTerm = "medium_term"
	retentionLongTerm   = "long_term"
)

var contractDocumentTypes = map[string]bool{
	"LOAN": true, "MORTGAGE": true, "CREDIT_CARD": true, "OVERDRAFT": true,
	"SAVINGS": true, "FRAMEWORK": true, "COLLATERAL": true, "FACTORING": true,
}

var retentionCategories = map[string]bool{
	retentionPermanent: true, retentionShortTerm: true,
	retentionMediumTerm: true, retentionLongTerm: true,
}

// ValidateContractRow checks one row of a contracts sheet.
func ValidateContractRow(row sheets.Row, rowNumber int64) ValidationResult {
	var res ValidationResult

	requireField(&res, row, colContractNumber, "contract number")
	docType := requireField(&res, row, colDocumentType, "document type")
	if docType != "" && !contractDocumentTypes[docType] {
		res.AddError(model.ErrorCodeInvalidEnumValue, "document type is not in the allowed set", colDocumentType)
	}

	category := checkEnum(&res, row, colRetentionCategory, "retention category", retentionCategories)
	checkPositiveInt(&res, row, colRetentionMonths, "retention months")
	_, hasDue := checkDate(&res, row, colDueDate, "due date")
	destruction, hasDestruction := checkDate(&res, row, colDestructionDate, "destruction date")

	// Permanently retained records carry the sentinel far-future destruction
	// date; records without a due date are treated the same way.
	if category == retentionPermanent || (row.Get(colDueDate) == "" && !hasDue) {
		switch {
		case !hasDestruction:
			res.AddRuleError(model.ErrorCodeMissingRequiredField,
				"destruction date is required for permanently retained records",
				colDestructionDate, "destruction-date-permanent")
		case destruction.Year() != permanentDestructionYear:
			res.AddRuleError(model.ErrorCodeInvalidDateRange,
				"destruction date must be 31-Dec-9999 for permanently retained records",
				colDestructionDate, "destruction-date-permanent")
		}
	}

	if code := row.Get(colBoxCode); code != "" && !codePattern.MatchString(code) {
		res.AddRuleError(model.ErrorCodeInvalidFormat,
			"box code may only contain uppercase letters, digits, and underscore",
			colBoxCode, "box-code-format")
	}

	return res
}
