package validation

import (
	"regexp"
	"time"

	"github.com/neobrutalism/crm-migration/internal/domain/model"
	"github.com/neobrutalism/crm-migration/internal/sheets"
)

// Customer sheet columns.
const (
	colCustomerCode = "customer_code"
	colCustomerName = "customer_name"
	colCustomerType = "customer_type"
	colEmail        = "email"
	colPhone        = "phone"
	colBirthDate    = "birth_date"
)

var customerTypes = map[string]bool{
	"INDIVIDUAL": true, "CORPORATE": true, "HOUSEHOLD": true,
}

var phonePattern = regexp.MustCompile(`^\+?[0-9 .-]{7,20}$`)

// NewCustomerRowValidator returns the customers sheet validator. The future
// birth-date rule compares against ref rather than the wall clock, so a given
// row always yields the same result no matter when the job runs.
func NewCustomerRowValidator(ref time.Time) RowValidator {
	return func(row sheets.Row, _ int64) ValidationResult {
		var res ValidationResult

		code := requireField(&res, row, colCustomerCode, "customer code")
		if code != "" && !codePattern.MatchString(code) {
			res.AddRuleError(model.ErrorCodeInvalidFormat,
				"customer code may only contain uppercase letters, digits, and underscore",
				colCustomerCode, "customer-code-format")
		}
		requireField(&res, row, colCustomerName, "customer name")
		checkEnum(&res, row, colCustomerType, "customer type", customerTypes)

		if email := row.Get(colEmail); email != "" && !emailPattern.MatchString(email) {
			res.AddError(model.ErrorCodeInvalidFormat, "email is not a valid address", colEmail)
		}
		if phone := row.Get(colPhone); phone != "" && !phonePattern.MatchString(phone) {
			res.AddError(model.ErrorCodeInvalidFormat, "phone number is not valid", colPhone)
		}

		if birth, ok := checkDate(&res, row, colBirthDate, "birth date"); ok {
			if birth.After(ref) {
				res.AddError(model.ErrorCodeInvalidDateRange, "birth date cannot be in the future", colBirthDate)
			}
		}

		return res
	}
}
