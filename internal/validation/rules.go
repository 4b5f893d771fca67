package validation

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/neobrutalism/crm-migration/internal/domain/model"
	"github.com/neobrutalism/crm-migration/internal/sheets"
)

// codePattern matches box and volume codes: uppercase letters, digits, and
// underscore only.
var codePattern = regexp.MustCompile(`^[A-Z0-9_]+$`)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

var dateLayouts = []string{"2006-01-02", "02/01/2006", "01-02-2006"}

// permanentDestructionYear marks records retained indefinitely.
const permanentDestructionYear = 9999

func requireField(res *ValidationResult, row sheets.Row, field, label string) string {
	v := strings.TrimSpace(row.Get(field))
	if v == "" {
		res.AddError(model.ErrorCodeMissingRequiredField, label+" is required", field)
	}
	return v
}

func checkEnum(res *ValidationResult, row sheets.Row, field, label string, allowed map[string]bool) string {
	v := strings.TrimSpace(row.Get(field))
	if v == "" {
		return ""
	}
	if !allowed[v] {
		res.AddError(model.ErrorCodeInvalidEnumValue, label+" is not in the allowed set", field)
	}
	return v
}

// checkPositiveInt validates an optional positive integer column. Returns the
// parsed value and whether it was present and valid.
func checkPositiveInt(res *ValidationResult, row sheets.Row, field, label string) (int64, bool) {
	v := strings.TrimSpace(row.Get(field))
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		res.AddError(model.ErrorCodeInvalidNumber, label+" must be a positive integer", field)
		return 0, false
	}
	return n, true
}

// checkDate validates an optional date column. Returns the parsed date and
// whether it was present and valid.
func checkDate(res *ValidationResult, row sheets.Row, field, label string) (time.Time, bool) {
	v := strings.TrimSpace(row.Get(field))
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	res.AddError(model.ErrorCodeInvalidFormat, label+" is not a recognized date", field)
	return time.Time{}, false
}
