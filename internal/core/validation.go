package core

// validation.go implements the Row Validator.
//
// Validation is pure: it never touches the network, the catalog or a store,
// so it can run on literal row fixtures. Each row yields either a Record or
// one or more ValidationErrors. A row with any error is excluded entirely;
// errors in one row never block the others. Fully blank rows and template
// example rows are skipped silently.

import (
	"fmt"
	"strconv"
	"strings"
)

// Skip reasons reported for rows that are neither accepted nor rejected.
const (
	SkipBlank    = "blank"
	SkipSentinel = "sentinel"
)

// Record is a validated row with cleaned canonical values.
type Record struct {
	RowIndex int
	Line     int
	Values   map[string]string
}

// Get returns the cleaned value of a canonical field.
func (r Record) Get(name string) string {
	return r.Values[name]
}

// SkippedRow is a row dropped before validation.
type SkippedRow struct {
	RowIndex int    `json:"rowIndex"`
	Line     int    `json:"line"`
	Reason   string `json:"reason"`
}

// ValidationReport is the outcome of validating every row of a file.
type ValidationReport struct {
	Accepted []Record
	Rejected []ValidationError
	Skipped  []SkippedRow
}

// RejectedRows returns the number of distinct rows with errors.
func (r ValidationReport) RejectedRows() int {
	seen := make(map[int]bool)
	for _, e := range r.Rejected {
		seen[e.RowIndex] = true
	}
	return len(seen)
}

// RowValidator validates rows against a flavor's field specifications.
type RowValidator struct {
	flavor *Flavor
}

// NewRowValidator creates a validator for the given flavor.
func NewRowValidator(f *Flavor) *RowValidator {
	return &RowValidator{flavor: f}
}

// Validate validates all rows and partitions them.
func (v *RowValidator) Validate(rows []Row) ValidationReport {
	var report ValidationReport
	for _, row := range rows {
		rec, errs, skip := v.ValidateRow(row)
		switch {
		case skip != "":
			report.Skipped = append(report.Skipped, SkippedRow{RowIndex: row.Index, Line: row.Line, Reason: skip})
		case len(errs) > 0:
			report.Rejected = append(report.Rejected, errs...)
		default:
			report.Accepted = append(report.Accepted, rec)
		}
	}
	return report
}

// ValidateRow validates a single row. A non-empty skip reason means the row
// is ignored and neither rec nor errs are meaningful.
func (v *RowValidator) ValidateRow(row Row) (rec Record, errs []ValidationError, skip string) {
	if isBlankRow(row) {
		return Record{}, nil, SkipBlank
	}
	if v.isSentinel(row) {
		return Record{}, nil, SkipSentinel
	}

	rec = Record{RowIndex: row.Index, Line: row.Line, Values: make(map[string]string, len(v.flavor.Fields))}
	fail := func(spec FieldSpec, value, msg string) {
		errs = append(errs, ValidationError{
			RowIndex: row.Index,
			Line:     row.Line,
			Column:   spec.Name,
			Value:    value,
			Message:  msg,
		})
	}

	for _, spec := range v.flavor.Fields {
		raw := CleanCell(row.Values[spec.Name])
		val, err := ValidateCell(raw, spec)
		if err != nil {
			fail(spec, raw, err.Error())
			continue
		}
		rec.Values[spec.Name] = val
	}

	var setIDs []string
	for _, name := range v.flavor.ExclusiveIDs {
		if rec.Values[name] != "" {
			setIDs = append(setIDs, name)
		}
	}
	if len(setIDs) > 1 {
		spec, _ := v.flavor.Field(setIDs[1])
		fail(spec, rec.Values[setIDs[1]],
			fmt.Sprintf("only one of %s may be set", strings.Join(v.flavor.ExclusiveIDs, ", ")))
	}

	if len(errs) > 0 {
		return Record{}, errs, ""
	}
	return rec, nil, ""
}

// ValidateCell cleans and checks one value against its field specification.
// It returns the canonical value to store.
func ValidateCell(value string, spec FieldSpec) (string, error) {
	switch spec.Type {
	case FieldEnum:
		if value == "" {
			if spec.Default == "" && spec.Required {
				return "", fmt.Errorf("required field is empty")
			}
			return spec.Default, nil
		}
		for _, ev := range spec.EnumValues {
			if strings.EqualFold(ev, value) {
				return ev, nil
			}
		}
		return "", fmt.Errorf("invalid enum value %q: must be one of %s", value, strings.Join(spec.EnumValues, ", "))

	case FieldPositiveInt:
		if value == "" {
			if spec.Required {
				return "", fmt.Errorf("required field is empty")
			}
			return "", nil
		}
		n, ok := ParsePositiveInt(value)
		if !ok {
			return "", fmt.Errorf("invalid number %q: must be a positive integer", value)
		}
		return strconv.Itoa(n), nil

	default:
		value = StripControl(value)
		if value == "" {
			if spec.Required {
				return "", fmt.Errorf("required field is empty")
			}
			return "", nil
		}
		if spec.MaxLen > 0 && runeLen(value) > spec.MaxLen {
			return "", fmt.Errorf("too long: %d characters, limit is %d", runeLen(value), spec.MaxLen)
		}
		return value, nil
	}
}

// isSentinel reports whether any descriptive column holds the template marker.
func (v *RowValidator) isSentinel(row Row) bool {
	if v.flavor.Sentinel == "" {
		return false
	}
	for _, spec := range v.flavor.Fields {
		if !spec.Descriptive {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(row.Values[spec.Name]), v.flavor.Sentinel) {
			return true
		}
	}
	return false
}

// isBlankRow reports whether every mapped cell is empty.
func isBlankRow(row Row) bool {
	for _, v := range row.Values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
