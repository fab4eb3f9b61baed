// Package report renders import data as downloadable CSV or XLSX files:
// the rejection report produced before a session starts, the per-item export
// of a session, and blank flavor templates.
package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/JonMunkholm/Reconcile/internal/core"
)

// Format is an output file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat accepts "csv" or "xlsx" (case-insensitive). Empty means CSV.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return FormatCSV, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("unsupported report format %q", s)
	}
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Filename builds a download name with the format's extension.
func (f Format) Filename(base string) string {
	return base + "." + string(f)
}

// table is one sheet of output.
type table struct {
	Name   string
	Header []string
	Rows   [][]string
	Widths map[int]float64 // 1-based column -> width, XLSX only
}

// write renders tables in the given format. CSV output holds only the first
// table.
func write(w io.Writer, format Format, tables ...table) error {
	switch format {
	case FormatXLSX:
		return writeXLSX(w, tables)
	case FormatCSV, "":
		if len(tables) == 0 {
			return nil
		}
		return writeCSV(w, tables[0])
	default:
		return fmt.Errorf("unsupported report format %q", format)
	}
}

// Rejection outcomes in the report's outcome column.
const (
	OutcomeRejected = "rejected"
	OutcomeSkipped  = "skipped"
)

// WriteRejections renders the rows excluded before a session was created.
// Each validation error is its own line; skipped rows follow in row order.
func WriteRejections(w io.Writer, format Format, rep core.RejectionReport) error {
	t := table{
		Name:   "Rejections",
		Header: []string{"line", "row", "outcome", "column", "value", "message"},
		Widths: map[int]float64{3: 12, 4: 18, 5: 30, 6: 60},
	}
	for _, e := range rep.Rejected {
		t.Rows = append(t.Rows, []string{
			strconv.Itoa(e.Line),
			strconv.Itoa(e.RowIndex),
			OutcomeRejected,
			e.Column,
			e.Value,
			e.Message,
		})
	}
	for _, s := range rep.Skipped {
		t.Rows = append(t.Rows, []string{
			strconv.Itoa(s.Line),
			strconv.Itoa(s.RowIndex),
			OutcomeSkipped,
			"",
			"",
			s.Reason,
		})
	}

	tables := []table{t}
	if len(rep.IgnoredColumns) > 0 {
		ignored := table{Name: "Ignored Columns", Header: []string{"column"}}
		for _, c := range rep.IgnoredColumns {
			ignored.Rows = append(ignored.Rows, []string{c})
		}
		tables = append(tables, ignored)
	}
	return write(w, format, tables...)
}

// itemColumns are the fixed leading columns of an item export.
var itemColumns = []string{
	"row", "subject", "status", "reason", "catalog_id", "catalog_title",
	"confidence", "group_key", "error",
}

// WriteItems renders every item of a session followed by the flavor's
// validated fields. Items must already be in row order.
func WriteItems(w io.Writer, format Format, f *core.Flavor, items []*core.Item) error {
	header := append([]string{}, itemColumns...)
	for _, spec := range f.Fields {
		header = append(header, spec.Name)
	}

	t := table{
		Name:   "Items",
		Header: header,
		Widths: map[int]float64{2: 32, 4: 20, 6: 32, 8: 20, 9: 48},
	}
	for _, it := range items {
		row := []string{
			strconv.Itoa(it.RowIndex),
			it.Subject,
			string(it.Status),
			string(it.ResultReason),
			it.CatalogID,
			it.CatalogTitle,
			string(it.Confidence),
			it.GroupKey,
			it.ErrorText,
		}
		for _, spec := range f.Fields {
			row = append(row, it.Fields[spec.Name])
		}
		t.Rows = append(t.Rows, row)
	}
	return write(w, format, t)
}

// WriteTemplate renders an empty import file for a flavor: the canonical
// header plus one example row carrying the sentinel, which the importer skips.
func WriteTemplate(w io.Writer, format Format, f *core.Flavor) error {
	t := table{Name: f.Label}
	if t.Name == "" {
		t.Name = f.Key
	}

	example := make([]string, 0, len(f.Fields))
	for _, spec := range f.Fields {
		t.Header = append(t.Header, spec.Name)
		example = append(example, exampleValue(f, spec))
	}
	t.Rows = [][]string{example}
	return write(w, format, t)
}

func exampleValue(f *core.Flavor, spec core.FieldSpec) string {
	switch {
	case spec.Name == f.SubjectField && f.Sentinel != "":
		return f.Sentinel
	case spec.Type == core.FieldEnum:
		if spec.Default != "" {
			return spec.Default
		}
		if len(spec.EnumValues) > 0 {
			return spec.EnumValues[0]
		}
	case spec.Type == core.FieldPositiveInt && spec.Required:
		return "1"
	}
	return ""
}
