package core

// parser.go implements the Row Parser.
//
// Source files go through WrapSource (BOM removal, UTF-8 repair, byte
// counting) and encoding/csv, which handles quoted fields, doubled quotes,
// embedded delimiters and newlines, and both CRLF and LF line endings.
// The header row is mapped to canonical field names through the flavor's
// alias table; unknown columns are ignored and every missing required
// column is reported before the parse aborts.

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Row is one data row keyed by canonical field name.
type Row struct {
	Index  int               // 0-based position among data rows
	Line   int               // 1-based source line where the row starts
	Values map[string]string // canonical field -> raw cell
}

// ParsedFile is the mapped header plus all data rows of a source file.
type ParsedFile struct {
	Columns   []string // canonical field per source column, "" when ignored
	Ignored   []string // source headers that matched no field
	Rows      []Row
	BytesRead int64
}

// Parse reads a delimited source file for the given flavor.
// On failure the returned error is a ParseErrors list and no rows are returned.
func Parse(r io.Reader, f *Flavor) (*ParsedFile, error) {
	src, counter := WrapSource(r)

	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ParseErrors{{Message: "empty file: no header row"}}
	}
	if err != nil {
		return nil, ParseErrors{fromCSVError(err)}
	}

	columns, ignored, perrs := MapHeader(header, f)
	if len(perrs) > 0 {
		return nil, perrs
	}

	pf := &ParsedFile{Columns: columns, Ignored: ignored}
	for idx := 0; ; idx++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, ParseErrors{fromCSVError(err)}
		}
		line, _ := cr.FieldPos(0)

		row := Row{Index: idx, Line: line, Values: make(map[string]string, len(f.Fields))}
		for i, col := range columns {
			if col == "" {
				continue
			}
			if i < len(rec) {
				row.Values[col] = rec[i]
			} else {
				row.Values[col] = ""
			}
		}
		pf.Rows = append(pf.Rows, row)
	}

	if len(pf.Rows) == 0 {
		return nil, ParseErrors{{Line: 1, Message: "empty file: header row has no data rows"}}
	}

	pf.BytesRead = counter.BytesRead
	return pf, nil
}

// MapHeader maps source headers to canonical field names.
// The returned slice is parallel to header; ignored columns map to "".
// When two headers map to the same field the first one wins.
func MapHeader(header []string, f *Flavor) ([]string, []string, ParseErrors) {
	lookup := make(map[string]string)
	for _, spec := range f.Fields {
		lookup[NormalizeHeader(spec.Name)] = spec.Name
		for _, alias := range spec.Aliases {
			lookup[NormalizeHeader(alias)] = spec.Name
		}
	}

	columns := make([]string, len(header))
	seen := make(map[string]bool)
	var ignored []string
	for i, h := range header {
		name, ok := lookup[NormalizeHeader(h)]
		if !ok || seen[name] {
			if strings.TrimSpace(h) != "" {
				ignored = append(ignored, h)
			}
			continue
		}
		seen[name] = true
		columns[i] = name
	}

	var errs ParseErrors
	for _, name := range f.RequiredFields() {
		if !seen[name] {
			errs = append(errs, &ParseError{Line: 1, Column: name, Message: "missing required column"})
		}
	}
	return columns, ignored, errs
}

// fromCSVError converts an encoding/csv error to a ParseError.
func fromCSVError(err error) *ParseError {
	var ce *csv.ParseError
	if !errors.As(err, &ce) {
		return &ParseError{Message: fmt.Sprintf("read failed: %v", err), Err: err}
	}

	switch {
	case errors.Is(ce.Err, csv.ErrQuote):
		return &ParseError{
			Line:    ce.StartLine,
			Message: fmt.Sprintf("unterminated quoted field (or text after a closing quote) at line %d column %d", ce.Line, ce.Column),
			Err:     err,
		}
	case errors.Is(ce.Err, csv.ErrBareQuote):
		return &ParseError{
			Line:    ce.StartLine,
			Message: fmt.Sprintf("bare quote in unquoted field at column %d", ce.Column),
			Err:     err,
		}
	default:
		return &ParseError{Line: ce.StartLine, Message: ce.Err.Error(), Err: err}
	}
}
