package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

func writeCSV(w io.Writer, t table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range t.Rows {
		if err := cw.Write(escapeRow(row)); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// escapeRow prefixes cells a spreadsheet would evaluate as formulas.
func escapeRow(row []string) []string {
	var out []string
	for i, v := range row {
		if v == "" || !strings.ContainsRune("=+-@\t\r", rune(v[0])) {
			continue
		}
		if out == nil {
			out = append([]string(nil), row...)
		}
		out[i] = "'" + v
	}
	if out == nil {
		return row
	}
	return out
}
