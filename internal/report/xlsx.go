package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// maxSheetName is Excel's limit on sheet name length.
const maxSheetName = 31

func writeXLSX(w io.Writer, tables []table) error {
	f := excelize.NewFile()
	defer f.Close()

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("xlsx style: %w", err)
	}

	for i, t := range tables {
		sheet := sheetName(t.Name, i)
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sheet); err != nil {
				return fmt.Errorf("xlsx rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("xlsx new sheet: %w", err)
		}

		if err := writeSheet(f, sheet, t, bold); err != nil {
			return err
		}
	}

	f.SetActiveSheet(0)
	if err := f.Write(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, t table, headerStyle int) error {
	header := make([]any, len(t.Header))
	for i, h := range t.Header {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("xlsx header: %w", err)
	}
	if err := f.SetRowStyle(sheet, 1, 1, headerStyle); err != nil {
		return fmt.Errorf("xlsx header style: %w", err)
	}

	for r, row := range t.Rows {
		cells := make([]any, len(row))
		for i, v := range row {
			cells[i] = v
		}
		cell, _ := excelize.CoordinatesToCellName(1, r+2)
		if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
			return fmt.Errorf("xlsx row %d: %w", r+2, err)
		}
	}

	for col, width := range t.Widths {
		if col > len(t.Header) {
			continue
		}
		name, _ := excelize.ColumnNumberToName(col)
		_ = f.SetColWidth(sheet, name, name, width)
	}

	if len(t.Header) > 0 {
		// Freeze the header row.
		_ = f.SetPanes(sheet, &excelize.Panes{
			Freeze:      true,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		})
	}
	return nil
}

// sheetName trims to Excel's limit and falls back to a numbered name.
func sheetName(name string, i int) string {
	if name == "" {
		return fmt.Sprintf("Sheet%d", i+1)
	}
	r := []rune(name)
	if len(r) > maxSheetName {
		r = r[:maxSheetName]
	}
	return string(r)
}
