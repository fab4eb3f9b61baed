package report_test

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/Reconcile/internal/core"
	_ "github.com/JonMunkholm/Reconcile/internal/flavors"
	"github.com/JonMunkholm/Reconcile/internal/report"
)

var rejections = core.RejectionReport{
	Accepted: 1,
	Rejected: []core.ValidationError{
		{RowIndex: 2, Line: 4, Column: "title", Message: "required field is empty"},
		{RowIndex: 3, Line: 5, Column: "note", Value: "=HYPERLINK(\"x\")", Message: "too long: 600 characters, limit is 500"},
	},
	Skipped:        []core.SkippedRow{{RowIndex: 1, Line: 3, Reason: core.SkipSentinel}},
	IgnoredColumns: []string{"Price"},
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    report.Format
		wantErr bool
	}{
		{in: "", want: report.FormatCSV},
		{in: "CSV", want: report.FormatCSV},
		{in: "xlsx", want: report.FormatXLSX},
		{in: "excel", want: report.FormatXLSX},
		{in: "pdf", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := report.ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, "rejections.xlsx", report.FormatXLSX.Filename("rejections"))
	assert.Contains(t, report.FormatCSV.ContentType(), "text/csv")
}

func TestWriteRejections_CSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, report.WriteRejections(&buf, report.FormatCSV, rejections))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)

	assert.Equal(t, []string{"line", "row", "outcome", "column", "value", "message"}, records[0])
	assert.Equal(t, []string{"4", "2", "rejected", "title", "", "required field is empty"}, records[1])
	assert.Equal(t, "'=HYPERLINK(\"x\")", records[2][4], "formula cells are escaped")
	assert.Equal(t, []string{"3", "1", "skipped", "", "", "sentinel"}, records[3])
}

func TestWriteRejections_XLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, report.WriteRejections(&buf, report.FormatXLSX, rejections))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Rejections", "Ignored Columns"}, f.GetSheetList())

	rows, err := f.GetRows("Rejections")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "outcome", rows[0][2])
	assert.Equal(t, "=HYPERLINK(\"x\")", rows[2][4], "xlsx stores values as strings")

	ignored, err := f.GetRows("Ignored Columns")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"column"}, {"Price"}}, ignored)
}

func TestWriteItems(t *testing.T) {
	f, err := core.Lookup("games")
	require.NoError(t, err)

	items := []*core.Item{
		{
			ID:           uuid.New(),
			RowIndex:     0,
			Subject:      "Chrono Trigger",
			Status:       core.ItemAdded,
			ResultReason: core.ReasonEntityCreated,
			CatalogID:    "ct-1995",
			CatalogTitle: "Chrono Trigger",
			Confidence:   core.ConfidenceExact,
			GroupKey:     core.ResolvedGroupKey("ct-1995"),
			Fields:       map[string]string{"title": "Chrono Trigger", "platform": "SNES", "ownership_type": "owned"},
		},
		{
			ID:           uuid.New(),
			RowIndex:     1,
			Subject:      "Tetris",
			Status:       core.ItemFailed,
			ResultReason: core.ReasonCandidateNotFound,
			ErrorText:    "no catalog entry matches \"Tetris\"",
			Fields:       map[string]string{"title": "Tetris"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, report.WriteItems(&buf, report.FormatCSV, f, items))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	header := records[0]
	assert.Equal(t, "row", header[0])
	assert.Equal(t, "title", header[9])
	assert.Len(t, header, 9+len(f.Fields))

	assert.Equal(t, "ADDED", records[1][2])
	assert.Equal(t, "catalog:ct-1995", records[1][7])
	assert.Equal(t, "SNES", records[1][10])
	assert.Equal(t, "FAILED", records[2][2])
	assert.Equal(t, "", records[2][4])
}

func TestWriteTemplate(t *testing.T) {
	f, err := core.Lookup("history")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, report.WriteTemplate(&buf, report.FormatXLSX, f))

	x, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer x.Close()

	sheet := x.GetSheetList()[0]
	rows, err := x.GetRows(sheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"round", "kind", "label", "title", "position", "catalog_id", "note"}, rows[0])
	assert.Equal(t, "1", rows[1][0])
	assert.Equal(t, "main", rows[1][1])
	assert.Equal(t, "EXAMPLE ROW", rows[1][3])

	// The template row round-trips through the importer as a skipped row.
	var csvBuf bytes.Buffer
	require.NoError(t, report.WriteTemplate(&csvBuf, report.FormatCSV, f))
	pf, err := core.Parse(&csvBuf, f)
	require.NoError(t, err)
	rep := core.NewRowValidator(f).Validate(pf.Rows)
	assert.Empty(t, rep.Accepted)
	require.Len(t, rep.Skipped, 1)
	assert.Equal(t, core.SkipSentinel, rep.Skipped[0].Reason)
}
