package core

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"testing"
)

// benchFlavor mirrors the shape of a grouped importer without touching the
// global registry.
var benchFlavor = &Flavor{
	Key:           "bench",
	SubjectField:  "title",
	ExclusiveIDs:  []string{"catalog_id"},
	SharedField:   "label",
	PositionField: "position",
	Sentinel:      "EXAMPLE ROW",
	Fields: []FieldSpec{
		{Name: "round", Type: FieldPositiveInt, Required: true, Aliases: []string{"month"}},
		{Name: "kind", Type: FieldEnum, EnumValues: []string{"main", "bonus"}, Default: "main"},
		{Name: "label", Required: true, MaxLen: 120, Descriptive: true},
		{Name: "title", Required: true, MaxLen: 200, Aliases: []string{"game title"}, Descriptive: true},
		{Name: "position", Type: FieldPositiveInt},
		{Name: "catalog_id", MaxLen: 64},
		{Name: "note", MaxLen: 500, Descriptive: true},
	},
}

// ============================================================================
// Cell Cleanup Benchmarks
// ============================================================================

// BenchmarkCleanCell benchmarks cell cleanup on typical spreadsheet values.
func BenchmarkCleanCell(b *testing.B) {
	testCases := []string{
		"Chrono Trigger",
		"  padded  ",
		`="00123"`,
		"=1234",
		"",
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, tc := range testCases {
			CleanCell(tc)
		}
	}
}

// BenchmarkParsePositiveInt benchmarks integer parsing with separators.
func BenchmarkParsePositiveInt(b *testing.B) {
	testCases := []string{"12", "1,234", "7.0", "abc", "-3"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, tc := range testCases {
			ParsePositiveInt(tc)
		}
	}
}

// ============================================================================
// Normalization Benchmarks
// ============================================================================

// BenchmarkNormalizeTitle benchmarks title folding, which runs once per
// search candidate.
func BenchmarkNormalizeTitle(b *testing.B) {
	testCases := []string{
		"Chrono Trigger",
		"Pokémon: Red Version",
		"Dragon Quest III HD-2D Remake",
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		for _, tc := range testCases {
			NormalizeTitle(tc)
		}
	}
}

// BenchmarkNormalizeHeader benchmarks header folding.
func BenchmarkNormalizeHeader(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		NormalizeHeader(" Steam App-ID ")
	}
}

// ============================================================================
// Parse and Validate Benchmarks
// ============================================================================

// BenchmarkParse benchmarks parsing files of increasing size.
func BenchmarkParse(b *testing.B) {
	for _, rows := range []int{100, 1000} {
		data := generateTestCSV(rows)
		b.Run(fmt.Sprintf("rows_%d", rows), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := Parse(bytes.NewReader(data), benchFlavor); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkRowValidator benchmarks full-file validation.
func BenchmarkRowValidator(b *testing.B) {
	data := generateTestCSV(1000)
	pf, err := Parse(bytes.NewReader(data), benchFlavor)
	if err != nil {
		b.Fatal(err)
	}
	v := NewRowValidator(benchFlavor)

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		v.Validate(pf.Rows)
	}
}

// BenchmarkValidateCell benchmarks single-cell validation per field type.
func BenchmarkValidateCell(b *testing.B) {
	specs := []struct {
		name  string
		spec  FieldSpec
		value string
	}{
		{"text", FieldSpec{Name: "title", MaxLen: 200}, "Chrono Trigger"},
		{"int_valid", FieldSpec{Name: "round", Type: FieldPositiveInt}, "1,200"},
		{"int_invalid", FieldSpec{Name: "round", Type: FieldPositiveInt}, "first"},
		{"enum_valid", FieldSpec{Name: "kind", Type: FieldEnum, EnumValues: []string{"main", "bonus"}}, "Bonus"},
	}

	for _, s := range specs {
		b.Run(s.name, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				ValidateCell(s.value, s.spec)
			}
		})
	}
}

// ============================================================================
// Helper Functions
// ============================================================================

// generateTestCSV generates a history-shaped file with the given row count.
func generateTestCSV(rows int) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	w.Write([]string{"Month", "Kind", "Label", "Game Title", "Position", "Note"})
	for i := 0; i < rows; i++ {
		w.Write([]string{
			fmt.Sprint(i/3 + 1),
			"main",
			fmt.Sprintf("Round %d", i/3+1),
			"Chrono Trigger",
			fmt.Sprint(i%3 + 1),
			"imported from the club sheet",
		})
	}
	w.Flush()

	return buf.Bytes()
}
