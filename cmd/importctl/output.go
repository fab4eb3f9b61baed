package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/olekukonko/tablewriter"

	"github.com/JonMunkholm/Reconcile/internal/core"
)

// tableData is a rendered table: headers plus string rows.
type tableData struct {
	Headers []string
	Rows    [][]string
}

// emit writes v in the selected output format. table builds the table
// form; nil falls back to JSON.
func emit(w io.Writer, format string, v any, table func() tableData) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "yml":
		out, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		_, err = w.Write(out)
		return err
	case "table", "":
		if table == nil {
			return emit(w, "json", v, nil)
		}
		return renderTable(w, table())
	default:
		return fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
	}
}

func renderTable(w io.Writer, data tableData) error {
	table := tablewriter.NewTable(w)
	if len(data.Headers) > 0 {
		headers := make([]any, len(data.Headers))
		for i, h := range data.Headers {
			headers[i] = h
		}
		table.Header(headers...)
	}
	for _, row := range data.Rows {
		cells := make([]any, len(row))
		for i, cell := range row {
			cells[i] = cell
		}
		if err := table.Append(cells...); err != nil {
			return err
		}
	}
	return table.Render()
}

func statusTable(v *core.StatusView) tableData {
	s := v.Session
	data := tableData{
		Headers: []string{"Field", "Value"},
		Rows: [][]string{
			{"Import", s.ID.String()},
			{"Owner", s.OwnerID},
			{"Flavor", s.Flavor},
			{"Status", string(s.Status)},
			{"Source", s.SourceName},
			{"Progress", fmt.Sprintf("%d%% (%d of %d rows)", v.Percent, s.CurrentIndex+1, s.TotalCount)},
		},
	}
	for _, st := range []core.ItemStatus{core.ItemPending, core.ItemAdded, core.ItemUpdated, core.ItemImported, core.ItemSkipped, core.ItemFailed} {
		if n := v.Counts[st]; n > 0 {
			data.Rows = append(data.Rows, []string{string(st), strconv.Itoa(n)})
		}
	}
	if s.Prompt != nil {
		data.Rows = append(data.Rows, []string{"Waiting on", fmt.Sprintf("row %d: %s", s.Prompt.RowIndex+1, s.Prompt.Subject)})
	}
	return data
}

func candidateTable(p *core.PendingPrompt) tableData {
	data := tableData{Headers: []string{"#", "ID", "Title", "Year", "Platforms"}}
	for i, c := range p.Candidates {
		year := ""
		if c.Year > 0 {
			year = strconv.Itoa(c.Year)
		}
		data.Rows = append(data.Rows, []string{strconv.Itoa(i + 1), c.ID, c.Title, year, strings.Join(c.Platforms, ", ")})
	}
	return data
}

func itemTable(items []*core.Item) tableData {
	data := tableData{Headers: []string{"Row", "Subject", "Status", "Reason", "Catalog ID", "Error"}}
	for _, it := range items {
		data.Rows = append(data.Rows, []string{
			strconv.Itoa(it.RowIndex + 1),
			it.Subject,
			string(it.Status),
			string(it.ResultReason),
			it.CatalogID,
			it.ErrorText,
		})
	}
	return data
}

func rejectionTable(rep core.RejectionReport) tableData {
	data := tableData{Headers: []string{"Line", "Column", "Value", "Problem"}}
	for _, e := range rep.Rejected {
		data.Rows = append(data.Rows, []string{strconv.Itoa(e.Line), e.Column, e.Value, e.Message})
	}
	return data
}

func auditTable(entries []core.AuditEntry) tableData {
	data := tableData{Headers: []string{"Time", "Action", "Group", "Detail"}}
	for _, e := range entries {
		data.Rows = append(data.Rows, []string{e.CreatedAt.Format("2006-01-02 15:04:05"), string(e.Action), e.GroupKey, e.Detail})
	}
	return data
}

func flavorTable(flavors []core.FlavorInfo) tableData {
	data := tableData{Headers: []string{"Key", "Label", "Required", "Columns"}}
	for _, f := range flavors {
		data.Rows = append(data.Rows, []string{f.Key, f.Label, strings.Join(f.Required, ", "), strings.Join(f.Columns, ", ")})
	}
	return data
}
