package reporting

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"
)

const (
	sheetSummary = "Summary"
	sheetWorkers = "Workers"
	sheetHourly  = "Hourly"
)

// Workbook builds an xlsx workbook with summary, worker and hourly sheets.
// The caller closes it.
func (r *Report) Workbook() (*excelize.File, error) {
	f := excelize.NewFile()

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6E6FA"}, Pattern: 1},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("creating header style: %w", err)
	}

	summary := [][]any{
		{"Property", r.Property},
		{"From", r.From.Format("2006-01-02")},
		{"To", r.To.Format("2006-01-02")},
		{"Total Tasks", r.TotalTasks},
		{"Tasks Completed", r.TotalDone},
		{"Completion Rate %", r.CompletionRate},
		{"Avg Minutes/Task", minutesValue(r.AvgMinutes)},
		{"Summary", r.Summary},
	}
	if r.Top != nil {
		summary = append(summary, []any{"Top Performer", r.Top.Name})
	}

	workers := [][]any{{"Worker", "Tasks Done", "Avg Minutes"}}
	for _, w := range r.Workers {
		workers = append(workers, []any{w.Name, w.Done, minutesValue(w.AvgMinutes)})
	}

	hourly := [][]any{{"Hour (UTC)", "Task Count"}}
	for h, n := range r.HourlyLoad {
		hourly = append(hourly, []any{fmt.Sprintf("%02d:00", h), n})
	}

	sheets := []struct {
		name      string
		rows      [][]any
		headerRow bool
	}{
		{sheetSummary, summary, false},
		{sheetWorkers, workers, true},
		{sheetHourly, hourly, true},
	}
	for i, sh := range sheets {
		index, err := f.NewSheet(sh.name)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("creating sheet %s: %w", sh.name, err)
		}
		if i == 0 {
			f.SetActiveSheet(index)
		}
		if err := fillSheet(f, sh.name, sh.rows); err != nil {
			f.Close()
			return nil, err
		}
		if sh.headerRow {
			_ = f.SetRowStyle(sh.name, 1, 1, header)
		} else {
			_ = f.SetColStyle(sh.name, "A", header)
		}
		_ = f.SetColWidth(sh.name, "A", "C", 20)
	}

	if err := f.DeleteSheet("Sheet1"); err != nil {
		f.Close()
		return nil, fmt.Errorf("removing default sheet: %w", err)
	}
	return f, nil
}

func fillSheet(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("writing %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

// WriteXLSX writes the workbook to w.
func (r *Report) WriteXLSX(w io.Writer) error {
	f, err := r.Workbook()
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing xlsx: %w", err)
	}
	return nil
}

// SaveXLSX writes the workbook to path.
func (r *Report) SaveXLSX(path string) error {
	path = expandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating xlsx file: %w", err)
	}
	if err := r.WriteXLSX(out); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func minutesValue(m *float64) any {
	if m == nil {
		return ""
	}
	return *m
}
