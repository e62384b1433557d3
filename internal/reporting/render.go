package reporting

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/marcus/dispatchd/internal/locale"
)

// Markdown renders the full report.
func (r *Report) Markdown() string {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# Performance Report - %s\n\n", r.Property)
	fmt.Fprintf(&buf, "_%s to %s (%d days)_\n\n", r.From.Format("2006-01-02"), r.To.Format("2006-01-02"), r.Days)

	buf.WriteString("## Totals\n")
	fmt.Fprintf(&buf, "- Tasks created: %d\n", r.TotalTasks)
	fmt.Fprintf(&buf, "- Tasks completed: %d\n", r.TotalDone)
	fmt.Fprintf(&buf, "- Completion rate: %d%%\n", r.CompletionRate)
	fmt.Fprintf(&buf, "- Average time: %s\n\n", formatMinutes(r.AvgMinutes))

	if r.Top != nil {
		fmt.Fprintf(&buf, "**Top performer:** %s (%d tasks, avg %s)\n\n", r.Top.Name, r.Top.Done, formatMinutes(r.Top.AvgMinutes))
	}

	if len(r.Workers) > 0 {
		buf.WriteString("## Workers\n")
		buf.WriteString("| Worker | Done | Avg |\n|---|---|---|\n")
		for _, w := range r.Workers {
			fmt.Fprintf(&buf, "| %s | %d | %s |\n", w.Name, w.Done, formatMinutes(w.AvgMinutes))
		}
		buf.WriteString("\n")
	}

	if hour, n := r.PeakHour(); n > 0 {
		buf.WriteString("## Load\n")
		fmt.Fprintf(&buf, "Busiest hour: %02d:00 UTC (%d events)\n\n", hour, n)
	}

	if r.Summary != "" {
		buf.WriteString("## Summary\n")
		buf.WriteString(r.Summary)
		buf.WriteString("\n")
	}
	return buf.String()
}

// Rows flattens the report into the spreadsheet layout: key/value totals,
// the worker table, the hourly table, then the summary. Sections are
// separated by an empty row.
func (r *Report) Rows() [][]string {
	rows := [][]string{
		{"Property", r.Property},
		{"Period", fmt.Sprintf("%d days", r.Days)},
		{"From", r.From.Format("2006-01-02")},
		{"To", r.To.Format("2006-01-02")},
		{},
		{"Total Tasks", strconv.Itoa(r.TotalTasks)},
		{"Tasks Completed", strconv.Itoa(r.TotalDone)},
		{"Completion Rate %", strconv.Itoa(r.CompletionRate)},
		{"Avg Minutes/Task", minutesCell(r.AvgMinutes)},
		{},
		{"Worker", "Tasks Done", "Avg Minutes"},
	}
	for _, w := range r.Workers {
		rows = append(rows, []string{w.Name, strconv.Itoa(w.Done), minutesCell(w.AvgMinutes)})
	}
	rows = append(rows, []string{}, []string{"Hour (UTC)", "Task Count"})
	for h, n := range r.HourlyLoad {
		rows = append(rows, []string{fmt.Sprintf("%02d:00", h), strconv.Itoa(n)})
	}
	rows = append(rows, []string{}, []string{"Summary", r.Summary})
	return rows
}

// WriteCSV writes Rows as CSV. Blank separator rows become empty lines,
// which CSV readers skip.
func (r *Report) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(r.Rows()); err != nil {
		return fmt.Errorf("writing csv: %w", err)
	}
	return nil
}

// WhatsAppText renders the short owner message. The header follows the
// tenant language.
func (g *Generator) WhatsAppText(ctx context.Context, r *Report) string {
	args := map[string]string{"property": r.Property}
	header := locale.Format(locale.English, locale.KeyReportHeader, args)
	if g.locale != nil {
		header = g.locale.Message(ctx, r.TenantID, "", locale.KeyReportHeader, args)
	}

	lines := []string{
		"*" + header + "*",
		fmt.Sprintf("%s to %s", r.From.Format("Jan 2"), r.To.Format("Jan 2")),
		fmt.Sprintf("Tasks completed: %d", r.TotalDone),
	}
	if r.Top != nil {
		lines = append(lines, fmt.Sprintf("Top performer: %s (%d tasks, avg %s)", r.Top.Name, r.Top.Done, formatMinutes(r.Top.AvgMinutes)))
	}
	lines = append(lines, fmt.Sprintf("Completion rate: %d%%", r.CompletionRate))
	if r.Summary != "" {
		lines = append(lines, "", r.Summary)
	}
	if r.DashboardURL != "" {
		lines = append(lines, "", r.DashboardURL)
	}
	return strings.Join(lines, "\n")
}

// Save writes the markdown report to path.
func Save(r *Report, path string) error {
	if r == nil {
		return fmt.Errorf("report cannot be nil")
	}
	path = expandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(r.Markdown()), 0o644); err != nil {
		return fmt.Errorf("writing report file: %w", err)
	}
	return nil
}

// DefaultReportsDir returns the default directory for saved reports.
func DefaultReportsDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "dispatchd", "reports")
}

// DefaultReportPath returns the default markdown path for a tenant report.
func DefaultReportPath(tenantID string, ts time.Time) string {
	return filepath.Join(DefaultReportsDir(),
		fmt.Sprintf("report-%s-%s.md", tenantID, ts.UTC().Format("2006-01-02")))
}

func formatMinutes(m *float64) string {
	if m == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f min", *m)
}

func minutesCell(m *float64) string {
	if m == nil {
		return ""
	}
	return strconv.FormatFloat(*m, 'f', 1, 64)
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
