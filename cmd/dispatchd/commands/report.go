package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/dispatchd/internal/reporting"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate the team performance report",
	Long: `Generate the performance report for the last --days days: totals,
per-worker completions and average minutes, the top performer and the
hourly load.

Output is markdown by default. Use --csv or --xlsx to export the
spreadsheet layout, --save to write the markdown under the reports
directory, and --send to queue the WhatsApp summary to the owner.`,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().Int("days", reporting.DefaultDays, "Days to cover")
	reportCmd.Flags().Bool("csv", false, "Write CSV to stdout")
	reportCmd.Flags().String("xlsx", "", "Write an Excel workbook to this path")
	reportCmd.Flags().Bool("save", false, "Save markdown to the reports directory")
	reportCmd.Flags().String("output", "", "Save markdown to this path")
	reportCmd.Flags().Bool("send", false, "Queue the report to the owner and top performer")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	days, _ := cmd.Flags().GetInt("days")
	asCSV, _ := cmd.Flags().GetBool("csv")
	xlsxPath, _ := cmd.Flags().GetString("xlsx")
	save, _ := cmd.Flags().GetBool("save")
	output, _ := cmd.Flags().GetString("output")
	send, _ := cmd.Flags().GetBool("send")
	tenant := tenantFlag(cmd)

	return withApp(func(a *app) error {
		if days <= 0 {
			days = a.cfg.Report.Days
		}

		var r *reporting.Report
		if send {
			d, err := a.reports.Send(cmd.Context(), tenant, days)
			if err != nil {
				return err
			}
			r = d.Report
			fmt.Fprintf(cmd.ErrOrStderr(), "Report queued (owner: %t, top performer: %t)\n", d.Owner, d.Congratulate)
		} else {
			var err error
			if r, err = a.reports.Generate(cmd.Context(), tenant, days); err != nil {
				return err
			}
		}

		if xlsxPath != "" {
			if err := r.SaveXLSX(xlsxPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Workbook written to %s\n", xlsxPath)
		}
		if save && output == "" {
			output = reporting.DefaultReportPath(tenant, time.Now())
		}
		if output != "" {
			if err := reporting.Save(r, output); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Report saved to %s\n", output)
		}

		switch {
		case jsonFlag(cmd):
			return printJSON(cmd, r)
		case asCSV:
			return r.WriteCSV(cmd.OutOrStdout())
		case xlsxPath != "" || output != "":
			return nil
		}
		_, err := fmt.Fprint(cmd.OutOrStdout(), r.Markdown())
		return err
	})
}
