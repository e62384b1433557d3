package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/dispatchd/internal/audit"
	"github.com/marcus/dispatchd/internal/config"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the task and staff change trail",
	Long: `Show the audit trail written by "dispatchd serve" for one day.
Entries are filtered to --tenant unless --all is given.`,
	RunE: runAudit,
}

func init() {
	auditCmd.Flags().String("date", "today", "Day (today, yesterday, YYYY-MM-DD)")
	auditCmd.Flags().Bool("all", false, "Show every tenant")
	auditCmd.Flags().String("task", "", "Only entries for this task id")
	rootCmd.AddCommand(auditCmd)
}

func runAudit(cmd *cobra.Command, args []string) error {
	raw, _ := cmd.Flags().GetString("date")
	day, err := parseTimeInput(raw, time.UTC)
	if err != nil {
		return err
	}
	all, _ := cmd.Flags().GetBool("all")
	taskID, _ := cmd.Flags().GetString("task")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	entries, err := audit.Read(audit.PathFor(cfg.ExpandedAuditPath(), day))
	if err != nil {
		return err
	}

	tenant := tenantFlag(cmd)
	var out []audit.Entry
	for _, e := range entries {
		if !all && e.TenantID != tenant {
			continue
		}
		if taskID != "" && e.TaskID != taskID {
			continue
		}
		out = append(out, e)
	}

	if jsonFlag(cmd) {
		return printJSON(cmd, out)
	}
	if len(out) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No audit entries.")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tEVENT\tTENANT\tTASK\tSTAFF\tSTATUS")
	for _, e := range out {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Format("15:04:05"), e.Type, e.TenantID, dash(e.TaskID), dash(e.StaffID), dash(e.Status))
	}
	return w.Flush()
}
