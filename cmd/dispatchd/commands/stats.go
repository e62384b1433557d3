package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/dispatchd/internal/store"
	"github.com/marcus/dispatchd/internal/ui"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show worker performance",
}

var statsWorkerCmd = &cobra.Command{
	Use:   "worker <staff-id>",
	Short: "Show one worker's daily stats",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatsWorker,
}

var statsProductivityCmd = &cobra.Command{
	Use:   "productivity",
	Short: "Show productivity for every staff member on a day",
	RunE:  runStatsProductivity,
}

var statsBoardCmd = &cobra.Command{
	Use:   "board",
	Short: "Show the live status board",
	Long: `Show each staff member's traffic light: green when free, amber with
one task in flight, red with two or more.`,
	RunE: runStatsBoard,
}

func init() {
	statsWorkerCmd.Flags().String("date", "today", "Day (today, yesterday, YYYY-MM-DD)")
	statsProductivityCmd.Flags().String("date", "today", "Day (today, yesterday, YYYY-MM-DD)")

	statsCmd.AddCommand(statsWorkerCmd)
	statsCmd.AddCommand(statsProductivityCmd)
	statsCmd.AddCommand(statsBoardCmd)
	rootCmd.AddCommand(statsCmd)
}

func dateFlag(cmd *cobra.Command) (string, error) {
	raw, _ := cmd.Flags().GetString("date")
	at, err := parseTimeInput(raw, time.UTC)
	if err != nil {
		return "", err
	}
	return store.Day(at), nil
}

func runStatsWorker(cmd *cobra.Command, args []string) error {
	date, err := dateFlag(cmd)
	if err != nil {
		return err
	}
	return withApp(func(a *app) error {
		ws, err := a.stats.WorkerDay(cmd.Context(), tenantFlag(cmd), args[0], date)
		if err != nil {
			return err
		}
		if jsonFlag(cmd) {
			return printJSON(cmd, ws)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Worker:\t%s\n", dash(ws.StaffName))
		fmt.Fprintf(w, "Date:\t%s\n", ws.Date)
		fmt.Fprintf(w, "Tasks:\t%d\n", ws.TasksTotal)
		fmt.Fprintf(w, "Done:\t%d\n", ws.TasksDone)
		fmt.Fprintf(w, "Avg duration:\t%s\n", time.Duration(ws.AvgDurationSeconds*float64(time.Second)).Round(time.Second))
		if ws.FirstActivity != nil {
			fmt.Fprintf(w, "First activity:\t%s\n", ws.FirstActivity.Format("15:04"))
		}
		if ws.LastActivity != nil {
			fmt.Fprintf(w, "Last activity:\t%s\n", ws.LastActivity.Format("15:04"))
		}
		return w.Flush()
	})
}

func runStatsProductivity(cmd *cobra.Command, args []string) error {
	date, err := dateFlag(cmd)
	if err != nil {
		return err
	}
	return withApp(func(a *app) error {
		rows, err := a.stats.Productivity(cmd.Context(), tenantFlag(cmd), date)
		if err != nil {
			return err
		}
		if jsonFlag(cmd) {
			return printJSON(cmd, rows)
		}
		if len(rows) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No staff.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tTODAY\tDONE\tPENDING\tAVG\tRATE\tON SHIFT")
		for _, p := range rows {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\t%.0f%%\t%t\n",
				p.Name, p.TasksToday, p.TasksDone, p.TasksPending, p.AvgDuration, p.CompletionRate, p.OnShift)
		}
		return w.Flush()
	})
}

func runStatsBoard(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app) error {
		board, err := a.stats.Board(cmd.Context(), tenantFlag(cmd))
		if err != nil {
			return err
		}
		if jsonFlag(cmd) {
			return printJSON(cmd, board)
		}
		fmt.Fprint(cmd.OutOrStdout(), ui.RenderBoard(board))
		return nil
	})
}
