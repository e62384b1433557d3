package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/dispatchd/internal/calendar"
)

var vacancyCmd = &cobra.Command{
	Use:   "vacancy",
	Short: "Turn booking checkouts into cleaning tasks",
}

var vacancyAddCmd = &cobra.Command{
	Use:   "add <checkin> <checkout>",
	Short: "Ingest one stay",
	Long: `Ingest one booking window. A window seen before is skipped; a new one
creates a cleaning task due on the checkout day and assigns it.`,
	Args: cobra.ExactArgs(2),
	RunE: runVacancyAdd,
}

var vacancySyncCmd = &cobra.Command{
	Use:   "sync [file]",
	Short: "Ingest every window in a JSON file",
	Long: `Ingest the windows listed for the tenant in a JSON file of the form
{"<tenant>": [{"checkin": "...", "checkout": "...", "room": "12"}]}.
Defaults to calendar.file from config.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runVacancySync,
}

func init() {
	vacancyAddCmd.Flags().String("room", "", "Room label")
	vacancyAddCmd.Flags().String("room-id", "", "Room id")

	vacancyCmd.AddCommand(vacancyAddCmd)
	vacancyCmd.AddCommand(vacancySyncCmd)
	rootCmd.AddCommand(vacancyCmd)
}

// fileSource reads windows keyed by tenant from a JSON file on every call.
func fileSource(path string) calendar.Source {
	return calendar.SourceFunc(func(_ context.Context, tenantID string) ([]calendar.Window, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var byTenant map[string][]calendar.Window
		if err := json.Unmarshal(data, &byTenant); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		return byTenant[tenantID], nil
	})
}

func runVacancyAdd(cmd *cobra.Command, args []string) error {
	in, err := parseTimeInput(args[0], time.UTC)
	if err != nil {
		return err
	}
	out, err := parseTimeInput(args[1], time.UTC)
	if err != nil {
		return err
	}
	w := calendar.Window{CheckIn: in, CheckOut: out}
	w.Room, _ = cmd.Flags().GetString("room")
	w.RoomID, _ = cmd.Flags().GetString("room-id")

	return withApp(func(a *app) error {
		task, err := a.ingestor(nil).Add(cmd.Context(), tenantFlag(cmd), w)
		if err != nil {
			return err
		}
		if jsonFlag(cmd) {
			return printJSON(cmd, task)
		}
		if task == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Window already ingested.")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created %s due %s (staff: %s)\n",
			task.ID, task.DueAt.Format("2006-01-02 15:04"), dash(task.StaffID))
		return nil
	})
}

func runVacancySync(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app) error {
		path := a.cfg.Calendar.File
		if len(args) == 1 {
			path = args[0]
		}
		if path == "" {
			return fmt.Errorf("no vacancy file given and calendar.file is not set")
		}
		res, err := a.ingestor(fileSource(path)).Sync(cmd.Context(), tenantFlag(cmd))
		if res == nil {
			return err
		}
		if jsonFlag(cmd) {
			if perr := printJSON(cmd, res); perr != nil {
				return perr
			}
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created %d task(s), skipped %d\n", len(res.Created), res.Skipped)
		return err
	})
}
