package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/dispatchd/internal/lifecycle"
	"github.com/marcus/dispatchd/internal/tasks"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Create, update and list tasks",
}

var taskCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a task and try to assign it",
	Long: `Create a pending task. With --staff the task goes straight to that
staff member; otherwise the selector picks the best free on-shift worker.

A description repeated within the duplicate window returns the existing task.`,
	RunE: runTaskCreate,
}

var taskStatusCmd = &cobra.Command{
	Use:   "status <task-id> <status>",
	Short: "Move a task to a new status",
	Long: `Move a task through its lifecycle. Accepted values include
on_the_way (on my way, en route), in_progress (started, working) and
finished (done, completed).`,
	Args: cobra.ExactArgs(2),
	RunE: runTaskStatus,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE:  runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show one task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

func init() {
	taskCreateCmd.Flags().String("type", "cleaning", "Task type (cleaning, maintenance, electrical)")
	taskCreateCmd.Flags().String("room", "", "Room label")
	taskCreateCmd.Flags().String("room-id", "", "Room id")
	taskCreateCmd.Flags().StringP("description", "d", "", "Description")
	taskCreateCmd.Flags().String("notes", "", "Notes for the worker")
	taskCreateCmd.Flags().String("staff", "", "Assign to this staff id")
	taskCreateCmd.Flags().String("due", "", "Due time (YYYY-MM-DD [HH:MM] or RFC3339)")

	taskListCmd.Flags().String("status", "", "Filter by status")
	taskListCmd.Flags().String("staff", "", "Filter by staff id")
	taskListCmd.Flags().String("since", "", "Only tasks created since (today, yesterday, YYYY-MM-DD)")
	taskListCmd.Flags().Int("limit", 50, "Maximum tasks to show")

	taskCmd.AddCommand(taskCreateCmd)
	taskCmd.AddCommand(taskStatusCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskShowCmd)
	rootCmd.AddCommand(taskCmd)
}

func runTaskCreate(cmd *cobra.Command, args []string) error {
	req := lifecycle.CreateRequest{TenantID: tenantFlag(cmd)}
	req.Type, _ = cmd.Flags().GetString("type")
	req.Room, _ = cmd.Flags().GetString("room")
	req.RoomID, _ = cmd.Flags().GetString("room-id")
	req.Description, _ = cmd.Flags().GetString("description")
	req.Notes, _ = cmd.Flags().GetString("notes")
	req.StaffID, _ = cmd.Flags().GetString("staff")
	if due, _ := cmd.Flags().GetString("due"); due != "" {
		at, err := parseTimeInput(due, time.UTC)
		if err != nil {
			return err
		}
		req.DueAt = &at
	}

	return withApp(func(a *app) error {
		t, err := a.engine.CreateTask(cmd.Context(), req)
		if err != nil {
			return err
		}
		if jsonFlag(cmd) {
			return printJSON(cmd, t)
		}
		out := cmd.OutOrStdout()
		if t.Duplicate {
			fmt.Fprintf(out, "Task already open: %s (%s)\n", t.ID, t.Status)
			return nil
		}
		fmt.Fprintf(out, "Created %s: %s\n", t.ID, t.Label())
		if t.StaffID != "" {
			fmt.Fprintf(out, "Assigned to %s\n", t.StaffID)
		} else {
			fmt.Fprintln(out, "Waiting for a free staff member")
		}
		return nil
	})
}

func runTaskStatus(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app) error {
		res, err := a.engine.UpdateStatus(cmd.Context(), tenantFlag(cmd), args[0], args[1])
		if err != nil {
			return err
		}
		if jsonFlag(cmd) {
			return printJSON(cmd, res)
		}
		out := cmd.OutOrStdout()
		if !res.Changed {
			fmt.Fprintf(out, "%s already %s\n", res.Task.ID, res.Task.Status)
			return nil
		}
		fmt.Fprintf(out, "%s: %s -> %s\n", res.Task.ID, res.Previous, res.Task.Status)
		if res.Points > 0 {
			fmt.Fprintf(out, "Awarded %d points (%d gold)\n", res.Points, res.Gold)
		}
		return nil
	})
}

func runTaskList(cmd *cobra.Command, args []string) error {
	var f tasks.Filter
	if raw, _ := cmd.Flags().GetString("status"); raw != "" {
		st, ok := tasks.ParseStatus(raw)
		if !ok {
			return fmt.Errorf("%w: %q", lifecycle.ErrUnknownStatus, raw)
		}
		f.Status = st
	}
	f.StaffID, _ = cmd.Flags().GetString("staff")
	f.Limit, _ = cmd.Flags().GetInt("limit")
	if since, _ := cmd.Flags().GetString("since"); since != "" {
		at, err := parseTimeInput(since, time.UTC)
		if err != nil {
			return err
		}
		f.Since = at
	}

	return withApp(func(a *app) error {
		list, err := a.engine.ListTasks(cmd.Context(), tenantFlag(cmd), f)
		if err != nil {
			return err
		}
		if jsonFlag(cmd) {
			return printJSON(cmd, list)
		}
		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No tasks.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tROOM\tSTATUS\tSTAFF\tCREATED")
		for _, t := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				t.ID, t.Type, dash(t.Room), t.Status, dash(t.StaffID), t.CreatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	})
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app) error {
		t, err := a.engine.GetTask(cmd.Context(), tenantFlag(cmd), args[0])
		if err != nil {
			return err
		}
		if jsonFlag(cmd) {
			return printJSON(cmd, t)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "ID:\t%s\n", t.ID)
		fmt.Fprintf(w, "Type:\t%s\n", t.Type)
		fmt.Fprintf(w, "Room:\t%s\n", dash(t.Room))
		fmt.Fprintf(w, "Description:\t%s\n", dash(t.Description))
		fmt.Fprintf(w, "Status:\t%s\n", t.Status)
		fmt.Fprintf(w, "Staff:\t%s\n", dash(t.StaffID))
		fmt.Fprintf(w, "Created:\t%s\n", t.CreatedAt.Format(time.RFC3339))
		for _, ts := range []struct {
			label string
			at    *time.Time
		}{
			{"Assigned", t.AssignedAt},
			{"On the way", t.OnTheWayAt},
			{"Started", t.StartedAt},
			{"Finished", t.FinishedAt},
			{"Due", t.DueAt},
		} {
			if ts.at != nil {
				fmt.Fprintf(w, "%s:\t%s\n", ts.label, ts.at.Format(time.RFC3339))
			}
		}
		if t.PointsAwarded != nil {
			fmt.Fprintf(w, "Points:\t%d\n", *t.PointsAwarded)
		}
		return w.Flush()
	})
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
