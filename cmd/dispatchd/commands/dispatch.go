package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/dispatchd/internal/config"
	"github.com/marcus/dispatchd/internal/dispatch"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Control the periodic assignment sweep",
	Long: `Show or change the sweep that assigns pending tasks to free staff.
Changes are written to the config file; a running "dispatchd serve --watch"
picks them up without a restart.`,
}

var dispatchStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sweep settings and pending work",
	RunE:  runDispatchStatus,
}

var dispatchEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Enable the periodic sweep",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return setDispatchEnabled(cmd, true)
	},
}

var dispatchDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Disable the periodic sweep",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return setDispatchEnabled(cmd, false)
	},
}

var dispatchIntervalCmd = &cobra.Command{
	Use:   "interval <duration>",
	Short: "Set the sweep interval (e.g. 30s, 2m)",
	Args:  cobra.ExactArgs(1),
	RunE:  runDispatchInterval,
}

var dispatchSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one sweep now",
	RunE:  runDispatchSweep,
}

func init() {
	dispatchSweepCmd.Flags().Bool("all", false, "Sweep every tenant with pending tasks")

	dispatchCmd.AddCommand(dispatchStatusCmd)
	dispatchCmd.AddCommand(dispatchEnableCmd)
	dispatchCmd.AddCommand(dispatchDisableCmd)
	dispatchCmd.AddCommand(dispatchIntervalCmd)
	dispatchCmd.AddCommand(dispatchSweepCmd)
	rootCmd.AddCommand(dispatchCmd)
}

func runDispatchStatus(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app) error {
		pending, err := a.store.PendingTasks(cmd.Context(), tenantFlag(cmd))
		if err != nil {
			return err
		}
		onShift, err := a.store.OnShiftStaff(cmd.Context(), tenantFlag(cmd))
		if err != nil {
			return err
		}
		status := struct {
			Enabled  bool   `json:"enabled"`
			Interval string `json:"interval"`
			Config   string `json:"config"`
			Pending  int    `json:"pending"`
			OnShift  int    `json:"on_shift"`
		}{
			Enabled:  a.cfg.Dispatch.Enabled,
			Interval: a.cfg.DispatchInterval().String(),
			Config:   a.cfg.Source(),
			Pending:  len(pending),
			OnShift:  len(onShift),
		}
		if jsonFlag(cmd) {
			return printJSON(cmd, status)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Sweep:\t%s\n", enabledLabel(status.Enabled))
		fmt.Fprintf(w, "Interval:\t%s\n", status.Interval)
		fmt.Fprintf(w, "Config:\t%s\n", status.Config)
		fmt.Fprintf(w, "Pending tasks:\t%d\n", status.Pending)
		fmt.Fprintf(w, "Staff on shift:\t%d\n", status.OnShift)
		return w.Flush()
	})
}

func enabledLabel(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}

func setDispatchEnabled(cmd *cobra.Command, on bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := config.SetDispatch(cfg.Source(), &on, nil); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Sweep %s (%s)\n", enabledLabel(on), cfg.Source())
	return nil
}

func runDispatchInterval(cmd *cobra.Command, args []string) error {
	d, err := time.ParseDuration(args[0])
	if err != nil {
		return fmt.Errorf("invalid interval %q: %w", args[0], err)
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := config.SetDispatch(cfg.Source(), nil, &d); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Sweep interval set to %s (%s)\n", d, cfg.Source())
	return nil
}

func runDispatchSweep(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")
	return withApp(func(a *app) error {
		var (
			got []dispatch.Assignment
			err error
		)
		if all {
			got, err = a.dispatcher.SweepAll(cmd.Context())
		} else {
			got, err = a.dispatcher.Sweep(cmd.Context(), tenantFlag(cmd))
		}
		if jsonFlag(cmd) {
			if perr := printJSON(cmd, got); perr != nil {
				return perr
			}
			return err
		}
		for _, asg := range got {
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", asg.TaskID, asg.StaffName)
		}
		if len(got) == 0 && err == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Nothing assigned.")
		}
		return err
	})
}
