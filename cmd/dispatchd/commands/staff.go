package commands

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/marcus/dispatchd/internal/lifecycle"
	"github.com/marcus/dispatchd/internal/staff"
)

var staffCmd = &cobra.Command{
	Use:   "staff",
	Short: "Manage staff shifts and locations",
}

var staffClockInCmd = &cobra.Command{
	Use:   "clock-in [staff-id]",
	Short: "Start a shift",
	Long: `Start a shift for a staff member identified by id, --phone or --name.
Unknown staff are registered on their first clock-in. Clocking in triggers
an assignment sweep for the tenant.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStaffClockIn,
}

var staffClockOutCmd = &cobra.Command{
	Use:   "clock-out <staff-id>",
	Short: "Leave the shift without releasing tasks",
	Args:  cobra.ExactArgs(1),
	RunE:  runStaffClockOut,
}

var staffEndShiftCmd = &cobra.Command{
	Use:   "end-shift <staff-id>",
	Short: "End a shift and requeue unfinished tasks",
	Args:  cobra.ExactArgs(1),
	RunE:  runStaffEndShift,
}

var staffActiveCmd = &cobra.Command{
	Use:   "active <staff-id> <true|false>",
	Short: "Enable or disable a staff member",
	Args:  cobra.ExactArgs(2),
	RunE:  runStaffActive,
}

var staffLocationCmd = &cobra.Command{
	Use:   "location <staff-id> <lat> <lng>",
	Short: "Record a staff member's position",
	Args:  cobra.ExactArgs(3),
	RunE:  runStaffLocation,
}

var staffListCmd = &cobra.Command{
	Use:   "list",
	Short: "List staff",
	RunE:  runStaffList,
}

var staffLeaderboardCmd = &cobra.Command{
	Use:   "leaderboard",
	Short: "Rank staff by gold points",
	RunE:  runStaffLeaderboard,
}

func init() {
	staffClockInCmd.Flags().String("name", "", "Staff name")
	staffClockInCmd.Flags().String("phone", "", "Phone number")
	staffClockInCmd.Flags().String("lang", "", "Preferred message language (en, he, es)")
	staffClockInCmd.Flags().String("photo", "", "Photo URL")
	staffClockInCmd.Flags().String("role", "", "Role")
	staffClockInCmd.Flags().Float64("lat", 0, "Latitude at clock-in")
	staffClockInCmd.Flags().Float64("lng", 0, "Longitude at clock-in")

	staffLeaderboardCmd.Flags().Int("limit", 10, "Number of entries")

	staffCmd.AddCommand(staffClockInCmd)
	staffCmd.AddCommand(staffClockOutCmd)
	staffCmd.AddCommand(staffEndShiftCmd)
	staffCmd.AddCommand(staffActiveCmd)
	staffCmd.AddCommand(staffLocationCmd)
	staffCmd.AddCommand(staffListCmd)
	staffCmd.AddCommand(staffLeaderboardCmd)
	rootCmd.AddCommand(staffCmd)
}

func runStaffClockIn(cmd *cobra.Command, args []string) error {
	req := lifecycle.ClockInRequest{TenantID: tenantFlag(cmd)}
	if len(args) == 1 {
		req.StaffID = args[0]
	}
	req.Name, _ = cmd.Flags().GetString("name")
	req.Phone, _ = cmd.Flags().GetString("phone")
	req.Language, _ = cmd.Flags().GetString("lang")
	req.PhotoURL, _ = cmd.Flags().GetString("photo")
	req.Role, _ = cmd.Flags().GetString("role")
	if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lng") {
		lat, _ := cmd.Flags().GetFloat64("lat")
		lng, _ := cmd.Flags().GetFloat64("lng")
		req.Location = &staff.Location{Lat: lat, Lng: lng}
	}

	return withApp(func(a *app) error {
		m, err := a.engine.ClockIn(cmd.Context(), req)
		if err != nil {
			return err
		}
		if jsonFlag(cmd) {
			return printJSON(cmd, m)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) clocked in\n", m.Name, m.ID)
		return nil
	})
}

func runStaffClockOut(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app) error {
		m, err := a.engine.ClockOut(cmd.Context(), tenantFlag(cmd), args[0])
		if err != nil {
			return err
		}
		if jsonFlag(cmd) {
			return printJSON(cmd, m)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s clocked out\n", m.Name)
		return nil
	})
}

func runStaffEndShift(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app) error {
		res, err := a.engine.EndShift(cmd.Context(), tenantFlag(cmd), args[0])
		if err != nil {
			return err
		}
		if jsonFlag(cmd) {
			return printJSON(cmd, res)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s ended shift; %d task(s) requeued\n", res.Staff.Name, len(res.Requeued))
		return nil
	})
}

func runStaffActive(cmd *cobra.Command, args []string) error {
	active, err := strconv.ParseBool(args[1])
	if err != nil {
		return fmt.Errorf("invalid active value %q (use true or false)", args[1])
	}
	return withApp(func(a *app) error {
		m, err := a.engine.SetActive(cmd.Context(), tenantFlag(cmd), args[0], active)
		if err != nil {
			return err
		}
		if jsonFlag(cmd) {
			return printJSON(cmd, m)
		}
		state := "disabled"
		if m.Active {
			state = "enabled"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", m.Name, state)
		return nil
	})
}

func runStaffLocation(cmd *cobra.Command, args []string) error {
	lat, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid latitude %q", args[1])
	}
	lng, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return fmt.Errorf("invalid longitude %q", args[2])
	}
	return withApp(func(a *app) error {
		m, err := a.engine.UpdateLocation(cmd.Context(), tenantFlag(cmd), args[0], staff.Location{Lat: lat, Lng: lng})
		if err != nil {
			return err
		}
		if jsonFlag(cmd) {
			return printJSON(cmd, m)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s at %.5f,%.5f\n", m.Name, lat, lng)
		return nil
	})
}

func runStaffList(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app) error {
		list, err := a.engine.ListStaff(cmd.Context(), tenantFlag(cmd))
		if err != nil {
			return err
		}
		if jsonFlag(cmd) {
			return printJSON(cmd, list)
		}
		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No staff.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tPHONE\tACTIVE\tON SHIFT\tPOINTS\tTIER")
		for i := range list {
			m := &list[i]
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\t%d/%d\t%s\n",
				m.ID, m.Name, dash(m.Phone), m.Active, m.OnShift, m.Points, m.GoldPoints, m.Tier())
		}
		return w.Flush()
	})
}

func runStaffLeaderboard(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	return withApp(func(a *app) error {
		board, err := a.engine.Leaderboard(cmd.Context(), tenantFlag(cmd), limit)
		if err != nil {
			return err
		}
		if jsonFlag(cmd) {
			return printJSON(cmd, board)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "#\tNAME\tGOLD\tPOINTS\tTIER")
		for _, e := range board {
			fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%s\n", e.Position, e.Name, e.GoldPoints, e.Points, e.Tier)
		}
		return w.Flush()
	})
}
