// Package commands implements the dispatchd CLI commands using cobra.
package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is set at build time
	Version = "0.1.0"
)

const defaultTenant = "default"

var rootCmd = &cobra.Command{
	Use:   "dispatchd",
	Short: "Task dispatch and lifecycle engine for property staff",
	Long: `dispatchd assigns property service tasks (cleaning, maintenance,
electrical) to on-shift staff, tracks them through their lifecycle,
notifies staff and guests, and keeps per-worker performance stats.

Run "dispatchd serve" for the sweep scheduler and weekly report, or use
the task, staff and stats commands directly against the database.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	tenant := os.Getenv("DISPATCHD_TENANT")
	if tenant == "" {
		tenant = defaultTenant
	}
	rootCmd.PersistentFlags().StringP("tenant", "t", tenant, "Tenant id (env DISPATCHD_TENANT)")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
}

func tenantFlag(cmd *cobra.Command) string {
	tenant, _ := cmd.Flags().GetString("tenant")
	return tenant
}

func jsonFlag(cmd *cobra.Command) bool {
	on, _ := cmd.Flags().GetBool("json")
	return on
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
