package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var commandCmd = &cobra.Command{
	Use:   "command <text...>",
	Short: "Create a task from a free-text request",
	Long: `Classify a free-text request (English or Hebrew) and create the
matching cleaning, maintenance or electrical task. A room number in the text
("room 12", "חדר 12") is attached to the task.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCommand,
}

func init() {
	rootCmd.AddCommand(commandCmd)
}

func runCommand(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")
	return withApp(func(a *app) error {
		res, err := a.commands().Handle(cmd.Context(), tenantFlag(cmd), text)
		if err != nil {
			return err
		}
		if jsonFlag(cmd) {
			return printJSON(cmd, res)
		}
		fmt.Fprintln(cmd.OutOrStdout(), res.Message)
		if res.Task != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "Task %s: %s\n", res.Task.ID, res.Task.Label())
		}
		return nil
	})
}
