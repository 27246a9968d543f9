package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload logging and debug level of the running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReload(cmd.Context(), controlClient(), cmd.OutOrStdout())
	},
}

func init() {
	reloadCmd.Flags().StringVarP(&pidFileFlag, "pidfile", "p", "",
		"PID file path (default: control.pid_file from the config)")
}

// runReload is the command body, split out for tests.
func runReload(ctx context.Context, client ControlClient, out io.Writer) error {
	if err := client.Reload(ctx); err != nil {
		return fmt.Errorf("failed to reload: %w", err)
	}
	fmt.Fprintln(out, "✓ Configuration reloaded successfully")
	return nil
}
