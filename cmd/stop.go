package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	Long: `Stop the pausefilter daemon gracefully.

This command sends SIGTERM to the process recorded in the PID file and waits
for it to exit. The daemon pauses the filter, detaches it and unloads the
engine before exiting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStop(cmd.Context(), controlClient(), cmd.OutOrStdout())
	},
}

func init() {
	stopCmd.Flags().StringVarP(&pidFileFlag, "pidfile", "p", "",
		"PID file path (default: control.pid_file from the config)")
	stopCmd.Flags().DurationVar(&stopTimeout, "timeout", 10*time.Second,
		"how long to wait for the daemon to exit")
}

func runStop(ctx context.Context, client ControlClient, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := client.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	fmt.Fprintln(out, "✓ Daemon stopped")
	return nil
}
