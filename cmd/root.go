// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pausefilter",
	Short: "pausefilter - link-layer pass-through filter with pause-frame injection",
	Long: `pausefilter attaches a pass-through filter to a network interface.

While the filter runs and the link is up it periodically transmits IEEE 802.3
MAC pause frames from the adapter's own address. Received frames whose buffers
all exceed a configured length are indicated from a deferred worker on another
processor instead of inline.`,
	Version:      "0.1.0",
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/pausefilter/config.yml",
		"config file path")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(frameCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(reloadCmd)
}
