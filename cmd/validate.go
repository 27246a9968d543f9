package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"firestige.xyz/pausefilter/internal/config"
	"firestige.xyz/pausefilter/internal/filter"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Validate the configuration file without starting the daemon.

The effective configuration is printed as YAML, with defaults applied and the
parameter store replaced by the values the engine would use. Parameters that
are malformed or unknown are reported as warnings.

Examples:
  pausefilter validate -c /etc/pausefilter/config.yml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(configFile, cmd.OutOrStdout())
	},
}

func runValidate(path string, out io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(out, "INVALID: %v\n", err)
		return err
	}

	params, warnings := filter.ParseParameters(cfg.Parameters)
	for _, w := range warnings {
		fmt.Fprintf(out, "WARN: %s\n", w)
	}

	effective := *cfg
	effective.Parameters = params.ToStore()

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]any{"pausefilter": effective}); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}

	fmt.Fprintf(out, "VALID: interface %s, %d allowed address(es), pause every %s\n",
		cfg.Host.Interface, len(params.AllowedAddresses), params.TimerPeriod)
	return nil
}
