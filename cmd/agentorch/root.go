package main

import (
	"github.com/spf13/cobra"
)

// rootOptions holds the persistent flags shared by every subcommand
type rootOptions struct {
	configFile string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "agentorch",
		Short: "agentorch - capability orchestration for analysis agents",
		Long: `agentorch routes natural-language queries to a set of analysis
capabilities, runs them in parallel with caching and timeouts, and merges
the results into one summary.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "configuration file (default: $AGENTORCH_CONFIG or ~/.agentorch/config/agentorch.yaml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level (trace, debug, info, warn, error)")

	cmd.AddCommand(
		newServeCmd(opts),
		newQueryCmd(opts),
		newCapabilitiesCmd(opts),
		newStatsCmd(opts),
		newTokenCmd(opts),
		newStopCmd(opts),
		newVersionCmd(),
	)
	return cmd
}
