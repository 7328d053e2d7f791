package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "agentorch %s\n  commit:     %s\n  built:      %s\n  go version: %s\n",
				Version, Commit, BuildTime, runtime.Version())
		},
	}
}
