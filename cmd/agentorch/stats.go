package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/osakka/agentorch/internal/session"
)

func newStatsCmd(opts *rootOptions) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show persisted usage statistics and recent executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, modeCommand)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.store == nil {
				return errors.New("persistence is disabled (store.path is empty)")
			}

			ctx := cmd.Context()
			stats, err := a.store.Stats(ctx)
			empty := errors.Is(err, session.ErrNoInteractions)
			if err != nil && !empty {
				return err
			}
			executions, err := a.store.Executions(ctx, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]interface{}{
					"stats":      stats,
					"executions": executions,
				})
			}

			if empty {
				fmt.Fprintln(out, "No interactions yet")
				return nil
			}

			fmt.Fprintf(out, "Interactions: %d (%.1f%% successful)\n", stats.TotalInteractions, stats.SuccessRate*100)
			fmt.Fprintf(out, "Most used:    %s\n", stats.MostUsed)
			fmt.Fprintf(out, "Window:       %s to %s\n",
				stats.FirstInteraction.Local().Format(time.DateTime),
				stats.LastInteraction.Local().Format(time.DateTime))

			names := make([]string, 0, len(stats.UsageByCapability))
			for name := range stats.UsageByCapability {
				names = append(names, name)
			}
			sort.Strings(names)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "\nCAPABILITY\tCALLS")
			for _, name := range names {
				fmt.Fprintf(tw, "%s\t%d\n", name, stats.UsageByCapability[name])
			}
			if len(executions) > 0 {
				fmt.Fprintln(tw, "\nSTARTED\tSENTIMENT\tOK\tQUERY")
				for _, e := range executions {
					fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\n",
						e.StartedAt.Local().Format(time.DateTime), e.OverallSentiment, e.SuccessCount, e.Total, e.Query)
				}
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of recent executions to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}
