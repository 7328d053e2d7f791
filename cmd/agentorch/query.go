package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/osakka/agentorch/internal/dispatch"
	"github.com/osakka/agentorch/internal/orchestrator"
)

func newQueryCmd(opts *rootOptions) *cobra.Command {
	var (
		sequential bool
		asJSON     bool
		targets    []string
	)

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Answer one query and print the summary",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, modeCommand)
			if err != nil {
				return err
			}
			defer a.Close()

			execOpts := []orchestrator.ExecuteOption{}
			if sequential {
				execOpts = append(execOpts, orchestrator.WithMode(dispatch.ModeSequential))
			}
			if len(targets) > 0 {
				execOpts = append(execOpts, orchestrator.WithTargets(targets...))
			}

			report, err := a.orchestrator.Execute(cmd.Context(), strings.Join(args, " "), execOpts...)
			if err != nil {
				return err
			}
			if a.store != nil {
				if err := a.store.SaveExecution(cmd.Context(), report); err != nil {
					a.logger.Warn("execution_persist_failed", "execution_id", report.ID, "error", err)
				}
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&sequential, "sequential", false, "run capabilities one after another")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full execution report as JSON")
	cmd.Flags().StringSliceVar(&targets, "targets", nil, "target ids to analyse instead of the ones found in the query")
	return cmd
}

func printReport(w io.Writer, r *orchestrator.ExecutionReport) {
	s := r.Summary
	fmt.Fprintf(w, "Query:        %s\n", r.Query)
	fmt.Fprintf(w, "Capabilities: %s\n", strings.Join(r.Capabilities, ", "))
	fmt.Fprintf(w, "Targets:      %s\n", strings.Join(r.Targets, ", "))
	fmt.Fprintf(w, "Succeeded:    %d/%d in %s\n", s.SuccessfulCapabilities, s.CapabilitiesExecuted, r.Duration)
	fmt.Fprintf(w, "Sentiment:    %s (confidence %s, risk %s)\n", s.OverallSentiment, s.Confidence, s.RiskLevel)
	if s.Guidance != "" {
		fmt.Fprintf(w, "Guidance:     %s\n", s.Guidance)
	}

	if len(s.KeyInsights) > 0 {
		fmt.Fprintln(w, "\nKey insights:")
		for _, insight := range s.KeyInsights {
			fmt.Fprintf(w, "  - %s\n", insight)
		}
	}
	if len(s.Recommendations) > 0 {
		fmt.Fprintln(w, "\nRecommendations:")
		for _, rec := range s.Recommendations {
			fmt.Fprintf(w, "  - %s\n", rec)
		}
	}
	if len(s.Signals) > 0 {
		fmt.Fprintln(w, "\nSignals:")
		ids := make([]string, 0, len(s.Signals))
		for id := range s.Signals {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			sig := s.Signals[id]
			fmt.Fprintf(w, "  %-6s %-4s %.2f\n", id, sig.Signal, sig.Confidence)
		}
	}
	if len(r.Failures) > 0 {
		fmt.Fprintln(w, "\nFailures:")
		for _, f := range r.Failures {
			fmt.Fprintf(w, "  %s [%s] %s\n", f.Capability, f.Outcome, f.Message)
		}
	}
}
