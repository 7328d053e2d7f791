package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/osakka/agentorch/internal/adapter"
)

func newCapabilitiesCmd(opts *rootOptions) *cobra.Command {
	var prompt bool

	cmd := &cobra.Command{
		Use:     "capabilities [name]",
		Aliases: []string{"caps"},
		Short:   "List registered capabilities or describe one",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, modeCommand)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if prompt {
				fmt.Fprint(out, adapter.ToolPrompt(a.registry.Descriptors()))
				return nil
			}

			if len(args) == 1 {
				d, err := a.registry.Describe(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s (%s)\n  %s\n", d.Name, d.Category, d.Description)
				for _, p := range d.Parameters {
					req := "optional"
					if p.Required {
						req = "required"
					}
					fmt.Fprintf(out, "  --%s %s (%s) %s\n", p.Name, p.Type, req, p.Description)
				}
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tCATEGORY\tDESCRIPTION")
			for _, d := range a.registry.Descriptors() {
				desc := d.Description
				if i := strings.IndexByte(desc, '.'); i > 0 {
					desc = desc[:i]
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Name, d.Category, desc)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&prompt, "prompt", false, "print the tool description block used in agent prompts")
	return cmd
}
