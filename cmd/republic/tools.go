package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"republic/internal/toolregistry"
)

func newToolsCommand(cli *CLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the tool registry",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered tool contracts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := toolregistry.NewDefault()
			if cli.jsonOutput {
				return cli.printJSON(registry.Contracts())
			}
			tw := tabwriter.NewWriter(cli.out, 0, 2, 2, ' ', 0)
			fmt.Fprintln(tw, "TOOL\tSIDE EFFECTS\tIDEMPOTENT\tAPPROVAL\tRATE LIMIT")
			for _, c := range registry.Contracts() {
				approval := "-"
				if c.RequiresApproval {
					approval = fmt.Sprint(c.ApprovalRoles)
				}
				rate := c.RateLimit
				if rate == "" {
					rate = "-"
				}
				fmt.Fprintf(tw, "%s\t%t\t%t\t%s\t%s\n", c.Name, c.SideEffects, c.Idempotent, approval, rate)
			}
			return tw.Flush()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check every contract's schemas and approval settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := toolregistry.NewDefault()
			problems := registry.Check()
			if cli.jsonOutput {
				if err := cli.printJSON(problems); err != nil {
					return err
				}
			} else {
				for _, c := range registry.Contracts() {
					status := green("ok")
					for _, p := range problems {
						if p.Tool == c.Name {
							status = red(p.Message)
							break
						}
					}
					cli.printf("  %-16s %s\n", c.Name, status)
				}
				cli.printf("\n%d tools, %d problems\n", registry.Len(), len(problems))
			}
			if len(problems) > 0 {
				return &ExitCodeError{Code: 1, Err: fmt.Errorf("%d registry problems", len(problems))}
			}
			return nil
		},
	})
	return cmd
}
