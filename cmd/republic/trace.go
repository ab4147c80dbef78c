package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"republic/internal/agent/trace"
	"republic/internal/runstore"
)

func newTraceCommand(cli *CLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect audit trails",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <run-id|path|latest>",
		Short: "Replay a run's audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer cli.close()
			cfg, err := cli.load(false)
			if err != nil {
				return err
			}
			path, err := locateTrace(cfg.Trace.StoragePath, args[0])
			if err != nil {
				return err
			}
			replay, err := trace.ReadFile(path)
			if err != nil {
				return err
			}
			if cli.jsonOutput {
				return cli.printJSON(replay)
			}
			renderReplay(cli.out, replay)
			return nil
		},
	})
	return cmd
}

// locateTrace resolves a run id, the word "latest", or a file path.
func locateTrace(root, ref string) (string, error) {
	if ref == "latest" {
		latest, err := trace.LatestRun(root)
		if err != nil {
			return "", fmt.Errorf("no runs under %s: %w", root, err)
		}
		return latest.Path, nil
	}
	if strings.HasSuffix(ref, ".jsonl") {
		if _, err := os.Stat(ref); err != nil {
			return "", err
		}
		return ref, nil
	}
	return trace.FindRun(root, ref)
}

func newRunsCommand(cli *CLI) *cobra.Command {
	var filter runstore.Filter
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Query run history",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent runs from the ledger, or from trace files when no store is configured",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer cli.close()
			cfg, err := cli.load(false)
			if err != nil {
				return err
			}
			filter.State = strings.ToUpper(filter.State)
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}

			if cfg.Store.DSN != "" {
				store, err := runstore.Open(cmd.Context(), cfg.Store.DSN)
				if err != nil {
					return err
				}
				defer store.Close()
				runs, err := store.List(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if cli.jsonOutput {
					return cli.printJSON(runs)
				}
				tw := tabwriter.NewWriter(cli.out, 0, 2, 2, ' ', 0)
				fmt.Fprintln(tw, "RUN\tAGENT\tSTATE\tREASON\tSTEPS\tCOST\tSTARTED")
				for _, r := range runs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t$%.4f\t%s\n", r.RunID, r.AgentID, r.State, r.Reason, r.StepsExecuted, r.TotalCostUSD, r.StartedAt.Format(time.RFC3339))
				}
				return tw.Flush()
			}

			runs, err := trace.ListRuns(cfg.Trace.StoragePath)
			if err != nil {
				return err
			}
			runs = runstore.FilterTraceRuns(runs, filter)
			if cli.jsonOutput {
				return cli.printJSON(runs)
			}
			tw := tabwriter.NewWriter(cli.out, 0, 2, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tAGENT\tSTATE\tSPANS\tEVENTS\tSTARTED")
			for _, r := range runs {
				state := r.FinalStatus
				if !r.Closed {
					state = "OPEN"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n", r.RunID, r.AgentID, state, r.SpanCount, r.EventCount, r.StartedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	list.Flags().StringVar(&filter.AgentID, "agent", "", "only runs of this agent")
	list.Flags().StringVar(&filter.State, "state", "", "only runs in this final state")
	list.Flags().IntVar(&filter.Limit, "limit", runstore.DefaultListLimit, "maximum runs to show")
	list.Flags().DurationVar(&since, "since", 0, "only runs started within this window")
	cmd.AddCommand(list)
	return cmd
}
