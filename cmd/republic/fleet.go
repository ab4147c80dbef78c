package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"republic/internal/agent/fleet"
	"republic/internal/agent/ports"
	"republic/internal/logging"
)

func newFleetCommand(cli *CLI) *cobra.Command {
	var maxConcurrency int
	cmd := &cobra.Command{
		Use:   "fleet <tasks.yaml>",
		Short: "Dispatch a batch of explicit task assignments concurrently",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer cli.close()
			cfg, err := cli.load(true)
			if err != nil {
				return err
			}
			plan, err := fleet.LoadPlan(args[0])
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("max-concurrency") {
				plan.MaxConcurrency = maxConcurrency
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			c, err := buildContainer(ctx, cli, cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			outcomes, err := dispatchPlan(ctx, c, plan)
			if err != nil {
				return err
			}
			if cli.jsonOutput {
				if err := cli.printJSON(outcomes); err != nil {
					return err
				}
			} else {
				renderOutcomes(cli.out, outcomes)
			}
			tally := fleet.Tally(outcomes)
			if bad := tally["ERROR"] + tally[string(ports.StateFailed)]; bad > 0 {
				return &ExitCodeError{Code: 1, Err: fmt.Errorf("%d of %d tasks did not complete", bad, len(outcomes))}
			}
			if tally[string(ports.StateEscalated)] > 0 {
				return &ExitCodeError{Code: 2}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxConcurrency, "max-concurrency", fleet.DefaultMaxConcurrency, "cap on runs in flight across all districts")
	return cmd
}

func dispatchPlan(ctx context.Context, c *Container, plan fleet.Plan) ([]fleet.Outcome, error) {
	catalog, err := c.Catalog()
	if err != nil {
		return nil, err
	}
	runner := c.Fleet(catalog,
		fleet.WithMaxConcurrency(plan.MaxConcurrency),
		fleet.WithLogger(logging.NewComponentLogger("fleet")),
	)
	return runner.RunAll(ctx, plan.Tasks), nil
}
