package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"republic/internal/agent/ports"
	"republic/internal/agent/runtime"
	"republic/internal/config"
)

type runFlags struct {
	agent        string
	manifest     string
	context      string
	constitution string
	runID        string
	maxSteps     int
	budget       float64
	deadline     time.Duration
}

func newRunCommand(cli *CLI) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run [goal]",
		Short: "Run one agent against a goal",
		Long: `Run one agent against a goal until it completes, fails or escalates.

The agent comes from --manifest, from --agent in the catalog, or, when
neither is given, a default manifest allowing every available tool.
Exit status is 0 on COMPLETE, 1 on FAILED and 2 on ESCALATED.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer cli.close()
			goal := strings.TrimSpace(strings.Join(args, " "))
			if goal == "" {
				return errors.New("goal is empty")
			}
			cfg, err := cli.load(true)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if flags.deadline > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, flags.deadline)
				defer cancel()
			}

			c, err := buildContainer(ctx, cli, cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			executor, err := c.Executor()
			if err != nil {
				return err
			}
			if closer, ok := executor.(closingExecutor); ok {
				defer closer.Close()
			}
			manifest, err := resolveManifest(c, flags, executor.ListTools())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("max-steps") {
				manifest.MaxSteps = flags.maxSteps
			}
			if cmd.Flags().Changed("budget") {
				manifest.CostBudgetUSD = flags.budget
			}
			if err := manifest.Validate(); err != nil {
				return err
			}
			oracle, err := c.Oracle()
			if err != nil {
				return err
			}

			if !cli.jsonOutput {
				mode := "live"
				if c.Mock {
					mode = "mock"
				}
				cli.printf("%s %s %s\n", cyan("▶"), bold(manifest.AgentID), gray("("+mode+")"))
				cli.printf("  %s %s\n", gray("goal:"), goal)
			}
			res, err := c.Runtime.Run(ctx, runtime.Request{
				Goal:         goal,
				Manifest:     manifest,
				Oracle:       oracle,
				Tools:        executor,
				Constitution: flags.constitution,
				Context:      flags.context,
				RunID:        flags.runID,
			})
			if err != nil {
				return err
			}
			if cli.jsonOutput {
				if err := cli.printJSON(res); err != nil {
					return err
				}
			} else {
				renderResult(cli.out, res)
			}
			return exitFor(res)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&flags.agent, "agent", "a", "", "agent id from the catalog")
	f.StringVarP(&flags.manifest, "manifest", "m", "", "agent manifest file")
	f.StringVar(&flags.context, "context", "", "extra context for the oracle")
	f.StringVar(&flags.constitution, "constitution", "", "constitution text handed to the oracle")
	f.StringVar(&flags.runID, "run-id", "", "explicit run id")
	f.IntVar(&flags.maxSteps, "max-steps", 0, "override the manifest step limit")
	f.Float64Var(&flags.budget, "budget", 0, "override the manifest cost budget in USD")
	f.DurationVar(&flags.deadline, "deadline", 0, "cancel the run after this long")
	cmd.MarkFlagsMutuallyExclusive("agent", "manifest")
	return cmd
}

func resolveManifest(c *Container, flags runFlags, available []string) (ports.Manifest, error) {
	defaults := c.Config.Defaults.Ports()
	switch {
	case flags.manifest != "":
		return config.LoadManifest(flags.manifest, defaults)
	case flags.agent != "":
		catalog, err := c.Catalog()
		if err != nil {
			return ports.Manifest{}, err
		}
		return catalog.Agent(flags.agent)
	}
	return ports.Manifest{
		AgentID:       "republic.cli",
		Version:       "1.0.0",
		Description:   "Ad-hoc agent allowed every available tool",
		Capabilities:  available,
		MaxSteps:      -1,
		CostBudgetUSD: -1,
	}.WithDefaults(defaults), nil
}

// exitFor maps a terminal state onto the process exit status.
func exitFor(res *runtime.Result) error {
	switch res.State {
	case ports.StateComplete:
		return nil
	case ports.StateEscalated:
		return &ExitCodeError{Code: 2}
	default:
		return &ExitCodeError{Code: 1, Err: fmt.Errorf("run %s failed: %s", res.RunID, res.Reason)}
	}
}
