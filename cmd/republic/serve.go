package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"republic/internal/agent/fleet"
	"republic/internal/logging"
	"republic/internal/server"
)

func newServeCommand(cli *CLI) *cobra.Command {
	var addr, plan string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve runs, traces and metrics over HTTP",
		Long: `Serve runs, traces and metrics over HTTP.

With --fleet the task file is dispatched in the background and its records
are streamed live on /api/stream.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer cli.close()
			cfg, err := cli.load(plan != "")
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			hub := server.NewHub(0)
			c, err := buildContainer(ctx, cli, cfg, withHub(hub))
			if err != nil {
				return err
			}
			defer c.Close()

			opts := []server.Option{
				server.WithHub(hub),
				server.WithMetrics(c.Metrics),
				server.WithRegistry(c.Registry),
				server.WithLogger(logging.NewComponentLogger("server")),
			}
			if c.Ledger != nil {
				opts = append(opts, server.WithLedger(c.Ledger))
			}
			srv := server.New(server.Config{
				Addr:        cfg.Server.Addr,
				CORSOrigins: cfg.Server.CORSOrigins,
				TraceRoot:   c.Files.Root(),
				Version:     appVersion(),
			}, opts...)

			if plan != "" {
				tasks, err := fleet.LoadPlan(plan)
				if err != nil {
					return err
				}
				go func() {
					outcomes, err := dispatchPlan(ctx, c, tasks)
					if err != nil {
						logging.NewComponentLogger("fleet").Error("dispatch %s: %v", plan, err)
						return
					}
					logging.NewComponentLogger("fleet").Info("fleet %s done: %v", plan, fleet.Tally(outcomes))
				}()
			}

			cli.printf("%s serving on %s (traces in %s)\n", green("●"), cfg.Server.Addr, c.Files.Root())
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&plan, "fleet", "", "task file to dispatch while serving")
	return cmd
}
