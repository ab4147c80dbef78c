package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"republic/internal/config"
	"republic/internal/logging"
	"republic/internal/observability"
	"republic/internal/utils/id"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// isTTY reports whether w is an interactive terminal.
func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// CLI holds flags and lazily loaded configuration shared by every command.
type CLI struct {
	out    io.Writer
	errOut io.Writer

	configPath string
	logLevel   string
	idStrategy string
	jsonOutput bool
	mock       bool

	cfg    config.RuntimeConfig
	meta   config.Metadata
	loaded bool
	logger *observability.Logger
}

func newRootCommand(out, errOut io.Writer) *cobra.Command {
	cli := &CLI{out: out, errOut: errOut}
	if !isTTY(out) {
		color.NoColor = true
	}

	root := &cobra.Command{
		Use:   "republic",
		Short: "Bounded, auditable agent control loop",
		Long: fmt.Sprintf(`%s

Runs an agent through Plan, Execute and Verify under step, cost and
permission guardrails, recording every decision to an append-only trail.

%s
  republic run --mock "build a landing page"
  republic run --agent workshop.landing_page_builder "ship the launch page"
  republic trace show latest
  republic fleet configs/fleet.example.yaml
  republic serve`, bold("republic"), bold("EXAMPLES:")),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.StringVarP(&cli.configPath, "config", "c", "", "config file (default ./republic.yaml when present)")
	flags.StringVar(&cli.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&cli.idStrategy, "id-strategy", "uuid", "run id strategy: uuid or ksuid")
	flags.BoolVar(&cli.jsonOutput, "json", false, "print machine-readable JSON")
	flags.BoolVar(&cli.mock, "mock", false, "use the offline mock oracle and mock tools")

	root.AddCommand(
		newRunCommand(cli),
		newTraceCommand(cli),
		newRunsCommand(cli),
		newToolsCommand(cli),
		newManifestCommand(cli),
		newFleetCommand(cli),
		newServeCommand(cli),
		newVersionCommand(cli),
	)
	return root
}

// load reads configuration once. Commands that never call an oracle
// tolerate a missing API key.
func (cli *CLI) load(needOracle bool) (config.RuntimeConfig, error) {
	if cli.loaded {
		if needOracle {
			return cli.cfg, cli.cfg.Validate()
		}
		return cli.cfg, nil
	}

	overrides := map[string]any{}
	if cli.mock {
		overrides["llm.provider"] = "mock"
	}
	if cli.logLevel != "" {
		overrides["log.level"] = cli.logLevel
	}
	cfg, meta, err := config.Load(config.WithConfigPath(cli.configPath), config.WithOverrides(overrides))
	if err != nil && !(errors.Is(err, config.ErrMissingAPIKey) && !needOracle) {
		return cfg, err
	}
	strategy, err := id.ParseStrategy(cli.idStrategy)
	if err != nil {
		return cfg, err
	}
	id.SetStrategy(strategy)

	cli.logger = observability.NewLogger(observability.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
		Output: cli.errOut,
	})
	logging.SetDefault(cli.logger)

	cli.cfg, cli.meta, cli.loaded = cfg, meta, true
	if file := meta.File(); file != "" {
		logging.NewComponentLogger("cli").Debug("config loaded from %s", file)
	}
	return cfg, nil
}

func (cli *CLI) close() {
	if cli.logger != nil {
		_ = cli.logger.Close()
	}
}

func (cli *CLI) printJSON(v any) error {
	enc := json.NewEncoder(cli.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (cli *CLI) printf(format string, args ...any) {
	fmt.Fprintf(cli.out, format, args...)
}

func newVersionCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cli.printf("republic %s\n", appVersion())
			return nil
		},
	}
}
