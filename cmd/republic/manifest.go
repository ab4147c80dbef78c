package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"republic/internal/agent/guard"
	"republic/internal/agent/ports"
	"republic/internal/config"
	"republic/internal/toolregistry"
)

func newManifestCommand(cli *CLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Validate agent manifests",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check [file...]",
		Short: "Validate manifest files, or the whole catalog when none are given",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer cli.close()
			cfg, err := cli.load(false)
			if err != nil {
				return err
			}
			defaults := cfg.Defaults.Ports()
			registry := toolregistry.NewDefault()

			failures := 0
			if len(args) == 0 {
				catalog, err := config.LoadCatalog(cfg.Catalog, defaults)
				if err != nil {
					return err
				}
				for _, id := range catalog.AgentIDs() {
					manifest, err := catalog.Agent(id)
					if err != nil {
						return err
					}
					cli.reportManifest(id, manifest, registry)
				}
				for _, problem := range catalog.Check() {
					cli.printf("%s %s\n", red("✗"), problem)
					failures++
				}
				cli.printf("\n%d agents, %d districts checked in %s\n", len(catalog.AgentIDs()), len(catalog.Districts()), cfg.Catalog)
			}
			for _, path := range args {
				manifest, err := config.LoadManifest(path, defaults)
				if err != nil {
					cli.printf("%s %s\n", red("✗"), err)
					failures++
					continue
				}
				cli.reportManifest(path, manifest, registry)
			}
			if failures > 0 {
				return &ExitCodeError{Code: 1, Err: fmt.Errorf("%d invalid", failures)}
			}
			return nil
		},
	})
	return cmd
}

func (cli *CLI) reportManifest(label string, manifest ports.Manifest, registry *toolregistry.Registry) {
	cli.printf("%s %s %s\n", green("✓"), label, gray(fmt.Sprintf("(%s, %d capabilities, max_steps=%d, budget=$%.2f)",
		manifest.AgentID, len(manifest.Capabilities), manifest.MaxSteps, manifest.CostBudgetUSD)))
	for _, warning := range guard.ValidateManifest(manifest) {
		cli.printf("  %s %s\n", yellow("!"), warning)
	}
	for _, tool := range manifest.Capabilities {
		if !registry.Has(tool) {
			cli.printf("  %s capability %q has no registered contract\n", yellow("!"), tool)
		}
	}
}
