package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/draftforge-labs/resumepipeline/pipecore/completion"
	"github.com/draftforge-labs/resumepipeline/pipecore/config"
	"github.com/draftforge-labs/resumepipeline/pipecore/document"
	"github.com/draftforge-labs/resumepipeline/pipecore/logging"
	"github.com/draftforge-labs/resumepipeline/pipecore/prompt"
)

var (
	// checkconfig command flags
	checkOffline bool
)

func init() {
	rootCmd.AddCommand(checkconfigCmd)

	checkconfigCmd.Flags().BoolVar(&checkOffline, "offline", false, "validate as if --offline were passed to run")
}

var checkconfigCmd = &cobra.Command{
	Use:   "checkconfig",
	Short: "Validate settings and plan wiring without running anything",
	Long: `Load the settings exactly as run would, validate them, and assemble the
plan against a stand-in backend. Unknown prompt keys, malformed stages
and bad loop wiring surface here instead of mid-run. The completion
backend is never contacted.

Examples:
  # Validate the default configuration plus environment overrides
  resumepipeline checkconfig

  # Validate a settings file for offline use, no API key needed
  resumepipeline checkconfig --config pipeline.yaml --offline`,
	RunE: runCheckconfig,
}

func runCheckconfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	applyRunOverrides(cfg, checkOffline, 0)
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Assemble the plan the way run does, with the offline backend standing
	// in for the configured one.
	_, err = config.BuildRunner(&cfg.Plan, config.BuildDeps{
		Completion:   completion.NewOffline(0),
		Documents:    document.NewFileSource(cfg.Documents.Root, logging.NewNop()),
		Prompts:      prompt.Builtin(),
		DefaultModel: cfg.Provider.DefaultModel,
	})
	if err != nil {
		return fmt.Errorf("plan assembly: %w", err)
	}

	fmt.Printf("configuration ok\n")
	fmt.Printf("plan: %s (%d stages, %d loops, %d steps)\n",
		cfg.Plan.Name, len(cfg.Plan.Stages), len(cfg.Plan.Loops), len(cfg.Plan.Steps))
	fmt.Printf("provider: %s", cfg.Provider.Kind)
	if cfg.Provider.Kind == config.ProviderGemini {
		fmt.Printf(" (model %s, %d requests/minute)", cfg.Provider.DefaultModel, cfg.Provider.RequestsPerMinute)
	}
	fmt.Println()
	fmt.Printf("documents: root %s\n", cfg.Documents.Root)
	fmt.Printf("archive: %s\n", onOff(cfg.Archive.Enabled, cfg.Archive.Path))
	fmt.Printf("telemetry: %s\n", onOff(cfg.Telemetry.Enabled, cfg.Telemetry.MetricsAddr))
	return nil
}

func onOff(enabled bool, detail string) string {
	if !enabled {
		return "off"
	}
	return fmt.Sprintf("on (%s)", detail)
}
