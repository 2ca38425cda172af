package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/draftforge-labs/resumepipeline/pipecore/archive"
	"github.com/draftforge-labs/resumepipeline/pipecore/config"
	"github.com/draftforge-labs/resumepipeline/pipecore/logging"
	"github.com/draftforge-labs/resumepipeline/pipecore/typeutil"
)

var (
	// inspect command flags
	inspectArchive string
	inspectKey     string
	inspectLimit   int
	inspectJSON    bool
)

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().StringVar(&inspectArchive, "archive", "", "archive database path (defaults to the configured archive.path)")
	inspectCmd.Flags().StringVar(&inspectKey, "key", "", "print a single store artifact from the given run")
	inspectCmd.Flags().IntVar(&inspectLimit, "limit", 20, "maximum number of runs to list")
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "output as JSON")
}

var inspectCmd = &cobra.Command{
	Use:   "inspect [run-id]",
	Short: "List or inspect archived runs",
	Long: `Inspect the run archive. Without arguments it lists recent runs; with a
run id it shows that run, including the warnings and the artifacts its
state store held at finalization.

Examples:
  # List the last 20 runs
  resumepipeline inspect

  # Show one run
  resumepipeline inspect run_1f8a22c04b3d9e57

  # Print the optimized resume a past run produced
  resumepipeline inspect run_1f8a22c04b3d9e57 --key optimized_resume

  # Machine-readable record
  resumepipeline inspect run_1f8a22c04b3d9e57 --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInspect,
}

func runInspect(cmd *cobra.Command, args []string) error {
	path := inspectArchive
	if path == "" {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		path = cfg.Archive.Path
	}

	db, err := archive.OpenSQLite(path, logging.NewNop())
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	if len(args) == 1 {
		rec, err := db.LoadRun(ctx, args[0])
		if err != nil {
			return err
		}
		if inspectKey != "" {
			return printArtifact(rec, inspectKey)
		}
		if inspectJSON {
			return outputJSON(rec)
		}
		printRecord(rec)
		return nil
	}

	runs, err := db.ListRuns(ctx, inspectLimit)
	if err != nil {
		return err
	}
	if inspectJSON {
		return outputJSON(runs)
	}
	if len(runs) == 0 {
		fmt.Println("no archived runs")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tPLAN\tSTATUS\tSTARTED\tDURATION\tERROR")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%dms\t%s\n",
			r.RunID,
			r.Plan,
			r.Status,
			r.StartedAt.Format("2006-01-02 15:04:05"),
			r.DurationMS,
			truncate(r.Error, 48),
		)
	}
	return w.Flush()
}

// printRecord renders one archived run, artifacts summarized by key.
func printRecord(rec *archive.Record) {
	fmt.Printf("Run: %s\n", rec.RunID)
	fmt.Printf("Plan: %s\n", rec.Plan)
	fmt.Printf("Status: %s\n", rec.Status)
	fmt.Printf("Started: %s\n", rec.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Duration: %dms\n", rec.DurationMS)
	if rec.Error != "" {
		fmt.Printf("Error: %s\n", rec.Error)
	}
	for _, w := range rec.Warnings {
		fmt.Printf("Warning: %s\n", w)
	}
	if rec.Snapshot == nil {
		return
	}

	keys := make([]string, 0, len(rec.Snapshot.Values))
	for k := range rec.Snapshot.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Println("Artifacts:")
	for _, k := range keys {
		fmt.Printf("  %s (%T)\n", k, rec.Snapshot.Values[k])
	}
	fmt.Printf("Writes: %d\n", len(rec.Snapshot.History))
}

// printArtifact prints one store value: text verbatim, everything else as
// indented JSON.
func printArtifact(rec *archive.Record, key string) error {
	if rec.Snapshot == nil {
		return fmt.Errorf("run %s has no snapshot", rec.RunID)
	}
	value, ok := rec.Snapshot.Values[key]
	if !ok {
		return fmt.Errorf("run %s has no artifact %q", rec.RunID, key)
	}
	if text, ok := typeutil.SafeString(value); ok {
		fmt.Println(text)
		return nil
	}
	return outputJSON(value)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
