// Package main implements the resumepipeline CLI: run the resume
// optimization pipeline against local documents, inspect archived runs,
// and validate configuration without executing anything.
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	// cfgPath points at an optional YAML settings file; environment
	// variables override it either way.
	cfgPath string
	// version information
	version = "dev"
)

func main() {
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "resumepipeline",
	Short: "Optimize a resume against a job posting",
	Long: `resumepipeline runs a staged document pipeline: it ingests a resume and
a job posting, extracts both into structured JSON, matches qualifications,
and drafts an optimized resume through a bounded write-review loop.

Settings load from built-in defaults, then an optional YAML file, then
RESUMEPIPELINE_* environment variables. A .env file in the working
directory is honored.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a YAML settings file")
}
