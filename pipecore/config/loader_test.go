package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftforge-labs/resumepipeline/pipecore/validate"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, ProviderGemini, cfg.Provider.Kind)
	assert.Equal(t, "gemini-2.0-flash", cfg.Provider.DefaultModel)
	assert.Equal(t, 60, cfg.Provider.RequestsPerMinute)
	assert.Equal(t, 4, cfg.Runs.MaxConcurrent)
	assert.Equal(t, time.Hour, cfg.Runs.StaleAfter)
	assert.Equal(t, "resume_optimization", cfg.Plan.Name)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestLoadYAMLFile(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: warn
provider:
  kind: scripted
runs:
  max_concurrent: 2
  stale_after: 30m
archive:
  enabled: true
  path: /tmp/runs.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, ProviderScripted, cfg.Provider.Kind)
	assert.Equal(t, 2, cfg.Runs.MaxConcurrent)
	assert.Equal(t, 30*time.Minute, cfg.Runs.StaleAfter)
	assert.True(t, cfg.Archive.Enabled)
	assert.Equal(t, "/tmp/runs.db", cfg.Archive.Path)

	// Unset sections still get defaults.
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "resume_optimization", cfg.Plan.Name)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: warn
runs:
  max_concurrent: 2
`)
	t.Setenv("RESUMEPIPELINE_LOGGING_LEVEL", "debug")
	t.Setenv("RESUMEPIPELINE_RUNS_MAX_CONCURRENT", "9")
	t.Setenv("RESUMEPIPELINE_RUNS_STALE_AFTER", "15m")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 9, cfg.Runs.MaxConcurrent)
	assert.Equal(t, 15*time.Minute, cfg.Runs.StaleAfter)
}

func TestLoadHonorsConventionalGeminiKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "conventional")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "conventional", cfg.Provider.APIKey)

	t.Setenv("RESUMEPIPELINE_PROVIDER_API_KEY", "namespaced")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "namespaced", cfg.Provider.APIKey)
}

func TestLoadPlanFromYAML(t *testing.T) {
	path := writeConfig(t, `
provider:
  kind: scripted
plan:
  name: mini
  seeds: [src]
  stages:
    - name: summarize
      kind: completion
      prompt: summarize
      inputs: [src]
      outputs: [summary]
      shapes:
        summary:
          kind: text
  steps:
    - stage: summarize
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "mini", cfg.Plan.Name)
	require.Len(t, cfg.Plan.Stages, 1)
	require.Contains(t, cfg.Plan.Stages[0].Shapes, "summary")
	assert.Equal(t, validate.KindText, cfg.Plan.Stages[0].Shapes["summary"].Kind)
}

func TestLoadReferenceConfigMatchesBuiltins(t *testing.T) {
	// The shipped reference file spells out the built-in plan in YAML; the
	// two must not drift apart.
	cfg, err := Load(filepath.Join("..", "..", "configs", "pipeline.yaml"))
	require.NoError(t, err)

	require.NoError(t, cfg.Plan.Validate())
	assert.Equal(t, Default().Plan, cfg.Plan)
	assert.Equal(t, ProviderGemini, cfg.Provider.Kind)
	assert.Equal(t, 60, cfg.Provider.RequestsPerMinute)
	assert.False(t, cfg.Archive.Enabled)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestEnvKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"RESUMEPIPELINE_LOGGING_LEVEL", "logging.level"},
		{"RESUMEPIPELINE_PROVIDER_API_KEY", "provider.api_key"},
		{"RESUMEPIPELINE_RUNS_MAX_CONCURRENT", "runs.max_concurrent"},
		{"RESUMEPIPELINE_TELEMETRY_OTLP_ENDPOINT", "telemetry.otlp_endpoint"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, envKey(tt.in))
	}
}
