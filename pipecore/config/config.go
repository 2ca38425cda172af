package config

import (
	"fmt"
	"time"

	"github.com/draftforge-labs/resumepipeline/pipecore/logging"
)

// =============================================================================
// SETTINGS
// =============================================================================

// Settings is the full runtime configuration: the environment a plan runs in
// plus the plan itself.
type Settings struct {
	Logging   logging.Config    `koanf:"logging" json:"logging"`
	Provider  ProviderSettings  `koanf:"provider" json:"provider"`
	Documents DocumentSettings  `koanf:"documents" json:"documents"`
	Archive   ArchiveSettings   `koanf:"archive" json:"archive"`
	Telemetry TelemetrySettings `koanf:"telemetry" json:"telemetry"`
	Runs      RunSettings       `koanf:"runs" json:"runs"`
	Plan      Plan              `koanf:"plan" json:"plan"`
}

// ProviderSettings selects and tunes the completion backend.
type ProviderSettings struct {
	// Kind is gemini or scripted.
	Kind string `koanf:"kind" json:"kind"`

	APIKey       string `koanf:"api_key" json:"-"`
	DefaultModel string `koanf:"default_model" json:"default_model"`

	// RequestsPerMinute caps completion calls per model. Zero disables the
	// cap.
	RequestsPerMinute int `koanf:"requests_per_minute" json:"requests_per_minute"`
}

// DocumentSettings controls where document references resolve.
type DocumentSettings struct {
	// Root confines document references to a directory tree.
	Root string `koanf:"root" json:"root"`
}

// ArchiveSettings controls run persistence.
type ArchiveSettings struct {
	Enabled bool   `koanf:"enabled" json:"enabled"`
	Path    string `koanf:"path" json:"path"`
}

// TelemetrySettings controls the metrics listener and trace exporter.
type TelemetrySettings struct {
	Enabled      bool   `koanf:"enabled" json:"enabled"`
	MetricsAddr  string `koanf:"metrics_addr" json:"metrics_addr"`
	OTLPEndpoint string `koanf:"otlp_endpoint" json:"otlp_endpoint"`
}

// RunSettings bounds concurrent run sessions.
type RunSettings struct {
	MaxConcurrent int           `koanf:"max_concurrent" json:"max_concurrent"`
	StaleAfter    time.Duration `koanf:"stale_after" json:"stale_after"`
}

// =============================================================================
// DEFAULTS & VALIDATION
// =============================================================================

// Provider kinds.
const (
	ProviderGemini   = "gemini"
	ProviderScripted = "scripted"
)

// Default returns the built-in configuration: the standard plan against the
// Gemini backend, archive and telemetry off.
func Default() Settings {
	return Settings{
		Logging: logging.DefaultConfig(),
		Provider: ProviderSettings{
			Kind:              ProviderGemini,
			DefaultModel:      "gemini-2.0-flash",
			RequestsPerMinute: 60,
		},
		Documents: DocumentSettings{Root: "."},
		Archive:   ArchiveSettings{Path: "runs.db"},
		Telemetry: TelemetrySettings{
			MetricsAddr:  ":9090",
			OTLPEndpoint: "localhost:4317",
		},
		Runs: RunSettings{
			MaxConcurrent: 4,
			StaleAfter:    time.Hour,
		},
		Plan: DefaultPlan(),
	}
}

// Validate checks every section and the plan.
func (s *Settings) Validate() error {
	if err := s.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := s.Provider.Validate(); err != nil {
		return fmt.Errorf("provider: %w", err)
	}
	if s.Archive.Enabled && s.Archive.Path == "" {
		return fmt.Errorf("archive: enabled but no path configured")
	}
	if s.Telemetry.Enabled && s.Telemetry.MetricsAddr == "" {
		return fmt.Errorf("telemetry: enabled but no metrics_addr configured")
	}
	if s.Runs.MaxConcurrent < 1 {
		return fmt.Errorf("runs: max_concurrent must be at least 1")
	}
	if s.Runs.StaleAfter <= 0 {
		return fmt.Errorf("runs: stale_after must be positive")
	}
	if err := s.Plan.Validate(); err != nil {
		return fmt.Errorf("plan: %w", err)
	}
	return nil
}

// Validate checks the provider section.
func (p *ProviderSettings) Validate() error {
	switch p.Kind {
	case ProviderGemini:
		if p.APIKey == "" {
			return fmt.Errorf("gemini backend needs an api key (set RESUMEPIPELINE_PROVIDER_API_KEY or GEMINI_API_KEY)")
		}
		if p.DefaultModel == "" {
			return fmt.Errorf("gemini backend needs a default model")
		}
	case ProviderScripted:
	default:
		return fmt.Errorf("unknown provider kind %q", p.Kind)
	}
	if p.RequestsPerMinute < 0 {
		return fmt.Errorf("requests_per_minute must not be negative")
	}
	return nil
}
