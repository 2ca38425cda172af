package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// envPrefix namespaces environment overrides, so
// RESUMEPIPELINE_PROVIDER_API_KEY maps to provider.api_key.
const envPrefix = "RESUMEPIPELINE_"

// Load reads settings with precedence env > yaml file > built-in defaults.
// An empty path skips the file layer; a named file must exist.
//
// Load does not validate: callers apply their own overrides (command-line
// flags, forced offline mode) and then call Validate once.
func Load(path string) (*Settings, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment overrides: %w", err)
	}

	var cfg Settings
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// envKey maps RESUMEPIPELINE_SECTION_FIELD_NAME to section.field_name. The
// split happens at the first underscore past the prefix, so field names keep
// their own underscores.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	parts := strings.SplitN(s, "_", 2)
	if len(parts) == 1 {
		return parts[0]
	}
	return parts[0] + "." + parts[1]
}

// applyDefaults fills unset fields from the built-in defaults.
func applyDefaults(cfg *Settings) {
	def := Default()

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}

	if cfg.Provider.Kind == "" {
		cfg.Provider.Kind = def.Provider.Kind
	}
	if cfg.Provider.APIKey == "" {
		// GEMINI_API_KEY is the conventional variable for this key; honor
		// it when the namespaced override is absent.
		cfg.Provider.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.Provider.DefaultModel == "" {
		cfg.Provider.DefaultModel = def.Provider.DefaultModel
	}
	if cfg.Provider.RequestsPerMinute == 0 {
		cfg.Provider.RequestsPerMinute = def.Provider.RequestsPerMinute
	}

	if cfg.Documents.Root == "" {
		cfg.Documents.Root = def.Documents.Root
	}
	if cfg.Archive.Path == "" {
		cfg.Archive.Path = def.Archive.Path
	}
	if cfg.Telemetry.MetricsAddr == "" {
		cfg.Telemetry.MetricsAddr = def.Telemetry.MetricsAddr
	}
	if cfg.Telemetry.OTLPEndpoint == "" {
		cfg.Telemetry.OTLPEndpoint = def.Telemetry.OTLPEndpoint
	}

	if cfg.Runs.MaxConcurrent == 0 {
		cfg.Runs.MaxConcurrent = def.Runs.MaxConcurrent
	}
	if cfg.Runs.StaleAfter == 0 {
		cfg.Runs.StaleAfter = def.Runs.StaleAfter
	}

	if len(cfg.Plan.Stages) == 0 && len(cfg.Plan.Steps) == 0 {
		cfg.Plan = def.Plan
	}
}
