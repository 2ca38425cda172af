// Package completion provides the text completion providers behind the
// pipeline's stages: the Gemini-backed production provider, a scripted
// provider for offline runs and tests, and a rate limiting wrapper.
package completion

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/draftforge-labs/resumepipeline/pipecore/capability"
	"github.com/draftforge-labs/resumepipeline/pipecore/logging"
	"github.com/draftforge-labs/resumepipeline/pipecore/observability"
	"github.com/draftforge-labs/resumepipeline/pipecore/typeutil"
)

// GeminiConfig configures the Gemini provider.
type GeminiConfig struct {
	APIKey       string `koanf:"api_key" json:"-"`
	DefaultModel string `koanf:"default_model" json:"default_model"`
}

// Validate checks the provider configuration.
func (c *GeminiConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("gemini api key must not be empty")
	}
	if c.DefaultModel == "" {
		return fmt.Errorf("gemini default model must not be empty")
	}
	return nil
}

// GeminiProvider implements capability.CompletionProvider on the Gemini API.
type GeminiProvider struct {
	client       *genai.Client
	defaultModel string
	logger       logging.Logger
}

// NewGemini builds a Gemini provider. The context covers client setup only;
// calls carry their own contexts.
func NewGemini(ctx context.Context, cfg GeminiConfig, logger logging.Logger) (*GeminiProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, capability.NewProviderError("gemini", "client setup failed", err)
	}

	return &GeminiProvider{
		client:       client,
		defaultModel: cfg.DefaultModel,
		logger:       logger.Bind("provider", "gemini"),
	}, nil
}

// Complete implements capability.CompletionProvider. Recognized options:
// temperature (float), top_p (float), max_output_tokens (int).
func (p *GeminiProvider) Complete(ctx context.Context, model string, prompt string, options map[string]any) (string, error) {
	if model == "" {
		model = p.defaultModel
	}

	start := time.Now()
	resp, err := p.client.Models.GenerateContent(ctx, model, genai.Text(prompt), buildGenerateConfig(options))
	durationMS := int(time.Since(start).Milliseconds())

	if err != nil {
		observability.RecordCompletionCall("gemini", model, "error", durationMS)
		// Deadline and cancellation pass through untouched so the caller
		// can tell a timeout from a provider fault.
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		p.logger.Error("completion_failed", "model", model, "error", err.Error(), "duration_ms", durationMS)
		return "", capability.NewProviderError("gemini", "generate content failed", err)
	}

	text := resp.Text()
	if text == "" {
		observability.RecordCompletionCall("gemini", model, "error", durationMS)
		return "", capability.NewProviderError("gemini", "empty response", nil)
	}

	observability.RecordCompletionCall("gemini", model, "success", durationMS)
	p.logger.Debug("completion_succeeded",
		"model", model,
		"prompt_length", len(prompt),
		"response_length", len(text),
		"duration_ms", durationMS,
	)
	return text, nil
}

// buildGenerateConfig maps the pipeline's loose option map onto the SDK
// config. Unknown options are ignored.
func buildGenerateConfig(options map[string]any) *genai.GenerateContentConfig {
	if len(options) == 0 {
		return nil
	}
	cfg := &genai.GenerateContentConfig{}
	if v, ok := options["temperature"]; ok {
		if f, ok := typeutil.SafeFloat(v); ok {
			cfg.Temperature = genai.Ptr(float32(f))
		}
	}
	if v, ok := options["top_p"]; ok {
		if f, ok := typeutil.SafeFloat(v); ok {
			cfg.TopP = genai.Ptr(float32(f))
		}
	}
	if v, ok := options["max_output_tokens"]; ok {
		if n, ok := typeutil.SafeInt(v); ok {
			cfg.MaxOutputTokens = int32(n)
		}
	}
	return cfg
}
