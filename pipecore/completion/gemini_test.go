package completion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeminiConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     GeminiConfig
		wantErr string
	}{
		{"valid", GeminiConfig{APIKey: "k", DefaultModel: "gemini-2.0-flash"}, ""},
		{"missing key", GeminiConfig{DefaultModel: "gemini-2.0-flash"}, "api key"},
		{"missing model", GeminiConfig{APIKey: "k"}, "default model"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestBuildGenerateConfig(t *testing.T) {
	t.Run("no options", func(t *testing.T) {
		assert.Nil(t, buildGenerateConfig(nil))
		assert.Nil(t, buildGenerateConfig(map[string]any{}))
	})

	t.Run("maps known options", func(t *testing.T) {
		cfg := buildGenerateConfig(map[string]any{
			"temperature":       0.2,
			"top_p":             0.9,
			"max_output_tokens": 2048,
		})
		require.NotNil(t, cfg)
		require.NotNil(t, cfg.Temperature)
		assert.InDelta(t, 0.2, float64(*cfg.Temperature), 1e-6)
		require.NotNil(t, cfg.TopP)
		assert.InDelta(t, 0.9, float64(*cfg.TopP), 1e-6)
		assert.Equal(t, int32(2048), cfg.MaxOutputTokens)
	})

	t.Run("ignores malformed values", func(t *testing.T) {
		cfg := buildGenerateConfig(map[string]any{
			"temperature":       "hot",
			"max_output_tokens": "many",
		})
		require.NotNil(t, cfg)
		assert.Nil(t, cfg.Temperature)
		assert.Zero(t, cfg.MaxOutputTokens)
	})
}
