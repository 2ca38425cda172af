package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{Level: "verbose", Format: "json"}.Validate())
	assert.Error(t, Config{Level: "info", Format: "xml"}.Validate())
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{Level: "loud", Format: "json"})
	require.Error(t, err)
}

func TestZapLoggerFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := FromZap(zap.New(core))

	logger.Info("stage_succeeded", "stage", "extract_resume", "duration_ms", 12)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "stage_succeeded", entries[0].Message)
	fields := entries[0].ContextMap()
	assert.Equal(t, "extract_resume", fields["stage"])
}

func TestZapLoggerBind(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := FromZap(zap.New(core)).Bind("run_id", "run_abc")

	logger.Warn("loop_finalized_exhausted", "iterations", 5)

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "run_abc", fields["run_id"])
	assert.EqualValues(t, 5, fields["iterations"])
}

func TestNopLogger(t *testing.T) {
	logger := NewNop()
	logger.Info("ignored")
	logger.Error("also ignored", "k", "v")
	assert.NotNil(t, logger.Bind("run_id", "run_x"))
}
