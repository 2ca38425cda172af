package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftforge-labs/resumepipeline/pipecore/archive"
	"github.com/draftforge-labs/resumepipeline/pipecore/store"
)

func TestTruncate(t *testing.T) {
	// Test the listing column clamp.
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "exact", truncate("exact", 5))
	assert.Equal(t, "long st...", truncate("long string here", 10))
}

func TestPrintArtifactMissing(t *testing.T) {
	// Test that asking for an absent artifact or snapshot is an error, not
	// empty output.
	rec := &archive.Record{RunID: "run-x"}
	err := printArtifact(rec, "optimized_resume")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no snapshot")

	rec.Snapshot = &store.Snapshot{Values: map[string]any{"resume": "text"}}
	err = printArtifact(rec, "optimized_resume")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no artifact "optimized_resume"`)
}
