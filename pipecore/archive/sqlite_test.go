package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftforge-labs/resumepipeline/pipecore/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestArchive(t *testing.T) *SQLite {
	t.Helper()
	a, err := OpenSQLite(filepath.Join(t.TempDir(), "runs.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func newTestRecord(t *testing.T, runID string, startedAt time.Time) *Record {
	t.Helper()
	st := store.NewWithID(runID)
	require.NoError(t, st.Set("json_resume", map[string]any{"contact_info": map[string]any{"name": "Jane"}}))
	require.NoError(t, st.Set("optimized_resume", "JANE DOE\nSenior Engineer"))

	return &Record{
		RunID:      runID,
		Plan:       "resume_optimization",
		Status:     "finalized_clean",
		StartedAt:  startedAt,
		FinishedAt: startedAt.Add(42 * time.Second),
		DurationMS: 42000,
		Snapshot:   st.Snapshot(),
	}
}

// =============================================================================
// SAVE / LOAD TESTS
// =============================================================================

func TestSaveAndLoadRun(t *testing.T) {
	// Test that a saved run round-trips with its snapshot intact.
	a := newTestArchive(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	rec := newTestRecord(t, "run-1", started)
	rec.Warnings = []string{"loop publisher exhausted 5 iterations with 2 open issues"}
	require.NoError(t, a.SaveRun(ctx, rec))

	loaded, err := a.LoadRun(ctx, "run-1")

	require.NoError(t, err)
	assert.Equal(t, "run-1", loaded.RunID)
	assert.Equal(t, "resume_optimization", loaded.Plan)
	assert.Equal(t, "finalized_clean", loaded.Status)
	assert.Equal(t, 42000, loaded.DurationMS)
	assert.True(t, loaded.StartedAt.Equal(started))
	assert.Equal(t, rec.Warnings, loaded.Warnings)

	require.NotNil(t, loaded.Snapshot)
	assert.Equal(t, "run-1", loaded.Snapshot.RunID)
	assert.Equal(t, "JANE DOE\nSenior Engineer", loaded.Snapshot.Values["optimized_resume"])
	resume := loaded.Snapshot.Values["json_resume"].(map[string]any)
	contact := resume["contact_info"].(map[string]any)
	assert.Equal(t, "Jane", contact["name"])
	assert.Len(t, loaded.Snapshot.History, 2)
}

func TestSaveRunPreservesFailure(t *testing.T) {
	// Test that failed runs archive their error chain text.
	a := newTestArchive(t)
	ctx := context.Background()

	rec := newTestRecord(t, "run-2", time.Now().UTC())
	rec.Status = "failed"
	rec.Error = "resume_optimization -> extract_resume: required input key json_source is absent"
	require.NoError(t, a.SaveRun(ctx, rec))

	loaded, err := a.LoadRun(ctx, "run-2")

	require.NoError(t, err)
	assert.Equal(t, "failed", loaded.Status)
	assert.Contains(t, loaded.Error, "extract_resume")
	assert.Empty(t, loaded.Warnings)
}

func TestSaveRunDuplicateID(t *testing.T) {
	// Test that run ids are write-once in the archive too.
	a := newTestArchive(t)
	ctx := context.Background()

	rec := newTestRecord(t, "run-3", time.Now().UTC())
	require.NoError(t, a.SaveRun(ctx, rec))

	err := a.SaveRun(ctx, rec)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive run run-3")
}

func TestSaveRunWithoutID(t *testing.T) {
	// Test that records without a run id are rejected before touching the
	// database.
	a := newTestArchive(t)

	err := a.SaveRun(context.Background(), &Record{Plan: "p"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs a run id")
}

func TestLoadRunNotFound(t *testing.T) {
	// Test that a missing run id returns the typed not-found error.
	a := newTestArchive(t)

	_, err := a.LoadRun(context.Background(), "missing")

	require.Error(t, err)
	var notFound *RunNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "missing", notFound.RunID)
	assert.Contains(t, err.Error(), `run "missing" not found`)
}

// =============================================================================
// LIST TESTS
// =============================================================================

func TestListRunsNewestFirst(t *testing.T) {
	// Test that listing orders by start time descending and honors the
	// limit.
	a := newTestArchive(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"run-a", "run-b", "run-c"} {
		rec := newTestRecord(t, id, base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, a.SaveRun(ctx, rec))
	}

	summaries, err := a.ListRuns(ctx, 2)

	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "run-c", summaries[0].RunID)
	assert.Equal(t, "run-b", summaries[1].RunID)
}

func TestListRunsEmptyArchive(t *testing.T) {
	// Test that an empty archive lists nothing without error.
	a := newTestArchive(t)

	summaries, err := a.ListRuns(context.Background(), 0)

	require.NoError(t, err)
	assert.Empty(t, summaries)
}
