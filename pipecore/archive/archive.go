// Package archive persists finished pipeline runs so they can be listed
// and inspected after the process exits.
//
// A Record couples the runner's report with a full snapshot of the shared
// state store, including its write history. The SQLite implementation is
// the only one; Archiver exists so the run manager and tests can swap in
// fakes.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/draftforge-labs/resumepipeline/pipecore/store"
)

// Record is one archived run.
type Record struct {
	RunID      string          `json:"run_id"`
	Plan       string          `json:"plan"`
	Status     string          `json:"status"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	DurationMS int             `json:"duration_ms"`
	Error      string          `json:"error,omitempty"`
	Warnings   []string        `json:"warnings,omitempty"`
	Snapshot   *store.Snapshot `json:"snapshot,omitempty"`
}

// Summary is the listing view of an archived run, without the snapshot.
type Summary struct {
	RunID      string    `json:"run_id"`
	Plan       string    `json:"plan"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int       `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// Archiver persists finished runs. Implementations must be safe for
// concurrent use; runs can finalize in parallel.
type Archiver interface {
	SaveRun(ctx context.Context, rec *Record) error
	LoadRun(ctx context.Context, runID string) (*Record, error)
	ListRuns(ctx context.Context, limit int) ([]Summary, error)
}

// =============================================================================
// ERRORS
// =============================================================================

// RunNotFoundError is returned when a run id is not in the archive.
type RunNotFoundError struct {
	RunID string
}

func (e *RunNotFoundError) Error() string {
	return fmt.Sprintf("run %q not found in archive", e.RunID)
}

// NewRunNotFoundError creates a RunNotFoundError.
func NewRunNotFoundError(runID string) *RunNotFoundError {
	return &RunNotFoundError{RunID: runID}
}
