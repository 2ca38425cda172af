// Package runmgr provides the Manager - tracking and admission control for
// pipeline runs in one process.
//
// The Manager:
//   - Creates the run's state store and seeds it
//   - Bounds how many runs execute concurrently
//   - Tracks run status from admission to finalization
//   - Hands finished runs to the archive and the event bus
//
// Execution itself belongs to the runtime; the Manager never reaches into
// a plan.
package runmgr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/draftforge-labs/resumepipeline/eventbus"
	"github.com/draftforge-labs/resumepipeline/pipecore/archive"
	"github.com/draftforge-labs/resumepipeline/pipecore/logging"
	"github.com/draftforge-labs/resumepipeline/pipecore/runtime"
	"github.com/draftforge-labs/resumepipeline/pipecore/store"
)

// =============================================================================
// RUN STATUS
// =============================================================================

// Status is the lifecycle state of a managed run.
type Status string

const (
	StatusPending            Status = "pending"
	StatusRunning            Status = "running"
	StatusFinalizedClean     Status = "finalized_clean"
	StatusFinalizedExhausted Status = "finalized_exhausted"
	StatusFailed             Status = "failed"
)

// IsTerminal reports whether the run has finished, in any way.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusFinalizedClean, StatusFinalizedExhausted, StatusFailed:
		return true
	}
	return false
}

// Run is the manager's view of one pipeline execution.
type Run struct {
	ID             string          `json:"id"`
	Plan           string          `json:"plan"`
	Status         Status          `json:"status"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at,omitempty"`
	LastActivityAt time.Time       `json:"last_activity_at"`
	Error          string          `json:"error,omitempty"`
	Report         *runtime.Report `json:"report,omitempty"`

	// Snapshot captures the state store at finalization, so callers can
	// read the run's outputs. Shared across Run copies; treat as read-only.
	Snapshot *store.Snapshot `json:"snapshot,omitempty"`
}

// Request describes one pipeline execution.
type Request struct {
	Runner *runtime.Runner
	Seeds  map[string]any

	// RunID pins the run identity; a fresh one is generated when empty.
	RunID string
}

// =============================================================================
// MANAGER
// =============================================================================

// Config wires a Manager. Archiver and Bus are optional; MaxConcurrent
// zero or negative means no bound.
type Config struct {
	MaxConcurrent int
	Archiver      archive.Archiver
	Bus           *eventbus.Bus
	Logger        logging.Logger
}

// Manager tracks pipeline runs. All methods are safe for concurrent use.
type Manager struct {
	maxConcurrent int
	archiver      archive.Archiver
	bus           *eventbus.Bus
	logger        logging.Logger

	runs map[string]*Run
	mu   sync.RWMutex
}

// New creates a Manager.
func New(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		maxConcurrent: cfg.MaxConcurrent,
		archiver:      cfg.Archiver,
		bus:           cfg.Bus,
		logger:        logger,
		runs:          make(map[string]*Run),
	}
}

// Execute admits, seeds and runs one pipeline execution, blocking until it
// finishes. The returned Run always reflects the terminal status; the error
// is the runner's error chain when the run failed, or an admission or
// seeding failure.
func (m *Manager) Execute(ctx context.Context, req Request) (*Run, error) {
	if req.Runner == nil {
		return nil, fmt.Errorf("run request needs a runner")
	}

	run, err := m.admit(req)
	if err != nil {
		return nil, err
	}
	logger := m.logger.Bind("run_id", run.ID, "plan", run.Plan)
	logger.Info("run_admitted", "seeds", len(req.Seeds))
	m.publish(&eventbus.RunStarted{RunID: run.ID, Plan: run.Plan})

	st := store.NewWithID(run.ID)
	for key, value := range req.Seeds {
		if err := st.Set(key, value); err != nil {
			seedErr := fmt.Errorf("seed %q: %w", key, err)
			m.finalize(run.ID, nil, st, seedErr, logger)
			return m.Get(run.ID), seedErr
		}
	}

	m.setRunning(run.ID)
	report, runErr := req.Runner.Run(ctx, st)

	m.finalize(run.ID, report, st, runErr, logger)
	return m.Get(run.ID), runErr
}

// Get returns a copy of the run, or nil when the id is unknown.
func (m *Manager) Get(runID string) *Run {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[runID]
	if !ok {
		return nil
	}
	copied := *run
	return &copied
}

// List returns copies of all tracked runs.
func (m *Manager) List() []*Run {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Run, 0, len(m.runs))
	for _, run := range m.runs {
		copied := *run
		out = append(out, &copied)
	}
	return out
}

// ActiveCount returns the number of runs that have not reached a terminal
// status.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeCountLocked()
}

// Remove forgets a run. It does not touch the archive.
func (m *Manager) Remove(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.runs, runID)
}

// CleanupStale forgets terminal runs and runs with no activity since
// maxAge ago, returning how many were removed.
func (m *Manager) CleanupStale(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().Add(-maxAge)
	cleaned := 0
	for id, run := range m.runs {
		if run.Status.IsTerminal() || run.LastActivityAt.Before(cutoff) {
			delete(m.runs, id)
			cleaned++
			m.logger.Debug("run_cleaned_up",
				"run_id", id,
				"status", string(run.Status),
				"last_activity", run.LastActivityAt.Format(time.RFC3339),
			)
		}
	}
	return cleaned
}

// =============================================================================
// INTERNAL METHODS
// =============================================================================

func (m *Manager) admit(req Request) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	runID := req.RunID
	if runID == "" {
		runID = store.NewRunID()
	}
	if _, exists := m.runs[runID]; exists {
		return nil, fmt.Errorf("run %s already exists", runID)
	}
	if m.maxConcurrent > 0 && m.activeCountLocked() >= m.maxConcurrent {
		return nil, fmt.Errorf("run limit reached: %d runs already active", m.maxConcurrent)
	}

	now := time.Now().UTC()
	run := &Run{
		ID:             runID,
		Plan:           req.Runner.Name(),
		Status:         StatusPending,
		StartedAt:      now,
		LastActivityAt: now,
	}
	m.runs[runID] = run

	copied := *run
	return &copied, nil
}

func (m *Manager) setRunning(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run, ok := m.runs[runID]; ok {
		run.Status = StatusRunning
		run.LastActivityAt = time.Now().UTC()
	}
}

func (m *Manager) activeCountLocked() int {
	active := 0
	for _, run := range m.runs {
		if !run.Status.IsTerminal() {
			active++
		}
	}
	return active
}

// finalize records the terminal status, archives the run and publishes its
// completion. Archive failures are logged, never escalated: the run's
// outcome is already decided.
func (m *Manager) finalize(runID string, report *runtime.Report, st *store.Store, runErr error, logger logging.Logger) {
	now := time.Now().UTC()

	m.mu.Lock()
	run, ok := m.runs[runID]
	if !ok {
		m.mu.Unlock()
		return
	}
	run.FinishedAt = now
	run.LastActivityAt = now
	run.Report = report
	run.Snapshot = st.Snapshot()
	switch {
	case runErr != nil:
		run.Status = StatusFailed
		run.Error = runErr.Error()
	case report != nil && len(report.Warnings) > 0:
		run.Status = StatusFinalizedExhausted
	default:
		run.Status = StatusFinalizedClean
	}
	final := *run
	m.mu.Unlock()

	logger.Info("run_finalized",
		"status", string(final.Status),
		"duration_ms", int(final.FinishedAt.Sub(final.StartedAt).Milliseconds()),
	)

	if m.archiver != nil {
		rec := &archive.Record{
			RunID:      final.ID,
			Plan:       final.Plan,
			Status:     string(final.Status),
			StartedAt:  final.StartedAt,
			FinishedAt: final.FinishedAt,
			DurationMS: int(final.FinishedAt.Sub(final.StartedAt).Milliseconds()),
			Error:      final.Error,
			Snapshot:   final.Snapshot,
		}
		if report != nil {
			for _, w := range report.Warnings {
				rec.Warnings = append(rec.Warnings, w.String())
			}
		}
		if err := m.archiver.SaveRun(context.Background(), rec); err != nil {
			logger.Warn("run_archive_failed", "error", err.Error())
		}
	}

	completed := &eventbus.RunCompleted{
		RunID:      final.ID,
		Plan:       final.Plan,
		Status:     string(final.Status),
		DurationMS: int(final.FinishedAt.Sub(final.StartedAt).Milliseconds()),
	}
	if final.Error != "" {
		errMsg := final.Error
		completed.Error = &errMsg
	}
	m.publish(completed)
}

func (m *Manager) publish(event eventbus.Event) {
	if m.bus == nil {
		return
	}
	_ = m.bus.Publish(context.Background(), event)
}
