// Package eventbus provides the in-process event bus for pipeline progress.
//
// Stages, loops and the run manager publish typed events; subscribers get
// concurrent fan-out with fire-and-forget semantics. A subscriber error is
// logged and handed to middleware, never returned to the publisher:
// progress reporting must not fail a run.
package eventbus

// EventKind routes an event to its subscribers.
type EventKind string

const (
	KindRunStarted     EventKind = "run_started"
	KindRunCompleted   EventKind = "run_completed"
	KindStageStarted   EventKind = "stage_started"
	KindStageSucceeded EventKind = "stage_succeeded"
	KindStageFailed    EventKind = "stage_failed"
	KindLoopIteration  EventKind = "loop_iteration"
	KindLoopFinalized  EventKind = "loop_finalized"
)

// Event is the protocol for everything published on the bus.
type Event interface {
	Kind() EventKind
}

// =============================================================================
// RUN LIFECYCLE EVENTS
// =============================================================================

// RunStarted is emitted when a pipeline run begins.
type RunStarted struct {
	RunID string `json:"run_id"`
	Plan  string `json:"plan"`
}

// Kind implements the Event interface.
func (e *RunStarted) Kind() EventKind { return KindRunStarted }

// RunCompleted is emitted when a run reaches a terminal status, clean or
// not.
type RunCompleted struct {
	RunID      string  `json:"run_id"`
	Plan       string  `json:"plan"`
	Status     string  `json:"status"`
	DurationMS int     `json:"duration_ms"`
	Error      *string `json:"error,omitempty"`
}

// Kind implements the Event interface.
func (e *RunCompleted) Kind() EventKind { return KindRunCompleted }

// =============================================================================
// STAGE LIFECYCLE EVENTS
// =============================================================================

// StageStarted is emitted when a stage begins executing.
type StageStarted struct {
	RunID string `json:"run_id"`
	Stage string `json:"stage"`
}

// Kind implements the Event interface.
func (e *StageStarted) Kind() EventKind { return KindStageStarted }

// StageSucceeded is emitted when a stage commits its outputs.
type StageSucceeded struct {
	RunID      string `json:"run_id"`
	Stage      string `json:"stage"`
	DurationMS int    `json:"duration_ms"`
}

// Kind implements the Event interface.
func (e *StageSucceeded) Kind() EventKind { return KindStageSucceeded }

// StageFailed is emitted when a stage fails for any reason.
type StageFailed struct {
	RunID      string `json:"run_id"`
	Stage      string `json:"stage"`
	Error      string `json:"error"`
	DurationMS int    `json:"duration_ms"`
}

// Kind implements the Event interface.
func (e *StageFailed) Kind() EventKind { return KindStageFailed }

// =============================================================================
// REVISION LOOP EVENTS
// =============================================================================

// LoopIteration is emitted after each produce-review cycle.
type LoopIteration struct {
	RunID      string `json:"run_id"`
	Iteration  int    `json:"iteration"`
	OpenIssues int    `json:"open_issues"`
}

// Kind implements the Event interface.
func (e *LoopIteration) Kind() EventKind { return KindLoopIteration }

// LoopFinalized is emitted when a revision loop publishes its result.
// Clean false means the iteration ceiling was hit with issues open.
type LoopFinalized struct {
	RunID      string `json:"run_id"`
	Clean      bool   `json:"clean"`
	Iterations int    `json:"iterations"`
}

// Kind implements the Event interface.
func (e *LoopFinalized) Kind() EventKind { return KindLoopFinalized }
