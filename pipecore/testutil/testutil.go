// Package testutil provides fixtures and mocks shared by integration tests.
//
// Everything here drives full pipelines without external backends: sample
// documents on an in-memory filesystem and an event sink that records what
// it sees. Canned model behavior comes from completion.NewOffline, which is
// production code; tests reuse it rather than redefining the payloads.
package testutil

import (
	"sync"

	"github.com/spf13/afero"

	"github.com/draftforge-labs/resumepipeline/pipecore/document"
	"github.com/draftforge-labs/resumepipeline/pipecore/logging"
	"github.com/draftforge-labs/resumepipeline/pipecore/stage"
)

// =============================================================================
// SAMPLE DOCUMENTS
// =============================================================================

// SampleResume is the source resume used by pipeline fixtures.
const SampleResume = `JORDAN REYES
jordan.reyes@example.com | Portland, OR

EXPERIENCE

Northwind Analytics, Senior Data Engineer, 2019 - present
- Cut pipeline latency 40% by moving ingestion to streaming
- Led migration of 12 services to Kubernetes
- Mentored four junior engineers

Bluebird Systems, Data Engineer, 2015 - 2019
- Built nightly ETL covering 30 upstream sources

EDUCATION
B.S. Computer Science, Oregon State University

CERTIFICATIONS
AWS Solutions Architect

SKILLS
Go, Python, Kubernetes, Kafka`

// SampleJob is the job posting used by pipeline fixtures.
const SampleJob = `Staff Data Engineer

We are hiring a staff data engineer for our platform team.

Requirements:
- 5+ years building data pipelines
- Kubernetes in production
- Streaming ingestion experience`

// Seeds returns store seed values matching StandardDocuments.
func Seeds() map[string]any {
	return map[string]any{
		"resume_ref": "resume.txt",
		"job_ref":    "job.txt",
	}
}

// NewMemDocuments builds a document source over an in-memory filesystem
// preloaded with the given files, keyed by reference path.
func NewMemDocuments(files map[string]string) *document.FileSource {
	fs := afero.NewMemMapFs()
	for name, body := range files {
		_ = afero.WriteFile(fs, name, []byte(body), 0o644)
	}
	return document.NewFileSourceFS(fs, "", logging.NewNop())
}

// StandardDocuments returns a document source holding the sample resume and
// job posting under the references Seeds points at.
func StandardDocuments() *document.FileSource {
	return NewMemDocuments(map[string]string{
		"resume.txt": SampleResume,
		"job.txt":    SampleJob,
	})
}

// =============================================================================
// COLLECTING SINK
// =============================================================================

// SinkEvent is one recorded emission.
type SinkEvent struct {
	Type       string // stage_started, stage_succeeded, stage_failed, loop_iteration, loop_finalized
	RunID      string
	Stage      string
	Error      string
	DurationMS int
	Iteration  int
	IssueCount int
	Clean      bool
	Iterations int
}

// CollectingSink records every stage and loop event for assertion.
type CollectingSink struct {
	// Err, when set, is returned by every emit. Emission failures must
	// never affect pipeline outcomes; tests set this to prove it.
	Err error

	events []SinkEvent
	mu     sync.Mutex
}

// NewCollectingSink creates an empty CollectingSink.
func NewCollectingSink() *CollectingSink {
	return &CollectingSink{}
}

var _ stage.EventSink = (*CollectingSink)(nil)

func (s *CollectingSink) EmitStageStarted(runID, stage string) error {
	return s.record(SinkEvent{Type: "stage_started", RunID: runID, Stage: stage})
}

func (s *CollectingSink) EmitStageSucceeded(runID, stage string, durationMS int) error {
	return s.record(SinkEvent{Type: "stage_succeeded", RunID: runID, Stage: stage, DurationMS: durationMS})
}

func (s *CollectingSink) EmitStageFailed(runID, stage string, errMsg string, durationMS int) error {
	return s.record(SinkEvent{Type: "stage_failed", RunID: runID, Stage: stage, Error: errMsg, DurationMS: durationMS})
}

func (s *CollectingSink) EmitLoopIteration(runID string, iteration, issueCount int) error {
	return s.record(SinkEvent{Type: "loop_iteration", RunID: runID, Iteration: iteration, IssueCount: issueCount})
}

func (s *CollectingSink) EmitLoopFinalized(runID string, clean bool, iterations int) error {
	return s.record(SinkEvent{Type: "loop_finalized", RunID: runID, Clean: clean, Iterations: iterations})
}

func (s *CollectingSink) record(e SinkEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.Err
}

// Events returns a copy of everything recorded so far.
func (s *CollectingSink) Events() []SinkEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SinkEvent, len(s.events))
	copy(out, s.events)
	return out
}

// StagesOf returns the stage names of every event of the given type, in
// emission order.
func (s *CollectingSink) StagesOf(eventType string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for _, e := range s.events {
		if e.Type == eventType {
			names = append(names, e.Stage)
		}
	}
	return names
}

// CountOf returns how many events of the given type were recorded.
func (s *CollectingSink) CountOf(eventType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

// Finalized returns the last loop_finalized event, if any.
func (s *CollectingSink) Finalized() (SinkEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].Type == "loop_finalized" {
			return s.events[i], true
		}
	}
	return SinkEvent{}, false
}

// Clear removes all recorded events.
func (s *CollectingSink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}
