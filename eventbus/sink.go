package eventbus

import (
	"context"

	"github.com/draftforge-labs/resumepipeline/pipecore/stage"
)

// Sink adapts a Bus to the event sink stages and loops emit through. Emit
// calls carry no context, so delivery runs under context.Background; bus
// subscribers that talk to external systems should bound themselves.
type Sink struct {
	bus *Bus
}

// NewSink wraps bus as a stage event sink.
func NewSink(bus *Bus) *Sink {
	return &Sink{bus: bus}
}

// EmitStageStarted implements stage.EventSink.
func (s *Sink) EmitStageStarted(runID, name string) error {
	return s.bus.Publish(context.Background(), &StageStarted{RunID: runID, Stage: name})
}

// EmitStageSucceeded implements stage.EventSink.
func (s *Sink) EmitStageSucceeded(runID, name string, durationMS int) error {
	return s.bus.Publish(context.Background(), &StageSucceeded{RunID: runID, Stage: name, DurationMS: durationMS})
}

// EmitStageFailed implements stage.EventSink.
func (s *Sink) EmitStageFailed(runID, name string, errMsg string, durationMS int) error {
	return s.bus.Publish(context.Background(), &StageFailed{RunID: runID, Stage: name, Error: errMsg, DurationMS: durationMS})
}

// EmitLoopIteration implements stage.EventSink.
func (s *Sink) EmitLoopIteration(runID string, iteration, issueCount int) error {
	return s.bus.Publish(context.Background(), &LoopIteration{RunID: runID, Iteration: iteration, OpenIssues: issueCount})
}

// EmitLoopFinalized implements stage.EventSink.
func (s *Sink) EmitLoopFinalized(runID string, clean bool, iterations int) error {
	return s.bus.Publish(context.Background(), &LoopFinalized{RunID: runID, Clean: clean, Iterations: iterations})
}

var _ stage.EventSink = (*Sink)(nil)
