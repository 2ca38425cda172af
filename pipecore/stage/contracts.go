package stage

// EventSink is the interface for structured pipeline event emission. The
// core never assumes a specific backend; emission failures are observed by
// the sink's owner, not by the pipeline.
type EventSink interface {
	EmitStageStarted(runID, stage string) error
	EmitStageSucceeded(runID, stage string, durationMS int) error
	EmitStageFailed(runID, stage string, errMsg string, durationMS int) error
	EmitLoopIteration(runID string, iteration, issueCount int) error
	EmitLoopFinalized(runID string, clean bool, iterations int) error
}

// PromptRegistry is the interface for prompt lookup. Context carries the
// stage's resolved inputs plus iteration metadata.
type PromptRegistry interface {
	Get(key string, context map[string]any) (string, error)
}

type nopSink struct{}

func (nopSink) EmitStageStarted(string, string) error             { return nil }
func (nopSink) EmitStageSucceeded(string, string, int) error      { return nil }
func (nopSink) EmitStageFailed(string, string, string, int) error { return nil }
func (nopSink) EmitLoopIteration(string, int, int) error          { return nil }
func (nopSink) EmitLoopFinalized(string, bool, int) error         { return nil }

// NopSink returns a sink that drops every event.
func NopSink() EventSink {
	return nopSink{}
}
