package completion

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/draftforge-labs/resumepipeline/pipecore/observability"
)

// =============================================================================
// SCRIPTED PROVIDER
// =============================================================================

// ScriptedProvider replays canned completions without contacting a model
// backend. It powers offline runs and lets tests drive full pipelines with
// deterministic model behavior.
//
// Responses are matched by prompt prefix; the longest matching prefix wins.
// A prefix may carry a sequence of responses consumed one per call, with the
// final response repeating once the sequence drains. That is how iterative
// scenarios (issues on early review passes, a clean verdict later) are
// scripted.
type ScriptedProvider struct {
	scripts  map[string][]string
	fallback string
	delay    time.Duration
	err      error
	calls    []Call
	mu       sync.Mutex
}

// Call records a single completion request for assertion.
type Call struct {
	Model   string
	Prompt  string
	Options map[string]any
}

// NewScripted creates a ScriptedProvider with an empty script table.
// Unmatched prompts get an empty JSON object.
func NewScripted() *ScriptedProvider {
	return &ScriptedProvider{
		scripts:  make(map[string][]string),
		fallback: "{}",
	}
}

// WithScript queues responses for prompts starting with prefix.
func (p *ScriptedProvider) WithScript(prefix string, responses ...string) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts[prefix] = append(p.scripts[prefix], responses...)
	return p
}

// WithFallback sets the response used when no prefix matches.
func (p *ScriptedProvider) WithFallback(response string) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fallback = response
	return p
}

// WithDelay simulates backend latency.
func (p *ScriptedProvider) WithDelay(d time.Duration) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = d
	return p
}

// WithError makes every subsequent call fail with err.
func (p *ScriptedProvider) WithError(err error) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
	return p
}

// Complete implements capability.CompletionProvider.
func (p *ScriptedProvider) Complete(ctx context.Context, model string, prompt string, options map[string]any) (string, error) {
	start := time.Now()

	p.mu.Lock()
	p.calls = append(p.calls, Call{Model: model, Prompt: prompt, Options: options})
	delay := p.delay
	failure := p.err
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if failure != nil {
		observability.RecordCompletionCall("scripted", model, "error", int(time.Since(start).Milliseconds()))
		return "", failure
	}

	response := p.nextResponse(prompt)
	observability.RecordCompletionCall("scripted", model, "success", int(time.Since(start).Milliseconds()))
	return response, nil
}

// nextResponse pops the next scripted response for the longest matching
// prefix. The last response of a sequence is never removed, so a drained
// script keeps answering.
func (p *ScriptedProvider) nextResponse(prompt string) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	match := ""
	found := false
	for prefix := range p.scripts {
		if strings.HasPrefix(prompt, prefix) && (!found || len(prefix) > len(match)) {
			match = prefix
			found = true
		}
	}
	if !found {
		return p.fallback
	}

	queue := p.scripts[match]
	if len(queue) == 0 {
		return p.fallback
	}
	response := queue[0]
	if len(queue) > 1 {
		p.scripts[match] = queue[1:]
	}
	return response
}

// CallCount returns the number of Complete calls so far.
func (p *ScriptedProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// Calls returns a copy of every recorded call.
func (p *ScriptedProvider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}
