// Package stage provides the Stage - one named unit of orchestrated work
// wrapping a single external capability call plus validation.
//
// A stage declares, ahead of execution, the input keys it requires and the
// output keys it will attempt to write. Run fails fast when a declared
// input is missing, gates every capability result through its declared
// output shape, and writes all outputs or none. Failures come back wrapped
// in an error envelope tagged with the stage's name; a stage never swallows
// a capability error.
package stage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/draftforge-labs/resumepipeline/pipecore/capability"
	"github.com/draftforge-labs/resumepipeline/pipecore/envelope"
	"github.com/draftforge-labs/resumepipeline/pipecore/logging"
	"github.com/draftforge-labs/resumepipeline/pipecore/observability"
	"github.com/draftforge-labs/resumepipeline/pipecore/store"
	"github.com/draftforge-labs/resumepipeline/pipecore/validate"
)

// Kind selects the capability a stage wraps.
type Kind string

const (
	// KindCompletion invokes the text-completion provider.
	KindCompletion Kind = "completion"
	// KindDocument fetches raw text through the document source.
	KindDocument Kind = "document"
)

// DefaultTimeout bounds a capability call when the stage does not set one.
const DefaultTimeout = 30 * time.Second

// InvokeFunc overrides the capability call, used by tests and custom
// capabilities. It receives the resolved input values and returns the raw
// capability text.
type InvokeFunc func(ctx context.Context, inputs map[string]any) (string, error)

var tracer = otel.Tracer("resumepipeline/stage")

// Stage is one unit of work in a plan. Input and output keys may carry the
// {n} placeholder, bound to the loop iteration at run time, so one declared
// stage serves every cycle of a revision loop.
type Stage struct {
	Name    string
	Kind    Kind
	Inputs  []string
	Outputs []string

	// Shapes constrains outputs by their declared (unresolved) key.
	Shapes map[string]*validate.Shape

	// Timeout bounds the capability call; zero means DefaultTimeout.
	Timeout time.Duration

	// Completion binding.
	Completion capability.CompletionProvider
	Model      string
	PromptKey  string
	Prompts    PromptRegistry
	Options    map[string]any

	// Document binding. RefInput names the input key holding the document
	// reference; empty means the first declared input.
	Documents capability.DocumentSource
	RefInput  string

	// Handler, when set, replaces the capability call entirely.
	Handler InvokeFunc

	Logger logging.Logger
	Events EventSink
}

// OutputKeys returns the stage's declared outputs with the {n} placeholder
// bound to the given iteration.
func (s *Stage) OutputKeys(iteration int) []string {
	return resolveKeys(s.Outputs, iteration)
}

// Validate checks that the stage declaration is internally consistent.
func (s *Stage) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("stage name must not be empty")
	}
	if len(s.Outputs) == 0 {
		return fmt.Errorf("stage %s declares no outputs", s.Name)
	}
	if s.Handler != nil {
		return nil
	}
	switch s.Kind {
	case KindCompletion:
		if s.Completion == nil {
			return fmt.Errorf("stage %s is a completion stage but has no provider", s.Name)
		}
		if s.Prompts == nil || s.PromptKey == "" {
			return fmt.Errorf("stage %s is a completion stage but has no prompt binding", s.Name)
		}
	case KindDocument:
		if s.Documents == nil {
			return fmt.Errorf("stage %s is a document stage but has no source", s.Name)
		}
		if len(s.Inputs) == 0 && s.RefInput == "" {
			return fmt.Errorf("stage %s is a document stage but declares no reference input", s.Name)
		}
	default:
		return fmt.Errorf("stage %s has unknown kind %q", s.Name, s.Kind)
	}
	return nil
}

// =============================================================================
// Run options
// =============================================================================

type extraInput struct {
	key   string
	alias string
}

type runBinding struct {
	iteration   int
	extraInputs []extraInput
}

// RunOption configures a single Run invocation.
type RunOption func(*runBinding)

// WithIteration binds the {n} placeholder in declared keys.
func WithIteration(n int) RunOption {
	return func(b *runBinding) { b.iteration = n }
}

// WithAdditionalInputs appends already-resolved input keys for this
// invocation only.
func WithAdditionalInputs(keys ...string) RunOption {
	return func(b *runBinding) {
		for _, key := range keys {
			b.extraInputs = append(b.extraInputs, extraInput{key: key})
		}
	}
}

// WithNamedInput requires key for this invocation and exposes its value to
// the capability under alias as well. The revision loop uses this to hand
// the previous cycle's issues to the producer under a stable name, so
// prompts can reference them without knowing the iteration.
func WithNamedInput(alias, key string) RunOption {
	return func(b *runBinding) {
		b.extraInputs = append(b.extraInputs, extraInput{key: key, alias: alias})
	}
}

// =============================================================================
// Execution
// =============================================================================

// Run executes the stage against the store. It returns nil on success; on
// failure it returns an *envelope.Envelope tagged with the stage name, and
// the store is left exactly as it was.
func (s *Stage) Run(ctx context.Context, st *store.Store, opts ...RunOption) error {
	binding := &runBinding{}
	for _, opt := range opts {
		opt(binding)
	}

	ctx, span := tracer.Start(ctx, "stage.run")
	span.SetAttributes(
		attribute.String("resumepipeline.stage.name", s.Name),
		attribute.String("resumepipeline.run.id", st.RunID()),
		attribute.Int("resumepipeline.stage.iteration", binding.iteration),
	)
	defer span.End()

	logger := s.logger().Bind("stage", s.Name, "run_id", st.RunID())
	if binding.iteration > 0 {
		logger = logger.Bind("iteration", binding.iteration)
	}

	start := time.Now()
	_ = s.events().EmitStageStarted(st.RunID(), s.Name)
	logger.Info("stage_started")

	err := s.run(ctx, st, binding, logger)
	durationMS := int(time.Since(start).Milliseconds())
	span.SetAttributes(attribute.Int("duration_ms", durationMS))

	if err != nil {
		observability.RecordStageExecution(s.Name, "error", durationMS)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("stage_failed", "error", err.Error(), "duration_ms", durationMS)
		_ = s.events().EmitStageFailed(st.RunID(), s.Name, err.Error(), durationMS)
		return envelope.Wrap(s.Name, err)
	}

	observability.RecordStageExecution(s.Name, "success", durationMS)
	span.SetStatus(codes.Ok, "success")
	logger.Info("stage_succeeded", "duration_ms", durationMS)
	_ = s.events().EmitStageSucceeded(st.RunID(), s.Name, durationMS)
	return nil
}

func (s *Stage) run(ctx context.Context, st *store.Store, binding *runBinding, logger logging.Logger) error {
	inputKeys := resolveKeys(s.Inputs, binding.iteration)
	for _, extra := range binding.extraInputs {
		inputKeys = append(inputKeys, extra.key)
	}
	outputKeys := resolveKeys(s.Outputs, binding.iteration)

	// Fail fast before touching the capability: every declared input must
	// already be in the store.
	for _, key := range inputKeys {
		if !st.Has(key) {
			return NewMissingInputError(s.Name, key)
		}
	}

	inputs := make(map[string]any, len(inputKeys)+1)
	for _, key := range inputKeys {
		value, err := st.Get(key)
		if err != nil {
			return err
		}
		inputs[key] = value
	}
	for _, extra := range binding.extraInputs {
		if extra.alias != "" {
			inputs[extra.alias] = inputs[extra.key]
		}
	}
	if binding.iteration > 0 {
		inputs["iteration"] = binding.iteration
	}

	raw, err := s.invoke(ctx, inputs)
	if err != nil {
		return err
	}
	logger.Debug("stage_capability_response",
		"response_length", len(raw),
		"response_preview", truncate(raw, 200),
	)

	outputs, err := s.decodeOutputs(raw, outputKeys)
	if err != nil {
		return err
	}

	for i, declared := range s.Outputs {
		shape := s.Shapes[declared]
		if shape == nil {
			continue
		}
		resolved := outputKeys[i]
		if verr := validate.Check(outputs[resolved], shape); verr != nil {
			rule := validate.RuleTypeMismatch
			var ruleErr *validate.RuleError
			if errors.As(verr, &ruleErr) {
				rule = ruleErr.Rule
			}
			return NewMalformedOutputError(s.Name, resolved, rule, verr)
		}
	}

	if err := st.Commit(s.Name, binding.iteration, outputs); err != nil {
		return err
	}
	logger.Debug("stage_committed_outputs", "keys", outputKeys)
	return nil
}

// invoke dispatches to the bound capability under the stage timeout.
func (s *Stage) invoke(ctx context.Context, inputs map[string]any) (string, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var raw string
	var err error
	switch {
	case s.Handler != nil:
		raw, err = s.Handler(callCtx, inputs)
	case s.Kind == KindCompletion:
		raw, err = s.completionCall(callCtx, inputs)
	case s.Kind == KindDocument:
		raw, err = s.documentCall(callCtx, inputs)
	default:
		return "", fmt.Errorf("stage %s has no capability binding", s.Name)
	}

	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return "", capability.NewTimeoutError(s.Name, timeout)
		}
		return "", err
	}
	return raw, nil
}

func (s *Stage) completionCall(ctx context.Context, inputs map[string]any) (string, error) {
	prompt, err := s.Prompts.Get(s.PromptKey, inputs)
	if err != nil {
		return "", fmt.Errorf("prompt lookup for key %q: %w", s.PromptKey, err)
	}
	return s.Completion.Complete(ctx, s.Model, prompt, s.Options)
}

func (s *Stage) documentCall(ctx context.Context, inputs map[string]any) (string, error) {
	refKey := s.RefInput
	if refKey == "" && len(s.Inputs) > 0 {
		refKey = s.Inputs[0]
	}
	ref, ok := inputs[refKey].(string)
	if !ok {
		return "", fmt.Errorf("stage %s reference input %q is not text", s.Name, refKey)
	}
	return s.Documents.Fetch(ctx, ref)
}

// decodeOutputs turns raw capability text into the declared output values.
// Single-output text shapes take the raw text; everything else is decoded
// as JSON. Multi-output stages expect a mapping carrying every output key.
func (s *Stage) decodeOutputs(raw string, outputKeys []string) (map[string]any, error) {
	if len(outputKeys) == 1 {
		key := outputKeys[0]
		if s.expectsText(0) {
			return map[string]any{key: strings.TrimSpace(raw)}, nil
		}
		value, err := extractJSON(raw)
		if err != nil {
			return nil, NewMalformedOutputError(s.Name, key, RuleInvalidJSON, err)
		}
		return map[string]any{key: value}, nil
	}

	value, err := extractJSON(raw)
	if err != nil {
		return nil, NewMalformedOutputError(s.Name, outputKeys[0], RuleInvalidJSON, err)
	}
	m, ok := value.(map[string]any)
	if !ok {
		return nil, NewMalformedOutputError(s.Name, outputKeys[0], RuleInvalidJSON,
			fmt.Errorf("multi-output stage expects a JSON object"))
	}
	outputs := make(map[string]any, len(outputKeys))
	for i, resolved := range outputKeys {
		v, present := m[s.Outputs[i]]
		if !present {
			return nil, NewMalformedOutputError(s.Name, resolved, RuleMissingOutputKey,
				fmt.Errorf("capability result lacks key %q", s.Outputs[i]))
		}
		outputs[resolved] = v
	}
	return outputs, nil
}

// expectsText reports whether the i-th declared output is shaped as plain
// text. Document stages always produce text.
func (s *Stage) expectsText(i int) bool {
	if s.Kind == KindDocument && s.Handler == nil {
		return true
	}
	shape := s.Shapes[s.Outputs[i]]
	return shape != nil && shape.Kind == validate.KindText
}

func (s *Stage) logger() logging.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return logging.NewNop()
}

func (s *Stage) events() EventSink {
	if s.Events != nil {
		return s.Events
	}
	return NopSink()
}

// =============================================================================
// Helpers
// =============================================================================

// resolveKeys binds the {n} placeholder in declared keys to the iteration.
func resolveKeys(declared []string, iteration int) []string {
	resolved := make([]string, len(declared))
	for i, key := range declared {
		resolved[i] = ResolveKey(key, iteration)
	}
	return resolved
}

// ResolveKey binds the {n} placeholder in one key.
func ResolveKey(key string, iteration int) string {
	if !strings.Contains(key, "{n}") {
		return key
	}
	return strings.ReplaceAll(key, "{n}", strconv.Itoa(iteration))
}

// HasIterationPlaceholder reports whether a key template carries {n}.
func HasIterationPlaceholder(key string) bool {
	return strings.Contains(key, "{n}")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// extractJSON parses the first JSON value found in text. Direct parse is
// tried first; failing that, the first balanced object or array is scanned
// out, tolerating prose the model wrapped around its payload.
func extractJSON(text string) (any, error) {
	trimmed := strings.TrimSpace(text)
	var result any
	if err := json.Unmarshal([]byte(trimmed), &result); err == nil {
		return result, nil
	}

	if extracted, ok := scanBalanced(trimmed, '{', '}'); ok {
		if err := json.Unmarshal([]byte(extracted), &result); err == nil {
			return result, nil
		}
	}
	if extracted, ok := scanBalanced(trimmed, '[', ']'); ok {
		if err := json.Unmarshal([]byte(extracted), &result); err == nil {
			return result, nil
		}
	}

	return nil, fmt.Errorf("no valid JSON value found in response")
}

func scanBalanced(text string, open, close rune) (string, bool) {
	start := -1
	depth := 0
	for i, c := range text {
		if c == open {
			if start == -1 {
				start = i
			}
			depth++
		} else if c == close && start != -1 {
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
