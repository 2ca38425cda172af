// Package runtime provides the Runner - the plan orchestration engine.
//
// A plan is an ordered list of steps. Each step is a single stage, a
// fan-out of concurrent stages, a named group of nested steps, or a
// revision loop. The runner executes steps in order, re-checks after every
// stage that its declared outputs actually exist in the store, and wraps
// every child error with its own identity so failures read as a chain of
// custody from the outermost runner down to the failing leaf.
package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/draftforge-labs/resumepipeline/pipecore/envelope"
	"github.com/draftforge-labs/resumepipeline/pipecore/logging"
	"github.com/draftforge-labs/resumepipeline/pipecore/loop"
	"github.com/draftforge-labs/resumepipeline/pipecore/observability"
	"github.com/draftforge-labs/resumepipeline/pipecore/stage"
	"github.com/draftforge-labs/resumepipeline/pipecore/store"
)

var tracer = otel.Tracer("resumepipeline/runtime")

// =============================================================================
// PLAN STEPS
// =============================================================================

// Step is one entry in a plan. Exactly one field is set.
type Step struct {
	Stage  *stage.Stage
	Fanout []*stage.Stage
	Group  *Group
	Loop   *loop.Loop
}

// Group is a named nested sequence of steps. Errors crossing the group
// boundary gain the group's identity in the chain.
type Group struct {
	Name  string
	Steps []Step
}

// StageStep wraps a single stage as a plan step.
func StageStep(s *stage.Stage) Step { return Step{Stage: s} }

// FanoutStep wraps concurrent branch stages as a plan step.
func FanoutStep(branches ...*stage.Stage) Step { return Step{Fanout: branches} }

// GroupStep wraps nested steps under a named identity.
func GroupStep(name string, steps ...Step) Step {
	return Step{Group: &Group{Name: name, Steps: steps}}
}

// LoopStep wraps a revision loop as a plan step.
func LoopStep(l *loop.Loop) Step { return Step{Loop: l} }

// Validate checks that the step declares exactly one kind.
func (s Step) Validate() error {
	set := 0
	if s.Stage != nil {
		set++
	}
	if len(s.Fanout) > 0 {
		set++
	}
	if s.Group != nil {
		set++
	}
	if s.Loop != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("step must declare exactly one of stage, fanout, group, loop; got %d", set)
	}
	if s.Group != nil {
		if s.Group.Name == "" {
			return fmt.Errorf("group step must be named")
		}
		if len(s.Group.Steps) == 0 {
			return fmt.Errorf("group %s has no steps", s.Group.Name)
		}
		for i, sub := range s.Group.Steps {
			if err := sub.Validate(); err != nil {
				return fmt.Errorf("group %s step %d: %w", s.Group.Name, i, err)
			}
		}
	}
	return nil
}

// Describe names the step for logs.
func (s Step) Describe() string {
	switch {
	case s.Stage != nil:
		return s.Stage.Name
	case len(s.Fanout) > 0:
		names := make([]string, len(s.Fanout))
		for i, branch := range s.Fanout {
			names[i] = branch.Name
		}
		return "fanout(" + strings.Join(names, ",") + ")"
	case s.Group != nil:
		return "group(" + s.Group.Name + ")"
	case s.Loop != nil:
		return "loop(" + s.Loop.Name() + ")"
	}
	return "empty"
}

// =============================================================================
// RUNNER
// =============================================================================

// Runner executes a validated plan against one store.
type Runner struct {
	name   string
	steps  []Step
	logger logging.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner's logger.
func WithLogger(l logging.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// New builds a Runner for a named plan.
func New(name string, steps []Step, opts ...Option) (*Runner, error) {
	if name == "" {
		return nil, fmt.Errorf("plan name must not be empty")
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("plan %s has no steps", name)
	}
	for i, step := range steps {
		if err := step.Validate(); err != nil {
			return nil, fmt.Errorf("plan %s step %d: %w", name, i, err)
		}
	}

	r := &Runner{
		name:   name,
		steps:  steps,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Name returns the plan identity used in error chains.
func (r *Runner) Name() string { return r.name }

// Report summarizes a finished run. Warnings carry exhausted-loop metadata;
// they never make the run a failure.
type Report struct {
	Plan       string                   `json:"plan"`
	RunID      string                   `json:"run_id"`
	Steps      int                      `json:"steps"`
	Warnings   []*loop.ExhaustedWarning `json:"warnings,omitempty"`
	DurationMS int                      `json:"duration_ms"`
}

// Run executes the plan. The report is returned even on failure, covering
// the steps that completed. A non-nil error is an *envelope.Envelope whose
// outermost identity is the plan name.
func (r *Runner) Run(ctx context.Context, st *store.Store) (*Report, error) {
	ctx, span := tracer.Start(ctx, "runner.run")
	span.SetAttributes(
		attribute.String("resumepipeline.plan.name", r.name),
		attribute.String("resumepipeline.run.id", st.RunID()),
		attribute.Int("resumepipeline.plan.steps", len(r.steps)),
	)
	defer span.End()

	logger := r.logger.Bind("plan", r.name, "run_id", st.RunID())
	logger.Info("run_started", "steps", len(r.steps))

	start := time.Now()
	report := &Report{Plan: r.name, RunID: st.RunID()}
	err := r.runSteps(ctx, st, r.steps, report, logger)
	report.DurationMS = int(time.Since(start).Milliseconds())

	if err != nil {
		observability.RecordRunExecution(r.name, "error", report.DurationMS)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("run_failed",
			"error", err.Error(),
			"completed_steps", report.Steps,
			"duration_ms", report.DurationMS,
		)
		return report, envelope.Wrap(r.name, err)
	}

	observability.RecordRunExecution(r.name, "success", report.DurationMS)
	span.SetStatus(codes.Ok, "success")
	logger.Info("run_completed",
		"completed_steps", report.Steps,
		"warnings", len(report.Warnings),
		"duration_ms", report.DurationMS,
	)
	return report, nil
}

// runSteps executes a step list in order. Returned errors carry the chain
// from the failing leaf up to, but not including, this runner's identity;
// the caller adds it.
func (r *Runner) runSteps(ctx context.Context, st *store.Store, steps []Step, report *Report, logger logging.Logger) error {
	for i, step := range steps {
		select {
		case <-ctx.Done():
			logger.Info("run_cancelled", "step", i, "reason", ctx.Err().Error())
			return ctx.Err()
		default:
		}

		logger.Debug("step_started", "step", i, "kind", step.Describe())

		switch {
		case step.Stage != nil:
			if err := step.Stage.Run(ctx, st); err != nil {
				return err
			}
			if err := checkOutputsPresent(st, step.Stage); err != nil {
				return err
			}

		case len(step.Fanout) > 0:
			if err := r.runFanout(ctx, st, step.Fanout, logger); err != nil {
				return err
			}

		case step.Group != nil:
			if err := r.runSteps(ctx, st, step.Group.Steps, report, logger.Bind("group", step.Group.Name)); err != nil {
				return envelope.Wrap(step.Group.Name, err)
			}

		case step.Loop != nil:
			outcome, err := step.Loop.Run(ctx, st)
			if err != nil {
				return err
			}
			if outcome.Warning != nil {
				report.Warnings = append(report.Warnings, outcome.Warning)
			}
		}

		report.Steps++
	}
	return nil
}

// runFanout runs branch stages concurrently, one worker per branch, and
// waits for every branch before reporting. When several branches fail the
// first error in declaration order wins, so reruns of the same plan report
// the same failure.
func (r *Runner) runFanout(ctx context.Context, st *store.Store, branches []*stage.Stage, logger logging.Logger) error {
	results := make([]error, len(branches))
	var wg sync.WaitGroup

	for i, branch := range branches {
		wg.Add(1)
		go func(i int, branch *stage.Stage) {
			defer wg.Done()
			results[i] = branch.Run(ctx, st)
		}(i, branch)
	}
	wg.Wait()

	failed := 0
	var first error
	for _, err := range results {
		if err != nil {
			failed++
			if first == nil {
				first = err
			}
		}
	}
	if first != nil {
		if failed > 1 {
			logger.Warn("fanout_multiple_failures", "failed", failed, "reported", first.Error())
		}
		return first
	}

	for _, branch := range branches {
		if err := checkOutputsPresent(st, branch); err != nil {
			return err
		}
	}
	return nil
}

// checkOutputsPresent re-checks that a finished stage's declared outputs
// exist in the store. Success is store presence, not the call returning nil.
func checkOutputsPresent(st *store.Store, s *stage.Stage) error {
	for _, key := range s.OutputKeys(0) {
		if !st.Has(key) {
			return fmt.Errorf("stage %s finished without writing key %q", s.Name, key)
		}
	}
	return nil
}
