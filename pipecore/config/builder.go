package config

import (
	"fmt"
	"time"

	"github.com/draftforge-labs/resumepipeline/pipecore/capability"
	"github.com/draftforge-labs/resumepipeline/pipecore/logging"
	"github.com/draftforge-labs/resumepipeline/pipecore/loop"
	"github.com/draftforge-labs/resumepipeline/pipecore/runtime"
	"github.com/draftforge-labs/resumepipeline/pipecore/stage"
)

// =============================================================================
// PLAN BUILDER
// =============================================================================

// BuildDeps carries the capabilities a plan binds to at assembly time.
type BuildDeps struct {
	Completion capability.CompletionProvider
	Documents  capability.DocumentSource
	Prompts    stage.PromptRegistry

	// DefaultModel backs completion stages with no model of their own.
	DefaultModel string

	Logger logging.Logger
	Events stage.EventSink
}

// KeyChecker is implemented by prompt registries that can report whether a
// key exists without rendering it. When the registry supports it, unknown
// prompt keys fail at build time instead of mid-run.
type KeyChecker interface {
	Has(key string) bool
}

// BuildRunner validates the plan and assembles it into an executable runner.
func BuildRunner(plan *Plan, deps BuildDeps) (*runtime.Runner, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	stages := make(map[string]*stage.Stage, len(plan.Stages))
	for i := range plan.Stages {
		sc := &plan.Stages[i]
		st, err := buildStage(sc, deps)
		if err != nil {
			return nil, err
		}
		stages[sc.Name] = st
	}

	loops := make(map[string]*loop.Loop, len(plan.Loops))
	for i := range plan.Loops {
		lc := &plan.Loops[i]
		l, err := loop.New(loop.Config{
			Name:          lc.Name,
			Producer:      stages[lc.Producer],
			Reviewer:      stages[lc.Reviewer],
			MaxIterations: lc.MaxIterations,
			CandidateKey:  lc.CandidateKey,
			IssuesKey:     lc.IssuesKey,
			FinalKey:      lc.FinalKey,
			Logger:        deps.Logger,
			Events:        deps.Events,
		})
		if err != nil {
			return nil, fmt.Errorf("loop %q: %w", lc.Name, err)
		}
		loops[lc.Name] = l
	}

	steps, err := buildSteps(plan.Steps, stages, loops)
	if err != nil {
		return nil, err
	}

	var opts []runtime.Option
	if deps.Logger != nil {
		opts = append(opts, runtime.WithLogger(deps.Logger))
	}
	return runtime.New(plan.Name, steps, opts...)
}

func buildStage(sc *StageConfig, deps BuildDeps) (*stage.Stage, error) {
	st := &stage.Stage{
		Name:    sc.Name,
		Kind:    stage.Kind(sc.Kind),
		Inputs:  sc.Inputs,
		Outputs: sc.Outputs,
		Shapes:  sc.Shapes,
		Timeout: time.Duration(sc.TimeoutSeconds) * time.Second,
		Logger:  deps.Logger,
		Events:  deps.Events,
	}

	switch sc.Kind {
	case "completion":
		st.Completion = deps.Completion
		st.Model = sc.Model
		if st.Model == "" {
			st.Model = deps.DefaultModel
		}
		st.PromptKey = sc.Prompt
		st.Prompts = deps.Prompts
		st.Options = sc.Options
		if checker, ok := deps.Prompts.(KeyChecker); ok && !checker.Has(sc.Prompt) {
			return nil, fmt.Errorf("stage %q names unknown prompt %q", sc.Name, sc.Prompt)
		}

	case "document":
		st.Documents = deps.Documents
		st.RefInput = sc.RefInput
	}

	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("stage %q: %w", sc.Name, err)
	}
	return st, nil
}

func buildSteps(configs []StepConfig, stages map[string]*stage.Stage, loops map[string]*loop.Loop) ([]runtime.Step, error) {
	steps := make([]runtime.Step, 0, len(configs))
	for _, c := range configs {
		switch {
		case c.Stage != "":
			steps = append(steps, runtime.StageStep(stages[c.Stage]))

		case len(c.Fanout) > 0:
			branches := make([]*stage.Stage, len(c.Fanout))
			for i, name := range c.Fanout {
				branches[i] = stages[name]
			}
			steps = append(steps, runtime.FanoutStep(branches...))

		case c.Group != nil:
			nested, err := buildSteps(c.Group.Steps, stages, loops)
			if err != nil {
				return nil, err
			}
			steps = append(steps, runtime.GroupStep(c.Group.Name, nested...))

		case c.Loop != "":
			steps = append(steps, runtime.LoopStep(loops[c.Loop]))
		}
	}
	return steps, nil
}
