// Package config loads, validates and assembles pipeline configuration.
//
// A Plan declares the stages of a pipeline and their arrangement: which run
// alone, which fan out in parallel, which nest under a named group and which
// iterate under a revision loop. Settings describe the environment a plan
// runs in. Both validate up front so misconfiguration fails before a run
// starts, not in the middle of one.
package config

import (
	"fmt"

	"github.com/draftforge-labs/resumepipeline/pipecore/review"
	"github.com/draftforge-labs/resumepipeline/pipecore/stage"
	"github.com/draftforge-labs/resumepipeline/pipecore/validate"
)

// =============================================================================
// PLAN TYPES
// =============================================================================

// StageConfig declares a single stage.
type StageConfig struct {
	Name string `koanf:"name" json:"name"`

	// Kind is completion or document.
	Kind string `koanf:"kind" json:"kind"`

	Inputs  []string `koanf:"inputs" json:"inputs"`
	Outputs []string `koanf:"outputs" json:"outputs"`

	// Shapes gate outputs before they reach the store, keyed by declared
	// output key.
	Shapes map[string]*validate.Shape `koanf:"shapes" json:"shapes,omitempty"`

	// Model and Prompt bind a completion stage to its backend. Model falls
	// back to the provider default when empty.
	Model  string `koanf:"model" json:"model,omitempty"`
	Prompt string `koanf:"prompt" json:"prompt,omitempty"`

	// RefInput names the input key holding a document reference. Defaults
	// to the first input.
	RefInput string `koanf:"ref_input" json:"ref_input,omitempty"`

	// TimeoutSeconds bounds the capability call. Zero uses the stage
	// default.
	TimeoutSeconds int `koanf:"timeout_seconds" json:"timeout_seconds,omitempty"`

	// Options are passed through to the completion backend.
	Options map[string]any `koanf:"options" json:"options,omitempty"`
}

// LoopConfig declares a bounded produce-review-finalize loop.
type LoopConfig struct {
	Name          string `koanf:"name" json:"name"`
	Producer      string `koanf:"producer" json:"producer"`
	Reviewer      string `koanf:"reviewer" json:"reviewer"`
	MaxIterations int    `koanf:"max_iterations" json:"max_iterations"`
	CandidateKey  string `koanf:"candidate_key" json:"candidate_key"`
	IssuesKey     string `koanf:"issues_key" json:"issues_key"`
	FinalKey      string `koanf:"final_key" json:"final_key"`
}

// StepConfig references exactly one of: a stage by name, a parallel fan-out
// of stages, a named group of nested steps, or a loop by name.
type StepConfig struct {
	Stage  string       `koanf:"stage" json:"stage,omitempty"`
	Fanout []string     `koanf:"fanout" json:"fanout,omitempty"`
	Group  *GroupConfig `koanf:"group" json:"group,omitempty"`
	Loop   string       `koanf:"loop" json:"loop,omitempty"`
}

// GroupConfig names a nested sequence of steps.
type GroupConfig struct {
	Name  string       `koanf:"name" json:"name"`
	Steps []StepConfig `koanf:"steps" json:"steps"`
}

// Plan is a complete pipeline declaration.
type Plan struct {
	Name string `koanf:"name" json:"name"`

	// Seeds are the keys present in the store before the first step runs.
	Seeds []string `koanf:"seeds" json:"seeds"`

	Stages []StageConfig `koanf:"stages" json:"stages"`
	Loops  []LoopConfig  `koanf:"loops" json:"loops,omitempty"`
	Steps  []StepConfig  `koanf:"steps" json:"steps"`
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks one stage declaration in isolation.
func (c *StageConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("stage name must not be empty")
	}
	if len(c.Outputs) == 0 {
		return fmt.Errorf("stage %q must declare at least one output", c.Name)
	}
	switch c.Kind {
	case "completion":
		if c.Prompt == "" {
			return fmt.Errorf("completion stage %q must name a prompt", c.Name)
		}
	case "document":
		if len(c.Inputs) == 0 {
			return fmt.Errorf("document stage %q must declare the input carrying its reference", c.Name)
		}
	default:
		return fmt.Errorf("stage %q has unknown kind %q", c.Name, c.Kind)
	}
	for key := range c.Shapes {
		if !contains(c.Outputs, key) {
			return fmt.Errorf("stage %q declares a shape for %q which is not one of its outputs", c.Name, key)
		}
	}
	if c.TimeoutSeconds < 0 {
		return fmt.Errorf("stage %q timeout must not be negative", c.Name)
	}
	return nil
}

// Validate checks one loop declaration in isolation.
func (c *LoopConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("loop name must not be empty")
	}
	if c.Producer == "" || c.Reviewer == "" {
		return fmt.Errorf("loop %q must name a producer and a reviewer", c.Name)
	}
	if c.Producer == c.Reviewer {
		return fmt.Errorf("loop %q producer and reviewer must be distinct stages", c.Name)
	}
	if c.MaxIterations < 0 {
		return fmt.Errorf("loop %q max_iterations must not be negative", c.Name)
	}
	if !stage.HasIterationPlaceholder(c.CandidateKey) {
		return fmt.Errorf("loop %q candidate_key %q must contain the {n} placeholder", c.Name, c.CandidateKey)
	}
	if !stage.HasIterationPlaceholder(c.IssuesKey) {
		return fmt.Errorf("loop %q issues_key %q must contain the {n} placeholder", c.Name, c.IssuesKey)
	}
	if c.FinalKey == "" || stage.HasIterationPlaceholder(c.FinalKey) {
		return fmt.Errorf("loop %q final_key must be a plain key, got %q", c.Name, c.FinalKey)
	}
	return nil
}

// Validate checks the whole plan: declarations, references, uniqueness,
// fan-out output disjointness and static dataflow from the seed keys.
func (p *Plan) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("plan name must not be empty")
	}
	if len(p.Stages) == 0 {
		return fmt.Errorf("plan %q declares no stages", p.Name)
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan %q declares no steps", p.Name)
	}

	stages := make(map[string]*StageConfig, len(p.Stages))
	for i := range p.Stages {
		sc := &p.Stages[i]
		if err := sc.Validate(); err != nil {
			return err
		}
		if _, dup := stages[sc.Name]; dup {
			return fmt.Errorf("stage %q is declared twice", sc.Name)
		}
		stages[sc.Name] = sc
	}

	loops := make(map[string]*LoopConfig, len(p.Loops))
	for i := range p.Loops {
		lc := &p.Loops[i]
		if err := lc.Validate(); err != nil {
			return err
		}
		if _, dup := loops[lc.Name]; dup {
			return fmt.Errorf("loop %q is declared twice", lc.Name)
		}
		if _, clash := stages[lc.Name]; clash {
			return fmt.Errorf("loop %q collides with a stage of the same name", lc.Name)
		}
		for _, ref := range []string{lc.Producer, lc.Reviewer} {
			if _, ok := stages[ref]; !ok {
				return fmt.Errorf("loop %q references unknown stage %q", lc.Name, ref)
			}
		}
		loops[lc.Name] = lc
	}

	used := make(map[string]int)
	for _, lc := range p.Loops {
		used[lc.Producer]++
		used[lc.Reviewer]++
	}
	if err := checkStepRefs(p.Steps, stages, loops, used); err != nil {
		return err
	}
	for name := range stages {
		switch {
		case used[name] == 0:
			return fmt.Errorf("stage %q is declared but never used", name)
		case used[name] > 1:
			return fmt.Errorf("stage %q is used more than once", name)
		}
	}

	return p.checkDataflow(stages, loops)
}

func checkStepRefs(steps []StepConfig, stages map[string]*StageConfig, loops map[string]*LoopConfig, used map[string]int) error {
	for _, step := range steps {
		kinds := 0
		if step.Stage != "" {
			kinds++
		}
		if len(step.Fanout) > 0 {
			kinds++
		}
		if step.Group != nil {
			kinds++
		}
		if step.Loop != "" {
			kinds++
		}
		if kinds != 1 {
			return fmt.Errorf("each step must reference exactly one of stage, fanout, group or loop")
		}

		switch {
		case step.Stage != "":
			if _, ok := stages[step.Stage]; !ok {
				return fmt.Errorf("step references unknown stage %q", step.Stage)
			}
			used[step.Stage]++

		case len(step.Fanout) > 0:
			if len(step.Fanout) < 2 {
				return fmt.Errorf("a fanout step needs at least two branches")
			}
			seen := make(map[string]bool)
			for _, name := range step.Fanout {
				sc, ok := stages[name]
				if !ok {
					return fmt.Errorf("fanout references unknown stage %q", name)
				}
				used[name]++
				for _, out := range sc.Outputs {
					if seen[out] {
						return fmt.Errorf("fanout branches write overlapping output key %q", out)
					}
					seen[out] = true
				}
			}

		case step.Group != nil:
			if step.Group.Name == "" {
				return fmt.Errorf("group steps must be named")
			}
			if len(step.Group.Steps) == 0 {
				return fmt.Errorf("group %q has no steps", step.Group.Name)
			}
			if err := checkStepRefs(step.Group.Steps, stages, loops, used); err != nil {
				return err
			}

		case step.Loop != "":
			if _, ok := loops[step.Loop]; !ok {
				return fmt.Errorf("step references unknown loop %q", step.Loop)
			}
		}
	}
	return nil
}

// checkDataflow walks the steps in declaration order, carrying the set of
// keys known to exist, and rejects any stage whose input no earlier step
// produces. Iteration-templated keys are loop-internal and skipped.
func (p *Plan) checkDataflow(stages map[string]*StageConfig, loops map[string]*LoopConfig) error {
	produced := make(map[string]bool, len(p.Seeds))
	for _, seed := range p.Seeds {
		produced[seed] = true
	}
	return walkDataflow(p.Steps, produced, stages, loops)
}

func walkDataflow(steps []StepConfig, produced map[string]bool, stages map[string]*StageConfig, loops map[string]*LoopConfig) error {
	for _, step := range steps {
		switch {
		case step.Stage != "":
			if err := flowStage(stages[step.Stage], produced); err != nil {
				return err
			}

		case len(step.Fanout) > 0:
			// Branches see the pre-step store, not each other's writes.
			for _, name := range step.Fanout {
				if err := requireInputs(stages[name], produced); err != nil {
					return err
				}
			}
			for _, name := range step.Fanout {
				markOutputs(stages[name], produced)
			}

		case step.Group != nil:
			if err := walkDataflow(step.Group.Steps, produced, stages, loops); err != nil {
				return err
			}

		case step.Loop != "":
			lc := loops[step.Loop]
			if err := requireInputs(stages[lc.Producer], produced); err != nil {
				return err
			}
			if err := requireInputs(stages[lc.Reviewer], produced); err != nil {
				return err
			}
			produced[lc.FinalKey] = true
		}
	}
	return nil
}

func flowStage(sc *StageConfig, produced map[string]bool) error {
	if err := requireInputs(sc, produced); err != nil {
		return err
	}
	markOutputs(sc, produced)
	return nil
}

func requireInputs(sc *StageConfig, produced map[string]bool) error {
	for _, input := range sc.Inputs {
		if stage.HasIterationPlaceholder(input) {
			continue
		}
		if !produced[input] {
			return fmt.Errorf("stage %q input %q is not a seed and no earlier step produces it", sc.Name, input)
		}
	}
	return nil
}

func markOutputs(sc *StageConfig, produced map[string]bool) {
	for _, out := range sc.Outputs {
		if stage.HasIterationPlaceholder(out) {
			continue
		}
		produced[out] = true
	}
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

// =============================================================================
// DEFAULT PLAN
// =============================================================================

// DefaultPlan returns the standard resume optimization pipeline: parallel
// document ingestion, parallel structured extraction, qualification matching
// and checking, then a bounded draft-review loop publishing the final resume.
func DefaultPlan() Plan {
	return Plan{
		Name:  "resume_optimization",
		Seeds: []string{"resume_ref", "job_ref"},
		Stages: []StageConfig{
			{
				Name:     "ingest_resume",
				Kind:     "document",
				Inputs:   []string{"resume_ref"},
				Outputs:  []string{"resume"},
				RefInput: "resume_ref",
				Shapes: map[string]*validate.Shape{
					"resume": validate.Text(),
				},
			},
			{
				Name:     "ingest_job",
				Kind:     "document",
				Inputs:   []string{"job_ref"},
				Outputs:  []string{"job_description"},
				RefInput: "job_ref",
				Shapes: map[string]*validate.Shape{
					"job_description": validate.Text(),
				},
			},
			{
				Name:    "extract_resume",
				Kind:    "completion",
				Inputs:  []string{"resume"},
				Outputs: []string{"json_resume"},
				Prompt:  "extract_resume",
				Shapes: map[string]*validate.Shape{
					"json_resume": validate.Mapping("contact_info", "experience").
						WithField("experience", validate.SequenceOf(validate.Mapping(), 1)),
				},
			},
			{
				Name:    "extract_job",
				Kind:    "completion",
				Inputs:  []string{"job_description"},
				Outputs: []string{"json_job_description"},
				Prompt:  "extract_job",
				Shapes: map[string]*validate.Shape{
					"json_job_description": validate.Mapping("title", "requirements").
						WithField("requirements", validate.SequenceOf(nil, 1)),
				},
			},
			{
				Name:    "match_qualifications",
				Kind:    "completion",
				Inputs:  []string{"json_resume", "json_job_description"},
				Outputs: []string{"quality_matches", "possible_quality_matches"},
				Prompt:  "match_qualifications",
				Shapes: map[string]*validate.Shape{
					"quality_matches":          validate.SequenceOf(validate.Mapping(), 0),
					"possible_quality_matches": validate.SequenceOf(validate.Mapping(), 0),
				},
			},
			{
				Name:    "check_qualifications",
				Kind:    "completion",
				Inputs:  []string{"quality_matches", "possible_quality_matches"},
				Outputs: []string{"confirmed_matches"},
				Prompt:  "check_qualifications",
				Shapes: map[string]*validate.Shape{
					"confirmed_matches": validate.SequenceOf(validate.Mapping(), 0),
				},
			},
			{
				Name:    "draft_writer",
				Kind:    "completion",
				Inputs:  []string{"json_resume", "json_job_description", "confirmed_matches"},
				Outputs: []string{"resume_candidate_{n}"},
				Prompt:  "draft_writer",
				Shapes: map[string]*validate.Shape{
					"resume_candidate_{n}": validate.Text(),
				},
			},
			{
				Name:    "draft_critic",
				Kind:    "completion",
				Inputs:  []string{"resume_candidate_{n}", "json_job_description"},
				Outputs: []string{"critic_issues_{n}"},
				Prompt:  "draft_critic",
				Shapes: map[string]*validate.Shape{
					"critic_issues_{n}": review.Shape(),
				},
			},
		},
		Loops: []LoopConfig{
			{
				Name:          "publisher",
				Producer:      "draft_writer",
				Reviewer:      "draft_critic",
				MaxIterations: 5,
				CandidateKey:  "resume_candidate_{n}",
				IssuesKey:     "critic_issues_{n}",
				FinalKey:      "optimized_resume",
			},
		},
		Steps: []StepConfig{
			{Fanout: []string{"ingest_resume", "ingest_job"}},
			{Fanout: []string{"extract_resume", "extract_job"}},
			{Stage: "match_qualifications"},
			{Stage: "check_qualifications"},
			{Loop: "publisher"},
		},
	}
}
