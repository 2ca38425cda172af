// Package loop provides the bounded revision loop: a producer stage and a
// reviewer stage alternating until the reviewer reports no issues or the
// iteration ceiling is reached.
//
// The producer never judges its own work. Review authority belongs to the
// reviewer alone, and the ceiling guarantees termination no matter what the
// reviewer says. Running out of iterations is a warning carried on the
// outcome, not an error: the last candidate is still published.
//
// Iteration-numbered store keys are awkward for capabilities, so the loop
// exposes two stable aliases alongside them: the reviewer sees the current
// draft as "candidate", and from the second iteration on the producer sees
// the previous review as "prior_issues".
package loop

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/draftforge-labs/resumepipeline/pipecore/envelope"
	"github.com/draftforge-labs/resumepipeline/pipecore/logging"
	"github.com/draftforge-labs/resumepipeline/pipecore/observability"
	"github.com/draftforge-labs/resumepipeline/pipecore/review"
	"github.com/draftforge-labs/resumepipeline/pipecore/stage"
	"github.com/draftforge-labs/resumepipeline/pipecore/store"
)

// DefaultMaxIterations bounds the loop when the config does not set one.
const DefaultMaxIterations = 5

var tracer = otel.Tracer("resumepipeline/loop")

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config declares a revision loop. CandidateKey and IssuesKey are key
// templates carrying the {n} placeholder; FinalKey receives the winning
// candidate on finalization.
type Config struct {
	Name          string
	Producer      *stage.Stage
	Reviewer      *stage.Stage
	MaxIterations int
	CandidateKey  string
	IssuesKey     string
	FinalKey      string

	Logger logging.Logger
	Events stage.EventSink
}

// Loop alternates producer and reviewer up to a fixed iteration ceiling.
// The ceiling is set at construction and never changes mid-run.
type Loop struct {
	name          string
	producer      *stage.Stage
	reviewer      *stage.Stage
	maxIterations int
	candidateKey  string
	issuesKey     string
	finalKey      string

	logger logging.Logger
	events stage.EventSink
}

// New builds a Loop from its config. MaxIterations zero takes the default;
// a negative value is rejected.
func New(cfg Config) (*Loop, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("loop name must not be empty")
	}
	if cfg.Producer == nil {
		return nil, fmt.Errorf("loop %s has no producer stage", cfg.Name)
	}
	if cfg.Reviewer == nil {
		return nil, fmt.Errorf("loop %s has no reviewer stage", cfg.Name)
	}
	if cfg.MaxIterations < 0 {
		return nil, fmt.Errorf("loop %s max_iterations must not be negative, got %d", cfg.Name, cfg.MaxIterations)
	}
	if cfg.CandidateKey == "" || !stage.HasIterationPlaceholder(cfg.CandidateKey) {
		return nil, fmt.Errorf("loop %s candidate key %q must carry the {n} placeholder", cfg.Name, cfg.CandidateKey)
	}
	if cfg.IssuesKey == "" || !stage.HasIterationPlaceholder(cfg.IssuesKey) {
		return nil, fmt.Errorf("loop %s issues key %q must carry the {n} placeholder", cfg.Name, cfg.IssuesKey)
	}
	if cfg.FinalKey == "" {
		return nil, fmt.Errorf("loop %s final key must not be empty", cfg.Name)
	}

	maxIterations := cfg.MaxIterations
	if maxIterations == 0 {
		maxIterations = DefaultMaxIterations
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	events := cfg.Events
	if events == nil {
		events = stage.NopSink()
	}

	return &Loop{
		name:          cfg.Name,
		producer:      cfg.Producer,
		reviewer:      cfg.Reviewer,
		maxIterations: maxIterations,
		candidateKey:  cfg.CandidateKey,
		issuesKey:     cfg.IssuesKey,
		finalKey:      cfg.FinalKey,
		logger:        logger,
		events:        events,
	}, nil
}

// Name returns the loop's identity used in error chains.
func (l *Loop) Name() string { return l.name }

// MaxIterations returns the fixed iteration ceiling.
func (l *Loop) MaxIterations() int { return l.maxIterations }

// =============================================================================
// OUTCOME
// =============================================================================

// ExhaustedWarning records that the loop hit its ceiling with issues still
// open. It is metadata on the outcome, deliberately not an error value: the
// run continues with the last candidate.
type ExhaustedWarning struct {
	Loop       string `json:"loop"`
	Iterations int    `json:"iterations"`
	OpenIssues int    `json:"open_issues"`
}

// String renders the warning for logs and run summaries.
func (w *ExhaustedWarning) String() string {
	return fmt.Sprintf("loop %s exhausted %d iterations with %d open issues",
		w.Loop, w.Iterations, w.OpenIssues)
}

// Outcome reports how a revision loop finished.
type Outcome struct {
	Loop       string            `json:"loop"`
	Clean      bool              `json:"clean"`
	Iterations int               `json:"iterations"`
	FinalKey   string            `json:"final_key"`
	Warning    *ExhaustedWarning `json:"warning,omitempty"`

	// OpenIssues holds the reviewer's last findings when the loop
	// exhausted; empty on a clean finish.
	OpenIssues []review.Issue `json:"open_issues,omitempty"`
}

// =============================================================================
// EXECUTION
// =============================================================================

// Run drives the loop against the store until the reviewer accepts a
// candidate or the ceiling is hit. The returned error is an
// *envelope.Envelope tagged with the loop name; outcome is nil exactly when
// the error is non-nil.
func (l *Loop) Run(ctx context.Context, st *store.Store) (*Outcome, error) {
	ctx, span := tracer.Start(ctx, "loop.run")
	span.SetAttributes(
		attribute.String("resumepipeline.loop.name", l.name),
		attribute.String("resumepipeline.run.id", st.RunID()),
		attribute.Int("resumepipeline.loop.max_iterations", l.maxIterations),
	)
	defer span.End()

	logger := l.logger.Bind("loop", l.name, "run_id", st.RunID())
	start := time.Now()

	outcome, err := l.run(ctx, st, logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("loop_failed", "error", err.Error(), "duration_ms", time.Since(start).Milliseconds())
		return nil, envelope.Wrap(l.name, err)
	}

	span.SetAttributes(
		attribute.Int("resumepipeline.loop.iterations", outcome.Iterations),
		attribute.Bool("resumepipeline.loop.clean", outcome.Clean),
	)
	span.SetStatus(codes.Ok, "finalized")
	return outcome, nil
}

func (l *Loop) run(ctx context.Context, st *store.Store, logger logging.Logger) (*Outcome, error) {
	for n := 1; n <= l.maxIterations; n++ {
		iterLogger := logger.Bind("iteration", n)

		produceOpts := []stage.RunOption{stage.WithIteration(n)}
		if n > 1 {
			produceOpts = append(produceOpts, stage.WithNamedInput("prior_issues", stage.ResolveKey(l.issuesKey, n-1)))
		}
		if err := l.producer.Run(ctx, st, produceOpts...); err != nil {
			return nil, err
		}

		reviewOpts := []stage.RunOption{
			stage.WithIteration(n),
			stage.WithNamedInput("candidate", stage.ResolveKey(l.candidateKey, n)),
		}
		if err := l.reviewer.Run(ctx, st, reviewOpts...); err != nil {
			return nil, err
		}

		issues, err := l.parseIssues(st, n)
		if err != nil {
			return nil, err
		}

		observability.RecordLoopIteration(l.name)
		_ = l.events.EmitLoopIteration(st.RunID(), n, len(issues))
		iterLogger.Info("loop_iteration_completed", "open_issues", len(issues))

		if len(issues) == 0 {
			return l.finalize(st, n, nil, iterLogger)
		}
		if n == l.maxIterations {
			return l.finalize(st, n, issues, iterLogger)
		}
	}

	// Unreachable with maxIterations >= 1; New guarantees that.
	return nil, fmt.Errorf("loop %s ran zero iterations", l.name)
}

// parseIssues reads and decodes the reviewer's findings for iteration n.
func (l *Loop) parseIssues(st *store.Store, n int) ([]review.Issue, error) {
	raw, err := st.Get(stage.ResolveKey(l.issuesKey, n))
	if err != nil {
		return nil, err
	}
	issues, err := review.ParseIssues(raw)
	if err != nil {
		return nil, fmt.Errorf("reviewer %s iteration %d: %w", l.reviewer.Name, n, err)
	}
	return issues, nil
}

// finalize copies the accepted candidate to the final key and builds the
// outcome. A non-empty issues slice means the ceiling was hit.
func (l *Loop) finalize(st *store.Store, n int, issues []review.Issue, logger logging.Logger) (*Outcome, error) {
	candidate, err := st.Get(stage.ResolveKey(l.candidateKey, n))
	if err != nil {
		return nil, err
	}
	if err := st.Commit(l.name, n, map[string]any{l.finalKey: candidate}); err != nil {
		return nil, err
	}

	outcome := &Outcome{
		Loop:       l.name,
		Clean:      len(issues) == 0,
		Iterations: n,
		FinalKey:   l.finalKey,
		OpenIssues: issues,
	}

	status := "clean"
	if !outcome.Clean {
		status = "exhausted"
		outcome.Warning = &ExhaustedWarning{
			Loop:       l.name,
			Iterations: n,
			OpenIssues: len(issues),
		}
	}

	observability.RecordLoopFinalization(l.name, status)
	_ = l.events.EmitLoopFinalized(st.RunID(), outcome.Clean, n)
	if outcome.Clean {
		logger.Info("loop_finalized", "status", status, "iterations", n)
	} else {
		logger.Warn("loop_finalized", "status", status, "iterations", n, "open_issues", len(issues))
	}
	return outcome, nil
}
