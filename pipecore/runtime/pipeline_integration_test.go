// End-to-end pipeline tests: the standard plan assembled through the config
// builder, driven by scripted completions over in-memory documents.
//
// Assertions stick to what an operator can observe: the report, the store
// contents, the emitted events and the error chain.
package runtime_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftforge-labs/resumepipeline/pipecore/capability"
	"github.com/draftforge-labs/resumepipeline/pipecore/completion"
	"github.com/draftforge-labs/resumepipeline/pipecore/config"
	"github.com/draftforge-labs/resumepipeline/pipecore/prompt"
	"github.com/draftforge-labs/resumepipeline/pipecore/runtime"
	"github.com/draftforge-labs/resumepipeline/pipecore/stage"
	"github.com/draftforge-labs/resumepipeline/pipecore/store"
	"github.com/draftforge-labs/resumepipeline/pipecore/testutil"
)

// =============================================================================
// HELPERS
// =============================================================================

// buildStandardRunner assembles the default plan with scripted capabilities.
// mutate, when non-nil, adjusts the plan before assembly.
func buildStandardRunner(t *testing.T, provider capability.CompletionProvider, sink stage.EventSink, mutate func(*config.Plan)) *runtime.Runner {
	t.Helper()

	plan := config.DefaultPlan()
	if mutate != nil {
		mutate(&plan)
	}
	runner, err := config.BuildRunner(&plan, config.BuildDeps{
		Completion:   provider,
		Documents:    testutil.StandardDocuments(),
		Prompts:      prompt.Builtin(),
		DefaultModel: "test-model",
		Events:       sink,
	})
	require.NoError(t, err)
	return runner
}

// seededStore returns a store holding the standard document references.
func seededStore(t *testing.T) *store.Store {
	t.Helper()

	st := store.New()
	for key, value := range testutil.Seeds() {
		require.NoError(t, st.Set(key, value))
	}
	return st
}

// =============================================================================
// HAPPY PATHS
// =============================================================================

func TestPipeline_CleanFirstReview(t *testing.T) {
	// A clean first review finishes the loop after one iteration and
	// promotes the draft untouched.
	provider := completion.NewOffline(0)
	sink := testutil.NewCollectingSink()
	runner := buildStandardRunner(t, provider, sink, nil)
	st := seededStore(t)

	report, err := runner.Run(context.Background(), st)

	require.NoError(t, err)
	assert.Equal(t, "resume_optimization", report.Plan)
	assert.Equal(t, st.RunID(), report.RunID)
	assert.Equal(t, 5, report.Steps)
	assert.Empty(t, report.Warnings)

	final, err := st.Get("optimized_resume")
	require.NoError(t, err)
	assert.Equal(t, completion.OfflineDraft, final)

	assert.True(t, st.Has("resume_candidate_1"))
	assert.True(t, st.Has("critic_issues_1"))
	assert.False(t, st.Has("resume_candidate_2"))

	// Four completions before the loop, then one writer and one critic call.
	assert.Equal(t, 6, provider.CallCount())

	finalized, ok := sink.Finalized()
	require.True(t, ok)
	assert.True(t, finalized.Clean)
	assert.Equal(t, 1, finalized.Iterations)
}

func TestPipeline_CleanAtCeiling(t *testing.T) {
	// Four dirty reviews followed by a clean one on the final permitted
	// iteration still count as a clean finish, with no warning.
	provider := completion.NewOffline(4)
	runner := buildStandardRunner(t, provider, nil, nil)
	st := seededStore(t)

	report, err := runner.Run(context.Background(), st)

	require.NoError(t, err)
	assert.Empty(t, report.Warnings)

	for n := 1; n <= 5; n++ {
		assert.True(t, st.Has(fmt.Sprintf("resume_candidate_%d", n)), "candidate %d", n)
		assert.True(t, st.Has(fmt.Sprintf("critic_issues_%d", n)), "issues %d", n)
	}
	final, err := st.Get("optimized_resume")
	require.NoError(t, err)
	assert.Equal(t, completion.OfflineDraft, final)

	// Four completions before the loop, then five writer/critic rounds.
	assert.Equal(t, 14, provider.CallCount())
}

func TestPipeline_ExhaustedAtCeiling(t *testing.T) {
	// A critic that never comes back clean exhausts the loop: the run still
	// succeeds, the last draft is promoted and the report carries a warning.
	provider := completion.NewOffline(5)
	sink := testutil.NewCollectingSink()
	runner := buildStandardRunner(t, provider, sink, nil)
	st := seededStore(t)

	report, err := runner.Run(context.Background(), st)

	require.NoError(t, err)
	require.Len(t, report.Warnings, 1)
	warning := report.Warnings[0]
	assert.Equal(t, "publisher", warning.Loop)
	assert.Equal(t, 5, warning.Iterations)
	assert.Equal(t, 1, warning.OpenIssues)
	assert.Contains(t, warning.String(), "exhausted 5 iterations")

	final, err := st.Get("optimized_resume")
	require.NoError(t, err)
	assert.Equal(t, completion.OfflineDraft, final)

	finalized, ok := sink.Finalized()
	require.True(t, ok)
	assert.False(t, finalized.Clean)
	assert.Equal(t, 5, finalized.Iterations)
}

func TestPipeline_FanoutWritesBothExtractions(t *testing.T) {
	// Concurrent ingest and extract branches land their disjoint keys; the
	// structured values survive the trip through prompt and decoder.
	provider := completion.NewOffline(0)
	runner := buildStandardRunner(t, provider, nil, nil)
	st := seededStore(t)

	_, err := runner.Run(context.Background(), st)
	require.NoError(t, err)

	resumeText, err := st.Get("resume")
	require.NoError(t, err)
	assert.Equal(t, testutil.SampleResume, resumeText)

	jobText, err := st.Get("job_description")
	require.NoError(t, err)
	assert.Equal(t, testutil.SampleJob, jobText)

	jsonResume, err := st.Get("json_resume")
	require.NoError(t, err)
	resume, ok := jsonResume.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, resume, "contact_info")
	assert.Len(t, resume["experience"], 2)

	jsonJob, err := st.Get("json_job_description")
	require.NoError(t, err)
	job, ok := jsonJob.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Staff Data Engineer", job["title"])
	assert.Len(t, job["requirements"], 3)
}

func TestPipeline_SinkObservesEveryStage(t *testing.T) {
	// One started and one succeeded event per executed stage, loop progress
	// included.
	provider := completion.NewOffline(0)
	sink := testutil.NewCollectingSink()
	runner := buildStandardRunner(t, provider, sink, nil)
	st := seededStore(t)

	_, err := runner.Run(context.Background(), st)
	require.NoError(t, err)

	executed := []string{
		"ingest_resume", "ingest_job",
		"extract_resume", "extract_job",
		"match_qualifications", "check_qualifications",
		"draft_writer", "draft_critic",
	}
	assert.ElementsMatch(t, executed, sink.StagesOf("stage_started"))
	assert.ElementsMatch(t, executed, sink.StagesOf("stage_succeeded"))
	assert.Zero(t, sink.CountOf("stage_failed"))
	assert.Equal(t, 1, sink.CountOf("loop_iteration"))
	assert.Equal(t, 1, sink.CountOf("loop_finalized"))
}

// =============================================================================
// FAILURE PATHS
// =============================================================================

func TestPipeline_MissingSeedFailsFast(t *testing.T) {
	// A run seeded without job_ref fails in the first fan-out before any
	// completion call, naming plan, stage and key.
	provider := completion.NewOffline(0)
	runner := buildStandardRunner(t, provider, nil, nil)

	st := store.New()
	require.NoError(t, st.Set("resume_ref", "resume.txt"))

	report, err := runner.Run(context.Background(), st)

	require.Error(t, err)
	var missing *stage.MissingInputError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "ingest_job", missing.Stage)
	assert.Equal(t, "job_ref", missing.Key)
	assert.True(t, strings.HasPrefix(err.Error(), "resume_optimization -> ingest_job: "))
	assert.Contains(t, err.Error(), `requires input key "job_ref"`)

	require.NotNil(t, report)
	assert.Equal(t, 0, report.Steps)
	assert.Equal(t, 0, provider.CallCount())
}

func TestPipeline_CompletionTimeoutChained(t *testing.T) {
	// A backend slower than the stage deadline surfaces as a typed timeout
	// wrapped in the full plan -> stage chain, after the ingest step already
	// completed.
	provider := completion.NewOffline(0).WithDelay(1500 * time.Millisecond)
	runner := buildStandardRunner(t, provider, nil, func(p *config.Plan) {
		for i := range p.Stages {
			if p.Stages[i].Kind == "completion" {
				p.Stages[i].TimeoutSeconds = 1
			}
		}
	})
	st := seededStore(t)

	report, err := runner.Run(context.Background(), st)

	require.Error(t, err)
	var timeout *capability.TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "extract_resume", timeout.Operation)
	assert.True(t, strings.HasPrefix(err.Error(), "resume_optimization -> extract_resume: "))
	assert.Contains(t, err.Error(), "timed out after 1s")

	require.NotNil(t, report)
	assert.Equal(t, 1, report.Steps)
	assert.False(t, st.Has("json_resume"))
}

// =============================================================================
// PROMPT PLUMBING
// =============================================================================

func TestPipeline_WriterPromptCarriesPriorIssues(t *testing.T) {
	// The first draft prompt has no review feedback; the second embeds the
	// critic's findings under the rejection notice.
	provider := completion.NewOffline(1)
	runner := buildStandardRunner(t, provider, nil, nil)
	st := seededStore(t)

	_, err := runner.Run(context.Background(), st)
	require.NoError(t, err)

	var draft1, draft2 string
	for _, call := range provider.Calls() {
		switch {
		case strings.HasPrefix(call.Prompt, "Write draft 1 "):
			draft1 = call.Prompt
		case strings.HasPrefix(call.Prompt, "Write draft 2 "):
			draft2 = call.Prompt
		}
	}
	require.NotEmpty(t, draft1)
	require.NotEmpty(t, draft2)

	assert.NotContains(t, draft1, "A reviewer rejected the previous draft")
	assert.Contains(t, draft2, "A reviewer rejected the previous draft")
	assert.Contains(t, draft2, "Kubernetes achievement is buried below less relevant work")
}

func TestPipeline_CriticPromptCarriesDraftAndJob(t *testing.T) {
	// The critic reviews the writer's actual draft against the extracted
	// job description.
	provider := completion.NewOffline(0)
	runner := buildStandardRunner(t, provider, nil, nil)
	st := seededStore(t)

	_, err := runner.Run(context.Background(), st)
	require.NoError(t, err)

	var review string
	for _, call := range provider.Calls() {
		if strings.HasPrefix(call.Prompt, "Review draft 1 ") {
			review = call.Prompt
		}
	}
	require.NotEmpty(t, review)

	assert.Contains(t, review, "Led migration of 12 services to Kubernetes")
	assert.Contains(t, review, "Staff Data Engineer")
}

func TestPipeline_DefaultModelReachesProvider(t *testing.T) {
	// Stages without a model of their own inherit the build-time default.
	provider := completion.NewOffline(0)
	runner := buildStandardRunner(t, provider, nil, nil)
	st := seededStore(t)

	_, err := runner.Run(context.Background(), st)
	require.NoError(t, err)

	for _, call := range provider.Calls() {
		assert.Equal(t, "test-model", call.Model)
	}
}
