package completion

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftforge-labs/resumepipeline/pipecore/config"
	"github.com/draftforge-labs/resumepipeline/pipecore/prompt"
	"github.com/draftforge-labs/resumepipeline/pipecore/validate"
)

func TestNewOfflineAnswersBuiltinPrompts(t *testing.T) {
	// The offline scripts key on the builtin prompts' opening lines; a
	// reworded prompt must not silently fall through to the fallback.
	registry := prompt.Builtin()
	p := NewOffline(1)
	ctx := context.Background()

	base := map[string]any{
		"resume":                   "resume text",
		"job_description":          "job text",
		"json_resume":              map[string]any{"contact_info": map[string]any{}},
		"json_job_description":     map[string]any{"title": "t"},
		"quality_matches":          []any{},
		"possible_quality_matches": []any{},
		"confirmed_matches":        []any{},
		"candidate":                "draft text",
		"iteration":                1,
	}

	cases := map[string]string{
		"extract_resume":       OfflineResumeJSON,
		"extract_job":          OfflineJobJSON,
		"match_qualifications": OfflineMatchesJSON,
		"check_qualifications": OfflineConfirmedJSON,
		"draft_writer":         OfflineDraft,
		"draft_critic":         OfflineIssuesJSON,
	}
	for key, want := range cases {
		rendered, err := registry.Get(key, base)
		require.NoError(t, err, key)

		got, err := p.Complete(ctx, "m", rendered, nil)
		require.NoError(t, err, key)
		assert.Equal(t, want, got, key)
	}
}

func TestNewOfflineCriticSequence(t *testing.T) {
	// The critic reports issues for the configured number of rounds, then
	// turns clean and stays clean.
	p := NewOffline(2)
	ctx := context.Background()

	for round := 1; round <= 2; round++ {
		got, err := p.Complete(ctx, "m", "Review draft 1 of the optimized resume below.", nil)
		require.NoError(t, err)
		assert.Equal(t, OfflineIssuesJSON, got, "round %d", round)
	}
	for round := 3; round <= 4; round++ {
		got, err := p.Complete(ctx, "m", "Review draft 1 of the optimized resume below.", nil)
		require.NoError(t, err)
		assert.Equal(t, "[]", got, "round %d", round)
	}
}

func TestNewOfflineImmediatelyClean(t *testing.T) {
	// With zero rejections the very first review is clean.
	p := NewOffline(0)

	got, err := p.Complete(context.Background(), "m", "Review draft 1 of the optimized resume below.", nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", got)
}

func TestOfflinePayloadsSatisfyPlanShapes(t *testing.T) {
	// The canned payloads must keep passing the default plan's output
	// shapes, or every offline run fails mid-pipeline.
	plan := config.DefaultPlan()
	shapes := make(map[string]*validate.Shape)
	for _, sc := range plan.Stages {
		for key, shape := range sc.Shapes {
			shapes[key] = shape
		}
	}

	cases := map[string]string{
		"json_resume":          OfflineResumeJSON,
		"json_job_description": OfflineJobJSON,
		"confirmed_matches":    OfflineConfirmedJSON,
		"critic_issues_{n}":    OfflineIssuesJSON,
	}
	for key, payload := range cases {
		var value any
		require.NoError(t, json.Unmarshal([]byte(payload), &value), key)
		require.NotNil(t, shapes[key], key)
		assert.NoError(t, validate.Check(value, shapes[key]), key)
	}

	var matches map[string]any
	require.NoError(t, json.Unmarshal([]byte(OfflineMatchesJSON), &matches))
	assert.NoError(t, validate.Check(matches["quality_matches"], shapes["quality_matches"]))
	assert.NoError(t, validate.Check(matches["possible_quality_matches"], shapes["possible_quality_matches"]))

	var clean any
	require.NoError(t, json.Unmarshal([]byte("[]"), &clean))
	assert.NoError(t, validate.Check(clean, shapes["critic_issues_{n}"]))
}
