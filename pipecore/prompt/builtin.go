package prompt

import "text/template"

// Builtin returns a registry preloaded with the standard resume
// optimization prompts, keyed by the stage prompt names the default plan
// uses.
func Builtin() *Registry {
	r := New()
	for key, text := range builtinTemplates {
		r.templates[key] = template.Must(template.New(key).Funcs(funcs).Parse(text))
	}
	return r
}

// builtinTemplates carries the prompt text for the standard plan. Single
// JSON outputs come back as a bare value, multi-output stages as one object
// keyed by output name, and drafts as plain text; the instructions below
// match what the stage decoder expects.
var builtinTemplates = map[string]string{
	"extract_resume": extractResumePrompt,

	"extract_job": extractJobPrompt,

	"match_qualifications": matchQualificationsPrompt,

	"check_qualifications": checkQualificationsPrompt,

	"draft_writer": draftWriterPrompt,

	"draft_critic": draftCriticPrompt,
}

const extractResumePrompt = `Extract the resume below into structured JSON.

Return a single JSON object with at least these keys:
  "contact_info": object with the candidate's name and contact details
  "experience": array of role objects, newest first, each with company,
    title, dates and an "achievements" array quoting the resume verbatim

Carry over every section the resume has (education, certifications,
skills) under keys of the same name. Use only facts present in the
resume; never invent content. Return JSON only, no commentary.

RESUME:
{{.resume}}`

const extractJobPrompt = `Extract the job posting below into structured JSON.

Return a single JSON object with at least these keys:
  "title": the role title
  "requirements": array of requirement strings, one per requirement, in
    posting order

Use only facts present in the posting. Return JSON only, no commentary.

JOB POSTING:
{{.job_description}}`

const matchQualificationsPrompt = `Match the structured resume against the job requirements.

Return a single JSON object with exactly two keys:
  "quality_matches": array of objects, one per requirement the resume
    clearly satisfies, each with "jd_requirement", "resume_value" and
    "resume_source" (the resume section the evidence came from)
  "possible_quality_matches": the same structure for plausible but
    uncertain matches

Every "resume_value" must quote the resume; never invent evidence. A
requirement with no support appears in neither array. Return JSON only.

RESUME:
{{json .json_resume}}

JOB DESCRIPTION:
{{json .json_job_description}}`

const checkQualificationsPrompt = `Decide which uncertain resume matches hold up.

Re-examine each entry under UNDER REVIEW and keep it only when the quoted
resume evidence genuinely supports the requirement. Return a single JSON
array containing the entries that survive review followed by every entry
from ALREADY CONFIRMED, in that order, unchanged in structure. Return
JSON only.

ALREADY CONFIRMED:
{{json .quality_matches}}

UNDER REVIEW:
{{json .possible_quality_matches}}`

const draftWriterPrompt = `Write draft {{.iteration}} of a resume optimized for the job below.

Rules:
  - preserve the original wording of everything you keep; no rephrasing
  - within each role, move achievements backed by confirmed matches to
    the top, keeping relative order among the rest
  - drop a certification only when it is clearly irrelevant to the job;
    keep anything in doubt
  - keep roles, education and contact details in their original order
  - never add skills, achievements or qualifications the resume lacks
{{if .prior_issues}}
A reviewer rejected the previous draft. Fix every issue below before
anything else:

ISSUES:
{{json .prior_issues}}
{{end}}
Return the complete draft as plain text, no commentary.

RESUME:
{{json .json_resume}}

JOB DESCRIPTION:
{{json .json_job_description}}

CONFIRMED MATCHES:
{{json .confirmed_matches}}`

const draftCriticPrompt = `Review draft {{.iteration}} of the optimized resume below.

Check the draft against the source material for:
  - achievement_ordering: confirmed matches not surfaced first in a role
  - missing_emphasis: a confirmed match the draft fails to feature
  - certification_relevance: certifications wrongly kept or dropped
  - fidelity_violation: wording changed from the source resume
  - fabrication: content with no basis in the source resume
  - structure_compliance: sections missing or out of order

Return a JSON array of issue objects, each with "category" (one of the
names above), "severity" ("low", "medium", "high" or "critical") and
"description", plus "location" and "suggestion" where they help. Return
an empty JSON array when the draft needs no changes. Return JSON only.

DRAFT:
{{.candidate}}

JOB DESCRIPTION:
{{json .json_job_description}}`
