package completion

// =============================================================================
// OFFLINE PROVIDER
// =============================================================================

// NewOffline returns a scripted provider covering every prompt of the
// standard plan, for runs with no model backend. Document ingestion stays
// real; the model outputs are canned and unrelated to the documents, so an
// offline run exercises the plumbing rather than optimization quality.
//
// rejections is the number of review rounds that report issues before the
// critic turns clean. Zero finishes the revision loop on the first pass; a
// value at or above the loop ceiling keeps every round dirty and forces
// exhaustion.
//
// The script prefixes track the opening lines of the builtin prompts.
func NewOffline(rejections int) *ScriptedProvider {
	critic := make([]string, 0, rejections+1)
	for i := 0; i < rejections; i++ {
		critic = append(critic, OfflineIssuesJSON)
	}
	critic = append(critic, "[]")

	return NewScripted().
		WithScript("Extract the resume below", OfflineResumeJSON).
		WithScript("Extract the job posting below", OfflineJobJSON).
		WithScript("Match the structured resume", OfflineMatchesJSON).
		WithScript("Decide which uncertain resume matches", OfflineConfirmedJSON).
		WithScript("Write draft ", OfflineDraft).
		WithScript("Review draft ", critic...)
}

// OfflineResumeJSON is the canned structured resume.
const OfflineResumeJSON = `{
  "contact_info": {"name": "Jordan Reyes", "email": "jordan.reyes@example.com"},
  "experience": [
    {
      "company": "Northwind Analytics",
      "title": "Senior Data Engineer",
      "dates": "2019 - present",
      "achievements": [
        "Cut pipeline latency 40% by moving ingestion to streaming",
        "Led migration of 12 services to Kubernetes",
        "Mentored four junior engineers"
      ]
    },
    {
      "company": "Bluebird Systems",
      "title": "Data Engineer",
      "dates": "2015 - 2019",
      "achievements": ["Built nightly ETL covering 30 upstream sources"]
    }
  ],
  "education": ["B.S. Computer Science, Oregon State University"],
  "certifications": ["AWS Solutions Architect"],
  "skills": ["Go", "Python", "Kubernetes", "Kafka"]
}`

// OfflineJobJSON is the canned structured job posting.
const OfflineJobJSON = `{
  "title": "Staff Data Engineer",
  "requirements": [
    "5+ years building data pipelines",
    "Kubernetes in production",
    "Streaming ingestion experience"
  ]
}`

// OfflineMatchesJSON pairs one clear match with one uncertain match.
const OfflineMatchesJSON = `{
  "quality_matches": [
    {
      "jd_requirement": "Kubernetes in production",
      "resume_value": "Led migration of 12 services to Kubernetes",
      "resume_source": "experience"
    }
  ],
  "possible_quality_matches": [
    {
      "jd_requirement": "Streaming ingestion experience",
      "resume_value": "Cut pipeline latency 40% by moving ingestion to streaming",
      "resume_source": "experience"
    }
  ]
}`

// OfflineConfirmedJSON is the checked match list: the uncertain match held up.
const OfflineConfirmedJSON = `[
  {
    "jd_requirement": "Streaming ingestion experience",
    "resume_value": "Cut pipeline latency 40% by moving ingestion to streaming",
    "resume_source": "experience"
  },
  {
    "jd_requirement": "Kubernetes in production",
    "resume_value": "Led migration of 12 services to Kubernetes",
    "resume_source": "experience"
  }
]`

// OfflineIssuesJSON is a single-issue review verdict.
const OfflineIssuesJSON = `[
  {
    "category": "achievement_ordering",
    "severity": "medium",
    "description": "Kubernetes achievement is buried below less relevant work",
    "suggestion": "Move it to the top of the Northwind role"
  }
]`

// OfflineDraft is the plain-text draft the scripted writer returns.
const OfflineDraft = `JORDAN REYES
jordan.reyes@example.com | Portland, OR

EXPERIENCE

Northwind Analytics, Senior Data Engineer, 2019 - present
- Led migration of 12 services to Kubernetes
- Cut pipeline latency 40% by moving ingestion to streaming
- Mentored four junior engineers

Bluebird Systems, Data Engineer, 2015 - 2019
- Built nightly ETL covering 30 upstream sources

EDUCATION
B.S. Computer Science, Oregon State University

CERTIFICATIONS
AWS Solutions Architect

SKILLS
Go, Python, Kubernetes, Kafka`
