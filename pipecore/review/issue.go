// Package review defines the issue records a reviewer stage produces and
// the parsing that turns a validated payload into typed issues.
//
// An empty issue list is the revision loop's exit signal, so parsing here is
// strict: a payload that does not decode cleanly must fail loudly rather
// than collapse into "no issues found".
package review

import (
	"fmt"

	"github.com/draftforge-labs/resumepipeline/pipecore/typeutil"
	"github.com/draftforge-labs/resumepipeline/pipecore/validate"
)

// Severity grades how badly an issue damages the candidate artifact.
type Severity string

const (
	// SeverityLow marks cosmetic or stylistic findings.
	SeverityLow Severity = "low"
	// SeverityMedium marks findings that weaken the artifact.
	SeverityMedium Severity = "medium"
	// SeverityHigh marks findings that misrepresent the source material.
	SeverityHigh Severity = "high"
	// SeverityCritical marks findings that must never ship, such as
	// fabricated experience.
	SeverityCritical Severity = "critical"
)

// severityWeights orders severities for comparison; higher is worse.
var severityWeights = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// IsValid returns true for a recognized severity.
func (s Severity) IsValid() bool {
	_, ok := severityWeights[s]
	return ok
}

// Weight returns the ordering weight of the severity, 0 if unknown.
func (s Severity) Weight() int {
	return severityWeights[s]
}

// ParseSeverity converts a raw string into a Severity.
func ParseSeverity(raw string) (Severity, error) {
	s := Severity(raw)
	if !s.IsValid() {
		return "", &InvalidSeverityError{Value: raw}
	}
	return s, nil
}

// Well-known issue categories. Categories are free-form tags; these are the
// ones the built-in reviewer instructions ask for.
const (
	CategoryAchievementOrdering    = "achievement_ordering"
	CategoryCertificationRelevance = "certification_relevance"
	CategoryStructureCompliance    = "structure_compliance"
	CategoryFidelityViolation      = "fidelity_violation"
	CategoryFabrication            = "fabrication"
	CategoryMissingEmphasis        = "missing_emphasis"
)

// Issue is one reviewer-identified defect in a candidate artifact.
type Issue struct {
	ID          string   `json:"issue_id,omitempty"`
	Category    string   `json:"category"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Suggestion  string   `json:"suggestion,omitempty"`
	Location    string   `json:"location,omitempty"`
}

// InvalidSeverityError is raised when a reviewer payload carries a severity
// outside the ordered enum. It is never defaulted away.
type InvalidSeverityError struct {
	Value string
	Index int
}

func (e *InvalidSeverityError) Error() string {
	return fmt.Sprintf("issue %d has unknown severity %q", e.Index, e.Value)
}

// Shape returns the shape every reviewer payload must satisfy: a sequence
// of mappings each carrying category, severity and description.
func Shape() *validate.Shape {
	return validate.SequenceOf(
		validate.Mapping("category", "severity", "description"),
		0,
	)
}

// ParseIssues validates and decodes a reviewer payload. An empty sequence
// parses to an empty slice, the loop's exit signal.
func ParseIssues(value any) ([]Issue, error) {
	if err := validate.Check(value, Shape()); err != nil {
		return nil, err
	}

	records, _ := typeutil.SafeMapSlice(value)
	issues := make([]Issue, 0, len(records))
	for i, record := range records {
		rawSeverity, _ := typeutil.SafeString(record["severity"])
		severity := Severity(rawSeverity)
		if !severity.IsValid() {
			return nil, &InvalidSeverityError{Value: rawSeverity, Index: i}
		}

		issues = append(issues, Issue{
			ID:          typeutil.SafeStringDefault(record["issue_id"], ""),
			Category:    typeutil.SafeStringDefault(record["category"], ""),
			Severity:    severity,
			Description: typeutil.SafeStringDefault(record["description"], ""),
			Suggestion:  typeutil.SafeStringDefault(record["suggestion"], ""),
			Location:    typeutil.SafeStringDefault(record["location"], ""),
		})
	}
	return issues, nil
}

// MostSevere returns the highest severity present, or "" for no issues.
func MostSevere(issues []Issue) Severity {
	var worst Severity
	for _, issue := range issues {
		if issue.Severity.Weight() > worst.Weight() {
			worst = issue.Severity
		}
	}
	return worst
}
