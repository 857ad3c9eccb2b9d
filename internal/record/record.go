// Package record defines the Improvement Record, the unit of work that
// flows one direction through the pipeline's ordered stages, and the
// structured outputs each stage writes exactly once.
package record

import (
	"time"

	"github.com/google/uuid"
)

// Category drives routing (which scoring profile) and the approval risk
// tier. The set is closed; unknown categories route to the generic
// scoring profile and never auto-approve.
type Category string

const (
	CategoryArchitecture Category = "architecture"
	CategoryIntegration  Category = "integration"
	CategorySecurity     Category = "security"
	CategoryDatabase     Category = "database"
	CategoryNetworking   Category = "networking"
	CategoryMonitoring   Category = "monitoring"
	CategoryCapability   Category = "capability"
)

// Categories lists every known category.
var Categories = []Category{
	CategoryArchitecture, CategoryIntegration, CategorySecurity,
	CategoryDatabase, CategoryNetworking, CategoryMonitoring,
	CategoryCapability,
}

// Valid reports whether c names a known category.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Type is the finer-grained kind within a category. integration-type
// records always route to human review regardless of score.
type Type string

const (
	TypePattern     Type = "pattern"
	TypeTechnique   Type = "technique"
	TypeTool        Type = "tool"
	TypeCapability  Type = "capability"
	TypeIntegration Type = "integration"
)

// Types lists every known record type.
var Types = []Type{
	TypePattern, TypeTechnique, TypeTool, TypeCapability, TypeIntegration,
}

// Valid reports whether t names a known type.
func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// Level is a coarse low/medium/high rating used by evaluations.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Evaluation is the Expert Router's output, written once at the raw
// stage. Priority is derived by the router from feasibility and impact;
// it is never supplied by the scoring collaborator.
type Evaluation struct {
	Feasibility Level  `json:"feasibility"`
	Impact      Level  `json:"impact"`
	Risk        Level  `json:"risk"`
	Effort      Level  `json:"effort"`
	Priority    string `json:"priority"`
	Rationale   string `json:"rationale,omitempty"`
	Profile     string `json:"profile"`
	Fallback    bool   `json:"fallback,omitempty"`
}

// ConflictKind types a failed validator sub-check.
type ConflictKind string

const (
	ConflictDuplicate    ConflictKind = "exact_duplicate"
	ConflictArchitecture ConflictKind = "architectural_conflict"
	ConflictDependency   ConflictKind = "dependency_unavailable"
	ConflictCapacity     ConflictKind = "capacity_unavailable"
)

// Conflict is one failed sub-check with a reference to the conflicting item.
type Conflict struct {
	Kind   ConflictKind `json:"kind"`
	Ref    string       `json:"ref"`
	Detail string       `json:"detail,omitempty"`
}

// Reference points at a prior record or corpus item, informational only.
type Reference struct {
	Corpus string  `json:"corpus"`
	Ref    string  `json:"ref"`
	Score  float64 `json:"score"`
}

// Validation is the Conflict Validator's output, written once at the
// categorized stage. SimilarPrior never blocks; it exists for operator
// visibility.
type Validation struct {
	Passed       bool        `json:"passed"`
	Conflicts    []Conflict  `json:"conflicts,omitempty"`
	SimilarPrior []Reference `json:"similar_prior,omitempty"`
}

// Outcome is an Approval Policy verdict.
type Outcome string

const (
	OutcomeApproved      Outcome = "approved"
	OutcomePendingReview Outcome = "pending_review"
)

// Decision is the Approval Policy's output, written once at the
// validated stage. RuleID names the first matching rule in the table.
type Decision struct {
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason"`
	RuleID  string  `json:"rule_id"`
}

// Failure describes why a record landed in the dead-letter stage or was
// escalated, for operator inspection.
type Failure struct {
	Reason    string `json:"reason"`
	LastStage Stage  `json:"last_stage"`
	Call      string `json:"call,omitempty"`
	Escalated bool   `json:"escalated,omitempty"`
}

// StageStamp records one stage transition; the list is append-only.
type StageStamp struct {
	Stage Stage     `json:"stage"`
	At    time.Time `json:"at"`
}

// Record is the Improvement Record. Each stage-processing component
// writes only its own output field, exactly once; the Coordinator is
// the only writer of Status.
type Record struct {
	ID          string   `json:"id" yaml:"id"`
	Source      string   `json:"source" yaml:"source"`
	Title       string   `json:"title" yaml:"title"`
	Description string   `json:"description" yaml:"description"`
	Category    Category `json:"category" yaml:"category"`
	Type        Type     `json:"type" yaml:"type"`
	// Relevance is assigned at creation and never mutated afterward.
	Relevance float64 `json:"relevance" yaml:"relevance"`

	Evaluation  *Evaluation `json:"evaluation,omitempty" yaml:"evaluation,omitempty"`
	Validation  *Validation `json:"validation,omitempty" yaml:"validation,omitempty"`
	Decision    *Decision   `json:"decision,omitempty" yaml:"decision,omitempty"`
	ArtifactRef string      `json:"artifact_ref,omitempty" yaml:"artifact_ref,omitempty"`
	Failure     *Failure    `json:"failure,omitempty" yaml:"failure,omitempty"`

	Status     Stage        `json:"status" yaml:"status"`
	Timestamps []StageStamp `json:"timestamps" yaml:"timestamps,omitempty"`
}

// New creates a raw record with a fresh ID and an initial stage stamp.
func New(source, title, description string, cat Category, typ Type, relevance float64) *Record {
	return &Record{
		ID:          uuid.NewString(),
		Source:      source,
		Title:       title,
		Description: description,
		Category:    cat,
		Type:        typ,
		Relevance:   relevance,
		Status:      StageRaw,
		Timestamps:  []StageStamp{{Stage: StageRaw, At: time.Now().UTC()}},
	}
}

// Advance moves the record to the next stage and appends a stamp.
// It returns false without mutating when the lifecycle graph forbids
// the transition.
func (r *Record) Advance(to Stage, at time.Time) bool {
	if !CanTransition(r.Status, to) {
		return false
	}
	r.Status = to
	r.Timestamps = append(r.Timestamps, StageStamp{Stage: to, At: at.UTC()})
	return true
}

// EnteredStage returns the time the record entered the given stage, or
// the zero time if it never did.
func (r *Record) EnteredStage(s Stage) time.Time {
	for i := len(r.Timestamps) - 1; i >= 0; i-- {
		if r.Timestamps[i].Stage == s {
			return r.Timestamps[i].At
		}
	}
	return time.Time{}
}
