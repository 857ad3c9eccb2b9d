// Package policy decides approved vs pending_review. The rule table in
// DefaultRules is the single source of truth for every auto-approval
// threshold; nothing else in the repository states one. Rules are
// `when:` expressions compiled once and evaluated in order, first match
// wins, so the table reads as data and changing a tier is a data edit.
package policy

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"ratchet/internal/record"
)

// Overrides are the two global out-of-band flags. Callers fetch them
// fresh for every Decide invocation; they are never cached here.
type Overrides struct {
	ApproveAll  bool
	ApproveNone bool
}

// RuleDef is one row of the decision table. When is evaluated against
// {relevance, category, type, validation_passed, approve_all,
// approve_none}.
type RuleDef struct {
	ID      string
	Name    string
	When    string
	Outcome record.Outcome
	Reason  string
}

// DefaultRules returns the risk-tiered decision table, in evaluation
// order. approve_none outranks approve_all so the emergency stop always
// wins; integration records and validation conflicts outrank every
// relevance tier.
func DefaultRules() []RuleDef {
	return []RuleDef{
		{ID: "R1", Name: "override-approve-none", Outcome: record.OutcomePendingReview, Reason: "override",
			When: `approve_none`},
		{ID: "R2", Name: "override-approve-all", Outcome: record.OutcomeApproved, Reason: "override",
			When: `approve_all`},
		{ID: "R3", Name: "integration-review", Outcome: record.OutcomePendingReview, Reason: "integration always reviewed",
			When: `type == "integration"`},
		{ID: "R4", Name: "conflict-review", Outcome: record.OutcomePendingReview, Reason: "conflict detected",
			When: `!validation_passed`},
		{ID: "R5", Name: "high-risk-tier", Outcome: record.OutcomeApproved, Reason: "relevance meets high-risk tier threshold",
			When: `category in ["security", "database"] && relevance >= 0.95`},
		{ID: "R6", Name: "standard-tier", Outcome: record.OutcomeApproved, Reason: "relevance meets standard tier threshold",
			When: `category in ["architecture", "capability", "monitoring"] && relevance >= 0.90`},
		{ID: "R7", Name: "default-review", Outcome: record.OutcomePendingReview, Reason: "below threshold",
			When: `true`},
	}
}

type compiledRule struct {
	def  RuleDef
	prog *vm.Program
}

// Policy is a pure decision function over the compiled rule table.
type Policy struct {
	rules []compiledRule
}

// New compiles the rule table. Compilation errors surface at startup,
// not at decision time.
func New(defs []RuleDef) (*Policy, error) {
	rules := make([]compiledRule, 0, len(defs))
	for _, def := range defs {
		prog, err := expr.Compile(def.When, expr.Env(map[string]any{
			"relevance":         float64(0),
			"category":          "",
			"type":              "",
			"validation_passed": false,
			"approve_all":       false,
			"approve_none":      false,
		}), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("compile rule %s (%s): %w", def.ID, def.When, err)
		}
		rules = append(rules, compiledRule{def: def, prog: prog})
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("empty rule table")
	}
	return &Policy{rules: rules}, nil
}

// Default returns a Policy over DefaultRules.
func Default() (*Policy, error) { return New(DefaultRules()) }

// Decide evaluates the table in order and returns the first match.
// Given identical inputs the decision is always identical.
func (p *Policy) Decide(rec *record.Record, ov Overrides) (record.Decision, error) {
	env := map[string]any{
		"relevance":         rec.Relevance,
		"category":          string(rec.Category),
		"type":              string(rec.Type),
		"validation_passed": rec.Validation != nil && rec.Validation.Passed,
		"approve_all":       ov.ApproveAll,
		"approve_none":      ov.ApproveNone,
	}
	for _, rule := range p.rules {
		out, err := expr.Run(rule.prog, env)
		if err != nil {
			return record.Decision{}, fmt.Errorf("evaluate rule %s: %w", rule.def.ID, err)
		}
		if out.(bool) {
			return record.Decision{
				Outcome: rule.def.Outcome,
				Reason:  rule.def.Reason,
				RuleID:  rule.def.ID,
			}, nil
		}
	}
	// DefaultRules ends with a catch-all; a custom table might not.
	return record.Decision{}, fmt.Errorf("no rule matched record %s", rec.ID)
}
