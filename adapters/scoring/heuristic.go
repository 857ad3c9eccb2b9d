// Package scoring implements the router's Scorer collaborator with a
// deterministic keyword heuristic. It stands in for an external model
// service: same interface, same output shape, no network.
package scoring

import (
	"context"
	"fmt"
	"strings"

	"ratchet/internal/record"
	"ratchet/internal/router"
)

// Heuristic scores records from their text alone. The same record
// always produces the same evaluation, which keeps pipeline runs
// reproducible in tests and demos.
type Heuristic struct{}

func NewHeuristic() *Heuristic { return &Heuristic{} }

var _ router.Scorer = (*Heuristic)(nil)

var (
	highImpactWords = []string{
		"outage", "data loss", "security", "breach", "critical",
		"latency", "scalab", "cost",
	}
	riskWords = []string{
		"migration", "breaking", "rewrite", "irreversible", "schema",
		"auth", "production",
	}
	effortWords = []string{
		"rewrite", "redesign", "migration", "overhaul", "multi-",
	}
	infeasibleWords = []string{
		"unsupported", "deprecated", "proprietary", "unavailable",
	}
)

func (h *Heuristic) Score(_ context.Context, profile router.Profile, rec *record.Record) (record.Evaluation, error) {
	text := strings.ToLower(rec.Title + " " + rec.Description)

	feasibility := record.LevelHigh
	if matchCount(text, infeasibleWords) > 0 {
		feasibility = record.LevelLow
	} else if matchCount(text, effortWords) > 1 {
		feasibility = record.LevelMedium
	}

	impact := record.LevelMedium
	switch n := matchCount(text, highImpactWords); {
	case n >= 2:
		impact = record.LevelHigh
	case n == 0 && rec.Relevance < 0.5:
		impact = record.LevelLow
	}

	risk := record.LevelLow
	if n := matchCount(text, riskWords); n >= 2 {
		risk = record.LevelHigh
	} else if n == 1 {
		risk = record.LevelMedium
	}

	effort := record.LevelLow
	if n := matchCount(text, effortWords); n >= 2 {
		effort = record.LevelHigh
	} else if n == 1 {
		effort = record.LevelMedium
	}

	return record.Evaluation{
		Feasibility: feasibility,
		Impact:      impact,
		Risk:        risk,
		Effort:      effort,
		Rationale: fmt.Sprintf("%s assessment of %q: feasibility %s, impact %s",
			profile.Name, rec.Title, feasibility, impact),
	}, nil
}

func matchCount(text string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(text, w) {
			n++
		}
	}
	return n
}
