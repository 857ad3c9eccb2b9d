// Package validate checks a record against the existing-state corpora
// via similarity search. A search failure is a retryable error for the
// Coordinator, never a conflict: conflicts are only ever concluded from
// successful searches.
package validate

import (
	"context"
	"fmt"

	"ratchet/internal/logging"
	"ratchet/internal/record"
)

// Corpus names one of the three logical search corpora.
type Corpus string

const (
	// CorpusDocs is the documentation/specification corpus.
	CorpusDocs Corpus = "docs"
	// CorpusDeployed is the deployed-configuration corpus.
	CorpusDeployed Corpus = "deployed"
	// CorpusHistory is prior improvement history, approved and failed.
	CorpusHistory Corpus = "history"
)

// Match is one similarity hit from the search collaborator.
type Match struct {
	Ref     string
	Score   float64
	Summary string
	// Tags carry corpus-specific markers, e.g. "conflicting" entries in
	// the deployed corpus or "failed" entries in history.
	Tags []string
}

// Searcher is the similarity-search collaborator. Errors are retryable.
type Searcher interface {
	Search(ctx context.Context, corpus Corpus, query string, limit int) ([]Match, error)
}

// SubCheck inspects the record plus its corpus matches and returns a
// conflict if the check fails, nil if it passes. Returned errors are
// retryable at the Coordinator level.
type SubCheck func(ctx context.Context, rec *record.Record, matches map[Corpus][]Match) (*record.Conflict, error)

// Thresholds for the default sub-checks. DuplicateScore is the
// similarity above which a hit counts as an exact duplicate;
// SimilarScore is the informational similar-prior cutoff.
type Thresholds struct {
	DuplicateScore float64
	SimilarScore   float64
	SearchLimit    int
}

// DefaultThresholds returns conservative defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DuplicateScore: 0.95,
		SimilarScore:   0.75,
		SearchLimit:    5,
	}
}

// Validator runs the similarity query over all three corpora and then
// the sub-check chain. passed = every sub-check passes.
type Validator struct {
	searcher Searcher
	th       Thresholds
	checks   []SubCheck
}

// New builds a Validator with the default sub-check chain. Extra checks
// are appended after the defaults.
func New(searcher Searcher, th Thresholds, extra ...SubCheck) *Validator {
	v := &Validator{searcher: searcher, th: th}
	v.checks = []SubCheck{
		v.checkNoDuplicate,
		v.checkNoArchitecturalConflict,
		v.checkDependenciesAvailable,
		v.checkCapacityAvailable,
	}
	v.checks = append(v.checks, extra...)
	return v
}

// Validate runs all corpus searches and sub-checks. It writes nothing
// but the returned Validation.
func (v *Validator) Validate(ctx context.Context, rec *record.Record) (record.Validation, error) {
	query := rec.Title + " " + rec.Description

	matches := make(map[Corpus][]Match, 3)
	for _, corpus := range []Corpus{CorpusDocs, CorpusDeployed, CorpusHistory} {
		hits, err := v.searcher.Search(ctx, corpus, query, v.th.SearchLimit)
		if err != nil {
			// Retryable: never inferred as a conflict.
			return record.Validation{}, fmt.Errorf("search %s corpus: %w", corpus, err)
		}
		matches[corpus] = hits
	}

	var out record.Validation
	for _, check := range v.checks {
		conflict, err := check(ctx, rec, matches)
		if err != nil {
			return record.Validation{}, err
		}
		if conflict != nil {
			out.Conflicts = append(out.Conflicts, *conflict)
		}
	}
	out.Passed = len(out.Conflicts) == 0

	// similar_prior is informational only; it never blocks.
	for _, hit := range matches[CorpusHistory] {
		if hit.Score >= v.th.SimilarScore {
			out.SimilarPrior = append(out.SimilarPrior, record.Reference{
				Corpus: string(CorpusHistory),
				Ref:    hit.Ref,
				Score:  hit.Score,
			})
		}
	}

	if !out.Passed {
		logging.New("validate").Info("conflicts detected",
			"record", rec.ID, "conflicts", len(out.Conflicts))
	}
	return out, nil
}

func hasTag(m Match, tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
