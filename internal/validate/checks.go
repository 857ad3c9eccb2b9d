package validate

import (
	"context"
	"fmt"

	"ratchet/internal/record"
)

// Corpus tags the default sub-checks understand. The exact semantics of
// architectural conflict and capacity are deliberately pluggable; these
// defaults are driven by similarity matches and corpus tags.
const (
	TagConflicting = "conflicting"
	TagDependency  = "dependency"
	TagUnavailable = "unavailable"
	TagAtCapacity  = "at_capacity"
)

// checkNoDuplicate fails when any corpus contains a near-identical
// item: the first hit at or above the duplicate threshold wins.
func (v *Validator) checkNoDuplicate(_ context.Context, _ *record.Record, matches map[Corpus][]Match) (*record.Conflict, error) {
	for _, corpus := range []Corpus{CorpusDocs, CorpusDeployed, CorpusHistory} {
		for _, hit := range matches[corpus] {
			if hit.Score >= v.th.DuplicateScore {
				return &record.Conflict{
					Kind:   record.ConflictDuplicate,
					Ref:    hit.Ref,
					Detail: fmt.Sprintf("similarity %.2f in %s corpus", hit.Score, corpus),
				}, nil
			}
		}
	}
	return nil, nil
}

// checkNoArchitecturalConflict fails when the deployed corpus has a
// relevant hit explicitly tagged conflicting.
func (v *Validator) checkNoArchitecturalConflict(_ context.Context, _ *record.Record, matches map[Corpus][]Match) (*record.Conflict, error) {
	for _, hit := range matches[CorpusDeployed] {
		if hit.Score >= v.th.SimilarScore && hasTag(hit, TagConflicting) {
			return &record.Conflict{
				Kind:   record.ConflictArchitecture,
				Ref:    hit.Ref,
				Detail: hit.Summary,
			}, nil
		}
	}
	return nil, nil
}

// checkDependenciesAvailable fails when a dependency the record relies
// on is tagged unavailable in the deployed corpus.
func (v *Validator) checkDependenciesAvailable(_ context.Context, _ *record.Record, matches map[Corpus][]Match) (*record.Conflict, error) {
	for _, hit := range matches[CorpusDeployed] {
		if hasTag(hit, TagDependency) && hasTag(hit, TagUnavailable) {
			return &record.Conflict{
				Kind:   record.ConflictDependency,
				Ref:    hit.Ref,
				Detail: hit.Summary,
			}, nil
		}
	}
	return nil, nil
}

// checkCapacityAvailable fails when the deployed corpus marks the
// record's target area as at capacity.
func (v *Validator) checkCapacityAvailable(_ context.Context, _ *record.Record, matches map[Corpus][]Match) (*record.Conflict, error) {
	for _, hit := range matches[CorpusDeployed] {
		if hit.Score >= v.th.SimilarScore && hasTag(hit, TagAtCapacity) {
			return &record.Conflict{
				Kind:   record.ConflictCapacity,
				Ref:    hit.Ref,
				Detail: hit.Summary,
			}, nil
		}
	}
	return nil, nil
}
