package validate

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"ratchet/internal/record"
)

// fakeSearcher serves canned matches per corpus, or fails entirely.
type fakeSearcher struct {
	matches map[Corpus][]Match
	err     error
}

func (s *fakeSearcher) Search(_ context.Context, corpus Corpus, _ string, _ int) ([]Match, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.matches[corpus], nil
}

func testRec() *record.Record {
	return record.New("test", "add connection pool", "pool database connections", record.CategoryDatabase, record.TypeTechnique, 0.9)
}

func TestValidatePassesWithNoMatches(t *testing.T) {
	v := New(&fakeSearcher{}, DefaultThresholds())
	got, err := v.Validate(context.Background(), testRec())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !got.Passed || len(got.Conflicts) != 0 {
		t.Errorf("Validate = %+v, want passed with no conflicts", got)
	}
}

func TestValidateConflicts(t *testing.T) {
	tests := []struct {
		name     string
		matches  map[Corpus][]Match
		wantKind record.ConflictKind
	}{
		{
			name: "exact duplicate in docs",
			matches: map[Corpus][]Match{
				CorpusDocs: {{Ref: "doc-42", Score: 0.97}},
			},
			wantKind: record.ConflictDuplicate,
		},
		{
			name: "exact duplicate in history",
			matches: map[Corpus][]Match{
				CorpusHistory: {{Ref: "imp-7", Score: 0.96}},
			},
			wantKind: record.ConflictDuplicate,
		},
		{
			name: "architectural conflict in deployed",
			matches: map[Corpus][]Match{
				CorpusDeployed: {{Ref: "svc-auth", Score: 0.80, Tags: []string{TagConflicting}, Summary: "single-writer invariant"}},
			},
			wantKind: record.ConflictArchitecture,
		},
		{
			name: "dependency unavailable",
			matches: map[Corpus][]Match{
				CorpusDeployed: {{Ref: "dep-cache", Score: 0.50, Tags: []string{TagDependency, TagUnavailable}}},
			},
			wantKind: record.ConflictDependency,
		},
		{
			name: "capacity exhausted",
			matches: map[Corpus][]Match{
				CorpusDeployed: {{Ref: "pool-db", Score: 0.85, Tags: []string{TagAtCapacity}}},
			},
			wantKind: record.ConflictCapacity,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New(&fakeSearcher{matches: tt.matches}, DefaultThresholds())
			got, err := v.Validate(context.Background(), testRec())
			if err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if got.Passed {
				t.Fatal("Passed = true, want conflict")
			}
			if len(got.Conflicts) != 1 || got.Conflicts[0].Kind != tt.wantKind {
				t.Errorf("Conflicts = %+v, want one %s", got.Conflicts, tt.wantKind)
			}
			if got.Conflicts[0].Ref == "" {
				t.Error("conflict has no reference to the conflicting item")
			}
		})
	}
}

func TestValidateSimilarPriorIsInformational(t *testing.T) {
	v := New(&fakeSearcher{matches: map[Corpus][]Match{
		CorpusHistory: {
			{Ref: "imp-1", Score: 0.80},
			{Ref: "imp-2", Score: 0.60}, // below similar threshold
		},
	}}, DefaultThresholds())
	got, err := v.Validate(context.Background(), testRec())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !got.Passed {
		t.Errorf("similar prior blocked validation: %+v", got.Conflicts)
	}
	want := []record.Reference{{Corpus: "history", Ref: "imp-1", Score: 0.80}}
	if diff := cmp.Diff(want, got.SimilarPrior); diff != "" {
		t.Errorf("SimilarPrior mismatch (-want +got):\n%s", diff)
	}
}

func TestValidateSearchErrorIsNotAConflict(t *testing.T) {
	wantErr := errors.New("search service unavailable")
	v := New(&fakeSearcher{err: wantErr}, DefaultThresholds())
	got, err := v.Validate(context.Background(), testRec())
	if !errors.Is(err, wantErr) {
		t.Fatalf("Validate error = %v, want wrapped search error", err)
	}
	if len(got.Conflicts) != 0 {
		t.Errorf("search failure produced conflicts: %+v", got.Conflicts)
	}
}

func TestValidateExtraSubCheck(t *testing.T) {
	called := false
	extra := func(_ context.Context, rec *record.Record, _ map[Corpus][]Match) (*record.Conflict, error) {
		called = true
		return &record.Conflict{Kind: record.ConflictCapacity, Ref: "quota"}, nil
	}
	v := New(&fakeSearcher{}, DefaultThresholds(), extra)
	got, err := v.Validate(context.Background(), testRec())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !called {
		t.Fatal("extra sub-check not invoked")
	}
	if got.Passed {
		t.Error("extra sub-check conflict ignored")
	}
}
