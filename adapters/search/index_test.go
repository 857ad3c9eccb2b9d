package search

import (
	"context"
	"errors"
	"testing"

	"ratchet/internal/validate"
)

func seedIndex(t *testing.T) *Index {
	t.Helper()
	ix := NewIndex(&HashEmbedder{})
	ctx := context.Background()
	docs := []Document{
		{Ref: "docs/retry-policy", Text: "retry policy with exponential backoff for transient failures", Summary: "retry policy"},
		{Ref: "docs/circuit-breaker", Text: "circuit breaker pattern for failing dependencies", Summary: "circuit breaker"},
		{Ref: "docs/naming", Text: "naming conventions for internal packages", Summary: "naming"},
	}
	for _, d := range docs {
		if err := ix.Add(ctx, validate.CorpusDocs, d); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	return ix
}

func TestSearchRanksBySimilarity(t *testing.T) {
	ix := seedIndex(t)

	matches, err := ix.Search(context.Background(), validate.CorpusDocs,
		"exponential backoff retry policy for transient failures", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("got %d matches, want 3", len(matches))
	}
	if matches[0].Ref != "docs/retry-policy" {
		t.Errorf("top match = %s, want docs/retry-policy (scores %v)", matches[0].Ref, matches)
	}
	for i := 1; i < len(matches); i++ {
		if matches[i].Score > matches[i-1].Score {
			t.Errorf("matches not sorted: %v", matches)
		}
	}
}

func TestSearchIdenticalTextScoresOne(t *testing.T) {
	ix := seedIndex(t)

	matches, err := ix.Search(context.Background(), validate.CorpusDocs,
		"retry policy with exponential backoff for transient failures", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 || matches[0].Score < 0.999 {
		t.Fatalf("identical text score = %v, want ~1.0", matches)
	}
}

func TestSearchLimitAndEmptyCorpus(t *testing.T) {
	ix := seedIndex(t)
	ctx := context.Background()

	matches, err := ix.Search(ctx, validate.CorpusDocs, "retry", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 {
		t.Errorf("limit 2 returned %d matches", len(matches))
	}

	matches, err = ix.Search(ctx, validate.CorpusHistory, "retry", 5)
	if err != nil {
		t.Fatalf("empty corpus: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("empty corpus returned %d matches", len(matches))
	}
}

type failEmbedder struct{}

func (failEmbedder) Embed(context.Context, string) ([]float64, error) {
	return nil, errors.New("service unavailable")
}

func TestSearchEmbedderErrorPropagates(t *testing.T) {
	ix := NewIndex(failEmbedder{})
	if _, err := ix.Search(context.Background(), validate.CorpusDocs, "q", 5); err == nil {
		t.Fatal("expected embedder error")
	}
	if err := ix.Add(context.Background(), validate.CorpusDocs, Document{Ref: "x", Text: "y"}); err == nil {
		t.Fatal("expected embedder error from Add")
	}
}

func TestTagsCarriedThrough(t *testing.T) {
	ix := NewIndex(&HashEmbedder{})
	ctx := context.Background()
	err := ix.Add(ctx, validate.CorpusDeployed, Document{
		Ref: "deployed/strict-mtls", Text: "strict mtls everywhere", Tags: []string{validate.TagConflicting},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	matches, err := ix.Search(ctx, validate.CorpusDeployed, "relax mtls for legacy service", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 || len(matches[0].Tags) != 1 || matches[0].Tags[0] != validate.TagConflicting {
		t.Fatalf("tags not carried: %+v", matches)
	}
}
