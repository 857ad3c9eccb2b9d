// Package search implements the validator's similarity-search
// collaborator as an in-memory cosine index. The embedding service
// itself is external; it is consumed as an opaque Embedder.
package search

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"ratchet/internal/validate"
)

// Embedder turns text into a vector. Implementations may call an
// external service; errors propagate to the validator as retryable.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Document is one indexed entry in a corpus.
type Document struct {
	Ref     string
	Text    string
	Summary string
	Tags    []string
}

type indexed struct {
	doc Document
	vec []float64
}

// Index holds per-corpus document vectors and answers cosine-ranked
// queries. Safe for concurrent use.
type Index struct {
	embedder Embedder

	mu      sync.RWMutex
	corpora map[validate.Corpus][]indexed
}

var _ validate.Searcher = (*Index)(nil)

func NewIndex(embedder Embedder) *Index {
	return &Index{
		embedder: embedder,
		corpora:  make(map[validate.Corpus][]indexed),
	}
}

// Add embeds and indexes a document into the corpus.
func (ix *Index) Add(ctx context.Context, corpus validate.Corpus, doc Document) error {
	vec, err := ix.embedder.Embed(ctx, doc.Text)
	if err != nil {
		return fmt.Errorf("embed %s: %w", doc.Ref, err)
	}
	ix.mu.Lock()
	ix.corpora[corpus] = append(ix.corpora[corpus], indexed{doc: doc, vec: vec})
	ix.mu.Unlock()
	return nil
}

// Search returns up to limit matches ranked by cosine similarity,
// highest first. An empty corpus returns no matches, not an error.
func (ix *Index) Search(ctx context.Context, corpus validate.Corpus, query string, limit int) ([]validate.Match, error) {
	qv, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	ix.mu.RLock()
	docs := ix.corpora[corpus]
	matches := make([]validate.Match, 0, len(docs))
	for _, d := range docs {
		matches = append(matches, validate.Match{
			Ref:     d.doc.Ref,
			Score:   cosine(qv, d.vec),
			Summary: d.doc.Summary,
			Tags:    d.doc.Tags,
		})
	}
	ix.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func cosine(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
