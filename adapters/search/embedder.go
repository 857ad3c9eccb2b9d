package search

import (
	"context"
	"hash/fnv"
	"strings"
)

// HashEmbedder is a local, deterministic Embedder: token frequencies
// hashed into a fixed-dimension bag-of-words vector. Good enough for
// duplicate and similarity detection without an external service.
type HashEmbedder struct {
	Dim int
}

const defaultDim = 256

var _ Embedder = (*HashEmbedder)(nil)

func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	dim := e.Dim
	if dim <= 0 {
		dim = defaultDim
	}
	vec := make([]float64, dim)
	for _, tok := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[h.Sum32()%uint32(dim)]++
	}
	return vec, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
}
