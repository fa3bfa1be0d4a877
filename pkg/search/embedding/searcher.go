// Package embedding provides the reference Searcher implementation: cosine
// similarity between the query embedding and the embeddings stored with
// each record.
//
// Stores without native vector operations are served by loading tier
// records and scoring in memory, which is adequate at per-agent scale.
package embedding

import (
	"context"
	"math"
	"sort"

	"github.com/stratamem/stratamem-go/pkg/embedder"
	"github.com/stratamem/stratamem-go/pkg/record"
	"github.com/stratamem/stratamem-go/pkg/search"
	"github.com/stratamem/stratamem-go/pkg/store"
)

// Searcher ranks stored records against a query embedding.
type Searcher struct {
	store    store.RecordStore
	embedder embedder.Provider
}

// NewSearcher creates a Searcher over the given store and embedder.
func NewSearcher(s store.RecordStore, e embedder.Provider) *Searcher {
	return &Searcher{store: s, embedder: e}
}

// Search embeds the query and returns the top limit records across the
// given tiers by cosine similarity. Records without embeddings are skipped.
func (s *Searcher) Search(ctx context.Context, query string, tiers []record.Tier, limit int) ([]search.Candidate, error) {
	queryEmbedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	var candidates []search.Candidate
	for _, tier := range tiers {
		records, err := s.store.ListByTier(ctx, tier)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			if len(rec.Embedding) == 0 {
				continue
			}
			candidates = append(candidates, search.Candidate{
				RecordID: rec.ID,
				RawScore: cosineSimilarity(queryEmbedding, rec.Embedding),
			})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].RawScore > candidates[j].RawScore
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	return candidates, nil
}

// cosineSimilarity calculates the cosine similarity between two vectors.
// Returns 0 for mismatched or zero-length vectors.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
