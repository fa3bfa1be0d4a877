package embedding_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratamem/stratamem-go/pkg/record"
	"github.com/stratamem/stratamem-go/pkg/search/embedding"
	"github.com/stratamem/stratamem-go/pkg/store/memory"
)

// fakeEmbedder maps known texts to fixed vectors.
type fakeEmbedder struct {
	vectors map[string][]float64
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float64{0, 0, 1}, nil
}

func (f *fakeEmbedder) Dimensions() int { return 3 }
func (f *fakeEmbedder) Close() error    { return nil }

func TestSearcher_RanksByCosineSimilarity(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Put(ctx, &record.Record{
		ID: 1, Tier: record.TierEpisodic, Topic: "deployment",
		Content: "deploy notes", Embedding: []float64{1, 0, 0},
		CreatedAt: now, LastTransitionedAt: now,
	}))
	require.NoError(t, s.Put(ctx, &record.Record{
		ID: 2, Tier: record.TierEpisodic, Topic: "billing",
		Content: "billing notes", Embedding: []float64{0, 1, 0},
		CreatedAt: now, LastTransitionedAt: now,
	}))
	require.NoError(t, s.Put(ctx, &record.Record{
		ID: 3, Tier: record.TierEpisodic, Topic: "mixed",
		Content: "mixed notes", Embedding: []float64{1, 1, 0},
		CreatedAt: now, LastTransitionedAt: now,
	}))

	emb := &fakeEmbedder{vectors: map[string][]float64{"deploy": {1, 0, 0}}}
	searcher := embedding.NewSearcher(s, emb)

	candidates, err := searcher.Search(ctx, "deploy", []record.Tier{record.TierEpisodic}, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 3)

	assert.Equal(t, int64(1), candidates[0].RecordID)
	assert.InDelta(t, 1.0, candidates[0].RawScore, 1e-9)
	assert.Equal(t, int64(3), candidates[1].RecordID)
	assert.Equal(t, int64(2), candidates[2].RecordID)
	assert.InDelta(t, 0.0, candidates[2].RawScore, 1e-9)
}

func TestSearcher_OnlyGivenTiers(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Put(ctx, &record.Record{
		ID: 1, Tier: record.TierEpisodic, Content: "hot",
		Embedding: []float64{1, 0, 0}, CreatedAt: now, LastTransitionedAt: now,
	}))
	require.NoError(t, s.Put(ctx, &record.Record{
		ID: 2, Tier: record.TierArchive, Content: "cold",
		Embedding: []float64{1, 0, 0}, CreatedAt: now, LastTransitionedAt: now,
	}))

	emb := &fakeEmbedder{vectors: map[string][]float64{"q": {1, 0, 0}}}
	searcher := embedding.NewSearcher(s, emb)

	candidates, err := searcher.Search(ctx, "q", []record.Tier{record.TierEpisodic}, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, int64(1), candidates[0].RecordID)
}

func TestSearcher_SkipsUnembeddedAndAppliesLimit(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Put(ctx, &record.Record{
		ID: 1, Tier: record.TierEpisodic, Content: "no embedding",
		CreatedAt: now, LastTransitionedAt: now,
	}))
	for i := int64(2); i <= 5; i++ {
		require.NoError(t, s.Put(ctx, &record.Record{
			ID: i, Tier: record.TierEpisodic, Content: "embedded",
			Embedding: []float64{1, 0, 0}, CreatedAt: now, LastTransitionedAt: now,
		}))
	}

	emb := &fakeEmbedder{vectors: map[string][]float64{"q": {1, 0, 0}}}
	searcher := embedding.NewSearcher(s, emb)

	candidates, err := searcher.Search(ctx, "q", []record.Tier{record.TierEpisodic}, 2)
	require.NoError(t, err)
	assert.Len(t, candidates, 2)
}
