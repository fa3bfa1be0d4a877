package core_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratamem/stratamem-go/pkg/core"
	"github.com/stratamem/stratamem-go/pkg/record"
	"github.com/stratamem/stratamem-go/pkg/search"
	"github.com/stratamem/stratamem-go/pkg/store/memory"
)

type fakeSummarizer struct{}

func (f *fakeSummarizer) Summarize(ctx context.Context, topic, rawText, priorSummary string, budget int) (string, error) {
	if priorSummary == "" {
		return fmt.Sprintf("summary(%s)", topic), nil
	}
	return fmt.Sprintf("merged(%s)", topic), nil
}

func (f *fakeSummarizer) Close() error { return nil }

// listSearcher ranks every record in the requested tiers equally.
type listSearcher struct {
	store *memory.Store
}

func (l *listSearcher) Search(ctx context.Context, q string, tiers []record.Tier, limit int) ([]search.Candidate, error) {
	var out []search.Candidate
	for _, tier := range tiers {
		recs, err := l.store.ListByTier(ctx, tier)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			out = append(out, search.Candidate{RecordID: rec.ID, RawScore: 0.5})
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func newTestEngine(t *testing.T) (*core.Engine, *memory.Store, *time.Time) {
	t.Helper()

	s := memory.NewStore()
	engine, err := core.NewEngine(core.DefaultConfig(),
		core.WithStore(s),
		core.WithSummarizer(&fakeSummarizer{}),
		core.WithSearcher(&listSearcher{store: s}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	engine.SetNow(func() time.Time { return now })
	return engine, s, &now
}

func TestNewEngine_RequiresSummarizer(t *testing.T) {
	_, err := core.NewEngine(core.DefaultConfig(), core.WithStore(memory.NewStore()))
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestNewEngine_RequiresRetrievalPath(t *testing.T) {
	_, err := core.NewEngine(core.DefaultConfig(),
		core.WithStore(memory.NewStore()),
		core.WithSummarizer(&fakeSummarizer{}),
	)
	assert.ErrorIs(t, err, core.ErrInvalidConfig, "no embedder and no searcher")
}

func TestNewEngine_RejectsInvalidConfig(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.ArchivalThresholdDays = 0
	_, err := core.NewEngine(cfg,
		core.WithStore(memory.NewStore()),
		core.WithSummarizer(&fakeSummarizer{}),
	)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestEngine_IngestCreatesRecordAndManifest(t *testing.T) {
	engine, s, now := newTestEngine(t)
	ctx := context.Background()

	rec, err := engine.Ingest(ctx, "deployment", "Decided to move to blue-green deploys.")
	require.NoError(t, err)
	assert.Equal(t, record.TierEpisodic, rec.Tier)
	assert.Equal(t, "deployment", rec.Topic)
	assert.True(t, rec.CreatedAt.Equal(*now))

	m, err := s.GetManifest(ctx, "deployment")
	require.NoError(t, err)
	assert.Equal(t, record.TierEpisodic, m.CurrentTier)
	assert.True(t, m.LastTransitionAt.Equal(*now))
}

func TestEngine_IngestBatchesSameDay(t *testing.T) {
	engine, s, now := newTestEngine(t)
	ctx := context.Background()

	first, err := engine.Ingest(ctx, "deployment", "morning entry")
	require.NoError(t, err)

	*now = now.Add(6 * time.Hour)
	second, err := engine.Ingest(ctx, "deployment", "afternoon entry")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "same-day content lands in one batch")
	assert.Equal(t, "morning entry\n\nafternoon entry", second.Content)

	t2, err := s.ListByTopic(ctx, "deployment", record.TierEpisodic)
	require.NoError(t, err)
	assert.Len(t, t2, 1)
}

func TestEngine_IngestNewBatchNextDay(t *testing.T) {
	engine, s, now := newTestEngine(t)
	ctx := context.Background()

	first, err := engine.Ingest(ctx, "deployment", "day one")
	require.NoError(t, err)

	*now = now.Add(24 * time.Hour)
	second, err := engine.Ingest(ctx, "deployment", "day two")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)

	t2, err := s.ListByTopic(ctx, "deployment", record.TierEpisodic)
	require.NoError(t, err)
	assert.Len(t, t2, 2)
}

func TestEngine_IngestNormalizesTopics(t *testing.T) {
	engine, s, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Ingest(ctx, "Deployment  Setup", "entry one")
	require.NoError(t, err)
	_, err = engine.Ingest(ctx, "deployment setup", "entry two")
	require.NoError(t, err)

	t2, err := s.ListByTopic(ctx, "deployment-setup", record.TierEpisodic)
	require.NoError(t, err)
	require.Len(t, t2, 1, "near-duplicate headings collapse to one topic")
	assert.Contains(t, t2[0].Content, "entry one")
	assert.Contains(t, t2[0].Content, "entry two")
}

func TestEngine_IngestValidation(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Ingest(ctx, "deployment", "   ")
	assert.Error(t, err)

	_, err = engine.Ingest(ctx, "   ", "content")
	assert.Error(t, err)
}

func TestEngine_IngestFoundation(t *testing.T) {
	engine, s, _ := newTestEngine(t)
	ctx := context.Background()

	rec, err := engine.IngestFoundation(ctx, "I am a coding assistant for the payments team.")
	require.NoError(t, err)
	assert.Equal(t, record.TierFoundation, rec.Tier)
	assert.True(t, rec.Permanent)
	assert.Empty(t, rec.Topic)

	manifests, err := s.ListManifests(ctx)
	require.NoError(t, err)
	assert.Empty(t, manifests, "foundation records have no lifecycle manifest")
}

func TestEngine_QueryReturnsWeightedResults(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.IngestFoundation(ctx, "foundation context")
	require.NoError(t, err)
	_, err = engine.Ingest(ctx, "deployment", "episode")
	require.NoError(t, err)

	result, err := engine.Query(ctx, "deploy")
	require.NoError(t, err)
	require.Len(t, result.Records, 2)
	assert.False(t, result.Partial)

	// T2 at 0.5*1.5 outranks T0 at 0.5*1.2.
	assert.Equal(t, record.TierEpisodic, result.Records[0].Tier)
	assert.Equal(t, record.TierFoundation, result.Records[1].Tier)
}

func TestEngine_QueryOptions(t *testing.T) {
	engine, s, now := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, &record.Record{
		ID: 1, Tier: record.TierArchive, Topic: "old-topic", Content: "archived",
		CreatedAt: *now, LastTransitionedAt: *now,
	}))

	result, err := engine.Query(ctx, "old")
	require.NoError(t, err)
	assert.Empty(t, result.Records)

	result, err = engine.Query(ctx, "old", core.WithDeepSearch())
	require.NoError(t, err)
	assert.Len(t, result.Records, 1)

	for i := int64(2); i <= 6; i++ {
		require.NoError(t, s.Put(ctx, &record.Record{
			ID: i, Tier: record.TierEpisodic, Topic: "t", Content: "e",
			CreatedAt: *now, LastTransitionedAt: *now,
		}))
	}
	result, err = engine.Query(ctx, "e", core.WithLimit(3))
	require.NoError(t, err)
	assert.Len(t, result.Records, 3)
}

func TestEngine_RunMaintenanceCompresses(t *testing.T) {
	engine, s, now := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Ingest(ctx, "deployment", "Decided to migrate to Postgres.")
	require.NoError(t, err)

	*now = now.Add(49 * time.Hour)
	require.NoError(t, engine.RunMaintenance(ctx))

	m, err := s.GetManifest(ctx, "deployment")
	require.NoError(t, err)
	assert.Equal(t, record.TierCompressed, m.CurrentTier)

	t3, err := s.ListByTopic(ctx, "deployment", record.TierCompressed)
	require.NoError(t, err)
	require.Len(t, t3, 1)
	assert.Equal(t, "summary(deployment)", t3[0].Content)
}

func TestEngine_ConcurrentIngestAndQuery(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.IngestFoundation(ctx, "foundation")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := engine.Ingest(ctx, fmt.Sprintf("topic-%d", i%4), fmt.Sprintf("entry %d", i))
			assert.NoError(t, err)
		}(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := engine.Query(ctx, "entry")
			if assert.NoError(t, err) {
				// Foundation context is never lost, whatever is in flight.
				found := false
				for _, rec := range result.Records {
					if rec.Tier == record.TierFoundation {
						found = true
					}
				}
				assert.True(t, found)
			}
		}()
	}
	wg.Wait()
}

func TestEngine_QueryNeverLosesRecordDuringTransition(t *testing.T) {
	engine, s, now := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Ingest(ctx, "deployment", "the one important fact")
	require.NoError(t, err)
	*now = now.Add(49 * time.Hour)

	// Queries race a maintenance pass that compresses the topic. Every
	// query must see the fact, from either the batch or the summary.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, engine.RunMaintenance(ctx))
	}()
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := engine.Query(ctx, "fact")
			if assert.NoError(t, err) {
				assert.NotEmpty(t, result.Records)
			}
		}()
	}
	wg.Wait()

	t3, err := s.ListByTopic(ctx, "deployment", record.TierCompressed)
	require.NoError(t, err)
	assert.Len(t, t3, 1)
}

func TestEngine_StartStop(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	require.NoError(t, engine.Start(context.Background()))
	engine.Stop()
}
