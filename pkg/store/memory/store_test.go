package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratamem/stratamem-go/pkg/record"
	"github.com/stratamem/stratamem-go/pkg/store"
	"github.com/stratamem/stratamem-go/pkg/store/memory"
)

func TestStore_PutGet(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()

	rec := &record.Record{
		ID:        1,
		Tier:      record.TierEpisodic,
		Topic:     "deployment",
		Content:   "Moved to blue-green deploys",
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.Put(ctx, rec))

	got, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "deployment", got.Topic)
	assert.Equal(t, record.TierEpisodic, got.Tier)
}

func TestStore_GetNotFound(t *testing.T) {
	s := memory.NewStore()

	_, err := s.Get(context.Background(), 42)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, &record.Record{ID: 1, Tier: record.TierEpisodic, Content: "original"}))

	got, err := s.Get(ctx, 1)
	require.NoError(t, err)
	got.Content = "mutated by caller"

	again, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "original", again.Content)
}

func TestStore_MoveTier(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Put(ctx, &record.Record{ID: 1, Tier: record.TierCompressed, Topic: "deployment"}))

	at := now.Add(time.Hour)
	require.NoError(t, s.MoveTier(ctx, 1, record.TierCompressed, record.TierArchive, at))

	got, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, record.TierArchive, got.Tier)
	assert.True(t, got.LastTransitionedAt.Equal(at))
}

func TestStore_MoveTierMismatch(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, &record.Record{ID: 1, Tier: record.TierArchive}))

	err := s.MoveTier(ctx, 1, record.TierCompressed, record.TierArchive, time.Now())
	assert.ErrorIs(t, err, store.ErrTierMismatch)

	err = s.MoveTier(ctx, 99, record.TierCompressed, record.TierArchive, time.Now())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_MergeIntoTopic(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	now := time.Now()

	// First merge creates the record with the given ID.
	rec, err := s.MergeIntoTopic(ctx, 10, "deployment", record.TierCompressed, "summary v1", nil, now)
	require.NoError(t, err)
	assert.Equal(t, int64(10), rec.ID)
	assert.Equal(t, "summary v1", rec.Content)

	// Second merge replaces content on the same record, ignoring the new ID.
	rec2, err := s.MergeIntoTopic(ctx, 11, "deployment", record.TierCompressed, "summary v2", nil, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(10), rec2.ID)
	assert.Equal(t, "summary v2", rec2.Content)

	all, err := s.ListByTopic(ctx, "deployment", record.TierCompressed)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStore_MarkCompressedAndCleanup(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Put(ctx, &record.Record{ID: 1, Tier: record.TierEpisodic, Topic: "deployment", CreatedAt: now}))
	require.NoError(t, s.Put(ctx, &record.Record{ID: 2, Tier: record.TierEpisodic, Topic: "deployment", CreatedAt: now}))

	require.NoError(t, s.MarkCompressed(ctx, 1, now))

	// Record 1 was compressed before the cutoff, record 2 never was.
	removed, err := s.DeleteCompressedBefore(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = s.Get(ctx, 1)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.Get(ctx, 2)
	assert.NoError(t, err)
}

func TestStore_ListByTopicSortedOldestFirst(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Put(ctx, &record.Record{ID: 2, Tier: record.TierEpisodic, Topic: "deployment", CreatedAt: base.Add(time.Hour)}))
	require.NoError(t, s.Put(ctx, &record.Record{ID: 1, Tier: record.TierEpisodic, Topic: "deployment", CreatedAt: base}))
	require.NoError(t, s.Put(ctx, &record.Record{ID: 3, Tier: record.TierCompressed, Topic: "deployment", CreatedAt: base}))

	got, err := s.ListByTopic(ctx, "deployment", record.TierEpisodic)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].ID)
	assert.Equal(t, int64(2), got[1].ID)
}

func TestStore_RecallLog(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendRecall(ctx, &record.RecallEvent{
			ID:        int64(i + 1),
			RecordID:  1,
			Topic:     "deployment",
			Timestamp: base.Add(time.Duration(i) * 24 * time.Hour),
		}))
	}
	require.NoError(t, s.AppendRecall(ctx, &record.RecallEvent{
		ID: 4, RecordID: 2, Topic: "billing", Timestamp: base,
	}))

	count, err := s.CountRecallsSince(ctx, "deployment", base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	events, err := s.RecallsSince(ctx, "deployment", base)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.True(t, events[0].Timestamp.Before(events[1].Timestamp))
}

func TestStore_Manifests(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()

	_, err := s.GetManifest(ctx, "deployment")
	assert.ErrorIs(t, err, store.ErrNotFound)

	m := &record.Manifest{Topic: "deployment", CurrentTier: record.TierEpisodic}
	require.NoError(t, s.UpsertManifest(ctx, m))

	got, err := s.GetManifest(ctx, "deployment")
	require.NoError(t, err)
	assert.Equal(t, record.TierEpisodic, got.CurrentTier)

	got.CurrentTier = record.TierCompressed
	require.NoError(t, s.UpsertManifest(ctx, got))

	require.NoError(t, s.UpsertManifest(ctx, &record.Manifest{Topic: "billing", CurrentTier: record.TierEpisodic}))

	all, err := s.ListManifests(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "billing", all[0].Topic)
	assert.Equal(t, "deployment", all[1].Topic)

	require.NoError(t, s.DeleteManifest(ctx, "billing"))
	all, err = s.ListManifests(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
