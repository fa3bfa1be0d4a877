// Package memory provides an in-process RecordStore implementation.
//
// It is mutex-guarded and keeps everything in maps, which makes it suitable
// for tests and for hosts that embed the engine without a database. All
// returned records are copies, so a caller can never observe a record
// mid-mutation.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stratamem/stratamem-go/pkg/record"
	"github.com/stratamem/stratamem-go/pkg/store"
)

// Store implements store.RecordStore in process memory.
type Store struct {
	mu        sync.RWMutex
	records   map[int64]*record.Record
	recalls   []*record.RecallEvent
	manifests map[string]*record.Manifest
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		records:   make(map[int64]*record.Record),
		manifests: make(map[string]*record.Manifest),
	}
}

// Put inserts a record.
func (s *Store) Put(ctx context.Context, rec *record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records[rec.ID] = &cp
	return nil
}

// Get retrieves a record by ID.
func (s *Store) Get(ctx context.Context, id int64) (*record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// UpdateContent replaces a record's content and embedding in place.
func (s *Store) UpdateContent(ctx context.Context, id int64, content string, embedding []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return store.ErrNotFound
	}
	rec.Content = content
	rec.Embedding = embedding
	return nil
}

// ListByTier returns all records in the given tier, oldest first.
func (s *Store) ListByTier(ctx context.Context, tier record.Tier) ([]*record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*record.Record
	for _, rec := range s.records {
		if rec.Tier == tier {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sortByCreatedAt(out)
	return out, nil
}

// ListByTopic returns all records for a topic in the given tier, oldest first.
func (s *Store) ListByTopic(ctx context.Context, topic string, tier record.Tier) ([]*record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*record.Record
	for _, rec := range s.records {
		if rec.Topic == topic && rec.Tier == tier {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sortByCreatedAt(out)
	return out, nil
}

// MoveTier atomically moves a record between tiers.
func (s *Store) MoveTier(ctx context.Context, id int64, from, to record.Tier, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return store.ErrNotFound
	}
	if rec.Tier != from {
		return store.ErrTierMismatch
	}
	rec.Tier = to
	rec.LastTransitionedAt = at
	return nil
}

// MergeIntoTopic upserts the single record for (topic, tier).
func (s *Store) MergeIntoTopic(ctx context.Context, id int64, topic string, tier record.Tier, content string, embedding []float64, at time.Time) (*record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.Topic == topic && rec.Tier == tier {
			rec.Content = content
			rec.Embedding = embedding
			rec.LastTransitionedAt = at
			cp := *rec
			return &cp, nil
		}
	}
	rec := &record.Record{
		ID:                 id,
		Tier:               tier,
		Topic:              topic,
		Content:            content,
		Embedding:          embedding,
		CreatedAt:          at,
		LastTransitionedAt: at,
	}
	s.records[id] = rec
	cp := *rec
	return &cp, nil
}

// MarkCompressed stamps a record as folded into its topic summary.
func (s *Store) MarkCompressed(ctx context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return store.ErrNotFound
	}
	t := at
	rec.CompressedAt = &t
	return nil
}

// Delete removes a record by ID.
func (s *Store) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.records, id)
	return nil
}

// DeleteCompressedBefore removes T2 records compressed before cutoff.
func (s *Store) DeleteCompressedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, rec := range s.records {
		if rec.Tier == record.TierEpisodic && rec.CompressedAt != nil && rec.CompressedAt.Before(cutoff) {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}

// AppendRecall appends an event to the recall log.
func (s *Store) AppendRecall(ctx context.Context, ev *record.RecallEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ev
	s.recalls = append(s.recalls, &cp)
	return nil
}

// CountRecallsSince counts recall events for a topic at or after since.
func (s *Store) CountRecallsSince(ctx context.Context, topic string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, ev := range s.recalls {
		if ev.Topic == topic && !ev.Timestamp.Before(since) {
			count++
		}
	}
	return count, nil
}

// RecallsSince returns recall events for a topic at or after since.
func (s *Store) RecallsSince(ctx context.Context, topic string, since time.Time) ([]*record.RecallEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*record.RecallEvent
	for _, ev := range s.recalls {
		if ev.Topic == topic && !ev.Timestamp.Before(since) {
			cp := *ev
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// GetManifest retrieves the manifest for a topic.
func (s *Store) GetManifest(ctx context.Context, topic string) (*record.Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.manifests[topic]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

// UpsertManifest creates or replaces a topic manifest.
func (s *Store) UpsertManifest(ctx context.Context, m *record.Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.manifests[m.Topic] = &cp
	return nil
}

// ListManifests returns every topic manifest, sorted by topic for
// deterministic iteration order.
func (s *Store) ListManifests(ctx context.Context) ([]*record.Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*record.Manifest, 0, len(s.manifests))
	for _, m := range s.manifests {
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out, nil
}

// DeleteManifest removes a topic manifest.
func (s *Store) DeleteManifest(ctx context.Context, topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.manifests, topic)
	return nil
}

// Close releases resources. No-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

func sortByCreatedAt(recs []*record.Record) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
}
