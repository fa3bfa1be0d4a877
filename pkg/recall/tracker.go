// Package recall implements the Recall Tracker: an append-only log of
// retrieval events plus rolling per-topic recall statistics.
//
// Every event is persisted to the RecordStore's recall log. On top of the
// log the tracker keeps a small in-memory window of recent event timestamps
// per topic, so rolling counts do not rescan the full log on every
// scheduler tick. The in-memory window is hydrated lazily from the store
// the first time a topic is counted.
package recall

import (
	"context"
	"sync"
	"time"

	"github.com/stratamem/stratamem-go/pkg/record"
	"github.com/stratamem/stratamem-go/pkg/store"
)

// DefaultWindowDays is the trailing window reflected in a manifest's
// RecallCountWindow field.
const DefaultWindowDays = 14

// Tracker records recall events and answers rolling-count queries.
//
// Tracker is safe for concurrent use.
type Tracker struct {
	store store.RecordStore

	// newID generates unique IDs for recall events.
	newID func() int64

	// windowDays is the trailing window used for the manifest's
	// RecallCountWindow field.
	windowDays int

	// maxWindowDays bounds how much history the in-memory window retains.
	// Counts over windows larger than this fall back to the store.
	maxWindowDays int

	nowFn func() time.Time

	mu       sync.Mutex
	recent   map[string][]time.Time
	hydrated map[string]bool
}

// NewTracker creates a Tracker backed by the given store.
//
// newID generates unique event IDs (typically a snowflake node's Generate).
// windowDays controls the manifest's RecallCountWindow; pass 0 for the
// default of 14 days.
func NewTracker(s store.RecordStore, newID func() int64, windowDays int) *Tracker {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	maxWindow := windowDays
	if maxWindow < DefaultWindowDays {
		maxWindow = DefaultWindowDays
	}
	return &Tracker{
		store:         s,
		newID:         newID,
		windowDays:    windowDays,
		maxWindowDays: maxWindow,
		nowFn:         time.Now,
		recent:        make(map[string][]time.Time),
		hydrated:      make(map[string]bool),
	}
}

// SetNow overrides the tracker's clock. Intended for tests.
func (t *Tracker) SetNow(now func() time.Time) {
	t.nowFn = now
}

// RecordRecall appends a RecallEvent for the given record and refreshes the
// topic's manifest statistics (RecallCountWindow, LastRecallAt).
//
// Recalls of topic-less T0 records are logged but carry no manifest to
// update.
func (t *Tracker) RecordRecall(ctx context.Context, rec *record.Record, query string, score float64) error {
	now := t.nowFn()
	ev := &record.RecallEvent{
		ID:             t.newID(),
		RecordID:       rec.ID,
		Topic:          rec.Topic,
		Query:          query,
		RelevanceScore: score,
		TierAtRecall:   rec.Tier,
		Timestamp:      now,
	}

	if err := t.store.AppendRecall(ctx, ev); err != nil {
		return err
	}

	if rec.Topic == "" {
		return nil
	}

	t.mu.Lock()
	if t.hydrated[rec.Topic] {
		t.recent[rec.Topic] = append(t.recent[rec.Topic], now)
	}
	t.mu.Unlock()

	count, err := t.RollingCount(ctx, rec.Topic, t.windowDays)
	if err != nil {
		return err
	}

	manifest, err := t.store.GetManifest(ctx, rec.Topic)
	if err == store.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}

	manifest.RecallCountWindow = count
	manifest.LastRecallAt = now
	return t.store.UpsertManifest(ctx, manifest)
}

// RollingCount returns the number of recalls for topic in the trailing
// windowDays days.
func (t *Tracker) RollingCount(ctx context.Context, topic string, windowDays int) (int, error) {
	now := t.nowFn()
	since := now.Add(-time.Duration(windowDays) * 24 * time.Hour)

	// Windows wider than the retained history go straight to the store.
	if windowDays > t.maxWindowDays {
		return t.store.CountRecallsSince(ctx, topic, since)
	}

	t.mu.Lock()
	hydrated := t.hydrated[topic]
	t.mu.Unlock()

	if !hydrated {
		horizon := now.Add(-time.Duration(t.maxWindowDays) * 24 * time.Hour)
		events, err := t.store.RecallsSince(ctx, topic, horizon)
		if err != nil {
			return 0, err
		}
		timestamps := make([]time.Time, 0, len(events))
		for _, ev := range events {
			timestamps = append(timestamps, ev.Timestamp)
		}
		t.mu.Lock()
		// A concurrent RecordRecall may have appended while we hydrated;
		// only adopt the store snapshot if the topic is still cold.
		if !t.hydrated[topic] {
			t.recent[topic] = timestamps
			t.hydrated[topic] = true
		}
		t.mu.Unlock()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.prune(topic, now)
	count := 0
	for _, ts := range t.recent[topic] {
		if !ts.Before(since) {
			count++
		}
	}
	return count, nil
}

// LastRecallAt returns the timestamp of the topic's most recent recall and
// false if the topic has never been recalled.
func (t *Tracker) LastRecallAt(ctx context.Context, topic string) (time.Time, bool, error) {
	manifest, err := t.store.GetManifest(ctx, topic)
	if err == store.ErrNotFound {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	if manifest.LastRecallAt.IsZero() {
		return time.Time{}, false, nil
	}
	return manifest.LastRecallAt, true, nil
}

// prune drops retained timestamps older than the maximum window. Caller
// holds t.mu.
func (t *Tracker) prune(topic string, now time.Time) {
	horizon := now.Add(-time.Duration(t.maxWindowDays) * 24 * time.Hour)
	kept := t.recent[topic][:0]
	for _, ts := range t.recent[topic] {
		if !ts.Before(horizon) {
			kept = append(kept, ts)
		}
	}
	t.recent[topic] = kept
}
