// Package store defines the RecordStore interface that every storage
// backend must satisfy.
//
// A RecordStore persists three things: memory records organized into tiers,
// the append-only recall log, and the per-topic tier manifests consulted by
// the transition engine. Implementations exist for SQLite, PostgreSQL,
// MySQL, and in-process memory.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/stratamem/stratamem-go/pkg/record"
)

// Errors returned by RecordStore implementations.
var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrTierMismatch indicates that MoveTier observed a record whose
	// current tier differs from the expected source tier. This guards
	// against racing transitions; callers re-read and retry.
	ErrTierMismatch = errors.New("tier mismatch")
)

// RecordStore is the storage contract for the engine.
//
// All mutations are atomic with respect to a single record. Concurrent
// calls touching different records must not block each other.
type RecordStore interface {
	// Put inserts a record.
	Put(ctx context.Context, rec *record.Record) error

	// Get retrieves a record by ID. Returns ErrNotFound if absent.
	Get(ctx context.Context, id int64) (*record.Record, error)

	// UpdateContent replaces a record's content and embedding in place.
	// Used by daily batching (appending to the day's T2 record) and by
	// repeated compression of the same T3 topic.
	UpdateContent(ctx context.Context, id int64, content string, embedding []float64) error

	// ListByTier returns all records in the given tier.
	ListByTier(ctx context.Context, tier record.Tier) ([]*record.Record, error)

	// ListByTopic returns all records for a topic in the given tier.
	ListByTopic(ctx context.Context, topic string, tier record.Tier) ([]*record.Record, error)

	// MoveTier atomically moves a record between tiers. It fails with
	// ErrTierMismatch if the record's current tier does not equal from.
	// MoveTier is the only operation permitted to change a record's tier.
	MoveTier(ctx context.Context, id int64, from, to record.Tier, at time.Time) error

	// MergeIntoTopic upserts the single record for (topic, tier),
	// replacing its content if it exists and creating it (with the given
	// ID) otherwise. Idempotent: re-running with the same content is a
	// no-op apart from timestamps. Used by compression to write T3
	// summaries.
	MergeIntoTopic(ctx context.Context, id int64, topic string, tier record.Tier, content string, embedding []float64, at time.Time) (*record.Record, error)

	// MarkCompressed stamps a T2 record as folded into its topic's T3
	// summary, starting the retention grace period.
	MarkCompressed(ctx context.Context, id int64, at time.Time) error

	// Delete removes a record by ID.
	Delete(ctx context.Context, id int64) error

	// DeleteCompressedBefore removes T2 records whose CompressedAt is
	// earlier than cutoff. This is routine cleanup, not the purge path.
	// Returns the number of records removed.
	DeleteCompressedBefore(ctx context.Context, cutoff time.Time) (int, error)

	// AppendRecall appends an event to the recall log.
	AppendRecall(ctx context.Context, ev *record.RecallEvent) error

	// CountRecallsSince counts recall events for a topic at or after
	// since.
	CountRecallsSince(ctx context.Context, topic string, since time.Time) (int, error)

	// RecallsSince returns the recall events for a topic at or after
	// since, oldest first.
	RecallsSince(ctx context.Context, topic string, since time.Time) ([]*record.RecallEvent, error)

	// GetManifest retrieves the manifest for a topic. Returns ErrNotFound
	// if the topic has never been ingested.
	GetManifest(ctx context.Context, topic string) (*record.Manifest, error)

	// UpsertManifest creates or replaces a topic manifest.
	UpsertManifest(ctx context.Context, m *record.Manifest) error

	// ListManifests returns every topic manifest.
	ListManifests(ctx context.Context) ([]*record.Manifest, error)

	// DeleteManifest removes a topic manifest. Used by the purge path
	// once a topic's last archived record has been deleted.
	DeleteManifest(ctx context.Context, topic string) error

	// Close closes the store and releases resources.
	Close() error
}
