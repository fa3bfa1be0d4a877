// Package record defines the domain types shared by every StrataMem
// component: memory records, tiers, recall events, and tier manifests.
//
// It is a leaf package with no dependencies on the rest of the engine, so
// storage backends, the transition engine, and the query router can all
// share one set of types without import cycles.
package record

import (
	"strings"
	"time"
)

// Tier identifies a memory storage tier.
//
// The engine persists four tiers:
//   - TierFoundation (T0): permanent, curated context. Never transitioned.
//   - TierEpisodic (T2): raw daily capture, one record batch per topic per day.
//   - TierCompressed (T3): LLM-compressed topic summaries.
//   - TierArchive (T4): cold storage, reachable only via deep search.
//
// T1 (working/context memory) is owned by the calling agent runtime and is
// intentionally absent from this enum.
type Tier string

const (
	// TierFoundation is T0: permanent foundational context.
	TierFoundation Tier = "T0"

	// TierEpisodic is T2: raw episodic capture, grouped by topic and day.
	TierEpisodic Tier = "T2"

	// TierCompressed is T3: compact topic summaries produced by compression.
	TierCompressed Tier = "T3"

	// TierArchive is T4: long-term archive, excluded from normal queries.
	TierArchive Tier = "T4"
)

// Valid reports whether t is one of the four persisted tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierFoundation, TierEpisodic, TierCompressed, TierArchive:
		return true
	}
	return false
}

// Transitionable reports whether records in this tier may ever be moved by
// the transition engine. TierFoundation has no transition behavior at all.
func (t Tier) Transitionable() bool {
	return t.Valid() && t != TierFoundation
}

// Record is a single memory record stored in one tier.
type Record struct {
	// ID is the unique identifier of the record. Immutable.
	ID int64 `json:"id"`

	// Tier is the tier the record currently lives in.
	Tier Tier `json:"tier"`

	// Topic is the grouping key for merge and lifecycle decisions.
	// Required for T2/T3/T4 records; empty for T0.
	Topic string `json:"topic,omitempty"`

	// Content is the text payload.
	Content string `json:"content"`

	// Embedding is the optional vector embedding used by the reference
	// searcher. Omitted from JSON to keep payloads small.
	Embedding []float64 `json:"-"`

	// Permanent is true only for T0 records. Permanent records are exempt
	// from every transition rule.
	Permanent bool `json:"permanent"`

	// CreatedAt is when the record was created.
	CreatedAt time.Time `json:"created_at"`

	// LastTransitionedAt is when the record last changed tier (creation
	// counts as the first transition).
	LastTransitionedAt time.Time `json:"last_transitioned_at"`

	// CompressedAt is set on a T2 record once its content has been folded
	// into the topic's T3 summary. The record is kept for a grace period
	// after compression, then removed by routine cleanup.
	CompressedAt *time.Time `json:"compressed_at,omitempty"`

	// Score is the weighted relevance score from query operations. Only
	// populated on query results.
	Score float64 `json:"score,omitempty"`
}

// RecallEvent is one entry in the append-only recall log. A recall is the
// signal that a record was returned to a query; promotion and archival
// decisions are driven by counts of these events.
type RecallEvent struct {
	// ID is the unique identifier of the event.
	ID int64 `json:"id"`

	// RecordID references the recalled record. This is a weak reference:
	// events outlive the records they point at.
	RecordID int64 `json:"record_id"`

	// Topic is the topic of the recalled record at recall time.
	Topic string `json:"topic"`

	// Query is the query text that surfaced the record.
	Query string `json:"query"`

	// RelevanceScore is the weighted score the record was returned with.
	RelevanceScore float64 `json:"relevance_score"`

	// TierAtRecall is the tier the record was in when recalled.
	TierAtRecall Tier `json:"tier_at_recall"`

	// Timestamp is when the recall happened.
	Timestamp time.Time `json:"timestamp"`
}

// Manifest is the per-topic lifecycle row consulted by the transition
// engine. One manifest exists per topic.
type Manifest struct {
	// Topic is the normalized topic key.
	Topic string `json:"topic"`

	// CurrentTier is the highest-value tier the topic currently occupies.
	CurrentTier Tier `json:"current_tier"`

	// RecallCountWindow is the number of recalls in the trailing window.
	// Recomputed lazily from the recall log; never edited by hand.
	RecallCountWindow int `json:"recall_count_window"`

	// LastRecallAt is when the topic was last recalled (zero if never).
	LastRecallAt time.Time `json:"last_recall_at"`

	// LastTransitionAt is when the topic last changed tier.
	LastTransitionAt time.Time `json:"last_transition_at"`

	// CooldownUntil suppresses further promotion until it has elapsed,
	// preventing promote/demote thrash. Zero when no cooldown is active.
	CooldownUntil time.Time `json:"cooldown_until"`
}

// InCooldown reports whether the topic's promotion cooldown is active at t.
func (m *Manifest) InCooldown(t time.Time) bool {
	return !m.CooldownUntil.IsZero() && t.Before(m.CooldownUntil)
}

// NormalizeTopic canonicalizes a topic key: lowercased, trimmed, with inner
// whitespace runs collapsed to single hyphens. Near-duplicate headings like
// "Deployment  Setup" and "deployment-setup" map to the same key.
func NormalizeTopic(topic string) string {
	topic = strings.ToLower(strings.TrimSpace(topic))
	fields := strings.FieldsFunc(topic, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n'
	})
	return strings.Join(fields, "-")
}
