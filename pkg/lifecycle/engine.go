// Package lifecycle implements the tier transition engine and its
// background scheduler.
//
// The transition engine evaluates each topic manifest against a fixed rule
// order (compression T2→T3, archival T3→T4, promotion T4→T3, then the T4
// purge), where the first matching rule consumes the topic's tick. Permanent T0 records are outside the rule set entirely: the tier
// switch below has no TierFoundation case, and any attempt to move a
// permanent record fails with ErrPermanentRecord.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/stratamem/stratamem-go/pkg/recall"
	"github.com/stratamem/stratamem-go/pkg/record"
	"github.com/stratamem/stratamem-go/pkg/store"
	"github.com/stratamem/stratamem-go/pkg/summarize"
	"github.com/stratamem/stratamem-go/pkg/topiclock"
)

// ErrPermanentRecord indicates an attempt to transition a permanent T0
// record. Programmer error; aborts the offending operation only.
var ErrPermanentRecord = errors.New("permanent record cannot be transitioned")

// Action names the rule that fired for a topic in one tick.
type Action string

const (
	ActionNone     Action = "none"
	ActionCompress Action = "compress"
	ActionArchive  Action = "archive"
	ActionPromote  Action = "promote"
	ActionPurge    Action = "purge"
)

// Config contains the transition thresholds. All durations must be
// positive; counts must be non-negative.
type Config struct {
	// CompressionThreshold is the minimum age of a T2 record before its
	// topic is compressed into T3. Default 48h.
	CompressionThreshold time.Duration

	// RetentionAfterCompression is the grace period compressed T2 source
	// records are kept before routine cleanup removes them. Default 7d.
	RetentionAfterCompression time.Duration

	// ArchivalThreshold is the minimum time since a T3 topic's last
	// transition before it is archived. It also sets the recall window
	// consulted by the archival rule. Default 14d.
	ArchivalThreshold time.Duration

	// MaxRecallsBeforeArchival is the most recalls a T3 topic may have in
	// the archival window and still be archived. Default 1.
	MaxRecallsBeforeArchival int

	// PromotionThreshold is the recall count in PromotionWindow that
	// promotes a T4 topic back to T3. Default 3.
	PromotionThreshold int

	// PromotionWindow is the trailing window for promotion counts.
	// Default 7d.
	PromotionWindow time.Duration

	// PromotionCooldown suppresses re-promotion after a promotion.
	// Default 72h.
	PromotionCooldown time.Duration

	// DeletionThreshold is the minimum time since last recall before an
	// archived topic may be purged. Default 90d.
	DeletionThreshold time.Duration

	// DeletionEnabled gates the purge rule. Default false.
	DeletionEnabled bool
}

// DefaultConfig returns the default transition thresholds.
func DefaultConfig() Config {
	return Config{
		CompressionThreshold:      48 * time.Hour,
		RetentionAfterCompression: 7 * 24 * time.Hour,
		ArchivalThreshold:         14 * 24 * time.Hour,
		MaxRecallsBeforeArchival:  1,
		PromotionThreshold:        3,
		PromotionWindow:           7 * 24 * time.Hour,
		PromotionCooldown:         72 * time.Hour,
		DeletionThreshold:         90 * 24 * time.Hour,
		DeletionEnabled:           false,
	}
}

// Engine evaluates transition rules for topics.
//
// The engine performs no work on its own; the Scheduler (or a host calling
// Tick directly) drives it.
type Engine struct {
	store   store.RecordStore
	tracker *recall.Tracker
	adapter *summarize.Adapter
	cfg     Config
	hooks   []TransitionHook
	locks   *topiclock.Keyed
	logger  *log.Logger
	newID   func() int64
	nowFn   func() time.Time
}

// NewEngine creates a transition engine.
//
// locks is shared with the query router so queries and transitions on the
// same topic serialize. newID generates IDs for T3 summary records. logger
// may be nil, in which case a default logger is used.
func NewEngine(s store.RecordStore, tracker *recall.Tracker, adapter *summarize.Adapter, locks *topiclock.Keyed, cfg Config, newID func() int64, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		store:   s,
		tracker: tracker,
		adapter: adapter,
		cfg:     cfg,
		locks:   locks,
		logger:  logger,
		newID:   newID,
		nowFn:   time.Now,
	}
}

// RegisterHook adds a transition hook. Hooks run in registration order;
// any Skip vetoes a move, otherwise any Force executes it even when the
// threshold had not fired.
func (e *Engine) RegisterHook(h TransitionHook) {
	e.hooks = append(e.hooks, h)
}

// SetNow overrides the engine's clock. Intended for tests.
func (e *Engine) SetNow(now func() time.Time) {
	e.nowFn = now
}

// Tick runs one full maintenance pass: every topic manifest is evaluated
// once, then compressed T2 sources past their grace period are cleaned up.
//
// A failure on one topic is logged and does not abort the remaining
// topics. Cancellation is cooperative: the in-flight topic finishes, then
// Tick returns without starting the next one.
func (e *Engine) Tick(ctx context.Context) error {
	manifests, err := e.store.ListManifests(ctx)
	if err != nil {
		return fmt.Errorf("Tick: %w", err)
	}

	for _, m := range manifests {
		if err := ctx.Err(); err != nil {
			return err
		}
		action, err := e.EvaluateTopic(ctx, m)
		if err != nil {
			e.logger.Error("topic transition failed", "topic", m.Topic, "err", err)
			continue
		}
		if action != ActionNone {
			e.logger.Info("topic transitioned", "topic", m.Topic, "action", action)
		}
	}

	cutoff := e.nowFn().Add(-e.cfg.RetentionAfterCompression)
	removed, err := e.store.DeleteCompressedBefore(ctx, cutoff)
	if err != nil {
		e.logger.Error("cleanup of compressed sources failed", "err", err)
	} else if removed > 0 {
		e.logger.Info("cleaned up compressed sources", "removed", removed)
	}

	return nil
}

// Due reports whether any topic could need work, judged only from manifest
// timestamps. Used by the scheduler as a fast pre-check; a registered hook
// disables the shortcut since Force can fire rules below threshold.
func (e *Engine) Due(ctx context.Context) (bool, error) {
	if len(e.hooks) > 0 {
		return true, nil
	}

	manifests, err := e.store.ListManifests(ctx)
	if err != nil {
		return false, err
	}

	now := e.nowFn()
	for _, m := range manifests {
		if m.InCooldown(now) {
			continue
		}
		switch m.CurrentTier {
		case record.TierEpisodic:
			if now.Sub(m.LastTransitionAt) >= e.cfg.CompressionThreshold {
				return true, nil
			}
		case record.TierCompressed:
			// New T2 batches can arrive under a T3 topic, so a T3 topic
			// may owe either compression or archival.
			if now.Sub(m.LastTransitionAt) >= e.cfg.CompressionThreshold {
				return true, nil
			}
		case record.TierArchive:
			if m.RecallCountWindow >= e.cfg.PromotionThreshold {
				return true, nil
			}
			if e.cfg.DeletionEnabled {
				return true, nil
			}
		}
	}
	return false, nil
}

// EvaluateTopic runs the transition rules for one topic. Rules are
// evaluated in fixed order and the first match wins: a topic compressed
// this tick becomes eligible for archival only on a later tick.
func (e *Engine) EvaluateTopic(ctx context.Context, m *record.Manifest) (Action, error) {
	now := e.nowFn()

	// Rule 1: cooldown suppresses all rules for the topic.
	if m.InCooldown(now) {
		return ActionNone, nil
	}

	// Rule 2: compression T2→T3. Applies whatever the topic's current
	// tier, since fresh T2 batches can arrive under a T3 topic.
	did, action, err := e.tryCompress(ctx, m, now)
	if did || err != nil {
		return action, err
	}

	switch m.CurrentTier {
	case record.TierCompressed:
		// Rule 3: archival T3→T4.
		return e.tryArchive(ctx, m, now)
	case record.TierArchive:
		// Rule 4: promotion T4→T3.
		did, action, err := e.tryPromote(ctx, m, now)
		if did || err != nil {
			return action, err
		}
		// Rule 5: deletion (T4 purge).
		return e.tryPurge(ctx, m, now)
	}

	return ActionNone, nil
}

// tryCompress evaluates the compression rule. Reports whether the rule
// matched (consumed the tick), the action taken, and any error.
func (e *Engine) tryCompress(ctx context.Context, m *record.Manifest, now time.Time) (bool, Action, error) {
	e.locks.Lock(m.Topic)
	t2, err := e.store.ListByTopic(ctx, m.Topic, record.TierEpisodic)
	if err != nil {
		e.locks.Unlock(m.Topic)
		return true, ActionNone, err
	}

	var candidates, sources []*record.Record
	for _, rec := range t2 {
		if rec.CompressedAt != nil {
			continue
		}
		candidates = append(candidates, rec)
		if now.Sub(rec.CreatedAt) >= e.cfg.CompressionThreshold {
			sources = append(sources, rec)
		}
	}
	if len(candidates) == 0 {
		e.locks.Unlock(m.Topic)
		return false, ActionNone, nil
	}

	due := len(sources) > 0
	decision := e.decide(candidates, record.TierEpisodic, record.TierCompressed)
	if !e.shouldMove(due, decision) {
		e.locks.Unlock(m.Topic)
		// A vetoed-but-due rule still consumes the topic's tick.
		return due, ActionNone, nil
	}
	if !due && decision == Force {
		// Forced compression takes every uncompressed batch, age aside.
		sources = candidates
	}

	prior := ""
	var priorRec *record.Record
	t3, err := e.store.ListByTopic(ctx, m.Topic, record.TierCompressed)
	if err != nil {
		e.locks.Unlock(m.Topic)
		return true, ActionNone, err
	}
	if len(t3) > 0 {
		priorRec = t3[0]
		prior = priorRec.Content
	}
	// Snapshot taken; release the topic while the summarizer runs.
	e.locks.Unlock(m.Topic)

	content, err := e.adapter.Compress(ctx, m.Topic, sources, prior)
	if err != nil {
		return true, ActionNone, err
	}

	e.locks.Lock(m.Topic)
	defer e.locks.Unlock(m.Topic)

	summaryID := e.newID()
	if priorRec != nil {
		summaryID = priorRec.ID
	}
	if _, err := e.store.MergeIntoTopic(ctx, summaryID, m.Topic, record.TierCompressed, content, nil, now); err != nil {
		return true, ActionNone, err
	}
	for _, rec := range sources {
		if err := e.store.MarkCompressed(ctx, rec.ID, now); err != nil {
			return true, ActionNone, err
		}
	}

	m.CurrentTier = record.TierCompressed
	m.LastTransitionAt = now
	if err := e.store.UpsertManifest(ctx, m); err != nil {
		return true, ActionNone, err
	}

	for _, rec := range sources {
		e.after(rec, record.TierEpisodic, record.TierCompressed)
	}
	return true, ActionCompress, nil
}

// tryArchive evaluates the archival rule for a T3 topic: old enough since
// its last transition and effectively unrecalled in the archival window.
func (e *Engine) tryArchive(ctx context.Context, m *record.Manifest, now time.Time) (Action, error) {
	windowDays := windowDaysFor(e.cfg.ArchivalThreshold)
	count, err := e.tracker.RollingCount(ctx, m.Topic, windowDays)
	if err != nil {
		return ActionNone, err
	}

	due := now.Sub(m.LastTransitionAt) >= e.cfg.ArchivalThreshold && count <= e.cfg.MaxRecallsBeforeArchival
	return e.moveTopic(ctx, m, record.TierCompressed, record.TierArchive, due, now, ActionArchive, func() {})
}

// tryPromote evaluates the promotion rule for a T4 topic.
func (e *Engine) tryPromote(ctx context.Context, m *record.Manifest, now time.Time) (bool, Action, error) {
	windowDays := windowDaysFor(e.cfg.PromotionWindow)
	count, err := e.tracker.RollingCount(ctx, m.Topic, windowDays)
	if err != nil {
		return true, ActionNone, err
	}

	due := count >= e.cfg.PromotionThreshold
	action, err := e.moveTopic(ctx, m, record.TierArchive, record.TierCompressed, due, now, ActionPromote, func() {
		m.CooldownUntil = now.Add(e.cfg.PromotionCooldown)
	})
	return due || action != ActionNone || err != nil, action, err
}

// tryPurge evaluates the deletion rule: disabled by default, and only ever
// applied to T4 topics whose deletion-eligibility window holds zero
// recalls.
func (e *Engine) tryPurge(ctx context.Context, m *record.Manifest, now time.Time) (Action, error) {
	if !e.cfg.DeletionEnabled {
		return ActionNone, nil
	}

	lastRecall := m.LastRecallAt
	if lastRecall.IsZero() {
		lastRecall = m.LastTransitionAt
	}
	if now.Sub(lastRecall) < e.cfg.DeletionThreshold {
		return ActionNone, nil
	}

	windowDays := windowDaysFor(e.cfg.DeletionThreshold)
	count, err := e.tracker.RollingCount(ctx, m.Topic, windowDays)
	if err != nil {
		return ActionNone, err
	}
	if count > 0 {
		return ActionNone, nil
	}

	e.locks.Lock(m.Topic)
	defer e.locks.Unlock(m.Topic)

	records, err := e.store.ListByTopic(ctx, m.Topic, record.TierArchive)
	if err != nil {
		return ActionNone, err
	}

	purged := false
	for _, rec := range records {
		if rec.Permanent {
			return ActionNone, ErrPermanentRecord
		}
		decision := e.decide([]*record.Record{rec}, record.TierArchive, "")
		if decision == Skip {
			continue
		}
		if err := e.store.Delete(ctx, rec.ID); err != nil {
			return ActionNone, err
		}
		e.after(rec, record.TierArchive, "")
		purged = true
	}

	if !purged {
		return ActionNone, nil
	}
	if err := e.store.DeleteManifest(ctx, m.Topic); err != nil {
		return ActionNone, err
	}
	return ActionPurge, nil
}

// moveTopic moves every record of a topic from one tier to another as a
// pure move (no content transformation), gated by the hooks.
func (e *Engine) moveTopic(ctx context.Context, m *record.Manifest, from, to record.Tier, due bool, now time.Time, action Action, onMoved func()) (Action, error) {
	e.locks.Lock(m.Topic)
	defer e.locks.Unlock(m.Topic)

	records, err := e.store.ListByTopic(ctx, m.Topic, from)
	if err != nil {
		return ActionNone, err
	}
	if len(records) == 0 {
		return ActionNone, nil
	}

	decision := e.decide(records, from, to)
	if !e.shouldMove(due, decision) {
		return ActionNone, nil
	}

	for _, rec := range records {
		if rec.Permanent {
			return ActionNone, ErrPermanentRecord
		}
		if err := e.store.MoveTier(ctx, rec.ID, from, to, now); err != nil {
			return ActionNone, err
		}
	}

	m.CurrentTier = to
	m.LastTransitionAt = now
	onMoved()
	if err := e.store.UpsertManifest(ctx, m); err != nil {
		return ActionNone, err
	}

	for _, rec := range records {
		e.after(rec, from, to)
	}
	return action, nil
}

// decide combines the registered hooks' verdicts for a pending move. Skip
// beats Force beats Proceed.
func (e *Engine) decide(records []*record.Record, from, to record.Tier) Decision {
	combined := Proceed
	for _, h := range e.hooks {
		for _, rec := range records {
			switch h.BeforeTransition(rec, from, to) {
			case Skip:
				return Skip
			case Force:
				combined = Force
			}
		}
	}
	return combined
}

// shouldMove applies the hook decision to the threshold check.
func (e *Engine) shouldMove(due bool, d Decision) bool {
	if d == Skip {
		return false
	}
	return due || d == Force
}

func (e *Engine) after(rec *record.Record, from, to record.Tier) {
	for _, h := range e.hooks {
		h.AfterTransition(rec, from, to)
	}
}

// windowDaysFor converts a duration threshold to whole days for rolling
// counts, flooring at one day.
func windowDaysFor(d time.Duration) int {
	days := int(d.Hours() / 24)
	if days < 1 {
		days = 1
	}
	return days
}
