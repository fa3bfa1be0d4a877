// Package query implements the query router: candidate generation through
// an external Searcher, tier-weighted re-ranking, and synchronous recall
// recording.
package query

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/charmbracelet/log"

	"github.com/stratamem/stratamem-go/pkg/recall"
	"github.com/stratamem/stratamem-go/pkg/record"
	"github.com/stratamem/stratamem-go/pkg/search"
	"github.com/stratamem/stratamem-go/pkg/store"
	"github.com/stratamem/stratamem-go/pkg/topiclock"
)

// DefaultLimit is the default maximum number of results per query.
const DefaultLimit = 10

// DefaultWeights returns the default tier weighting multipliers. Episodic
// content is boosted, archive content is discounted.
func DefaultWeights() map[record.Tier]float64 {
	return map[record.Tier]float64{
		record.TierFoundation: 1.2,
		record.TierEpisodic:   1.5,
		record.TierCompressed: 1.0,
		record.TierArchive:    0.5,
	}
}

// Options controls a single query.
type Options struct {
	// Limit is the maximum number of results (default DefaultLimit).
	Limit int

	// DeepSearch includes the T4 archive tier, which is excluded from
	// normal queries.
	DeepSearch bool
}

// Result is a tier-weighted query result.
type Result struct {
	// Records are the matching records, weighted score descending. Each
	// record's Score field holds its weighted score.
	Records []*record.Record

	// Partial is true when the searcher or recall tracking degraded and
	// the result may be incomplete. A stale-but-present answer beats no
	// answer for a memory system, so failures degrade instead of raising.
	Partial bool
}

// Router serves retrieval queries.
type Router struct {
	store    store.RecordStore
	tracker  *recall.Tracker
	searcher search.Searcher
	weights  map[record.Tier]float64
	timeout  time.Duration
	locks    *topiclock.Keyed
	logger   *log.Logger
}

// NewRouter creates a query router.
//
// weights may be nil for the defaults. timeout bounds the searcher call
// (0 defaults to 10s). locks is the per-topic lock set shared with the
// transition engine; recall recording serializes through it so query-side
// manifest updates never interleave with a transition on the same topic.
func NewRouter(s store.RecordStore, tracker *recall.Tracker, searcher search.Searcher, weights map[record.Tier]float64, timeout time.Duration, locks *topiclock.Keyed, logger *log.Logger) *Router {
	if weights == nil {
		weights = DefaultWeights()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Router{
		store:    s,
		tracker:  tracker,
		searcher: searcher,
		weights:  weights,
		timeout:  timeout,
		locks:    locks,
		logger:   logger,
	}
}

// Query runs a retrieval query: searcher candidates across the queryable
// tiers, tier-weighted re-ranking, truncation to the limit, and a
// synchronous recall record for every returned candidate.
func (r *Router) Query(ctx context.Context, text string, opts Options) (*Result, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	tiers := []record.Tier{record.TierFoundation, record.TierEpisodic, record.TierCompressed}
	if opts.DeepSearch {
		tiers = append(tiers, record.TierArchive)
	}

	result := &Result{}

	sctx, cancel := context.WithTimeout(ctx, r.timeout)
	candidates, err := r.searcher.Search(sctx, text, tiers, limit)
	cancel()
	if err != nil {
		// Degrade rather than fail: fall back to foundational context.
		if errors.Is(err, context.DeadlineExceeded) {
			err = search.ErrTimeout
		}
		r.logger.Warn("searcher degraded, serving foundational context only", "err", err)
		result.Partial = true
		candidates = nil
	}

	scored := make([]*record.Record, 0, len(candidates))
	seen := make(map[int64]bool, len(candidates))
	for _, c := range candidates {
		rec, err := r.store.Get(ctx, c.RecordID)
		if err != nil {
			// Candidate purged between search and fetch; skip it.
			continue
		}
		if rec.Tier == record.TierArchive && !opts.DeepSearch {
			continue
		}
		rec.Score = c.RawScore * r.weights[rec.Tier]
		scored = append(scored, rec)
		seen[rec.ID] = true
	}

	// T0 is foundational context: always part of the candidate pool,
	// independent of the searcher's ranking. Unranked T0 records join
	// with a zero raw score so they never displace a scored match.
	foundation, err := r.store.ListByTier(ctx, record.TierFoundation)
	if err != nil {
		r.logger.Warn("foundation tier unavailable", "err", err)
		result.Partial = true
	}
	for _, rec := range foundation {
		if !seen[rec.ID] {
			rec.Score = 0
			scored = append(scored, rec)
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	result.Records = scored

	// Recall tracking is synchronous with the read: promotion thresholds
	// depend on exact counts, so a returned-but-unlogged recall is worse
	// than a slower query.
	for _, rec := range result.Records {
		if err := r.recordRecall(ctx, rec, text); err != nil {
			r.logger.Error("recall recording failed", "record", rec.ID, "err", err)
			result.Partial = true
		}
	}

	return result, nil
}

// recordRecall logs one recall under the record's topic lock so the
// manifest update never interleaves with a transition on the same topic.
func (r *Router) recordRecall(ctx context.Context, rec *record.Record, text string) error {
	if rec.Topic != "" {
		r.locks.Lock(rec.Topic)
		defer r.locks.Unlock(rec.Topic)
	}
	return r.tracker.RecordRecall(ctx, rec, text, rec.Score)
}
