// Package search defines the Searcher capability consumed by the query
// router, along with the candidate type it returns.
//
// A Searcher produces raw, unweighted candidates; tier weighting and
// truncation happen afterwards in the query router.
package search

import (
	"context"
	"errors"

	"github.com/stratamem/stratamem-go/pkg/record"
)

// ErrTimeout indicates the searcher did not answer within its deadline.
// Queries degrade to partial results instead of failing.
var ErrTimeout = errors.New("searcher timed out")

// Candidate is one unweighted search hit.
type Candidate struct {
	// RecordID references the matching record.
	RecordID int64

	// RawScore is the searcher's similarity/lexical score before tier
	// weighting.
	RawScore float64
}

// Searcher is the external candidate-generation capability.
type Searcher interface {
	// Search returns ranked candidates for the query across the given
	// tiers, at most limit of them, highest raw score first.
	Search(ctx context.Context, query string, tiers []record.Tier, limit int) ([]Candidate, error)
}
