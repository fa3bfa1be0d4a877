// Package summarize provides the Summarizer capability interface and the
// compression adapter that turns verbose T2 episodic content into compact
// T3 topic summaries.
package summarize

import (
	"context"
	"errors"
)

// ErrTimeout indicates the summarizer did not answer within its deadline.
// The affected compression is skipped and retried on a later tick.
var ErrTimeout = errors.New("summarizer timed out")

// Summarizer is the external summarization capability consumed by the
// compression adapter. Implementations typically wrap an LLM.
type Summarizer interface {
	// Summarize collapses rawText for a topic into a summary of at most
	// budget characters. priorSummary is the topic's existing T3 content
	// ("" when none); the result must fold both together without
	// duplicating facts, so retrying a crashed compression is safe.
	//
	// Preservation contract: decisions, dates, proper nouns, and open
	// action items survive verbatim or near-verbatim. Conversational
	// filler may be dropped.
	Summarize(ctx context.Context, topic, rawText, priorSummary string, budget int) (string, error)

	// Close releases provider resources.
	Close() error
}
