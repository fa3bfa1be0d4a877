package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stratamem/stratamem-go/pkg/record"
)

// DefaultBudgetChars is the default character budget for a T3 summary.
const DefaultBudgetChars = 4000

// Adapter is the Compression Adapter: it snapshots a topic's T2 records,
// invokes the external Summarizer with a bounded deadline, and produces the
// merged T3 content.
//
// The adapter itself holds no locks. Callers snapshot T2 content and commit
// the resulting T3 record under the per-topic lock, but the summarizer call
// happens between the two, so a slow LLM never stalls queries on the topic.
type Adapter struct {
	summarizer Summarizer

	// timeout bounds each summarizer call.
	timeout time.Duration

	// budget is the character budget handed to the summarizer.
	budget int
}

// NewAdapter creates a compression adapter around the given summarizer.
// A timeout of 0 defaults to 60s; a budget of 0 defaults to
// DefaultBudgetChars.
func NewAdapter(s Summarizer, timeout time.Duration, budget int) *Adapter {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if budget <= 0 {
		budget = DefaultBudgetChars
	}
	return &Adapter{summarizer: s, timeout: timeout, budget: budget}
}

// Compress collapses the given T2 records into T3 content for the topic,
// folding in priorSummary (the topic's existing T3 content, "" when none).
//
// The merge is summary-of-summary, not concatenation, so repeated
// compressions of the same topic stay within budget. Re-running Compress
// with the same inputs yields content without duplicated facts, which makes
// crash-retry safe.
//
// Returns ErrTimeout (wrapped) when the summarizer misses its deadline.
func (a *Adapter) Compress(ctx context.Context, topic string, t2Records []*record.Record, priorSummary string) (string, error) {
	if len(t2Records) == 0 {
		return priorSummary, nil
	}

	raw := renderEpisodes(t2Records)

	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	summary, err := a.summarizer.Summarize(cctx, topic, raw, priorSummary, a.budget)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return "", err
	}

	return strings.TrimSpace(summary), nil
}

// renderEpisodes lays the T2 batches out chronologically, one dated section
// per record, so the summarizer sees when each episode happened.
func renderEpisodes(records []*record.Record) string {
	var b strings.Builder
	for i, rec := range records {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## %s\n%s", rec.CreatedAt.Format("2006-01-02"), rec.Content)
	}
	return b.String()
}
