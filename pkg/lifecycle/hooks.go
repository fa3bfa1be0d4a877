package lifecycle

import "github.com/stratamem/stratamem-go/pkg/record"

// Decision is a before-transition hook's verdict on a pending move.
type Decision int

const (
	// Proceed lets the move execute if its threshold check fired.
	Proceed Decision = iota

	// Skip vetoes the move even though its threshold check fired.
	Skip

	// Force executes the move even if its threshold check had not yet
	// fired. Used for manual override scenarios.
	Force
)

// String returns the decision name.
func (d Decision) String() string {
	switch d {
	case Skip:
		return "skip"
	case Force:
		return "force"
	default:
		return "proceed"
	}
}

// TransitionHook observes and gates tier transitions.
//
// BeforeTransition is called for every move the engine considers; its
// Decision gates whether the move executes. AfterTransition is called once
// the move has committed. For the purge rule, which has no destination
// tier, hooks receive an empty Tier as to.
type TransitionHook interface {
	BeforeTransition(rec *record.Record, from, to record.Tier) Decision
	AfterTransition(rec *record.Record, from, to record.Tier)
}

// HookFuncs adapts plain functions to the TransitionHook interface. Either
// field may be nil.
type HookFuncs struct {
	Before func(rec *record.Record, from, to record.Tier) Decision
	After  func(rec *record.Record, from, to record.Tier)
}

// BeforeTransition implements TransitionHook.
func (h HookFuncs) BeforeTransition(rec *record.Record, from, to record.Tier) Decision {
	if h.Before == nil {
		return Proceed
	}
	return h.Before(rec, from, to)
}

// AfterTransition implements TransitionHook.
func (h HookFuncs) AfterTransition(rec *record.Record, from, to record.Tier) {
	if h.After != nil {
		h.After(rec, from, to)
	}
}
