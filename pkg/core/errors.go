// Package core provides the main StrataMem engine and its configuration.
package core

import (
	"errors"
	"fmt"

	"github.com/stratamem/stratamem-go/pkg/lifecycle"
	"github.com/stratamem/stratamem-go/pkg/search"
	"github.com/stratamem/stratamem-go/pkg/store"
	"github.com/stratamem/stratamem-go/pkg/summarize"
)

// Sentinel errors, re-exported from the packages that raise them so
// callers can match with errors.Is against a single import.
var (
	// ErrNotFound indicates that a requested record was not found.
	ErrNotFound = store.ErrNotFound

	// ErrTierMismatch indicates that a tier move raced with a concurrent
	// transition: the record's current tier no longer matches the expected
	// source tier. Recoverable; callers retry against the current tier.
	ErrTierMismatch = store.ErrTierMismatch

	// ErrPermanentRecord indicates an attempt to transition a permanent T0
	// record. This is a programmer error and aborts only the offending
	// operation, never the process.
	ErrPermanentRecord = lifecycle.ErrPermanentRecord

	// ErrSummarizerTimeout indicates that the external summarizer did not
	// answer within its deadline. The affected transition is skipped and
	// retried on a later tick.
	ErrSummarizerTimeout = summarize.ErrTimeout

	// ErrSearcherTimeout indicates that the external searcher did not
	// answer within its deadline. Queries degrade to partial results.
	ErrSearcherTimeout = search.ErrTimeout

	// ErrInvalidConfig indicates that the provided configuration is
	// malformed. Fatal at startup.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// EngineError wraps errors with operation context.
//
// It records which engine operation failed, making error messages more
// informative for debugging.
//
// Example:
//
//	err := &EngineError{
//	    Op:  "Ingest",
//	    Err: ErrInvalidConfig,
//	}
//	// Error() returns: "stratamem: Ingest: invalid configuration"
type EngineError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message.
//
// The format is: "stratamem: <Op>: <Err>"
func (e *EngineError) Error() string {
	return fmt.Sprintf("stratamem: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
//
// This allows using errors.Is() and errors.As() with EngineError.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewEngineError creates a new EngineError wrapping the given error.
//
// If err is nil, returns nil. This allows safe error wrapping:
//
//	if err != nil {
//	    return NewEngineError("Ingest", err)
//	}
func NewEngineError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &EngineError{
		Op:  op,
		Err: err,
	}
}
