/*
errors.go - Centralized error types for the allocation engine

PURPOSE:
  Business outcomes (no expenses, already bound, no headroom) are NOT errors;
  they are reported as Outcome values. The errors here cover lookups,
  malformed internal state and persistence failures.

ERROR CATEGORIES:
  1. Lookup errors - unknown consumer, pipeline or change
  2. Encoding errors - a binding that cannot be written without corrupting the code
  3. Journal errors - duplicate or stale change records

SEE ALSO:
  - binder.go: turns errors into Failed outcomes inside bulk loops
  - session/session.go: wraps these errors with context
*/
package allocation

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrConsumerNotFound = errors.New("consumer not found")
	ErrPipelineNotFound = errors.New("pipeline not found")
	ErrChangeNotFound   = errors.New("change not found")

	// ErrInvalidPipelineID is returned when a pipeline ID is empty or contains
	// a separator character of the binding encoding.
	ErrInvalidPipelineID = errors.New("invalid pipeline id")

	// ErrInvalidGRSName is returned when a GRS name contains the binding separator.
	ErrInvalidGRSName = errors.New("invalid grs name")

	// ErrDuplicateChange is returned when a change with the same ID is already journaled.
	ErrDuplicateChange = errors.New("duplicate change id")

	// ErrStaleChange is returned when reverting a change whose target has since been modified.
	ErrStaleChange = errors.New("change is stale: target was modified afterwards")

	// ErrNotRevertible is returned when reverting a load change. Loads are
	// derived, so they are restored by recalculating.
	ErrNotRevertible = errors.New("change cannot be reverted")

	ErrNothingToCommit = errors.New("nothing to commit")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// EncodeError describes a binding that cannot be encoded.
type EncodeError struct {
	PipelineID string
	GRSName    string
	Err        error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("cannot encode binding %q (grs %q): %v", e.PipelineID, e.GRSName, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrConsumerNotFound) ||
		errors.Is(err, ErrPipelineNotFound) ||
		errors.Is(err, ErrChangeNotFound)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidPipelineID) ||
		errors.Is(err, ErrInvalidGRSName) ||
		errors.Is(err, ErrNothingToCommit) ||
		errors.Is(err, ErrNotRevertible)
}

// IsConflict returns true if the error is a journal or revert conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateChange) || errors.Is(err, ErrStaleChange)
}
