package research

import (
	"errors"
	"fmt"
)

// ============================================================================
// ERROR TAXONOMY
// ============================================================================
// Sentinel errors used across the loop. Callers classify failures with
// errors.Is; provider wrappers attach detail with fmt.Errorf("...: %w", ...).

var (
	// ErrProviderUnavailable covers connection refused, DNS failure, and
	// 5xx-class responses from a search or model provider.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrProviderTimeout is a per-call deadline expiry, distinct from
	// cancellation of the whole session.
	ErrProviderTimeout = errors.New("provider timeout")

	// ErrReflectionParse means the reflection output stayed malformed
	// after the single repair re-prompt.
	ErrReflectionParse = errors.New("reflection output unparseable")

	// ErrInvalidArgument covers caller mistakes: empty topic, topK < 1,
	// out-of-range configuration passed at call time.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrConfiguration is fatal at startup or store-open time: bad loop
	// bounds, embedding dimension mismatch, unknown provider name.
	ErrConfiguration = errors.New("configuration error")
)

// StepError records which loop step failed, preserving the underlying
// sentinel for errors.Is.
type StepError struct {
	Step State
	Loop int
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("research step %s (loop %d): %v", e.Step, e.Loop, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
