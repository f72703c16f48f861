package resilience

import (
	"fmt"

	"github.com/askelement/relay/internal/failure"
)

// CircuitOpenError is returned when the dependency's circuit is open and
// the call was rejected without reaching the dependency.
type CircuitOpenError struct {
	// Dependency is the dependency whose circuit rejected the call.
	Dependency string
}

// Error implements error.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for dependency %q", e.Dependency)
}

// ExhaustedRetriesError is returned when every attempt within the retry
// budget failed.
type ExhaustedRetriesError struct {
	// Dependency is the dependency that kept failing.
	Dependency string

	// Attempts is how many calls were made.
	Attempts int

	// Kind is the classified kind of the final failure.
	Kind failure.Kind

	// Err is the final attempt's error.
	Err error
}

// Error implements error.
func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("dependency %q failed after %d attempts (%s): %v",
		e.Dependency, e.Attempts, e.Kind, e.Err)
}

// Unwrap returns the final attempt's error.
func (e *ExhaustedRetriesError) Unwrap() error {
	return e.Err
}

// PermanentError is returned when the dependency rejected the request in a
// way no retry can fix.
type PermanentError struct {
	// Dependency is the dependency that rejected the request.
	Dependency string

	// Err is the rejection.
	Err error
}

// Error implements error.
func (e *PermanentError) Error() string {
	return fmt.Sprintf("dependency %q rejected request permanently: %v",
		e.Dependency, e.Err)
}

// Unwrap returns the underlying rejection.
func (e *PermanentError) Unwrap() error {
	return e.Err
}

// ValidationError is returned when the call's inputs are malformed; the
// request never left the process.
type ValidationError struct {
	// Field names the offending input.
	Field string

	// Reason says what is wrong with it.
	Reason string
}

// Error implements error.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
