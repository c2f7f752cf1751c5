// Package errs defines the error classes shared by the decision engine and
// its collaborators. Wrap them with fmt.Errorf("...: %w", ...) and test with
// errors.Is.
package errs

import "errors"

var (
	// ErrDataUnavailable marks a market-data or AI failure; the symbol is
	// skipped for this tick and retried on the next one.
	ErrDataUnavailable = errors.New("data unavailable")
	// ErrExecutionFailed marks an order the execution venue did not fill.
	ErrExecutionFailed = errors.New("execution failed")
	// ErrValidation marks malformed config or order parameters.
	ErrValidation = errors.New("validation error")
	// ErrInvariantViolation marks state that must never occur, such as a
	// second open position for the same symbol.
	ErrInvariantViolation = errors.New("internal invariant violation")
)

// Kind returns a short label for err's class, used for metrics and logs.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrDataUnavailable):
		return "data_unavailable"
	case errors.Is(err, ErrExecutionFailed):
		return "execution_failed"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrInvariantViolation):
		return "invariant_violation"
	default:
		return "internal"
	}
}
