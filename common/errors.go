package common

import (
	"fmt"
	"strings"
)

// ValidationError indicates that a request carried malformed or missing
// fields and can never succeed as given.
type ValidationError struct {
	message string
}

// Error returns the error message for a ValidationError.
func (e ValidationError) Error() string {
	return e.message
}

// NewValidationError returns a new error indicating that a request was malformed.
func NewValidationError(formatString string, a ...interface{}) ValidationError {
	return ValidationError{message: fmt.Sprintf(formatString, a...)}
}

// NotFoundError indicates that an operation referred to an identifier that
// doesn't exist.
type NotFoundError struct {
	message string
}

// Error returns the error message for a NotFoundError.
func (e NotFoundError) Error() string {
	return e.message
}

// NewNotFoundError returns a new error indicating that an identifier doesn't exist.
func NewNotFoundError(formatString string, a ...interface{}) NotFoundError {
	return NotFoundError{message: fmt.Sprintf(formatString, a...)}
}

// TimeoutError indicates that an asynchronous confirmation did not arrive
// within its deadline.
type TimeoutError struct {
	message string
}

// Error returns the error message for a TimeoutError.
func (e TimeoutError) Error() string {
	return e.message
}

// NewTimeoutError returns a new error indicating that a confirmation deadline expired.
func NewTimeoutError(formatString string, a ...interface{}) TimeoutError {
	return TimeoutError{message: fmt.Sprintf(formatString, a...)}
}

// ConnectionError indicates that a channel to the change feed could not be
// opened or was lost.
type ConnectionError struct {
	message string
}

// Error returns the error message for a ConnectionError.
func (e ConnectionError) Error() string {
	return e.message
}

// NewConnectionError returns a new error indicating that a channel could not be opened.
func NewConnectionError(formatString string, a ...interface{}) ConnectionError {
	return ConnectionError{message: fmt.Sprintf(formatString, a...)}
}

// PartialBatchError reports a batch operation that partially succeeded. The
// successful portion of the batch remains committed; Failed lists the
// identifiers for which the operation failed.
type PartialBatchError struct {
	Failed []string
}

// Error returns the error message for a PartialBatchError.
func (e PartialBatchError) Error() string {
	return fmt.Sprintf(
		"batch partially failed for %d of its targets: %s",
		len(e.Failed),
		strings.Join(e.Failed, ", "),
	)
}

// NewPartialBatchError returns a new error reporting a partially failed batch.
func NewPartialBatchError(failed []string) PartialBatchError {
	return PartialBatchError{Failed: failed}
}
