package trino

import (
	"fmt"
	"time"
)

// ProtocolError indicates the client received a response it cannot act on:
// a malformed or unexpected payload shape, column metadata that changed
// between batches of the same query, or a retry budget exhausted on
// transient failures. The last underlying cause, if any, is wrapped.
type ProtocolError struct {
	// Reason is a short description of the violation.
	Reason string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("trino: protocol error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("trino: protocol error: %s", e.Reason)
}

// Unwrap returns the underlying cause.
func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

// DecodingError indicates a column value could not be converted to its
// declared type. It identifies the offending column by name, position, and
// declared type so the failure can be traced to the schema.
type DecodingError struct {
	// Column is the column name from the result metadata.
	Column string

	// Index is the zero-based column position.
	Index int

	// Type is the declared column type string (e.g. "decimal(10,2)").
	Type string

	// Cause is the underlying conversion failure.
	Cause error
}

// Error implements the error interface.
func (e *DecodingError) Error() string {
	return fmt.Sprintf("trino: cannot decode column %q (index %d, type %s): %v",
		e.Column, e.Index, e.Type, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *DecodingError) Unwrap() error {
	return e.Cause
}

// TimeoutError indicates a per-request timeout or the overall query deadline
// elapsed. It is distinct from transient network failures, which are retried,
// and from caller-initiated cancellation.
type TimeoutError struct {
	// QueryId is the server-assigned query id, if one was obtained.
	QueryId string

	// Deadline is the budget that was exceeded.
	Deadline time.Duration

	// Cause is the underlying error, typically context.DeadlineExceeded.
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	if e.QueryId != "" {
		return fmt.Sprintf("trino: query %s exceeded deadline of %s", e.QueryId, e.Deadline)
	}
	return fmt.Sprintf("trino: deadline of %s exceeded", e.Deadline)
}

// Unwrap returns the underlying cause.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// CancellationError indicates the query was aborted by caller-initiated
// cancellation. It is reported when a canceled query is advanced further,
// never from the cancellation call itself.
type CancellationError struct {
	// QueryId is the server-assigned query id, if one was obtained.
	QueryId string

	// Cause is the triggering error, typically context.Canceled, if the
	// cancellation was driven by a context rather than an explicit Cancel.
	Cause error
}

// Error implements the error interface.
func (e *CancellationError) Error() string {
	if e.QueryId != "" {
		return fmt.Sprintf("trino: query %s was canceled", e.QueryId)
	}
	return "trino: query was canceled"
}

// Unwrap returns the underlying cause, if any.
func (e *CancellationError) Unwrap() error {
	return e.Cause
}
