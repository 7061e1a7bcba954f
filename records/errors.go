package records

import (
	"errors"
	"fmt"
)

// The error taxonomy shared by the store, the query engine, the HTTP API and
// the collectors. Callers branch on these with the Is* predicates instead of
// matching error strings.

// ValidationError indicates a malformed record, like a missing start_time or
// a stop_time before the start_time.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid record: " + e.Reason
}

// ConflictError indicates a create for a record_id that already exists.
type ConflictError struct {
	RecordID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("record %q already exists", e.RecordID)
}

// NotFoundError indicates a get or close for an unknown record_id.
type NotFoundError struct {
	RecordID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("record %q not found", e.RecordID)
}

// InvalidQueryError indicates an unsupported field, operator or malformed
// value in a query. A query that triggers it returns no results at all.
type InvalidQueryError struct {
	Reason string
}

func (e *InvalidQueryError) Error() string {
	return "invalid query: " + e.Reason
}

// UpstreamError indicates that the source system or the record store could
// not be reached. It is always worth retrying.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream unavailable: %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// PersistenceError indicates unreadable or corrupt local durable storage.
// A collector treats this as fatal rather than silently dropping its queue.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

func IsInvalidQuery(err error) bool {
	var e *InvalidQueryError
	return errors.As(err, &e)
}

func IsUpstream(err error) bool {
	var e *UpstreamError
	return errors.As(err, &e)
}

func IsPersistence(err error) bool {
	var e *PersistenceError
	return errors.As(err, &e)
}
