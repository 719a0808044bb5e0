package store

import "fmt"

// NotFoundError indicates the resource was not found (or the user lacks access).
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// InvalidQueryError indicates a malformed or out-of-range query parameter.
// Field names the offending input so callers can report it back verbatim.
type InvalidQueryError struct {
	Field   string
	Message string
}

func (e *InvalidQueryError) Error() string {
	return fmt.Sprintf("invalid query parameter %s: %s", e.Field, e.Message)
}

// StructuralIntegrityError indicates a cycle in the parent-conversation graph.
// The request that hit it is aborted; correct data never produces this, so its
// presence is a data-integrity bug upstream.
type StructuralIntegrityError struct {
	ConversationID string
}

func (e *StructuralIntegrityError) Error() string {
	return fmt.Sprintf("conversation parent chain contains a cycle through %s", e.ConversationID)
}

// ConflictError indicates a uniqueness/conflict violation.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// UnavailableError indicates the backing store could not be reached. The
// engine never retries; retrying, if any, belongs to the caller.
type UnavailableError struct {
	Cause error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("store unavailable: %v", e.Cause)
}

func (e *UnavailableError) Unwrap() error { return e.Cause }
