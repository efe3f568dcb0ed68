package entities

import (
	"errors"
	"fmt"
)

// Sentinel errors for the authorization engine.
// Components wrap these with fmt.Errorf + %w so callers can classify
// faults with errors.Is regardless of where they surfaced.
var (
	// ErrMalformedRule indicates a rule definition that failed validation at
	// load time. The load is rejected and the prior rule set stays in effect.
	ErrMalformedRule = errors.New("malformed rule")

	// ErrImmutableViolation indicates an attempt to update a static rule or an
	// already-created dynamic rule. Rules are create/delete only.
	ErrImmutableViolation = errors.New("immutable rule violation")

	// ErrCycleDetected indicates a scope hierarchy feed containing a cycle.
	// The feed is rejected and the existing hierarchy is kept.
	ErrCycleDetected = errors.New("scope hierarchy cycle detected")

	// ErrStoreUnavailable indicates the rule store cannot be reached.
	// Evaluation fails closed to deny.
	ErrStoreUnavailable = errors.New("rule store unavailable")

	// ErrAuditUnavailable indicates the audit sink rejected or timed out on a
	// record. Non-fatal: the decision is still returned to the caller.
	ErrAuditUnavailable = errors.New("audit sink unavailable")

	// ErrRuleNotFound indicates a rule ID that does not exist in the store.
	ErrRuleNotFound = errors.New("rule not found")
)

// ValidationError describes a malformed request rejected before evaluation.
// The façade returns it synchronously for requests missing a required
// subject/action/object/scope field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: field %q %s", e.Field, e.Reason)
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}
