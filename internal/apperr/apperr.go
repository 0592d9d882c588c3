// Package apperr defines the error taxonomy shared by the domain packages
// and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers and transports
type Kind string

const (
	KindValidation         Kind = "validation"
	KindNotFound           Kind = "not_found"
	KindPolicyNotActive    Kind = "policy_not_active"
	KindAllocationExceeded Kind = "allocation_exceeded"
	KindInvalidTransition  Kind = "invalid_transition"
	KindPersistence        Kind = "persistence"
	KindCollaborator       Kind = "collaborator"
	KindInternal           Kind = "internal"
)

// Error is the single error type returned by domain operations
type Error struct {
	Kind    Kind
	Message string
	// Fields holds per-field detail for validation failures
	Fields map[string]string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Expected reports whether the error is a recoverable caller condition
// rather than an infrastructure failure.
func (e *Error) Expected() bool {
	switch e.Kind {
	case KindPersistence, KindCollaborator, KindInternal:
		return false
	}
	return true
}

// Validation builds a validation error with optional field detail
func Validation(msg string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: msg, Fields: fields}
}

// NotFound builds a not-found error for an entity
func NotFound(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s not found: %s", entity, id)}
}

// PolicyNotActive is returned when a claim targets a policy that cannot accept it
func PolicyNotActive(policyID, status string) *Error {
	return &Error{
		Kind:    KindPolicyNotActive,
		Message: fmt.Sprintf("policy %s is %s, claims require an active policy", policyID, status),
	}
}

// AllocationExceeded is returned when beneficiary percentages would pass 100
func AllocationExceeded(policyID string, current, requested int) *Error {
	return &Error{
		Kind: KindAllocationExceeded,
		Message: fmt.Sprintf("beneficiary allocation for policy %s would be %d%% (currently %d%%, requested %d%%)",
			policyID, current+requested, current, requested),
	}
}

// InvalidTransition is returned for a disallowed state change
func InvalidTransition(entity, from, to string) *Error {
	return &Error{
		Kind:    KindInvalidTransition,
		Message: fmt.Sprintf("%s cannot move from %s to %s", entity, from, to),
	}
}

// Persistence wraps a store failure
func Persistence(op string, err error) *Error {
	return &Error{Kind: KindPersistence, Message: op, Err: err}
}

// Collaborator wraps an external service failure
func Collaborator(service string, err error) *Error {
	return &Error{Kind: KindCollaborator, Message: service + " request failed", Err: err}
}

// KindOf returns the kind of err, or KindInternal for foreign errors
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps an error onto a response status code
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindPolicyNotActive, KindAllocationExceeded, KindInvalidTransition:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindCollaborator:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the text safe to show a caller. Infrastructure
// failures collapse to a generic message.
func PublicMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "internal error"
	}
	switch e.Kind {
	case KindPersistence:
		return "storage unavailable"
	case KindCollaborator:
		return "upstream service unavailable"
	case KindInternal:
		return "internal error"
	}
	return e.Message
}
