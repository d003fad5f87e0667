package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// DOMAIN ERROR TAXONOMY
// ============================================================================

// ValidationError means the request was malformed or out of range.
// Recoverable by the client fixing its input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// ConflictError means the requested date range overlaps an active booking.
// Carries the conflicting interval for the caller to pick different dates.
type ConflictError struct {
	VehicleID     uuid.UUID
	ConflictStart time.Time
	ConflictEnd   time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("vehicle %s already booked %s..%s",
		e.VehicleID,
		e.ConflictStart.Format(DateLayout),
		e.ConflictEnd.Format(DateLayout))
}

// NotFoundError means the referenced resource does not exist
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// UnavailableError means the vehicle exists but is delisted
type UnavailableError struct {
	VehicleID uuid.UUID
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("vehicle %s is not listed for rental", e.VehicleID)
}

// ForbiddenError means the caller is not allowed to act on the resource
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Reason)
}

// InvalidTransitionError means an event is not defined for the booking's
// current (non-terminal) state
type InvalidTransitionError struct {
	From  BookingStatus
	Event BookingEvent
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("event %s is not valid from status %s", e.Event, e.From)
}

// ============================================================================
// PAYMENT PROVIDER ERRORS
// ============================================================================

// ProviderErrorKind classifies payment provider failures into the shared
// taxonomy every gateway adapter translates into
type ProviderErrorKind string

const (
	ProviderUnavailable ProviderErrorKind = "provider_unavailable" // retryable
	ProviderTimeout     ProviderErrorKind = "provider_timeout"     // retryable
	ProviderRejected    ProviderErrorKind = "provider_rejected"    // terminal
)

// ProviderError wraps a provider-side failure with its taxonomy kind
type ProviderError struct {
	Kind     ProviderErrorKind
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Kind, e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether the caller may retry the provider call
func (e *ProviderError) Retryable() bool {
	return e.Kind == ProviderUnavailable || e.Kind == ProviderTimeout
}

// ============================================================================
// WEBHOOK ERRORS
// ============================================================================

// Webhook-side failures are logged and dropped, never surfaced to the payer.
// ErrUnknownSession is acknowledged to the provider so it stops retrying.
var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrUnknownSession   = errors.New("unknown payment session")
	ErrUnknownProvider  = errors.New("unknown payment provider")
)
