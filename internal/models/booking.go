package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// BOOKING STATUSES & EVENTS (matches DB ENUMs)
// ============================================================================

// BookingStatus represents the lifecycle state of a booking
// Matches PostgreSQL ENUM: booking_status
type BookingStatus string

const (
	BookingStatusPending       BookingStatus = "pending"        // Created, waiting for payment
	BookingStatusConfirmed     BookingStatus = "confirmed"      // Payment captured
	BookingStatusCancelled     BookingStatus = "cancelled"      // Cancelled by renter or host
	BookingStatusCompleted     BookingStatus = "completed"      // End date passed on a confirmed booking
	BookingStatusPaymentFailed BookingStatus = "payment_failed" // Payment denied or abandoned
)

// IsTerminal reports whether no further transition may be applied
func (s BookingStatus) IsTerminal() bool {
	switch s {
	case BookingStatusCancelled, BookingStatusCompleted, BookingStatusPaymentFailed:
		return true
	}
	return false
}

// IsActive reports whether the booking blocks its date range on the vehicle.
// Only active bookings participate in overlap checks.
func (s BookingStatus) IsActive() bool {
	return s == BookingStatusPending || s == BookingStatusConfirmed
}

// BookingEvent is a lifecycle event applied to a booking
type BookingEvent string

const (
	EventPaymentCaptured BookingEvent = "payment_captured"
	EventPaymentDenied   BookingEvent = "payment_denied"
	EventCancelRequested BookingEvent = "cancel_requested"
	EventEndDatePassed   BookingEvent = "end_date_passed"
)

// transitions is the full lifecycle table. Anything not listed here is either
// absorbed (terminal states) or rejected (invalid event for the state).
var transitions = map[BookingStatus]map[BookingEvent]BookingStatus{
	BookingStatusPending: {
		EventPaymentCaptured: BookingStatusConfirmed,
		EventPaymentDenied:   BookingStatusPaymentFailed,
		EventCancelRequested: BookingStatusCancelled,
	},
	BookingStatusConfirmed: {
		EventCancelRequested: BookingStatusCancelled,
		EventEndDatePassed:   BookingStatusCompleted,
	},
}

// ApplyEvent resolves the status that results from applying event to current.
// Terminal states absorb every event: the current status comes back with
// alreadyTerminal=true so retried webhooks and duplicate cancels are no-ops.
// An event that is not defined for a non-terminal state is an InvalidTransitionError.
func ApplyEvent(current BookingStatus, event BookingEvent) (next BookingStatus, alreadyTerminal bool, err error) {
	if current.IsTerminal() {
		return current, true, nil
	}
	next, ok := transitions[current][event]
	if !ok {
		return current, false, &InvalidTransitionError{From: current, Event: event}
	}
	return next, false, nil
}

// ============================================================================
// BOOKING MODEL
// ============================================================================

// Booking represents a reservation of a vehicle for a half-open date range
// [StartDate, EndDate). EndDate is exclusive, so adjacent bookings may share
// a boundary date.
type Booking struct {
	ID               uuid.UUID     `json:"id" db:"id"`
	VehicleID        uuid.UUID     `json:"vehicle_id" db:"vehicle_id"`
	RenterID         uuid.UUID     `json:"renter_id" db:"renter_id"`
	StartDate        time.Time     `json:"start_date" db:"start_date"`
	EndDate          time.Time     `json:"end_date" db:"end_date"`
	Status           BookingStatus `json:"status" db:"status"`
	TotalAmountCents int64         `json:"total_amount_cents" db:"total_amount_cents"`
	Currency         string        `json:"currency" db:"currency"`
	PaymentSessionID *uuid.UUID    `json:"payment_session_id,omitempty" db:"payment_session_id"`
	PaymentProvider  *string       `json:"payment_provider,omitempty" db:"payment_provider"`
	Version          int           `json:"version" db:"version"`
	CreatedAt        time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at" db:"updated_at"`
}

// Nights returns the number of whole days covered by the booking
func (b *Booking) Nights() int {
	return int(b.EndDate.Sub(b.StartDate).Hours() / 24)
}

// Overlaps reports whether the booking's interval overlaps [start, end).
// Boundary equality is not an overlap.
func (b *Booking) Overlaps(start, end time.Time) bool {
	return b.StartDate.Before(end) && start.Before(b.EndDate)
}

// ============================================================================
// AUDIT TRAIL
// ============================================================================

// BookingAudit is one append-only audit entry per status transition,
// keyed by booking id + sequence number
type BookingAudit struct {
	BookingID  uuid.UUID     `json:"booking_id" db:"booking_id"`
	Seq        int           `json:"seq" db:"seq"`
	FromStatus BookingStatus `json:"from_status" db:"from_status"`
	ToStatus   BookingStatus `json:"to_status" db:"to_status"`
	Event      string        `json:"event" db:"event"`
	Actor      string        `json:"actor" db:"actor"`
	Detail     *string       `json:"detail,omitempty" db:"detail"`
	CreatedAt  time.Time     `json:"created_at" db:"created_at"`
}

// ============================================================================
// REQUEST / RESPONSE TYPES
// ============================================================================

// DateLayout is the wire format for calendar dates (no time component)
const DateLayout = "2006-01-02"

// CreateReservationRequest is the payload for creating a reservation
type CreateReservationRequest struct {
	VehicleID string `json:"vehicle_id" binding:"required,uuid"`
	StartDate string `json:"start_date" binding:"required"`
	EndDate   string `json:"end_date" binding:"required"`
}

// OpenPaymentSessionRequest selects the payment provider for a booking
type OpenPaymentSessionRequest struct {
	Provider string `json:"provider" binding:"required,oneof=stripe paypal"`
}

// BookingResponse is the canonical API shape for a booking
type BookingResponse struct {
	ID          uuid.UUID     `json:"id"`
	VehicleID   uuid.UUID     `json:"vehicle_id"`
	RenterID    uuid.UUID     `json:"renter_id"`
	StartDate   string        `json:"start_date"`
	EndDate     string        `json:"end_date"`
	Status      BookingStatus `json:"status"`
	Nights      int           `json:"nights"`
	TotalAmount string        `json:"total_amount"`
	Currency    string        `json:"currency"`
	CreatedAt   time.Time     `json:"created_at"`
}
