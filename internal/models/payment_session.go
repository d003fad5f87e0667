package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentSessionStatus represents the state of an external payment session
// Matches PostgreSQL ENUM: payment_session_status
type PaymentSessionStatus string

const (
	SessionStatusCreated  PaymentSessionStatus = "created"  // Opened with the provider, payer not done yet
	SessionStatusCaptured PaymentSessionStatus = "captured" // Provider captured the funds
	SessionStatusFailed   PaymentSessionStatus = "failed"   // Provider denied, expired or payer abandoned
	SessionStatusRefunded PaymentSessionStatus = "refunded" // Captured then refunded
)

// IsTerminal reports whether the session can still change state.
// Only "created" is non-terminal; a booking has at most one created session.
func (s PaymentSessionStatus) IsTerminal() bool {
	return s != SessionStatusCreated
}

// PaymentSession ties a booking to one external provider checkout.
// ProviderSessionID is the provider's own identifier and is what webhook
// callbacks are resolved by.
type PaymentSession struct {
	ID                uuid.UUID            `json:"id" db:"id"`
	BookingID         uuid.UUID            `json:"booking_id" db:"booking_id"`
	Provider          string               `json:"provider" db:"provider"`
	ProviderSessionID string               `json:"provider_session_id" db:"provider_session_id"`
	Status            PaymentSessionStatus `json:"status" db:"status"`
	AmountCents       int64                `json:"amount_cents" db:"amount_cents"`
	Currency          string               `json:"currency" db:"currency"`
	RedirectURL       string               `json:"redirect_url" db:"redirect_url"`
	CreatedAt         time.Time            `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at" db:"updated_at"`
}

// PaymentSessionResponse is returned when a session is opened for a booking
type PaymentSessionResponse struct {
	SessionID   uuid.UUID `json:"session_id"`
	Provider    string    `json:"provider"`
	RedirectURL string    `json:"redirect_url"`
	Amount      string    `json:"amount"`
	Currency    string    `json:"currency"`
}
