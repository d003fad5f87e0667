package models

import (
	"time"

	"github.com/google/uuid"
)

// Vehicle is a host's listing in the marketplace catalog.
// Profile-level fields (photos, descriptions) live with the host-profile
// service; the reservation core only needs rate, timezone and listing state.
type Vehicle struct {
	ID               uuid.UUID `json:"id" db:"id"`
	OwnerID          uuid.UUID `json:"owner_id" db:"owner_id"`
	NightlyRateCents int64     `json:"nightly_rate_cents" db:"nightly_rate_cents"`
	Currency         string    `json:"currency" db:"currency"`
	Location         string    `json:"location" db:"location"`
	Timezone         string    `json:"timezone" db:"timezone"` // IANA name, e.g. "America/Denver"
	IsListed         bool      `json:"is_listed" db:"is_listed"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// CreateVehicleRequest is the host payload for listing a vehicle
type CreateVehicleRequest struct {
	NightlyRate string `json:"nightly_rate" binding:"required"`
	Currency    string `json:"currency" binding:"required,len=3"`
	Location    string `json:"location" binding:"required"`
	Timezone    string `json:"timezone" binding:"required"`
}

// UpdateVehicleRequest is a partial update; nil fields are left unchanged
type UpdateVehicleRequest struct {
	NightlyRate *string `json:"nightly_rate,omitempty"`
	Location    *string `json:"location,omitempty"`
	Timezone    *string `json:"timezone,omitempty"`
	IsListed    *bool   `json:"is_listed,omitempty"`
}
