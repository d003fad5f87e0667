package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/driveshare/reservation-backend/internal/models"
)

const vehicleColumns = `id, owner_id, nightly_rate_cents, currency, location,
	timezone, is_listed, created_at, updated_at`

// VehicleRepository handles the vehicle catalog. Host-profile flows own most
// vehicle mutations; the reservation core mainly reads rate, timezone and
// listing state.
type VehicleRepository struct {
	db *sqlx.DB
}

// NewVehicleRepository creates a new VehicleRepository
func NewVehicleRepository(db *sqlx.DB) *VehicleRepository {
	return &VehicleRepository{db: db}
}

// GetByID returns the vehicle or nil when it does not exist
func (r *VehicleRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Vehicle, error) {
	var v models.Vehicle
	query := fmt.Sprintf(`SELECT %s FROM vehicles WHERE id = $1`, vehicleColumns)
	err := r.db.GetContext(ctx, &v, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get vehicle: %w", err)
	}
	return &v, nil
}

// Create inserts a new listing
func (r *VehicleRepository) Create(ctx context.Context, v *models.Vehicle) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	query := `
		INSERT INTO vehicles (id, owner_id, nightly_rate_cents, currency, location, timezone, is_listed)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`
	err := r.db.QueryRowxContext(ctx, query,
		v.ID, v.OwnerID, v.NightlyRateCents, v.Currency, v.Location, v.Timezone, v.IsListed,
	).Scan(&v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create vehicle: %w", err)
	}
	return nil
}

// Update applies a partial update and returns the stored row
func (r *VehicleRepository) Update(ctx context.Context, id uuid.UUID, rateCents *int64, location, timezone *string, isListed *bool) (*models.Vehicle, error) {
	var v models.Vehicle
	query := fmt.Sprintf(`
		UPDATE vehicles
		SET nightly_rate_cents = COALESCE($2, nightly_rate_cents),
		    location           = COALESCE($3, location),
		    timezone           = COALESCE($4, timezone),
		    is_listed          = COALESCE($5, is_listed),
		    updated_at         = NOW()
		WHERE id = $1
		RETURNING %s`, vehicleColumns)
	err := r.db.GetContext(ctx, &v, query, id, rateCents, location, timezone, isListed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to update vehicle: %w", err)
	}
	return &v, nil
}

// ListByOwner returns a host's listings
func (r *VehicleRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Vehicle, error) {
	var vehicles []models.Vehicle
	query := fmt.Sprintf(`SELECT %s FROM vehicles WHERE owner_id = $1 ORDER BY created_at`, vehicleColumns)
	if err := r.db.SelectContext(ctx, &vehicles, query, ownerID); err != nil {
		return nil, fmt.Errorf("failed to list vehicles: %w", err)
	}
	return vehicles, nil
}
