package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/driveshare/reservation-backend/internal/models"
)

const sessionColumns = `id, booking_id, provider, provider_session_id, status,
	amount_cents, currency, redirect_url, created_at, updated_at`

// PaymentSessionRepository stores payment sessions keyed by the provider's
// own session id, which is what webhook callbacks carry
type PaymentSessionRepository struct {
	db *sqlx.DB
}

// NewPaymentSessionRepository creates a new PaymentSessionRepository
func NewPaymentSessionRepository(db *sqlx.DB) *PaymentSessionRepository {
	return &PaymentSessionRepository{db: db}
}

// Create inserts a new session in status "created". A partial unique index
// allows at most one created session per booking; a second open attempt
// surfaces as ErrActiveSessionExists.
func (r *PaymentSessionRepository) Create(ctx context.Context, s *models.PaymentSession) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.Status = models.SessionStatusCreated

	query := `
		INSERT INTO payment_sessions (
			id, booking_id, provider, provider_session_id, status,
			amount_cents, currency, redirect_url
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`

	err := r.db.QueryRowxContext(ctx, query,
		s.ID, s.BookingID, s.Provider, s.ProviderSessionID, s.Status,
		s.AmountCents, s.Currency, s.RedirectURL,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrActiveSessionExists
		}
		return fmt.Errorf("failed to create payment session: %w", err)
	}
	return nil
}

// ErrActiveSessionExists means the booking already has a non-terminal session
var ErrActiveSessionExists = errors.New("booking already has an active payment session")

// GetByProviderSessionID resolves a webhook's session reference.
// Returns nil when no session matches (UnknownSession at the caller).
func (r *PaymentSessionRepository) GetByProviderSessionID(ctx context.Context, provider, providerSessionID string) (*models.PaymentSession, error) {
	var s models.PaymentSession
	query := fmt.Sprintf(`
		SELECT %s FROM payment_sessions
		WHERE provider = $1 AND provider_session_id = $2`, sessionColumns)
	err := r.db.GetContext(ctx, &s, query, provider, providerSessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get payment session: %w", err)
	}
	return &s, nil
}

// GetActiveByBookingID returns the booking's open session, if any
func (r *PaymentSessionRepository) GetActiveByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.PaymentSession, error) {
	var s models.PaymentSession
	query := fmt.Sprintf(`
		SELECT %s FROM payment_sessions
		WHERE booking_id = $1 AND status = 'created'`, sessionColumns)
	err := r.db.GetContext(ctx, &s, query, bookingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active payment session: %w", err)
	}
	return &s, nil
}

// UpdateStatus moves the session from one status to another. The status guard
// makes the update conditional: a duplicate webhook that lost the race simply
// updates zero rows.
func (r *PaymentSessionRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.PaymentSessionStatus) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE payment_sessions
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`,
		id, from, to)
	if err != nil {
		return false, fmt.Errorf("failed to update payment session status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return rows > 0, nil
}
