package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/driveshare/reservation-backend/internal/models"
)

const bookingColumns = `id, vehicle_id, renter_id, start_date, end_date, status,
	total_amount_cents, currency, payment_session_id, payment_provider,
	version, created_at, updated_at`

// BookingRepository handles booking rows, their audit trail and the
// conditional status transitions every caller (webhooks, cancels, sweeps)
// goes through
type BookingRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewBookingRepository creates a new BookingRepository
func NewBookingRepository(db *sqlx.DB, logger *logrus.Logger) *BookingRepository {
	return &BookingRepository{db: db, logger: logger}
}

// GetByID returns the booking or nil when it does not exist
func (r *BookingRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	var b models.Booking
	query := fmt.Sprintf(`SELECT %s FROM bookings WHERE id = $1`, bookingColumns)
	err := r.db.GetContext(ctx, &b, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return &b, nil
}

// FindConflict returns the first active booking on the vehicle whose
// half-open interval overlaps [start, end), or nil when the range is free.
// Boundary equality (one booking ends the day another starts) is not a
// conflict.
func (r *BookingRepository) FindConflict(ctx context.Context, vehicleID uuid.UUID, start, end time.Time) (*models.Booking, error) {
	return findConflict(ctx, r.db, vehicleID, start, end)
}

// findConflict runs against either the pool or an open transaction so the
// creator can re-check inside its own unit of work
func findConflict(ctx context.Context, q sqlx.QueryerContext, vehicleID uuid.UUID, start, end time.Time) (*models.Booking, error) {
	var b models.Booking
	query := fmt.Sprintf(`
		SELECT %s FROM bookings
		WHERE vehicle_id = $1
		  AND status IN ('pending', 'confirmed')
		  AND start_date < $3
		  AND $2 < end_date
		ORDER BY start_date
		LIMIT 1`, bookingColumns)

	err := sqlx.GetContext(ctx, q, &b, query, vehicleID, start, end)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query conflicts: %w", err)
	}
	return &b, nil
}

// CreateReservation inserts the booking as pending, together with its
// "created" audit entry, after re-checking the availability index in the same
// transaction. Correctness against a concurrent insert that slips between the
// check and our insert comes from the bookings_no_overlap exclusion
// constraint: the losing transaction's constraint violation is mapped back to
// a ConflictError.
func (r *BookingRepository) CreateReservation(ctx context.Context, b *models.Booking, actor string) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.Status = models.BookingStatusPending
	b.Version = 1

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Diagnostic pre-check: catches most conflicts before the insert and
	// supplies the conflicting interval for the error
	conflict, err := findConflict(ctx, tx, b.VehicleID, b.StartDate, b.EndDate)
	if err != nil {
		return err
	}
	if conflict != nil {
		return &models.ConflictError{
			VehicleID:     b.VehicleID,
			ConflictStart: conflict.StartDate,
			ConflictEnd:   conflict.EndDate,
		}
	}

	insertQuery := `
		INSERT INTO bookings (
			id, vehicle_id, renter_id, start_date, end_date,
			status, total_amount_cents, currency, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`

	err = tx.QueryRowxContext(ctx, insertQuery,
		b.ID, b.VehicleID, b.RenterID, b.StartDate, b.EndDate,
		b.Status, b.TotalAmountCents, b.Currency, b.Version,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return r.mapOverlapError(ctx, err, b)
	}

	if err := insertAudit(ctx, tx, &models.BookingAudit{
		BookingID:  b.ID,
		FromStatus: models.BookingStatusPending,
		ToStatus:   models.BookingStatusPending,
		Event:      "created",
		Actor:      actor,
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return r.mapOverlapError(ctx, err, b)
	}

	r.logger.WithFields(logrus.Fields{
		"booking_id": b.ID,
		"vehicle_id": b.VehicleID,
		"start_date": b.StartDate.Format(models.DateLayout),
		"end_date":   b.EndDate.Format(models.DateLayout),
	}).Info("Booking created as pending")

	return nil
}

// mapOverlapError turns an exclusion-constraint bounce into a ConflictError
// with the winning interval re-queried for diagnostics
func (r *BookingRepository) mapOverlapError(ctx context.Context, err error, b *models.Booking) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23P01" {
		return fmt.Errorf("failed to create booking: %w", err)
	}

	conflictErr := &models.ConflictError{
		VehicleID:     b.VehicleID,
		ConflictStart: b.StartDate,
		ConflictEnd:   b.EndDate,
	}
	// The re-query is best effort; the requested interval stands in when the
	// winner cannot be read back
	if winner, qerr := findConflict(ctx, r.db, b.VehicleID, b.StartDate, b.EndDate); qerr == nil && winner != nil {
		conflictErr.ConflictStart = winner.StartDate
		conflictErr.ConflictEnd = winner.EndDate
	}
	return conflictErr
}

// ApplyTransition applies a lifecycle event to the booking as one atomic
// read-modify-write: the row is locked, the state machine consulted, and the
// status update plus audit entry committed together. A booking already in a
// terminal state comes back with alreadyTerminal=true and no side effects, so
// retried webhooks and duplicate cancels are safe.
func (r *BookingRepository) ApplyTransition(ctx context.Context, bookingID uuid.UUID, event models.BookingEvent, actor string, detail *string) (*models.Booking, bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var b models.Booking
	lockQuery := fmt.Sprintf(`SELECT %s FROM bookings WHERE id = $1 FOR UPDATE`, bookingColumns)
	err = tx.GetContext(ctx, &b, lockQuery, bookingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, &models.NotFoundError{Resource: "booking", ID: bookingID.String()}
		}
		return nil, false, fmt.Errorf("failed to lock booking: %w", err)
	}

	next, alreadyTerminal, err := models.ApplyEvent(b.Status, event)
	if err != nil {
		return nil, false, err
	}
	if alreadyTerminal {
		return &b, true, nil
	}

	// Status guard keeps the update conditional even though we hold the lock
	updateQuery := `
		UPDATE bookings
		SET status = $2, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND status = $3
		RETURNING version, updated_at`

	err = tx.QueryRowxContext(ctx, updateQuery, b.ID, next, b.Status).Scan(&b.Version, &b.UpdatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to transition booking %s: %w", b.ID, err)
	}

	if err := insertAudit(ctx, tx, &models.BookingAudit{
		BookingID:  b.ID,
		FromStatus: b.Status,
		ToStatus:   next,
		Event:      string(event),
		Actor:      actor,
		Detail:     detail,
	}); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit transition: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"booking_id":  b.ID,
		"event":       event,
		"from_status": b.Status,
		"to_status":   next,
		"actor":       actor,
	}).Info("Booking transitioned")

	b.Status = next
	return &b, false, nil
}

// AttachPaymentSession records which payment session and provider a pending
// booking is waiting on
func (r *BookingRepository) AttachPaymentSession(ctx context.Context, bookingID, sessionID uuid.UUID, provider string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE bookings
		SET payment_session_id = $2, payment_provider = $3,
		    version = version + 1, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`,
		bookingID, sessionID, provider)
	if err != nil {
		return fmt.Errorf("failed to attach payment session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("booking %s is not pending", bookingID)
	}
	return nil
}

// ListConfirmedEnding returns confirmed bookings whose end date has passed,
// candidates for the completed sweep
func (r *BookingRepository) ListConfirmedEnding(ctx context.Context, asOf time.Time) ([]models.Booking, error) {
	var bookings []models.Booking
	query := fmt.Sprintf(`
		SELECT %s FROM bookings
		WHERE status = 'confirmed' AND end_date <= $1
		ORDER BY end_date`, bookingColumns)
	if err := r.db.SelectContext(ctx, &bookings, query, asOf); err != nil {
		return nil, fmt.Errorf("failed to list ended bookings: %w", err)
	}
	return bookings, nil
}

// ListPendingOlderThan returns pending bookings created at or before cutoff,
// candidates for provider-status reconciliation
func (r *BookingRepository) ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]models.Booking, error) {
	var bookings []models.Booking
	query := fmt.Sprintf(`
		SELECT %s FROM bookings
		WHERE status = 'pending' AND created_at <= $1
		ORDER BY created_at`, bookingColumns)
	if err := r.db.SelectContext(ctx, &bookings, query, cutoff); err != nil {
		return nil, fmt.Errorf("failed to list stale pending bookings: %w", err)
	}
	return bookings, nil
}

// ListAudits returns the booking's audit trail in sequence order
func (r *BookingRepository) ListAudits(ctx context.Context, bookingID uuid.UUID) ([]models.BookingAudit, error) {
	var audits []models.BookingAudit
	query := `
		SELECT booking_id, seq, from_status, to_status, event, actor, detail, created_at
		FROM booking_audits
		WHERE booking_id = $1
		ORDER BY seq`
	if err := r.db.SelectContext(ctx, &audits, query, bookingID); err != nil {
		return nil, fmt.Errorf("failed to list audits: %w", err)
	}
	return audits, nil
}

// insertAudit appends the next audit entry for the booking. Sequence numbers
// are assigned inside the caller's transaction; transitions on one booking are
// serialized by the row lock, so the MAX(seq)+1 cannot race itself.
func insertAudit(ctx context.Context, tx *sqlx.Tx, audit *models.BookingAudit) error {
	query := `
		INSERT INTO booking_audits (booking_id, seq, from_status, to_status, event, actor, detail)
		VALUES ($1,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM booking_audits WHERE booking_id = $1),
			$2, $3, $4, $5, $6)`

	_, err := tx.ExecContext(ctx, query,
		audit.BookingID, audit.FromStatus, audit.ToStatus,
		audit.Event, audit.Actor, audit.Detail)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}
