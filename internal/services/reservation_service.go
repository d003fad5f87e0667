package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/driveshare/reservation-backend/internal/database"
	"github.com/driveshare/reservation-backend/internal/events"
	"github.com/driveshare/reservation-backend/internal/models"
	"github.com/driveshare/reservation-backend/internal/payment"
	"github.com/driveshare/reservation-backend/internal/pricing"
)

// ============================================================================
// DEPENDENCY INTERFACES
// ============================================================================

// BookingStore is the slice of the booking repository the service needs
type BookingStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	FindConflict(ctx context.Context, vehicleID uuid.UUID, start, end time.Time) (*models.Booking, error)
	CreateReservation(ctx context.Context, b *models.Booking, actor string) error
	ApplyTransition(ctx context.Context, bookingID uuid.UUID, event models.BookingEvent, actor string, detail *string) (*models.Booking, bool, error)
	AttachPaymentSession(ctx context.Context, bookingID, sessionID uuid.UUID, provider string) error
	ListAudits(ctx context.Context, bookingID uuid.UUID) ([]models.BookingAudit, error)
}

// VehicleStore resolves vehicles from the catalog
type VehicleStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Vehicle, error)
}

// SessionStore persists payment sessions
type SessionStore interface {
	Create(ctx context.Context, s *models.PaymentSession) error
	GetActiveByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.PaymentSession, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.PaymentSessionStatus) (bool, error)
}

// GatewayResolver resolves a payment gateway by provider id
type GatewayResolver interface {
	Get(name string) (payment.Gateway, error)
}

// ============================================================================
// RESERVATION SERVICE
// ============================================================================

// ReservationService owns the booking lifecycle: creation, payment session
// opening, cancellation and reads. All state transitions go through the
// repository's transactional ApplyTransition.
type ReservationService struct {
	bookings  BookingStore
	vehicles  VehicleStore
	sessions  SessionStore
	gateways  GatewayResolver
	publisher events.Publisher
	logger    *logrus.Logger
	now       func() time.Time
}

// NewReservationService creates the service
func NewReservationService(
	bookings BookingStore,
	vehicles VehicleStore,
	sessions SessionStore,
	gateways GatewayResolver,
	publisher events.Publisher,
	logger *logrus.Logger,
) *ReservationService {
	return &ReservationService{
		bookings:  bookings,
		vehicles:  vehicles,
		sessions:  sessions,
		gateways:  gateways,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// parseDate parses a calendar date from the wire format
func parseDate(field, value string) (time.Time, error) {
	t, err := time.Parse(models.DateLayout, value)
	if err != nil {
		return time.Time{}, &models.ValidationError{Field: field, Reason: "must be a date in YYYY-MM-DD format"}
	}
	return t, nil
}

// CreateReservation validates the request, prices the stay and inserts the
// booking in status pending. Overlap with an active booking on the same
// vehicle surfaces as a ConflictError carrying the winning interval.
func (s *ReservationService) CreateReservation(ctx context.Context, renterID uuid.UUID, req *models.CreateReservationRequest) (*models.Booking, error) {
	vehicleID, err := uuid.Parse(req.VehicleID)
	if err != nil {
		return nil, &models.ValidationError{Field: "vehicle_id", Reason: "must be a UUID"}
	}
	start, err := parseDate("start_date", req.StartDate)
	if err != nil {
		return nil, err
	}
	end, err := parseDate("end_date", req.EndDate)
	if err != nil {
		return nil, err
	}
	if !start.Before(end) {
		return nil, &models.ValidationError{Field: "end_date", Reason: "must be after start_date"}
	}

	vehicle, err := s.vehicles.GetByID(ctx, vehicleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load vehicle: %w", err)
	}
	if vehicle == nil {
		return nil, &models.NotFoundError{Resource: "vehicle", ID: vehicleID.String()}
	}
	if !vehicle.IsListed {
		return nil, &models.UnavailableError{VehicleID: vehicleID}
	}

	// "today" is judged in the vehicle's local calendar, not the server's
	loc, err := time.LoadLocation(vehicle.Timezone)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"vehicle_id": vehicleID,
			"timezone":   vehicle.Timezone,
		}).Warn("Invalid vehicle timezone, falling back to UTC")
		loc = time.UTC
	}
	localNow := s.now().In(loc)
	today := time.Date(localNow.Year(), localNow.Month(), localNow.Day(), 0, 0, 0, 0, time.UTC)
	if start.Before(today) {
		return nil, &models.ValidationError{Field: "start_date", Reason: "must not be in the past"}
	}

	total, err := pricing.Quote(vehicle.NightlyRateCents, start, end)
	if err != nil {
		return nil, err
	}

	booking := &models.Booking{
		ID:               uuid.New(),
		VehicleID:        vehicleID,
		RenterID:         renterID,
		StartDate:        start,
		EndDate:          end,
		Status:           models.BookingStatusPending,
		TotalAmountCents: total,
		Currency:         vehicle.Currency,
		Version:          1,
	}

	if err := s.bookings.CreateReservation(ctx, booking, "renter:"+renterID.String()); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"vehicle_id": vehicleID,
		"renter_id":  renterID,
		"start_date": req.StartDate,
		"end_date":   req.EndDate,
		"total":      pricing.FormatAmount(total),
	}).Info("Reservation created")

	s.emit(ctx, events.TypeBookingCreated, booking)
	return booking, nil
}

// GetBooking loads a booking the caller is allowed to see (renter or the
// vehicle's owner)
func (s *ReservationService) GetBooking(ctx context.Context, bookingID, callerID uuid.UUID) (*models.Booking, error) {
	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load booking: %w", err)
	}
	if booking == nil {
		return nil, &models.NotFoundError{Resource: "booking", ID: bookingID.String()}
	}
	if err := s.authorize(ctx, booking, callerID); err != nil {
		return nil, err
	}
	return booking, nil
}

// GetAuditTrail returns the booking's transition history
func (s *ReservationService) GetAuditTrail(ctx context.Context, bookingID, callerID uuid.UUID) ([]models.BookingAudit, error) {
	if _, err := s.GetBooking(ctx, bookingID, callerID); err != nil {
		return nil, err
	}
	return s.bookings.ListAudits(ctx, bookingID)
}

// authorize allows the renter and the vehicle owner
func (s *ReservationService) authorize(ctx context.Context, booking *models.Booking, callerID uuid.UUID) error {
	if booking.RenterID == callerID {
		return nil
	}
	vehicle, err := s.vehicles.GetByID(ctx, booking.VehicleID)
	if err != nil {
		return fmt.Errorf("failed to load vehicle: %w", err)
	}
	if vehicle != nil && vehicle.OwnerID == callerID {
		return nil
	}
	return &models.ForbiddenError{Reason: "caller is neither the renter nor the vehicle owner"}
}

// OpenPaymentSession opens a checkout session with the chosen provider for a
// pending booking. Re-invoking it while a session is still open returns the
// existing session instead of opening a second one.
func (s *ReservationService) OpenPaymentSession(ctx context.Context, bookingID, callerID uuid.UUID, provider string) (*models.PaymentSession, error) {
	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load booking: %w", err)
	}
	if booking == nil {
		return nil, &models.NotFoundError{Resource: "booking", ID: bookingID.String()}
	}
	if booking.RenterID != callerID {
		return nil, &models.ForbiddenError{Reason: "only the renter may pay for a booking"}
	}
	if booking.Status != models.BookingStatusPending {
		return nil, &models.ValidationError{Field: "status", Reason: "payment can only be opened for a pending booking"}
	}

	if existing, err := s.sessions.GetActiveByBookingID(ctx, bookingID); err != nil {
		return nil, fmt.Errorf("failed to check existing session: %w", err)
	} else if existing != nil {
		return existing, nil
	}

	gw, err := s.gateways.Get(provider)
	if err != nil {
		return nil, &models.ValidationError{Field: "provider", Reason: "unsupported payment provider"}
	}

	info, err := gw.OpenSession(ctx, booking)
	if err != nil {
		return nil, err
	}

	session := &models.PaymentSession{
		ID:                uuid.New(),
		BookingID:         bookingID,
		Provider:          provider,
		ProviderSessionID: info.ProviderSessionID,
		Status:            models.SessionStatusCreated,
		AmountCents:       booking.TotalAmountCents,
		Currency:          booking.Currency,
		RedirectURL:       info.RedirectURL,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		if errors.Is(err, database.ErrActiveSessionExists) {
			// lost a race with a concurrent open, hand back the winner
			if winner, lookupErr := s.sessions.GetActiveByBookingID(ctx, bookingID); lookupErr == nil && winner != nil {
				return winner, nil
			}
		}
		return nil, err
	}
	if err := s.bookings.AttachPaymentSession(ctx, bookingID, session.ID, provider); err != nil {
		s.logger.WithFields(logrus.Fields{
			"booking_id": bookingID,
			"session_id": session.ID,
		}).WithError(err).Warn("Failed to attach payment session to booking")
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id":          bookingID,
		"provider":            provider,
		"provider_session_id": info.ProviderSessionID,
	}).Info("Payment session opened")

	return session, nil
}

// CancelReservation cancels a pending or confirmed booking on behalf of the
// renter or the vehicle owner. Cancelling an already terminal booking is a
// no-op and reports the current state.
func (s *ReservationService) CancelReservation(ctx context.Context, bookingID, callerID uuid.UUID) (*models.Booking, error) {
	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load booking: %w", err)
	}
	if booking == nil {
		return nil, &models.NotFoundError{Resource: "booking", ID: bookingID.String()}
	}
	if err := s.authorize(ctx, booking, callerID); err != nil {
		return nil, err
	}

	actor := "renter:" + callerID.String()
	if booking.RenterID != callerID {
		actor = "owner:" + callerID.String()
	}

	updated, alreadyTerminal, err := s.bookings.ApplyTransition(ctx, bookingID, models.EventCancelRequested, actor, nil)
	if err != nil {
		return nil, err
	}
	if alreadyTerminal {
		return updated, nil
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id": bookingID,
		"actor":      actor,
	}).Info("Reservation cancelled")

	s.emit(ctx, events.TypeBookingCancelled, updated)
	return updated, nil
}

// CheckAvailability reports whether the vehicle is free for [start, end)
// and, when it is not, which active booking blocks it
func (s *ReservationService) CheckAvailability(ctx context.Context, vehicleID uuid.UUID, start, end time.Time) (*models.Booking, error) {
	if !start.Before(end) {
		return nil, &models.ValidationError{Field: "end_date", Reason: "must be after start_date"}
	}
	return s.bookings.FindConflict(ctx, vehicleID, start, end)
}

// emit publishes a domain event, logging failures without affecting the
// booking outcome
func (s *ReservationService) emit(ctx context.Context, eventType string, booking *models.Booking) {
	if err := s.publisher.Publish(ctx, events.FromBooking(eventType, booking)); err != nil {
		s.logger.WithFields(logrus.Fields{
			"event_type": eventType,
			"booking_id": booking.ID,
		}).WithError(err).Warn("Failed to publish domain event")
	}
}

// ToBookingResponse shapes a booking for the API
func ToBookingResponse(b *models.Booking) models.BookingResponse {
	return models.BookingResponse{
		ID:          b.ID,
		VehicleID:   b.VehicleID,
		RenterID:    b.RenterID,
		StartDate:   b.StartDate.Format(models.DateLayout),
		EndDate:     b.EndDate.Format(models.DateLayout),
		Status:      b.Status,
		Nights:      b.Nights(),
		TotalAmount: pricing.FormatAmount(b.TotalAmountCents),
		Currency:    b.Currency,
		CreatedAt:   b.CreatedAt,
	}
}
