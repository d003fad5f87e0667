package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/driveshare/reservation-backend/internal/events"
	"github.com/driveshare/reservation-backend/internal/models"
	"github.com/driveshare/reservation-backend/internal/payment"
)

// SweepStore is the slice of the booking repository the sweeps need
type SweepStore interface {
	ListConfirmedEnding(ctx context.Context, asOf time.Time) ([]models.Booking, error)
	ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]models.Booking, error)
	ApplyTransition(ctx context.Context, bookingID uuid.UUID, event models.BookingEvent, actor string, detail *string) (*models.Booking, bool, error)
}

// SweepService runs the two periodic jobs: marking finished rentals completed
// and reconciling pending bookings whose webhook never arrived.
type SweepService struct {
	bookings  SweepStore
	sessions  SessionStore
	gateways  GatewayResolver
	publisher events.Publisher
	logger    *logrus.Logger

	pendingTimeout time.Duration
	abandonAfter   time.Duration
	now            func() time.Time
}

// NewSweepService creates the service. pendingTimeout is how long a pending
// booking may sit before its provider is re-queried; abandonAfter is how long
// before an unanswered pending booking is written off.
func NewSweepService(
	bookings SweepStore,
	sessions SessionStore,
	gateways GatewayResolver,
	publisher events.Publisher,
	logger *logrus.Logger,
	pendingTimeout, abandonAfter time.Duration,
) *SweepService {
	return &SweepService{
		bookings:       bookings,
		sessions:       sessions,
		gateways:       gateways,
		publisher:      publisher,
		logger:         logger,
		pendingTimeout: pendingTimeout,
		abandonAfter:   abandonAfter,
		now:            time.Now,
	}
}

// SweepCompleted moves confirmed bookings whose end date has passed to
// completed. Returns how many bookings were transitioned.
func (s *SweepService) SweepCompleted(ctx context.Context) (int, error) {
	asOf := s.now().UTC()
	due, err := s.bookings.ListConfirmedEnding(ctx, asOf)
	if err != nil {
		return 0, fmt.Errorf("failed to list ending bookings: %w", err)
	}

	completed := 0
	for i := range due {
		b := &due[i]
		updated, alreadyTerminal, err := s.bookings.ApplyTransition(ctx, b.ID, models.EventEndDatePassed, "system:sweep", nil)
		if err != nil {
			s.logger.WithField("booking_id", b.ID).WithError(err).Error("Failed to complete booking")
			continue
		}
		if alreadyTerminal {
			continue
		}
		completed++
		s.emit(ctx, events.TypeBookingCompleted, updated)
	}

	if completed > 0 {
		s.logger.WithField("count", completed).Info("Completed sweep finished")
	}
	return completed, nil
}

// ReconcilePending re-queries the provider for pending bookings older than
// pendingTimeout and applies whatever the provider reports. Bookings older
// than abandonAfter with no provider answer are marked payment_failed.
// Returns how many bookings changed state.
func (s *SweepService) ReconcilePending(ctx context.Context) (int, error) {
	now := s.now().UTC()
	stale, err := s.bookings.ListPendingOlderThan(ctx, now.Add(-s.pendingTimeout))
	if err != nil {
		return 0, fmt.Errorf("failed to list stale pending bookings: %w", err)
	}

	changed := 0
	for i := range stale {
		b := &stale[i]
		if s.reconcileOne(ctx, b, now) {
			changed++
		}
	}

	if changed > 0 {
		s.logger.WithField("count", changed).Info("Pending reconciliation finished")
	}
	return changed, nil
}

// reconcileOne settles a single stale pending booking, reporting whether its
// state changed
func (s *SweepService) reconcileOne(ctx context.Context, b *models.Booking, now time.Time) bool {
	log := s.logger.WithField("booking_id", b.ID)

	session, err := s.sessions.GetActiveByBookingID(ctx, b.ID)
	if err != nil {
		log.WithError(err).Error("Failed to load payment session")
		return false
	}

	// no session was ever opened; past the abandon horizon the hold is
	// released so the dates free up
	if session == nil {
		if now.Sub(b.CreatedAt) >= s.abandonAfter {
			return s.fail(ctx, b, "abandoned without payment session", models.SessionStatusFailed, nil, log)
		}
		return false
	}

	gw, err := s.gateways.Get(session.Provider)
	if err != nil {
		log.WithField("provider", session.Provider).Error("No gateway for session provider")
		return false
	}

	result, err := gw.CaptureResult(ctx, session.ProviderSessionID)
	if err != nil {
		var provErr *models.ProviderError
		if errors.As(err, &provErr) && provErr.Retryable() {
			// provider is down, the next sweep will retry unless the
			// booking has aged out entirely
			if now.Sub(b.CreatedAt) >= s.abandonAfter {
				return s.fail(ctx, b, "abandoned, provider unreachable", models.SessionStatusFailed, session, log)
			}
			log.WithError(err).Warn("Provider unreachable during reconciliation")
			return false
		}
		log.WithError(err).Error("Provider rejected status query")
		return false
	}

	switch result.Status {
	case payment.ResultCaptured:
		detail := "reconciled by sweep"
		updated, alreadyTerminal, err := s.bookings.ApplyTransition(ctx, b.ID, models.EventPaymentCaptured, "system:sweep", &detail)
		if err != nil {
			log.WithError(err).Error("Failed to confirm reconciled booking")
			return false
		}
		if alreadyTerminal {
			return false
		}
		if _, err := s.sessions.UpdateStatus(ctx, session.ID, models.SessionStatusCreated, models.SessionStatusCaptured); err != nil {
			log.WithError(err).Warn("Failed to update payment session status")
		}
		s.emit(ctx, events.TypeBookingConfirmed, updated)
		return true
	case payment.ResultDenied, payment.ResultExpired:
		return s.fail(ctx, b, "provider reported "+string(result.Status), models.SessionStatusFailed, session, log)
	default:
		// payer may still be mid-checkout; give up only past the horizon
		if now.Sub(b.CreatedAt) >= s.abandonAfter {
			return s.fail(ctx, b, "abandoned mid-checkout", models.SessionStatusFailed, session, log)
		}
		return false
	}
}

// fail marks the booking payment_failed and closes its session if one exists
func (s *SweepService) fail(ctx context.Context, b *models.Booking, reason string, sessionStatus models.PaymentSessionStatus, session *models.PaymentSession, log *logrus.Entry) bool {
	updated, alreadyTerminal, err := s.bookings.ApplyTransition(ctx, b.ID, models.EventPaymentDenied, "system:sweep", &reason)
	if err != nil {
		log.WithError(err).Error("Failed to fail stale booking")
		return false
	}
	if alreadyTerminal {
		return false
	}
	if session != nil {
		if _, err := s.sessions.UpdateStatus(ctx, session.ID, models.SessionStatusCreated, sessionStatus); err != nil {
			log.WithError(err).Warn("Failed to update payment session status")
		}
	}
	log.WithField("reason", reason).Info("Stale pending booking failed")
	s.emit(ctx, events.TypeBookingPaymentFailed, updated)
	return true
}

func (s *SweepService) emit(ctx context.Context, eventType string, booking *models.Booking) {
	if err := s.publisher.Publish(ctx, events.FromBooking(eventType, booking)); err != nil {
		s.logger.WithFields(logrus.Fields{
			"event_type": eventType,
			"booking_id": booking.ID,
		}).WithError(err).Warn("Failed to publish domain event")
	}
}
