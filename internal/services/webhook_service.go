package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/driveshare/reservation-backend/internal/events"
	"github.com/driveshare/reservation-backend/internal/models"
	"github.com/driveshare/reservation-backend/internal/payment"
)

// CallbackOutcome tells the webhook handler what to answer the provider
type CallbackOutcome string

const (
	OutcomeApplied          CallbackOutcome = "applied"           // transition applied
	OutcomeAlreadyProcessed CallbackOutcome = "already_processed" // duplicate delivery, acked
	OutcomeIgnored          CallbackOutcome = "ignored"           // non-final event or unknown session, acked
)

// WebhookService turns verified provider callbacks into booking transitions.
// Deliveries are at-least-once: terminal bookings absorb retries via the
// state machine, and a payment event landing on a confirmed booking is
// recognized here as a duplicate of the delivery that confirmed it, so the
// provider can retry freely.
type WebhookService struct {
	bookings  BookingStore
	sessions  SessionStore
	resolver  SessionResolver
	gateways  GatewayResolver
	publisher events.Publisher
	logger    *logrus.Logger
}

// SessionResolver looks a session up by the provider's identifier
type SessionResolver interface {
	GetByProviderSessionID(ctx context.Context, provider, providerSessionID string) (*models.PaymentSession, error)
}

// NewWebhookService creates the service
func NewWebhookService(
	bookings BookingStore,
	sessions SessionStore,
	resolver SessionResolver,
	gateways GatewayResolver,
	publisher events.Publisher,
	logger *logrus.Logger,
) *WebhookService {
	return &WebhookService{
		bookings:  bookings,
		sessions:  sessions,
		resolver:  resolver,
		gateways:  gateways,
		publisher: publisher,
		logger:    logger,
	}
}

// HandleCallback verifies a raw webhook delivery and reconciles the booking
// it refers to. Returns models.ErrInvalidSignature when the delivery fails
// authentication; everything else resolvable is acknowledged so the provider
// stops retrying.
func (s *WebhookService) HandleCallback(ctx context.Context, provider string, body []byte, headers http.Header) (CallbackOutcome, error) {
	gw, err := s.gateways.Get(provider)
	if err != nil {
		return "", err
	}

	event, err := gw.VerifyCallback(ctx, body, headers)
	if err != nil {
		return "", err
	}

	log := s.logger.WithFields(logrus.Fields{
		"provider":            provider,
		"event_id":            event.EventID,
		"provider_session_id": event.ProviderSessionID,
		"event_status":        event.Status,
	})

	session, err := s.resolver.GetByProviderSessionID(ctx, provider, event.ProviderSessionID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve session: %w", err)
	}
	if session == nil {
		// session from another environment or already pruned, ack it
		log.Warn("Webhook for unknown payment session, acknowledging")
		return OutcomeIgnored, nil
	}

	var bookingEvent models.BookingEvent
	var sessionStatus models.PaymentSessionStatus
	var eventType string
	switch event.Status {
	case payment.ResultCaptured:
		bookingEvent = models.EventPaymentCaptured
		sessionStatus = models.SessionStatusCaptured
		eventType = events.TypeBookingConfirmed
	case payment.ResultDenied, payment.ResultExpired:
		bookingEvent = models.EventPaymentDenied
		sessionStatus = models.SessionStatusFailed
		eventType = events.TypeBookingPaymentFailed
	default:
		// intermediate notification, nothing to reconcile
		log.Debug("Non-final webhook event, acknowledging")
		return OutcomeIgnored, nil
	}

	detail := fmt.Sprintf("%s event %s", provider, event.EventID)
	booking, alreadyTerminal, err := s.bookings.ApplyTransition(ctx, session.BookingID, bookingEvent, "webhook:"+provider, &detail)
	if err != nil {
		// payment events are only defined from pending, so an invalid
		// transition means an earlier delivery already settled the booking
		// (confirmed has no payment entries). Absorb the retry.
		var invalidErr *models.InvalidTransitionError
		if errors.As(err, &invalidErr) {
			s.settleSession(ctx, session, log)
			log.WithField("booking_id", session.BookingID).Info("Duplicate webhook delivery, booking already settled")
			return OutcomeAlreadyProcessed, nil
		}
		return "", err
	}
	if alreadyTerminal {
		s.settleSession(ctx, session, log)
		log.WithField("booking_id", session.BookingID).Info("Duplicate webhook delivery, booking already settled")
		return OutcomeAlreadyProcessed, nil
	}

	// session row follows the booking; a lost race here is harmless because
	// the conditional update only moves created -> terminal once
	if _, err := s.sessions.UpdateStatus(ctx, session.ID, models.SessionStatusCreated, sessionStatus); err != nil {
		log.WithError(err).Warn("Failed to update payment session status")
	}

	log.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"new_status": booking.Status,
	}).Info("Webhook reconciled")

	if err := s.publisher.Publish(ctx, events.FromBooking(eventType, booking)); err != nil {
		log.WithError(err).Warn("Failed to publish domain event")
	}

	return OutcomeApplied, nil
}

// settleSession moves a still-created session to the status implied by the
// booking's settled state. A crash between the booking transaction and the
// session update of the original delivery leaves the session on created; the
// provider never got its ack, so the redelivery lands here and heals it.
func (s *WebhookService) settleSession(ctx context.Context, session *models.PaymentSession, log *logrus.Entry) {
	booking, err := s.bookings.GetByID(ctx, session.BookingID)
	if err != nil {
		log.WithError(err).Warn("Failed to load booking while settling session")
		return
	}

	target := models.SessionStatusFailed
	if booking.Status == models.BookingStatusConfirmed || booking.Status == models.BookingStatusCompleted {
		target = models.SessionStatusCaptured
	}

	moved, err := s.sessions.UpdateStatus(ctx, session.ID, models.SessionStatusCreated, target)
	if err != nil {
		log.WithError(err).Warn("Failed to update payment session status")
		return
	}
	if moved {
		log.WithFields(logrus.Fields{
			"session_id":     session.ID,
			"session_status": target,
		}).Info("Settled stale payment session on redelivery")
	}
}
