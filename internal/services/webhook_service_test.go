package services

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driveshare/reservation-backend/internal/events"
	"github.com/driveshare/reservation-backend/internal/models"
	"github.com/driveshare/reservation-backend/internal/payment"
)

type webhookFixture struct {
	svc      *WebhookService
	bookings *fakeBookingStore
	sessions *fakeSessionStore
	gateway  *fakeGateway
	pub      *recordingPublisher
	booking  *models.Booking
	session  *models.PaymentSession
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()

	bookings := newFakeBookingStore()
	sessions := newFakeSessionStore()
	pub := &recordingPublisher{}
	gw := &fakeGateway{name: "stripe"}

	booking := &models.Booking{
		ID:               uuid.New(),
		VehicleID:        uuid.New(),
		RenterID:         uuid.New(),
		StartDate:        time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC),
		EndDate:          time.Date(2025, 6, 13, 0, 0, 0, 0, time.UTC),
		Status:           models.BookingStatusPending,
		TotalAmountCents: 30000,
		Currency:         "USD",
		Version:          1,
	}
	bookings.put(booking)

	session := &models.PaymentSession{
		ID:                uuid.New(),
		BookingID:         booking.ID,
		Provider:          "stripe",
		ProviderSessionID: "cs_42",
		AmountCents:       30000,
		Currency:          "USD",
	}
	require.NoError(t, sessions.Create(context.Background(), session))

	svc := NewWebhookService(bookings, sessions, sessions, payment.NewRegistry(gw), pub, testLogger())
	return &webhookFixture{
		svc: svc, bookings: bookings, sessions: sessions,
		gateway: gw, pub: pub, booking: booking, session: session,
	}
}

func TestHandleCallback(t *testing.T) {
	body := []byte(`{}`)
	headers := http.Header{}

	t.Run("Capture Confirms Booking", func(t *testing.T) {
		f := newWebhookFixture(t)
		f.gateway.callback = &payment.CallbackEvent{
			EventID:           "evt_1",
			ProviderSessionID: "cs_42",
			Status:            payment.ResultCaptured,
			AmountCents:       30000,
			Currency:          "USD",
		}

		outcome, err := f.svc.HandleCallback(context.Background(), "stripe", body, headers)
		require.NoError(t, err)
		assert.Equal(t, OutcomeApplied, outcome)

		b, _ := f.bookings.GetByID(context.Background(), f.booking.ID)
		assert.Equal(t, models.BookingStatusConfirmed, b.Status)
		assert.Equal(t, models.SessionStatusCaptured, f.sessions.status(f.session.ID))
		assert.Equal(t, []string{events.TypeBookingConfirmed}, f.pub.types())
	})

	t.Run("Denial Fails Booking", func(t *testing.T) {
		f := newWebhookFixture(t)
		f.gateway.callback = &payment.CallbackEvent{
			EventID:           "evt_2",
			ProviderSessionID: "cs_42",
			Status:            payment.ResultDenied,
		}

		outcome, err := f.svc.HandleCallback(context.Background(), "stripe", body, headers)
		require.NoError(t, err)
		assert.Equal(t, OutcomeApplied, outcome)

		b, _ := f.bookings.GetByID(context.Background(), f.booking.ID)
		assert.Equal(t, models.BookingStatusPaymentFailed, b.Status)
		assert.Equal(t, models.SessionStatusFailed, f.sessions.status(f.session.ID))
	})

	t.Run("Duplicate Delivery Is Acknowledged Without Effect", func(t *testing.T) {
		f := newWebhookFixture(t)
		f.gateway.callback = &payment.CallbackEvent{
			EventID:           "evt_1",
			ProviderSessionID: "cs_42",
			Status:            payment.ResultCaptured,
		}

		outcome, err := f.svc.HandleCallback(context.Background(), "stripe", body, headers)
		require.NoError(t, err)
		require.Equal(t, OutcomeApplied, outcome)

		outcome, err = f.svc.HandleCallback(context.Background(), "stripe", body, headers)
		require.NoError(t, err)
		assert.Equal(t, OutcomeAlreadyProcessed, outcome)

		// no second audit entry, no second event, session unchanged
		audits, err := f.bookings.ListAudits(context.Background(), f.booking.ID)
		require.NoError(t, err)
		assert.Len(t, audits, 1)
		assert.Len(t, f.pub.types(), 1)
		assert.Equal(t, models.SessionStatusCaptured, f.sessions.status(f.session.ID))
	})

	t.Run("Conflicting Late Delivery Does Not Flip State", func(t *testing.T) {
		f := newWebhookFixture(t)
		f.gateway.callback = &payment.CallbackEvent{
			EventID:           "evt_1",
			ProviderSessionID: "cs_42",
			Status:            payment.ResultCaptured,
		}

		_, err := f.svc.HandleCallback(context.Background(), "stripe", body, headers)
		require.NoError(t, err)

		// retried denial after the capture settled the booking
		f.gateway.callback.Status = payment.ResultDenied
		outcome, err := f.svc.HandleCallback(context.Background(), "stripe", body, headers)
		require.NoError(t, err)
		assert.Equal(t, OutcomeAlreadyProcessed, outcome)

		b, _ := f.bookings.GetByID(context.Background(), f.booking.ID)
		assert.Equal(t, models.BookingStatusConfirmed, b.Status)
		assert.Equal(t, models.SessionStatusCaptured, f.sessions.status(f.session.ID))
		assert.Len(t, f.pub.types(), 1)
	})

	t.Run("Redelivery Settles Stranded Session", func(t *testing.T) {
		// the original delivery confirmed the booking but died before the
		// session update; the redelivery has to finish the job
		f := newWebhookFixture(t)
		_, _, err := f.bookings.ApplyTransition(context.Background(), f.booking.ID,
			models.EventPaymentCaptured, "webhook:stripe", nil)
		require.NoError(t, err)
		require.Equal(t, models.SessionStatusCreated, f.sessions.status(f.session.ID))

		f.gateway.callback = &payment.CallbackEvent{
			EventID:           "evt_1",
			ProviderSessionID: "cs_42",
			Status:            payment.ResultCaptured,
		}

		outcome, err := f.svc.HandleCallback(context.Background(), "stripe", body, headers)
		require.NoError(t, err)
		assert.Equal(t, OutcomeAlreadyProcessed, outcome)
		assert.Equal(t, models.SessionStatusCaptured, f.sessions.status(f.session.ID))
		assert.Empty(t, f.pub.types())
	})

	t.Run("Invalid Signature Rejected Without Mutation", func(t *testing.T) {
		f := newWebhookFixture(t)
		f.gateway.callbackErr = models.ErrInvalidSignature

		_, err := f.svc.HandleCallback(context.Background(), "stripe", body, headers)
		assert.ErrorIs(t, err, models.ErrInvalidSignature)

		b, _ := f.bookings.GetByID(context.Background(), f.booking.ID)
		assert.Equal(t, models.BookingStatusPending, b.Status)
		assert.Empty(t, f.pub.types())
	})

	t.Run("Unknown Session Acknowledged", func(t *testing.T) {
		f := newWebhookFixture(t)
		f.gateway.callback = &payment.CallbackEvent{
			EventID:           "evt_9",
			ProviderSessionID: "cs_other_env",
			Status:            payment.ResultCaptured,
		}

		outcome, err := f.svc.HandleCallback(context.Background(), "stripe", body, headers)
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, outcome)
	})

	t.Run("NonFinal Event Ignored", func(t *testing.T) {
		f := newWebhookFixture(t)
		f.gateway.callback = &payment.CallbackEvent{
			EventID:           "evt_3",
			ProviderSessionID: "cs_42",
			Status:            payment.ResultPending,
		}

		outcome, err := f.svc.HandleCallback(context.Background(), "stripe", body, headers)
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, outcome)

		b, _ := f.bookings.GetByID(context.Background(), f.booking.ID)
		assert.Equal(t, models.BookingStatusPending, b.Status)
	})

	t.Run("Unknown Provider", func(t *testing.T) {
		f := newWebhookFixture(t)

		_, err := f.svc.HandleCallback(context.Background(), "square", body, headers)
		assert.ErrorIs(t, err, models.ErrUnknownProvider)
	})
}
