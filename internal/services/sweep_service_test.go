package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driveshare/reservation-backend/internal/events"
	"github.com/driveshare/reservation-backend/internal/models"
	"github.com/driveshare/reservation-backend/internal/payment"
)

type sweepFixture struct {
	svc      *SweepService
	bookings *fakeBookingStore
	sessions *fakeSessionStore
	gateway  *fakeGateway
	pub      *recordingPublisher
	now      time.Time
}

func newSweepFixture(t *testing.T) *sweepFixture {
	t.Helper()

	bookings := newFakeBookingStore()
	sessions := newFakeSessionStore()
	pub := &recordingPublisher{}
	gw := &fakeGateway{name: "stripe"}

	svc := NewSweepService(bookings, sessions, payment.NewRegistry(gw), pub, testLogger(),
		30*time.Minute, 24*time.Hour)
	now := time.Date(2025, 6, 20, 3, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	return &sweepFixture{svc: svc, bookings: bookings, sessions: sessions, gateway: gw, pub: pub, now: now}
}

func (f *sweepFixture) seedBooking(status models.BookingStatus, createdAt, endDate time.Time) *models.Booking {
	b := &models.Booking{
		ID:               uuid.New(),
		VehicleID:        uuid.New(),
		RenterID:         uuid.New(),
		StartDate:        endDate.AddDate(0, 0, -3),
		EndDate:          endDate,
		Status:           status,
		TotalAmountCents: 30000,
		Currency:         "USD",
		Version:          1,
		CreatedAt:        createdAt,
	}
	f.bookings.put(b)
	return b
}

func (f *sweepFixture) seedSession(t *testing.T, bookingID uuid.UUID) *models.PaymentSession {
	t.Helper()
	s := &models.PaymentSession{
		ID:                uuid.New(),
		BookingID:         bookingID,
		Provider:          "stripe",
		ProviderSessionID: "cs_" + bookingID.String()[:8],
		AmountCents:       30000,
		Currency:          "USD",
	}
	require.NoError(t, f.sessions.Create(context.Background(), s))
	return s
}

func TestSweepCompleted(t *testing.T) {
	f := newSweepFixture(t)

	ended := f.seedBooking(models.BookingStatusConfirmed, f.now.Add(-96*time.Hour), time.Date(2025, 6, 19, 0, 0, 0, 0, time.UTC))
	ongoing := f.seedBooking(models.BookingStatusConfirmed, f.now.Add(-24*time.Hour), time.Date(2025, 6, 25, 0, 0, 0, 0, time.UTC))
	pending := f.seedBooking(models.BookingStatusPending, f.now.Add(-96*time.Hour), time.Date(2025, 6, 19, 0, 0, 0, 0, time.UTC))

	n, err := f.svc.SweepCompleted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	b, _ := f.bookings.GetByID(context.Background(), ended.ID)
	assert.Equal(t, models.BookingStatusCompleted, b.Status)

	b, _ = f.bookings.GetByID(context.Background(), ongoing.ID)
	assert.Equal(t, models.BookingStatusConfirmed, b.Status)

	b, _ = f.bookings.GetByID(context.Background(), pending.ID)
	assert.Equal(t, models.BookingStatusPending, b.Status)

	assert.Equal(t, []string{events.TypeBookingCompleted}, f.pub.types())

	// second run finds nothing left to do
	n, err = f.svc.SweepCompleted(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReconcilePending(t *testing.T) {
	futureEnd := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	t.Run("Captured At Provider Confirms Booking", func(t *testing.T) {
		f := newSweepFixture(t)
		b := f.seedBooking(models.BookingStatusPending, f.now.Add(-time.Hour), futureEnd)
		s := f.seedSession(t, b.ID)
		f.gateway.result = &payment.Result{Status: payment.ResultCaptured, AmountCents: 30000, Currency: "USD"}

		n, err := f.svc.ReconcilePending(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, _ := f.bookings.GetByID(context.Background(), b.ID)
		assert.Equal(t, models.BookingStatusConfirmed, got.Status)
		assert.Equal(t, models.SessionStatusCaptured, f.sessions.status(s.ID))
		assert.Equal(t, []string{events.TypeBookingConfirmed}, f.pub.types())
	})

	t.Run("Denied At Provider Fails Booking", func(t *testing.T) {
		f := newSweepFixture(t)
		b := f.seedBooking(models.BookingStatusPending, f.now.Add(-time.Hour), futureEnd)
		s := f.seedSession(t, b.ID)
		f.gateway.result = &payment.Result{Status: payment.ResultDenied}

		n, err := f.svc.ReconcilePending(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, _ := f.bookings.GetByID(context.Background(), b.ID)
		assert.Equal(t, models.BookingStatusPaymentFailed, got.Status)
		assert.Equal(t, models.SessionStatusFailed, f.sessions.status(s.ID))
		assert.Equal(t, []string{events.TypeBookingPaymentFailed}, f.pub.types())
	})

	t.Run("Fresh Pending Booking Untouched", func(t *testing.T) {
		f := newSweepFixture(t)
		b := f.seedBooking(models.BookingStatusPending, f.now.Add(-5*time.Minute), futureEnd)
		f.seedSession(t, b.ID)

		n, err := f.svc.ReconcilePending(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n)

		got, _ := f.bookings.GetByID(context.Background(), b.ID)
		assert.Equal(t, models.BookingStatusPending, got.Status)
	})

	t.Run("Still Pending Within Horizon Untouched", func(t *testing.T) {
		f := newSweepFixture(t)
		b := f.seedBooking(models.BookingStatusPending, f.now.Add(-2*time.Hour), futureEnd)
		f.seedSession(t, b.ID)
		f.gateway.result = &payment.Result{Status: payment.ResultPending}

		n, err := f.svc.ReconcilePending(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n)

		got, _ := f.bookings.GetByID(context.Background(), b.ID)
		assert.Equal(t, models.BookingStatusPending, got.Status)
	})

	t.Run("Still Pending Past Horizon Abandoned", func(t *testing.T) {
		f := newSweepFixture(t)
		b := f.seedBooking(models.BookingStatusPending, f.now.Add(-25*time.Hour), futureEnd)
		s := f.seedSession(t, b.ID)
		f.gateway.result = &payment.Result{Status: payment.ResultPending}

		n, err := f.svc.ReconcilePending(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, _ := f.bookings.GetByID(context.Background(), b.ID)
		assert.Equal(t, models.BookingStatusPaymentFailed, got.Status)
		assert.Equal(t, models.SessionStatusFailed, f.sessions.status(s.ID))

		audits, err := f.bookings.ListAudits(context.Background(), b.ID)
		require.NoError(t, err)
		require.Len(t, audits, 1)
		require.NotNil(t, audits[0].Detail)
		assert.Equal(t, "abandoned mid-checkout", *audits[0].Detail)
	})

	t.Run("No Session Past Horizon Released", func(t *testing.T) {
		f := newSweepFixture(t)
		b := f.seedBooking(models.BookingStatusPending, f.now.Add(-25*time.Hour), futureEnd)

		n, err := f.svc.ReconcilePending(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, _ := f.bookings.GetByID(context.Background(), b.ID)
		assert.Equal(t, models.BookingStatusPaymentFailed, got.Status)
	})

	t.Run("Provider Unreachable Within Horizon Retries Later", func(t *testing.T) {
		f := newSweepFixture(t)
		b := f.seedBooking(models.BookingStatusPending, f.now.Add(-2*time.Hour), futureEnd)
		f.seedSession(t, b.ID)
		f.gateway.resultErr = &models.ProviderError{Kind: models.ProviderTimeout, Provider: "stripe"}

		n, err := f.svc.ReconcilePending(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n)

		got, _ := f.bookings.GetByID(context.Background(), b.ID)
		assert.Equal(t, models.BookingStatusPending, got.Status)
		assert.Empty(t, f.pub.types())
	})

	t.Run("Provider Unreachable Past Horizon Abandoned", func(t *testing.T) {
		f := newSweepFixture(t)
		b := f.seedBooking(models.BookingStatusPending, f.now.Add(-25*time.Hour), futureEnd)
		f.seedSession(t, b.ID)
		f.gateway.resultErr = &models.ProviderError{Kind: models.ProviderTimeout, Provider: "stripe"}

		n, err := f.svc.ReconcilePending(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, _ := f.bookings.GetByID(context.Background(), b.ID)
		assert.Equal(t, models.BookingStatusPaymentFailed, got.Status)
	})
}
