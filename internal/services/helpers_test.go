package services

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/driveshare/reservation-backend/internal/database"
	"github.com/driveshare/reservation-backend/internal/events"
	"github.com/driveshare/reservation-backend/internal/models"
	"github.com/driveshare/reservation-backend/internal/payment"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// fakeBookingStore is an in-memory BookingStore/SweepStore that mirrors the
// repository's transition semantics
type fakeBookingStore struct {
	mu       sync.Mutex
	bookings map[uuid.UUID]*models.Booking
	audits   map[uuid.UUID][]models.BookingAudit
}

func newFakeBookingStore() *fakeBookingStore {
	return &fakeBookingStore{
		bookings: make(map[uuid.UUID]*models.Booking),
		audits:   make(map[uuid.UUID][]models.BookingAudit),
	}
}

func (f *fakeBookingStore) put(b *models.Booking) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *b
	f.bookings[b.ID] = &cp
}

func (f *fakeBookingStore) GetByID(_ context.Context, id uuid.UUID) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[id]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (f *fakeBookingStore) FindConflict(_ context.Context, vehicleID uuid.UUID, start, end time.Time) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.bookings {
		if b.VehicleID == vehicleID && b.Status.IsActive() && b.Overlaps(start, end) {
			cp := *b
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeBookingStore) CreateReservation(ctx context.Context, b *models.Booking, actor string) error {
	if conflict, _ := f.FindConflict(ctx, b.VehicleID, b.StartDate, b.EndDate); conflict != nil {
		return &models.ConflictError{
			VehicleID:     b.VehicleID,
			ConflictStart: conflict.StartDate,
			ConflictEnd:   conflict.EndDate,
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	b.Status = models.BookingStatusPending
	b.Version = 1
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	cp := *b
	f.bookings[b.ID] = &cp
	f.audits[b.ID] = append(f.audits[b.ID], models.BookingAudit{
		BookingID: b.ID, Seq: 1,
		FromStatus: models.BookingStatusPending, ToStatus: models.BookingStatusPending,
		Event: "created", Actor: actor,
	})
	return nil
}

func (f *fakeBookingStore) ApplyTransition(_ context.Context, bookingID uuid.UUID, event models.BookingEvent, actor string, detail *string) (*models.Booking, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[bookingID]
	if !ok {
		return nil, false, &models.NotFoundError{Resource: "booking", ID: bookingID.String()}
	}
	next, alreadyTerminal, err := models.ApplyEvent(b.Status, event)
	if err != nil {
		return nil, false, err
	}
	if alreadyTerminal {
		cp := *b
		return &cp, true, nil
	}
	from := b.Status
	b.Status = next
	b.Version++
	f.audits[bookingID] = append(f.audits[bookingID], models.BookingAudit{
		BookingID: bookingID, Seq: len(f.audits[bookingID]) + 1,
		FromStatus: from, ToStatus: next,
		Event: string(event), Actor: actor, Detail: detail,
	})
	cp := *b
	return &cp, false, nil
}

func (f *fakeBookingStore) AttachPaymentSession(_ context.Context, bookingID, sessionID uuid.UUID, provider string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[bookingID]
	if !ok {
		return &models.NotFoundError{Resource: "booking", ID: bookingID.String()}
	}
	b.PaymentSessionID = &sessionID
	b.PaymentProvider = &provider
	return nil
}

func (f *fakeBookingStore) ListAudits(_ context.Context, bookingID uuid.UUID) ([]models.BookingAudit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.BookingAudit(nil), f.audits[bookingID]...), nil
}

func (f *fakeBookingStore) ListConfirmedEnding(_ context.Context, asOf time.Time) ([]models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Booking
	for _, b := range f.bookings {
		if b.Status == models.BookingStatusConfirmed && !b.EndDate.After(asOf) {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (f *fakeBookingStore) ListPendingOlderThan(_ context.Context, cutoff time.Time) ([]models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Booking
	for _, b := range f.bookings {
		if b.Status == models.BookingStatusPending && !b.CreatedAt.After(cutoff) {
			out = append(out, *b)
		}
	}
	return out, nil
}

// fakeVehicleStore serves a fixed vehicle set
type fakeVehicleStore struct {
	vehicles map[uuid.UUID]*models.Vehicle
}

func newFakeVehicleStore(vs ...*models.Vehicle) *fakeVehicleStore {
	m := make(map[uuid.UUID]*models.Vehicle, len(vs))
	for _, v := range vs {
		m[v.ID] = v
	}
	return &fakeVehicleStore{vehicles: m}
}

func (f *fakeVehicleStore) GetByID(_ context.Context, id uuid.UUID) (*models.Vehicle, error) {
	v, ok := f.vehicles[id]
	if !ok {
		return nil, nil
	}
	cp := *v
	return &cp, nil
}

// fakeSessionStore is an in-memory SessionStore/SessionResolver
type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*models.PaymentSession
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[uuid.UUID]*models.PaymentSession)}
}

func (f *fakeSessionStore) Create(_ context.Context, s *models.PaymentSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.sessions {
		if existing.BookingID == s.BookingID && existing.Status == models.SessionStatusCreated {
			return database.ErrActiveSessionExists
		}
	}
	s.Status = models.SessionStatusCreated
	s.CreatedAt = time.Now()
	cp := *s
	f.sessions[s.ID] = &cp
	return nil
}

func (f *fakeSessionStore) GetActiveByBookingID(_ context.Context, bookingID uuid.UUID) (*models.PaymentSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.BookingID == bookingID && s.Status == models.SessionStatusCreated {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeSessionStore) GetByProviderSessionID(_ context.Context, provider, providerSessionID string) (*models.PaymentSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.Provider == provider && s.ProviderSessionID == providerSessionID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeSessionStore) UpdateStatus(_ context.Context, id uuid.UUID, from, to models.PaymentSessionStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok || s.Status != from {
		return false, nil
	}
	s.Status = to
	return true, nil
}

func (f *fakeSessionStore) status(id uuid.UUID) models.PaymentSessionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[id].Status
}

// fakeGateway scripts provider behavior per test
type fakeGateway struct {
	name        string
	openInfo    *payment.SessionInfo
	openErr     error
	result      *payment.Result
	resultErr   error
	callback    *payment.CallbackEvent
	callbackErr error
	openCalls   int
}

func (g *fakeGateway) Name() string { return g.name }

func (g *fakeGateway) OpenSession(context.Context, *models.Booking) (*payment.SessionInfo, error) {
	g.openCalls++
	return g.openInfo, g.openErr
}

func (g *fakeGateway) CaptureResult(context.Context, string) (*payment.Result, error) {
	return g.result, g.resultErr
}

func (g *fakeGateway) VerifyCallback(context.Context, []byte, http.Header) (*payment.CallbackEvent, error) {
	return g.callback, g.callbackErr
}

// recordingPublisher captures emitted events
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.BookingEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e events.BookingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}
