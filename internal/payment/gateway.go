// Package payment normalizes external payment providers behind one Gateway
// interface. Providers translate their own wire formats and failure modes
// into the shared session/result types and the ProviderError taxonomy; they
// never decide booking state.
package payment

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/driveshare/reservation-backend/internal/models"
)

// ResultStatus is the provider-neutral outcome of a payment session
type ResultStatus string

const (
	ResultPending  ResultStatus = "pending"  // payer has not finished
	ResultCaptured ResultStatus = "captured" // funds captured
	ResultDenied   ResultStatus = "denied"   // provider denied the payment
	ResultExpired  ResultStatus = "expired"  // session expired unused
)

// SessionInfo is returned when a checkout session is opened with a provider
type SessionInfo struct {
	ProviderSessionID string
	RedirectURL       string
}

// Result is the provider's answer to a session status query
type Result struct {
	Status      ResultStatus
	AmountCents int64
	Currency    string
}

// CallbackEvent is a verified, normalized webhook payload
type CallbackEvent struct {
	EventID           string
	ProviderSessionID string
	Status            ResultStatus
	AmountCents       int64
	Currency          string
}

// Gateway is the normalized interface over heterogeneous payment providers
type Gateway interface {
	Name() string
	OpenSession(ctx context.Context, booking *models.Booking) (*SessionInfo, error)
	CaptureResult(ctx context.Context, providerSessionID string) (*Result, error)
	// VerifyCallback authenticates a raw webhook delivery and normalizes it.
	// Implementations that verify against a remote key set must honor ctx.
	VerifyCallback(ctx context.Context, body []byte, headers http.Header) (*CallbackEvent, error)
}

// Registry resolves gateways by provider id
type Registry struct {
	gateways map[string]Gateway
}

// NewRegistry builds a registry from the configured gateways
func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway, len(gateways))}
	for _, gw := range gateways {
		r.gateways[gw.Name()] = gw
	}
	return r
}

// Get returns the gateway for the provider id
func (r *Registry) Get(name string) (Gateway, error) {
	gw, ok := r.gateways[name]
	if !ok {
		return nil, models.ErrUnknownProvider
	}
	return gw, nil
}

// Names lists the registered provider ids
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	return names
}

// requestTimeout bounds every provider round trip
const requestTimeout = 10 * time.Second

// newBreaker builds the circuit breaker wrapped around a provider's HTTP
// calls. Client-side (4xx) provider answers count as successes: the circuit
// only opens on transport failures and 5xx.
func newBreaker(name string, logger *logrus.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(
		gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     10 * time.Second,
			Interval:    0,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 2
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.WithFields(logrus.Fields{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				}).Warn("Payment provider circuit breaker state changed")
			},
			IsSuccessful: func(err error) bool {
				if err == nil {
					return true
				}
				var provErr *models.ProviderError
				return errors.As(err, &provErr) && provErr.Kind == models.ProviderRejected
			},
		},
	)
}

// classifyTransportError maps transport-level failures into the taxonomy
func classifyTransportError(provider string, err error) *models.ProviderError {
	kind := models.ProviderUnavailable
	if errors.Is(err, context.DeadlineExceeded) {
		kind = models.ProviderTimeout
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		kind = models.ProviderUnavailable
	}
	return &models.ProviderError{Kind: kind, Provider: provider, Err: err}
}

// classifyHTTPStatus maps a non-2xx provider response into the taxonomy
func classifyHTTPStatus(provider string, status int, err error) *models.ProviderError {
	kind := models.ProviderRejected
	if status >= 500 || status == http.StatusTooManyRequests {
		kind = models.ProviderUnavailable
	}
	return &models.ProviderError{Kind: kind, Provider: provider, Err: err}
}
