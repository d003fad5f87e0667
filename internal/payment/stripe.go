package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/driveshare/reservation-backend/internal/config"
	"github.com/driveshare/reservation-backend/internal/models"
	"github.com/driveshare/reservation-backend/internal/pricing"
)

// signatureTolerance is how old a webhook timestamp may be before the
// delivery is rejected as a possible replay
const signatureTolerance = 5 * time.Minute

// StripeGateway integrates Stripe Checkout. Webhook authenticity is an HMAC
// over the raw body, verified locally against the endpoint's signing secret.
type StripeGateway struct {
	config  *config.StripeConfig
	logger  *logrus.Logger
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	now     func() time.Time
}

// stripeSession is the subset of a Checkout Session response we read
type stripeSession struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	Status        string `json:"status"`         // open, complete, expired
	PaymentStatus string `json:"payment_status"` // paid, unpaid, no_payment_required
	AmountTotal   int64  `json:"amount_total"`
	Currency      string `json:"currency"`
}

// stripeEvent is the webhook envelope
type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object stripeSession `json:"object"`
	} `json:"data"`
}

// NewStripeGateway creates a new Stripe gateway adapter
func NewStripeGateway(cfg *config.StripeConfig, logger *logrus.Logger) *StripeGateway {
	return &StripeGateway{
		config:  cfg,
		logger:  logger,
		client:  &http.Client{Timeout: requestTimeout},
		breaker: newBreaker("stripe", logger),
		now:     time.Now,
	}
}

// Name returns the provider id
func (g *StripeGateway) Name() string { return "stripe" }

// OpenSession creates a Checkout Session for the booking total and returns
// the hosted payment page URL
func (g *StripeGateway) OpenSession(ctx context.Context, booking *models.Booking) (*SessionInfo, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("client_reference_id", booking.ID.String())
	form.Set("success_url", g.config.SuccessURL)
	form.Set("cancel_url", g.config.CancelURL)
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", strings.ToLower(booking.Currency))
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(booking.TotalAmountCents, 10))
	form.Set("line_items[0][price_data][product_data][name]",
		fmt.Sprintf("Vehicle rental %s..%s",
			booking.StartDate.Format(models.DateLayout),
			booking.EndDate.Format(models.DateLayout)))
	form.Set("metadata[booking_id]", booking.ID.String())

	var session stripeSession
	if err := g.do(ctx, http.MethodPost, "/v1/checkout/sessions", strings.NewReader(form.Encode()), &session); err != nil {
		return nil, err
	}

	g.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"session_id": session.ID,
		"amount":     pricing.FormatAmount(booking.TotalAmountCents),
		"currency":   booking.Currency,
	}).Info("Stripe checkout session opened")

	return &SessionInfo{ProviderSessionID: session.ID, RedirectURL: session.URL}, nil
}

// CaptureResult queries the session's current payment status
func (g *StripeGateway) CaptureResult(ctx context.Context, providerSessionID string) (*Result, error) {
	var session stripeSession
	path := "/v1/checkout/sessions/" + url.PathEscape(providerSessionID)
	if err := g.do(ctx, http.MethodGet, path, nil, &session); err != nil {
		return nil, err
	}
	return &Result{
		Status:      g.mapSession(&session),
		AmountCents: session.AmountTotal,
		Currency:    strings.ToUpper(session.Currency),
	}, nil
}

// VerifyCallback checks the Stripe-Signature header (t=...,v1=... HMAC over
// "timestamp.body") and normalizes the event. Verification is local; ctx is
// unused.
func (g *StripeGateway) VerifyCallback(_ context.Context, body []byte, headers http.Header) (*CallbackEvent, error) {
	header := headers.Get("Stripe-Signature")
	if header == "" {
		return nil, fmt.Errorf("%w: missing Stripe-Signature header", models.ErrInvalidSignature)
	}

	timestamp, signatures, err := parseSignatureHeader(header)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidSignature, err)
	}

	age := g.now().Sub(time.Unix(timestamp, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return nil, fmt.Errorf("%w: timestamp outside tolerance", models.ErrInvalidSignature)
	}

	expected := computeSignature(g.config.SigningSecret, timestamp, body)
	verified := false
	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			verified = true
			break
		}
	}
	if !verified {
		return nil, fmt.Errorf("%w: no matching v1 signature", models.ErrInvalidSignature)
	}

	var event stripeEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: malformed event payload: %v", models.ErrInvalidSignature, err)
	}

	return &CallbackEvent{
		EventID:           event.ID,
		ProviderSessionID: event.Data.Object.ID,
		Status:            g.mapEvent(&event),
		AmountCents:       event.Data.Object.AmountTotal,
		Currency:          strings.ToUpper(event.Data.Object.Currency),
	}, nil
}

func (g *StripeGateway) mapEvent(event *stripeEvent) ResultStatus {
	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		if event.Data.Object.PaymentStatus == "paid" {
			return ResultCaptured
		}
		return ResultPending
	case "checkout.session.async_payment_failed":
		return ResultDenied
	case "checkout.session.expired":
		return ResultExpired
	default:
		return ResultPending
	}
}

func (g *StripeGateway) mapSession(session *stripeSession) ResultStatus {
	switch {
	case session.PaymentStatus == "paid":
		return ResultCaptured
	case session.Status == "expired":
		return ResultExpired
	default:
		return ResultPending
	}
}

// do runs one breaker-guarded API call and decodes the JSON response
func (g *StripeGateway) do(ctx context.Context, method, path string, body io.Reader, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, g.config.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build stripe request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.config.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	respBody, err := g.roundTrip(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &models.ProviderError{
			Kind:     models.ProviderUnavailable,
			Provider: "stripe",
			Err:      fmt.Errorf("failed to parse response: %w", err),
		}
	}
	return nil
}

func (g *StripeGateway) roundTrip(req *http.Request) ([]byte, error) {
	result, err := g.breaker.Execute(func() (interface{}, error) {
		resp, err := g.client.Do(req)
		if err != nil {
			return nil, classifyTransportError("stripe", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, classifyTransportError("stripe", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, classifyHTTPStatus("stripe", resp.StatusCode,
				fmt.Errorf("stripe returned status %d: %s", resp.StatusCode, truncate(respBody, 256)))
		}
		return respBody, nil
	})
	if err != nil {
		var provErr *models.ProviderError
		if errors.As(err, &provErr) {
			return nil, provErr
		}
		// breaker-level error (open circuit), not an inner provider error
		return nil, classifyTransportError("stripe", err)
	}
	return result.([]byte), nil
}

// parseSignatureHeader splits "t=1492774577,v1=abc,v1=def" into the
// timestamp and candidate signatures
func parseSignatureHeader(header string) (int64, []string, error) {
	var timestamp int64 = -1
	var signatures []string
	for _, pair := range strings.Split(header, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) != 2 {
			continue
		}
		switch parts[0] {
		case "t":
			ts, err := strconv.ParseInt(parts[1], 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("bad timestamp: %v", err)
			}
			timestamp = ts
		case "v1":
			signatures = append(signatures, parts[1])
		}
	}
	if timestamp < 0 || len(signatures) == 0 {
		return 0, nil, fmt.Errorf("header missing t or v1 elements")
	}
	return timestamp, signatures, nil
}

// computeSignature is the HMAC-SHA256 of "timestamp.body" keyed by the
// endpoint signing secret
func computeSignature(secret string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
