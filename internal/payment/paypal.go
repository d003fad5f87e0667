package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/driveshare/reservation-backend/internal/config"
	"github.com/driveshare/reservation-backend/internal/models"
	"github.com/driveshare/reservation-backend/internal/pricing"
)

// tokenExpirySlack is subtracted from the provider-reported token lifetime
// so a cached token is never used right at its expiry edge
const tokenExpirySlack = 60 * time.Second

// PayPalGateway integrates the PayPal Orders API. Unlike Stripe, webhook
// authenticity cannot be checked locally: verification is a call to PayPal's
// verify-webhook-signature endpoint, bounded by the request timeout.
type PayPalGateway struct {
	config  *config.PayPalConfig
	logger  *logrus.Logger
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	tokens  *TokenCache
}

type paypalTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalOrder struct {
	ID            string `json:"id"`
	Status        string `json:"status"` // CREATED, APPROVED, COMPLETED, VOIDED
	PurchaseUnits []struct {
		ReferenceID string       `json:"reference_id"`
		Amount      paypalAmount `json:"amount"`
	} `json:"purchase_units"`
	Links []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
}

type paypalWebhookEvent struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID     string       `json:"id"`
		Status string       `json:"status"`
		Amount paypalAmount `json:"amount"`

		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	} `json:"resource"`
}

// NewPayPalGateway creates a new PayPal gateway adapter
func NewPayPalGateway(cfg *config.PayPalConfig, tokens *TokenCache, logger *logrus.Logger) *PayPalGateway {
	return &PayPalGateway{
		config:  cfg,
		logger:  logger,
		client:  &http.Client{Timeout: requestTimeout},
		breaker: newBreaker("paypal", logger),
		tokens:  tokens,
	}
}

// Name returns the provider id
func (g *PayPalGateway) Name() string { return "paypal" }

// OpenSession creates a CAPTURE-intent order and returns the payer approval URL
func (g *PayPalGateway) OpenSession(ctx context.Context, booking *models.Booking) (*SessionInfo, error) {
	payload := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{{
			"reference_id": booking.ID.String(),
			"amount": paypalAmount{
				CurrencyCode: strings.ToUpper(booking.Currency),
				Value:        pricing.FormatAmount(booking.TotalAmountCents),
			},
		}},
		"application_context": map[string]string{
			"return_url": g.config.ReturnURL,
		},
	}

	var order paypalOrder
	if err := g.do(ctx, http.MethodPost, "/v2/checkout/orders", payload, &order); err != nil {
		return nil, err
	}

	approveURL := ""
	for _, link := range order.Links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			approveURL = link.Href
			break
		}
	}
	if approveURL == "" {
		return nil, &models.ProviderError{
			Kind:     models.ProviderUnavailable,
			Provider: "paypal",
			Err:      fmt.Errorf("order %s has no approval link", order.ID),
		}
	}

	g.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"order_id":   order.ID,
		"amount":     pricing.FormatAmount(booking.TotalAmountCents),
	}).Info("PayPal order opened")

	return &SessionInfo{ProviderSessionID: order.ID, RedirectURL: approveURL}, nil
}

// CaptureResult queries the order's current status
func (g *PayPalGateway) CaptureResult(ctx context.Context, providerSessionID string) (*Result, error) {
	var order paypalOrder
	path := "/v2/checkout/orders/" + url.PathEscape(providerSessionID)
	if err := g.do(ctx, http.MethodGet, path, nil, &order); err != nil {
		return nil, err
	}

	result := &Result{Status: g.mapOrderStatus(order.Status)}
	if len(order.PurchaseUnits) > 0 {
		amount := order.PurchaseUnits[0].Amount
		cents, err := pricing.ParseAmount(amount.Value)
		if err == nil {
			result.AmountCents = cents
		}
		result.Currency = amount.CurrencyCode
	}
	return result, nil
}

// VerifyCallback authenticates the delivery against PayPal's
// verify-webhook-signature endpoint and normalizes the event
func (g *PayPalGateway) VerifyCallback(ctx context.Context, body []byte, headers http.Header) (*CallbackEvent, error) {
	verification := map[string]interface{}{
		"auth_algo":         headers.Get("Paypal-Auth-Algo"),
		"cert_url":          headers.Get("Paypal-Cert-Url"),
		"transmission_id":   headers.Get("Paypal-Transmission-Id"),
		"transmission_sig":  headers.Get("Paypal-Transmission-Sig"),
		"transmission_time": headers.Get("Paypal-Transmission-Time"),
		"webhook_id":        g.config.WebhookID,
		"webhook_event":     json.RawMessage(body),
	}

	var verifyResp struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := g.do(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", verification, &verifyResp); err != nil {
		// A provider rejection of the verification request means the
		// delivery is not authentic; transport failures stay retryable.
		var provErr *models.ProviderError
		if errors.As(err, &provErr) && provErr.Kind == models.ProviderRejected {
			return nil, fmt.Errorf("%w: verification rejected: %v", models.ErrInvalidSignature, err)
		}
		return nil, err
	}
	if verifyResp.VerificationStatus != "SUCCESS" {
		return nil, fmt.Errorf("%w: verification status %s", models.ErrInvalidSignature, verifyResp.VerificationStatus)
	}

	var event paypalWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: malformed event payload: %v", models.ErrInvalidSignature, err)
	}

	callback := &CallbackEvent{
		EventID:           event.ID,
		ProviderSessionID: event.Resource.ID,
		Status:            g.mapEventType(event.EventType),
	}
	// Capture events reference the order through supplementary data
	if orderID := event.Resource.SupplementaryData.RelatedIDs.OrderID; orderID != "" {
		callback.ProviderSessionID = orderID
	}
	if cents, err := pricing.ParseAmount(event.Resource.Amount.Value); err == nil {
		callback.AmountCents = cents
	}
	callback.Currency = event.Resource.Amount.CurrencyCode

	return callback, nil
}

func (g *PayPalGateway) mapEventType(eventType string) ResultStatus {
	switch eventType {
	case "PAYMENT.CAPTURE.COMPLETED", "CHECKOUT.ORDER.COMPLETED":
		return ResultCaptured
	case "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.DECLINED":
		return ResultDenied
	case "CHECKOUT.ORDER.VOIDED":
		return ResultExpired
	default:
		return ResultPending
	}
}

func (g *PayPalGateway) mapOrderStatus(status string) ResultStatus {
	switch status {
	case "COMPLETED":
		return ResultCaptured
	case "VOIDED":
		return ResultExpired
	default:
		return ResultPending
	}
}

// accessToken returns a cached OAuth token or mints a new one via the
// client-credentials grant
func (g *PayPalGateway) accessToken(ctx context.Context) (string, error) {
	if token, ok := g.tokens.Get(ctx); ok {
		return token, nil
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.config.BaseURL+"/v1/oauth2/token",
		strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.SetBasicAuth(g.config.ClientID, g.config.Secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	respBody, err := g.roundTrip(req)
	if err != nil {
		return "", err
	}

	var tokenResp paypalTokenResponse
	if err := json.Unmarshal(respBody, &tokenResp); err != nil {
		return "", &models.ProviderError{
			Kind:     models.ProviderUnavailable,
			Provider: "paypal",
			Err:      fmt.Errorf("failed to parse token response: %w", err),
		}
	}
	if tokenResp.AccessToken == "" {
		return "", &models.ProviderError{
			Kind:     models.ProviderRejected,
			Provider: "paypal",
			Err:      fmt.Errorf("empty access token"),
		}
	}

	ttl := time.Duration(tokenResp.ExpiresIn)*time.Second - tokenExpirySlack
	g.tokens.Put(ctx, tokenResp.AccessToken, ttl)

	return tokenResp.AccessToken, nil
}

// do runs one authenticated, breaker-guarded API call
func (g *PayPalGateway) do(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	token, err := g.accessToken(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal paypal request: %w", err)
		}
		body = bytes.NewReader(jsonBody)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, g.config.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build paypal request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	respBody, err := g.roundTrip(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &models.ProviderError{
			Kind:     models.ProviderUnavailable,
			Provider: "paypal",
			Err:      fmt.Errorf("failed to parse response: %w", err),
		}
	}
	return nil
}

func (g *PayPalGateway) roundTrip(req *http.Request) ([]byte, error) {
	result, err := g.breaker.Execute(func() (interface{}, error) {
		resp, err := g.client.Do(req)
		if err != nil {
			return nil, classifyTransportError("paypal", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, classifyTransportError("paypal", err)
		}
		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			return nil, classifyHTTPStatus("paypal", resp.StatusCode,
				fmt.Errorf("paypal returned status %d: %s", resp.StatusCode, truncate(respBody, 256)))
		}
		return respBody, nil
	})
	if err != nil {
		var provErr *models.ProviderError
		if errors.As(err, &provErr) {
			return nil, provErr
		}
		return nil, classifyTransportError("paypal", err)
	}
	return result.([]byte), nil
}
