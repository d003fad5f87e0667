package payment

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driveshare/reservation-backend/internal/config"
	"github.com/driveshare/reservation-backend/internal/models"
)

const testSigningSecret = "whsec_test_secret"

func newStripeGateway() *StripeGateway {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	gw := NewStripeGateway(&config.StripeConfig{
		APIKey:        "sk_test_key",
		SigningSecret: testSigningSecret,
		BaseURL:       "https://api.stripe.invalid",
		SuccessURL:    "https://app.example.com/pay/success",
		CancelURL:     "https://app.example.com/pay/cancel",
	}, logger)
	gw.now = func() time.Time { return time.Unix(1750000000, 0) }
	return gw
}

func signedHeaders(timestamp int64, body []byte) http.Header {
	headers := http.Header{}
	headers.Set("Stripe-Signature",
		fmt.Sprintf("t=%d,v1=%s", timestamp, computeSignature(testSigningSecret, timestamp, body)))
	return headers
}

func TestStripeVerifyCallback(t *testing.T) {
	body := []byte(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_42",
			"status": "complete",
			"payment_status": "paid",
			"amount_total": 30000,
			"currency": "usd"
		}}
	}`)

	t.Run("Valid Signature Accepted", func(t *testing.T) {
		gw := newStripeGateway()
		event, err := gw.VerifyCallback(context.Background(), body, signedHeaders(1750000000, body))
		require.NoError(t, err)
		assert.Equal(t, "evt_1", event.EventID)
		assert.Equal(t, "cs_42", event.ProviderSessionID)
		assert.Equal(t, ResultCaptured, event.Status)
		assert.Equal(t, int64(30000), event.AmountCents)
		assert.Equal(t, "USD", event.Currency)
	})

	t.Run("Second v1 Candidate Accepted", func(t *testing.T) {
		gw := newStripeGateway()
		headers := http.Header{}
		headers.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s,v1=%s",
			1750000000, "deadbeef", computeSignature(testSigningSecret, 1750000000, body)))
		_, err := gw.VerifyCallback(context.Background(), body, headers)
		assert.NoError(t, err)
	})

	t.Run("Missing Header Rejected", func(t *testing.T) {
		gw := newStripeGateway()
		_, err := gw.VerifyCallback(context.Background(), body, http.Header{})
		assert.ErrorIs(t, err, models.ErrInvalidSignature)
	})

	t.Run("Wrong Secret Rejected", func(t *testing.T) {
		gw := newStripeGateway()
		headers := http.Header{}
		headers.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s",
			1750000000, computeSignature("whsec_other", 1750000000, body)))
		_, err := gw.VerifyCallback(context.Background(), body, headers)
		assert.ErrorIs(t, err, models.ErrInvalidSignature)
	})

	t.Run("Tampered Body Rejected", func(t *testing.T) {
		gw := newStripeGateway()
		headers := signedHeaders(1750000000, body)
		tampered := append([]byte(nil), body...)
		tampered[len(tampered)-2] = ' '
		_, err := gw.VerifyCallback(context.Background(), tampered, headers)
		assert.ErrorIs(t, err, models.ErrInvalidSignature)
	})

	t.Run("Stale Timestamp Rejected", func(t *testing.T) {
		gw := newStripeGateway()
		stale := int64(1750000000 - 600)
		_, err := gw.VerifyCallback(context.Background(), body, signedHeaders(stale, body))
		assert.ErrorIs(t, err, models.ErrInvalidSignature)
	})

	t.Run("Malformed Header Rejected", func(t *testing.T) {
		gw := newStripeGateway()
		headers := http.Header{}
		headers.Set("Stripe-Signature", "v1=abc")
		_, err := gw.VerifyCallback(context.Background(), body, headers)
		assert.ErrorIs(t, err, models.ErrInvalidSignature)
	})
}

func TestStripeEventMapping(t *testing.T) {
	gw := newStripeGateway()

	cases := []struct {
		eventType     string
		paymentStatus string
		want          ResultStatus
	}{
		{"checkout.session.completed", "paid", ResultCaptured},
		{"checkout.session.completed", "unpaid", ResultPending},
		{"checkout.session.async_payment_succeeded", "paid", ResultCaptured},
		{"checkout.session.async_payment_failed", "unpaid", ResultDenied},
		{"checkout.session.expired", "unpaid", ResultExpired},
		{"payment_intent.created", "unpaid", ResultPending},
	}

	for _, tc := range cases {
		t.Run(tc.eventType+" "+tc.paymentStatus, func(t *testing.T) {
			event := &stripeEvent{Type: tc.eventType}
			event.Data.Object.PaymentStatus = tc.paymentStatus
			assert.Equal(t, tc.want, gw.mapEvent(event))
		})
	}
}

func TestStripeSessionMapping(t *testing.T) {
	gw := newStripeGateway()

	assert.Equal(t, ResultCaptured, gw.mapSession(&stripeSession{Status: "complete", PaymentStatus: "paid"}))
	assert.Equal(t, ResultExpired, gw.mapSession(&stripeSession{Status: "expired", PaymentStatus: "unpaid"}))
	assert.Equal(t, ResultPending, gw.mapSession(&stripeSession{Status: "open", PaymentStatus: "unpaid"}))
}
