package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ms-seatsale/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
)

func TestNewStripeGatewayRequiresKey(t *testing.T) {
	_, err := NewStripeGateway(StripeConfig{}, logger.Discard())
	assert.ErrorIs(t, err, ErrStripeClientInitFailed)
}

func TestSessionStatus(t *testing.T) {
	tests := []struct {
		name string
		sess *stripe.CheckoutSession
		want Status
	}{
		{"open without intent", &stripe.CheckoutSession{Status: stripe.CheckoutSessionStatusOpen}, StatusPending},
		{"expired", &stripe.CheckoutSession{Status: stripe.CheckoutSessionStatusExpired}, StatusFailed},
		{"authorized", &stripe.CheckoutSession{PaymentIntent: &stripe.PaymentIntent{Status: stripe.PaymentIntentStatusRequiresCapture}}, StatusAuthorized},
		{"captured", &stripe.CheckoutSession{PaymentIntent: &stripe.PaymentIntent{Status: stripe.PaymentIntentStatusSucceeded}}, StatusCaptured},
		{"refunded", &stripe.CheckoutSession{PaymentIntent: &stripe.PaymentIntent{
			Status:       stripe.PaymentIntentStatusSucceeded,
			LatestCharge: &stripe.Charge{Refunded: true},
		}}, StatusRefunded},
		{"canceled", &stripe.CheckoutSession{PaymentIntent: &stripe.PaymentIntent{Status: stripe.PaymentIntentStatusCanceled}}, StatusFailed},
		{"processing", &stripe.CheckoutSession{PaymentIntent: &stripe.PaymentIntent{Status: stripe.PaymentIntentStatusProcessing}}, StatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sessionStatus(tt.sess))
		})
	}
}

func TestStripeRequestOrderCreatesManualCaptureSession(t *testing.T) {
	var form map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.example/cs_test_1"}`))
	}))
	defer srv.Close()

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	g, err := NewStripeGateway(StripeConfig{
		SecretKey:  "sk_test_123",
		SuccessURL: "https://shop.example/done",
		CancelURL:  "https://shop.example/cart",
		Backends:   &stripe.Backends{API: backend, Connect: backend, Uploads: backend},
	}, logger.Discard())
	require.NoError(t, err)

	resp, err := g.RequestOrder(context.Background(), OrderRequest{
		Main:     MainInfo{UserID: 7, SubtotalAmount: 6000, TotalAmount: 5400},
		HoldInfo: HoldInfo{Date: "2026-05-10", DayOrNight: "Day"},
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", resp.ChargeID)
	assert.Equal(t, "https://checkout.example/cs_test_1", resp.RedirectURL)
	assert.Equal(t, []string{"manual"}, form["payment_intent_data[capture_method]"])
	assert.Equal(t, []string{"5400"}, form["line_items[0][price_data][unit_amount]"])
	assert.Equal(t, []string{"jpy"}, form["line_items[0][price_data][currency]"])
}

func TestStripeErrClassification(t *testing.T) {
	apiErr := &stripe.Error{HTTPStatusCode: http.StatusBadRequest, Msg: "bad"}
	err := stripeErr("get checkout session", apiErr)
	assert.ErrorIs(t, err, ErrGateway)
	var se *stripe.Error
	assert.True(t, errors.As(err, &se))

	err = stripeErr("get checkout session", context.DeadlineExceeded)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrGateway)
}

func TestStripeSessionTimeoutIsNotGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	g, err := NewStripeGateway(StripeConfig{
		SecretKey: "sk_test_123",
		Backends:  &stripe.Backends{API: backend, Connect: backend, Uploads: backend},
	}, logger.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = g.ChargeStatus(ctx, "cs_test_1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrGateway)
	assert.NotErrorIs(t, err, ErrChargeNotFound)
}
