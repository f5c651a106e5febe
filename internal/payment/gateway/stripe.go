package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"ms-seatsale/internal/logger"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

var ErrStripeClientInitFailed = errors.New("failed to initialize Stripe client")

// StripeGateway runs each charge as a Checkout Session whose payment intent
// uses manual capture. The session id is the charge id.
type StripeGateway struct {
	client     *client.API
	log        *logger.Logger
	successURL string
	cancelURL  string
	currency   string
}

type StripeConfig struct {
	SecretKey  string
	SuccessURL string
	CancelURL  string
	Currency   string
	// Backends overrides the Stripe API endpoint, used by tests.
	Backends *stripe.Backends
}

func NewStripeGateway(cfg StripeConfig, log *logger.Logger) (*StripeGateway, error) {
	if cfg.SecretKey == "" {
		log.Error("STRIPE", "STRIPE_SECRET_KEY environment variable not set")
		return nil, ErrStripeClientInitFailed
	}

	sc := client.New(cfg.SecretKey, cfg.Backends)
	if sc == nil {
		return nil, ErrStripeClientInitFailed
	}

	currency := cfg.Currency
	if currency == "" {
		currency = string(stripe.CurrencyJPY)
	}

	log.Info("STRIPE", "Stripe client initialized successfully")
	return &StripeGateway{
		client:     sc,
		log:        log,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		currency:   currency,
	}, nil
}

func (g *StripeGateway) RequestOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	name := fmt.Sprintf("%d seats %s %s", len(req.SeatsInfo), req.HoldInfo.Date, req.HoldInfo.DayOrNight)

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(g.successURL),
		CancelURL:         stripe.String(g.cancelURL),
		ClientReferenceID: stripe.String(strconv.FormatInt(req.Main.UserID, 10)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(g.currency),
				UnitAmount: stripe.Int64(req.Main.TotalAmount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(name),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		},
	}
	params.Context = ctx
	params.AddMetadata("user_id", strconv.FormatInt(req.Main.UserID, 10))
	params.AddMetadata("subtotal", strconv.FormatInt(req.Main.SubtotalAmount, 10))
	params.AddMetadata("season", req.HoldInfo.Season)
	params.AddMetadata("round", req.HoldInfo.Round)

	sess, err := g.client.CheckoutSessions.New(params)
	if err != nil {
		g.log.Error("STRIPE", fmt.Sprintf("Failed to create checkout session: %v", err))
		return nil, stripeErr("create checkout session", err)
	}

	g.log.LogPayment("REQUEST", sess.ID, fmt.Sprintf("checkout session for %d %s", req.Main.TotalAmount, g.currency))
	return &OrderResponse{ChargeID: sess.ID, RedirectURL: sess.URL}, nil
}

// stripeErr marks API answers as ErrGateway. Transport failures and
// timeouts are wrapped without it.
func stripeErr(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		return fmt.Errorf("%w: %s: %w", ErrGateway, op, err)
	}
	return fmt.Errorf("stripe %s: %w", op, err)
}

func (g *StripeGateway) session(ctx context.Context, chargeID string) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")
	sess, err := g.client.CheckoutSessions.Get(chargeID, params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.HTTPStatusCode == 404 {
			return nil, ErrChargeNotFound
		}
		return nil, stripeErr("get checkout session", err)
	}
	return sess, nil
}

func (g *StripeGateway) ChargeStatus(ctx context.Context, chargeID string) (Status, error) {
	sess, err := g.session(ctx, chargeID)
	if err != nil {
		return "", err
	}
	return sessionStatus(sess), nil
}

// sessionStatus maps a session and its payment intent onto Status.
func sessionStatus(sess *stripe.CheckoutSession) Status {
	if sess.Status == stripe.CheckoutSessionStatusExpired {
		return StatusFailed
	}
	pi := sess.PaymentIntent
	if pi == nil {
		return StatusPending
	}
	switch pi.Status {
	case stripe.PaymentIntentStatusRequiresCapture:
		return StatusAuthorized
	case stripe.PaymentIntentStatusSucceeded:
		if pi.LatestCharge != nil && pi.LatestCharge.Refunded {
			return StatusRefunded
		}
		return StatusCaptured
	case stripe.PaymentIntentStatusCanceled:
		return StatusFailed
	default:
		return StatusPending
	}
}

func (g *StripeGateway) Capture(ctx context.Context, chargeID string) (Status, error) {
	sess, err := g.session(ctx, chargeID)
	if err != nil {
		return "", err
	}
	if status := sessionStatus(sess); status != StatusAuthorized {
		return status, nil
	}

	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	params.SetIdempotencyKey("capture-" + chargeID)
	pi, err := g.client.PaymentIntents.Capture(sess.PaymentIntent.ID, params)
	if err != nil {
		g.log.Error("STRIPE", fmt.Sprintf("Failed to capture %s: %v", chargeID, err))
		return StatusFailed, nil
	}
	g.log.LogPayment("CAPTURE", chargeID, string(pi.Status))
	if pi.Status == stripe.PaymentIntentStatusSucceeded {
		return StatusCaptured, nil
	}
	return StatusFailed, nil
}

// Refund cancels an uncaptured intent, refunds a captured one, and expires a
// session that never produced an intent.
func (g *StripeGateway) Refund(ctx context.Context, chargeID string) (bool, error) {
	sess, err := g.session(ctx, chargeID)
	if err != nil {
		return false, err
	}

	pi := sess.PaymentIntent
	if pi == nil {
		if sess.Status == stripe.CheckoutSessionStatusOpen {
			params := &stripe.CheckoutSessionExpireParams{}
			params.Context = ctx
			if _, err := g.client.CheckoutSessions.Expire(chargeID, params); err != nil {
				return false, stripeErr("expire checkout session", err)
			}
		}
		g.log.LogPayment("REFUND", chargeID, "no payment intent, nothing to refund")
		return true, nil
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusCanceled:
		return true, nil
	case stripe.PaymentIntentStatusSucceeded:
		params := &stripe.RefundParams{PaymentIntent: stripe.String(pi.ID)}
		params.Context = ctx
		params.SetIdempotencyKey("refund-" + chargeID)
		if _, err := g.client.Refunds.New(params); err != nil {
			var se *stripe.Error
			if errors.As(err, &se) && se.Code == stripe.ErrorCodeChargeAlreadyRefunded {
				return true, nil
			}
			g.log.Error("STRIPE", fmt.Sprintf("Refund of %s failed: %v", chargeID, err))
			return false, nil
		}
	default:
		params := &stripe.PaymentIntentCancelParams{}
		params.Context = ctx
		if _, err := g.client.PaymentIntents.Cancel(pi.ID, params); err != nil {
			g.log.Error("STRIPE", fmt.Sprintf("Cancel of %s failed: %v", chargeID, err))
			return false, nil
		}
	}

	g.log.LogPayment("REFUND", chargeID, "refunded")
	return true, nil
}
