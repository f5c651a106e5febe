package order

import (
	"context"
	"errors"
	"fmt"

	"ms-seatsale/internal/models"
	"ms-seatsale/internal/notification"
	"ms-seatsale/internal/order/db"
	"ms-seatsale/internal/payment/gateway"
	"ms-seatsale/internal/validation"
)

var (
	ErrPaymentNotFound = errors.New("payment not found for charge")
	ErrRefundDeclined  = errors.New("gateway declined refund")
)

// completion is one RequestCompleted attempt. owned is cleared when the
// attempt loses the payment to a concurrent one, which then owns cleanup.
type completion struct {
	*PaymentTransactor
	order    *models.Order
	userID   int64
	chargeID string
	owned    bool
}

// RequestCompleted confirms a purchase when the gateway sends the customer
// back. Every failure after the payment has been resolved runs compensation
// before returning, so no ticket stays held and no charge stays collected for
// a purchase that did not complete. Replaying a completed charge returns the
// original success.
func (t *PaymentTransactor) RequestCompleted(ctx context.Context, userID int64, chargeID string) (out Outcome, err error) {
	order, err := t.orderForCharge(ctx, chargeID)
	if errors.Is(err, db.ErrNotFound) {
		t.logger.Critical("PAYMENT", fmt.Sprintf("completion for unknown charge %s by user %d", chargeID, userID))
		return failed(Fatal, validation.OK, fmt.Errorf("%w: %s", ErrPaymentNotFound, chargeID))
	}
	if err != nil {
		t.logger.Error("PAYMENT", fmt.Sprintf("resolving charge %s failed: %v", chargeID, err))
		return failed(Unexpected, validation.OK, err)
	}
	if order.UserID != userID {
		t.logger.LogSecurity("CHARGE_OWNER_MISMATCH", fmt.Sprintf("user %d completed charge %s of order %d", userID, chargeID, order.ID))
		return rejected(validation.InvalidOrder), nil
	}

	switch order.Payment.PaymentProgress {
	case models.PaymentCaptured:
		return Outcome{Kind: Succeeded, OrderID: order.ID, ChargeID: chargeID}, nil
	case models.PaymentFailedCapture, models.PaymentRefunded:
		return recoverable(validation.CaptureFailed, order.ID, chargeID), nil
	case models.PaymentWaitingCapture:
		t.logger.Warn("PAYMENT", fmt.Sprintf("charge %s is already being captured", chargeID))
		return recoverable(validation.InvalidOrder, order.ID, chargeID), nil
	}

	c := &completion{PaymentTransactor: t, order: order, userID: userID, chargeID: chargeID, owned: true}
	defer func() {
		if r := recover(); r != nil {
			t.logger.Critical("PAYMENT", fmt.Sprintf("charge %s: panic during completion: %v", chargeID, r))
			t.compensate(context.WithoutCancel(ctx), order, "panic")
			panic(r)
		}
		if out.Kind != Succeeded && c.owned {
			t.compensate(context.WithoutCancel(ctx), order, out.Kind.String())
		}
	}()

	out, err = c.run(ctx)
	out.OrderID = order.ID
	out.ChargeID = chargeID
	return out, err
}

func (t *PaymentTransactor) orderForCharge(ctx context.Context, chargeID string) (*models.Order, error) {
	orderID, found, err := t.charges.OrderID(ctx, chargeID)
	if err != nil {
		t.logger.Warn("PAYMENT", fmt.Sprintf("charge index lookup for %s failed: %v", chargeID, err))
	}
	if found {
		order, err := t.db.OrderByID(ctx, orderID)
		if err == nil && order.Payment != nil && order.Payment.ChargeID == chargeID {
			// keep the entry alive while the gateway is still calling back
			if err := t.charges.Touch(ctx, chargeID); err != nil {
				t.logger.Warn("PAYMENT", fmt.Sprintf("charge index refresh for %s failed: %v", chargeID, err))
			}
			return order, nil
		}
	}
	order, err := t.db.OrderByChargeID(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	if order.Payment == nil {
		return nil, db.ErrNotFound
	}
	t.logger.LogDatabase("FALLBACK", "payments", fmt.Sprintf("charge %s resolved without the index", chargeID))
	return order, nil
}

func (c *completion) run(ctx context.Context) (Outcome, error) {
	sel, code, err := c.preconditions(ctx, c.userID, validation.DecisionRequestCompleted)
	if err != nil {
		c.logger.Error("PAYMENT", fmt.Sprintf("charge %s: precondition check failed: %v", c.chargeID, err))
		return failed(Unexpected, validation.OK, err)
	}
	if code != validation.OK {
		c.logger.Critical("PAYMENT", fmt.Sprintf("charge %s: cart no longer valid: %s", c.chargeID, code))
		return rejected(code), nil
	}
	same, err := c.matches(ctx, sel)
	if err != nil {
		return failed(Unexpected, validation.OK, err)
	}
	if !same {
		c.logger.Critical("PAYMENT", fmt.Sprintf("charge %s: cart changed since the payment request", c.chargeID))
		return rejected(validation.InvalidOrder), nil
	}

	if err := c.db.MarkWaitingCapture(ctx, c.order.PaymentID); err != nil {
		if errors.Is(err, db.ErrConflict) {
			c.owned = false
			c.logger.Warn("PAYMENT", fmt.Sprintf("charge %s: captured by a concurrent completion", c.chargeID))
			return recoverable(validation.InvalidOrder, 0, ""), nil
		}
		return failed(Unexpected, validation.OK, err)
	}
	c.order.Payment.PaymentProgress = models.PaymentWaitingCapture

	// from here on an unclassified failure may leave money and tickets apart
	err = c.db.HoldTickets(ctx, reserveTicketIDs(c.order), c.userID, c.now().Add(c.holdTTL))
	if errors.Is(err, db.ErrConflict) {
		c.logger.LogOrder("HOLD_LOST", c.order.ID, "a ticket was taken before it could be held")
		return recoverable(validation.TicketNotAvailable, 0, ""), nil
	}
	if err != nil {
		c.logger.Critical("ORDER", fmt.Sprintf("order %d: holding tickets failed: %v", c.order.ID, err))
		return failed(Fatal, validation.OK, err)
	}

	status, err := c.capture(ctx)
	if err != nil {
		if errors.Is(err, gateway.ErrGateway) || errors.Is(err, gateway.ErrChargeNotFound) {
			c.logger.LogPayment("CAPTURE_FAILED", c.chargeID, err.Error())
			return recoverable(validation.CaptureFailed, 0, ""), nil
		}
		c.logger.Critical("PAYMENT", fmt.Sprintf("charge %s: capture errored: %v", c.chargeID, err))
		return failed(Fatal, validation.OK, err)
	}
	if status != gateway.StatusCaptured {
		c.logger.LogPayment("CAPTURE_FAILED", c.chargeID, "gateway status "+string(status))
		return recoverable(validation.CaptureFailed, 0, ""), nil
	}

	codes := make(map[int64]string, len(c.order.TicketReserves))
	for _, r := range c.order.TicketReserves {
		qr, err := c.admission.Issue()
		if err != nil {
			c.logger.Critical("ORDER", fmt.Sprintf("order %d: admission code failed: %v", c.order.ID, err))
			return failed(Fatal, validation.OK, err)
		}
		codes[r.TicketID] = qr
	}
	now := c.now()
	if err := c.db.FinalizeCapture(ctx, c.order, codes, now); err != nil {
		c.logger.Critical("ORDER", fmt.Sprintf("order %d: charge %s captured but not finalized: %v", c.order.ID, c.chargeID, err))
		return failed(Fatal, validation.OK, err)
	}
	c.logger.LogOrder("CAPTURED", c.order.ID, fmt.Sprintf("charge %s, %d tickets sold", c.chargeID, len(codes)))

	ev := notification.PurchaseCompleted{
		OrderID:    c.order.ID,
		UserID:     c.userID,
		ChargeID:   c.chargeID,
		Total:      c.order.Total,
		CapturedAt: now,
	}
	for _, r := range c.order.TicketReserves {
		ev.TicketIDs = append(ev.TicketIDs, r.TicketID)
		ev.QRTicketIDs = append(ev.QRTicketIDs, codes[r.TicketID])
	}
	c.notify("purchase completed", func(ctx context.Context) error {
		return c.notifier.PurchaseCompleted(ctx, ev)
	})

	if err := c.reservations.Clear(ctx, c.userID); err != nil {
		c.logger.Warn("RESERVATION", fmt.Sprintf("cart of user %d not cleared: %v", c.userID, err))
	}
	return Outcome{Kind: Succeeded}, nil
}

// capture asks the gateway where the charge stands and captures it when it
// is only authorized.
func (c *completion) capture(ctx context.Context) (gateway.Status, error) {
	status, err := c.gateway.ChargeStatus(ctx, c.chargeID)
	if err != nil {
		return "", err
	}
	if status == gateway.StatusAuthorized {
		return c.gateway.Capture(ctx, c.chargeID)
	}
	return status, nil
}

// matches reports whether the live cart is the one the order was created
// from: same tickets with the same options, same coupon, same campaign use
// and the same in-flight charge.
func (c *completion) matches(ctx context.Context, sel *selection) (bool, error) {
	stashed, err := c.reservations.ChargeID(ctx, c.userID)
	if err != nil {
		return false, err
	}
	if stashed != c.chargeID {
		return false, nil
	}
	if sel.cart.CouponID != c.order.CouponID {
		return false, nil
	}
	if (sel.campaign.Campaign != nil) != (c.order.CampaignUsageID != 0) {
		return false, nil
	}

	if len(sel.cart.Lines) != len(c.order.TicketReserves) {
		return false, nil
	}
	reserved := make(map[int64]int64, len(c.order.TicketReserves))
	for _, r := range c.order.TicketReserves {
		reserved[r.TicketID] = r.SeatTypeOptionID
	}
	for _, l := range sel.cart.Lines {
		option, ok := reserved[l.TicketID]
		if !ok || option != l.OptionID {
			return false, nil
		}
		delete(reserved, l.TicketID)
	}
	return true, nil
}

// compensate undoes a purchase that will not complete: the payment fails,
// tickets the buyer still holds go back on sale and the charge is refunded.
// The refund is idempotent at the gateway, so it is issued whether or not
// the money was collected. A refund the gateway does not confirm is left for
// the reconciliation job.
func (t *PaymentTransactor) compensate(ctx context.Context, order *models.Order, reason string) {
	chargeID := order.Payment.ChargeID
	t.logger.LogOrder("COMPENSATE", order.ID, fmt.Sprintf("charge %s: %s", chargeID, reason))

	released, err := t.db.FailCapture(ctx, order)
	if err != nil {
		t.logger.Critical("ORDER", fmt.Sprintf("order %d: releasing tickets failed: %v", order.ID, err))
	}
	if len(released) > 0 {
		ev := notification.SeatsReleased{OrderID: order.ID, TicketIDs: released, Reason: reason, ReleasedAt: t.now()}
		t.notify("seats released", func(ctx context.Context) error {
			return t.notifier.SeatsReleased(ctx, ev)
		})
	}
	if stashed, err := t.reservations.ChargeID(ctx, order.UserID); err == nil && stashed == chargeID {
		if err := t.reservations.ClearChargeID(ctx, order.UserID); err != nil {
			t.logger.Warn("RESERVATION", fmt.Sprintf("charge id of user %d not cleared: %v", order.UserID, err))
		}
	}

	ok, err := t.gateway.Refund(ctx, chargeID)
	if err != nil || !ok {
		t.logger.Critical("PAYMENT", fmt.Sprintf("charge %s: refund not confirmed (ok=%t, err=%v)", chargeID, ok, err))
		return
	}
	if err := t.db.MarkRefunded(ctx, order, t.now()); err != nil {
		t.logger.Critical("ORDER", fmt.Sprintf("order %d: refund not recorded: %v", order.ID, err))
		return
	}
	t.logger.LogPayment("REFUNDED", chargeID, fmt.Sprintf("order %d returned", order.ID))
}

func reserveTicketIDs(order *models.Order) []int64 {
	ids := make([]int64, 0, len(order.TicketReserves))
	for _, r := range order.TicketReserves {
		ids = append(ids, r.TicketID)
	}
	return ids
}
