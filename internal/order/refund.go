package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-seatsale/internal/models"
	"ms-seatsale/internal/order/db"
	"ms-seatsale/internal/validation"
)

// Refund returns an order on an operator's request. The local side commits
// first: tickets leave the buyer and go to not_for_sale, the payment is
// refunded and the order returned. The gateway refund follows; when it fails
// the local state stays and the error is returned, leaving the payment for
// ReconcileRefunds. Refunding an already refunded order changes no ticket and
// only retries a gateway refund that was never confirmed.
func (t *PaymentTransactor) Refund(ctx context.Context, orderID int64) (Outcome, error) {
	order, applied, err := t.db.RefundOrder(ctx, orderID, t.now())
	if errors.Is(err, db.ErrNotFound) {
		return rejected(validation.NoOrder), nil
	}
	if err != nil {
		t.logger.Error("ORDER", fmt.Sprintf("refund of order %d failed: %v", orderID, err))
		return failed(Unexpected, validation.OK, err)
	}
	if order.Payment == nil {
		return failed(Unexpected, validation.OK, fmt.Errorf("order %d has no payment", orderID))
	}

	out := Outcome{Kind: Succeeded, OrderID: order.ID, ChargeID: order.Payment.ChargeID}
	if applied {
		t.logger.LogOrder("REFUNDED", order.ID, "tickets withdrawn, order returned")
	} else if order.Payment.RefundConfirmed() {
		t.logger.LogOrder("REFUND_REPLAY", order.ID, "already refunded")
		return out, nil
	}

	if err := t.refundAtGateway(ctx, order); err != nil {
		t.logger.Error("PAYMENT", fmt.Sprintf("order %d refunded locally, gateway refund failed: %v", order.ID, err))
		out.Kind = Fatal
		return out, &SagaError{Kind: Fatal, Err: err}
	}
	return out, nil
}

func (t *PaymentTransactor) refundAtGateway(ctx context.Context, order *models.Order) error {
	chargeID := order.Payment.ChargeID
	ok, err := t.gateway.Refund(ctx, chargeID)
	if err != nil {
		return fmt.Errorf("refund of charge %s: %w", chargeID, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrRefundDeclined, chargeID)
	}
	if err := t.db.ConfirmGatewayRefund(ctx, order.PaymentID, t.now()); err != nil {
		return err
	}
	t.logger.LogPayment("REFUND_CONFIRMED", chargeID, fmt.Sprintf("order %d", order.ID))
	return nil
}

// ReconcileRefunds retries gateway refunds that were never confirmed, both for
// operator refunds and for compensated purchases. It returns how many
// refunds were confirmed.
func (t *PaymentTransactor) ReconcileRefunds(ctx context.Context, limit int) (int, error) {
	orders, err := t.db.UnconfirmedRefunds(ctx, limit)
	if err != nil {
		return 0, err
	}

	var errs []error
	confirmed := 0
	for _, order := range orders {
		ok, err := t.gateway.Refund(ctx, order.Payment.ChargeID)
		if err == nil && !ok {
			err = fmt.Errorf("%w: %s", ErrRefundDeclined, order.Payment.ChargeID)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("order %d: %w", order.ID, err))
			continue
		}
		if err := t.db.MarkRefunded(ctx, order, t.now()); err != nil {
			errs = append(errs, fmt.Errorf("order %d: %w", order.ID, err))
			continue
		}
		confirmed++
		t.logger.LogPayment("RECONCILED", order.Payment.ChargeID, fmt.Sprintf("order %d refund confirmed", order.ID))
	}
	return confirmed, errors.Join(errs...)
}

// ExpireStale compensates purchases whose payment has been in flight for
// longer than maxAge: the customer never came back from the gateway, or the
// completion died midway.
func (t *PaymentTransactor) ExpireStale(ctx context.Context, maxAge time.Duration, limit int) (int, error) {
	orders, err := t.db.StaleRequests(ctx, t.now().Add(-maxAge), limit)
	if err != nil {
		return 0, err
	}
	for _, order := range orders {
		t.compensate(ctx, order, "expired")
	}
	return len(orders), nil
}
