package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-seatsale/internal/models"
	"ms-seatsale/internal/validation"

	"github.com/uptrace/bun"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict means a compare-and-swap update matched fewer rows than expected.
	ErrConflict = errors.New("concurrent update conflict")
)

type DB struct {
	Bun *bun.DB
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// ---------------- SELECTION ----------------

// ResolveTickets loads tickets with their seat sale, area and seat type
// (including options). Unknown ids are absent from the map.
func (d *DB) ResolveTickets(ctx context.Context, ids []int64) (map[int64]*models.Ticket, error) {
	out := make(map[int64]*models.Ticket, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var tickets []*models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Relation("SeatSale.HoldDailySchedule.Hold").
		Relation("SeatArea").
		Relation("SeatType").
		Where("?TableAlias.id IN (?)", bun.In(ids)).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tickets: %w", err)
	}

	typeIDs := make([]int64, 0, len(tickets))
	for _, t := range tickets {
		if t.SeatType != nil {
			typeIDs = append(typeIDs, t.SeatType.ID)
		}
	}
	var options []*models.SeatTypeOption
	if len(typeIDs) > 0 {
		err = d.Bun.NewSelect().
			Model(&options).
			Where("seat_type_id IN (?)", bun.In(typeIDs)).
			Order("id ASC").
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load seat type options: %w", err)
		}
	}

	for _, t := range tickets {
		if t.SeatType != nil {
			for _, o := range options {
				if o.SeatTypeID == t.SeatType.ID {
					t.SeatType.Options = append(t.SeatType.Options, o)
				}
			}
		}
		out[t.ID] = t
	}
	return out, nil
}

// UnitTicketIDs lists the tickets of a seat unit within one seat sale.
func (d *DB) UnitTicketIDs(ctx context.Context, seatSaleID, seatUnitID int64) ([]int64, error) {
	var ids []int64
	err := d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Column("id").
		Where("seat_sale_id = ?", seatSaleID).
		Where("seat_unit_id = ?", seatUnitID).
		Order("id ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load unit tickets: %w", err)
	}
	return ids, nil
}

// CouponFacts gathers what the validation chain needs about a coupon.
func (d *DB) CouponFacts(ctx context.Context, couponID, userID int64) (validation.CouponFacts, error) {
	var facts validation.CouponFacts

	coupon := new(models.Coupon)
	err := d.Bun.NewSelect().Model(coupon).Where("id = ?", couponID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return facts, nil
	}
	if err != nil {
		return facts, fmt.Errorf("failed to load coupon: %w", err)
	}
	facts.Coupon = coupon

	facts.OwnedByUser, err = d.Bun.NewSelect().
		Model((*models.UserCoupon)(nil)).
		Where("coupon_id = ?", couponID).
		Where("user_id = ?", userID).
		Exists(ctx)
	if err != nil {
		return facts, fmt.Errorf("failed to check coupon ownership: %w", err)
	}

	facts.UsedByUser, err = d.Bun.NewSelect().
		TableExpr("coupon_usages AS cu").
		Join("JOIN orders AS o ON o.id = cu.order_id").
		Where("cu.coupon_id = ?", couponID).
		Where("cu.user_id = ?", userID).
		Where("o.returned_at IS NULL").
		Exists(ctx)
	if err != nil {
		return facts, fmt.Errorf("failed to check coupon usage: %w", err)
	}
	return facts, nil
}

// CampaignFacts gathers what the validation chain needs about a campaign code.
func (d *DB) CampaignFacts(ctx context.Context, code string, userID int64) (validation.CampaignFacts, error) {
	var facts validation.CampaignFacts

	campaign := new(models.Campaign)
	err := d.Bun.NewSelect().Model(campaign).Where("code = ?", code).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return facts, nil
	}
	if err != nil {
		return facts, fmt.Errorf("failed to load campaign: %w", err)
	}
	facts.Campaign = campaign

	facts.UserHasCapturedOrder, err = d.Bun.NewSelect().
		TableExpr("campaign_usages AS cu").
		Join("JOIN orders AS o ON o.id = cu.order_id").
		Join("JOIN payments AS p ON p.id = o.payment_id").
		Where("cu.campaign_id = ?", campaign.ID).
		Where("cu.user_id = ?", userID).
		Where("p.payment_progress = ?", models.PaymentCaptured).
		Where("o.returned_at IS NULL").
		Exists(ctx)
	if err != nil {
		return facts, fmt.Errorf("failed to check campaign usage: %w", err)
	}

	var users int
	err = d.Bun.NewSelect().
		TableExpr("campaign_usages AS cu").
		ColumnExpr("COUNT(DISTINCT cu.user_id)").
		Join("JOIN orders AS o ON o.id = cu.order_id").
		Where("cu.campaign_id = ?", campaign.ID).
		Where("cu.user_id <> ?", userID).
		Where("o.returned_at IS NULL").
		Scan(ctx, &users)
	if err != nil {
		return facts, fmt.Errorf("failed to count campaign users: %w", err)
	}
	facts.DistinctUsers = users
	return facts, nil
}

// ---------------- ORDERS ----------------

// Purchase is everything written when a payment request is accepted.
type Purchase struct {
	Order      *models.Order
	Reserves   []*models.TicketReserve
	CampaignID int64
	ChargeID   string
}

// CreatePurchase writes the order, its ticket reserves, the campaign usage and
// the payment in one transaction.
func (d *DB) CreatePurchase(ctx context.Context, p *Purchase) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		now := p.Order.OrderedAt

		if _, err := tx.NewInsert().Model(p.Order).Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert order: %w", err)
		}

		for _, r := range p.Reserves {
			r.OrderID = p.Order.ID
			r.CreatedAt = now
		}
		if len(p.Reserves) > 0 {
			if _, err := tx.NewInsert().Model(&p.Reserves).Exec(ctx); err != nil {
				return fmt.Errorf("failed to insert ticket reserves: %w", err)
			}
		}

		if p.CampaignID != 0 {
			usage := &models.CampaignUsage{
				CampaignID: p.CampaignID,
				UserID:     p.Order.UserID,
				OrderID:    p.Order.ID,
				CreatedAt:  now,
			}
			if _, err := tx.NewInsert().Model(usage).Exec(ctx); err != nil {
				return fmt.Errorf("failed to insert campaign usage: %w", err)
			}
			p.Order.CampaignUsageID = usage.ID
		}

		payment := &models.Payment{
			ChargeID:        p.ChargeID,
			PaymentProgress: models.PaymentRequesting,
			CreatedAt:       now,
		}
		if _, err := tx.NewInsert().Model(payment).Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert payment: %w", err)
		}
		p.Order.PaymentID = payment.ID
		p.Order.Payment = payment

		_, err := tx.NewUpdate().
			Model(p.Order).
			Column("payment_id", "campaign_usage_id").
			WherePK().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to link payment: %w", err)
		}
		p.Order.TicketReserves = p.Reserves
		return nil
	})
}

func (d *DB) loadOrder(ctx context.Context, q *bun.SelectQuery) (*models.Order, error) {
	order := new(models.Order)
	err := q.Model(order).
		Relation("Payment").
		Relation("TicketReserves", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("id ASC")
		}).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return order, nil
}

// OrderByID loads an order with its payment and ticket reserves.
func (d *DB) OrderByID(ctx context.Context, id int64) (*models.Order, error) {
	return d.loadOrder(ctx, d.Bun.NewSelect().Where("?TableAlias.id = ?", id))
}

// OrderByChargeID finds the order paid by chargeID.
func (d *DB) OrderByChargeID(ctx context.Context, chargeID string) (*models.Order, error) {
	return d.loadOrder(ctx, d.Bun.NewSelect().Where("payment.charge_id = ?", chargeID))
}

// ---------------- CAPTURE ----------------

func (d *DB) setProgress(ctx context.Context, db bun.IDB, paymentID int64, from, to models.PaymentProgress) error {
	res, err := db.NewUpdate().
		Model((*models.Payment)(nil)).
		Set("payment_progress = ?", to).
		Where("id = ?", paymentID).
		Where("payment_progress = ?", from).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to move payment to %s: %w", to, err)
	}
	return expectRows(res, 1)
}

func expectRows(res sql.Result, want int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != want {
		return fmt.Errorf("%w: %d of %d rows updated", ErrConflict, n, want)
	}
	return nil
}

// MarkWaitingCapture moves a requested payment to waiting_capture.
func (d *DB) MarkWaitingCapture(ctx context.Context, paymentID int64) error {
	return d.setProgress(ctx, d.Bun, paymentID, models.PaymentRequesting, models.PaymentWaitingCapture)
}

// HoldTickets puts every ticket in temporary_hold for userID. It only succeeds
// when every ticket is still available and unowned.
func (d *DB) HoldTickets(ctx context.Context, ticketIDs []int64, userID int64, until time.Time) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.Ticket)(nil)).
			Set("status = ?", models.TicketTemporaryHold).
			Set("hold_user_id = ?", userID).
			Set("hold_expires_at = ?", until).
			Set("updated_at = ?", time.Now().UTC()).
			Where("id IN (?)", bun.In(ticketIDs)).
			Where("status = ?", models.TicketAvailable).
			Where("user_id IS NULL").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to hold tickets: %w", err)
		}
		return expectRows(res, int64(len(ticketIDs)))
	})
}

// FinalizeCapture marks the payment captured and hands every reserved ticket
// to the buyer with its admission code.
func (d *DB) FinalizeCapture(ctx context.Context, order *models.Order, codes map[int64]string, now time.Time) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.Payment)(nil)).
			Set("payment_progress = ?", models.PaymentCaptured).
			Set("captured_at = ?", now).
			Where("id = ?", order.PaymentID).
			Where("payment_progress = ?", models.PaymentWaitingCapture).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to capture payment: %w", err)
		}
		if err := expectRows(res, 1); err != nil {
			return err
		}

		for _, r := range order.TicketReserves {
			res, err := tx.NewUpdate().
				Model((*models.Ticket)(nil)).
				Set("status = ?", models.TicketSold).
				Set("user_id = ?", order.UserID).
				Set("qr_ticket_id = ?", codes[r.TicketID]).
				Set("purchase_ticket_reserve_id = ?", r.ID).
				Set("current_ticket_reserve_id = ?", r.ID).
				Set("hold_user_id = NULL").
				Set("hold_expires_at = NULL").
				Set("updated_at = ?", now).
				Where("id = ?", r.TicketID).
				Where("status = ?", models.TicketTemporaryHold).
				Where("hold_user_id = ?", order.UserID).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to sell ticket %d: %w", r.TicketID, err)
			}
			if err := expectRows(res, 1); err != nil {
				return err
			}
		}

		if order.CouponID != 0 {
			usage := &models.CouponUsage{
				CouponID: order.CouponID,
				UserID:   order.UserID,
				OrderID:  order.ID,
				UsedAt:   now,
			}
			if _, err := tx.NewInsert().Model(usage).Exec(ctx); err != nil {
				return fmt.Errorf("failed to insert coupon usage: %w", err)
			}
			order.CouponUsageID = usage.ID
			_, err := tx.NewUpdate().Model(order).Column("coupon_usage_id").WherePK().Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to link coupon usage: %w", err)
			}
		}
		return nil
	})
}

// ---------------- COMPENSATION & REFUND ----------------

// FailCapture moves the payment to failed_capture and returns the order's
// tickets still held by the buyer to sale. It returns the released ticket ids.
func (d *DB) FailCapture(ctx context.Context, order *models.Order) ([]int64, error) {
	var released []int64
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewUpdate().
			Model((*models.Payment)(nil)).
			Set("payment_progress = ?", models.PaymentFailedCapture).
			Where("id = ?", order.PaymentID).
			Where("payment_progress IN (?)", bun.In([]models.PaymentProgress{models.PaymentRequesting, models.PaymentWaitingCapture})).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to mark capture failure: %w", err)
		}

		ids := reserveTicketIDs(order)
		if len(ids) == 0 {
			return nil
		}
		err = tx.NewSelect().
			Model((*models.Ticket)(nil)).
			Column("id").
			Where("id IN (?)", bun.In(ids)).
			Where("status = ?", models.TicketTemporaryHold).
			Where("hold_user_id = ?", order.UserID).
			Scan(ctx, &released)
		if err != nil {
			return fmt.Errorf("failed to find held tickets: %w", err)
		}
		if len(released) == 0 {
			return nil
		}
		_, err = tx.NewUpdate().
			Model((*models.Ticket)(nil)).
			Set("status = ?", models.TicketAvailable).
			Set("hold_user_id = NULL").
			Set("hold_expires_at = NULL").
			Set("updated_at = ?", time.Now().UTC()).
			Where("id IN (?)", bun.In(released)).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to release tickets: %w", err)
		}
		return nil
	})
	return released, err
}

// MarkRefunded records a refund confirmed by the gateway: payment refunded,
// order returned.
func (d *DB) MarkRefunded(ctx context.Context, order *models.Order, now time.Time) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewUpdate().
			Model((*models.Payment)(nil)).
			Set("payment_progress = ?", models.PaymentRefunded).
			Set("refunded_at = COALESCE(refunded_at, ?)", now).
			Set("gateway_refunded_at = ?", now).
			Where("id = ?", order.PaymentID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to mark payment refunded: %w", err)
		}
		_, err = tx.NewUpdate().
			Model((*models.Order)(nil)).
			Set("returned_at = COALESCE(returned_at, ?)", now).
			Where("id = ?", order.ID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to mark order returned: %w", err)
		}
		return nil
	})
}

// RefundOrder is the local half of an administrative refund. Tickets the order
// still owns go to not_for_sale with every ownership link cleared. It reports
// applied=false when the order had already been refunded.
func (d *DB) RefundOrder(ctx context.Context, orderID int64, now time.Time) (order *models.Order, applied bool, err error) {
	err = d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		order = new(models.Order)
		err := tx.NewSelect().
			Model(order).
			Relation("Payment").
			Relation("TicketReserves").
			Where("?TableAlias.id = ?", orderID).
			Scan(ctx)
		if err != nil {
			return notFound(err)
		}
		if order.Returned() && order.Payment != nil && order.Payment.PaymentProgress == models.PaymentRefunded {
			return nil
		}

		reserveIDs := make([]int64, 0, len(order.TicketReserves))
		for _, r := range order.TicketReserves {
			reserveIDs = append(reserveIDs, r.ID)
		}
		if len(reserveIDs) > 0 {
			_, err = tx.NewUpdate().
				Model((*models.Ticket)(nil)).
				Set("status = ?", models.TicketNotForSale).
				Set("user_id = NULL").
				Set("qr_ticket_id = NULL").
				Set("seat_unit_id = NULL").
				Set("purchase_ticket_reserve_id = NULL").
				Set("current_ticket_reserve_id = NULL").
				Set("hold_user_id = NULL").
				Set("hold_expires_at = NULL").
				Set("updated_at = ?", now).
				Where("current_ticket_reserve_id IN (?)", bun.In(reserveIDs)).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to clear ticket ownership: %w", err)
			}
		}

		_, err = tx.NewUpdate().
			Model((*models.Payment)(nil)).
			Set("payment_progress = ?", models.PaymentRefunded).
			Set("refunded_at = ?", now).
			Where("id = ?", order.PaymentID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to mark payment refunded: %w", err)
		}
		_, err = tx.NewUpdate().
			Model((*models.Order)(nil)).
			Set("returned_at = ?", now).
			Where("id = ?", order.ID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to mark order returned: %w", err)
		}

		order.ReturnedAt = now
		if order.Payment != nil {
			order.Payment.PaymentProgress = models.PaymentRefunded
			order.Payment.RefundedAt = now
		}
		applied = true
		return nil
	})
	return order, applied, err
}

// ConfirmGatewayRefund records that the gateway accepted the refund.
func (d *DB) ConfirmGatewayRefund(ctx context.Context, paymentID int64, now time.Time) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Payment)(nil)).
		Set("gateway_refunded_at = ?", now).
		Where("id = ?", paymentID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to confirm gateway refund: %w", err)
	}
	return nil
}

// ---------------- RECONCILIATION ----------------

// UnconfirmedRefunds lists orders whose money may still sit at the gateway:
// refunded locally or failed during capture, with no confirmed gateway refund.
func (d *DB) UnconfirmedRefunds(ctx context.Context, limit int) ([]*models.Order, error) {
	var orders []*models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Relation("Payment").
		Where("payment.payment_progress IN (?)", bun.In([]models.PaymentProgress{models.PaymentRefunded, models.PaymentFailedCapture})).
		Where("payment.gateway_refunded_at IS NULL").
		OrderExpr("?TableAlias.id ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list unconfirmed refunds: %w", err)
	}
	return orders, nil
}

// StaleRequests lists orders whose payment has been in flight since before
// cutoff: requested but never completed, or stuck while capturing.
func (d *DB) StaleRequests(ctx context.Context, cutoff time.Time, limit int) ([]*models.Order, error) {
	var orders []*models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Relation("Payment").
		Relation("TicketReserves").
		Where("payment.payment_progress IN (?)", bun.In([]models.PaymentProgress{models.PaymentRequesting, models.PaymentWaitingCapture})).
		Where("payment.created_at < ?", cutoff).
		OrderExpr("?TableAlias.id ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale requests: %w", err)
	}
	return orders, nil
}

// ---------------- TICKETS ----------------

func (d *DB) TicketByID(ctx context.Context, id int64) (*models.Ticket, error) {
	ticket := new(models.Ticket)
	err := d.Bun.NewSelect().
		Model(ticket).
		Relation("SeatSale.HoldDailySchedule.Hold").
		Relation("SeatArea").
		Relation("SeatType").
		Where("?TableAlias.id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return ticket, nil
}

func reserveTicketIDs(order *models.Order) []int64 {
	ids := make([]int64, 0, len(order.TicketReserves))
	for _, r := range order.TicketReserves {
		ids = append(ids, r.TicketID)
	}
	return ids
}
