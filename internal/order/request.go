package order

import (
	"context"
	"fmt"
	"time"

	"ms-seatsale/internal/models"
	"ms-seatsale/internal/order/db"
	"ms-seatsale/internal/payment/gateway"
	"ms-seatsale/internal/validation"
)

// Request starts a purchase of the user's held cart. Precondition failures
// come back as a Rejected outcome so the caller can keep the customer on the
// checkout page. On success the outcome carries the gateway redirect target.
func (t *PaymentTransactor) Request(ctx context.Context, userID int64) (Outcome, error) {
	sel, code, err := t.preconditions(ctx, userID, validation.DecisionNone)
	if err != nil {
		t.logger.Error("ORDER", fmt.Sprintf("request by user %d: precondition check failed: %v", userID, err))
		return failed(Unexpected, validation.OK, err)
	}
	if code != validation.OK {
		t.logger.LogReservation("REJECTED", userID, string(code))
		return rejected(code), nil
	}

	price := sel.pricing()
	if price.Total <= 0 {
		// gateways cannot charge nothing; a fully discounted cart is not sold here
		t.logger.LogReservation("REJECTED", userID, "zero total")
		return rejected(validation.InvalidOrder), nil
	}
	resp, err := t.gateway.RequestOrder(ctx, t.gatewayRequest(userID, sel, price))
	if err != nil {
		t.logger.Error("PAYMENT", fmt.Sprintf("request by user %d: gateway refused: %v", userID, err))
		return failed(Unexpected, validation.OK, fmt.Errorf("payment request failed: %w", err))
	}

	purchase := t.purchase(userID, sel, price, resp.ChargeID)
	if err := t.db.CreatePurchase(ctx, purchase); err != nil {
		t.logger.Error("ORDER", fmt.Sprintf("request by user %d: order not stored: %v", userID, err))
		// nothing was captured; void the charge so it cannot be completed later
		if _, rerr := t.gateway.Refund(context.WithoutCancel(ctx), resp.ChargeID); rerr != nil {
			t.logger.LogPayment("VOID_FAILED", resp.ChargeID, rerr.Error())
		}
		return failed(Unexpected, validation.OK, err)
	}
	orderID := purchase.Order.ID
	t.logger.LogOrder("REQUESTED", orderID, fmt.Sprintf("user %d, charge %s, total %d", userID, resp.ChargeID, price.Total))

	// RequestCompleted falls back to the payments table when the index misses.
	if err := t.charges.Put(ctx, resp.ChargeID, orderID); err != nil {
		t.logger.Warn("ORDER", fmt.Sprintf("charge index put failed for %s: %v", resp.ChargeID, err))
	}
	if err := t.reservations.ExtendOwnership(ctx, userID, sel.cart.TicketIDs(), t.holdTTL); err != nil {
		t.logger.Warn("RESERVATION", fmt.Sprintf("hold extension for user %d failed: %v", userID, err))
	}
	if err := t.reservations.StashChargeID(ctx, userID, resp.ChargeID); err != nil {
		t.logger.Error("RESERVATION", fmt.Sprintf("charge id not stashed for user %d: %v", userID, err))
		return failed(Unexpected, validation.OK, err)
	}

	return Outcome{
		Kind:        Succeeded,
		OrderID:     orderID,
		ChargeID:    resp.ChargeID,
		RedirectURL: resp.RedirectURL,
	}, nil
}

func (t *PaymentTransactor) purchase(userID int64, sel *selection, price Pricing, chargeID string) *db.Purchase {
	now := t.now()
	first := sel.first()

	order := &models.Order{
		UserID:           userID,
		SeatSaleID:       first.SeatSaleID,
		OrderType:        models.OrderPurchase,
		Subtotal:         price.Subtotal,
		CouponDiscount:   price.CouponDiscount,
		CampaignDiscount: price.CampaignDiscount,
		OptionDiscount:   price.OptionDiscount,
		Total:            price.Total,
		CouponID:         sel.cart.CouponID,
		OrderedAt:        now,
	}
	reserves := make([]*models.TicketReserve, 0, len(price.Lines))
	for _, l := range price.Lines {
		reserves = append(reserves, &models.TicketReserve{
			TicketID:         l.TicketID,
			SeatTypeOptionID: l.OptionID,
			Price:            l.Price,
			OptionDiscount:   l.OptionDiscount,
		})
	}

	p := &db.Purchase{Order: order, Reserves: reserves, ChargeID: chargeID}
	if sel.campaign.Campaign != nil {
		p.CampaignID = sel.campaign.Campaign.ID
	}
	return p
}

// gatewayRequest builds the payment initiation body. Everything beyond the
// money breakdown is descriptive.
func (t *PaymentTransactor) gatewayRequest(userID int64, sel *selection, price Pricing) gateway.OrderRequest {
	req := gateway.OrderRequest{
		Main: gateway.MainInfo{
			UserID:           userID,
			SubtotalAmount:   price.Subtotal,
			CampaignDiscount: price.CampaignDiscount,
			CouponDiscount:   price.CouponDiscount,
			OptionDiscount:   price.OptionDiscount,
			TotalAmount:      price.Total,
		},
		SeatsInfo: make([]gateway.SeatInfo, 0, len(price.Lines)),
	}

	for _, l := range price.Lines {
		tk := sel.tickets[l.TicketID]
		seat := gateway.SeatInfo{TicketID: l.TicketID, SeatName: tk.SeatLabel(), Price: l.Price}
		if tk.SeatArea != nil {
			seat.SeatArea = tk.SeatArea.Name
		}
		if tk.SeatType != nil {
			seat.SeatType = tk.SeatType.Name
			if o := tk.SeatType.Option(l.OptionID); o != nil {
				seat.OptionTitle = o.Title
			}
		}
		req.SeatsInfo = append(req.SeatsInfo, seat)
	}

	first := sel.first()
	if first.SeatSale == nil || first.SeatSale.HoldDailySchedule == nil {
		return req
	}
	sched := first.SeatSale.HoldDailySchedule
	req.HoldInfo = gateway.HoldInfo{
		Date:          sched.EventDate.Format("2006-01-02"),
		DayOrNight:    t.display.Session(sched.DayOrNight),
		OpenVenueTime: hhmm(sched.OpeningAt),
		StartShowTime: hhmm(sched.StartAt),
	}
	if h := sched.Hold; h != nil {
		req.HoldInfo.Season = t.display.Season(h.SeasonCode)
		req.HoldInfo.Round = t.display.Round(h.RoundCode)
		req.HoldInfo.GameType = t.display.GameType(h.GameTypeCode)
	}
	return req
}

func hhmm(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("15:04")
}
