package order

import (
	"context"
	"fmt"

	"ms-seatsale/internal/models"
	"ms-seatsale/internal/validation"
)

// selection is a cart resolved against the database, ready for the chain and pricing.
type selection struct {
	cart     *models.Cart
	tickets  map[int64]*models.Ticket
	coupon   validation.CouponFacts
	campaign validation.CampaignFacts
	// unitIDs is the full ticket set of the first ticket's seat unit.
	unitIDs []int64
}

func (s *selection) first() *models.Ticket {
	if s.cart.Empty() {
		return nil
	}
	return s.tickets[s.cart.Lines[0].TicketID]
}

func (s *selection) pricing() Pricing {
	var couponRate, campaignRate int64
	if s.coupon.Coupon != nil {
		couponRate = s.coupon.Coupon.DiscountRate
	}
	if s.campaign.Campaign != nil {
		campaignRate = s.campaign.Campaign.DiscountRate
	}
	return Price(s.cart.Lines, s.tickets, couponRate, campaignRate)
}

// preconditions checks the cart the way both saga steps do: it must be
// non-empty, still held by the user, and pass the validation chain. A
// violated precondition is returned as a code, never as an error.
func (t *PaymentTransactor) preconditions(ctx context.Context, userID int64, decision validation.Decision) (*selection, validation.Code, error) {
	cart, err := t.reservations.Selection(ctx, userID)
	if err != nil {
		return nil, validation.OK, err
	}
	if cart.Empty() {
		return nil, validation.NoOrder, nil
	}

	held, err := t.reservations.RecheckOwnership(ctx, userID, cart.TicketIDs())
	if err != nil {
		return nil, validation.OK, err
	}
	if !held {
		return nil, validation.OwnershipError, nil
	}

	sel, err := t.resolve(ctx, userID, cart)
	if err != nil {
		return nil, validation.OK, err
	}

	code := validation.Evaluate(validation.Input{
		Lines:         cart.Lines,
		Tickets:       sel.tickets,
		UnitTicketIDs: sel.unitIDs,
		CouponID:      cart.CouponID,
		Coupon:        sel.coupon,
		CampaignCode:  cart.CampaignCode,
		Campaign:      sel.campaign,
		UserID:        userID,
		Decision:      decision,
		Now:           t.now(),
		PurchaseLimit: t.purchaseLimit,
	})
	return sel, code, nil
}

func (t *PaymentTransactor) resolve(ctx context.Context, userID int64, cart *models.Cart) (*selection, error) {
	tickets, err := t.db.ResolveTickets(ctx, cart.TicketIDs())
	if err != nil {
		return nil, err
	}
	r := &selection{cart: cart, tickets: tickets}

	if first := r.first(); first != nil && first.SalesType == models.SalesUnit && first.SeatUnitID != 0 {
		r.unitIDs, err = t.db.UnitTicketIDs(ctx, first.SeatSaleID, first.SeatUnitID)
		if err != nil {
			return nil, err
		}
	}
	if cart.CouponID != 0 {
		r.coupon, err = t.db.CouponFacts(ctx, cart.CouponID, userID)
		if err != nil {
			return nil, err
		}
	}
	if cart.CampaignCode != "" {
		r.campaign, err = t.db.CampaignFacts(ctx, cart.CampaignCode, userID)
		if err != nil {
			return nil, fmt.Errorf("campaign %q: %w", cart.CampaignCode, err)
		}
	}
	return r, nil
}
