package order

import "ms-seatsale/internal/models"

// LinePrice is the priced form of one cart line.
type LinePrice struct {
	TicketID       int64
	OptionID       int64
	Price          int64
	OptionDiscount int64
}

// Pricing is the money breakdown of a cart. All amounts are in yen.
type Pricing struct {
	Lines            []LinePrice
	Subtotal         int64
	OptionDiscount   int64
	CouponDiscount   int64
	CampaignDiscount int64
	Total            int64
}

// Price computes the breakdown of a validated cart. Coupon and campaign rates
// are percentages and only apply to lines without an option; each line's
// discount is rounded down.
func Price(lines []models.CartLine, tickets map[int64]*models.Ticket, couponRate, campaignRate int64) Pricing {
	p := Pricing{Lines: make([]LinePrice, 0, len(lines))}
	for _, l := range lines {
		t := tickets[l.TicketID]
		lp := LinePrice{TicketID: l.TicketID, OptionID: l.OptionID}
		if t != nil && t.SeatType != nil {
			lp.Price = t.SeatType.Price
			if l.OptionID != 0 {
				if o := t.SeatType.Option(l.OptionID); o != nil {
					lp.OptionDiscount = min(o.Discount, lp.Price)
				}
			}
		}
		p.Subtotal += lp.Price
		p.OptionDiscount += lp.OptionDiscount
		if l.OptionID == 0 {
			p.CouponDiscount += lp.Price * couponRate / 100
			p.CampaignDiscount += lp.Price * campaignRate / 100
		}
		p.Lines = append(p.Lines, lp)
	}

	p.Total = p.Subtotal - p.OptionDiscount - p.CouponDiscount - p.CampaignDiscount
	if p.Total < 0 {
		p.Total = 0
	}
	return p
}
