package validation

import (
	"time"

	"ms-seatsale/internal/models"
)

// CouponFacts is what the chain needs to know about the selected coupon.
// Coupon is nil when the selected id does not resolve.
type CouponFacts struct {
	Coupon      *models.Coupon
	OwnedByUser bool
	UsedByUser  bool
}

// CampaignFacts is what the chain needs to know about the selected campaign.
// Campaign is nil when the code does not resolve.
type CampaignFacts struct {
	Campaign *models.Campaign
	// UserHasCapturedOrder is true when the user already paid an order under the campaign.
	UserHasCapturedOrder bool
	// DistinctUsers counts other users holding a live order under the campaign.
	DistinctUsers int
}

// Input is a fully resolved selection. Tickets must carry SeatSale, SeatArea and
// SeatType (with Options) relations.
type Input struct {
	Lines   []models.CartLine
	Tickets map[int64]*models.Ticket
	// UnitTicketIDs lists every ticket of the first ticket's seat unit within its seat sale.
	UnitTicketIDs []int64

	CouponID     int64
	Coupon       CouponFacts
	CampaignCode string
	Campaign     CampaignFacts

	UserID        int64
	Decision      Decision
	Now           time.Time
	PurchaseLimit int
}

type rule func(in *Input) Code

// chain is evaluated in order; the first non-OK code wins.
var chain = []rule{
	checkStructure,
	checkScope,
	checkSalesType,
	checkOptions,
	checkOptionExclusivity,
	checkDiscountExclusivity,
	checkCoupon,
	checkCampaign,
}

// Evaluate returns the first violated rule, or OK.
func Evaluate(in Input) Code {
	for _, r := range chain {
		if code := r(&in); code != OK {
			return code
		}
	}
	return OK
}

func (in *Input) ticket(i int) *models.Ticket {
	return in.Tickets[in.Lines[i].TicketID]
}

func (in *Input) first() *models.Ticket {
	return in.ticket(0)
}

func checkStructure(in *Input) Code {
	if len(in.Lines) == 0 {
		return CartIsEmpty
	}
	for i := range in.Lines {
		t := in.ticket(i)
		if t == nil || t.SeatSale == nil || t.SeatArea == nil || t.SeatType == nil || !t.SeatArea.Displayable {
			return TicketNotFound
		}
	}
	for i := range in.Lines {
		if in.ticket(i).SeatSale.SalesStatus != models.SalesOnSale {
			return UnapprovedSales
		}
	}
	for i := range in.Lines {
		if !in.ticket(i).SeatSale.WithinWindow(in.Now) {
			return SaleTermOutside
		}
	}
	for i := range in.Lines {
		t := in.ticket(i)
		if t.Status != models.TicketAvailable || t.UserID != 0 {
			return TicketNotAvailable
		}
	}
	return OK
}

func checkScope(in *Input) Code {
	first := in.first()
	for i := range in.Lines {
		if in.ticket(i).SeatArea.Code != first.SeatArea.Code {
			return SeatAreaMismatch
		}
	}
	for i := range in.Lines {
		if in.ticket(i).SeatSaleID != first.SeatSaleID {
			return SeatSaleMismatch
		}
	}
	return OK
}

func checkSalesType(in *Input) Code {
	first := in.first()
	if first.SalesType == models.SalesUnit {
		if !sameSet(in.lineTicketIDs(), in.UnitTicketIDs) {
			return ExcessOrDeficiencyUnitTicket
		}
		return OK
	}

	for i := range in.Lines {
		if in.ticket(i).SalesType != first.SalesType {
			return SalesTypeMismatch
		}
	}
	limit := in.PurchaseLimit
	if limit <= 0 {
		limit = DefaultPurchaseLimit
	}
	if len(in.Lines) > limit {
		return ExceedPurchaseLimit
	}
	return OK
}

func checkOptions(in *Input) Code {
	for i, l := range in.Lines {
		if l.OptionID == 0 {
			continue
		}
		if in.ticket(i).SeatType.Option(l.OptionID) == nil {
			return SeatTypeOptionMismatch
		}
	}
	return OK
}

func checkOptionExclusivity(in *Input) Code {
	for _, l := range in.Lines {
		if l.OptionID == 0 {
			return OK
		}
	}
	if in.CouponID != 0 {
		return OptionAndCouponSameTime
	}
	if in.CampaignCode != "" {
		return OptionAndCampaignSameTime
	}
	return OK
}

func checkDiscountExclusivity(in *Input) Code {
	if in.CouponID != 0 && in.CampaignCode != "" {
		return CouponAndCampaignSameTime
	}
	return OK
}

func checkCoupon(in *Input) Code {
	if in.CouponID == 0 {
		return OK
	}
	f := in.Coupon
	if f.Coupon == nil || !f.Coupon.Approved || !f.OwnedByUser {
		return CouponNotFound
	}
	if in.Decision != DecisionRequestCompleted && f.UsedByUser {
		return CouponNotFound
	}
	if !f.Coupon.AvailableEndAt.IsZero() && in.Now.After(f.Coupon.AvailableEndAt) {
		return CouponAvailableDeadlineHasPassed
	}
	if !f.Coupon.AllowsSchedule(in.first().SeatSale.HoldDailyScheduleID) {
		return CouponHoldDailySchedulesMismatch
	}
	return OK
}

func checkCampaign(in *Input) Code {
	if in.CampaignCode == "" {
		return OK
	}
	f := in.Campaign
	c := f.Campaign
	if c == nil || !c.Approved {
		return CampaignNotFound
	}
	if !c.AllowsSchedule(in.first().SeatSale.HoldDailyScheduleID) {
		return CampaignHoldDailySchedulesMismatch
	}
	for i := range in.Lines {
		if !c.AllowsSeatType(in.ticket(i).SeatTypeID) {
			return CampaignMasterSeatTypesMismatch
		}
	}
	if !c.TerminatedAt.IsZero() && !in.Now.Before(c.TerminatedAt) {
		return CampaignHasTerminated
	}
	if !c.StartAt.IsZero() && in.Now.Before(c.StartAt) {
		return CampaignBeforeStart
	}
	if !c.EndAt.IsZero() && in.Now.After(c.EndAt) {
		return CampaignAfterEnd
	}
	if f.UserHasCapturedOrder {
		return CampaignAlreadyUsed
	}
	if c.UsageLimit > 0 && f.DistinctUsers >= c.UsageLimit {
		return CampaignUsageCountOverLimit
	}
	return OK
}

func (in *Input) lineTicketIDs() []int64 {
	ids := make([]int64, 0, len(in.Lines))
	for _, l := range in.Lines {
		ids = append(ids, l.TicketID)
	}
	return ids
}

// sameSet compares cart ids a with unit ids b ignoring order. A cart listing
// the same ticket twice never matches.
func sameSet(a, b []int64) bool {
	as := make(map[int64]struct{}, len(a))
	for _, id := range a {
		as[id] = struct{}{}
	}
	bs := make(map[int64]struct{}, len(b))
	for _, id := range b {
		bs[id] = struct{}{}
	}
	if len(as) != len(bs) || len(as) != len(a) {
		return false
	}
	for id := range bs {
		if _, ok := as[id]; !ok {
			return false
		}
	}
	return true
}
