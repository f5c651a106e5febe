package validation

// Code is a stable symbolic rule code. The presentation layer maps codes to
// user-facing copy; nothing in this module formats messages.
type Code string

// OK means no rule was violated.
const OK Code = ""

// Structural consistency.
const (
	CartIsEmpty        Code = "cart_is_empty"
	TicketNotFound     Code = "ticket_not_found"
	UnapprovedSales    Code = "unapproved_sales"
	SaleTermOutside    Code = "sale_term_outside"
	TicketNotAvailable Code = "ticket_not_available"
)

// Purchase scope and sales type.
const (
	SeatAreaMismatch             Code = "seat_area_mismatch"
	SeatSaleMismatch             Code = "seat_sale_mismatch"
	ExceedPurchaseLimit          Code = "exceed_purchase_limit"
	SalesTypeMismatch            Code = "sales_type_mismatch"
	ExcessOrDeficiencyUnitTicket Code = "excess_or_deficiency_unit_ticket"
	SeatTypeOptionMismatch       Code = "seat_type_option_mismatch"
	OptionAndCouponSameTime      Code = "option_and_coupon_cannot_be_used_at_same_time"
	OptionAndCampaignSameTime    Code = "option_and_campaign_cannot_be_used_at_same_time"
	CouponAndCampaignSameTime    Code = "coupon_and_campaign_cannot_use_at_same_time"
)

// Coupon eligibility.
const (
	CouponNotFound                   Code = "coupon_not_found"
	CouponAvailableDeadlineHasPassed Code = "coupon_available_deadline_has_passed"
	CouponHoldDailySchedulesMismatch Code = "coupon_hold_daily_schedules_mismatch"
)

// Campaign eligibility.
const (
	CampaignNotFound                   Code = "campaign_not_found"
	CampaignHoldDailySchedulesMismatch Code = "campaign_hold_daily_schedules_mismatch"
	CampaignMasterSeatTypesMismatch    Code = "campaign_master_seat_types_mismatch"
	CampaignHasTerminated              Code = "campaign_has_terminated"
	CampaignBeforeStart                Code = "campaign_before_start"
	CampaignAfterEnd                   Code = "campaign_after_end"
	CampaignAlreadyUsed                Code = "campaign_already_used"
	CampaignUsageCountOverLimit        Code = "campaign_usage_count_over_limit"
)

// Codes produced by the purchase flow around the chain.
const (
	NoOrder        Code = "no_order"
	OwnershipError Code = "ownership_error"
	InvalidOrder   Code = "invalid_order"
	CaptureFailed  Code = "capture_failed"
)

// Decision marks a re-validation performed while confirming a payment.
type Decision string

const (
	DecisionNone             Decision = ""
	DecisionRequestCompleted Decision = "request_completed"
)

// DefaultPurchaseLimit caps individually sold seats per cart.
const DefaultPurchaseLimit = 8
