package models

import (
	"time"

	"github.com/uptrace/bun"
)

type OrderType string

const (
	OrderPurchase      OrderType = "purchase"
	OrderTransfer      OrderType = "transfer"
	OrderAdminTransfer OrderType = "admin_transfer"
)

// Order is created once per payment request. After capture only the refund
// marker ReturnedAt changes.
type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID               int64     `bun:"id,pk,autoincrement" json:"id"`
	UserID           int64     `bun:"user_id,notnull" json:"user_id"`
	PaymentID        int64     `bun:"payment_id,nullzero" json:"payment_id"`
	SeatSaleID       int64     `bun:"seat_sale_id,notnull" json:"seat_sale_id"`
	OrderType        OrderType `bun:"order_type,notnull" json:"order_type"`
	Subtotal         int64     `bun:"subtotal" json:"subtotal"`
	CouponDiscount   int64     `bun:"coupon_discount" json:"coupon_discount"`
	CampaignDiscount int64     `bun:"campaign_discount" json:"campaign_discount"`
	OptionDiscount   int64     `bun:"option_discount" json:"option_discount"`
	Total            int64     `bun:"total" json:"total"`
	CouponID         int64     `bun:"coupon_id,nullzero" json:"coupon_id,omitempty"`
	CouponUsageID    int64     `bun:"coupon_usage_id,nullzero" json:"coupon_usage_id,omitempty"`
	CampaignUsageID  int64     `bun:"campaign_usage_id,nullzero" json:"campaign_usage_id,omitempty"`
	OrderedAt        time.Time `bun:"ordered_at,notnull" json:"ordered_at"`
	ReturnedAt       time.Time `bun:"returned_at,nullzero" json:"returned_at,omitempty"`

	Payment        *Payment         `bun:"rel:belongs-to,join:payment_id=id" json:"payment,omitempty"`
	TicketReserves []*TicketReserve `bun:"rel:has-many,join:id=order_id" json:"ticket_reserves,omitempty"`
}

func (o *Order) Returned() bool {
	return !o.ReturnedAt.IsZero()
}

// TicketReserve binds one ticket to one order.
type TicketReserve struct {
	bun.BaseModel `bun:"table:ticket_reserves"`

	ID               int64     `bun:"id,pk,autoincrement" json:"id"`
	OrderID          int64     `bun:"order_id,notnull" json:"order_id"`
	TicketID         int64     `bun:"ticket_id,notnull" json:"ticket_id"`
	SeatTypeOptionID int64     `bun:"seat_type_option_id,nullzero" json:"seat_type_option_id,omitempty"`
	Price            int64     `bun:"price" json:"price"`
	OptionDiscount   int64     `bun:"option_discount" json:"option_discount"`
	CreatedAt        time.Time `bun:"created_at,notnull" json:"created_at"`
}
