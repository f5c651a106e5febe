package models

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

type TicketStatus string

const (
	TicketAvailable     TicketStatus = "available"
	TicketTemporaryHold TicketStatus = "temporary_hold"
	TicketSold          TicketStatus = "sold"
	TicketNotForSale    TicketStatus = "not_for_sale"
)

type SalesType string

const (
	SalesIndividual SalesType = "individual"
	SalesUnit       SalesType = "unit"
)

// Ticket is one physical seat of a seat sale.
type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	ID                      int64        `bun:"id,pk,autoincrement" json:"id"`
	SeatSaleID              int64        `bun:"seat_sale_id,notnull" json:"seat_sale_id"`
	SeatAreaID              int64        `bun:"seat_area_id,notnull" json:"seat_area_id"`
	SeatTypeID              int64        `bun:"seat_type_id,notnull" json:"seat_type_id"`
	SeatUnitID              int64        `bun:"seat_unit_id,nullzero" json:"seat_unit_id,omitempty"`
	SalesType               SalesType    `bun:"sales_type,notnull" json:"sales_type"`
	Row                     string       `bun:"row" json:"row"`
	SeatNumber              string       `bun:"seat_number" json:"seat_number"`
	Status                  TicketStatus `bun:"status,notnull" json:"status"`
	UserID                  int64        `bun:"user_id,nullzero" json:"user_id,omitempty"`
	HoldUserID              int64        `bun:"hold_user_id,nullzero" json:"-"`
	HoldExpiresAt           time.Time    `bun:"hold_expires_at,nullzero" json:"-"`
	QRTicketID              string       `bun:"qr_ticket_id,nullzero" json:"qr_ticket_id,omitempty"`
	PurchaseTicketReserveID int64        `bun:"purchase_ticket_reserve_id,nullzero" json:"purchase_ticket_reserve_id,omitempty"`
	CurrentTicketReserveID  int64        `bun:"current_ticket_reserve_id,nullzero" json:"current_ticket_reserve_id,omitempty"`
	UpdatedAt               time.Time    `bun:"updated_at,nullzero" json:"updated_at"`

	SeatSale *SeatSale `bun:"rel:belongs-to,join:seat_sale_id=id" json:"seat_sale,omitempty"`
	SeatArea *SeatArea `bun:"rel:belongs-to,join:seat_area_id=id" json:"seat_area,omitempty"`
	SeatType *SeatType `bun:"rel:belongs-to,join:seat_type_id=id" json:"seat_type,omitempty"`
}

// SeatLabel is the printable "row-number" label of the seat.
func (t *Ticket) SeatLabel() string {
	if t.Row == "" {
		return t.SeatNumber
	}
	return fmt.Sprintf("%s-%s", t.Row, t.SeatNumber)
}

// CartLine is one selected ticket with an optional seat type option.
type CartLine struct {
	TicketID int64 `json:"ticket_id"`
	OptionID int64 `json:"option_id,omitempty"`
}

// Cart is a user's in-progress selection held by the reservation store.
type Cart struct {
	Lines        []CartLine `json:"lines"`
	CouponID     int64      `json:"coupon_id,omitempty"`
	CampaignCode string     `json:"campaign_code,omitempty"`
}

func (c *Cart) TicketIDs() []int64 {
	ids := make([]int64, 0, len(c.Lines))
	for _, l := range c.Lines {
		ids = append(ids, l.TicketID)
	}
	return ids
}

func (c *Cart) Empty() bool {
	return c == nil || len(c.Lines) == 0
}
