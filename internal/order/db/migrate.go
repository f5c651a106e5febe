package db

import (
	"context"
	"fmt"

	"ms-seatsale/internal/models"

	"github.com/uptrace/bun"
)

// schema lists every table in dependency order.
var schema = []interface{}{
	(*models.Hold)(nil),
	(*models.HoldDailySchedule)(nil),
	(*models.SeatSale)(nil),
	(*models.SeatArea)(nil),
	(*models.SeatType)(nil),
	(*models.SeatTypeOption)(nil),
	(*models.SeatUnit)(nil),
	(*models.Ticket)(nil),
	(*models.Payment)(nil),
	(*models.Order)(nil),
	(*models.TicketReserve)(nil),
	(*models.Coupon)(nil),
	(*models.UserCoupon)(nil),
	(*models.CouponUsage)(nil),
	(*models.Campaign)(nil),
	(*models.CampaignUsage)(nil),
}

// CreateSchema creates every table from the bun models. Production databases
// use the SQL migrations instead; this serves tests and local sqlite runs.
func CreateSchema(ctx context.Context, db bun.IDB) error {
	for _, model := range schema {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table failed: %w", err)
		}
	}
	return nil
}
