package db

import (
	"context"
	"fmt"
	"sort"
	"time"

	"ms-seatsale/internal/models"
)

// AreaAvailability counts the seats of one area of a sale. A temporary hold
// whose deadline has passed counts as available.
type AreaAvailability struct {
	SeatAreaID int64 `json:"seat_area_id"`
	Available  int   `json:"available"`
	Held       int   `json:"held"`
	Sold       int   `json:"sold"`
}

// SaleAvailability returns per-area seat counts of a sale, ordered by area.
// Seats that are not for sale are left out.
func (d *DB) SaleAvailability(ctx context.Context, seatSaleID int64, now time.Time) ([]AreaAvailability, error) {
	var tickets []models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Column("seat_area_id", "status", "hold_expires_at").
		Where("seat_sale_id = ?", seatSaleID).
		Where("status <> ?", models.TicketNotForSale).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("count tickets of sale %d: %w", seatSaleID, err)
	}

	byArea := make(map[int64]*AreaAvailability)
	for _, t := range tickets {
		a, ok := byArea[t.SeatAreaID]
		if !ok {
			a = &AreaAvailability{SeatAreaID: t.SeatAreaID}
			byArea[t.SeatAreaID] = a
		}
		switch {
		case t.Status == models.TicketSold:
			a.Sold++
		case t.Status == models.TicketTemporaryHold && t.HoldExpiresAt.After(now):
			a.Held++
		default:
			a.Available++
		}
	}

	out := make([]AreaAvailability, 0, len(byArea))
	for _, a := range byArea {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeatAreaID < out[j].SeatAreaID })
	return out, nil
}
