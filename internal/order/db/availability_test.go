package db_test

import (
	"context"
	"testing"
	"time"

	"ms-seatsale/internal/models"
	"ms-seatsale/internal/order/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaleAvailability(t *testing.T) {
	d, demo := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, d.HoldTickets(ctx, []int64{demo.Tickets[0].ID, demo.Tickets[1].ID}, 7, now.Add(time.Hour)))
	require.NoError(t, d.HoldTickets(ctx, []int64{demo.Tickets[2].ID}, 8, now.Add(-time.Minute)))
	_, err := d.Bun.NewUpdate().Model((*models.Ticket)(nil)).
		Set("status = ?", models.TicketSold).
		Where("id = ?", demo.UnitTickets[0].ID).
		Exec(ctx)
	require.NoError(t, err)

	got, err := d.SaleAvailability(ctx, demo.Sale.ID, now)
	require.NoError(t, err)
	assert.Equal(t, []db.AreaAvailability{
		{SeatAreaID: demo.Area.ID, Available: 4, Held: 2, Sold: 1},
	}, got)
}

func TestSaleAvailabilityUnknownSale(t *testing.T) {
	d, _ := setupTestDB(t)
	got, err := d.SaleAvailability(context.Background(), 9999, now)
	require.NoError(t, err)
	assert.Empty(t, got)
}
