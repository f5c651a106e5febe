package db_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"ms-seatsale/internal/models"
	"ms-seatsale/internal/order/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"
)

var now = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) (*db.DB, *db.Demo) {
	sqldb, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}
	// every connection to :memory: is a separate database
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { bunDB.Close() })

	ctx := context.Background()
	require.NoError(t, db.CreateSchema(ctx, bunDB))
	demo, err := db.SeedDemo(ctx, bunDB, now)
	require.NoError(t, err)

	return &db.DB{Bun: bunDB}, demo
}

func newPurchase(demo *db.Demo, userID int64, chargeID string, tickets ...*models.Ticket) *db.Purchase {
	p := &db.Purchase{
		Order: &models.Order{
			UserID:     userID,
			SeatSaleID: demo.Sale.ID,
			OrderType:  models.OrderPurchase,
			Subtotal:   int64(len(tickets)) * demo.SeatType.Price,
			Total:      int64(len(tickets)) * demo.SeatType.Price,
			OrderedAt:  now,
		},
		ChargeID: chargeID,
	}
	for _, tk := range tickets {
		p.Reserves = append(p.Reserves, &models.TicketReserve{TicketID: tk.ID, Price: demo.SeatType.Price})
	}
	return p
}

func count(t *testing.T, d *db.DB, model interface{}) int {
	n, err := d.Bun.NewSelect().Model(model).Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestResolveTickets(t *testing.T) {
	d, demo := setupTestDB(t)
	ctx := context.Background()

	got, err := d.ResolveTickets(ctx, []int64{demo.Tickets[0].ID, demo.UnitTickets[1].ID, 9999})
	require.NoError(t, err)
	require.Len(t, got, 2)

	tk := got[demo.Tickets[0].ID]
	require.NotNil(t, tk.SeatSale)
	assert.Equal(t, models.SalesOnSale, tk.SeatSale.SalesStatus)
	require.NotNil(t, tk.SeatSale.HoldDailySchedule)
	require.NotNil(t, tk.SeatSale.HoldDailySchedule.Hold)
	assert.Equal(t, "Spring Cup", tk.SeatSale.HoldDailySchedule.Hold.Title)
	assert.Equal(t, "A", tk.SeatArea.Code)
	require.Len(t, tk.SeatType.Options, 1)
	assert.Equal(t, demo.Option.ID, tk.SeatType.Options[0].ID)

	ids, err := d.UnitTicketIDs(ctx, demo.Sale.ID, demo.Unit.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{demo.UnitTickets[0].ID, demo.UnitTickets[1].ID, demo.UnitTickets[2].ID}, ids)
}

func TestCreatePurchaseAndLoad(t *testing.T) {
	d, demo := setupTestDB(t)
	ctx := context.Background()

	p := newPurchase(demo, 7, "ch_1", demo.Tickets[0], demo.Tickets[1])
	require.NoError(t, d.CreatePurchase(ctx, p))
	assert.NotZero(t, p.Order.ID)
	assert.NotZero(t, p.Order.PaymentID)

	byID, err := d.OrderByID(ctx, p.Order.ID)
	require.NoError(t, err)
	require.NotNil(t, byID.Payment)
	assert.Equal(t, models.PaymentRequesting, byID.Payment.PaymentProgress)
	assert.Len(t, byID.TicketReserves, 2)

	byCharge, err := d.OrderByChargeID(ctx, "ch_1")
	require.NoError(t, err)
	assert.Equal(t, p.Order.ID, byCharge.ID)

	_, err = d.OrderByChargeID(ctx, "ch_missing")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

// A failure on the last insert of the purchase leaves no rows behind.
func TestCreatePurchaseIsAtomic(t *testing.T) {
	d, demo := setupTestDB(t)
	ctx := context.Background()

	campaign := &models.Campaign{Code: "SPRING", DiscountRate: 10, Approved: true}
	_, err := d.Bun.NewInsert().Model(campaign).Exec(ctx)
	require.NoError(t, err)

	// occupy the charge id so the payment insert violates its unique key
	_, err = d.Bun.NewInsert().Model(&models.Payment{ChargeID: "ch_dup", PaymentProgress: models.PaymentCaptured, CreatedAt: now}).Exec(ctx)
	require.NoError(t, err)

	p := newPurchase(demo, 7, "ch_dup", demo.Tickets[0], demo.Tickets[1])
	p.CampaignID = campaign.ID
	err = d.CreatePurchase(ctx, p)
	require.Error(t, err)

	assert.Equal(t, 0, count(t, d, (*models.Order)(nil)))
	assert.Equal(t, 0, count(t, d, (*models.TicketReserve)(nil)))
	assert.Equal(t, 0, count(t, d, (*models.CampaignUsage)(nil)))
	assert.Equal(t, 1, count(t, d, (*models.Payment)(nil)))
}

func TestHoldTicketsCompareAndSwap(t *testing.T) {
	d, demo := setupTestDB(t)
	ctx := context.Background()
	ids := []int64{demo.Tickets[0].ID, demo.Tickets[1].ID}

	require.NoError(t, d.HoldTickets(ctx, ids, 7, now.Add(time.Hour)))

	// the second buyer loses and nothing of theirs is applied
	err := d.HoldTickets(ctx, []int64{demo.Tickets[1].ID, demo.Tickets[2].ID}, 8, now.Add(time.Hour))
	assert.ErrorIs(t, err, db.ErrConflict)

	got, err := d.ResolveTickets(ctx, []int64{demo.Tickets[2].ID})
	require.NoError(t, err)
	assert.Equal(t, models.TicketAvailable, got[demo.Tickets[2].ID].Status)
	assert.Zero(t, got[demo.Tickets[2].ID].HoldUserID)
}

func TestFinalizeCaptureSellsTickets(t *testing.T) {
	d, demo := setupTestDB(t)
	ctx := context.Background()

	coupon := &models.Coupon{Title: "10% off", DiscountRate: 10, Approved: true}
	_, err := d.Bun.NewInsert().Model(coupon).Exec(ctx)
	require.NoError(t, err)

	p := newPurchase(demo, 7, "ch_1", demo.Tickets[0], demo.Tickets[1])
	p.Order.CouponID = coupon.ID
	require.NoError(t, d.CreatePurchase(ctx, p))
	require.NoError(t, d.MarkWaitingCapture(ctx, p.Order.PaymentID))
	require.NoError(t, d.HoldTickets(ctx, []int64{demo.Tickets[0].ID, demo.Tickets[1].ID}, 7, now.Add(time.Hour)))

	codes := map[int64]string{demo.Tickets[0].ID: "QR-1", demo.Tickets[1].ID: "QR-2"}
	require.NoError(t, d.FinalizeCapture(ctx, p.Order, codes, now))

	order, err := d.OrderByID(ctx, p.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCaptured, order.Payment.PaymentProgress)
	assert.False(t, order.Payment.CapturedAt.IsZero())
	assert.NotZero(t, order.CouponUsageID)

	for _, r := range order.TicketReserves {
		tk, err := d.TicketByID(ctx, r.TicketID)
		require.NoError(t, err)
		assert.Equal(t, models.TicketSold, tk.Status)
		assert.Equal(t, int64(7), tk.UserID)
		assert.Equal(t, codes[tk.ID], tk.QRTicketID)
		assert.Equal(t, r.ID, tk.PurchaseTicketReserveID)
		assert.Equal(t, r.ID, tk.CurrentTicketReserveID)
		assert.Zero(t, tk.HoldUserID)
	}

	facts, err := d.CouponFacts(ctx, coupon.ID, 7)
	require.NoError(t, err)
	assert.True(t, facts.UsedByUser)

	// a replayed capture does not apply twice
	assert.ErrorIs(t, d.FinalizeCapture(ctx, p.Order, codes, now), db.ErrConflict)
}

func TestFailCaptureReleasesOnlyBuyerHolds(t *testing.T) {
	d, demo := setupTestDB(t)
	ctx := context.Background()

	p := newPurchase(demo, 7, "ch_1", demo.Tickets[0], demo.Tickets[1])
	require.NoError(t, d.CreatePurchase(ctx, p))
	require.NoError(t, d.MarkWaitingCapture(ctx, p.Order.PaymentID))
	require.NoError(t, d.HoldTickets(ctx, []int64{demo.Tickets[0].ID}, 7, now.Add(time.Hour)))
	require.NoError(t, d.HoldTickets(ctx, []int64{demo.Tickets[1].ID}, 8, now.Add(time.Hour)))

	released, err := d.FailCapture(ctx, p.Order)
	require.NoError(t, err)
	assert.Equal(t, []int64{demo.Tickets[0].ID}, released)

	got, err := d.ResolveTickets(ctx, []int64{demo.Tickets[0].ID, demo.Tickets[1].ID})
	require.NoError(t, err)
	assert.Equal(t, models.TicketAvailable, got[demo.Tickets[0].ID].Status)
	assert.Equal(t, models.TicketTemporaryHold, got[demo.Tickets[1].ID].Status)

	order, err := d.OrderByID(ctx, p.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentFailedCapture, order.Payment.PaymentProgress)

	require.NoError(t, d.MarkRefunded(ctx, order, now))
	order, err = d.OrderByID(ctx, p.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, order.Payment.PaymentProgress)
	assert.True(t, order.Payment.RefundConfirmed())
	assert.True(t, order.Returned())
}

func TestRefundOrderIsIdempotent(t *testing.T) {
	d, demo := setupTestDB(t)
	ctx := context.Background()

	p := newPurchase(demo, 7, "ch_1", demo.Tickets[0])
	require.NoError(t, d.CreatePurchase(ctx, p))
	require.NoError(t, d.MarkWaitingCapture(ctx, p.Order.PaymentID))
	require.NoError(t, d.HoldTickets(ctx, []int64{demo.Tickets[0].ID}, 7, now.Add(time.Hour)))
	require.NoError(t, d.FinalizeCapture(ctx, p.Order, map[int64]string{demo.Tickets[0].ID: "QR-1"}, now))

	order, applied, err := d.RefundOrder(ctx, p.Order.ID, now)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.True(t, order.Returned())

	tk, err := d.TicketByID(ctx, demo.Tickets[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketNotForSale, tk.Status)
	assert.Zero(t, tk.UserID)
	assert.Empty(t, tk.QRTicketID)
	assert.Zero(t, tk.CurrentTicketReserveID)

	_, applied, err = d.RefundOrder(ctx, p.Order.ID, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, applied)

	refunds, err := d.UnconfirmedRefunds(ctx, 10)
	require.NoError(t, err)
	require.Len(t, refunds, 1)
	require.NoError(t, d.ConfirmGatewayRefund(ctx, refunds[0].PaymentID, now))
	refunds, err = d.UnconfirmedRefunds(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, refunds)

	_, _, err = d.RefundOrder(ctx, 9999, now)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestCampaignFacts(t *testing.T) {
	d, demo := setupTestDB(t)
	ctx := context.Background()

	campaign := &models.Campaign{Code: "SPRING", DiscountRate: 10, Approved: true, UsageLimit: 2}
	_, err := d.Bun.NewInsert().Model(campaign).Exec(ctx)
	require.NoError(t, err)

	facts, err := d.CampaignFacts(ctx, "NOPE", 7)
	require.NoError(t, err)
	assert.Nil(t, facts.Campaign)

	// user 8 requested, user 9 paid
	p8 := newPurchase(demo, 8, "ch_8", demo.Tickets[0])
	p8.CampaignID = campaign.ID
	require.NoError(t, d.CreatePurchase(ctx, p8))
	p9 := newPurchase(demo, 9, "ch_9", demo.Tickets[1])
	p9.CampaignID = campaign.ID
	require.NoError(t, d.CreatePurchase(ctx, p9))
	require.NoError(t, d.MarkWaitingCapture(ctx, p9.Order.PaymentID))
	require.NoError(t, d.HoldTickets(ctx, []int64{demo.Tickets[1].ID}, 9, now.Add(time.Hour)))
	require.NoError(t, d.FinalizeCapture(ctx, p9.Order, map[int64]string{demo.Tickets[1].ID: "QR"}, now))

	facts, err = d.CampaignFacts(ctx, "SPRING", 7)
	require.NoError(t, err)
	require.NotNil(t, facts.Campaign)
	assert.False(t, facts.UserHasCapturedOrder)
	assert.Equal(t, 2, facts.DistinctUsers)

	facts, err = d.CampaignFacts(ctx, "SPRING", 9)
	require.NoError(t, err)
	assert.True(t, facts.UserHasCapturedOrder)
	assert.Equal(t, 1, facts.DistinctUsers)

	// a returned order no longer counts
	_, _, err = d.RefundOrder(ctx, p8.Order.ID, now)
	require.NoError(t, err)
	facts, err = d.CampaignFacts(ctx, "SPRING", 7)
	require.NoError(t, err)
	assert.Equal(t, 1, facts.DistinctUsers)
}

func TestCouponFactsOwnership(t *testing.T) {
	d, _ := setupTestDB(t)
	ctx := context.Background()

	coupon := &models.Coupon{Title: "welcome", DiscountRate: 5, Approved: true}
	_, err := d.Bun.NewInsert().Model(coupon).Exec(ctx)
	require.NoError(t, err)
	_, err = d.Bun.NewInsert().Model(&models.UserCoupon{CouponID: coupon.ID, UserID: 7}).Exec(ctx)
	require.NoError(t, err)

	facts, err := d.CouponFacts(ctx, coupon.ID, 7)
	require.NoError(t, err)
	assert.True(t, facts.OwnedByUser)
	assert.False(t, facts.UsedByUser)

	facts, err = d.CouponFacts(ctx, coupon.ID, 8)
	require.NoError(t, err)
	assert.False(t, facts.OwnedByUser)

	facts, err = d.CouponFacts(ctx, 9999, 7)
	require.NoError(t, err)
	assert.Nil(t, facts.Coupon)
}

func TestStaleRequests(t *testing.T) {
	d, demo := setupTestDB(t)
	ctx := context.Background()

	p := newPurchase(demo, 7, "ch_old", demo.Tickets[0])
	require.NoError(t, d.CreatePurchase(ctx, p))
	done := newPurchase(demo, 8, "ch_done", demo.Tickets[1])
	require.NoError(t, d.CreatePurchase(ctx, done))
	require.NoError(t, d.MarkWaitingCapture(ctx, done.Order.PaymentID))
	require.NoError(t, d.HoldTickets(ctx, []int64{demo.Tickets[1].ID}, 8, now.Add(time.Hour)))
	require.NoError(t, d.FinalizeCapture(ctx, done.Order, map[int64]string{demo.Tickets[1].ID: "QR"}, now))

	stale, err := d.StaleRequests(ctx, now.Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, stale)

	stale, err = d.StaleRequests(ctx, now.Add(25*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, p.Order.ID, stale[0].ID)
	assert.Len(t, stale[0].TicketReserves, 1)
}
