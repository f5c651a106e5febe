package reservation

import (
	"context"
	"testing"
	"time"

	"ms-seatsale/internal/logger"
	"ms-seatsale/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a Redis client backed by miniredis.
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to create miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	if err := client.Ping(context.Background()).Err(); err != nil {
		mr.Close()
		t.Fatalf("Failed to connect to miniredis: %v", err)
	}

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	client, mr := setupTestRedis(t)
	return NewStore(client, logger.Discard(), 15*time.Minute), mr
}

func cartOf(ids ...int64) models.Cart {
	var c models.Cart
	for _, id := range ids {
		c.Lines = append(c.Lines, models.CartLine{TicketID: id})
	}
	return c
}

func TestHoldAndSelection(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	cart := cartOf(1, 2)
	cart.Lines[1].OptionID = 51
	cart.CouponID = 4
	require.NoError(t, s.Hold(ctx, 7, cart))

	got, err := s.Selection(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, cart.Lines, got.Lines)
	assert.Equal(t, int64(4), got.CouponID)
	assert.Empty(t, got.CampaignCode)

	holder, err := s.Holder(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(7), holder)
}

func TestHoldIsExclusive(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Hold(ctx, 7, cartOf(1, 2)))

	err := s.Hold(ctx, 8, cartOf(3, 2))
	assert.ErrorIs(t, err, ErrTicketsUnavailable)

	// ticket 3 was rolled back
	holder, err := s.Holder(ctx, 3)
	require.NoError(t, err)
	assert.Zero(t, holder)

	// the same user may re-place an overlapping cart
	require.NoError(t, s.Hold(ctx, 7, cartOf(2, 3)))
	holder, err = s.Holder(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, holder, "dropped ticket should be released")
}

func TestSelectionOfMissingCartIsEmpty(t *testing.T) {
	s, _ := newTestStore(t)

	got, err := s.Selection(context.Background(), 99)
	require.NoError(t, err)
	assert.True(t, got.Empty())
}

func TestRecheckOwnershipAfterExpiry(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Hold(ctx, 7, cartOf(1, 2)))
	ok, err := s.RecheckOwnership(ctx, 7, []int64{1, 2})
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(16 * time.Minute)

	ok, err = s.RecheckOwnership(ctx, 7, []int64{1, 2})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExtendOwnership(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Hold(ctx, 7, cartOf(1)))
	require.NoError(t, s.ExtendOwnership(ctx, 7, []int64{1}, time.Hour))

	assert.Equal(t, time.Hour, mr.TTL("ticket_hold:1"))
	assert.Equal(t, time.Hour, mr.TTL("cart:7"))

	// another user's hold is left alone
	require.NoError(t, s.Hold(ctx, 8, cartOf(5)))
	require.NoError(t, s.ExtendOwnership(ctx, 7, []int64{5}, 2*time.Hour))
	assert.Equal(t, 15*time.Minute, mr.TTL("ticket_hold:5"))
}

func TestChargeIDStash(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Hold(ctx, 7, cartOf(1)))
	id, err := s.ChargeID(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, s.StashChargeID(ctx, 7, "ch_123"))
	id, err = s.ChargeID(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "ch_123", id)

	require.NoError(t, s.ClearChargeID(ctx, 7))
	id, err = s.ChargeID(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestClearReleasesOnlyOwnHolds(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Hold(ctx, 7, cartOf(1, 2)))
	// ticket 2 expired and was taken by someone else
	mr.Del("ticket_hold:2")
	require.NoError(t, mr.Set("ticket_hold:2", "8"))

	require.NoError(t, s.Clear(ctx, 7))

	assert.False(t, mr.Exists("cart:7"))
	assert.False(t, mr.Exists("ticket_hold:1"))
	holder, err := s.Holder(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(8), holder)
}
