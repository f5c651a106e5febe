package reservation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"ms-seatsale/internal/logger"
	"ms-seatsale/internal/models"

	"github.com/go-redis/redis/v8"
)

const (
	holdKeyPrefix = "ticket_hold:"
	cartKeyPrefix = "cart:"

	fieldLines    = "lines"
	fieldCoupon   = "coupon_id"
	fieldCampaign = "campaign_code"
	fieldCharge   = "charge_id"
)

var ErrTicketsUnavailable = errors.New("tickets are held by another user")

// releaseScript deletes a hold only when it still belongs to the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// extendScript refreshes a hold only when it still belongs to the caller.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// Store keeps each user's cart in a Redis hash and an exclusive, expiring
// hold per ticket. Both live under the same TTL.
type Store struct {
	Client *redis.Client
	Logger *logger.Logger
	TTL    time.Duration
}

func NewStore(client *redis.Client, log *logger.Logger, ttl time.Duration) *Store {
	return &Store{Client: client, Logger: log, TTL: ttl}
}

func holdKey(ticketID int64) string {
	return holdKeyPrefix + strconv.FormatInt(ticketID, 10)
}

func cartKey(userID int64) string {
	return cartKeyPrefix + strconv.FormatInt(userID, 10)
}

func owner(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

// Hold places the cart for userID, acquiring every ticket it names. Tickets
// already held by the same user are refreshed. Acquisition is all-or-nothing.
func (s *Store) Hold(ctx context.Context, userID int64, cart models.Cart) error {
	previous, err := s.Selection(ctx, userID)
	if err != nil {
		return err
	}

	var acquired []int64
	for _, id := range cart.TicketIDs() {
		ok, err := s.Client.SetNX(ctx, holdKey(id), owner(userID), s.TTL).Result()
		if err != nil {
			s.releaseAll(ctx, userID, acquired)
			return fmt.Errorf("failed to hold ticket %d: %w", id, err)
		}
		if ok {
			acquired = append(acquired, id)
			continue
		}
		holder, err := s.Holder(ctx, id)
		if err != nil {
			s.releaseAll(ctx, userID, acquired)
			return err
		}
		if holder != userID {
			s.releaseAll(ctx, userID, acquired)
			s.Logger.LogReservation("HOLD", userID, fmt.Sprintf("ticket %d held by another user", id))
			return ErrTicketsUnavailable
		}
		if err := s.extend(ctx, userID, id, s.TTL); err != nil {
			s.releaseAll(ctx, userID, acquired)
			return err
		}
	}

	// drop holds the new cart no longer names
	keep := make(map[int64]bool, len(cart.Lines))
	for _, id := range cart.TicketIDs() {
		keep[id] = true
	}
	var dropped []int64
	for _, id := range previous.TicketIDs() {
		if !keep[id] {
			dropped = append(dropped, id)
		}
	}
	s.releaseAll(ctx, userID, dropped)

	lines, err := json.Marshal(cart.Lines)
	if err != nil {
		return fmt.Errorf("failed to encode cart: %w", err)
	}
	key := cartKey(userID)
	_, err = s.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			fieldLines, string(lines),
			fieldCoupon, strconv.FormatInt(cart.CouponID, 10),
			fieldCampaign, cart.CampaignCode,
		)
		pipe.Expire(ctx, key, s.TTL)
		return nil
	})
	if err != nil {
		s.releaseAll(ctx, userID, acquired)
		return fmt.Errorf("failed to store cart: %w", err)
	}

	s.Logger.LogReservation("HOLD", userID, fmt.Sprintf("%d tickets held for %s", len(cart.Lines), s.TTL))
	return nil
}

// Selection returns the user's current cart. A missing or expired cart is empty.
func (s *Store) Selection(ctx context.Context, userID int64) (*models.Cart, error) {
	fields, err := s.Client.HGetAll(ctx, cartKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read cart: %w", err)
	}

	cart := &models.Cart{}
	if raw := fields[fieldLines]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &cart.Lines); err != nil {
			return nil, fmt.Errorf("failed to decode cart: %w", err)
		}
	}
	if raw := fields[fieldCoupon]; raw != "" {
		cart.CouponID, _ = strconv.ParseInt(raw, 10, 64)
	}
	cart.CampaignCode = fields[fieldCampaign]
	return cart, nil
}

// Holder returns the user holding ticketID, or 0 when it is free.
func (s *Store) Holder(ctx context.Context, ticketID int64) (int64, error) {
	val, err := s.Client.Get(ctx, holdKey(ticketID)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read hold: %w", err)
	}
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt hold for ticket %d: %w", ticketID, err)
	}
	return id, nil
}

// RecheckOwnership reports whether userID still holds every ticket.
func (s *Store) RecheckOwnership(ctx context.Context, userID int64, ticketIDs []int64) (bool, error) {
	for _, id := range ticketIDs {
		holder, err := s.Holder(ctx, id)
		if err != nil {
			return false, err
		}
		if holder != userID {
			s.Logger.LogReservation("RECHECK", userID, fmt.Sprintf("ticket %d no longer held", id))
			return false, nil
		}
	}
	return true, nil
}

// ExtendOwnership pushes the expiry of the user's ticket holds and cart to ttl from now.
func (s *Store) ExtendOwnership(ctx context.Context, userID int64, ticketIDs []int64, ttl time.Duration) error {
	for _, id := range ticketIDs {
		if err := s.extend(ctx, userID, id, ttl); err != nil {
			return err
		}
	}
	if err := s.Client.Expire(ctx, cartKey(userID), ttl).Err(); err != nil {
		return fmt.Errorf("failed to extend cart: %w", err)
	}
	return nil
}

func (s *Store) StashChargeID(ctx context.Context, userID int64, chargeID string) error {
	if err := s.Client.HSet(ctx, cartKey(userID), fieldCharge, chargeID).Err(); err != nil {
		return fmt.Errorf("failed to stash charge id: %w", err)
	}
	return nil
}

// ChargeID returns the stashed in-flight charge id, or "".
func (s *Store) ChargeID(ctx context.Context, userID int64) (string, error) {
	val, err := s.Client.HGet(ctx, cartKey(userID), fieldCharge).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read charge id: %w", err)
	}
	return val, nil
}

func (s *Store) ClearChargeID(ctx context.Context, userID int64) error {
	if err := s.Client.HDel(ctx, cartKey(userID), fieldCharge).Err(); err != nil {
		return fmt.Errorf("failed to clear charge id: %w", err)
	}
	return nil
}

// Clear drops the cart and releases the holds the user still owns.
func (s *Store) Clear(ctx context.Context, userID int64) error {
	cart, err := s.Selection(ctx, userID)
	if err != nil {
		return err
	}
	s.releaseAll(ctx, userID, cart.TicketIDs())
	if err := s.Client.Del(ctx, cartKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	s.Logger.LogReservation("CLEAR", userID, fmt.Sprintf("released %d tickets", len(cart.Lines)))
	return nil
}

func (s *Store) extend(ctx context.Context, userID, ticketID int64, ttl time.Duration) error {
	err := extendScript.Run(ctx, s.Client, []string{holdKey(ticketID)}, owner(userID), ttl.Milliseconds()).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to extend hold on ticket %d: %w", ticketID, err)
	}
	return nil
}

func (s *Store) release(ctx context.Context, userID, ticketID int64) error {
	err := releaseScript.Run(ctx, s.Client, []string{holdKey(ticketID)}, owner(userID)).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release ticket %d: %w", ticketID, err)
	}
	return nil
}

func (s *Store) releaseAll(ctx context.Context, userID int64, ticketIDs []int64) {
	for _, id := range ticketIDs {
		if err := s.release(ctx, userID, id); err != nil {
			s.Logger.Warn("RESERVATION", err.Error())
		}
	}
}
