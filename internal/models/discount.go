package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Coupon is a per-user percentage discount.
type Coupon struct {
	bun.BaseModel `bun:"table:coupons"`

	ID                   int64     `bun:"id,pk,autoincrement" json:"id"`
	Title                string    `bun:"title,notnull" json:"title"`
	DiscountRate         int64     `bun:"discount_rate,notnull" json:"discount_rate"`
	Approved             bool      `bun:"approved" json:"approved"`
	AvailableEndAt       time.Time `bun:"available_end_at,nullzero" json:"available_end_at"`
	HoldDailyScheduleIDs []int64   `bun:"hold_daily_schedule_ids" json:"hold_daily_schedule_ids"`
}

type UserCoupon struct {
	bun.BaseModel `bun:"table:user_coupons"`

	ID       int64 `bun:"id,pk,autoincrement" json:"id"`
	CouponID int64 `bun:"coupon_id,notnull" json:"coupon_id"`
	UserID   int64 `bun:"user_id,notnull" json:"user_id"`
}

type CouponUsage struct {
	bun.BaseModel `bun:"table:coupon_usages"`

	ID       int64     `bun:"id,pk,autoincrement" json:"id"`
	CouponID int64     `bun:"coupon_id,notnull" json:"coupon_id"`
	UserID   int64     `bun:"user_id,notnull" json:"user_id"`
	OrderID  int64     `bun:"order_id,notnull" json:"order_id"`
	UsedAt   time.Time `bun:"used_at,notnull" json:"used_at"`
}

// Campaign is a code-based percentage discount open to every user.
type Campaign struct {
	bun.BaseModel `bun:"table:campaigns"`

	ID                   int64     `bun:"id,pk,autoincrement" json:"id"`
	Code                 string    `bun:"code,notnull,unique" json:"code"`
	Title                string    `bun:"title" json:"title"`
	DiscountRate         int64     `bun:"discount_rate,notnull" json:"discount_rate"`
	Approved             bool      `bun:"approved" json:"approved"`
	StartAt              time.Time `bun:"start_at,nullzero" json:"start_at"`
	EndAt                time.Time `bun:"end_at,nullzero" json:"end_at"`
	TerminatedAt         time.Time `bun:"terminated_at,nullzero" json:"terminated_at"`
	UsageLimit           int       `bun:"usage_limit" json:"usage_limit"`
	HoldDailyScheduleIDs []int64   `bun:"hold_daily_schedule_ids" json:"hold_daily_schedule_ids"`
	SeatTypeIDs          []int64   `bun:"seat_type_ids" json:"seat_type_ids"`
}

type CampaignUsage struct {
	bun.BaseModel `bun:"table:campaign_usages"`

	ID         int64     `bun:"id,pk,autoincrement" json:"id"`
	CampaignID int64     `bun:"campaign_id,notnull" json:"campaign_id"`
	UserID     int64     `bun:"user_id,notnull" json:"user_id"`
	OrderID    int64     `bun:"order_id,nullzero" json:"order_id"`
	CreatedAt  time.Time `bun:"created_at,notnull" json:"created_at"`
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// AllowsSchedule reports whether the coupon may be used for the given daily schedule.
func (c *Coupon) AllowsSchedule(scheduleID int64) bool {
	return len(c.HoldDailyScheduleIDs) == 0 || containsID(c.HoldDailyScheduleIDs, scheduleID)
}

func (c *Campaign) AllowsSchedule(scheduleID int64) bool {
	return len(c.HoldDailyScheduleIDs) == 0 || containsID(c.HoldDailyScheduleIDs, scheduleID)
}

func (c *Campaign) AllowsSeatType(seatTypeID int64) bool {
	return len(c.SeatTypeIDs) == 0 || containsID(c.SeatTypeIDs, seatTypeID)
}
