package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Hold is one event (a meeting) spread over one or more daily schedules.
type Hold struct {
	bun.BaseModel `bun:"table:holds"`

	ID           int64  `bun:"id,pk,autoincrement" json:"id"`
	Title        string `bun:"title,notnull" json:"title"`
	SeasonCode   string `bun:"season_code" json:"season_code"`
	RoundCode    string `bun:"round_code" json:"round_code"`
	GameTypeCode string `bun:"game_type_code" json:"game_type_code"`
}

// HoldDailySchedule is a single session of an event day.
type HoldDailySchedule struct {
	bun.BaseModel `bun:"table:hold_daily_schedules"`

	ID         int64     `bun:"id,pk,autoincrement" json:"id"`
	HoldID     int64     `bun:"hold_id,notnull" json:"hold_id"`
	EventDate  time.Time `bun:"event_date,notnull" json:"event_date"`
	DailyNo    int       `bun:"daily_no" json:"daily_no"`
	DayOrNight string    `bun:"day_or_night" json:"day_or_night"`
	OpeningAt  time.Time `bun:"opening_at,nullzero" json:"opening_at"`
	StartAt    time.Time `bun:"start_at,nullzero" json:"start_at"`

	Hold *Hold `bun:"rel:belongs-to,join:hold_id=id" json:"hold,omitempty"`
}

type SalesStatus string

const (
	SalesBeforeSale   SalesStatus = "before_sale"
	SalesOnSale       SalesStatus = "on_sale"
	SalesDiscontinued SalesStatus = "discontinued"
)

// SeatSale is the sellable inventory window of one daily schedule.
type SeatSale struct {
	bun.BaseModel `bun:"table:seat_sales"`

	ID                  int64       `bun:"id,pk,autoincrement" json:"id"`
	HoldDailyScheduleID int64       `bun:"hold_daily_schedule_id,notnull" json:"hold_daily_schedule_id"`
	SalesStatus         SalesStatus `bun:"sales_status,notnull" json:"sales_status"`
	SalesStartAt        time.Time   `bun:"sales_start_at,nullzero" json:"sales_start_at"`
	SalesEndAt          time.Time   `bun:"sales_end_at,nullzero" json:"sales_end_at"`

	HoldDailySchedule *HoldDailySchedule `bun:"rel:belongs-to,join:hold_daily_schedule_id=id" json:"hold_daily_schedule,omitempty"`
}

// WithinWindow reports whether now falls inside the sales window.
func (s *SeatSale) WithinWindow(now time.Time) bool {
	if !s.SalesStartAt.IsZero() && now.Before(s.SalesStartAt) {
		return false
	}
	if !s.SalesEndAt.IsZero() && now.After(s.SalesEndAt) {
		return false
	}
	return true
}

type SeatArea struct {
	bun.BaseModel `bun:"table:seat_areas"`

	ID          int64  `bun:"id,pk,autoincrement" json:"id"`
	Code        string `bun:"code,notnull" json:"code"`
	Name        string `bun:"name" json:"name"`
	Displayable bool   `bun:"displayable" json:"displayable"`
}

type SeatType struct {
	bun.BaseModel `bun:"table:seat_types"`

	ID    int64  `bun:"id,pk,autoincrement" json:"id"`
	Name  string `bun:"name,notnull" json:"name"`
	Price int64  `bun:"price,notnull" json:"price"`

	Options []*SeatTypeOption `bun:"rel:has-many,join:id=seat_type_id" json:"options,omitempty"`
}

// Option returns the option with the given id when it belongs to this seat type.
func (t *SeatType) Option(id int64) *SeatTypeOption {
	for _, o := range t.Options {
		if o.ID == id {
			return o
		}
	}
	return nil
}

// SeatTypeOption is a priced add-on (a discount in yen) selectable per seat.
type SeatTypeOption struct {
	bun.BaseModel `bun:"table:seat_type_options"`

	ID         int64  `bun:"id,pk,autoincrement" json:"id"`
	SeatTypeID int64  `bun:"seat_type_id,notnull" json:"seat_type_id"`
	Title      string `bun:"title,notnull" json:"title"`
	Discount   int64  `bun:"discount" json:"discount"`
}

// SeatUnit groups seats that are only sold together, such as a box.
type SeatUnit struct {
	bun.BaseModel `bun:"table:seat_units"`

	ID   int64  `bun:"id,pk,autoincrement" json:"id"`
	Name string `bun:"name,notnull" json:"name"`
}
