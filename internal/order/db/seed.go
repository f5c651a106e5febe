package db

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"ms-seatsale/internal/models"

	"github.com/uptrace/bun"
)

// Demo is a small on-sale event: one area, one seat type with an option,
// four individually sold seats and a three-seat box.
type Demo struct {
	Hold        *models.Hold
	Schedule    *models.HoldDailySchedule
	Sale        *models.SeatSale
	Area        *models.SeatArea
	SeatType    *models.SeatType
	Option      *models.SeatTypeOption
	Unit        *models.SeatUnit
	Tickets     []*models.Ticket
	UnitTickets []*models.Ticket
}

// SeedDemo inserts a Demo whose sales window is open around now.
func SeedDemo(ctx context.Context, db bun.IDB, now time.Time) (*Demo, error) {
	d := &Demo{
		Hold: &models.Hold{Title: "Spring Cup", SeasonCode: "1", RoundCode: "3", GameTypeCode: "G1"},
	}
	insert := func(model interface{}) error {
		if _, err := db.NewInsert().Model(model).Exec(ctx); err != nil {
			return fmt.Errorf("seed insert failed: %w", err)
		}
		return nil
	}

	if err := insert(d.Hold); err != nil {
		return nil, err
	}
	eventDay := now.Add(7 * 24 * time.Hour).Truncate(24 * time.Hour)
	d.Schedule = &models.HoldDailySchedule{
		HoldID:     d.Hold.ID,
		EventDate:  eventDay,
		DailyNo:    1,
		DayOrNight: "day",
		OpeningAt:  eventDay.Add(9 * time.Hour),
		StartAt:    eventDay.Add(10 * time.Hour),
	}
	if err := insert(d.Schedule); err != nil {
		return nil, err
	}
	d.Sale = &models.SeatSale{
		HoldDailyScheduleID: d.Schedule.ID,
		SalesStatus:         models.SalesOnSale,
		SalesStartAt:        now.Add(-24 * time.Hour),
		SalesEndAt:          eventDay,
	}
	if err := insert(d.Sale); err != nil {
		return nil, err
	}
	d.Area = &models.SeatArea{Code: "A", Name: "Main Stand", Displayable: true}
	if err := insert(d.Area); err != nil {
		return nil, err
	}
	d.SeatType = &models.SeatType{Name: "Reserved", Price: 3000}
	if err := insert(d.SeatType); err != nil {
		return nil, err
	}
	d.Option = &models.SeatTypeOption{SeatTypeID: d.SeatType.ID, Title: "Child", Discount: 1000}
	if err := insert(d.Option); err != nil {
		return nil, err
	}
	d.Unit = &models.SeatUnit{Name: "Box 1"}
	if err := insert(d.Unit); err != nil {
		return nil, err
	}

	seat := func(row string, n int, unitID int64) *models.Ticket {
		salesType := models.SalesIndividual
		if unitID != 0 {
			salesType = models.SalesUnit
		}
		return &models.Ticket{
			SeatSaleID: d.Sale.ID,
			SeatAreaID: d.Area.ID,
			SeatTypeID: d.SeatType.ID,
			SeatUnitID: unitID,
			SalesType:  salesType,
			Row:        row,
			SeatNumber: strconv.Itoa(n),
			Status:     models.TicketAvailable,
			UpdatedAt:  now,
		}
	}
	for i := 1; i <= 4; i++ {
		d.Tickets = append(d.Tickets, seat("1", i, 0))
	}
	for i := 1; i <= 3; i++ {
		d.UnitTickets = append(d.UnitTickets, seat("BOX", i, d.Unit.ID))
	}
	if err := insert(&d.Tickets); err != nil {
		return nil, err
	}
	if err := insert(&d.UnitTickets); err != nil {
		return nil, err
	}
	return d, nil
}
