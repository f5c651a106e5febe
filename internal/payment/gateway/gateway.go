// Package gateway talks to the remote payment provider.
package gateway

import (
	"context"
	"errors"
)

// Status is the provider's view of a charge.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAuthorized Status = "authorized"
	StatusCaptured   Status = "captured"
	StatusFailed     Status = "failed"
	StatusRefunded   Status = "refunded"
)

var (
	ErrChargeNotFound = errors.New("charge not found")
	ErrGateway        = errors.New("payment gateway error")
)

// Gateway is the request/confirm/refund surface of the payment provider.
type Gateway interface {
	RequestOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error)
	ChargeStatus(ctx context.Context, chargeID string) (Status, error)
	// Capture collects an authorized charge and returns the resulting status.
	Capture(ctx context.Context, chargeID string) (Status, error)
	// Refund is idempotent: charges never captured or already refunded report ok.
	Refund(ctx context.Context, chargeID string) (bool, error)
}

type OrderRequest struct {
	Main      MainInfo   `json:"main"`
	SeatsInfo []SeatInfo `json:"seatsInfo"`
	HoldInfo  HoldInfo   `json:"holdInfo"`
}

type MainInfo struct {
	UserID           int64 `json:"userId"`
	SubtotalAmount   int64 `json:"subtotalAmount"`
	CampaignDiscount int64 `json:"campaignDiscount"`
	CouponDiscount   int64 `json:"couponDiscount"`
	OptionDiscount   int64 `json:"optionDiscount"`
	TotalAmount      int64 `json:"totalAmount"`
}

type SeatInfo struct {
	TicketID    int64  `json:"ticketId"`
	SeatArea    string `json:"seatArea"`
	SeatName    string `json:"seatName"`
	SeatType    string `json:"seatType"`
	OptionTitle string `json:"optionTitle,omitempty"`
	Price       int64  `json:"price"`
}

type HoldInfo struct {
	Date          string `json:"date"`
	DayOrNight    string `json:"dayOrNight"`
	OpenVenueTime string `json:"openVenueTime"`
	StartShowTime string `json:"startShowTime"`
	Season        string `json:"season"`
	Round         string `json:"round"`
	GameType      string `json:"gameType"`
}

type OrderResponse struct {
	ChargeID    string `json:"chargeId"`
	RedirectURL string `json:"redirectUrl"`
}
