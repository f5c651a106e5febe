package models

import (
	"time"

	"github.com/uptrace/bun"
)

type PaymentProgress string

const (
	PaymentRequesting     PaymentProgress = "requesting_payment"
	PaymentWaitingCapture PaymentProgress = "waiting_capture"
	PaymentCaptured       PaymentProgress = "captured"
	PaymentRefunded       PaymentProgress = "refunded"
	PaymentFailedCapture  PaymentProgress = "failed_capture"
)

type Payment struct {
	bun.BaseModel `bun:"table:payments"`

	ID              int64           `bun:"id,pk,autoincrement" json:"id"`
	ChargeID        string          `bun:"charge_id,notnull,unique" json:"charge_id"`
	PaymentProgress PaymentProgress `bun:"payment_progress,notnull" json:"payment_progress"`
	CreatedAt       time.Time       `bun:"created_at,notnull" json:"created_at"`
	CapturedAt      time.Time       `bun:"captured_at,nullzero" json:"captured_at,omitempty"`
	RefundedAt      time.Time       `bun:"refunded_at,nullzero" json:"refunded_at,omitempty"`
	// GatewayRefundedAt is set once the gateway confirmed the refund.
	GatewayRefundedAt time.Time `bun:"gateway_refunded_at,nullzero" json:"gateway_refunded_at,omitempty"`
}

// RefundConfirmed reports whether the remote side of a refund has completed.
func (p *Payment) RefundConfirmed() bool {
	return !p.GatewayRefundedAt.IsZero()
}
