// Package notification publishes purchase lifecycle events. Delivery to the
// customer happens downstream; publishing is fire-and-forget for callers.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"ms-seatsale/internal/logger"

	"github.com/google/uuid"
)

// PurchaseCompleted is emitted once a payment is captured and its tickets sold.
type PurchaseCompleted struct {
	EventID     string    `json:"event_id"`
	OrderID     int64     `json:"order_id"`
	UserID      int64     `json:"user_id"`
	ChargeID    string    `json:"charge_id"`
	TicketIDs   []int64   `json:"ticket_ids"`
	QRTicketIDs []string  `json:"qr_ticket_ids"`
	Total       int64     `json:"total"`
	CapturedAt  time.Time `json:"captured_at"`
}

// SeatsReleased is emitted when held tickets go back on sale.
type SeatsReleased struct {
	EventID    string    `json:"event_id"`
	OrderID    int64     `json:"order_id"`
	TicketIDs  []int64   `json:"ticket_ids"`
	Reason     string    `json:"reason"`
	ReleasedAt time.Time `json:"released_at"`
}

// Publisher writes one message to a named destination (Kafka topic or
// RabbitMQ routing key).
type Publisher interface {
	Publish(ctx context.Context, destination, key string, body []byte) error
	Close() error
}

type Destinations struct {
	PurchaseCompleted string
	SeatsReleased     string
}

type Notifier struct {
	pub    Publisher
	dest   Destinations
	logger *logger.Logger
}

func NewNotifier(pub Publisher, dest Destinations, log *logger.Logger) *Notifier {
	return &Notifier{pub: pub, dest: dest, logger: log}
}

func (n *Notifier) PurchaseCompleted(ctx context.Context, ev PurchaseCompleted) error {
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	return n.publish(ctx, n.dest.PurchaseCompleted, ev.OrderID, ev)
}

func (n *Notifier) SeatsReleased(ctx context.Context, ev SeatsReleased) error {
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	return n.publish(ctx, n.dest.SeatsReleased, ev.OrderID, ev)
}

func (n *Notifier) publish(ctx context.Context, dest string, orderID int64, ev interface{}) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := n.pub.Publish(ctx, dest, strconv.FormatInt(orderID, 10), body); err != nil {
		n.logger.LogKafka("PUBLISH_FAILED", dest, err.Error())
		return err
	}
	n.logger.LogKafka("PUBLISHED", dest, fmt.Sprintf("order %d", orderID))
	return nil
}

func (n *Notifier) Close() error {
	return n.pub.Close()
}
