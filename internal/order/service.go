package order

import (
	"context"
	"sync"
	"time"

	"ms-seatsale/internal/logger"
	"ms-seatsale/internal/models"
	"ms-seatsale/internal/notification"
	"ms-seatsale/internal/order/db"
	"ms-seatsale/internal/payment/gateway"
	"ms-seatsale/internal/validation"
)

// Store is the persistence the saga needs. *db.DB implements it.
type Store interface {
	ResolveTickets(ctx context.Context, ids []int64) (map[int64]*models.Ticket, error)
	UnitTicketIDs(ctx context.Context, seatSaleID, seatUnitID int64) ([]int64, error)
	CouponFacts(ctx context.Context, couponID, userID int64) (validation.CouponFacts, error)
	CampaignFacts(ctx context.Context, code string, userID int64) (validation.CampaignFacts, error)

	CreatePurchase(ctx context.Context, p *db.Purchase) error
	OrderByID(ctx context.Context, id int64) (*models.Order, error)
	OrderByChargeID(ctx context.Context, chargeID string) (*models.Order, error)

	MarkWaitingCapture(ctx context.Context, paymentID int64) error
	HoldTickets(ctx context.Context, ticketIDs []int64, userID int64, until time.Time) error
	FinalizeCapture(ctx context.Context, order *models.Order, codes map[int64]string, now time.Time) error
	FailCapture(ctx context.Context, order *models.Order) ([]int64, error)
	MarkRefunded(ctx context.Context, order *models.Order, now time.Time) error

	RefundOrder(ctx context.Context, orderID int64, now time.Time) (*models.Order, bool, error)
	ConfirmGatewayRefund(ctx context.Context, paymentID int64, now time.Time) error
	UnconfirmedRefunds(ctx context.Context, limit int) ([]*models.Order, error)
	StaleRequests(ctx context.Context, cutoff time.Time, limit int) ([]*models.Order, error)
}

// Reservations is the user's cart and ticket holds. *reservation.Store implements it.
type Reservations interface {
	Selection(ctx context.Context, userID int64) (*models.Cart, error)
	RecheckOwnership(ctx context.Context, userID int64, ticketIDs []int64) (bool, error)
	ExtendOwnership(ctx context.Context, userID int64, ticketIDs []int64, ttl time.Duration) error
	StashChargeID(ctx context.Context, userID int64, chargeID string) error
	ChargeID(ctx context.Context, userID int64) (string, error)
	ClearChargeID(ctx context.Context, userID int64) error
	Clear(ctx context.Context, userID int64) error
}

type ChargeIndex interface {
	Put(ctx context.Context, chargeID string, orderID int64) error
	OrderID(ctx context.Context, chargeID string) (int64, bool, error)
	Touch(ctx context.Context, chargeID string) error
}

type Notifier interface {
	PurchaseCompleted(ctx context.Context, ev notification.PurchaseCompleted) error
	SeatsReleased(ctx context.Context, ev notification.SeatsReleased) error
}

// AdmissionIssuer hands out unique admission codes for sold tickets.
type AdmissionIssuer interface {
	Issue() (string, error)
}

// DisplayTables turns master codes into the labels sent to the gateway.
type DisplayTables interface {
	Season(code string) string
	Round(code string) string
	GameType(code string) string
	Session(code string) string
}

// rawLabels shows master codes as they are.
type rawLabels struct{}

func (rawLabels) Season(code string) string   { return code }
func (rawLabels) Round(code string) string    { return code }
func (rawLabels) GameType(code string) string { return code }
func (rawLabels) Session(code string) string  { return code }

type Deps struct {
	DB           Store
	Reservations Reservations
	Gateway      gateway.Gateway
	Charges      ChargeIndex
	Notifier     Notifier
	Admission    AdmissionIssuer
	Display      DisplayTables
	Logger       *logger.Logger
	// Clock defaults to time.Now.
	Clock func() time.Time
	// HoldTTL is how long holds survive the redirect to the gateway.
	HoldTTL       time.Duration
	PurchaseLimit int
	// NotifyTimeout bounds each fire-and-forget publish.
	NotifyTimeout time.Duration
}

// PaymentTransactor runs the two-phase purchase saga: Request sends the
// customer to the gateway, RequestCompleted confirms the capture when they
// return, and compensation undoes a failed confirmation.
type PaymentTransactor struct {
	db            Store
	reservations  Reservations
	gateway       gateway.Gateway
	charges       ChargeIndex
	notifier      Notifier
	admission     AdmissionIssuer
	display       DisplayTables
	logger        *logger.Logger
	clock         func() time.Time
	holdTTL       time.Duration
	purchaseLimit int
	notifyTimeout time.Duration

	inflight sync.WaitGroup
}

func NewPaymentTransactor(d Deps) *PaymentTransactor {
	t := &PaymentTransactor{
		db:            d.DB,
		reservations:  d.Reservations,
		gateway:       d.Gateway,
		charges:       d.Charges,
		notifier:      d.Notifier,
		admission:     d.Admission,
		display:       d.Display,
		logger:        d.Logger,
		clock:         d.Clock,
		holdTTL:       d.HoldTTL,
		purchaseLimit: d.PurchaseLimit,
		notifyTimeout: d.NotifyTimeout,
	}
	if t.clock == nil {
		t.clock = time.Now
	}
	if t.holdTTL <= 0 {
		t.holdTTL = 15 * time.Minute
	}
	if t.purchaseLimit <= 0 {
		t.purchaseLimit = validation.DefaultPurchaseLimit
	}
	if t.notifyTimeout <= 0 {
		t.notifyTimeout = 10 * time.Second
	}
	if t.logger == nil {
		t.logger = logger.Discard()
	}
	if t.display == nil {
		t.display = rawLabels{}
	}
	return t
}

// Wait blocks until every pending notification has been attempted.
func (t *PaymentTransactor) Wait() {
	t.inflight.Wait()
}

func (t *PaymentTransactor) now() time.Time {
	return t.clock().UTC()
}

// notify runs publish in the background. Failures are logged only.
func (t *PaymentTransactor) notify(what string, publish func(ctx context.Context) error) {
	if t.notifier == nil {
		return
	}
	t.inflight.Add(1)
	go func() {
		defer t.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), t.notifyTimeout)
		defer cancel()
		if err := publish(ctx); err != nil {
			t.logger.Warn("NOTIFY", what+" not published: "+err.Error())
		}
	}()
}
