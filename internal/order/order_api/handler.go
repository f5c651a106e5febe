package order_api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"ms-seatsale/internal/auth"
	"ms-seatsale/internal/logger"
	"ms-seatsale/internal/models"
	"ms-seatsale/internal/order"
	"ms-seatsale/internal/order/db"
	"ms-seatsale/internal/tickets/admission"
	"ms-seatsale/internal/tickets/template"
	"ms-seatsale/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
)

// Purchaser is the saga surface the handlers drive. *order.PaymentTransactor
// implements it.
type Purchaser interface {
	Request(ctx context.Context, userID int64) (order.Outcome, error)
	RequestCompleted(ctx context.Context, userID int64, chargeID string) (order.Outcome, error)
	Refund(ctx context.Context, orderID int64) (order.Outcome, error)
}

// Carts is the reservation store. *reservation.Store implements it.
type Carts interface {
	Hold(ctx context.Context, userID int64, cart models.Cart) error
	Selection(ctx context.Context, userID int64) (*models.Cart, error)
	Clear(ctx context.Context, userID int64) error
}

// TicketLookup reads tickets. *db.DB implements it.
type TicketLookup interface {
	TicketByID(ctx context.Context, id int64) (*models.Ticket, error)
	SaleAvailability(ctx context.Context, seatSaleID int64, now time.Time) ([]db.AreaAvailability, error)
}

type Handler struct {
	Purchaser Purchaser
	Carts     Carts
	Tickets   TicketLookup
	QR        *admission.QRGenerator
	PDF       *template.TicketPDFGenerator
	Logger    *logger.Logger

	validate *validator.Validate
}

func NewHandler(p Purchaser, carts Carts, tickets TicketLookup, qr *admission.QRGenerator, pdf *template.TicketPDFGenerator, log *logger.Logger) *Handler {
	return &Handler{
		Purchaser: p,
		Carts:     carts,
		Tickets:   tickets,
		QR:        qr,
		PDF:       pdf,
		Logger:    log,
		validate:  validator.New(),
	}
}

// Routes mounts the API. Everything under /api needs a verified token; the
// admin routes also need adminRole.
func (h *Handler) Routes(v auth.Verifier, adminRole string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware(v, h.Logger))

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.GetCart)
			r.Put("/", h.PutCart)
			r.Delete("/", h.DeleteCart)
		})
		r.Post("/purchase/request", h.RequestPurchase)
		r.Get("/purchase/completed", h.PurchaseCompleted)
		r.Get("/tickets/{ticketId}/qr", h.TicketQR)
		r.Get("/tickets/{ticketId}/pdf", h.TicketPDF)
		r.Get("/sales/{saleId}/availability", h.SaleAvailability)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(adminRole, h.Logger))
			r.Post("/admin/orders/{orderId}/refund", h.RefundOrder)
		})
	})
	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("ok", nil))
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.Logger.LogAPI(r.Method, r.URL.Path, strconv.Itoa(ww.Status()), time.Since(start).String())
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	if err := utils.WriteJSON(w, status, body); err != nil {
		h.Logger.Error("API", fmt.Sprintf("failed to encode response: %v", err))
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return h.validate.Struct(dst)
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

// writeOutcome maps a saga outcome to a response. Rejections carry their
// rule code verbatim.
func (h *Handler) writeOutcome(w http.ResponseWriter, what string, out order.Outcome, err error) {
	switch out.Kind {
	case order.Succeeded:
		h.writeJSON(w, http.StatusOK, utils.SuccessResponse(what+" succeeded", out))
	case order.Rejected:
		h.writeJSON(w, http.StatusUnprocessableEntity, utils.CodeResponse(what+" rejected", string(out.Code), out))
	case order.Recoverable:
		h.writeJSON(w, http.StatusConflict, utils.CodeResponse(what+" failed, please retry", string(out.Code), out))
	default:
		h.Logger.Error("API", fmt.Sprintf("%s: %s outcome: %v", what, out.Kind, err))
		h.writeJSON(w, http.StatusInternalServerError, utils.CodeResponse(what+" failed", string(out.Code), out))
	}
}
