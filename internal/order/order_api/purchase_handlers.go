package order_api

import (
	"errors"
	"fmt"
	"net/http"

	"ms-seatsale/internal/auth"
	"ms-seatsale/internal/models"
	"ms-seatsale/internal/reservation"
	"ms-seatsale/internal/utils"
)

type cartLine struct {
	TicketID int64 `json:"ticket_id" validate:"required,gt=0"`
	OptionID int64 `json:"option_id" validate:"gte=0"`
}

// cartRequest replaces the caller's cart. A ticket may appear only once.
type cartRequest struct {
	Lines        []cartLine `json:"lines" validate:"required,min=1,max=50,unique=TicketID,dive"`
	CouponID     int64      `json:"coupon_id" validate:"gte=0"`
	CampaignCode string     `json:"campaign_code" validate:"max=64"`
}

func (c cartRequest) cart() models.Cart {
	cart := models.Cart{CouponID: c.CouponID, CampaignCode: c.CampaignCode}
	for _, l := range c.Lines {
		cart.Lines = append(cart.Lines, models.CartLine{TicketID: l.TicketID, OptionID: l.OptionID})
	}
	return cart
}

func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	cart, err := h.Carts.Selection(r.Context(), userID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetCart: user %d: %v", userID, err))
		h.writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to load cart", "internal error"))
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("cart", cart))
}

// PutCart holds the requested tickets for the caller and stores the cart.
func (h *Handler) PutCart(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req cartRequest
	if err := h.decode(w, r, &req); err != nil {
		h.Logger.Warn("API", fmt.Sprintf("PutCart: user %d: invalid body: %v", userID, err))
		h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid cart", err.Error()))
		return
	}

	cart := req.cart()
	err := h.Carts.Hold(r.Context(), userID, cart)
	if errors.Is(err, reservation.ErrTicketsUnavailable) {
		h.writeJSON(w, http.StatusConflict, utils.ErrorResponse("Tickets are held by someone else", err.Error()))
		return
	}
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("PutCart: user %d: %v", userID, err))
		h.writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to hold tickets", "internal error"))
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("tickets held", cart))
}

func (h *Handler) DeleteCart(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if err := h.Carts.Clear(r.Context(), userID); err != nil {
		h.Logger.Error("API", fmt.Sprintf("DeleteCart: user %d: %v", userID, err))
		h.writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to clear cart", "internal error"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RequestPurchase starts payment for the held cart and returns the gateway
// redirect target.
func (h *Handler) RequestPurchase(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	h.Logger.Info("API", fmt.Sprintf("RequestPurchase: user %d", userID))

	out, err := h.Purchaser.Request(r.Context(), userID)
	h.writeOutcome(w, "purchase request", out, err)
}

// PurchaseCompleted is where the gateway sends the customer back.
func (h *Handler) PurchaseCompleted(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	chargeID := r.URL.Query().Get("charge_id")
	if err := h.validate.Var(chargeID, "required,max=255,printascii"); err != nil {
		h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("charge_id is required", err.Error()))
		return
	}
	h.Logger.Info("API", fmt.Sprintf("PurchaseCompleted: user %d, charge %s", userID, chargeID))

	out, err := h.Purchaser.RequestCompleted(r.Context(), userID, chargeID)
	h.writeOutcome(w, "purchase", out, err)
}

func (h *Handler) RefundOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(r, "orderId")
	if !ok {
		h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid order id", "orderId must be a positive integer"))
		return
	}
	h.Logger.LogSecurity("ADMIN_REFUND", fmt.Sprintf("user %d refunds order %d", auth.UserID(r.Context()), orderID))

	out, err := h.Purchaser.Refund(r.Context(), orderID)
	h.writeOutcome(w, "refund", out, err)
}
