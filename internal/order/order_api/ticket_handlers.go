package order_api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"ms-seatsale/internal/auth"
	"ms-seatsale/internal/models"
	"ms-seatsale/internal/order/db"
	"ms-seatsale/internal/tickets/admission"
	"ms-seatsale/internal/utils"
)

// ownedTicket loads a sold ticket of the caller. Tickets of other users and
// unsold tickets look missing. It writes the error response itself.
func (h *Handler) ownedTicket(w http.ResponseWriter, r *http.Request, op string) (*models.Ticket, bool) {
	userID := auth.UserID(r.Context())
	ticketID, ok := pathID(r, "ticketId")
	if !ok {
		h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid ticket id", "ticketId must be a positive integer"))
		return nil, false
	}

	ticket, err := h.Tickets.TicketByID(r.Context(), ticketID)
	if errors.Is(err, db.ErrNotFound) {
		h.writeJSON(w, http.StatusNotFound, utils.ErrorResponse("Ticket not found", ""))
		return nil, false
	}
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("%s: ticket %d: %v", op, ticketID, err))
		h.writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to load ticket", "internal error"))
		return nil, false
	}
	if ticket.Status != models.TicketSold || ticket.UserID != userID || ticket.QRTicketID == "" {
		h.writeJSON(w, http.StatusNotFound, utils.ErrorResponse("Ticket not found", ""))
		return nil, false
	}
	return ticket, true
}

// TicketQR returns the admission QR code of a ticket the caller bought.
func (h *Handler) TicketQR(w http.ResponseWriter, r *http.Request) {
	ticket, ok := h.ownedTicket(w, r, "TicketQR")
	if !ok {
		return
	}
	png, err := h.QR.GenerateEncryptedQR(admissionPayload(ticket))
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("TicketQR: ticket %d: %v", ticket.ID, err))
		h.writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to render QR code", "internal error"))
		return
	}
	h.writeFile(w, "image/png", png)
}

// TicketPDF returns a printable ticket carrying the same QR code.
func (h *Handler) TicketPDF(w http.ResponseWriter, r *http.Request) {
	ticket, ok := h.ownedTicket(w, r, "TicketPDF")
	if !ok {
		return
	}
	doc, err := h.renderPDF(ticket)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("TicketPDF: ticket %d: %v", ticket.ID, err))
		h.writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to render ticket", "internal error"))
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="ticket-%d.pdf"`, ticket.ID))
	h.writeFile(w, "application/pdf", doc)
}

func (h *Handler) renderPDF(ticket *models.Ticket) ([]byte, error) {
	payload := admissionPayload(ticket)
	png, err := h.QR.GenerateEncryptedQR(payload)
	if err != nil {
		return nil, err
	}
	return h.PDF.Generate(payload, png)
}

func (h *Handler) writeFile(w http.ResponseWriter, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Header().Set("Cache-Control", "private, no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		h.Logger.Warn("API", fmt.Sprintf("write failed: %v", err))
	}
}

// SaleAvailability reports how many seats of each area are still open.
func (h *Handler) SaleAvailability(w http.ResponseWriter, r *http.Request) {
	saleID, ok := pathID(r, "saleId")
	if !ok {
		h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid sale id", "saleId must be a positive integer"))
		return
	}

	areas, err := h.Tickets.SaleAvailability(r.Context(), saleID, time.Now())
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("SaleAvailability: sale %d: %v", saleID, err))
		h.writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to count seats", "internal error"))
		return
	}
	if len(areas) == 0 {
		h.writeJSON(w, http.StatusNotFound, utils.ErrorResponse("Sale not found", ""))
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("availability", areas))
}

func admissionPayload(t *models.Ticket) admission.Payload {
	p := admission.Payload{
		QRTicketID: t.QRTicketID,
		TicketID:   t.ID,
		UserID:     t.UserID,
		Seat:       t.SeatLabel(),
	}
	if t.SeatArea != nil {
		p.Area = t.SeatArea.Name
	}
	if t.SeatSale != nil && t.SeatSale.HoldDailySchedule != nil {
		p.EventDate = t.SeatSale.HoldDailySchedule.EventDate
	}
	return p
}
