package order_api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ms-seatsale/internal/auth"
	"ms-seatsale/internal/logger"
	"ms-seatsale/internal/models"
	"ms-seatsale/internal/order"
	"ms-seatsale/internal/order/db"
	"ms-seatsale/internal/reservation"
	"ms-seatsale/internal/tickets/admission"
	"ms-seatsale/internal/tickets/template"
	"ms-seatsale/internal/utils"
	"ms-seatsale/internal/validation"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const adminRole = "seatsale-admin"

type mockPurchaser struct {
	mock.Mock
}

func (m *mockPurchaser) Request(ctx context.Context, userID int64) (order.Outcome, error) {
	args := m.Called(userID)
	return args.Get(0).(order.Outcome), args.Error(1)
}

func (m *mockPurchaser) RequestCompleted(ctx context.Context, userID int64, chargeID string) (order.Outcome, error) {
	args := m.Called(userID, chargeID)
	return args.Get(0).(order.Outcome), args.Error(1)
}

func (m *mockPurchaser) Refund(ctx context.Context, orderID int64) (order.Outcome, error) {
	args := m.Called(orderID)
	return args.Get(0).(order.Outcome), args.Error(1)
}

type ticketMap map[int64]*models.Ticket

func (m ticketMap) TicketByID(_ context.Context, id int64) (*models.Ticket, error) {
	if t, ok := m[id]; ok {
		return t, nil
	}
	return nil, db.ErrNotFound
}

func (m ticketMap) SaleAvailability(_ context.Context, saleID int64, now time.Time) ([]db.AreaAvailability, error) {
	counts := map[int64]*db.AreaAvailability{}
	var out []db.AreaAvailability
	for _, t := range m {
		if t.SeatSaleID != saleID {
			continue
		}
		a, ok := counts[t.SeatAreaID]
		if !ok {
			a = &db.AreaAvailability{SeatAreaID: t.SeatAreaID}
			counts[t.SeatAreaID] = a
		}
		if t.Status == models.TicketSold {
			a.Sold++
		} else {
			a.Available++
		}
	}
	for _, a := range counts {
		out = append(out, *a)
	}
	return out, nil
}

type testAPI struct {
	server    http.Handler
	purchaser *mockPurchaser
	carts     *reservation.Store
	signer    *auth.HMACVerifier
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	log := logger.Discard()
	carts := reservation.NewStore(client, log, time.Minute)
	p := &mockPurchaser{}
	tickets := ticketMap{
		5: {ID: 5, SeatSaleID: 2, SeatAreaID: 1, Status: models.TicketSold, UserID: 7, QRTicketID: "QRabc", Row: "A", SeatNumber: "1",
			SeatArea: &models.SeatArea{Name: "Main stand"}},
		6: {ID: 6, SeatSaleID: 2, SeatAreaID: 1, Status: models.TicketAvailable},
	}
	signer := auth.NewHMACVerifier("test-secret")
	h := NewHandler(p, carts, tickets, admission.NewQRGenerator("qr-secret"), template.NewTicketPDFGenerator("Spring Cup"), log)

	return &testAPI{server: h.Routes(signer, adminRole), purchaser: p, carts: carts, signer: signer}
}

func (a *testAPI) do(t *testing.T, method, path string, userID int64, roles []string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != 0 {
		token, err := a.signer.Sign(userID, roles, time.Minute)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.server.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) utils.APIResponse {
	t.Helper()
	var resp utils.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealthIsPublic(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodGet, "/healthz", 0, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeResponse(t, rec).Success)
}

func TestAPIRequiresToken(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodPost, "/api/purchase/request", 0, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	api.purchaser.AssertNotCalled(t, "Request", mock.Anything)
}

func TestPutCart(t *testing.T) {
	api := newTestAPI(t)

	body := map[string]interface{}{
		"lines":     []map[string]int64{{"ticket_id": 1}, {"ticket_id": 2, "option_id": 3}},
		"coupon_id": 9,
	}
	rec := api.do(t, http.MethodPut, "/api/cart", 7, nil, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	cart, err := api.carts.Selection(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, cart.TicketIDs())
	assert.Equal(t, int64(9), cart.CouponID)

	rec = api.do(t, http.MethodPut, "/api/cart", 8, nil, map[string]interface{}{
		"lines": []map[string]int64{{"ticket_id": 2}},
	})
	assert.Equal(t, http.StatusConflict, rec.Code, "ticket 2 is held by user 7")

	rec = api.do(t, http.MethodGet, "/api/cart", 7, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodDelete, "/api/cart", 7, nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	cart, err = api.carts.Selection(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, cart.Empty())
}

func TestPutCartValidation(t *testing.T) {
	api := newTestAPI(t)

	tests := []struct {
		name string
		body interface{}
	}{
		{"no lines", map[string]interface{}{"lines": []interface{}{}}},
		{"duplicate ticket", map[string]interface{}{"lines": []map[string]int64{{"ticket_id": 1}, {"ticket_id": 1, "option_id": 2}}}},
		{"zero ticket id", map[string]interface{}{"lines": []map[string]int64{{"ticket_id": 0}}}},
		{"negative coupon", map[string]interface{}{"lines": []map[string]int64{{"ticket_id": 1}}, "coupon_id": -1}},
		{"unknown field", map[string]interface{}{"lines": []map[string]int64{{"ticket_id": 1}}, "price": 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(t, http.MethodPut, "/api/cart", 7, nil, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestRequestPurchaseOutcomes(t *testing.T) {
	tests := []struct {
		name     string
		out      order.Outcome
		err      error
		wantCode int
		wantRule string
	}{
		{"succeeded", order.Outcome{Kind: order.Succeeded, OrderID: 1, ChargeID: "ch_1", RedirectURL: "https://pay/ch_1"}, nil, http.StatusOK, ""},
		{"rejected", order.Outcome{Kind: order.Rejected, Code: validation.CartIsEmpty}, nil, http.StatusUnprocessableEntity, "cart_is_empty"},
		{"recoverable", order.Outcome{Kind: order.Recoverable, Code: validation.CaptureFailed}, nil, http.StatusConflict, "capture_failed"},
		{"unexpected", order.Outcome{Kind: order.Unexpected}, errors.New("db down"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestAPI(t)
			api.purchaser.On("Request", int64(7)).Return(tt.out, tt.err).Once()

			rec := api.do(t, http.MethodPost, "/api/purchase/request", 7, nil, nil)
			assert.Equal(t, tt.wantCode, rec.Code)
			resp := decodeResponse(t, rec)
			assert.Equal(t, tt.wantRule, resp.Code)
			api.purchaser.AssertExpectations(t)
		})
	}
}

func TestRequestPurchaseReturnsRedirect(t *testing.T) {
	api := newTestAPI(t)
	api.purchaser.On("Request", int64(7)).Return(order.Outcome{Kind: order.Succeeded, OrderID: 3, RedirectURL: "https://pay/ch_1"}, nil)

	rec := api.do(t, http.MethodPost, "/api/purchase/request", 7, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data order.Outcome `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "https://pay/ch_1", resp.Data.RedirectURL)
	assert.Equal(t, int64(3), resp.Data.OrderID)
}

func TestPurchaseCompleted(t *testing.T) {
	api := newTestAPI(t)
	api.purchaser.On("RequestCompleted", int64(7), "ch_1").Return(order.Outcome{Kind: order.Succeeded, OrderID: 3, ChargeID: "ch_1"}, nil)

	rec := api.do(t, http.MethodGet, "/api/purchase/completed?charge_id=ch_1", 7, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/purchase/completed", 7, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	api.purchaser.AssertNumberOfCalls(t, "RequestCompleted", 1)
}

func TestRefundNeedsAdmin(t *testing.T) {
	api := newTestAPI(t)
	api.purchaser.On("Refund", int64(12)).Return(order.Outcome{Kind: order.Succeeded, OrderID: 12}, nil)

	rec := api.do(t, http.MethodPost, "/api/admin/orders/12/refund", 7, nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	api.purchaser.AssertNotCalled(t, "Refund", mock.Anything)

	rec = api.do(t, http.MethodPost, "/api/admin/orders/abc/refund", 1, []string{adminRole}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/admin/orders/12/refund", 1, []string{adminRole}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	api.purchaser.AssertExpectations(t)
}

func TestRefundUnknownOrder(t *testing.T) {
	api := newTestAPI(t)
	api.purchaser.On("Refund", int64(99)).Return(order.Outcome{Kind: order.Rejected, Code: validation.NoOrder}, nil)

	rec := api.do(t, http.MethodPost, "/api/admin/orders/99/refund", 1, []string{adminRole}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(validation.NoOrder), decodeResponse(t, rec).Code)
}

func TestTicketQR(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/api/tickets/5/qr", 7, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	rec = api.do(t, http.MethodGet, "/api/tickets/5/qr", 8, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "another user's ticket")

	rec = api.do(t, http.MethodGet, "/api/tickets/6/qr", 7, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "unsold ticket")

	rec = api.do(t, http.MethodGet, "/api/tickets/404/qr", 7, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTicketPDF(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/api/tickets/5/pdf", 7, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "ticket-5.pdf")
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")))

	rec = api.do(t, http.MethodGet, "/api/tickets/6/pdf", 7, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdmissionPayload(t *testing.T) {
	date := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	p := admissionPayload(&models.Ticket{
		ID: 5, UserID: 7, QRTicketID: "QRabc", Row: "B", SeatNumber: "12",
		SeatArea: &models.SeatArea{Name: "Main stand"},
		SeatSale: &models.SeatSale{HoldDailySchedule: &models.HoldDailySchedule{EventDate: date}},
	})
	assert.Equal(t, "B-12", p.Seat)
	assert.Equal(t, "Main stand", p.Area)
	assert.True(t, date.Equal(p.EventDate))
}

func TestSaleAvailability(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/api/sales/2/availability", 7, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data []db.AreaAvailability `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []db.AreaAvailability{{SeatAreaID: 1, Available: 1, Sold: 1}}, resp.Data)

	rec = api.do(t, http.MethodGet, "/api/sales/3/availability", 7, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/sales/x/availability", 7, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
