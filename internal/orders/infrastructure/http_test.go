package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-fulfillment/internal/orders/adapters"
	"go-fulfillment/internal/orders/admission"
	"go-fulfillment/internal/orders/application"
	"go-fulfillment/pkg/errors"
	"go-fulfillment/pkg/logger"
	"go-fulfillment/pkg/middleware"
)

const testSecret = "test-secret"

type testAPI struct {
	router  *gin.Engine
	gateway *adapters.SandboxGateway
	ledger  *adapters.MemorySessionLedger
	buyer   string
	other   string
	admin   string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.Nop()

	lifecycle := application.NewLifecycleService(
		adapters.NewMemoryOrderRepository(),
		adapters.NewMemoryBookingRepository(),
		adapters.NewStaticCatalog(adapters.DemoMenu()...),
		nil, log,
	)
	gateway := adapters.NewSandboxGateway(false)
	modes := application.NewPaymentModes(false)
	ledger := adapters.NewMemorySessionLedger()
	saga := application.NewReconciliationSaga(lifecycle, gateway, ledger, modes,
		application.SagaConfig{Currency: "usd"}, log, nil)
	waiter := admission.NewWaiter(lifecycle, admission.Config{
		Interval: 5 * time.Millisecond,
		Deadline: 30 * time.Millisecond,
	}, log)

	router := gin.New()
	router.Use(middleware.TraceID())
	router.Use(middleware.ErrorHandler(log))
	NewHTTPHandler(lifecycle, saga, modes, waiter, HTTPConfig{
		PublicBaseURL: "https://shop.example/",
		JWTSecret:     testSecret,
	}).RegisterRoutes(router.Group("/api/v1"))

	return &testAPI{
		router:  router,
		gateway: gateway,
		ledger:  ledger,
		buyer:   token(t, "buyer-1", "buyer"),
		other:   token(t, "buyer-2", "buyer"),
		admin:   token(t, "ops-1", middleware.RoleAdmin),
	}
}

func token(t *testing.T, subject, role string) string {
	t.Helper()
	tok, err := middleware.IssueToken(testSecret, subject, role, time.Hour)
	require.NoError(t, err)
	return tok
}

// do sends the request and decodes the data field of the envelope into out
func (a *testAPI) do(t *testing.T, method, path, tok string, body interface{}, out interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	if out != nil && w.Code < 300 {
		envelope := struct {
			Data json.RawMessage `json:"data"`
		}{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
		require.NoError(t, json.Unmarshal(envelope.Data, out))
	}
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errors.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error.Code
}

func (a *testAPI) placeOrder(t *testing.T) OrderResponse {
	t.Helper()
	var order OrderResponse
	w := a.do(t, http.MethodPost, "/api/v1/orders", a.buyer, CreateOrderRequest{
		Items:           []OrderItemRequest{{ItemID: 1, Quantity: 2}, {ItemID: 2, Quantity: 1}},
		DeliveryAddress: "12 Marina Road",
		ContactNumber:   "+2348000000000",
	}, &order)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return order
}

func (a *testAPI) confirm(t *testing.T, id string) {
	t.Helper()
	w := a.do(t, http.MethodPost, "/api/v1/orders/"+id+"/transition", a.admin,
		TransitionRequest{Next: StatusRequest{Kind: "confirmed"}}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestHTTP_CreateOrder(t *testing.T) {
	// Arrange
	api := newTestAPI(t)

	// Act
	order := api.placeOrder(t)

	// Assert
	assert.Equal(t, uint64(1), order.ID)
	assert.Equal(t, "buyer-1", order.Owner)
	assert.Equal(t, int64(4800), order.Amount)
	assert.Equal(t, "pendingPayment", order.Status.Kind)
	assert.False(t, order.Status.Terminal)
	assert.Len(t, order.Items, 2)
	assert.Len(t, order.History, 1)
}

func TestHTTP_CreateOrderRejectsBadInput(t *testing.T) {
	api := newTestAPI(t)

	tests := []struct {
		name string
		body interface{}
		want int
	}{
		{"no items", CreateOrderRequest{DeliveryAddress: "x"}, http.StatusBadRequest},
		{"unavailable item", CreateOrderRequest{Items: []OrderItemRequest{{ItemID: 4, Quantity: 1}}}, http.StatusBadRequest},
		{"unknown item", CreateOrderRequest{Items: []OrderItemRequest{{ItemID: 99, Quantity: 1}}}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(t, http.MethodPost, "/api/v1/orders", api.buyer, tt.body, nil)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestHTTP_RequiresToken(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodGet, "/api/v1/orders", "", nil, nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, errors.CodeUnauthorized, errorCode(t, w))
	assert.NotEmpty(t, w.Header().Get(middleware.TraceIDHeader))
}

func TestHTTP_OtherBuyersOrderIsHidden(t *testing.T) {
	api := newTestAPI(t)
	api.placeOrder(t)

	w := api.do(t, http.MethodGet, "/api/v1/orders/1", api.other, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	var list []OrderResponse
	w = api.do(t, http.MethodGet, "/api/v1/orders", api.other, nil, &list)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, list)

	w = api.do(t, http.MethodGet, "/api/v1/orders/1", api.admin, nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHTTP_InvalidID(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodGet, "/api/v1/orders/abc/status", api.buyer, nil, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, errors.CodeValidation, errorCode(t, w))
}

func TestHTTP_Transition(t *testing.T) {
	api := newTestAPI(t)
	api.placeOrder(t)

	// Buyers may not accept their own order
	w := api.do(t, http.MethodPost, "/api/v1/orders/1/transition", api.buyer,
		TransitionRequest{Next: StatusRequest{Kind: "confirmed"}}, nil)
	assert.Equal(t, http.StatusForbidden, w.Code, w.Body.String())

	// Stale expectation
	w = api.do(t, http.MethodPost, "/api/v1/orders/1/transition", api.admin, TransitionRequest{
		Next:     StatusRequest{Kind: "inProgress"},
		Expected: &StatusRequest{Kind: "confirmed"},
	}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, errors.CodeConcurrentModification, errorCode(t, w))

	// Unknown status kind
	w = api.do(t, http.MethodPost, "/api/v1/orders/1/transition", api.admin,
		TransitionRequest{Next: StatusRequest{Kind: "teleported"}}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Skipping ahead is not a legal move
	w = api.do(t, http.MethodPost, "/api/v1/orders/1/transition", api.admin,
		TransitionRequest{Next: StatusRequest{Kind: "completed"}}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, errors.CodeInvalidTransition, errorCode(t, w))

	var record RecordResponse
	w = api.do(t, http.MethodPost, "/api/v1/orders/1/transition", api.buyer,
		TransitionRequest{Next: StatusRequest{Kind: "cancelled", Reason: "changed my mind"}}, &record)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "cancelled", record.Status.Kind)
	assert.Equal(t, "changed my mind", record.Status.Reason)
	assert.True(t, record.Status.Terminal)

	var history []HistoryEntryResponse
	w = api.do(t, http.MethodGet, "/api/v1/orders/1/history", api.buyer, nil, &history)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, history, 2)
	assert.Equal(t, "pendingPayment", history[0].Status.Kind)
	assert.Equal(t, "cancelled", history[1].Status.Kind)
}

func TestHTTP_WaitForAdmission(t *testing.T) {
	api := newTestAPI(t)
	api.placeOrder(t)

	var res AdmissionResponse
	w := api.do(t, http.MethodGet, "/api/v1/orders/1/admission", api.buyer, nil, &res)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, string(admission.OutcomeTimedOut), res.Outcome)
	assert.Equal(t, "pendingPayment", res.Status.Kind)

	api.confirm(t, "1")

	w = api.do(t, http.MethodGet, "/api/v1/orders/1/admission", api.buyer, nil, &res)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(admission.OutcomeAdmitted), res.Outcome)
	assert.Equal(t, 1, res.Polls)
}

func TestHTTP_CashPayment(t *testing.T) {
	api := newTestAPI(t)
	api.placeOrder(t)

	w := api.do(t, http.MethodPost, "/api/v1/orders/1/payments/cash", api.buyer, nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "cash before admission")

	api.confirm(t, "1")

	var record RecordResponse
	w = api.do(t, http.MethodPost, "/api/v1/orders/1/payments/cash", api.buyer, nil, &record)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "CASH_ON_DELIVERY", record.PaymentReference)
	assert.Equal(t, "cash_on_delivery", record.PaymentMethod)

	var state PaymentStateResponse
	w = api.do(t, http.MethodGet, "/api/v1/orders/1/payments", api.buyer, nil, &state)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(application.StageSettled), state.Stage)

	w = api.do(t, http.MethodPost, "/api/v1/orders/1/payments/cash", api.buyer, nil, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, errors.CodePaymentReferenceAlreadySet, errorCode(t, w))
}

func TestHTTP_CheckoutSuccess(t *testing.T) {
	api := newTestAPI(t)
	api.placeOrder(t)
	api.confirm(t, "1")

	var checkout CheckoutResponse
	w := api.do(t, http.MethodPost, "/api/v1/orders/1/payments/checkout", api.buyer, nil, &checkout)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "https://shop.example/api/v1/payments/success?session_id="+checkout.SessionID, checkout.RedirectURL)

	// The buyer comes back before the gateway has settled
	var completion CompletionResponse
	w = api.do(t, http.MethodGet, "/api/v1/payments/success?session_id="+checkout.SessionID, "", nil, &completion)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "open", completion.Outcome)
	assert.Empty(t, completion.Record.PaymentReference)

	require.NoError(t, api.gateway.Resolve(checkout.SessionID, true))

	w = api.do(t, http.MethodGet, "/api/v1/payments/success?session_id="+checkout.SessionID, "", nil, &completion)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "completed", completion.Outcome)
	assert.False(t, completion.Replayed)
	assert.Equal(t, "SANDBOX_"+checkout.SessionID, completion.Record.PaymentReference)
	assert.Equal(t, "gateway", completion.Record.PaymentMethod)

	w = api.do(t, http.MethodGet, "/api/v1/payments/success?session_id="+checkout.SessionID, "", nil, &completion)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, completion.Replayed)

	w = api.do(t, http.MethodGet, "/api/v1/payments/success?session_id=sbx_unknown", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHTTP_CheckoutCancel(t *testing.T) {
	api := newTestAPI(t)
	api.placeOrder(t)
	api.confirm(t, "1")

	var checkout CheckoutResponse
	w := api.do(t, http.MethodPost, "/api/v1/orders/1/payments/checkout", api.buyer, nil, &checkout)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var again CheckoutResponse
	w = api.do(t, http.MethodPost, "/api/v1/orders/1/payments/checkout", api.buyer, nil, &again)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, checkout.SessionID, again.SessionID)
	assert.True(t, again.Resumed)

	entry, err := api.ledger.Get(context.Background(), checkout.SessionID)
	require.NoError(t, err)
	require.NotEmpty(t, entry.CancelToken)

	w = api.do(t, http.MethodGet, "/api/v1/payments/cancel?entity=order&id=1", "", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = api.do(t, http.MethodGet, "/api/v1/payments/cancel?entity=order&id=1&token=guess", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = api.do(t, http.MethodGet, "/api/v1/payments/cancel", "", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var outs []CompletionResponse
	w = api.do(t, http.MethodGet, "/api/v1/payments/cancel?entity=order&id=1&token="+entry.CancelToken, "", nil, &outs)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, outs, 1)
	assert.Equal(t, "failed", outs[0].Outcome)
	assert.Equal(t, "confirmed", outs[0].Record.Status.Kind)
}

func TestHTTP_AbandonCheckouts(t *testing.T) {
	api := newTestAPI(t)
	api.placeOrder(t)
	api.confirm(t, "1")
	w := api.do(t, http.MethodPost, "/api/v1/orders/1/payments/checkout", api.buyer, nil, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = api.do(t, http.MethodPost, "/api/v1/orders/1/payments/abandon", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = api.do(t, http.MethodPost, "/api/v1/orders/1/payments/abandon", api.other, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	var outs []CompletionResponse
	w = api.do(t, http.MethodPost, "/api/v1/orders/1/payments/abandon", api.buyer, nil, &outs)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, outs, 1)
	assert.Equal(t, "failed", outs[0].Outcome)
	assert.Equal(t, "confirmed", outs[0].Record.Status.Kind)

	var state PaymentStateResponse
	w = api.do(t, http.MethodGet, "/api/v1/orders/1/payments", api.buyer, nil, &state)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "admitted", state.Stage)
}

func TestHTTP_CashOnlyToggle(t *testing.T) {
	api := newTestAPI(t)
	on := true

	w := api.do(t, http.MethodPut, "/api/v1/admin/payments/cash-only", api.buyer, CashOnlyRequest{CashOnly: &on}, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	var caps CapabilitiesResponse
	w = api.do(t, http.MethodPut, "/api/v1/admin/payments/cash-only", api.admin, CashOnlyRequest{CashOnly: &on}, &caps)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, caps.CashOnly)
	assert.Equal(t, []string{"cash_on_delivery"}, caps.Methods)

	w = api.do(t, http.MethodPut, "/api/v1/admin/payments/cash-only", api.admin, map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	api.placeOrder(t)
	api.confirm(t, "1")
	w = api.do(t, http.MethodPost, "/api/v1/orders/1/payments/checkout", api.buyer, nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, errors.CodeGatewayRejected, errorCode(t, w))

	w = api.do(t, http.MethodGet, "/api/v1/payments/capabilities", api.buyer, nil, &caps)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, caps.CashOnly)
	assert.True(t, caps.GatewayConfigured)
	assert.Equal(t, adapters.SandboxProvider, caps.Provider)
}

func TestHTTP_SetPaymentReference(t *testing.T) {
	api := newTestAPI(t)
	api.placeOrder(t)

	body := PaymentReferenceRequest{Reference: "QR_CODE_PAYMENT"}
	w := api.do(t, http.MethodPut, "/api/v1/orders/1/payment-reference", api.buyer, body, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	var record RecordResponse
	w = api.do(t, http.MethodPut, "/api/v1/orders/1/payment-reference", api.admin, body, &record)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "QR_CODE_PAYMENT", record.PaymentReference)
	assert.Equal(t, "confirmed", record.Status.Kind)

	w = api.do(t, http.MethodPut, "/api/v1/orders/1/payment-reference", api.admin, body, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHTTP_Bookings(t *testing.T) {
	api := newTestAPI(t)

	var booking BookingResponse
	w := api.do(t, http.MethodPost, "/api/v1/bookings", api.buyer, CreateBookingRequest{
		EventDate:    time.Date(2026, 12, 24, 19, 0, 0, 0, time.UTC),
		Location:     "Riverside Hall",
		EventDetails: "dinner for 12",
		Price:        50000,
	}, &booking)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "booking", booking.Entity)
	assert.True(t, strings.HasPrefix(booking.EventDate, "2026-12-24"))

	w = api.do(t, http.MethodPost, "/api/v1/bookings/1/transition", api.admin,
		TransitionRequest{Next: StatusRequest{Kind: "inProgress"}}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "bookings have no kitchen stages")

	var status StatusResponse
	w = api.do(t, http.MethodGet, "/api/v1/bookings/1/status", api.buyer, nil, &status)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pendingPayment", status.Kind)
	assert.Equal(t, "Pending Payment", status.Label)
}
