package infrastructure

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"go-fulfillment/internal/orders/admission"
	"go-fulfillment/internal/orders/application"
	"go-fulfillment/internal/orders/domain"
	"go-fulfillment/pkg/errors"
	"go-fulfillment/pkg/middleware"
)

// HTTPConfig holds what the handlers need beyond the services
type HTTPConfig struct {
	// PublicBaseURL is where the buyer's browser reaches this service,
	// used to build checkout return URLs
	PublicBaseURL string
	JWTSecret     string
}

// HTTPHandler handles HTTP requests for orders, bookings and payments
type HTTPHandler struct {
	lifecycle *application.LifecycleService
	saga      *application.ReconciliationSaga
	modes     *application.PaymentModes
	waiter    *admission.Waiter
	cfg       HTTPConfig
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(
	lifecycle *application.LifecycleService,
	saga *application.ReconciliationSaga,
	modes *application.PaymentModes,
	waiter *admission.Waiter,
	cfg HTTPConfig,
) *HTTPHandler {
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	return &HTTPHandler{
		lifecycle: lifecycle,
		saga:      saga,
		modes:     modes,
		waiter:    waiter,
		cfg:       cfg,
	}
}

// RegisterRoutes registers the API under r, normally /api/v1
func (h *HTTPHandler) RegisterRoutes(r *gin.RouterGroup) {
	// Checkout returns come from the buyer's browser without a token
	public := r.Group("/payments")
	{
		public.GET("/success", h.CheckoutSuccess)
		public.GET("/cancel", h.CheckoutCancel)
	}

	auth := r.Group("", middleware.Authenticate(h.cfg.JWTSecret))
	auth.GET("/payments/capabilities", h.Capabilities)

	orders := auth.Group("/orders")
	{
		orders.POST("", h.CreateOrder)
		orders.GET("", h.ListOrders)
		orders.GET("/:id", h.GetOrder)
		h.registerRecordRoutes(orders, domain.EntityOrder)
	}

	bookings := auth.Group("/bookings")
	{
		bookings.POST("", h.CreateBooking)
		bookings.GET("", h.ListBookings)
		bookings.GET("/:id", h.GetBooking)
		h.registerRecordRoutes(bookings, domain.EntityBooking)
	}

	admin := auth.Group("/admin", middleware.RequireAdmin())
	{
		admin.PUT("/payments/cash-only", h.SetCashOnly)
	}
}

func (h *HTTPHandler) registerRecordRoutes(g *gin.RouterGroup, entity domain.EntityKind) {
	g.GET("/:id/status", h.GetStatus(entity))
	g.GET("/:id/history", h.GetHistory(entity))
	g.POST("/:id/transition", h.Transition(entity))
	g.GET("/:id/admission", h.WaitForAdmission(entity))
	g.GET("/:id/payments", h.PaymentState(entity))
	g.POST("/:id/payments/cash", h.SettleCash(entity))
	g.POST("/:id/payments/checkout", h.StartCheckout(entity))
	g.POST("/:id/payments/abandon", h.AbandonCheckouts(entity))
	g.PUT("/:id/payment-reference", middleware.RequireAdmin(), h.SetPaymentReference(entity))
}

// CreateOrder places an order
// @Summary Place an order
// @Description Price the items against the menu and create an order in pendingPayment
// @Tags orders
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param request body CreateOrderRequest true "Order request"
// @Success 201 {object} SuccessResponse{data=OrderResponse} "Order created"
// @Failure 400 {object} errors.ErrorResponse "Validation error"
// @Failure 401 {object} errors.ErrorResponse "Missing or invalid token"
// @Router /api/v1/orders [post]
func (h *HTTPHandler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewValidation("invalid request body", err.Error()))
		return
	}

	items := make([]domain.Item, len(req.Items))
	for i, item := range req.Items {
		items[i] = domain.Item{
			ItemID:              item.ItemID,
			Quantity:            item.Quantity,
			SpecialInstructions: item.SpecialInstructions,
		}
	}

	output, err := h.lifecycle.CreateOrder(c.Request.Context(), principal(c), application.CreateOrderInput{
		Items: items,
		Details: domain.OrderDetails{
			DeliveryAddress:     req.DeliveryAddress,
			ContactNumber:       req.ContactNumber,
			SpecialInstructions: req.SpecialInstructions,
		},
	})
	if err != nil {
		c.Error(err)
		return
	}

	respond(c, http.StatusCreated, orderResponse(output.Order))
}

// ListOrders lists orders of an owner
// @Summary List orders
// @Description List the caller's orders; admins may pass another owner
// @Tags orders
// @Produce json
// @Security ApiKeyAuth
// @Param owner query string false "Owner subject, admin only"
// @Success 200 {object} SuccessResponse{data=[]OrderResponse}
// @Failure 403 {object} errors.ErrorResponse "Not allowed to list another owner"
// @Router /api/v1/orders [get]
func (h *HTTPHandler) ListOrders(c *gin.Context) {
	orders, err := h.lifecycle.ListOrdersByOwner(c.Request.Context(), principal(c), c.Query("owner"))
	if err != nil {
		c.Error(err)
		return
	}

	out := make([]OrderResponse, len(orders))
	for i, order := range orders {
		out[i] = orderResponse(order)
	}
	respond(c, http.StatusOK, out)
}

// GetOrder retrieves an order by ID
// @Summary Get an order by ID
// @Tags orders
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "Order ID"
// @Success 200 {object} SuccessResponse{data=OrderResponse}
// @Failure 400 {object} errors.ErrorResponse "Invalid order ID"
// @Failure 404 {object} errors.ErrorResponse "Order not found"
// @Router /api/v1/orders/{id} [get]
func (h *HTTPHandler) GetOrder(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	order, err := h.lifecycle.GetOrder(c.Request.Context(), principal(c), id)
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, http.StatusOK, orderResponse(order))
}

// CreateBooking books a chef
// @Summary Book a chef
// @Description Create a chef booking in pendingPayment
// @Tags bookings
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param request body CreateBookingRequest true "Booking request"
// @Success 201 {object} SuccessResponse{data=BookingResponse} "Booking created"
// @Failure 400 {object} errors.ErrorResponse "Validation error"
// @Router /api/v1/bookings [post]
func (h *HTTPHandler) CreateBooking(c *gin.Context) {
	var req CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewValidation("invalid request body", err.Error()))
		return
	}

	output, err := h.lifecycle.CreateBooking(c.Request.Context(), principal(c), application.CreateBookingInput{
		EventDate:    req.EventDate,
		Location:     req.Location,
		EventDetails: req.EventDetails,
		Price:        req.Price,
	})
	if err != nil {
		c.Error(err)
		return
	}

	respond(c, http.StatusCreated, bookingResponse(output.Booking))
}

// ListBookings lists chef bookings of an owner
// @Summary List chef bookings
// @Tags bookings
// @Produce json
// @Security ApiKeyAuth
// @Param owner query string false "Owner subject, admin only"
// @Success 200 {object} SuccessResponse{data=[]BookingResponse}
// @Router /api/v1/bookings [get]
func (h *HTTPHandler) ListBookings(c *gin.Context) {
	bookings, err := h.lifecycle.ListBookingsByOwner(c.Request.Context(), principal(c), c.Query("owner"))
	if err != nil {
		c.Error(err)
		return
	}

	out := make([]BookingResponse, len(bookings))
	for i, booking := range bookings {
		out[i] = bookingResponse(booking)
	}
	respond(c, http.StatusOK, out)
}

// GetBooking retrieves a chef booking by ID
// @Summary Get a chef booking by ID
// @Tags bookings
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "Booking ID"
// @Success 200 {object} SuccessResponse{data=BookingResponse}
// @Failure 404 {object} errors.ErrorResponse "Booking not found"
// @Router /api/v1/bookings/{id} [get]
func (h *HTTPHandler) GetBooking(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	booking, err := h.lifecycle.GetBooking(c.Request.Context(), principal(c), id)
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, http.StatusOK, bookingResponse(booking))
}

// GetStatus returns the current status of a record
// @Summary Get the current status
// @Tags orders,bookings
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "Record ID"
// @Success 200 {object} SuccessResponse{data=StatusResponse}
// @Failure 404 {object} errors.ErrorResponse "Record not found"
// @Router /api/v1/orders/{id}/status [get]
// @Router /api/v1/bookings/{id}/status [get]
func (h *HTTPHandler) GetStatus(entity domain.EntityKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		record, ok := h.visibleRecord(c, entity)
		if !ok {
			return
		}
		respond(c, http.StatusOK, statusResponse(record.Status))
	}
}

// GetHistory returns the status history of a record, oldest first
// @Summary Get the status history
// @Tags orders,bookings
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "Record ID"
// @Success 200 {object} SuccessResponse{data=[]HistoryEntryResponse}
// @Failure 404 {object} errors.ErrorResponse "Record not found"
// @Router /api/v1/orders/{id}/history [get]
// @Router /api/v1/bookings/{id}/history [get]
func (h *HTTPHandler) GetHistory(entity domain.EntityKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		record, ok := h.visibleRecord(c, entity)
		if !ok {
			return
		}
		respond(c, http.StatusOK, historyResponse(record.History))
	}
}

// Transition changes the status of a record
// @Summary Change the status
// @Description Admins may apply any transition the lifecycle allows; buyers may only cancel their own records before acceptance
// @Tags orders,bookings
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "Record ID"
// @Param request body TransitionRequest true "Transition request"
// @Success 200 {object} SuccessResponse{data=RecordResponse}
// @Failure 403 {object} errors.ErrorResponse "Not allowed"
// @Failure 409 {object} errors.ErrorResponse "Transition not allowed or status changed concurrently"
// @Router /api/v1/orders/{id}/transition [post]
// @Router /api/v1/bookings/{id}/transition [post]
func (h *HTTPHandler) Transition(entity domain.EntityKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		var req TransitionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(errors.NewValidation("invalid request body", err.Error()))
			return
		}

		next, err := req.Next.status()
		if err != nil {
			c.Error(err)
			return
		}
		input := application.TransitionInput{
			Ref:  domain.Ref{Entity: entity, ID: id},
			Next: next,
		}
		if req.Expected != nil {
			expected, err := req.Expected.status()
			if err != nil {
				c.Error(err)
				return
			}
			input.Expected = &expected
		}

		record, err := h.lifecycle.Transition(c.Request.Context(), principal(c), input)
		if err != nil {
			c.Error(err)
			return
		}
		respond(c, http.StatusOK, recordResponse(record))
	}
}

// WaitForAdmission holds the request until an admin accepts or refuses the
// record, or the wait deadline passes
// @Summary Wait for admission
// @Description Long-polls the record status. Times out without changing the record.
// @Tags orders,bookings
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "Record ID"
// @Success 200 {object} SuccessResponse{data=AdmissionResponse}
// @Failure 404 {object} errors.ErrorResponse "Record not found"
// @Router /api/v1/orders/{id}/admission [get]
// @Router /api/v1/bookings/{id}/admission [get]
func (h *HTTPHandler) WaitForAdmission(entity domain.EntityKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		record, ok := h.visibleRecord(c, entity)
		if !ok {
			return
		}

		res, err := h.waiter.Wait(c.Request.Context(), record.Ref())
		if err != nil {
			c.Error(err)
			return
		}
		respond(c, http.StatusOK, AdmissionResponse{
			Outcome:        string(res.Outcome),
			Message:        res.Message(),
			Status:         statusResponse(res.Status),
			Polls:          res.Polls,
			ElapsedSeconds: res.Elapsed.Seconds(),
		})
	}
}

// visibleRecord loads the record named by :id if the caller may see it
func (h *HTTPHandler) visibleRecord(c *gin.Context, entity domain.EntityKind) (domain.Record, bool) {
	id, ok := parseID(c)
	if !ok {
		return domain.Record{}, false
	}

	caller := principal(c)
	var (
		record domain.Record
		err    error
	)
	switch entity {
	case domain.EntityBooking:
		var booking *domain.Booking
		booking, err = h.lifecycle.GetBooking(c.Request.Context(), caller, id)
		if err == nil {
			record = booking.Record
		}
	default:
		var order *domain.Order
		order, err = h.lifecycle.GetOrder(c.Request.Context(), caller, id)
		if err == nil {
			record = order.Record
		}
	}
	if err != nil {
		c.Error(err)
		return domain.Record{}, false
	}
	return record, true
}

// principal converts the authenticated identity into the domain caller
func principal(c *gin.Context) domain.Principal {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		return domain.Principal{}
	}
	return domain.Principal{Subject: identity.Subject, Admin: identity.IsAdmin()}
}

func parseID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.Error(errors.NewValidation("invalid id", map[string]interface{}{"id": c.Param("id")}))
		return 0, false
	}
	return id, true
}

func respond(c *gin.Context, status int, data interface{}) {
	c.JSON(status, SuccessResponse{
		Data:    data,
		TraceID: c.GetString(middleware.TraceIDKey),
	})
}
