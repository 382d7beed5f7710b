package infrastructure

import (
	"time"

	"go-fulfillment/internal/orders/application"
	"go-fulfillment/internal/orders/domain"
	"go-fulfillment/internal/orders/ports"
)

const timeLayout = time.RFC3339

// SuccessResponse wraps every successful payload
type SuccessResponse struct {
	Data    interface{} `json:"data"`
	TraceID string      `json:"trace_id,omitempty" example:"550e8400-e29b-41d4-a716-446655440000"`
}

// OrderItemRequest is one line of a new order
type OrderItemRequest struct {
	ItemID              uint64 `json:"item_id" binding:"required" example:"1"`
	Quantity            int64  `json:"quantity" binding:"required" example:"2"`
	SpecialInstructions string `json:"special_instructions,omitempty" example:"no onions"`
}

// CreateOrderRequest is the request body for placing an order
type CreateOrderRequest struct {
	Items               []OrderItemRequest `json:"items" binding:"required"`
	DeliveryAddress     string             `json:"delivery_address" example:"12 Main St"`
	ContactNumber       string             `json:"contact_number" example:"555-0100"`
	SpecialInstructions string             `json:"special_instructions,omitempty"`
}

// CreateBookingRequest is the request body for booking a chef
type CreateBookingRequest struct {
	EventDate    time.Time `json:"event_date" binding:"required" example:"2026-12-24T19:00:00Z"`
	Location     string    `json:"location" example:"Riverside Hall"`
	EventDetails string    `json:"event_details" example:"dinner for 12"`
	Price        int64     `json:"price" example:"50000"`
}

// StatusRequest is a status in its wire form
type StatusRequest struct {
	Kind   string `json:"kind" binding:"required" example:"cancelled"`
	Reason string `json:"reason,omitempty" example:"changed my mind"`
}

func (r StatusRequest) status() (domain.Status, error) {
	return domain.ParseStatus(r.Kind, r.Reason)
}

// TransitionRequest asks for a status change. When expected is set the
// change only applies if the record is still in that status.
type TransitionRequest struct {
	Next     StatusRequest  `json:"next" binding:"required"`
	Expected *StatusRequest `json:"expected,omitempty"`
}

// PaymentReferenceRequest records a payment taken outside the gateway. Next
// defaults to confirmed.
type PaymentReferenceRequest struct {
	Reference string         `json:"reference" binding:"required" example:"QR_CODE_PAYMENT"`
	Next      *StatusRequest `json:"next,omitempty"`
}

// CashOnlyRequest flips the cash-only switch
type CashOnlyRequest struct {
	CashOnly *bool `json:"cash_only" binding:"required" example:"true"`
}

// StatusResponse is a status with its display label
type StatusResponse struct {
	Kind     string `json:"kind" example:"confirmed"`
	Reason   string `json:"reason,omitempty"`
	Label    string `json:"label" example:"Confirmed"`
	Terminal bool   `json:"terminal"`
}

func statusResponse(s domain.Status) StatusResponse {
	return StatusResponse{
		Kind:     string(s.Kind()),
		Reason:   s.Reason(),
		Label:    s.Label(),
		Terminal: s.IsTerminal(),
	}
}

// HistoryEntryResponse is one element of the status history
type HistoryEntryResponse struct {
	Status    StatusResponse `json:"status"`
	EnteredAt string         `json:"entered_at"`
}

func historyResponse(entries []domain.StatusEntry) []HistoryEntryResponse {
	out := make([]HistoryEntryResponse, len(entries))
	for i, e := range entries {
		out[i] = HistoryEntryResponse{
			Status:    statusResponse(e.Status),
			EnteredAt: e.EnteredAt.Format(timeLayout),
		}
	}
	return out
}

// RecordResponse is the lifecycle part shared by orders and bookings
type RecordResponse struct {
	ID               uint64                 `json:"id" example:"1"`
	Entity           string                 `json:"entity" example:"order"`
	Owner            string                 `json:"owner" example:"42"`
	Status           StatusResponse         `json:"status"`
	Amount           int64                  `json:"amount" example:"2400"`
	PaymentReference string                 `json:"payment_reference,omitempty" example:"CASH_ON_DELIVERY"`
	PaymentMethod    string                 `json:"payment_method,omitempty" example:"cash_on_delivery"`
	History          []HistoryEntryResponse `json:"history"`
	CreatedAt        string                 `json:"created_at"`
	UpdatedAt        string                 `json:"updated_at"`
}

func recordResponse(r domain.Record) RecordResponse {
	return RecordResponse{
		ID:               r.ID,
		Entity:           string(r.Entity),
		Owner:            r.Owner,
		Status:           statusResponse(r.Status),
		Amount:           r.Amount,
		PaymentReference: r.PaymentReference,
		PaymentMethod:    string(domain.ClassifyPaymentReference(r.PaymentReference)),
		History:          historyResponse(r.History),
		CreatedAt:        r.CreatedAt.Format(timeLayout),
		UpdatedAt:        r.UpdatedAt.Format(timeLayout),
	}
}

// OrderItemResponse is one line of an order
type OrderItemResponse struct {
	ItemID              uint64 `json:"item_id"`
	Quantity            int64  `json:"quantity"`
	SpecialInstructions string `json:"special_instructions,omitempty"`
}

// OrderResponse is the response body for order operations
type OrderResponse struct {
	RecordResponse
	Items               []OrderItemResponse `json:"items"`
	DeliveryAddress     string              `json:"delivery_address"`
	ContactNumber       string              `json:"contact_number"`
	SpecialInstructions string              `json:"special_instructions,omitempty"`
}

func orderResponse(o *domain.Order) OrderResponse {
	items := make([]OrderItemResponse, len(o.Items))
	for i, item := range o.Items {
		items[i] = OrderItemResponse{
			ItemID:              item.ItemID,
			Quantity:            item.Quantity,
			SpecialInstructions: item.SpecialInstructions,
		}
	}
	return OrderResponse{
		RecordResponse:      recordResponse(o.Record),
		Items:               items,
		DeliveryAddress:     o.DeliveryAddress,
		ContactNumber:       o.ContactNumber,
		SpecialInstructions: o.SpecialInstructions,
	}
}

// BookingResponse is the response body for chef booking operations
type BookingResponse struct {
	RecordResponse
	EventDate    string `json:"event_date"`
	Location     string `json:"location"`
	EventDetails string `json:"event_details"`
}

func bookingResponse(b *domain.Booking) BookingResponse {
	return BookingResponse{
		RecordResponse: recordResponse(b.Record),
		EventDate:      b.EventDate.Format(timeLayout),
		Location:       b.Location,
		EventDetails:   b.EventDetails,
	}
}

// AdmissionResponse is the outcome of an admission wait
type AdmissionResponse struct {
	Outcome        string         `json:"outcome" example:"admitted"`
	Message        string         `json:"message"`
	Status         StatusResponse `json:"status"`
	Polls          int            `json:"polls"`
	ElapsedSeconds float64        `json:"elapsed_seconds"`
}

// SessionResponse is a checkout session known for a record
type SessionResponse struct {
	SessionID string `json:"session_id"`
	Provider  string `json:"provider"`
	Outcome   string `json:"outcome" example:"open"`
	Detail    string `json:"detail,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func sessionResponses(entries []ports.SessionEntry) []SessionResponse {
	out := make([]SessionResponse, len(entries))
	for i, e := range entries {
		out[i] = SessionResponse{
			SessionID: e.SessionID,
			Provider:  e.Provider,
			Outcome:   string(e.Outcome),
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt.Format(timeLayout),
			UpdatedAt: e.UpdatedAt.Format(timeLayout),
		}
	}
	return out
}

// PaymentStateResponse is where a record stands in payment reconciliation
type PaymentStateResponse struct {
	Entity           string            `json:"entity"`
	ID               uint64            `json:"id"`
	Stage            string            `json:"stage" example:"admitted"`
	Status           StatusResponse    `json:"status"`
	PaymentReference string            `json:"payment_reference,omitempty"`
	PaymentMethod    string            `json:"payment_method,omitempty"`
	Sessions         []SessionResponse `json:"sessions"`
}

func paymentStateResponse(s *application.SagaState) PaymentStateResponse {
	return PaymentStateResponse{
		Entity:           string(s.Ref.Entity),
		ID:               s.Ref.ID,
		Stage:            string(s.Stage),
		Status:           statusResponse(s.Status),
		PaymentReference: s.PaymentReference,
		PaymentMethod:    string(s.PaymentMethod),
		Sessions:         sessionResponses(s.Sessions),
	}
}

// CheckoutResponse tells the client where to send the buyer
type CheckoutResponse struct {
	SessionID   string `json:"session_id" example:"cs_test_123"`
	RedirectURL string `json:"redirect_url"`
	// Resumed is true when a still open session was handed back
	Resumed bool `json:"resumed"`
}

// CompletionResponse reports what a checkout return did to the record
type CompletionResponse struct {
	Outcome  string         `json:"outcome" example:"completed"`
	Detail   string         `json:"detail,omitempty"`
	Replayed bool           `json:"replayed"`
	Record   RecordResponse `json:"record"`
}

func completionResponse(out *application.CompletionOutput) CompletionResponse {
	return CompletionResponse{
		Outcome:  string(out.Outcome),
		Detail:   out.Detail,
		Replayed: out.Replayed,
		Record:   recordResponse(out.Record),
	}
}

// CapabilitiesResponse lists the payment methods a buyer can pick
type CapabilitiesResponse struct {
	CashOnly          bool     `json:"cash_only"`
	GatewayConfigured bool     `json:"gateway_configured"`
	Provider          string   `json:"provider,omitempty" example:"stripe"`
	Methods           []string `json:"methods" example:"cash_on_delivery,gateway"`
}

func capabilitiesResponse(c application.Capabilities) CapabilitiesResponse {
	methods := []string{string(domain.PaymentMethodCashOnDelivery)}
	if !c.CashOnly && c.GatewayConfigured {
		methods = append(methods, string(domain.PaymentMethodGateway))
	}
	return CapabilitiesResponse{
		CashOnly:          c.CashOnly,
		GatewayConfigured: c.GatewayConfigured,
		Provider:          c.Provider,
		Methods:           methods,
	}
}
