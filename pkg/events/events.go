package events

import (
	"time"
)

// Exchange names
const (
	ExchangeFulfillment = "fulfillment.events"
	ExchangePayments    = "payments.events"
)

// Routing keys. Status and settlement keys are prefixed with the entity
// kind, e.g. order.status_changed or booking.payment_settled.
const (
	RoutingKeyStatusChanged  = "status_changed"
	RoutingKeyPaymentSettled = "payment_settled"

	RoutingKeySessionCompleted = "payment.session.completed"
	RoutingKeySessionExpired   = "payment.session.expired"
)

// EntityRoutingKey builds the routing key for an entity kind
func EntityRoutingKey(entity, key string) string {
	return entity + "." + key
}

// StatusChangedEvent is published after every committed status or
// reference change of an order or booking
type StatusChangedEvent struct {
	Version   string               `json:"version"`
	EventType string               `json:"event_type"`
	Timestamp time.Time            `json:"timestamp"`
	TraceID   string               `json:"trace_id"`
	Payload   StatusChangedPayload `json:"payload"`
}

// StatusChangedPayload contains the record state after the change
type StatusChangedPayload struct {
	Entity           string    `json:"entity"`
	ID               uint64    `json:"id"`
	Owner            string    `json:"owner"`
	Status           string    `json:"status"`
	Reason           string    `json:"reason,omitempty"`
	PreviousStatus   string    `json:"previous_status,omitempty"`
	PaymentReference string    `json:"payment_reference,omitempty"`
	Amount           int64     `json:"amount"`
	HistoryLength    int       `json:"history_length"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NewStatusChangedEvent creates a new StatusChangedEvent. previous is empty
// for a newly created record.
func NewStatusChangedEvent(payload StatusChangedPayload, traceID string) *StatusChangedEvent {
	return &StatusChangedEvent{
		Version:   "1.0",
		EventType: EntityRoutingKey(payload.Entity, RoutingKeyStatusChanged),
		Timestamp: time.Now(),
		TraceID:   traceID,
		Payload:   payload,
	}
}

// PaymentSettledEvent is published once per record, when its payment
// reference is attached
type PaymentSettledEvent struct {
	Version   string                `json:"version"`
	EventType string                `json:"event_type"`
	Timestamp time.Time             `json:"timestamp"`
	TraceID   string                `json:"trace_id"`
	Payload   PaymentSettledPayload `json:"payload"`
}

// PaymentSettledPayload contains settlement data
type PaymentSettledPayload struct {
	Entity           string    `json:"entity"`
	ID               uint64    `json:"id"`
	Owner            string    `json:"owner"`
	PaymentReference string    `json:"payment_reference"`
	Method           string    `json:"method"`
	Amount           int64     `json:"amount"`
	SettledAt        time.Time `json:"settled_at"`
}

// NewPaymentSettledEvent creates a new PaymentSettledEvent
func NewPaymentSettledEvent(payload PaymentSettledPayload, traceID string) *PaymentSettledEvent {
	return &PaymentSettledEvent{
		Version:   "1.0",
		EventType: EntityRoutingKey(payload.Entity, RoutingKeyPaymentSettled),
		Timestamp: time.Now(),
		TraceID:   traceID,
		Payload:   payload,
	}
}

// PaymentSessionEvent is relayed from the payment provider's webhook
// endpoint when a hosted checkout session finishes
type PaymentSessionEvent struct {
	Version   string                `json:"version"`
	EventType string                `json:"event_type"`
	Timestamp time.Time             `json:"timestamp"`
	TraceID   string                `json:"trace_id"`
	Payload   PaymentSessionPayload `json:"payload"`
}

// PaymentSessionPayload identifies the session. The consumer re-queries the
// provider and does not trust any outcome carried here.
type PaymentSessionPayload struct {
	Provider  string `json:"provider"`
	SessionID string `json:"session_id"`
}

// NewPaymentSessionEvent creates a new PaymentSessionEvent
func NewPaymentSessionEvent(routingKey, provider, sessionID, traceID string) *PaymentSessionEvent {
	return &PaymentSessionEvent{
		Version:   "1.0",
		EventType: routingKey,
		Timestamp: time.Now(),
		TraceID:   traceID,
		Payload: PaymentSessionPayload{
			Provider:  provider,
			SessionID: sessionID,
		},
	}
}
