package adapters

import (
	"context"

	"go-fulfillment/internal/orders/domain"
	"go-fulfillment/pkg/events"
	"go-fulfillment/pkg/logger"
	"go-fulfillment/pkg/rabbitmq"
)

// RabbitMQPublisher implements EventPublisher using RabbitMQ
type RabbitMQPublisher struct {
	publisher *rabbitmq.Publisher
	log       *logger.Logger
}

// NewRabbitMQPublisher creates a new RabbitMQ event publisher
func NewRabbitMQPublisher(publisher *rabbitmq.Publisher, log *logger.Logger) *RabbitMQPublisher {
	return &RabbitMQPublisher{
		publisher: publisher,
		log:       log,
	}
}

// PublishStatusChanged publishes <entity>.status_changed
func (p *RabbitMQPublisher) PublishStatusChanged(ctx context.Context, record domain.Record, previous *domain.Status) error {
	event := events.NewStatusChangedEvent(StatusChangedPayload(record, previous), logger.GetTraceID(ctx))
	return p.publisher.Publish(ctx, event.EventType, event)
}

// PublishPaymentSettled publishes <entity>.payment_settled
func (p *RabbitMQPublisher) PublishPaymentSettled(ctx context.Context, record domain.Record) error {
	event := events.NewPaymentSettledEvent(events.PaymentSettledPayload{
		Entity:           string(record.Entity),
		ID:               record.ID,
		Owner:            record.Owner,
		PaymentReference: record.PaymentReference,
		Method:           string(domain.ClassifyPaymentReference(record.PaymentReference)),
		Amount:           record.Amount,
		SettledAt:        record.UpdatedAt,
	}, logger.GetTraceID(ctx))
	return p.publisher.Publish(ctx, event.EventType, event)
}

// StatusChangedPayload flattens a record into the event payload
func StatusChangedPayload(record domain.Record, previous *domain.Status) events.StatusChangedPayload {
	payload := events.StatusChangedPayload{
		Entity:           string(record.Entity),
		ID:               record.ID,
		Owner:            record.Owner,
		Status:           string(record.Status.Kind()),
		Reason:           record.Status.Reason(),
		PaymentReference: record.PaymentReference,
		Amount:           record.Amount,
		HistoryLength:    len(record.History),
		UpdatedAt:        record.UpdatedAt,
	}
	if previous != nil {
		payload.PreviousStatus = string(previous.Kind())
	}
	return payload
}
