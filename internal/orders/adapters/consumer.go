package adapters

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"go-fulfillment/internal/orders/application"
	"go-fulfillment/pkg/errors"
	"go-fulfillment/pkg/events"
	"go-fulfillment/pkg/logger"
	"go-fulfillment/pkg/rabbitmq"
)

// CheckoutCompleter is the part of the saga the consumer drives
type CheckoutCompleter interface {
	CompleteCheckout(ctx context.Context, sessionID string) (*application.CompletionOutput, error)
}

// PaymentSessionConsumer consumes relayed payment provider webhooks and
// hands each session to the reconciliation saga
type PaymentSessionConsumer struct {
	consumer *rabbitmq.Consumer
	saga     CheckoutCompleter
	log      *logger.Logger
}

// NewPaymentSessionConsumer creates a consumer for payment session events
func NewPaymentSessionConsumer(conn *rabbitmq.Connection, saga CheckoutCompleter, log *logger.Logger) (*PaymentSessionConsumer, error) {
	consumer, err := rabbitmq.NewConsumer(
		conn,
		"fulfillment.payment-sessions", // queue name
		events.ExchangePayments,        // exchange
		[]string{events.RoutingKeySessionCompleted, events.RoutingKeySessionExpired},
		log,
	)
	if err != nil {
		return nil, err
	}

	return NewPaymentSessionHandler(consumer, saga, log), nil
}

// NewPaymentSessionHandler wires the saga to an existing consumer. consumer
// may be nil when messages are fed to HandleMessage directly.
func NewPaymentSessionHandler(consumer *rabbitmq.Consumer, saga CheckoutCompleter, log *logger.Logger) *PaymentSessionConsumer {
	return &PaymentSessionConsumer{
		consumer: consumer,
		saga:     saga,
		log:      log,
	}
}

// Start consumes until ctx is cancelled
func (c *PaymentSessionConsumer) Start(ctx context.Context) error {
	return c.consumer.Consume(ctx, c.HandleMessage)
}

// HandleMessage processes one event. Permanent failures are acknowledged
// after logging; only retryable ones are returned for redelivery.
func (c *PaymentSessionConsumer) HandleMessage(ctx context.Context, routingKey string, body []byte) error {
	var event events.PaymentSessionEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.log.WithContext(ctx).Error("failed to unmarshal PaymentSessionEvent",
			zap.Error(err),
		)
		return nil
	}

	sessionID := strings.TrimSpace(event.Payload.SessionID)
	if sessionID == "" {
		c.log.WithContext(ctx).Warn("payment session event without session id",
			zap.String("routing_key", routingKey),
		)
		return nil
	}

	out, err := c.saga.CompleteCheckout(ctx, sessionID)
	if err != nil {
		if errors.IsRetryable(err) {
			return err
		}
		c.log.WithContext(ctx).Error("payment session event dropped",
			zap.String("session_id", sessionID),
			zap.String("routing_key", routingKey),
			zap.Error(err),
		)
		return nil
	}

	c.log.WithContext(ctx).Info("payment session reconciled",
		zap.String("session_id", sessionID),
		zap.String("provider", event.Payload.Provider),
		zap.String("outcome", string(out.Outcome)),
		zap.Bool("replayed", out.Replayed),
		zap.Uint64("id", out.Record.ID),
	)
	return nil
}
