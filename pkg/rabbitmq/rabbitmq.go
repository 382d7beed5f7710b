package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"go-fulfillment/pkg/logger"
)

// ErrNotConnected is returned while the connection is being re-established
var ErrNotConnected = errors.New("rabbitmq: not connected")

// Connection manages a RabbitMQ connection and re-dials it when the broker
// drops it
type Connection struct {
	url        string
	conn       *amqp.Connection
	channel    *amqp.Channel
	log        *logger.Logger
	mu         sync.RWMutex
	closeChan  chan struct{}
	closeOnce  sync.Once
	reconnects int
	backoff    time.Duration
}

// NewConnection creates a new RabbitMQ connection
func NewConnection(url string, log *logger.Logger) (*Connection, error) {
	c := &Connection{
		url:       url,
		log:       log,
		closeChan: make(chan struct{}),
		backoff:   2 * time.Second,
	}

	if err := c.connect(); err != nil {
		return nil, err
	}

	go c.watch()
	return c, nil
}

func (c *Connection) connect() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = ch
	c.mu.Unlock()

	c.log.Info("connected to RabbitMQ", zap.Int("reconnects", c.reconnects))
	return nil
}

// watch re-dials after an unexpected close until Close is called
func (c *Connection) watch() {
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		closed := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-c.closeChan:
			return
		case amqpErr, ok := <-closed:
			if !ok && amqpErr == nil {
				// graceful close
				select {
				case <-c.closeChan:
					return
				default:
				}
			}
			c.log.Warn("RabbitMQ connection lost", zap.Any("reason", amqpErr))
		}

		c.mu.Lock()
		c.channel = nil
		c.mu.Unlock()

		for {
			select {
			case <-c.closeChan:
				return
			case <-time.After(c.backoff):
			}
			c.reconnects++
			if err := c.connect(); err != nil {
				c.log.Error("RabbitMQ reconnect failed", zap.Error(err), zap.Int("attempt", c.reconnects))
				continue
			}
			break
		}
	}
}

// Channel returns the current channel, nil while reconnecting
func (c *Connection) Channel() *amqp.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// IsConnected reports whether a usable channel is open
func (c *Connection) IsConnected() bool {
	ch := c.Channel()
	return ch != nil && !ch.IsClosed()
}

// Close closes the connection
func (c *Connection) Close() error {
	c.closeOnce.Do(func() { close(c.closeChan) })

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Publisher publishes JSON messages to a topic exchange
type Publisher struct {
	conn     *Connection
	exchange string
	log      *logger.Logger
}

// NewPublisher declares the exchange and creates a publisher for it
func NewPublisher(conn *Connection, exchange string, log *logger.Logger) (*Publisher, error) {
	if err := declareExchange(conn.Channel(), exchange); err != nil {
		return nil, err
	}

	return &Publisher{
		conn:     conn,
		exchange: exchange,
		log:      log,
	}, nil
}

func declareExchange(ch *amqp.Channel, exchange string) error {
	if ch == nil {
		return ErrNotConnected
	}
	err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	return nil
}

// Publish publishes a message
func (p *Publisher) Publish(ctx context.Context, routingKey string, message interface{}) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	ch := p.conn.Channel()
	if ch == nil {
		return ErrNotConnected
	}

	traceID := logger.GetTraceID(ctx)
	messageID := uuid.NewString()

	err = ch.PublishWithContext(
		ctx,
		p.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			Body:          body,
			DeliveryMode:  amqp.Persistent,
			Timestamp:     time.Now(),
			MessageId:     messageID,
			CorrelationId: traceID,
			Headers: amqp.Table{
				"x-trace-id": traceID,
			},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	p.log.WithContext(ctx).Debug("message published",
		zap.String("exchange", p.exchange),
		zap.String("routing_key", routingKey),
		zap.String("message_id", messageID),
	)

	return nil
}

// Consumer consumes messages from a durable queue bound to a topic exchange.
// Messages that fail twice are dead-lettered to <exchange>.dlx.
type Consumer struct {
	conn        *Connection
	queue       string
	exchange    string
	routingKeys []string
	log         *logger.Logger
	retryDelay  time.Duration
}

// NewConsumer declares the queue, its dead letter queue and the bindings
func NewConsumer(conn *Connection, queue, exchange string, routingKeys []string, log *logger.Logger) (*Consumer, error) {
	ch := conn.Channel()
	if ch == nil {
		return nil, ErrNotConnected
	}

	if err := declareExchange(ch, exchange); err != nil {
		return nil, err
	}

	dlx := exchange + ".dlx"
	if err := ch.ExchangeDeclare(dlx, "fanout", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("failed to declare dead letter exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(queue+".dead", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("failed to declare dead letter queue: %w", err)
	}
	if err := ch.QueueBind(queue+".dead", "", dlx, false, nil); err != nil {
		return nil, fmt.Errorf("failed to bind dead letter queue: %w", err)
	}

	_, err := ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		amqp.Table{
			"x-dead-letter-exchange": dlx,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	for _, key := range routingKeys {
		if err := ch.QueueBind(queue, key, exchange, false, nil); err != nil {
			return nil, fmt.Errorf("failed to bind queue: %w", err)
		}
	}

	return &Consumer{
		conn:        conn,
		queue:       queue,
		exchange:    exchange,
		routingKeys: routingKeys,
		log:         log,
		retryDelay:  time.Second,
	}, nil
}

// MessageHandler handles one delivery. Returning an error requeues the
// message once; a second failure dead-letters it.
type MessageHandler func(ctx context.Context, routingKey string, body []byte) error

// Consume delivers messages to handler until ctx is cancelled or the
// broker closes the delivery channel
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	ch := c.conn.Channel()
	if ch == nil {
		return ErrNotConnected
	}

	msgs, err := ch.Consume(
		c.queue, // queue
		"",      // consumer
		false,   // auto-ack
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.log.Info("consumer started",
		zap.String("queue", c.queue),
		zap.Strings("routing_keys", c.routingKeys),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel for %s closed", c.queue)
			}
			c.handle(ctx, msg, handler)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg amqp.Delivery, handler MessageHandler) {
	traceID := ""
	if tid, ok := msg.Headers["x-trace-id"].(string); ok {
		traceID = tid
	}
	msgCtx := logger.WithTraceIDContext(ctx, traceID)

	c.log.WithContext(msgCtx).Debug("message received",
		zap.String("queue", c.queue),
		zap.String("routing_key", msg.RoutingKey),
		zap.String("message_id", msg.MessageId),
		zap.Bool("redelivered", msg.Redelivered),
	)

	err := handler(msgCtx, msg.RoutingKey, msg.Body)
	if err == nil {
		msg.Ack(false)
		return
	}

	requeue := !msg.Redelivered
	c.log.WithContext(msgCtx).Error("failed to handle message",
		zap.Error(err),
		zap.String("queue", c.queue),
		zap.Bool("requeue", requeue),
	)
	if requeue {
		select {
		case <-ctx.Done():
		case <-time.After(c.retryDelay):
		}
	}
	msg.Nack(false, requeue)
}
