package application

import (
	"context"
	"math"
	"strings"
	"time"

	"go-fulfillment/internal/orders/domain"
	"go-fulfillment/internal/orders/ports"
	"go-fulfillment/pkg/errors"
	"go-fulfillment/pkg/logger"
	"go-fulfillment/pkg/metrics"

	"go.uber.org/zap"
)

// LifecycleService owns every mutation of orders and chef bookings. It
// enforces the transition tables and the one-reference-per-record rule on
// top of repositories that serialize writes per record id.
type LifecycleService struct {
	orders    ports.OrderRepository
	bookings  ports.BookingRepository
	catalog   ports.Catalog
	publisher ports.EventPublisher
	metrics   *metrics.LifecycleMetrics
	log       *logger.Logger
	now       func() time.Time
}

// Option customizes a LifecycleService
type Option func(*LifecycleService)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *LifecycleService) { s.now = now }
}

// WithMetrics attaches lifecycle counters
func WithMetrics(m *metrics.LifecycleMetrics) Option {
	return func(s *LifecycleService) { s.metrics = m }
}

// NewLifecycleService creates a new lifecycle service. publisher may be nil.
func NewLifecycleService(
	orders ports.OrderRepository,
	bookings ports.BookingRepository,
	catalog ports.Catalog,
	publisher ports.EventPublisher,
	log *logger.Logger,
	opts ...Option,
) *LifecycleService {
	s := &LifecycleService{
		orders:    orders,
		bookings:  bookings,
		catalog:   catalog,
		publisher: publisher,
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrderInput represents the input for creating an order
type CreateOrderInput struct {
	Items   []domain.Item
	Details domain.OrderDetails
}

// CreateOrderOutput represents the output of creating an order
type CreateOrderOutput struct {
	Order *domain.Order
}

// CreateOrder prices the items against the catalog and stores a new order
// in pendingPayment
func (s *LifecycleService) CreateOrder(ctx context.Context, caller domain.Principal, input CreateOrderInput) (*CreateOrderOutput, error) {
	if caller.Subject == "" {
		return nil, errors.NewUnauthorized("caller is not authenticated")
	}
	if err := domain.ValidateItems(input.Items); err != nil {
		return nil, err
	}

	total, err := s.priceItems(ctx, input.Items)
	if err != nil {
		return nil, err
	}

	order, err := domain.NewOrder(caller.Subject, input.Items, input.Details, total, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.orders.Create(ctx, order); err != nil {
		return nil, errors.Wrap(err, "failed to create order")
	}

	s.log.WithContext(ctx).Info("order created",
		zap.Uint64("order_id", order.ID),
		zap.String("owner", order.Owner),
		zap.Int64("total_amount", order.Amount),
		zap.Int("items", len(order.Items)),
	)
	s.announce(ctx, order.Record, nil)

	return &CreateOrderOutput{Order: order}, nil
}

func (s *LifecycleService) priceItems(ctx context.Context, items []domain.Item) (int64, error) {
	ids := make([]uint64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ItemID)
	}

	entries, err := s.catalog.Lookup(ctx, ids)
	if err != nil {
		return 0, err
	}

	var total int64
	for i, item := range items {
		entry, ok := entries[item.ItemID]
		if !ok {
			return 0, domain.ErrInvalidItem(i, "item is not on the menu")
		}
		if !entry.Available {
			return 0, domain.ErrInvalidItem(i, entry.Name+" is not available")
		}
		if entry.Price <= 0 {
			return 0, domain.ErrInvalidItem(i, entry.Name+" has no price")
		}
		// The total is what gets charged, so it must never wrap
		if item.Quantity > (math.MaxInt64-total)/entry.Price {
			return 0, domain.ErrInvalidItem(i, "order total is too large")
		}
		total += entry.Price * item.Quantity
	}
	return total, nil
}

// CreateBookingInput represents the input for booking a chef
type CreateBookingInput struct {
	EventDate    time.Time
	Location     string
	EventDetails string
	Price        int64
}

// CreateBookingOutput represents the output of booking a chef
type CreateBookingOutput struct {
	Booking *domain.Booking
}

// CreateBooking stores a new chef booking in pendingPayment
func (s *LifecycleService) CreateBooking(ctx context.Context, caller domain.Principal, input CreateBookingInput) (*CreateBookingOutput, error) {
	if caller.Subject == "" {
		return nil, errors.NewUnauthorized("caller is not authenticated")
	}

	booking, err := domain.NewBooking(caller.Subject, input.EventDate, input.Location, input.EventDetails, input.Price, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.bookings.Create(ctx, booking); err != nil {
		return nil, errors.Wrap(err, "failed to create booking")
	}

	s.log.WithContext(ctx).Info("booking created",
		zap.Uint64("booking_id", booking.ID),
		zap.String("owner", booking.Owner),
		zap.Int64("price", booking.Amount),
		zap.Time("event_date", booking.EventDate),
	)
	s.announce(ctx, booking.Record, nil)

	return &CreateBookingOutput{Booking: booking}, nil
}

// GetOrder retrieves an order visible to the caller
func (s *LifecycleService) GetOrder(ctx context.Context, caller domain.Principal, id uint64) (*domain.Order, error) {
	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.CanView(&order.Record) {
		// Hide existence from other buyers
		return nil, domain.NewRecordNotFound(domain.OrderRef(id))
	}
	return order, nil
}

// GetBooking retrieves a booking visible to the caller
func (s *LifecycleService) GetBooking(ctx context.Context, caller domain.Principal, id uint64) (*domain.Booking, error) {
	booking, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.CanView(&booking.Record) {
		return nil, domain.NewRecordNotFound(domain.BookingRef(id))
	}
	return booking, nil
}

// ListOrdersByOwner lists an owner's orders. Buyers may only list their own.
func (s *LifecycleService) ListOrdersByOwner(ctx context.Context, caller domain.Principal, owner string) ([]*domain.Order, error) {
	owner, err := resolveOwner(caller, owner)
	if err != nil {
		return nil, err
	}
	return s.orders.GetByOwner(ctx, owner)
}

// ListBookingsByOwner lists an owner's bookings. Buyers may only list their own.
func (s *LifecycleService) ListBookingsByOwner(ctx context.Context, caller domain.Principal, owner string) ([]*domain.Booking, error) {
	owner, err := resolveOwner(caller, owner)
	if err != nil {
		return nil, err
	}
	return s.bookings.GetByOwner(ctx, owner)
}

func resolveOwner(caller domain.Principal, owner string) (string, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		owner = caller.Subject
	}
	if owner == "" {
		return "", errors.NewUnauthorized("caller is not authenticated")
	}
	if owner != caller.Subject && !caller.Admin {
		return "", errors.NewForbidden("only admins may list another owner's records")
	}
	return owner, nil
}

// Record returns the lifecycle part of an order or booking without any
// visibility check. It backs internal readers such as the admission waiter.
func (s *LifecycleService) Record(ctx context.Context, ref domain.Ref) (domain.Record, error) {
	switch ref.Entity {
	case domain.EntityOrder:
		order, err := s.orders.GetByID(ctx, ref.ID)
		if err != nil {
			return domain.Record{}, err
		}
		return order.Record, nil
	case domain.EntityBooking:
		booking, err := s.bookings.GetByID(ctx, ref.ID)
		if err != nil {
			return domain.Record{}, err
		}
		return booking.Record, nil
	default:
		return domain.Record{}, errors.NewValidation("unknown entity kind", map[string]interface{}{"entity": ref.Entity})
	}
}

// Status implements admission.StatusSource
func (s *LifecycleService) Status(ctx context.Context, ref domain.Ref) (domain.Status, error) {
	record, err := s.Record(ctx, ref)
	if err != nil {
		return domain.Status{}, err
	}
	return record.Status, nil
}

// TransitionInput represents a requested status change
type TransitionInput struct {
	Ref      domain.Ref
	Expected *domain.Status
	Next     domain.Status
}

// Transition applies an admin status change. Buyers may only cancel their
// own records before admission.
func (s *LifecycleService) Transition(ctx context.Context, caller domain.Principal, input TransitionInput) (domain.Record, error) {
	if err := s.authorizeTransition(ctx, caller, input.Ref, input.Next); err != nil {
		return domain.Record{}, err
	}
	return s.transition(ctx, input.Ref, input.Expected, input.Next)
}

func (s *LifecycleService) authorizeTransition(ctx context.Context, caller domain.Principal, ref domain.Ref, next domain.Status) error {
	if caller.Admin {
		return nil
	}
	if caller.Subject == "" {
		return errors.NewUnauthorized("caller is not authenticated")
	}
	record, err := s.Record(ctx, ref)
	if err != nil {
		return err
	}
	if !caller.Owns(&record) {
		return domain.NewRecordNotFound(ref)
	}
	if next.Kind() != domain.KindCancelled {
		return errors.NewForbidden("only admins may change this status")
	}
	switch record.Status.Kind() {
	case domain.KindPendingPayment, domain.KindPaymentFailed:
		return nil
	default:
		return errors.NewForbidden("buyers may only cancel before the order is accepted")
	}
}

func (s *LifecycleService) transition(ctx context.Context, ref domain.Ref, expected *domain.Status, next domain.Status) (domain.Record, error) {
	var previous domain.Status
	record, err := s.mutate(ctx, ref, func(r *domain.Record) error {
		previous = r.Status
		return r.Transition(expected, next, s.now())
	})
	if err != nil {
		s.refused(ctx, ref, "transition", err)
		return domain.Record{}, err
	}

	s.metrics.ObserveTransition(string(ref.Entity), string(previous.Kind()), string(next.Kind()))
	s.log.WithContext(ctx).Info("status changed",
		zap.String("entity", string(ref.Entity)),
		zap.Uint64("id", ref.ID),
		zap.Stringer("from", previous),
		zap.Stringer("to", record.Status),
		zap.Int("history_len", len(record.History)),
	)
	s.announce(ctx, record, &previous)
	return record, nil
}

// SetPaymentReferenceInput represents an atomic settle-and-transition
type SetPaymentReferenceInput struct {
	Ref       domain.Ref
	Reference string
	Next      domain.Status
}

// SetPaymentReference attaches a payment reference recorded outside the
// saga, such as a QR code payment taken at the counter. Admin only.
func (s *LifecycleService) SetPaymentReference(ctx context.Context, caller domain.Principal, input SetPaymentReferenceInput) (domain.Record, error) {
	if !caller.Admin {
		return domain.Record{}, errors.NewForbidden("only admins may record payments directly")
	}
	return s.setPaymentReference(ctx, input.Ref, input.Reference, input.Next)
}

func (s *LifecycleService) setPaymentReference(ctx context.Context, ref domain.Ref, paymentRef string, next domain.Status) (domain.Record, error) {
	return s.attachReference(ctx, ref, paymentRef, func(domain.Status) domain.Status { return next })
}

// settleGatewayPayment attaches a gateway reference. A record an admin has
// already moved into the kitchen keeps its status; anything else is
// confirmed.
func (s *LifecycleService) settleGatewayPayment(ctx context.Context, ref domain.Ref, paymentRef string) (domain.Record, error) {
	return s.attachReference(ctx, ref, paymentRef, func(current domain.Status) domain.Status {
		switch current.Kind() {
		case domain.KindInProgress, domain.KindOutForDelivery:
			return current
		default:
			return domain.Confirmed()
		}
	})
}

func (s *LifecycleService) attachReference(ctx context.Context, ref domain.Ref, paymentRef string, nextFor func(domain.Status) domain.Status) (domain.Record, error) {
	var previous domain.Status
	record, err := s.mutate(ctx, ref, func(r *domain.Record) error {
		previous = r.Status
		return r.AttachPaymentReference(paymentRef, nextFor(r.Status), s.now())
	})
	if err != nil {
		s.refused(ctx, ref, "set_payment_reference", err)
		return domain.Record{}, err
	}

	if !previous.Equal(record.Status) {
		s.metrics.ObserveTransition(string(ref.Entity), string(previous.Kind()), string(record.Status.Kind()))
	}
	s.log.WithContext(ctx).Info("payment reference attached",
		zap.String("entity", string(ref.Entity)),
		zap.Uint64("id", ref.ID),
		zap.String("payment_reference", record.PaymentReference),
		zap.Stringer("status", record.Status),
	)
	s.announce(ctx, record, &previous)
	if s.publisher != nil {
		if err := s.publisher.PublishPaymentSettled(ctx, record); err != nil {
			s.log.WithContext(ctx).Error("failed to publish payment settled event",
				zap.Error(err),
				zap.Uint64("id", ref.ID),
			)
		}
	}
	return record, nil
}

// mutate runs fn against the record under the repository's per-id
// serialization and returns a snapshot of the committed state
func (s *LifecycleService) mutate(ctx context.Context, ref domain.Ref, fn func(*domain.Record) error) (domain.Record, error) {
	switch ref.Entity {
	case domain.EntityOrder:
		order, err := s.orders.Update(ctx, ref.ID, func(o *domain.Order) error {
			return fn(&o.Record)
		})
		if err != nil {
			return domain.Record{}, err
		}
		return order.Record, nil
	case domain.EntityBooking:
		booking, err := s.bookings.Update(ctx, ref.ID, func(b *domain.Booking) error {
			return fn(&b.Record)
		})
		if err != nil {
			return domain.Record{}, err
		}
		return booking.Record, nil
	default:
		return domain.Record{}, errors.NewValidation("unknown entity kind", map[string]interface{}{"entity": ref.Entity})
	}
}

func (s *LifecycleService) refused(ctx context.Context, ref domain.Ref, op string, err error) {
	s.metrics.ObserveRefusal(string(ref.Entity), errors.CodeOf(err))
	s.log.WithContext(ctx).Warn("mutation refused",
		zap.String("op", op),
		zap.String("entity", string(ref.Entity)),
		zap.Uint64("id", ref.ID),
		zap.Error(err),
	)
}

// announce publishes a status event; failures are logged, never returned
func (s *LifecycleService) announce(ctx context.Context, record domain.Record, previous *domain.Status) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishStatusChanged(ctx, record, previous); err != nil {
		s.log.WithContext(ctx).Error("failed to publish status changed event",
			zap.Error(err),
			zap.String("entity", string(record.Entity)),
			zap.Uint64("id", record.ID),
		)
	}
}
