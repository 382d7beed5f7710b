package ports

import (
	"context"
	"time"

	"go-fulfillment/internal/orders/domain"
)

// OrderRepository defines the interface for order persistence
type OrderRepository interface {
	// Create assigns the next id and stores the order with its first history entry
	Create(ctx context.Context, order *domain.Order) error

	// GetByID retrieves an order by ID
	GetByID(ctx context.Context, id uint64) (*domain.Order, error)

	// GetByOwner retrieves orders placed by an owner, oldest first
	GetByOwner(ctx context.Context, owner string) ([]*domain.Order, error)

	// Update loads the order, applies fn and persists the result. Calls for
	// the same id are serialized; fn returning an error aborts without writing.
	Update(ctx context.Context, id uint64, fn func(*domain.Order) error) (*domain.Order, error)
}

// BookingRepository defines the interface for chef booking persistence
type BookingRepository interface {
	Create(ctx context.Context, booking *domain.Booking) error
	GetByID(ctx context.Context, id uint64) (*domain.Booking, error)
	GetByOwner(ctx context.Context, owner string) ([]*domain.Booking, error)
	Update(ctx context.Context, id uint64, fn func(*domain.Booking) error) (*domain.Booking, error)
}

// Catalog prices menu items at order creation
type Catalog interface {
	// Lookup returns the entries found for the given ids. Unknown ids are
	// simply absent from the map.
	Lookup(ctx context.Context, itemIDs []uint64) (map[uint64]CatalogItem, error)
}

// CatalogItem is the part of a menu item the orchestrator needs
type CatalogItem struct {
	ID          uint64
	Name        string
	Description string
	Price       int64
	Available   bool
}

// EventPublisher defines the interface for publishing domain events
type EventPublisher interface {
	// PublishStatusChanged announces a committed status or reference change.
	// previous is nil for a newly created record.
	PublishStatusChanged(ctx context.Context, record domain.Record, previous *domain.Status) error

	// PublishPaymentSettled announces a newly attached payment reference
	PublishPaymentSettled(ctx context.Context, record domain.Record) error
}

// LineItem is one row of a hosted checkout
type LineItem struct {
	Name        string
	Description string
	UnitAmount  int64
	Currency    string
	Quantity    int64
}

// CheckoutSession is the gateway's answer to CreateSession
type CheckoutSession struct {
	SessionID   string
	RedirectURL string
}

// SessionOutcome is the normalized state of a checkout session
type SessionOutcome string

const (
	SessionCompleted SessionOutcome = "completed"
	SessionFailed    SessionOutcome = "failed"
	SessionOpen      SessionOutcome = "open"
)

// SessionStatus is the result of QuerySession
type SessionStatus struct {
	Outcome SessionOutcome
	Detail  string
}

// PaymentGateway normalizes hosted-checkout providers. Implementations
// return errors coded GATEWAY_UNAVAILABLE or GATEWAY_REJECTED.
type PaymentGateway interface {
	// Provider is the tag used to prefix payment references
	Provider() string

	// Configured reports whether the provider has credentials to work with
	Configured() bool

	CreateSession(ctx context.Context, items []LineItem, successURL, cancelURL string) (*CheckoutSession, error)

	// QuerySession is idempotent and safe to poll
	QuerySession(ctx context.Context, sessionID string) (*SessionStatus, error)
}

// SessionEntry correlates a checkout session with the record it pays for
type SessionEntry struct {
	SessionID string
	Provider  string
	Ref       domain.Ref
	Outcome   SessionOutcome
	Detail    string
	// RedirectURL is handed back when the open session is resumed
	RedirectURL string
	// CancelToken authorizes the unauthenticated cancel return
	CancelToken string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SessionLedger stores the checkout -> record correlation handed from
// StartCheckout to the callback that completes it
type SessionLedger interface {
	Put(ctx context.Context, entry SessionEntry) error
	Get(ctx context.Context, sessionID string) (*SessionEntry, error)
	// ListByRef returns the sessions opened for a record, newest first
	ListByRef(ctx context.Context, ref domain.Ref) ([]SessionEntry, error)
}
