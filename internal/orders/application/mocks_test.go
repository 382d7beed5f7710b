package application

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go-fulfillment/internal/orders/domain"
	"go-fulfillment/internal/orders/ports"
	apperrors "go-fulfillment/pkg/errors"
	"go-fulfillment/pkg/logger"
)

// MockOrderRepository is a mock implementation of OrderRepository
type MockOrderRepository struct {
	mu     sync.Mutex
	orders map[uint64]*domain.Order
	nextID uint64
}

func NewMockOrderRepository() *MockOrderRepository {
	return &MockOrderRepository{
		orders: make(map[uint64]*domain.Order),
		nextID: 1,
	}
}

func copyRecord(r domain.Record) domain.Record {
	r.History = append([]domain.StatusEntry(nil), r.History...)
	return r
}

func copyOrder(o *domain.Order) *domain.Order {
	c := *o
	c.Record = copyRecord(o.Record)
	c.Items = append([]domain.Item(nil), o.Items...)
	return &c
}

func (m *MockOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order.ID = m.nextID
	m.nextID++
	m.orders[order.ID] = copyOrder(order)
	return nil
}

func (m *MockOrderRepository) GetByID(ctx context.Context, id uint64) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return nil, domain.NewRecordNotFound(domain.OrderRef(id))
	}
	return copyOrder(order), nil
}

func (m *MockOrderRepository) GetByOwner(ctx context.Context, owner string) ([]*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*domain.Order
	for _, order := range m.orders {
		if order.Owner == owner {
			result = append(result, copyOrder(order))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Update holds the lock across fn, which is enough for tests
func (m *MockOrderRepository) Update(ctx context.Context, id uint64, fn func(*domain.Order) error) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return nil, domain.NewRecordNotFound(domain.OrderRef(id))
	}
	working := copyOrder(order)
	if err := fn(working); err != nil {
		return nil, err
	}
	working.Version++
	m.orders[id] = copyOrder(working)
	return working, nil
}

// MockBookingRepository is a mock implementation of BookingRepository
type MockBookingRepository struct {
	mu       sync.Mutex
	bookings map[uint64]*domain.Booking
	nextID   uint64
}

func NewMockBookingRepository() *MockBookingRepository {
	return &MockBookingRepository{
		bookings: make(map[uint64]*domain.Booking),
		nextID:   1,
	}
}

func copyBooking(b *domain.Booking) *domain.Booking {
	c := *b
	c.Record = copyRecord(b.Record)
	return &c
}

func (m *MockBookingRepository) Create(ctx context.Context, booking *domain.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	booking.ID = m.nextID
	m.nextID++
	m.bookings[booking.ID] = copyBooking(booking)
	return nil
}

func (m *MockBookingRepository) GetByID(ctx context.Context, id uint64) (*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	booking, ok := m.bookings[id]
	if !ok {
		return nil, domain.NewRecordNotFound(domain.BookingRef(id))
	}
	return copyBooking(booking), nil
}

func (m *MockBookingRepository) GetByOwner(ctx context.Context, owner string) ([]*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*domain.Booking
	for _, booking := range m.bookings {
		if booking.Owner == owner {
			result = append(result, copyBooking(booking))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MockBookingRepository) Update(ctx context.Context, id uint64, fn func(*domain.Booking) error) (*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	booking, ok := m.bookings[id]
	if !ok {
		return nil, domain.NewRecordNotFound(domain.BookingRef(id))
	}
	working := copyBooking(booking)
	if err := fn(working); err != nil {
		return nil, err
	}
	working.Version++
	m.bookings[id] = copyBooking(working)
	return working, nil
}

// MockCatalog is a fixed menu
type MockCatalog struct {
	items map[uint64]ports.CatalogItem
}

func NewMockCatalog() *MockCatalog {
	return &MockCatalog{items: map[uint64]ports.CatalogItem{
		1: {ID: 1, Name: "Jollof Rice", Price: 1500, Available: true},
		2: {ID: 2, Name: "Suya Platter", Price: 1800, Available: true},
		3: {ID: 3, Name: "Puff Puff", Price: 600, Available: false},
		4: {ID: 4, Name: "Private Dining", Price: math.MaxInt64 / 4, Available: true},
		5: {ID: 5, Name: "Tasting", Price: 0, Available: true},
	}}
}

func (m *MockCatalog) Lookup(ctx context.Context, itemIDs []uint64) (map[uint64]ports.CatalogItem, error) {
	out := make(map[uint64]ports.CatalogItem)
	for _, id := range itemIDs {
		if item, ok := m.items[id]; ok {
			out[id] = item
		}
	}
	return out, nil
}

// MockEventPublisher records published events
type MockEventPublisher struct {
	mu            sync.Mutex
	statusChanged []domain.Record
	settled       []domain.Record
	err           error
}

func (m *MockEventPublisher) PublishStatusChanged(ctx context.Context, record domain.Record, previous *domain.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusChanged = append(m.statusChanged, record)
	return m.err
}

func (m *MockEventPublisher) PublishPaymentSettled(ctx context.Context, record domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settled = append(m.settled, record)
	return m.err
}

func (m *MockEventPublisher) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.statusChanged), len(m.settled)
}

// MockGateway is a scripted payment gateway
type MockGateway struct {
	mu         sync.Mutex
	configured bool
	createErr  error
	queryErr   error
	outcomes   map[string]ports.SessionOutcome
	created    [][]ports.LineItem
	cancelURLs []string
	nextID     int
}

func NewMockGateway() *MockGateway {
	return &MockGateway{configured: true, outcomes: make(map[string]ports.SessionOutcome)}
}

func (m *MockGateway) Provider() string { return "mock" }

func (m *MockGateway) Configured() bool { return m.configured }

func (m *MockGateway) CreateSession(ctx context.Context, items []ports.LineItem, successURL, cancelURL string) (*ports.CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.nextID++
	id := fmt.Sprintf("cs_test_%d", m.nextID)
	m.outcomes[id] = ports.SessionOpen
	m.created = append(m.created, items)
	m.cancelURLs = append(m.cancelURLs, cancelURL)
	return &ports.CheckoutSession{SessionID: id, RedirectURL: "https://pay.example.com/" + id}, nil
}

func (m *MockGateway) QuerySession(ctx context.Context, sessionID string) (*ports.SessionStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	outcome, ok := m.outcomes[sessionID]
	if !ok {
		return nil, errors.New("no such session")
	}
	return &ports.SessionStatus{Outcome: outcome}, nil
}

func (m *MockGateway) resolve(sessionID string, outcome ports.SessionOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[sessionID] = outcome
}

// MockSessionLedger keeps checkout sessions in a map
type MockSessionLedger struct {
	mu      sync.Mutex
	entries map[string]ports.SessionEntry
	putErr  error
}

func NewMockSessionLedger() *MockSessionLedger {
	return &MockSessionLedger{entries: make(map[string]ports.SessionEntry)}
}

func (m *MockSessionLedger) Put(ctx context.Context, entry ports.SessionEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.entries[entry.SessionID] = entry
	return nil
}

func (m *MockSessionLedger) Get(ctx context.Context, sessionID string) (*ports.SessionEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[sessionID]
	if !ok {
		return nil, apperrors.NewNotFound("checkout session", sessionID)
	}
	return &entry, nil
}

func (m *MockSessionLedger) ListByRef(ctx context.Context, ref domain.Ref) ([]ports.SessionEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ports.SessionEntry
	for _, entry := range m.entries {
		if entry.Ref == ref {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID > out[j].SessionID })
	return out, nil
}

var (
	buyer   = domain.Principal{Subject: "buyer-1"}
	other   = domain.Principal{Subject: "buyer-2"}
	admin   = domain.Principal{Subject: "admin-1", Admin: true}
	fixedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

type fixture struct {
	orders    *MockOrderRepository
	bookings  *MockBookingRepository
	publisher *MockEventPublisher
	gateway   *MockGateway
	ledger    *MockSessionLedger
	modes     *PaymentModes
	lifecycle *LifecycleService
	saga      *ReconciliationSaga
}

func newFixture() *fixture {
	f := &fixture{
		orders:    NewMockOrderRepository(),
		bookings:  NewMockBookingRepository(),
		publisher: &MockEventPublisher{},
		gateway:   NewMockGateway(),
		ledger:    NewMockSessionLedger(),
		modes:     NewPaymentModes(false),
	}
	log := logger.New("test", "debug")
	f.lifecycle = NewLifecycleService(f.orders, f.bookings, NewMockCatalog(), f.publisher, log,
		WithClock(func() time.Time { return fixedAt }),
	)
	f.saga = NewReconciliationSaga(f.lifecycle, f.gateway, f.ledger, f.modes, SagaConfig{Currency: "usd"}, log, nil)
	return f
}

// placeOrder creates a two-line order for buyer and returns its ref
func (f *fixture) placeOrder(ctx context.Context) domain.Ref {
	out, err := f.lifecycle.CreateOrder(ctx, buyer, CreateOrderInput{
		Items: []domain.Item{{ItemID: 1, Quantity: 2}, {ItemID: 2, Quantity: 1}},
		Details: domain.OrderDetails{
			DeliveryAddress: "12 Marina Road",
			ContactNumber:   "+2348000000000",
		},
	})
	if err != nil {
		panic(err)
	}
	return out.Order.Ref()
}

// admit moves a record to confirmed as an admin
func (f *fixture) admit(ctx context.Context, ref domain.Ref) {
	if _, err := f.lifecycle.Transition(ctx, admin, TransitionInput{Ref: ref, Next: domain.Confirmed()}); err != nil {
		panic(err)
	}
}
