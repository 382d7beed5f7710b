package adapters

import (
	"context"
	"sort"
	"sync"

	"go-fulfillment/internal/orders/domain"
)

// keyedLocks hands out one mutex per record id
type keyedLocks struct {
	mu    sync.Mutex
	locks map[uint64]*sync.Mutex
}

func (k *keyedLocks) get(id uint64) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.locks == nil {
		k.locks = make(map[uint64]*sync.Mutex)
	}
	l, ok := k.locks[id]
	if !ok {
		l = &sync.Mutex{}
		k.locks[id] = l
	}
	return l
}

// MemoryOrderRepository keeps orders in process memory. Writers to the same
// id are serialized; readers always get a copy and never block on fn.
type MemoryOrderRepository struct {
	mu     sync.RWMutex
	orders map[uint64]*domain.Order
	nextID uint64
	locks  keyedLocks
}

// NewMemoryOrderRepository creates an empty in-memory order repository
func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{
		orders: make(map[uint64]*domain.Order),
		nextID: 1,
	}
}

// Create assigns the next id and stores a copy of the order
func (r *MemoryOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order.ID = r.nextID
	r.nextID++
	r.orders[order.ID] = cloneOrder(order)
	return nil
}

// GetByID retrieves an order by ID
func (r *MemoryOrderRepository) GetByID(ctx context.Context, id uint64) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, domain.NewRecordNotFound(domain.OrderRef(id))
	}
	return cloneOrder(order), nil
}

// GetByOwner retrieves an owner's orders, oldest first
func (r *MemoryOrderRepository) GetByOwner(ctx context.Context, owner string) ([]*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*domain.Order
	for _, order := range r.orders {
		if order.Owner == owner {
			result = append(result, cloneOrder(order))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Update applies fn to a copy under the id's lock and commits it on success
func (r *MemoryOrderRepository) Update(ctx context.Context, id uint64, fn func(*domain.Order) error) (*domain.Order, error) {
	lock := r.locks.get(id)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(current); err != nil {
		return nil, err
	}
	current.Version++

	r.mu.Lock()
	r.orders[id] = cloneOrder(current)
	r.mu.Unlock()
	return current, nil
}

// MemoryBookingRepository keeps chef bookings in process memory
type MemoryBookingRepository struct {
	mu       sync.RWMutex
	bookings map[uint64]*domain.Booking
	nextID   uint64
	locks    keyedLocks
}

// NewMemoryBookingRepository creates an empty in-memory booking repository
func NewMemoryBookingRepository() *MemoryBookingRepository {
	return &MemoryBookingRepository{
		bookings: make(map[uint64]*domain.Booking),
		nextID:   1,
	}
}

// Create assigns the next id and stores a copy of the booking
func (r *MemoryBookingRepository) Create(ctx context.Context, booking *domain.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	booking.ID = r.nextID
	r.nextID++
	r.bookings[booking.ID] = cloneBooking(booking)
	return nil
}

// GetByID retrieves a booking by ID
func (r *MemoryBookingRepository) GetByID(ctx context.Context, id uint64) (*domain.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	booking, ok := r.bookings[id]
	if !ok {
		return nil, domain.NewRecordNotFound(domain.BookingRef(id))
	}
	return cloneBooking(booking), nil
}

// GetByOwner retrieves an owner's bookings, oldest first
func (r *MemoryBookingRepository) GetByOwner(ctx context.Context, owner string) ([]*domain.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*domain.Booking
	for _, booking := range r.bookings {
		if booking.Owner == owner {
			result = append(result, cloneBooking(booking))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Update applies fn to a copy under the id's lock and commits it on success
func (r *MemoryBookingRepository) Update(ctx context.Context, id uint64, fn func(*domain.Booking) error) (*domain.Booking, error) {
	lock := r.locks.get(id)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(current); err != nil {
		return nil, err
	}
	current.Version++

	r.mu.Lock()
	r.bookings[id] = cloneBooking(current)
	r.mu.Unlock()
	return current, nil
}

func cloneRecord(r domain.Record) domain.Record {
	history := make([]domain.StatusEntry, len(r.History))
	copy(history, r.History)
	r.History = history
	return r
}

func cloneOrder(o *domain.Order) *domain.Order {
	c := *o
	c.Record = cloneRecord(o.Record)
	c.Items = make([]domain.Item, len(o.Items))
	copy(c.Items, o.Items)
	return &c
}

func cloneBooking(b *domain.Booking) *domain.Booking {
	c := *b
	c.Record = cloneRecord(b.Record)
	return &c
}
