package adapters

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"go-fulfillment/internal/orders/domain"
	apperrors "go-fulfillment/pkg/errors"
)

// OrderModel is the GORM model for orders (persistence layer)
type OrderModel struct {
	ID                  uint64           `gorm:"primaryKey"`
	Owner               string           `gorm:"size:128;index;not null"`
	Status              string           `gorm:"size:32;not null;default:'pendingPayment'"`
	StatusReason        string           `gorm:"size:500"`
	Amount              int64            `gorm:"not null"`
	PaymentReference    *string          `gorm:"size:255;uniqueIndex"`
	Version             uint64           `gorm:"not null;default:0"`
	DeliveryAddress     string           `gorm:"size:500;not null"`
	ContactNumber       string           `gorm:"size:64;not null"`
	SpecialInstructions string           `gorm:"size:1000"`
	Items               []OrderItemModel `gorm:"foreignKey:OrderID"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// TableName returns the table name for GORM
func (OrderModel) TableName() string {
	return "orders"
}

// OrderItemModel is one line of an order
type OrderItemModel struct {
	ID                  uint64 `gorm:"primaryKey"`
	OrderID             uint64 `gorm:"index;not null"`
	ItemID              uint64 `gorm:"not null"`
	Quantity            int64  `gorm:"not null"`
	SpecialInstructions string `gorm:"size:500"`
}

// TableName returns the table name for GORM
func (OrderItemModel) TableName() string {
	return "order_items"
}

// BookingModel is the GORM model for chef bookings
type BookingModel struct {
	ID               uint64    `gorm:"primaryKey"`
	Owner            string    `gorm:"size:128;index;not null"`
	Status           string    `gorm:"size:32;not null;default:'pendingPayment'"`
	StatusReason     string    `gorm:"size:500"`
	Price            int64     `gorm:"not null"`
	PaymentReference *string   `gorm:"size:255;uniqueIndex"`
	Version          uint64    `gorm:"not null;default:0"`
	EventDate        time.Time `gorm:"not null"`
	Location         string    `gorm:"size:500;not null"`
	EventDetails     string    `gorm:"size:2000;not null"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TableName returns the table name for GORM
func (BookingModel) TableName() string {
	return "chef_bookings"
}

// HistoryModel is one append-only status history row, shared by orders and
// bookings
type HistoryModel struct {
	ID        uint64    `gorm:"primaryKey"`
	Entity    string    `gorm:"size:16;not null;index:idx_history_record,priority:1"`
	RecordID  uint64    `gorm:"not null;index:idx_history_record,priority:2"`
	Seq       int       `gorm:"not null"`
	Status    string    `gorm:"size:32;not null"`
	Reason    string    `gorm:"size:500"`
	EnteredAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (HistoryModel) TableName() string {
	return "status_history"
}

// Migrate runs auto-migration for every lifecycle table
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&OrderModel{}, &OrderItemModel{}, &BookingModel{}, &HistoryModel{})
}

// PostgresOrderRepository implements OrderRepository using PostgreSQL.
// Update holds a row lock for the duration of the callback and bumps the
// version column, so concurrent writers to one order are serialized.
type PostgresOrderRepository struct {
	db *gorm.DB
}

// NewPostgresOrderRepository creates a new PostgreSQL order repository
func NewPostgresOrderRepository(db *gorm.DB) *PostgresOrderRepository {
	return &PostgresOrderRepository{db: db}
}

// Create stores the order, its items and its first history entry
func (r *PostgresOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	model := toOrderModel(order)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		return appendHistory(tx, domain.EntityOrder, model.ID, order.History, 0)
	})
	if err != nil {
		return apperrors.NewInternal("failed to create order", err)
	}

	// Update domain entity with generated ID
	order.ID = model.ID
	order.CreatedAt = model.CreatedAt
	order.UpdatedAt = model.UpdatedAt
	return nil
}

// GetByID retrieves an order by ID
func (r *PostgresOrderRepository) GetByID(ctx context.Context, id uint64) (*domain.Order, error) {
	return r.load(r.db.WithContext(ctx), id, false)
}

// GetByOwner retrieves orders placed by an owner
func (r *PostgresOrderRepository) GetByOwner(ctx context.Context, owner string) ([]*domain.Order, error) {
	var models []OrderModel

	db := r.db.WithContext(ctx)
	if err := db.Where("owner = ?", owner).Order("id").Find(&models).Error; err != nil {
		return nil, apperrors.NewInternal("failed to get orders by owner", err)
	}

	orders := make([]*domain.Order, 0, len(models))
	for i := range models {
		order, err := r.hydrate(db, &models[i])
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// Update locks the order row, applies fn and writes the new state
func (r *PostgresOrderRepository) Update(ctx context.Context, id uint64, fn func(*domain.Order) error) (*domain.Order, error) {
	var updated *domain.Order

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := r.load(tx, id, true)
		if err != nil {
			return err
		}
		version := order.Version
		seen := len(order.History)

		if err := fn(order); err != nil {
			return err
		}

		if err := saveRecord(tx, &OrderModel{}, order.Record, version); err != nil {
			return err
		}
		if err := appendHistory(tx, domain.EntityOrder, id, order.History, seen); err != nil {
			return apperrors.NewInternal("failed to append order history", err)
		}
		order.Version = version + 1
		updated = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *PostgresOrderRepository) load(db *gorm.DB, id uint64, lock bool) (*domain.Order, error) {
	var model OrderModel

	q := db
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := q.First(&model, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewRecordNotFound(domain.OrderRef(id))
		}
		return nil, apperrors.NewInternal("failed to get order", err)
	}
	return r.hydrate(db, &model)
}

func (r *PostgresOrderRepository) hydrate(db *gorm.DB, model *OrderModel) (*domain.Order, error) {
	if err := db.Where("order_id = ?", model.ID).Order("id").Find(&model.Items).Error; err != nil {
		return nil, apperrors.NewInternal("failed to get order items", err)
	}
	history, err := loadHistory(db, domain.EntityOrder, model.ID)
	if err != nil {
		return nil, err
	}
	return orderToDomain(model, history)
}

// PostgresBookingRepository implements BookingRepository using PostgreSQL
type PostgresBookingRepository struct {
	db *gorm.DB
}

// NewPostgresBookingRepository creates a new PostgreSQL booking repository
func NewPostgresBookingRepository(db *gorm.DB) *PostgresBookingRepository {
	return &PostgresBookingRepository{db: db}
}

// Create stores the booking and its first history entry
func (r *PostgresBookingRepository) Create(ctx context.Context, booking *domain.Booking) error {
	model := toBookingModel(booking)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		return appendHistory(tx, domain.EntityBooking, model.ID, booking.History, 0)
	})
	if err != nil {
		return apperrors.NewInternal("failed to create booking", err)
	}

	booking.ID = model.ID
	booking.CreatedAt = model.CreatedAt
	booking.UpdatedAt = model.UpdatedAt
	return nil
}

// GetByID retrieves a booking by ID
func (r *PostgresBookingRepository) GetByID(ctx context.Context, id uint64) (*domain.Booking, error) {
	return r.load(r.db.WithContext(ctx), id, false)
}

// GetByOwner retrieves bookings made by an owner
func (r *PostgresBookingRepository) GetByOwner(ctx context.Context, owner string) ([]*domain.Booking, error) {
	var models []BookingModel

	db := r.db.WithContext(ctx)
	if err := db.Where("owner = ?", owner).Order("id").Find(&models).Error; err != nil {
		return nil, apperrors.NewInternal("failed to get bookings by owner", err)
	}

	bookings := make([]*domain.Booking, 0, len(models))
	for i := range models {
		history, err := loadHistory(db, domain.EntityBooking, models[i].ID)
		if err != nil {
			return nil, err
		}
		booking, err := bookingToDomain(&models[i], history)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, booking)
	}
	return bookings, nil
}

// Update locks the booking row, applies fn and writes the new state
func (r *PostgresBookingRepository) Update(ctx context.Context, id uint64, fn func(*domain.Booking) error) (*domain.Booking, error) {
	var updated *domain.Booking

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		booking, err := r.load(tx, id, true)
		if err != nil {
			return err
		}
		version := booking.Version
		seen := len(booking.History)

		if err := fn(booking); err != nil {
			return err
		}

		if err := saveRecord(tx, &BookingModel{}, booking.Record, version); err != nil {
			return err
		}
		if err := appendHistory(tx, domain.EntityBooking, id, booking.History, seen); err != nil {
			return apperrors.NewInternal("failed to append booking history", err)
		}
		booking.Version = version + 1
		updated = booking
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *PostgresBookingRepository) load(db *gorm.DB, id uint64, lock bool) (*domain.Booking, error) {
	var model BookingModel

	q := db
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := q.First(&model, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewRecordNotFound(domain.BookingRef(id))
		}
		return nil, apperrors.NewInternal("failed to get booking", err)
	}

	history, err := loadHistory(db, domain.EntityBooking, id)
	if err != nil {
		return nil, err
	}
	return bookingToDomain(&model, history)
}

// saveRecord writes the mutable lifecycle columns if the row still has the
// version that was read
func saveRecord(tx *gorm.DB, model interface{}, record domain.Record, version uint64) error {
	result := tx.Model(model).
		Where("id = ? AND version = ?", record.ID, version).
		Updates(map[string]interface{}{
			"status":            string(record.Status.Kind()),
			"status_reason":     record.Status.Reason(),
			"payment_reference": nullable(record.PaymentReference),
			"version":           version + 1,
			"updated_at":        record.UpdatedAt,
		})
	if result.Error != nil {
		return apperrors.NewInternal("failed to update "+string(record.Entity), result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.NewConcurrentModification(
			string(record.Entity)+" was modified concurrently",
			map[string]interface{}{"id": record.ID, "version": version},
		)
	}
	return nil
}

func loadHistory(db *gorm.DB, entity domain.EntityKind, id uint64) ([]domain.StatusEntry, error) {
	var rows []HistoryModel
	if err := db.Where("entity = ? AND record_id = ?", string(entity), id).Order("seq").Find(&rows).Error; err != nil {
		return nil, apperrors.NewInternal("failed to get status history", err)
	}

	history := make([]domain.StatusEntry, 0, len(rows))
	for _, row := range rows {
		status, err := domain.ParseStatus(row.Status, row.Reason)
		if err != nil {
			return nil, apperrors.NewInternal("corrupt status history row", err)
		}
		history = append(history, domain.StatusEntry{Status: status, EnteredAt: row.EnteredAt})
	}
	return history, nil
}

// appendHistory inserts history[from:]. Rows are never updated or deleted.
func appendHistory(tx *gorm.DB, entity domain.EntityKind, id uint64, history []domain.StatusEntry, from int) error {
	if from >= len(history) {
		return nil
	}
	rows := make([]HistoryModel, 0, len(history)-from)
	for i := from; i < len(history); i++ {
		rows = append(rows, HistoryModel{
			Entity:    string(entity),
			RecordID:  id,
			Seq:       i,
			Status:    string(history[i].Status.Kind()),
			Reason:    history[i].Status.Reason(),
			EnteredAt: history[i].EnteredAt,
		})
	}
	return tx.Create(&rows).Error
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// toOrderModel converts a domain entity to a GORM model
func toOrderModel(order *domain.Order) *OrderModel {
	items := make([]OrderItemModel, len(order.Items))
	for i, item := range order.Items {
		items[i] = OrderItemModel{
			ItemID:              item.ItemID,
			Quantity:            item.Quantity,
			SpecialInstructions: item.SpecialInstructions,
		}
	}
	return &OrderModel{
		ID:                  order.ID,
		Owner:               order.Owner,
		Status:              string(order.Status.Kind()),
		StatusReason:        order.Status.Reason(),
		Amount:              order.Amount,
		PaymentReference:    nullable(order.PaymentReference),
		Version:             order.Version,
		DeliveryAddress:     order.DeliveryAddress,
		ContactNumber:       order.ContactNumber,
		SpecialInstructions: order.SpecialInstructions,
		Items:               items,
		CreatedAt:           order.CreatedAt,
		UpdatedAt:           order.UpdatedAt,
	}
}

// orderToDomain converts a GORM model to a domain entity
func orderToDomain(model *OrderModel, history []domain.StatusEntry) (*domain.Order, error) {
	status, err := domain.ParseStatus(model.Status, model.StatusReason)
	if err != nil {
		return nil, apperrors.NewInternal("corrupt order status", err)
	}

	items := make([]domain.Item, len(model.Items))
	for i, item := range model.Items {
		items[i] = domain.Item{
			ItemID:              item.ItemID,
			Quantity:            item.Quantity,
			SpecialInstructions: item.SpecialInstructions,
		}
	}

	return &domain.Order{
		Record: domain.Record{
			ID:               model.ID,
			Entity:           domain.EntityOrder,
			Owner:            model.Owner,
			Status:           status,
			History:          history,
			Amount:           model.Amount,
			PaymentReference: deref(model.PaymentReference),
			Version:          model.Version,
			CreatedAt:        model.CreatedAt,
			UpdatedAt:        model.UpdatedAt,
		},
		Items:               items,
		DeliveryAddress:     model.DeliveryAddress,
		ContactNumber:       model.ContactNumber,
		SpecialInstructions: model.SpecialInstructions,
	}, nil
}

func toBookingModel(booking *domain.Booking) *BookingModel {
	return &BookingModel{
		ID:               booking.ID,
		Owner:            booking.Owner,
		Status:           string(booking.Status.Kind()),
		StatusReason:     booking.Status.Reason(),
		Price:            booking.Amount,
		PaymentReference: nullable(booking.PaymentReference),
		Version:          booking.Version,
		EventDate:        booking.EventDate,
		Location:         booking.Location,
		EventDetails:     booking.EventDetails,
		CreatedAt:        booking.CreatedAt,
		UpdatedAt:        booking.UpdatedAt,
	}
}

func bookingToDomain(model *BookingModel, history []domain.StatusEntry) (*domain.Booking, error) {
	status, err := domain.ParseStatus(model.Status, model.StatusReason)
	if err != nil {
		return nil, apperrors.NewInternal("corrupt booking status", err)
	}

	return &domain.Booking{
		Record: domain.Record{
			ID:               model.ID,
			Entity:           domain.EntityBooking,
			Owner:            model.Owner,
			Status:           status,
			History:          history,
			Amount:           model.Price,
			PaymentReference: deref(model.PaymentReference),
			Version:          model.Version,
			CreatedAt:        model.CreatedAt,
			UpdatedAt:        model.UpdatedAt,
		},
		EventDate:    model.EventDate,
		Location:     model.Location,
		EventDetails: model.EventDetails,
	}, nil
}
