package domain

import (
	"fmt"
	"strings"
	"time"
)

// MaxItemQuantity bounds a single order line
const MaxItemQuantity = 1000

// Item is one line of an order
type Item struct {
	ItemID              uint64
	Quantity            int64
	SpecialInstructions string
}

// Order represents the order domain entity
type Order struct {
	Record
	Items               []Item
	DeliveryAddress     string
	ContactNumber       string
	SpecialInstructions string
}

// OrderDetails holds the buyer supplied delivery fields
type OrderDetails struct {
	DeliveryAddress     string
	ContactNumber       string
	SpecialInstructions string
}

// ValidateItems checks the item list before it is priced
func ValidateItems(items []Item) error {
	if len(items) == 0 {
		return ErrItemsRequired
	}
	for i, item := range items {
		if item.ItemID == 0 {
			return ErrInvalidItem(i, "item_id is required")
		}
		if item.Quantity < 1 {
			return ErrInvalidItem(i, "quantity must be at least 1")
		}
		if item.Quantity > MaxItemQuantity {
			return ErrInvalidItem(i, fmt.Sprintf("quantity must be at most %d", MaxItemQuantity))
		}
	}
	return nil
}

// NewOrder creates a new order in pendingPayment. total is the catalog
// price of the items computed by the caller and is fixed from here on.
func NewOrder(owner string, items []Item, details OrderDetails, total int64, now time.Time) (*Order, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, ErrOwnerRequired
	}
	if err := ValidateItems(items); err != nil {
		return nil, err
	}
	if strings.TrimSpace(details.DeliveryAddress) == "" {
		return nil, ErrFieldRequired("delivery_address")
	}
	if strings.TrimSpace(details.ContactNumber) == "" {
		return nil, ErrFieldRequired("contact_number")
	}
	if total <= 0 {
		return nil, ErrInvalidAmount
	}

	lines := make([]Item, len(items))
	copy(lines, items)

	return &Order{
		Record:              newRecord(EntityOrder, owner, total, now),
		Items:               lines,
		DeliveryAddress:     strings.TrimSpace(details.DeliveryAddress),
		ContactNumber:       strings.TrimSpace(details.ContactNumber),
		SpecialInstructions: strings.TrimSpace(details.SpecialInstructions),
	}, nil
}

// Booking represents a chef booking
type Booking struct {
	Record
	EventDate    time.Time
	Location     string
	EventDetails string
}

// NewBooking creates a new chef booking in pendingPayment
func NewBooking(owner string, eventDate time.Time, location, eventDetails string, price int64, now time.Time) (*Booking, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, ErrOwnerRequired
	}
	if eventDate.IsZero() {
		return nil, ErrFieldRequired("event_date")
	}
	if strings.TrimSpace(location) == "" {
		return nil, ErrFieldRequired("location")
	}
	if strings.TrimSpace(eventDetails) == "" {
		return nil, ErrFieldRequired("event_details")
	}
	if price <= 0 {
		return nil, ErrInvalidAmount
	}

	return &Booking{
		Record:       newRecord(EntityBooking, owner, price, now),
		EventDate:    eventDate,
		Location:     strings.TrimSpace(location),
		EventDetails: strings.TrimSpace(eventDetails),
	}, nil
}
