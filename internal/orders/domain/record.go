package domain

import (
	"strings"
	"time"
)

// StatusEntry is one element of the append-only status history
type StatusEntry struct {
	Status    Status    `json:"status"`
	EnteredAt time.Time `json:"entered_at"`
}

// Record is the lifecycle state shared by orders and chef bookings
type Record struct {
	ID               uint64
	Entity           EntityKind
	Owner            string
	Status           Status
	History          []StatusEntry
	Amount           int64
	PaymentReference string
	Version          uint64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func newRecord(entity EntityKind, owner string, amount int64, now time.Time) Record {
	return Record{
		Entity:    entity,
		Owner:     owner,
		Status:    PendingPayment(),
		History:   []StatusEntry{{Status: PendingPayment(), EnteredAt: now}},
		Amount:    amount,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Ref identifies the record across both entity kinds
func (r *Record) Ref() Ref { return Ref{Entity: r.Entity, ID: r.ID} }

// Lifecycle returns the transition table that governs the record
func (r *Record) Lifecycle() *Lifecycle { return LifecycleFor(r.Entity) }

// IsSettled reports whether a payment reference has been attached.
// Reference presence, not status, marks settlement.
func (r *Record) IsSettled() bool { return r.PaymentReference != "" }

// Transition moves the record to next. When expected is non-nil the
// current status must equal it.
func (r *Record) Transition(expected *Status, next Status, now time.Time) error {
	if expected != nil && !r.Status.Equal(*expected) {
		return ErrStatusChanged(r.Ref(), *expected, r.Status)
	}
	if err := r.checkTransition(next); err != nil {
		return err
	}
	r.apply(next, now)
	return nil
}

// AttachPaymentReference sets the reference once and moves to next in the
// same step. When next equals the current status only the reference changes
// and no history entry is written.
func (r *Record) AttachPaymentReference(ref string, next Status, now time.Time) error {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ErrPaymentReferenceRequired
	}
	if r.PaymentReference != "" {
		return ErrReferenceAlreadySet(r.Ref(), r.PaymentReference)
	}
	if next.Equal(r.Status) {
		if r.Status.IsTerminal() {
			return ErrTerminalStatus(r.Ref(), r.Status)
		}
		r.PaymentReference = ref
		r.UpdatedAt = now
		return nil
	}
	if err := r.checkTransition(next); err != nil {
		return err
	}
	r.PaymentReference = ref
	r.apply(next, now)
	return nil
}

func (r *Record) checkTransition(next Status) error {
	if err := next.Validate(); err != nil {
		return err
	}
	lc := r.Lifecycle()
	if !lc.Allows(next.Kind()) {
		return ErrStatusNotAllowed(r.Entity, next)
	}
	if r.Status.IsTerminal() {
		return ErrTerminalStatus(r.Ref(), r.Status)
	}
	if !lc.CanTransition(r.Status.Kind(), next.Kind()) {
		return ErrTransitionNotAllowed(r.Ref(), r.Status, next)
	}
	return nil
}

func (r *Record) apply(next Status, now time.Time) {
	r.Status = next
	r.History = append(r.History, StatusEntry{Status: next, EnteredAt: now})
	r.UpdatedAt = now
}

// Ref is a typed pointer to an order or booking
type Ref struct {
	Entity EntityKind
	ID     uint64
}

// OrderRef builds a reference to an order
func OrderRef(id uint64) Ref { return Ref{Entity: EntityOrder, ID: id} }

// BookingRef builds a reference to a chef booking
func BookingRef(id uint64) Ref { return Ref{Entity: EntityBooking, ID: id} }
