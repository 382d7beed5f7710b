package domain

// EntityKind distinguishes the two record families sharing one lifecycle shape
type EntityKind string

const (
	EntityOrder   EntityKind = "order"
	EntityBooking EntityKind = "booking"
)

// Lifecycle is the transition table for one entity kind. It is the only
// place that decides which status may follow which.
type Lifecycle struct {
	entity      EntityKind
	variants    map[StatusKind]bool
	transitions map[StatusKind][]StatusKind
}

var orderLifecycle = &Lifecycle{
	entity: EntityOrder,
	variants: map[StatusKind]bool{
		KindPendingPayment: true,
		KindConfirmed:      true,
		KindInProgress:     true,
		KindOutForDelivery: true,
		KindCompleted:      true,
		KindRejected:       true,
		KindCancelled:      true,
		KindPaymentFailed:  true,
	},
	transitions: map[StatusKind][]StatusKind{
		KindPendingPayment: {KindConfirmed, KindRejected, KindCancelled, KindPaymentFailed},
		KindPaymentFailed:  {KindPendingPayment, KindCancelled},
		KindConfirmed:      {KindInProgress, KindCancelled},
		KindInProgress:     {KindOutForDelivery, KindCancelled},
		KindOutForDelivery: {KindCompleted, KindCancelled},
	},
}

var bookingLifecycle = &Lifecycle{
	entity: EntityBooking,
	variants: map[StatusKind]bool{
		KindPendingPayment: true,
		KindConfirmed:      true,
		KindRejected:       true,
		KindCancelled:      true,
		KindPaymentFailed:  true,
	},
	transitions: map[StatusKind][]StatusKind{
		KindPendingPayment: {KindConfirmed, KindRejected, KindCancelled, KindPaymentFailed},
		KindPaymentFailed:  {KindPendingPayment, KindCancelled},
	},
}

// OrderLifecycle returns the order transition table
func OrderLifecycle() *Lifecycle { return orderLifecycle }

// BookingLifecycle returns the booking transition table
func BookingLifecycle() *Lifecycle { return bookingLifecycle }

// LifecycleFor returns the table for an entity kind
func LifecycleFor(entity EntityKind) *Lifecycle {
	if entity == EntityBooking {
		return bookingLifecycle
	}
	return orderLifecycle
}

// Entity returns the entity kind the table governs
func (l *Lifecycle) Entity() EntityKind { return l.entity }

// Allows reports whether the variant exists for this entity kind
func (l *Lifecycle) Allows(kind StatusKind) bool { return l.variants[kind] }

// Next lists the variants reachable from kind. Terminal variants have none.
func (l *Lifecycle) Next(kind StatusKind) []StatusKind {
	next := l.transitions[kind]
	out := make([]StatusKind, len(next))
	copy(out, next)
	return out
}

// CanTransition reports whether from -> to is in the table
func (l *Lifecycle) CanTransition(from, to StatusKind) bool {
	if from.IsTerminal() {
		return false
	}
	for _, k := range l.transitions[from] {
		if k == to {
			return true
		}
	}
	return false
}
