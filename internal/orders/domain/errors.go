package domain

import (
	"fmt"

	"go-fulfillment/pkg/errors"
)

// Domain-specific errors
var (
	ErrOwnerRequired            = errors.NewValidation("owner is required", nil)
	ErrItemsRequired            = errors.NewValidation("at least one item is required", nil)
	ErrInvalidAmount            = errors.NewValidation("amount must be greater than 0", nil)
	ErrPaymentReferenceRequired = errors.NewValidation("payment reference is required", nil)
)

// ErrFieldRequired reports a blank required text field
func ErrFieldRequired(field string) error {
	return errors.NewValidation(field+" is required", map[string]interface{}{
		"field": field,
	})
}

// ErrInvalidItem reports a malformed order line
func ErrInvalidItem(index int, reason string) error {
	return errors.NewValidation("invalid item: "+reason, map[string]interface{}{
		"index": index,
	})
}

// ErrUnknownStatus reports a status tag outside the closed variant set
func ErrUnknownStatus(kind string) error {
	return errors.NewValidation(fmt.Sprintf("unknown status %q", kind), nil)
}

// ErrReasonRequired reports a rejected/cancelled status without a reason
func ErrReasonRequired(kind StatusKind) error {
	return errors.NewValidation(fmt.Sprintf("status %s requires a reason", kind), nil)
}

// ErrReasonNotAllowed reports a reason attached to a variant without payload
func ErrReasonNotAllowed(kind StatusKind) error {
	return errors.NewValidation(fmt.Sprintf("status %s does not take a reason", kind), nil)
}

// NewRecordNotFound creates a not found error for an order or booking
func NewRecordNotFound(ref Ref) error {
	return errors.NewNotFound(string(ref.Entity), ref.ID)
}

// ErrStatusNotAllowed reports a variant that does not exist for the entity
func ErrStatusNotAllowed(entity EntityKind, next Status) error {
	return errors.NewInvalidTransition(
		fmt.Sprintf("status %s is not defined for %s", next.Kind(), entity),
		map[string]interface{}{"next": next.Kind()},
	)
}

// ErrTerminalStatus reports an attempt to move a frozen record
func ErrTerminalStatus(ref Ref, current Status) error {
	return errors.NewInvalidTransition(
		fmt.Sprintf("%s %d is %s and accepts no further changes", ref.Entity, ref.ID, current.Kind()),
		map[string]interface{}{"current": current.Kind()},
	)
}

// ErrTransitionNotAllowed reports a pair missing from the transition table
func ErrTransitionNotAllowed(ref Ref, current, next Status) error {
	return errors.NewInvalidTransition(
		fmt.Sprintf("%s %d cannot move from %s to %s", ref.Entity, ref.ID, current.Kind(), next.Kind()),
		map[string]interface{}{"current": current.Kind(), "next": next.Kind()},
	)
}

// ErrStatusChanged reports an optimistic guard mismatch
func ErrStatusChanged(ref Ref, expected, actual Status) error {
	return errors.NewConcurrentModification(
		fmt.Sprintf("%s %d status is %s, expected %s", ref.Entity, ref.ID, actual.Kind(), expected.Kind()),
		map[string]interface{}{"expected": expected, "actual": actual},
	)
}

// ErrReferenceAlreadySet reports a second settlement attempt
func ErrReferenceAlreadySet(ref Ref, existing string) error {
	return errors.NewPaymentReferenceAlreadySet(
		fmt.Sprintf("%s %d already has payment reference %s", ref.Entity, ref.ID, existing),
	)
}

// ErrNotAdmitted reports a payment attempt before admin acceptance
func ErrNotAdmitted(ref Ref, current Status) error {
	return errors.NewInvalidTransition(
		fmt.Sprintf("%s %d is %s; payment opens once it is confirmed", ref.Entity, ref.ID, current.Kind()),
		map[string]interface{}{"current": current.Kind()},
	)
}
