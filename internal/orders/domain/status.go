package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StatusKind is the variant tag of a Status
type StatusKind string

const (
	KindPendingPayment StatusKind = "pendingPayment"
	KindConfirmed      StatusKind = "confirmed"
	KindInProgress     StatusKind = "inProgress"
	KindOutForDelivery StatusKind = "outForDelivery"
	KindCompleted      StatusKind = "completed"
	KindRejected       StatusKind = "rejected"
	KindCancelled      StatusKind = "cancelled"
	KindPaymentFailed  StatusKind = "paymentFailed"
)

// carriesReason reports whether the variant requires a reason payload
func (k StatusKind) carriesReason() bool {
	return k == KindRejected || k == KindCancelled
}

// IsTerminal reports whether no transition may leave this variant
func (k StatusKind) IsTerminal() bool {
	switch k {
	case KindCompleted, KindRejected, KindCancelled:
		return true
	default:
		return false
	}
}

func (k StatusKind) known() bool {
	switch k {
	case KindPendingPayment, KindConfirmed, KindInProgress, KindOutForDelivery,
		KindCompleted, KindRejected, KindCancelled, KindPaymentFailed:
		return true
	default:
		return false
	}
}

// Status is an order or booking status: a variant tag plus the reason
// payload that only rejected and cancelled carry. The zero value is
// pendingPayment.
type Status struct {
	kind   StatusKind
	reason string
}

func PendingPayment() Status { return Status{kind: KindPendingPayment} }
func Confirmed() Status      { return Status{kind: KindConfirmed} }
func InProgress() Status     { return Status{kind: KindInProgress} }
func OutForDelivery() Status { return Status{kind: KindOutForDelivery} }
func Completed() Status      { return Status{kind: KindCompleted} }
func PaymentFailed() Status  { return Status{kind: KindPaymentFailed} }

// Rejected builds a rejected status. The reason is trimmed; a blank reason
// is refused by Validate before it can reach a record.
func Rejected(reason string) Status {
	return Status{kind: KindRejected, reason: strings.TrimSpace(reason)}
}

// Cancelled builds a cancelled status, see Rejected for reason handling.
func Cancelled(reason string) Status {
	return Status{kind: KindCancelled, reason: strings.TrimSpace(reason)}
}

// ParseStatus builds a Status from its wire parts
func ParseStatus(kind, reason string) (Status, error) {
	k := StatusKind(strings.TrimSpace(kind))
	if !k.known() {
		return Status{}, ErrUnknownStatus(kind)
	}
	reason = strings.TrimSpace(reason)
	if k.carriesReason() && reason == "" {
		return Status{}, ErrReasonRequired(k)
	}
	if !k.carriesReason() && reason != "" {
		return Status{}, ErrReasonNotAllowed(k)
	}
	return Status{kind: k, reason: reason}, nil
}

// Kind returns the variant tag
func (s Status) Kind() StatusKind {
	if s.kind == "" {
		return KindPendingPayment
	}
	return s.kind
}

// Reason returns the rejection/cancellation reason, empty for other variants
func (s Status) Reason() string { return s.reason }

// IsTerminal reports whether the status is completed, rejected or cancelled
func (s Status) IsTerminal() bool { return s.Kind().IsTerminal() }

// Equal compares variant and payload
func (s Status) Equal(other Status) bool {
	return s.Kind() == other.Kind() && s.reason == other.reason
}

// Validate checks the payload rules for the variant
func (s Status) Validate() error {
	_, err := ParseStatus(string(s.Kind()), s.reason)
	return err
}

func (s Status) String() string {
	if s.reason != "" {
		return fmt.Sprintf("%s(%s)", s.Kind(), s.reason)
	}
	return string(s.Kind())
}

// Label is the human readable form shown to buyers and admins
func (s Status) Label() string {
	switch s.Kind() {
	case KindPendingPayment:
		return "Pending Payment"
	case KindConfirmed:
		return "Confirmed"
	case KindInProgress:
		return "In Progress"
	case KindOutForDelivery:
		return "Out for Delivery"
	case KindCompleted:
		return "Completed"
	case KindRejected:
		return "Rejected: " + s.reason
	case KindCancelled:
		return "Cancelled: " + s.reason
	case KindPaymentFailed:
		return "Payment Failed"
	default:
		return "Unknown"
	}
}

type statusJSON struct {
	Kind   StatusKind `json:"kind"`
	Reason string     `json:"reason,omitempty"`
}

// MarshalJSON encodes the status as {"kind": ..., "reason": ...}
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(statusJSON{Kind: s.Kind(), Reason: s.reason})
}

// UnmarshalJSON decodes and validates the tagged form
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw statusJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseStatus(string(raw.Kind), raw.Reason)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
