package domain

import (
	"encoding/json"
	"testing"

	"go-fulfillment/pkg/errors"
)

func TestStatus_ZeroValueIsPendingPayment(t *testing.T) {
	var s Status
	if s.Kind() != KindPendingPayment {
		t.Errorf("expected pendingPayment, got %s", s.Kind())
	}
	if !s.Equal(PendingPayment()) {
		t.Error("expected zero value to equal PendingPayment()")
	}
}

func TestStatus_Terminal(t *testing.T) {
	terminal := map[StatusKind]bool{
		KindCompleted: true,
		KindRejected:  true,
		KindCancelled: true,
	}
	all := []Status{
		PendingPayment(), Confirmed(), InProgress(), OutForDelivery(),
		Completed(), Rejected("r"), Cancelled("c"), PaymentFailed(),
	}
	for _, s := range all {
		if s.IsTerminal() != terminal[s.Kind()] {
			t.Errorf("%s: expected terminal=%v", s, terminal[s.Kind()])
		}
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		name    string
		kind    string
		reason  string
		want    Status
		wantErr bool
	}{
		{"plain variant", "confirmed", "", Confirmed(), false},
		{"reason trimmed", "rejected", "  out of stock ", Rejected("out of stock"), false},
		{"cancelled with reason", "cancelled", "buyer request", Cancelled("buyer request"), false},
		{"missing reason", "rejected", "   ", Status{}, true},
		{"reason on plain variant", "confirmed", "because", Status{}, true},
		{"unknown tag", "shipped", "", Status{}, true},
		{"empty tag", "", "", Status{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStatus(tt.kind, tt.reason)
			if tt.wantErr {
				if !errors.Is(err, errors.CodeValidation) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestStatus_Equal(t *testing.T) {
	if Rejected("a").Equal(Rejected("b")) {
		t.Error("expected different reasons to differ")
	}
	if Rejected("a").Equal(Cancelled("a")) {
		t.Error("expected different variants to differ")
	}
	if !Cancelled(" a ").Equal(Cancelled("a")) {
		t.Error("expected trimmed reasons to be equal")
	}
}

func TestStatus_JSONRoundTrip(t *testing.T) {
	for _, s := range []Status{PendingPayment(), OutForDelivery(), Rejected("kitchen closed"), Cancelled("duplicate")} {
		data, err := json.Marshal(s)
		if err != nil {
			t.Fatalf("marshal %s: %v", s, err)
		}
		var back Status
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if !back.Equal(s) {
			t.Errorf("expected %s after round trip, got %s", s, back)
		}
	}
}

func TestStatus_UnmarshalRejectsInvalidPayload(t *testing.T) {
	inputs := []string{
		`{"kind":"rejected"}`,
		`{"kind":"confirmed","reason":"x"}`,
		`{"kind":"teleported"}`,
	}
	for _, in := range inputs {
		var s Status
		if err := json.Unmarshal([]byte(in), &s); err == nil {
			t.Errorf("expected error for %s", in)
		}
	}
}

func TestStatus_Label(t *testing.T) {
	if got := Rejected("no chef available").Label(); got != "Rejected: no chef available" {
		t.Errorf("unexpected label %q", got)
	}
	if got := OutForDelivery().Label(); got != "Out for Delivery" {
		t.Errorf("unexpected label %q", got)
	}
}
