package adapters

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"go-fulfillment/internal/orders/domain"
	"go-fulfillment/pkg/events"
)

func TestStatusChangedPayload(t *testing.T) {
	record := domain.Record{
		ID:      5,
		Entity:  domain.EntityBooking,
		Owner:   "buyer-1",
		Status:  domain.Rejected("chef unavailable"),
		History: []domain.StatusEntry{{Status: domain.PendingPayment()}, {Status: domain.Rejected("chef unavailable")}},
		Amount:  25000,
	}
	previous := domain.PendingPayment()

	payload := StatusChangedPayload(record, &previous)
	event := events.NewStatusChangedEvent(payload, "trace-1")

	assert.Equal(t, "booking.status_changed", event.EventType)
	assert.Equal(t, "rejected", payload.Status)
	assert.Equal(t, "chef unavailable", payload.Reason)
	assert.Equal(t, "pendingPayment", payload.PreviousStatus)
	assert.Equal(t, 2, payload.HistoryLength)

	created := StatusChangedPayload(record, nil)
	assert.Empty(t, created.PreviousStatus)
}
