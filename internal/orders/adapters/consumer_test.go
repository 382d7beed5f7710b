package adapters

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-fulfillment/internal/orders/application"
	"go-fulfillment/internal/orders/domain"
	"go-fulfillment/internal/orders/ports"
	"go-fulfillment/pkg/errors"
	"go-fulfillment/pkg/events"
	"go-fulfillment/pkg/logger"
)

// MockCompleter records the sessions handed to the saga
type MockCompleter struct {
	calls []string
	err   error
}

func (m *MockCompleter) CompleteCheckout(ctx context.Context, sessionID string) (*application.CompletionOutput, error) {
	m.calls = append(m.calls, sessionID)
	if m.err != nil {
		return nil, m.err
	}
	return &application.CompletionOutput{
		Outcome: ports.SessionCompleted,
		Record:  domain.Record{ID: 1, Entity: domain.EntityOrder},
	}, nil
}

func sessionEvent(t *testing.T, sessionID string) []byte {
	t.Helper()
	body, err := json.Marshal(events.NewPaymentSessionEvent(events.RoutingKeySessionCompleted, "stripe", sessionID, "trace-1"))
	require.NoError(t, err)
	return body
}

func TestPaymentSessionConsumer_HandleMessage(t *testing.T) {
	tests := []struct {
		name      string
		body      []byte
		sagaErr   error
		wantCalls int
		wantErr   bool
	}{
		{"completes session", sessionEvent(t, "cs_1"), nil, 1, false},
		{"malformed body is dropped", []byte("{"), nil, 0, false},
		{"missing session id is dropped", sessionEvent(t, "  "), nil, 0, false},
		{"permanent failure is acknowledged", sessionEvent(t, "cs_1"), errors.NewNotFound("checkout session", "cs_1"), 1, false},
		{"transient failure is redelivered", sessionEvent(t, "cs_1"), errors.NewGatewayUnavailable("stripe down", nil), 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			saga := &MockCompleter{err: tt.sagaErr}
			consumer := NewPaymentSessionHandler(nil, saga, logger.Nop())

			err := consumer.HandleMessage(context.Background(), events.RoutingKeySessionCompleted, tt.body)

			assert.Equal(t, tt.wantErr, err != nil)
			assert.Len(t, saga.calls, tt.wantCalls)
		})
	}
}
