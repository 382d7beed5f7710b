package adapters

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-fulfillment/internal/orders/ports"
	"go-fulfillment/pkg/errors"
)

var sandboxItems = []ports.LineItem{{Name: "Order #1", UnitAmount: 4800, Currency: "usd", Quantity: 1}}

func TestSandboxGateway_ResolveLater(t *testing.T) {
	gw := NewSandboxGateway(false)
	ctx := context.Background()

	session, err := gw.CreateSession(ctx, sandboxItems, "https://shop/success?session_id={CHECKOUT_SESSION_ID}", "https://shop/cancel")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(session.SessionID, "sbx_"))
	assert.Equal(t, "https://shop/success?session_id="+session.SessionID, session.RedirectURL)

	status, err := gw.QuerySession(ctx, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, ports.SessionOpen, status.Outcome)

	require.NoError(t, gw.Resolve(session.SessionID, false))
	status, _ = gw.QuerySession(ctx, session.SessionID)
	assert.Equal(t, ports.SessionFailed, status.Outcome)

	assert.True(t, errors.Is(gw.Resolve("sbx_missing", true), errors.CodeNotFound))
}

func TestSandboxGateway_AutoComplete(t *testing.T) {
	gw := NewSandboxGateway(true)

	session, err := gw.CreateSession(context.Background(), sandboxItems, "https://shop/success", "https://shop/cancel")
	require.NoError(t, err)
	status, err := gw.QuerySession(context.Background(), session.SessionID)

	require.NoError(t, err)
	assert.Equal(t, ports.SessionCompleted, status.Outcome)
	assert.Equal(t, SandboxProvider, gw.Provider())
}

func TestSandboxGateway_Errors(t *testing.T) {
	gw := NewSandboxGateway(false)

	_, err := gw.QuerySession(context.Background(), "sbx_unknown")
	assert.True(t, errors.Is(err, errors.CodeGatewayRejected))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = gw.CreateSession(ctx, sandboxItems, "s", "c")
	assert.True(t, errors.Is(err, errors.CodeGatewayUnavailable))
}
