package adapters

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"go-fulfillment/internal/orders/ports"
	apperrors "go-fulfillment/pkg/errors"
)

// SandboxProvider is the reference prefix of sandbox payments
const SandboxProvider = "sandbox"

// sessionIDPlaceholder is substituted in redirect URLs, the same template
// hosted checkouts use
const sessionIDPlaceholder = "{CHECKOUT_SESSION_ID}"

// SandboxGateway is an in-process payment gateway for local runs and tests.
// The buyer is always sent to the success URL; sessions stay open there
// until Resolve is called, unless autoComplete marks them paid up front.
type SandboxGateway struct {
	mu           sync.Mutex
	sessions     map[string]*ports.SessionStatus
	autoComplete bool
}

// NewSandboxGateway creates a sandbox gateway
func NewSandboxGateway(autoComplete bool) *SandboxGateway {
	return &SandboxGateway{
		sessions:     make(map[string]*ports.SessionStatus),
		autoComplete: autoComplete,
	}
}

// Provider implements ports.PaymentGateway
func (g *SandboxGateway) Provider() string { return SandboxProvider }

// Configured implements ports.PaymentGateway
func (g *SandboxGateway) Configured() bool { return true }

// CreateSession implements ports.PaymentGateway
func (g *SandboxGateway) CreateSession(ctx context.Context, items []ports.LineItem, successURL, cancelURL string) (*ports.CheckoutSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewGatewayUnavailable("sandbox call cancelled", err)
	}
	if len(items) == 0 {
		return nil, apperrors.NewValidation("checkout needs at least one line item", nil)
	}

	id := "sbx_" + uuid.NewString()
	status := &ports.SessionStatus{Outcome: ports.SessionOpen, Detail: "awaiting payment"}
	if g.autoComplete {
		status = &ports.SessionStatus{Outcome: ports.SessionCompleted, Detail: "paid"}
	}

	g.mu.Lock()
	g.sessions[id] = status
	g.mu.Unlock()

	return &ports.CheckoutSession{
		SessionID:   id,
		RedirectURL: strings.ReplaceAll(successURL, sessionIDPlaceholder, id),
	}, nil
}

// QuerySession implements ports.PaymentGateway
func (g *SandboxGateway) QuerySession(ctx context.Context, sessionID string) (*ports.SessionStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewGatewayUnavailable("sandbox call cancelled", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	status, ok := g.sessions[sessionID]
	if !ok {
		return nil, apperrors.NewGatewayRejected("unknown sandbox session "+sessionID, nil)
	}
	out := *status
	return &out, nil
}

// Resolve settles an open session as completed (paid=true) or failed
func (g *SandboxGateway) Resolve(sessionID string, paid bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	status, ok := g.sessions[sessionID]
	if !ok {
		return apperrors.NewNotFound("sandbox session", sessionID)
	}
	if paid {
		*status = ports.SessionStatus{Outcome: ports.SessionCompleted, Detail: "paid"}
	} else {
		*status = ports.SessionStatus{Outcome: ports.SessionFailed, Detail: "declined"}
	}
	return nil
}
