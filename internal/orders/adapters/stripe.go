package adapters

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.uber.org/zap"

	"go-fulfillment/internal/orders/ports"
	apperrors "go-fulfillment/pkg/errors"
	"go-fulfillment/pkg/logger"
)

// StripeProvider is the reference prefix of Stripe payments
const StripeProvider = "stripe"

// StripeConfig holds the Stripe credentials and checkout options
type StripeConfig struct {
	SecretKey        string
	AllowedCountries []string
	// BaseURL overrides the API endpoint, used by tests
	BaseURL string
	// HTTPTimeout bounds a single HTTP round trip
	HTTPTimeout time.Duration
}

// StripeGateway implements ports.PaymentGateway with Stripe Checkout
type StripeGateway struct {
	api       *client.API
	countries []string
	key       string
	log       *logger.Logger
}

// NewStripeGateway creates a Stripe gateway. With an empty key the gateway
// reports itself as not configured.
func NewStripeGateway(cfg StripeConfig, log *logger.Logger) *StripeGateway {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	backendCfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		LeveledLogger:     log.Logger.Sugar(),
		MaxNetworkRetries: stripe.Int64(0),
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripe.String(cfg.BaseURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)

	api := &client.API{}
	api.Init(cfg.SecretKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})

	countries := make([]string, 0, len(cfg.AllowedCountries))
	for _, c := range cfg.AllowedCountries {
		if c = strings.ToUpper(strings.TrimSpace(c)); c != "" {
			countries = append(countries, c)
		}
	}

	return &StripeGateway{
		api:       api,
		countries: countries,
		key:       cfg.SecretKey,
		log:       log,
	}
}

// Provider implements ports.PaymentGateway
func (g *StripeGateway) Provider() string { return StripeProvider }

// Configured implements ports.PaymentGateway
func (g *StripeGateway) Configured() bool { return strings.TrimSpace(g.key) != "" }

// CreateSession opens a hosted checkout in payment mode
func (g *StripeGateway) CreateSession(ctx context.Context, items []ports.LineItem, successURL, cancelURL string) (*ports.CheckoutSession, error) {
	if !g.Configured() {
		return nil, apperrors.NewGatewayRejected("stripe is not configured", nil)
	}
	if len(items) == 0 {
		return nil, apperrors.NewValidation("checkout needs at least one line item", nil)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
	}
	params.Context = ctx
	for _, item := range items {
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(item.Name),
		}
		if item.Description != "" {
			product.Description = stripe.String(item.Description)
		}
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(strings.ToLower(item.Currency)),
				ProductData: product,
				UnitAmount:  stripe.Int64(item.UnitAmount),
			},
			Quantity: stripe.Int64(item.Quantity),
		})
	}
	if len(g.countries) > 0 {
		params.ShippingAddressCollection = &stripe.CheckoutSessionShippingAddressCollectionParams{
			AllowedCountries: stripe.StringSlice(g.countries),
		}
	}

	session, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, g.mapError(ctx, "create checkout session", err)
	}

	g.log.WithContext(ctx).Debug("stripe checkout session created",
		zap.String("session_id", session.ID),
		zap.Int("line_items", len(items)),
	)
	return &ports.CheckoutSession{SessionID: session.ID, RedirectURL: session.URL}, nil
}

// QuerySession reads the session and normalizes its state
func (g *StripeGateway) QuerySession(ctx context.Context, sessionID string) (*ports.SessionStatus, error) {
	if !g.Configured() {
		return nil, apperrors.NewGatewayRejected("stripe is not configured", nil)
	}

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	session, err := g.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, g.mapError(ctx, "query checkout session", err)
	}
	return normalizeStripeSession(session), nil
}

func normalizeStripeSession(s *stripe.CheckoutSession) *ports.SessionStatus {
	switch s.Status {
	case stripe.CheckoutSessionStatusComplete:
		switch s.PaymentStatus {
		case stripe.CheckoutSessionPaymentStatusPaid, stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
			return &ports.SessionStatus{Outcome: ports.SessionCompleted, Detail: string(s.PaymentStatus)}
		default:
			// delayed payment methods complete the session before the money arrives
			return &ports.SessionStatus{Outcome: ports.SessionOpen, Detail: "payment processing"}
		}
	case stripe.CheckoutSessionStatusExpired:
		return &ports.SessionStatus{Outcome: ports.SessionFailed, Detail: "session expired"}
	default:
		return &ports.SessionStatus{Outcome: ports.SessionOpen, Detail: string(s.Status)}
	}
}

// mapError sorts Stripe failures into transient and permanent ones
func (g *StripeGateway) mapError(ctx context.Context, op string, err error) error {
	g.log.WithContext(ctx).Warn("stripe call failed", zap.String("op", op), zap.Error(err))

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperrors.NewGatewayUnavailable("payment gateway timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperrors.NewGatewayUnavailable("payment gateway is unreachable", err)
	}

	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return apperrors.NewGatewayUnavailable("payment gateway call failed", err)
	}

	switch {
	case stripeErr.HTTPStatusCode == http.StatusTooManyRequests:
		return apperrors.NewGatewayUnavailable("payment gateway is rate limiting requests", err)
	case stripeErr.HTTPStatusCode >= 500, stripeErr.Type == stripe.ErrorTypeAPI:
		return apperrors.NewGatewayUnavailable("payment gateway is unavailable", err)
	case stripeErr.HTTPStatusCode == http.StatusUnauthorized:
		return apperrors.NewGatewayRejected("payment gateway rejected the credentials", err)
	default:
		msg := stripeErr.Msg
		if msg == "" {
			msg = "payment gateway refused the request"
		}
		return apperrors.NewGatewayRejected(msg, err)
	}
}
