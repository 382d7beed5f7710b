package application

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"go-fulfillment/internal/orders/domain"
	"go-fulfillment/internal/orders/ports"
	"go-fulfillment/pkg/errors"
	"go-fulfillment/pkg/logger"
	"go-fulfillment/pkg/metrics"

	"go.uber.org/zap"
)

// CancelTokenPlaceholder is replaced in the cancel URL with a per-session
// secret, so the unauthenticated cancel return can only abandon the session
// it was issued for
const CancelTokenPlaceholder = "{CANCEL_TOKEN}"

// refLockStripes is the number of per-record locks checkout starts share
const refLockStripes = 64

// SagaStage is where a record stands in payment reconciliation
type SagaStage string

const (
	StageAwaitingAdmission      SagaStage = "awaiting_admission"
	StagePaymentFailed          SagaStage = "payment_failed"
	StageAdmitted               SagaStage = "admitted"
	StageAwaitingGatewayOutcome SagaStage = "awaiting_gateway_outcome"
	StageSettled                SagaStage = "settled"
	StageAborted                SagaStage = "aborted"
)

// PaymentModes holds the runtime payment switches an admin can flip
type PaymentModes struct {
	cashOnly atomic.Bool
}

// NewPaymentModes creates the switches with their configured defaults
func NewPaymentModes(cashOnly bool) *PaymentModes {
	m := &PaymentModes{}
	m.cashOnly.Store(cashOnly)
	return m
}

// CashOnly reports whether digital payments are switched off
func (m *PaymentModes) CashOnly() bool { return m.cashOnly.Load() }

// SetCashOnly switches digital payments off (true) or on (false)
func (m *PaymentModes) SetCashOnly(v bool) { m.cashOnly.Store(v) }

// SagaConfig holds the saga's tunables
type SagaConfig struct {
	// GatewayTimeout bounds every call to the payment gateway
	GatewayTimeout time.Duration
	// Currency is the ISO code sent with hosted checkout line items
	Currency string
}

// ReconciliationSaga ties admin admission, payment method selection and the
// gateway outcome to a record. No store lock is held across gateway calls;
// the single-reference rule of the lifecycle service is the idempotency
// boundary. Checkout starts for one record are serialized in process so a
// record has at most one open session.
type ReconciliationSaga struct {
	lifecycle *LifecycleService
	gateway   ports.PaymentGateway
	ledger    ports.SessionLedger
	modes     *PaymentModes
	cfg       SagaConfig
	metrics   *metrics.LifecycleMetrics
	log       *logger.Logger

	refLocks [refLockStripes]sync.Mutex
}

// NewReconciliationSaga creates the saga. gateway may be nil when only cash
// is accepted.
func NewReconciliationSaga(
	lifecycle *LifecycleService,
	gateway ports.PaymentGateway,
	ledger ports.SessionLedger,
	modes *PaymentModes,
	cfg SagaConfig,
	log *logger.Logger,
	m *metrics.LifecycleMetrics,
) *ReconciliationSaga {
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 15 * time.Second
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	return &ReconciliationSaga{
		lifecycle: lifecycle,
		gateway:   gateway,
		ledger:    ledger,
		modes:     modes,
		cfg:       cfg,
		metrics:   m,
		log:       log,
	}
}

// Capabilities describes which payment methods a buyer can pick
type Capabilities struct {
	CashOnly          bool
	GatewayConfigured bool
	Provider          string
}

// Capabilities reports the current payment options
func (s *ReconciliationSaga) Capabilities() Capabilities {
	c := Capabilities{CashOnly: s.modes.CashOnly()}
	if s.gateway != nil {
		c.GatewayConfigured = s.gateway.Configured()
		c.Provider = s.gateway.Provider()
	}
	return c
}

// SagaState is a read model of a record's reconciliation progress
type SagaState struct {
	Ref              domain.Ref
	Stage            SagaStage
	Status           domain.Status
	PaymentReference string
	PaymentMethod    domain.PaymentMethod
	Sessions         []ports.SessionEntry
}

// State derives the saga stage from the record and its checkout sessions
func (s *ReconciliationSaga) State(ctx context.Context, caller domain.Principal, ref domain.Ref) (*SagaState, error) {
	record, err := s.load(ctx, caller, ref)
	if err != nil {
		return nil, err
	}
	sessions, err := s.ledger.ListByRef(ctx, ref)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list checkout sessions")
	}

	state := &SagaState{
		Ref:              ref,
		Status:           record.Status,
		PaymentReference: record.PaymentReference,
		PaymentMethod:    domain.ClassifyPaymentReference(record.PaymentReference),
		Sessions:         sessions,
	}
	state.Stage = stageOf(record, sessions)
	return state, nil
}

func stageOf(record domain.Record, sessions []ports.SessionEntry) SagaStage {
	if record.IsSettled() {
		return StageSettled
	}
	switch record.Status.Kind() {
	case domain.KindPendingPayment:
		return StageAwaitingAdmission
	case domain.KindPaymentFailed:
		return StagePaymentFailed
	case domain.KindRejected, domain.KindCancelled:
		return StageAborted
	}
	for _, session := range sessions {
		if session.Outcome == ports.SessionOpen {
			return StageAwaitingGatewayOutcome
		}
	}
	return StageAdmitted
}

// SettleCash records cash on delivery as the payment of an admitted record.
// The status stays confirmed; only the reference is fixed.
func (s *ReconciliationSaga) SettleCash(ctx context.Context, caller domain.Principal, ref domain.Ref) (domain.Record, error) {
	record, err := s.load(ctx, caller, ref)
	if err != nil {
		return domain.Record{}, err
	}
	if err := payable(record); err != nil {
		s.step(ctx, ref, "settle_cash", err)
		return domain.Record{}, err
	}

	settled, err := s.lifecycle.setPaymentReference(ctx, ref, domain.CashOnDeliveryReference, domain.Confirmed())
	s.step(ctx, ref, "settle_cash", err)
	if err != nil {
		return domain.Record{}, err
	}
	return settled, nil
}

// CheckoutOutput is where the buyer is sent to pay
type CheckoutOutput struct {
	SessionID   string
	RedirectURL string
	// Resumed is true when an already open session was handed back
	Resumed bool
}

// StartCheckout opens a hosted checkout for an admitted record. While a
// session of the record is still open at the provider that session is
// returned instead of a new one, so a repeated request cannot charge twice.
// Gateway failures are returned as-is and leave the record untouched, so
// the buyer can retry or fall back to cash.
func (s *ReconciliationSaga) StartCheckout(ctx context.Context, caller domain.Principal, ref domain.Ref, successURL, cancelURL string) (*CheckoutOutput, error) {
	unlock := s.lockRef(ref)
	defer unlock()

	record, err := s.load(ctx, caller, ref)
	if err != nil {
		return nil, err
	}
	if err := payable(record); err != nil {
		s.step(ctx, ref, "start_checkout", err)
		return nil, err
	}
	if strings.TrimSpace(successURL) == "" || strings.TrimSpace(cancelURL) == "" {
		return nil, errors.NewValidation("success and cancel URLs are required", nil)
	}

	if s.modes.CashOnly() {
		err := errors.NewGatewayRejected("digital payments are not accepted; choose cash on delivery", nil)
		s.step(ctx, ref, "start_checkout", err)
		return nil, err
	}
	if s.gateway == nil || !s.gateway.Configured() {
		err := errors.NewGatewayRejected("payment gateway is not configured; choose cash on delivery", nil)
		s.step(ctx, ref, "start_checkout", err)
		return nil, err
	}

	resumed, err := s.resumeOpenSession(ctx, ref)
	if err != nil {
		s.step(ctx, ref, "start_checkout", err)
		return nil, err
	}
	if resumed != nil {
		s.log.WithContext(ctx).Info("checkout session resumed",
			zap.String("entity", string(ref.Entity)),
			zap.Uint64("id", ref.ID),
			zap.String("session_id", resumed.SessionID),
		)
		return resumed, nil
	}

	items, err := s.lineItems(ctx, record)
	if err != nil {
		return nil, err
	}

	cancelToken := uuid.NewString()
	cancelURL = strings.ReplaceAll(cancelURL, CancelTokenPlaceholder, cancelToken)

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	session, err := s.gateway.CreateSession(callCtx, items, successURL, cancelURL)
	cancel()
	if err != nil {
		err = gatewayError(err, "failed to create checkout session")
		s.step(ctx, ref, "start_checkout", err)
		return nil, err
	}

	now := s.lifecycle.now()
	entry := ports.SessionEntry{
		SessionID:   session.SessionID,
		Provider:    s.gateway.Provider(),
		Ref:         ref,
		Outcome:     ports.SessionOpen,
		RedirectURL: session.RedirectURL,
		CancelToken: cancelToken,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.ledger.Put(ctx, entry); err != nil {
		// The provider session is orphaned; it expires on its own and the
		// buyer can open a new one.
		s.step(ctx, ref, "start_checkout", err)
		return nil, errors.Wrap(err, "failed to record checkout session")
	}

	s.step(ctx, ref, "start_checkout", nil)
	s.log.WithContext(ctx).Info("checkout session opened",
		zap.String("entity", string(ref.Entity)),
		zap.Uint64("id", ref.ID),
		zap.String("session_id", session.SessionID),
		zap.String("provider", entry.Provider),
	)
	return &CheckoutOutput{SessionID: session.SessionID, RedirectURL: session.RedirectURL}, nil
}

// resumeOpenSession hands back a session of ref the provider still reports
// open. Sessions the provider has closed in the meantime are reconciled
// first; one that was paid settles the record and the start is refused.
func (s *ReconciliationSaga) resumeOpenSession(ctx context.Context, ref domain.Ref) (*CheckoutOutput, error) {
	sessions, err := s.ledger.ListByRef(ctx, ref)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list checkout sessions")
	}

	for _, session := range sessions {
		if session.Outcome != ports.SessionOpen {
			continue
		}
		out, err := s.CompleteCheckout(ctx, session.SessionID)
		if err != nil {
			return nil, err
		}
		switch out.Outcome {
		case ports.SessionOpen:
			return &CheckoutOutput{
				SessionID:   session.SessionID,
				RedirectURL: session.RedirectURL,
				Resumed:     true,
			}, nil
		case ports.SessionCompleted:
			return nil, domain.ErrReferenceAlreadySet(ref, out.Record.PaymentReference)
		}
	}
	return nil, nil
}

func (s *ReconciliationSaga) lockRef(ref domain.Ref) func() {
	i := ref.ID % refLockStripes
	if ref.Entity == domain.EntityBooking {
		i = (i + refLockStripes/2) % refLockStripes
	}
	mu := &s.refLocks[i]
	mu.Lock()
	return mu.Unlock
}

// lineItems describes the record as a single checkout line so the charged
// amount is exactly the amount fixed at creation
func (s *ReconciliationSaga) lineItems(ctx context.Context, record domain.Record) ([]ports.LineItem, error) {
	item := ports.LineItem{
		UnitAmount: record.Amount,
		Currency:   s.cfg.Currency,
		Quantity:   1,
	}

	switch record.Entity {
	case domain.EntityOrder:
		order, err := s.lifecycle.orders.GetByID(ctx, record.ID)
		if err != nil {
			return nil, err
		}
		item.Name = fmt.Sprintf("Order #%d", order.ID)
		parts := make([]string, 0, len(order.Items))
		for _, line := range order.Items {
			parts = append(parts, fmt.Sprintf("%d x item %d", line.Quantity, line.ItemID))
		}
		item.Description = strings.Join(parts, ", ")
	case domain.EntityBooking:
		booking, err := s.lifecycle.bookings.GetByID(ctx, record.ID)
		if err != nil {
			return nil, err
		}
		item.Name = fmt.Sprintf("Chef booking #%d", booking.ID)
		item.Description = fmt.Sprintf("%s on %s", booking.Location, booking.EventDate.Format("2006-01-02 15:04"))
	}
	return []ports.LineItem{item}, nil
}

// CompletionOutput reports what a checkout callback did
type CompletionOutput struct {
	Outcome ports.SessionOutcome
	Detail  string
	Record  domain.Record
	// Replayed is true when the same session had already settled the record
	Replayed bool
}

// CompleteCheckout handles the gateway's success callback or webhook for a
// session. A completed session settles the record with the provider-tagged
// reference; a failed one leaves the record as it is so the buyer can try
// again. Delivering the same callback twice is harmless.
func (s *ReconciliationSaga) CompleteCheckout(ctx context.Context, sessionID string) (*CompletionOutput, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.NewValidation("session_id is required", nil)
	}

	entry, err := s.ledger.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.gateway == nil {
		return nil, errors.NewGatewayRejected("payment gateway is not configured", nil)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	status, err := s.gateway.QuerySession(callCtx, sessionID)
	cancel()
	if err != nil {
		err = gatewayError(err, "failed to query checkout session")
		s.step(ctx, entry.Ref, "complete_checkout", err)
		return nil, err
	}

	out := &CompletionOutput{Outcome: status.Outcome, Detail: status.Detail}

	switch status.Outcome {
	case ports.SessionCompleted:
		reference := domain.GatewayReference(entry.Provider, sessionID)
		record, err := s.lifecycle.settleGatewayPayment(ctx, entry.Ref, reference)
		if err != nil {
			if !errors.Is(err, errors.CodePaymentReferenceAlreadySet) {
				s.captureOrphaned(ctx, entry, err)
				return nil, err
			}
			current, readErr := s.lifecycle.Record(ctx, entry.Ref)
			if readErr != nil {
				return nil, readErr
			}
			if current.PaymentReference != reference {
				s.captureOrphaned(ctx, entry, err)
				return nil, err
			}
			record = current
			out.Replayed = true
		}
		out.Record = record
	case ports.SessionFailed:
		record, err := s.lifecycle.Record(ctx, entry.Ref)
		if err != nil {
			return nil, err
		}
		out.Record = record
		s.log.WithContext(ctx).Warn("checkout session failed",
			zap.String("session_id", sessionID),
			zap.String("entity", string(entry.Ref.Entity)),
			zap.Uint64("id", entry.Ref.ID),
			zap.String("detail", status.Detail),
		)
	default:
		record, err := s.lifecycle.Record(ctx, entry.Ref)
		if err != nil {
			return nil, err
		}
		out.Record = record
		return out, nil
	}

	s.closeSession(ctx, *entry, status)
	s.step(ctx, entry.Ref, "complete_checkout", nil)
	return out, nil
}

// AbandonCheckout handles the buyer returning through the cancel URL. The
// session is checked once more in case payment went through anyway.
func (s *ReconciliationSaga) AbandonCheckout(ctx context.Context, sessionID string) (*CompletionOutput, error) {
	out, err := s.CompleteCheckout(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if out.Outcome == ports.SessionOpen {
		entry, err := s.ledger.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		s.closeSession(ctx, *entry, &ports.SessionStatus{Outcome: ports.SessionFailed, Detail: "abandoned by buyer"})
		out.Outcome = ports.SessionFailed
		out.Detail = "abandoned by buyer"
	}
	return out, nil
}

// AbandonByCancelToken backs cancel returns that arrive without a session
// id. Only the session whose cancel token matches is abandoned.
func (s *ReconciliationSaga) AbandonByCancelToken(ctx context.Context, ref domain.Ref, token string) (*CompletionOutput, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.NewValidation("cancel token is required", nil)
	}
	sessions, err := s.ledger.ListByRef(ctx, ref)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list checkout sessions")
	}
	for _, session := range sessions {
		if session.CancelToken == "" {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(session.CancelToken), []byte(token)) == 1 {
			return s.AbandonCheckout(ctx, session.SessionID)
		}
	}
	return nil, errors.NewNotFound("checkout session", "")
}

// AbandonOpenCheckouts abandons every still-open session of a record on
// behalf of a caller who may see it
func (s *ReconciliationSaga) AbandonOpenCheckouts(ctx context.Context, caller domain.Principal, ref domain.Ref) ([]*CompletionOutput, error) {
	if _, err := s.load(ctx, caller, ref); err != nil {
		return nil, err
	}
	sessions, err := s.ledger.ListByRef(ctx, ref)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list checkout sessions")
	}

	var outs []*CompletionOutput
	for _, session := range sessions {
		if session.Outcome != ports.SessionOpen {
			continue
		}
		out, err := s.AbandonCheckout(ctx, session.SessionID)
		if err != nil {
			return outs, err
		}
		outs = append(outs, out)
	}
	return outs, nil
}

func (s *ReconciliationSaga) closeSession(ctx context.Context, entry ports.SessionEntry, status *ports.SessionStatus) {
	if entry.Outcome == status.Outcome {
		return
	}
	entry.Outcome = status.Outcome
	entry.Detail = status.Detail
	entry.UpdatedAt = s.lifecycle.now()
	if err := s.ledger.Put(ctx, entry); err != nil {
		s.log.WithContext(ctx).Error("failed to update checkout session",
			zap.String("session_id", entry.SessionID),
			zap.Error(err),
		)
	}
}

// captureOrphaned logs a captured payment the record could not accept, for
// example because it was cancelled or already paid in cash. Refunds are
// handled by an operator.
func (s *ReconciliationSaga) captureOrphaned(ctx context.Context, entry *ports.SessionEntry, cause error) {
	s.step(ctx, entry.Ref, "complete_checkout", cause)
	s.log.WithContext(ctx).Error("payment captured but not attached; refund required",
		zap.String("session_id", entry.SessionID),
		zap.String("provider", entry.Provider),
		zap.String("entity", string(entry.Ref.Entity)),
		zap.Uint64("id", entry.Ref.ID),
		zap.Error(cause),
	)
}

func (s *ReconciliationSaga) load(ctx context.Context, caller domain.Principal, ref domain.Ref) (domain.Record, error) {
	record, err := s.lifecycle.Record(ctx, ref)
	if err != nil {
		return domain.Record{}, err
	}
	if !caller.CanView(&record) {
		return domain.Record{}, domain.NewRecordNotFound(ref)
	}
	return record, nil
}

// payable checks that payment selection is open for the record
func payable(record domain.Record) error {
	if record.PaymentReference != "" {
		return domain.ErrReferenceAlreadySet(record.Ref(), record.PaymentReference)
	}
	if record.Status.IsTerminal() {
		return domain.ErrTerminalStatus(record.Ref(), record.Status)
	}
	if record.Status.Kind() != domain.KindConfirmed {
		return domain.ErrNotAdmitted(record.Ref(), record.Status)
	}
	return nil
}

// gatewayError makes sure adapter errors carry a gateway code. Anything
// uncoded is treated as transient.
func gatewayError(err error, message string) error {
	switch errors.CodeOf(err) {
	case errors.CodeGatewayUnavailable, errors.CodeGatewayRejected:
		return err
	default:
		return errors.NewGatewayUnavailable(message, err)
	}
}

func (s *ReconciliationSaga) step(ctx context.Context, ref domain.Ref, step string, err error) {
	result := "ok"
	if err != nil {
		result = strings.ToLower(errors.CodeOf(err))
		s.log.WithContext(ctx).Warn("saga step failed",
			zap.String("step", step),
			zap.String("entity", string(ref.Entity)),
			zap.Uint64("id", ref.ID),
			zap.Error(err),
		)
	}
	s.metrics.ObserveSagaStep(step, result)
}
