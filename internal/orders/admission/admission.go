// Package admission implements the bounded wait a buyer goes through after
// checkout: poll the record until an admin accepts or refuses it, or give
// up after a fixed deadline without touching the record.
package admission

import (
	"context"
	"time"

	"go-fulfillment/internal/orders/domain"
	"go-fulfillment/pkg/errors"
	"go-fulfillment/pkg/logger"
	"go-fulfillment/pkg/metrics"

	"go.uber.org/zap"
)

// Defaults used when the configuration leaves a field empty
const (
	DefaultInterval = 3 * time.Second
	DefaultDeadline = 5 * time.Minute
)

// StatusSource reads the current status of a record
type StatusSource interface {
	Status(ctx context.Context, ref domain.Ref) (domain.Status, error)
}

// Config bounds the wait
type Config struct {
	Interval time.Duration
	Deadline time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Deadline <= 0 {
		c.Deadline = DefaultDeadline
	}
	if c.Deadline < c.Interval {
		c.Interval = c.Deadline
	}
	return c
}

// Outcome is how a wait ended
type Outcome string

const (
	// OutcomeAdmitted means an admin accepted; payment selection may start
	OutcomeAdmitted Outcome = "admitted"
	// OutcomeTerminated means the record was rejected or cancelled
	OutcomeTerminated Outcome = "terminated"
	// OutcomeTimedOut means nobody acted before the deadline. The record is
	// still pending and may be accepted later.
	OutcomeTimedOut Outcome = "timed_out"
)

// Result is the single outcome of a wait
type Result struct {
	Outcome Outcome
	Status  domain.Status
	Polls   int
	Elapsed time.Duration
}

// Message is the buyer facing explanation of the outcome
func (r Result) Message() string {
	switch r.Outcome {
	case OutcomeAdmitted:
		return "Your request has been accepted. Please choose a payment method."
	case OutcomeTerminated:
		return r.Status.Label()
	case OutcomeTimedOut:
		return "Still waiting for the kitchen to respond. Check your orders page for updates."
	default:
		return ""
	}
}

// classify maps a status to an outcome; ok is false while still waiting
func classify(status domain.Status) (Outcome, bool) {
	switch status.Kind() {
	case domain.KindConfirmed, domain.KindInProgress, domain.KindOutForDelivery, domain.KindCompleted:
		return OutcomeAdmitted, true
	case domain.KindRejected, domain.KindCancelled:
		return OutcomeTerminated, true
	default:
		return "", false
	}
}

// Waiter runs the admission protocol against a StatusSource
type Waiter struct {
	source  StatusSource
	cfg     Config
	clock   Clock
	log     *logger.Logger
	metrics *metrics.LifecycleMetrics
}

// Option customizes a Waiter
type Option func(*Waiter)

// WithClock replaces the wall clock, mainly for tests
func WithClock(c Clock) Option {
	return func(w *Waiter) { w.clock = c }
}

// WithMetrics counts outcomes
func WithMetrics(m *metrics.LifecycleMetrics) Option {
	return func(w *Waiter) { w.metrics = m }
}

// NewWaiter creates a Waiter
func NewWaiter(source StatusSource, cfg Config, log *logger.Logger, opts ...Option) *Waiter {
	w := &Waiter{
		source: source,
		cfg:    cfg.withDefaults(),
		clock:  realClock{},
		log:    log,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Config returns the effective interval and deadline
func (w *Waiter) Config() Config { return w.cfg }

// Wait polls until the record is admitted, terminated or the deadline
// passes. It returns exactly one Result and polls nothing afterwards. A
// cancelled ctx stops the loop and returns ctx.Err(). An unknown record
// or a caller without access returns that error at once; other read
// failures are logged and the next tick polls again.
func (w *Waiter) Wait(ctx context.Context, ref domain.Ref) (Result, error) {
	start := w.clock.Now()
	polls := 0
	last := domain.PendingPayment()

	poll := func() (Result, bool, error) {
		polls++
		status, err := w.source.Status(ctx, ref)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, false, ctx.Err()
			}
			if permanent(err) {
				return Result{}, false, err
			}
			w.log.WithContext(ctx).Warn("admission poll failed",
				zap.String("entity", string(ref.Entity)),
				zap.Uint64("id", ref.ID),
				zap.Int("poll", polls),
				zap.Error(err),
			)
			return Result{}, false, nil
		}
		last = status
		outcome, done := classify(status)
		if !done {
			return Result{}, false, nil
		}
		return Result{
			Outcome: outcome,
			Status:  status,
			Polls:   polls,
			Elapsed: w.clock.Now().Sub(start),
		}, true, nil
	}

	for {
		res, done, err := poll()
		if err != nil {
			return Result{}, err
		}
		if done {
			return w.finish(ctx, ref, res), nil
		}

		remaining := w.cfg.Deadline - w.clock.Now().Sub(start)
		if remaining <= 0 {
			return w.timeout(ctx, ref, start, polls, last), nil
		}
		wait := w.cfg.Interval
		if remaining < wait {
			wait = remaining
		}

		timer := w.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Result{}, ctx.Err()
		case <-timer.C():
		}

		if w.clock.Now().Sub(start) >= w.cfg.Deadline {
			return w.timeout(ctx, ref, start, polls, last), nil
		}
	}
}

// permanent reports read failures another poll cannot fix
func permanent(err error) bool {
	switch errors.CodeOf(err) {
	case errors.CodeNotFound, errors.CodeUnauthorized, errors.CodeForbidden:
		return true
	default:
		return false
	}
}

func (w *Waiter) timeout(ctx context.Context, ref domain.Ref, start time.Time, polls int, last domain.Status) Result {
	return w.finish(ctx, ref, Result{
		Outcome: OutcomeTimedOut,
		Status:  last,
		Polls:   polls,
		Elapsed: w.clock.Now().Sub(start),
	})
}

func (w *Waiter) finish(ctx context.Context, ref domain.Ref, res Result) Result {
	w.metrics.ObserveAdmission(string(res.Outcome))
	w.log.WithContext(ctx).Info("admission wait finished",
		zap.String("entity", string(ref.Entity)),
		zap.Uint64("id", ref.ID),
		zap.String("outcome", string(res.Outcome)),
		zap.Stringer("status", res.Status),
		zap.Int("polls", res.Polls),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res
}
