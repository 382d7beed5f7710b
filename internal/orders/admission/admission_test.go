package admission

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"go-fulfillment/internal/orders/domain"
	"go-fulfillment/pkg/errors"
	"go-fulfillment/pkg/logger"
)

// fakeClock advances virtual time whenever a timer is created, so every
// timer is already expired when the waiter selects on it
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTimer(d time.Duration) Timer {
	c.mu.Lock()
	c.now = c.now.Add(d)
	fired := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- fired
	return fakeTimer{ch: ch}
}

type fakeTimer struct{ ch chan time.Time }

func (t fakeTimer) C() <-chan time.Time { return t.ch }
func (t fakeTimer) Stop() bool          { return false }

// scriptedSource answers from a function of elapsed virtual time
type scriptedSource struct {
	mu     sync.Mutex
	clock  Clock
	start  time.Time
	polls  []time.Duration
	answer func(elapsed time.Duration, poll int) (domain.Status, error)
}

func (s *scriptedSource) Status(ctx context.Context, ref domain.Ref) (domain.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	elapsed := s.clock.Now().Sub(s.start)
	s.polls = append(s.polls, elapsed)
	return s.answer(elapsed, len(s.polls))
}

func (s *scriptedSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.polls)
}

func newScripted(clock Clock, answer func(time.Duration, int) (domain.Status, error)) *scriptedSource {
	return &scriptedSource{clock: clock, start: clock.Now(), answer: answer}
}

func testConfig() Config {
	return Config{Interval: 3 * time.Second, Deadline: 300 * time.Second}
}

func TestWait_AdmittedAfterStatusChange(t *testing.T) {
	clock := newFakeClock()
	source := newScripted(clock, func(elapsed time.Duration, _ int) (domain.Status, error) {
		if elapsed >= 10*time.Second {
			return domain.Confirmed(), nil
		}
		return domain.PendingPayment(), nil
	})
	waiter := NewWaiter(source, testConfig(), logger.Nop(), WithClock(clock))

	res, err := waiter.Wait(context.Background(), domain.OrderRef(1))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if res.Outcome != OutcomeAdmitted {
		t.Fatalf("expected admitted, got %s", res.Outcome)
	}
	if res.Elapsed != 12*time.Second {
		t.Errorf("expected admission observed at 12s, got %s", res.Elapsed)
	}
	if res.Polls != 5 {
		t.Errorf("expected 5 polls, got %d", res.Polls)
	}
	if source.count() != 5 {
		t.Errorf("expected polling to stop after the outcome, source saw %d polls", source.count())
	}
	if res.Message() == "" {
		t.Error("expected a buyer facing message")
	}
}

func TestWait_TimesOutAtDeadline(t *testing.T) {
	clock := newFakeClock()
	source := newScripted(clock, func(time.Duration, int) (domain.Status, error) {
		return domain.PendingPayment(), nil
	})
	waiter := NewWaiter(source, testConfig(), logger.Nop(), WithClock(clock))

	res, err := waiter.Wait(context.Background(), domain.OrderRef(1))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if res.Outcome != OutcomeTimedOut {
		t.Fatalf("expected timed_out, got %s", res.Outcome)
	}
	if res.Elapsed < 300*time.Second {
		t.Errorf("expected timeout at or after 300s, got %s", res.Elapsed)
	}
	if res.Status.Kind() != domain.KindPendingPayment {
		t.Errorf("expected last seen status pendingPayment, got %s", res.Status)
	}
	// polls at 0, 3, ..., 297
	if source.count() != 100 {
		t.Errorf("expected 100 polls, got %d", source.count())
	}
	for _, at := range source.polls {
		if at >= 300*time.Second {
			t.Errorf("unexpected poll at %s after the deadline", at)
		}
	}
}

func TestWait_DeadlineNotMultipleOfInterval(t *testing.T) {
	clock := newFakeClock()
	source := newScripted(clock, func(time.Duration, int) (domain.Status, error) {
		return domain.PendingPayment(), nil
	})
	waiter := NewWaiter(source, Config{Interval: 4 * time.Second, Deadline: 10 * time.Second}, logger.Nop(), WithClock(clock))

	res, err := waiter.Wait(context.Background(), domain.BookingRef(2))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Outcome != OutcomeTimedOut {
		t.Fatalf("expected timed_out, got %s", res.Outcome)
	}
	if res.Elapsed != 10*time.Second {
		t.Errorf("expected timeout exactly at 10s, got %s", res.Elapsed)
	}
	if source.count() != 3 {
		t.Errorf("expected polls at 0s, 4s and 8s, got %d", source.count())
	}
}

func TestWait_Terminated(t *testing.T) {
	tests := []struct {
		name   string
		status domain.Status
	}{
		{"rejected", domain.Rejected("kitchen closed")},
		{"cancelled", domain.Cancelled("changed my mind")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			source := newScripted(clock, func(elapsed time.Duration, _ int) (domain.Status, error) {
				if elapsed >= 6*time.Second {
					return tt.status, nil
				}
				return domain.PendingPayment(), nil
			})
			waiter := NewWaiter(source, testConfig(), logger.Nop(), WithClock(clock))

			res, err := waiter.Wait(context.Background(), domain.OrderRef(1))
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if res.Outcome != OutcomeTerminated {
				t.Fatalf("expected terminated, got %s", res.Outcome)
			}
			if res.Status.Reason() != tt.status.Reason() {
				t.Errorf("expected reason %q, got %q", tt.status.Reason(), res.Status.Reason())
			}
			if res.Message() != tt.status.Label() {
				t.Errorf("expected message %q, got %q", tt.status.Label(), res.Message())
			}
		})
	}
}

func TestWait_AlreadyAdmitted(t *testing.T) {
	clock := newFakeClock()
	source := newScripted(clock, func(time.Duration, int) (domain.Status, error) {
		return domain.OutForDelivery(), nil
	})
	waiter := NewWaiter(source, testConfig(), logger.Nop(), WithClock(clock))

	res, err := waiter.Wait(context.Background(), domain.OrderRef(1))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Outcome != OutcomeAdmitted || res.Polls != 1 || res.Elapsed != 0 {
		t.Errorf("expected immediate admission, got %+v", res)
	}
}

func TestWait_PaymentFailedKeepsWaiting(t *testing.T) {
	clock := newFakeClock()
	source := newScripted(clock, func(elapsed time.Duration, _ int) (domain.Status, error) {
		if elapsed >= 9*time.Second {
			return domain.Confirmed(), nil
		}
		return domain.PaymentFailed(), nil
	})
	waiter := NewWaiter(source, testConfig(), logger.Nop(), WithClock(clock))

	res, err := waiter.Wait(context.Background(), domain.OrderRef(1))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Outcome != OutcomeAdmitted || res.Polls != 4 {
		t.Errorf("expected admission on the 4th poll, got %+v", res)
	}
}

func TestWait_TransientErrorsAreRetried(t *testing.T) {
	clock := newFakeClock()
	source := newScripted(clock, func(_ time.Duration, poll int) (domain.Status, error) {
		if poll <= 2 {
			return domain.Status{}, stderrors.New("connection reset")
		}
		return domain.Confirmed(), nil
	})
	waiter := NewWaiter(source, testConfig(), logger.Nop(), WithClock(clock))

	res, err := waiter.Wait(context.Background(), domain.OrderRef(1))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Outcome != OutcomeAdmitted || res.Polls != 3 {
		t.Errorf("expected admission on the 3rd poll, got %+v", res)
	}
}

func TestWait_NotFound(t *testing.T) {
	clock := newFakeClock()
	source := newScripted(clock, func(time.Duration, int) (domain.Status, error) {
		return domain.Status{}, domain.NewRecordNotFound(domain.OrderRef(99))
	})
	waiter := NewWaiter(source, testConfig(), logger.Nop(), WithClock(clock))

	_, err := waiter.Wait(context.Background(), domain.OrderRef(99))
	if !errors.Is(err, errors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
	if source.count() != 1 {
		t.Errorf("expected a single poll, got %d", source.count())
	}
}

func TestWait_AuthFailuresStopImmediately(t *testing.T) {
	for _, fail := range []error{
		errors.NewUnauthorized("token expired"),
		errors.NewForbidden("not yours"),
	} {
		clock := newFakeClock()
		source := newScripted(clock, func(time.Duration, int) (domain.Status, error) {
			return domain.Status{}, fail
		})
		waiter := NewWaiter(source, testConfig(), logger.Nop(), WithClock(clock))

		_, err := waiter.Wait(context.Background(), domain.OrderRef(1))
		if errors.CodeOf(err) != errors.CodeOf(fail) {
			t.Fatalf("expected %s, got %v", errors.CodeOf(fail), err)
		}
		if source.count() != 1 {
			t.Errorf("%s: expected a single poll, got %d", errors.CodeOf(fail), source.count())
		}
	}
}

func TestWait_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	source := &scriptedSource{
		clock: realClock{},
		start: time.Now(),
		answer: func(time.Duration, int) (domain.Status, error) {
			cancel()
			return domain.PendingPayment(), nil
		},
	}
	waiter := NewWaiter(source, Config{Interval: time.Hour, Deadline: 2 * time.Hour}, logger.Nop())

	_, err := waiter.Wait(ctx, domain.OrderRef(1))
	if !stderrors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if source.count() != 1 {
		t.Errorf("expected no polls after cancellation, got %d", source.count())
	}
}

func TestConfig_Defaults(t *testing.T) {
	waiter := NewWaiter(nil, Config{}, logger.Nop())
	cfg := waiter.Config()
	if cfg.Interval != DefaultInterval || cfg.Deadline != DefaultDeadline {
		t.Errorf("expected defaults, got %+v", cfg)
	}

	waiter = NewWaiter(nil, Config{Interval: time.Minute, Deadline: 10 * time.Second}, logger.Nop())
	if waiter.Config().Interval != 10*time.Second {
		t.Errorf("expected interval clamped to the deadline, got %s", waiter.Config().Interval)
	}
}

func TestWatch_DeliversOnce(t *testing.T) {
	clock := newFakeClock()
	source := newScripted(clock, func(time.Duration, int) (domain.Status, error) {
		return domain.Confirmed(), nil
	})
	waiter := NewWaiter(source, testConfig(), logger.Nop(), WithClock(clock))

	watch := waiter.Watch(context.Background(), domain.OrderRef(1))

	res, ok := <-watch.Result()
	if !ok {
		t.Fatal("expected a result")
	}
	if res.Outcome != OutcomeAdmitted {
		t.Errorf("expected admitted, got %s", res.Outcome)
	}
	if _, ok := <-watch.Result(); ok {
		t.Error("expected the result channel to be closed after one value")
	}
	if err := watch.Err(); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	watch.Stop()
}

func TestWatch_StopReleasesLoop(t *testing.T) {
	source := &scriptedSource{
		clock: realClock{},
		start: time.Now(),
		answer: func(time.Duration, int) (domain.Status, error) {
			return domain.PendingPayment(), nil
		},
	}
	waiter := NewWaiter(source, Config{Interval: time.Hour, Deadline: 2 * time.Hour}, logger.Nop())

	watch := waiter.Watch(context.Background(), domain.OrderRef(1))
	watch.Stop()
	watch.Stop()

	select {
	case <-watch.Done():
	default:
		t.Fatal("expected the loop to have exited")
	}
	if _, ok := <-watch.Result(); ok {
		t.Error("expected no result after stop")
	}
	if !stderrors.Is(watch.Err(), context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", watch.Err())
	}
}
