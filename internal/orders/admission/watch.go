package admission

import (
	"context"

	"go-fulfillment/internal/orders/domain"
)

// Watch is a wait running in the background. The outcome is delivered at
// most once on Result; the channel is closed when the loop exits.
type Watch struct {
	result chan Result
	done   chan struct{}
	cancel context.CancelFunc
	err    error
}

// Watch starts Wait in a goroutine
func (w *Waiter) Watch(ctx context.Context, ref domain.Ref) *Watch {
	ctx, cancel := context.WithCancel(ctx)
	watch := &Watch{
		result: make(chan Result, 1),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	go func() {
		defer close(watch.done)
		defer close(watch.result)
		defer cancel()

		res, err := w.Wait(ctx, ref)
		if err != nil {
			watch.err = err
			return
		}
		watch.result <- res
	}()

	return watch
}

// Result delivers the outcome, or closes without a value when the wait
// was stopped or failed
func (w *Watch) Result() <-chan Result { return w.result }

// Done is closed once the polling goroutine has exited
func (w *Watch) Done() <-chan struct{} { return w.done }

// Stop cancels the wait and blocks until its goroutine and timer are
// released. Safe to call more than once and after completion.
func (w *Watch) Stop() {
	w.cancel()
	<-w.done
}

// Err returns why the wait ended without an outcome. It blocks until the
// loop exits.
func (w *Watch) Err() error {
	<-w.done
	return w.err
}
