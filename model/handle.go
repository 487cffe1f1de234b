package model

import (
	"context"
	"sync"
	"time"
)

// Handle is a one-shot result slot. It is resolved exactly once, by the
// worker or by shutdown; any number of goroutines may wait on it.
type Handle struct {
	id   string
	once sync.Once
	done chan struct{}

	result Result
	err    error
}

func newHandle(id string) *Handle {
	return &Handle{id: id, done: make(chan struct{})}
}

func (h *Handle) ID() string {
	return h.id
}

// Resolve stores the outcome and wakes every waiter. Only the first call
// has an effect; it reports whether this call won.
func (h *Handle) Resolve(result Result, err error) bool {
	won := false
	h.once.Do(func() {
		h.result = result
		h.err = err
		close(h.done)
		won = true
	})
	return won
}

// Done is closed once the handle is resolved.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the handle resolves or ctx ends. A ctx deadline is
// reported as ErrTimeout and does not affect the job.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		// prefer a result that raced with the deadline
		select {
		case <-h.done:
			return h.result, h.err
		default:
		}
		if ctx.Err() == context.DeadlineExceeded {
			return Result{}, ErrTimeout
		}
		return Result{}, ctx.Err()
	}
}

func (h *Handle) WaitTimeout(d time.Duration) (Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return h.Wait(ctx)
}
