package gatt

import (
	"context"
	"time"
)

// Await runs fn on its own goroutine and waits for its result, the timeout, or
// ctx cancellation, whichever comes first. The loser's result is discarded.
// fn itself is not interrupted: a timed-out operation must not be assumed to
// have been aborted on the remote side, so callers that have a protocol-level
// cancel should still send it.
func Await[T any](ctx context.Context, op string, timeout time.Duration, fn func() (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	resultCh := make(chan result, 1)

	go func() {
		value, err := fn()
		resultCh <- result{value: value, err: err}
	}()

	var zero T
	select {
	case r := <-resultCh:
		return r.value, r.err
	case <-time.After(timeout):
		return zero, &TimeoutError{Op: op, Timeout: timeout}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
