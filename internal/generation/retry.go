package generation

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
	"time"
)

const maxAttempts = 2

// Transient is implemented by collaborator errors that know whether a second
// attempt could succeed, such as HTTP 5xx responses.
type Transient interface {
	Transient() bool
}

// callWithTimeout runs fn under its own deadline derived from ctx. A zero
// timeout leaves ctx untouched.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(callCtx)
}

// callWithRetry runs fn with a per-attempt timeout and retries once after
// backoff when the failure is transient and the parent context is still live.
func callWithRetry[T any](ctx context.Context, timeout, backoff time.Duration, onRetry func(attempt int, err error), fn func(context.Context) (T, error)) (T, error) {
	var (
		result T
		err    error
	)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if onRetry != nil {
				onRetry(attempt, err)
			}
			if backoff > 0 {
				timer := time.NewTimer(backoff)
				select {
				case <-ctx.Done():
					timer.Stop()
					return result, errors.Join(err, ctx.Err())
				case <-timer.C:
				}
			}
		}

		result, err = callWithTimeout(ctx, timeout, fn)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil || !isTransient(err) {
			return result, err
		}
	}
	return result, err
}

// isTransient reports whether err looks like a network hiccup worth one more try.
func isTransient(err error) bool {
	if err == nil {
		return false
	}

	var t Transient
	if errors.As(err, &t) {
		return t.Transient()
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	return errors.As(err, &opErr)
}
