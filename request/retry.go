package request

import (
	"context"
	"errors"
	"time"
)

// Policy configures retry and timeout behaviour.
type Policy struct {
	MaxAttempts int           // total attempts including the first; <= 0 => 1
	BaseDelay   time.Duration // delay after the first failure
	MaxDelay    time.Duration // cap on any single delay; <= 0 => uncapped
	Timeout     time.Duration // per attempt; <= 0 => none

	// Sleep waits between attempts; nil uses a timer. It must return early
	// with ctx.Err() when ctx ends.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry, when set, is called before each wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultPolicy: 3 attempts, 1s doubling up to 10s, 30s per attempt.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
		Timeout:     30 * time.Second,
	}
}

// Backoff returns the wait after the given failed attempt (1-based):
// min(BaseDelay*2^(attempt-1), MaxDelay).
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 || p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			break
		}
		if d > time.Duration(1<<62) {
			break
		}
		d *= 2
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func (p Policy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WithRetry calls fn until it succeeds, fails with a non-retryable error or
// the attempts run out. Each attempt is bounded by p.Timeout. The last error
// is returned unchanged.
func WithRetry[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	max := p.attempts()
	for attempt := 1; ; attempt++ {
		v, err := WithTimeout(ctx, p.Timeout, fn)
		if err == nil {
			return v, nil
		}
		if attempt >= max || !Retryable(err) || ctx.Err() != nil {
			return zero, err
		}
		d := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, d, err)
		}
		if serr := p.sleep(ctx, d); serr != nil {
			return zero, err
		}
	}
}

// ErrTimeout is wrapped by the *Error returned when WithTimeout fires.
var ErrTimeout = errors.New("request: timed out")

// WithTimeout runs fn with a deadline of d. If fn has not returned by then
// its context is cancelled and a KindTimeout *Error is returned without
// waiting for it. d <= 0 runs fn directly.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, d)

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer cancel()
		v, err := fn(tctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() == nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
			var zero T
			return zero, timeoutError(r.err)
		}
		return r.v, r.err
	case <-tctx.Done():
		var zero T
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, timeoutError(nil)
	}
}

func timeoutError(cause error) error {
	var re *Error
	if errors.As(cause, &re) && re.Kind == KindTimeout {
		return cause
	}
	err := error(ErrTimeout)
	if cause != nil {
		err = errors.Join(ErrTimeout, cause)
	}
	return &Error{Kind: KindTimeout, Err: err}
}
