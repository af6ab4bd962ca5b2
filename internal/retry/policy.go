// Package retry runs an operation under a bounded attempt count and an
// overall deadline.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrExhausted is returned when every attempt failed.
	ErrExhausted = errors.New("retry attempts exhausted")
	// ErrDeadline is returned when the overall deadline elapsed first.
	ErrDeadline = errors.New("retry deadline exceeded")
)

// Permanent marks an error that must not be retried.
type Permanent struct {
	Err error
}

func (p *Permanent) Error() string { return p.Err.Error() }
func (p *Permanent) Unwrap() error { return p.Err }

// Policy bounds a retried procedure. Zero Deadline means no overall limit.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Deadline     time.Duration
}

// Delay returns the wait after attempt n (1-based) fails.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 1 || p.InitialDelay <= 0 {
		return p.InitialDelay
	}
	mult := p.Multiplier
	if mult < 1.0 {
		mult = 1.0
	}
	delay := float64(p.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

// Do calls fn until it succeeds, returns a *Permanent error, attempts run
// out, or the deadline passes. The error wraps ErrExhausted or ErrDeadline
// together with the last failure. Cancellation of the parent ctx is
// returned as ctx.Err().
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}

	parent := ctx
	if p.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Deadline)
		defer cancel()
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		var perm *Permanent
		if errors.As(err, &perm) {
			return perm.Err
		}
		if stop := p.stopped(parent, ctx, lastErr); stop != nil {
			return stop
		}
		if attempt == p.MaxAttempts {
			break
		}

		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return p.stopped(parent, ctx, lastErr)
		case <-timer.C:
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, p.MaxAttempts, lastErr)
}

func (p Policy) stopped(parent, ctx context.Context, lastErr error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if ctx.Err() != nil {
		if lastErr != nil {
			return fmt.Errorf("%w: %w", ErrDeadline, lastErr)
		}
		return ErrDeadline
	}
	return nil
}
