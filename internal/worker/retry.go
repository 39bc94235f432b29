package worker

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// permanentError marks a failure that a retry cannot fix.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

type backoff struct {
	attempts int
	base     time.Duration
	max      time.Duration
}

var scanBackoff = backoff{attempts: 3, base: 500 * time.Millisecond, max: 10 * time.Second}

// do runs fn until it succeeds, fails permanently, the attempts are used up
// or ctx is done. The delay doubles after each attempt and carries up to 50%
// jitter.
func (b backoff) do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := max(b.attempts, 1)
	delay := b.base
	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		var perm permanentError
		if err == nil || errors.As(err, &perm) || attempt >= attempts || ctx.Err() != nil {
			return err
		}
		wait := delay
		if half := int64(delay / 2); half > 0 {
			wait += time.Duration(rand.Int63n(half))
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(wait):
		}
		delay = min(delay*2, b.max)
	}
}
