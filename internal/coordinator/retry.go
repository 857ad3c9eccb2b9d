package coordinator

import (
	"errors"
	"math/rand/v2"
	"time"
)

// timeNow is swapped in tests.
var timeNow = time.Now

// transientError marks a collaborator failure as retryable. Everything
// not marked transient dead-letters on first failure.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }

func (e *transientError) Unwrap() error { return e.err }

// Transient wraps err as retryable. A nil err returns nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err is marked retryable.
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

// backoff returns the requeue delay for the given claim attempt:
// exponential from base, capped at max, with half jitter so retry
// storms decorrelate. attempt is 1-based.
func backoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempt && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	half := d / 2
	return half + rand.N(half+1)
}
