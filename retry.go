package trino

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"net/http"
	"time"
)

// randDuration returns a uniformly random duration in [0, max).
func randDuration(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}

// RetryPolicy classifies request failures as transient or fatal and computes
// the wait interval before each retry. Transient failures are retried with
// exponential backoff and jitter until either the attempt budget or the total
// wait budget is exhausted, at which point the failure is surfaced as a
// ProtocolError carrying the last underlying cause.
//
// The zero value is not usable; start from DefaultRetryPolicy.
type RetryPolicy struct {
	// MaxAttempts bounds the number of tries for a single request,
	// including the first one.
	MaxAttempts int

	// BaseDelay is the wait after the first transient failure.
	// Subsequent waits double until MaxDelay.
	BaseDelay time.Duration

	// MaxDelay caps the wait for a single retry.
	MaxDelay time.Duration

	// MaxElapsedWait bounds the cumulative time spent waiting between
	// retries of a single request.
	MaxElapsedWait time.Duration
}

// DefaultRetryPolicy is the policy used by new clients.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:    10,
	BaseDelay:      time.Second,
	MaxDelay:       30 * time.Second,
	MaxElapsedWait: 2 * time.Minute,
}

// RetryableError returns true for transient network errors that warrant a
// retry (connection refused, DNS failures, connection reset). Timeouts are
// NOT retried: a timed-out exchange already spent its per-request budget and
// is surfaced as a TimeoutError instead. Context cancellation and deadline
// exceeded errors are NOT retried either.
func (p RetryPolicy) RetryableError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return !netErr.Timeout()
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// RetryableStatus returns true for HTTP statuses the coordinator uses as
// slow-down or transient-unavailability signals.
func (p RetryPolicy) RetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Delay computes the wait before retry number attempt (zero-based). The base
// delay doubles per attempt up to MaxDelay, and the result is spread over
// [delay/2, delay) so concurrent clients do not retry in lockstep.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 0; i < attempt && delay < p.MaxDelay; i++ {
		delay *= 2
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	half := delay / 2
	return half + randDuration(half)
}

// retryBudget tracks attempts and cumulative wait for one logical request.
type retryBudget struct {
	policy  RetryPolicy
	attempt int
	waited  time.Duration
}

// next reports whether another retry is allowed and, if so, how long to wait.
func (b *retryBudget) next() (time.Duration, bool) {
	if b.attempt+1 >= b.policy.MaxAttempts {
		return 0, false
	}
	delay := b.policy.Delay(b.attempt)
	if b.waited+delay > b.policy.MaxElapsedWait {
		return 0, false
	}
	b.attempt++
	b.waited += delay
	return delay, true
}

// sleep waits for the given delay or until the context is done, whichever
// comes first. It returns the context error on early wake-up.
func sleep(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
