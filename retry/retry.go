// Package retry implements the SDK-wide retry policy shared by the HTTP and
// RPC transports: method/status eligibility rules, exponential backoff with
// jitter, and Retry-After hint handling.
package retry

import (
	"context"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Policy configures retry eligibility and backoff timing.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Factor     float64
	Jitter     float64
}

// DefaultPolicy returns sane defaults: 3 retries, 200ms base delay, 30s cap,
// factor 2, and 20% jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   30 * time.Second,
		Factor:     2,
		Jitter:     0.2,
	}
}

// Outcome describes the result of a single attempt, enough for Evaluate to
// decide whether it is worth retrying.
type Outcome struct {
	Method       string
	StatusCode   int
	NetErr       error
	RetryAfter   *time.Duration
	ForceRetry   bool
	ExplicitSafe bool
}

// Decision is the result of evaluating an Outcome against a Policy.
type Decision struct {
	Retry bool
	Delay time.Duration
}

var safeMethods = map[string]bool{
	"GET":    true,
	"PUT":    true,
	"DELETE": true,
	"HEAD":   true,
}

var neverRetryStatus = map[int]bool{
	400: true,
	401: true,
	403: true,
	404: true,
	409: true,
	422: true,
}

// methodEligible reports whether a failed call on this method is a candidate
// for retry at all, independent of the status/error observed.
func methodEligible(o Outcome) bool {
	if o.ForceRetry || o.ExplicitSafe {
		return true
	}
	return safeMethods[o.Method]
}

// statusEligible reports whether the observed status/error is retryable,
// regardless of method.
func statusEligible(o Outcome) bool {
	if o.NetErr != nil {
		return true
	}
	if o.StatusCode == 0 {
		return false
	}
	if neverRetryStatus[o.StatusCode] {
		return false
	}
	if o.StatusCode == 429 {
		return true
	}
	if o.StatusCode >= 500 && o.StatusCode != 501 {
		return true
	}
	return false
}

// Evaluate decides whether attempt (0-based, the attempt just completed)
// should be retried and, if so, how long to wait first.
func (p Policy) Evaluate(attempt int, o Outcome) Decision {
	if attempt >= p.MaxRetries {
		return Decision{Retry: false}
	}
	if !methodEligible(o) || !statusEligible(o) {
		return Decision{Retry: false}
	}
	return Decision{Retry: true, Delay: p.delay(attempt, o)}
}

// BackoffDelay computes the exponential-backoff wait for attempt (0-based),
// with the same factor/cap/jitter math as the retry loop but with no
// Retry-After hint to honor. Exported so other backoff users in the SDK
// (the realtime reconnect loop) share this calculation instead of
// reimplementing it.
func (p Policy) BackoffDelay(attempt int) time.Duration {
	return p.delay(attempt, Outcome{})
}

// delay computes the wait before the next attempt, honoring a Retry-After
// hint when present and applying multiplicative jitter in both paths.
func (p Policy) delay(attempt int, o Outcome) time.Duration {
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	if o.RetryAfter != nil {
		hint := *o.RetryAfter
		if hint > maxDelay {
			hint = maxDelay
		}
		return jitterHint(hint, p.Jitter)
	}

	base := p.BaseDelay
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	d := float64(base)
	for range attempt {
		d *= factor
	}
	computed := time.Duration(d)
	if computed > maxDelay {
		computed = maxDelay
	}
	return jitterRange(computed, p.Jitter)
}

// jitterRange scales d by a uniform factor in [1, 1+jitter].
func jitterRange(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return d
	}
	factor := 1 + rand.Float64()*jitter
	return time.Duration(float64(d) * factor)
}

// jitterHint scales a Retry-After hint by hint*(1+U*jitter) to avoid
// thundering herds when many clients observe the same hint.
func jitterHint(hint time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return hint
	}
	factor := 1 + rand.Float64()*jitter
	return time.Duration(float64(hint) * factor)
}

// Run drives fn through up to MaxRetries+1 attempts, sleeping between
// attempts per Evaluate's decision and stopping immediately on context
// cancellation. fn returns the Outcome describing what happened plus an
// error to surface if the loop gives up; a nil error with a retryable
// Outcome still triggers a retry (e.g. a 5xx response with no Go error).
func (p Policy) Run(ctx context.Context, fn func(attempt int) (Outcome, error)) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		outcome, err := fn(attempt)

		decision := p.Evaluate(attempt, outcome)
		if !decision.Retry {
			return err
		}

		trace.SpanFromContext(ctx).AddEvent("retry", trace.WithAttributes(
			attribute.Int("attempt", attempt+1),
			attribute.Int("http.status_code", outcome.StatusCode),
		))

		if waitErr := sleepFunc(ctx, decision.Delay); waitErr != nil {
			return waitErr
		}
	}
}

// sleepFunc waits for d, returning ctx.Err() if the context is cancelled
// first. It is a variable so tests can stub out real waiting.
var sleepFunc = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
