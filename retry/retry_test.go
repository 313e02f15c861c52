package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryAfterHonored(t *testing.T) {
	// maxRetries=2, baseDelay=1s, maxDelay=30s, jitter=0; server returns
	// 429+Retry-After:5 twice then 200. Expect 3 calls total, each delay
	// taken from the Retry-After hint rather than the backoff formula.
	p := Policy{MaxRetries: 2, BaseDelay: time.Second, MaxDelay: 30 * time.Second, Factor: 2, Jitter: 0}

	calls := 0
	var delays []time.Duration

	origSleep := sleepFunc
	sleepFunc = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	defer func() { sleepFunc = origSleep }()

	err := p.Run(context.Background(), func(attempt int) (Outcome, error) {
		calls++
		if calls <= 2 {
			hint := 5 * time.Second
			return Outcome{Method: "GET", StatusCode: 429, RetryAfter: &hint}, errors.New("rate limited")
		}
		return Outcome{Method: "GET", StatusCode: 200}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	for i, d := range delays {
		if d != 5*time.Second {
			t.Errorf("delay[%d] = %v, want 5s", i, d)
		}
	}
}

func TestMethodEligibility(t *testing.T) {
	p := Policy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Second, Factor: 2}

	cases := []struct {
		name string
		o    Outcome
		want bool
	}{
		{"get-5xx", Outcome{Method: "GET", StatusCode: 500}, true},
		{"put-5xx", Outcome{Method: "PUT", StatusCode: 502}, true},
		{"delete-5xx", Outcome{Method: "DELETE", StatusCode: 503}, true},
		{"post-5xx-no-opt-in", Outcome{Method: "POST", StatusCode: 500}, false},
		{"post-5xx-force", Outcome{Method: "POST", StatusCode: 500, ForceRetry: true}, true},
		{"patch-explicit-safe", Outcome{Method: "PATCH", StatusCode: 500, ExplicitSafe: true}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := p.Evaluate(0, tc.o).Retry
			if got != tc.want {
				t.Errorf("Evaluate(%+v).Retry = %v, want %v", tc.o, got, tc.want)
			}
		})
	}
}

func TestStatusEligibility(t *testing.T) {
	p := Policy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Second, Factor: 2}

	neverRetry := []int{400, 401, 403, 404, 409, 422, 501}
	for _, code := range neverRetry {
		o := Outcome{Method: "GET", StatusCode: code}
		if p.Evaluate(0, o).Retry {
			t.Errorf("status %d should never retry", code)
		}
	}

	retryable := []int{429, 500, 502, 503, 504}
	for _, code := range retryable {
		o := Outcome{Method: "GET", StatusCode: code}
		if !p.Evaluate(0, o).Retry {
			t.Errorf("status %d should be retryable", code)
		}
	}

	netErr := Outcome{Method: "GET", NetErr: errors.New("dial tcp: timeout")}
	if !p.Evaluate(0, netErr).Retry {
		t.Error("network error should be retryable")
	}
}

func TestMaxRetriesExhausted(t *testing.T) {
	p := Policy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Second, Factor: 2}
	o := Outcome{Method: "GET", StatusCode: 500}
	if p.Evaluate(2, o).Retry {
		t.Error("attempt == MaxRetries should not retry further")
	}
	if !p.Evaluate(1, o).Retry {
		t.Error("attempt < MaxRetries should still retry")
	}
}

func TestBackoffGrowsWithFactor(t *testing.T) {
	p := Policy{MaxRetries: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 10 * time.Second, Factor: 2, Jitter: 0}
	d0 := p.delay(0, Outcome{})
	d1 := p.delay(1, Outcome{})
	d2 := p.delay(2, Outcome{})
	if d0 != 100*time.Millisecond || d1 != 200*time.Millisecond || d2 != 400*time.Millisecond {
		t.Errorf("delays = %v, %v, %v; want 100ms, 200ms, 400ms", d0, d1, d2)
	}
}

func TestBackoffCappedAtMaxDelay(t *testing.T) {
	p := Policy{MaxRetries: 10, BaseDelay: time.Second, MaxDelay: 3 * time.Second, Factor: 2, Jitter: 0}
	d := p.delay(5, Outcome{})
	if d != 3*time.Second {
		t.Errorf("delay = %v, want capped at 3s", d)
	}
}

func TestJitterStaysWithinBounds(t *testing.T) {
	base := 100 * time.Millisecond
	for range 50 {
		d := jitterRange(base, 0.2)
		if d < base || d > time.Duration(float64(base)*1.2) {
			t.Errorf("jittered delay %v out of [%v, %v]", d, base, time.Duration(float64(base)*1.2))
		}
	}
}

func TestRunStopsOnCancellation(t *testing.T) {
	p := Policy{MaxRetries: 5, BaseDelay: time.Hour, MaxDelay: time.Hour, Factor: 1}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := p.Run(ctx, func(attempt int) (Outcome, error) {
		calls++
		return Outcome{Method: "GET", StatusCode: 500}, errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected context error")
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0 since context was already cancelled", calls)
	}
}

func TestRunSucceedsWithoutRetry(t *testing.T) {
	p := DefaultPolicy()
	calls := 0
	err := p.Run(context.Background(), func(attempt int) (Outcome, error) {
		calls++
		return Outcome{Method: "GET", StatusCode: 200}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
