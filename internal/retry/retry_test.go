package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func fastPolicy(retries int) Policy {
	return Policy{
		MaxRetries:   retries,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Shape:        Linear,
		Timeout:      5 * time.Second,
	}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	t.Parallel()

	calls := 0
	got, err := Do(context.Background(), fastPolicy(3), func(context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got != "ok" {
		t.Errorf("result = %q, want ok", got)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on success)", calls)
	}
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	t.Parallel()

	calls := 0
	var notified []int
	got, err := Do(context.Background(), fastPolicy(3), func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, fmt.Errorf("transient %d", calls)
		}
		return 42, nil
	}, WithNotify(func(attempt int, _ error, _ time.Duration) {
		notified = append(notified, attempt)
	}))
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got != 42 {
		t.Errorf("result = %d, want 42", got)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(notified) != 2 || notified[0] != 1 || notified[1] != 2 {
		t.Errorf("notified attempts = %v, want [1 2]", notified)
	}
}

func TestDo_ExhaustedReturnsLastError(t *testing.T) {
	t.Parallel()

	errLast := errors.New("attempt 3 failed")
	calls := 0
	_, err := Do(context.Background(), fastPolicy(2), func(context.Context) (struct{}, error) {
		calls++
		if calls == 3 {
			return struct{}{}, errLast
		}
		return struct{}{}, fmt.Errorf("attempt %d failed", calls)
	})
	if !errors.Is(err, errLast) {
		t.Fatalf("err = %v, want last error", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (1 + 2 retries)", calls)
	}
}

func TestDo_ZeroRetries(t *testing.T) {
	t.Parallel()

	calls := 0
	_, err := Do(context.Background(), fastPolicy(0), func(context.Context) (int, error) {
		calls++
		return 0, errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	t.Parallel()

	errAuth := errors.New("401 unauthorized")
	calls := 0
	_, err := Do(context.Background(), fastPolicy(5), func(context.Context) (int, error) {
		calls++
		return 0, Permanent(errAuth)
	})
	if !errors.Is(err, errAuth) {
		t.Fatalf("err = %v, want %v", err, errAuth)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_TimeoutKeepsLastError(t *testing.T) {
	t.Parallel()

	errSlow := errors.New("upstream unavailable")
	p := Policy{
		MaxRetries:   100,
		InitialDelay: 20 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Shape:        Linear,
		Timeout:      50 * time.Millisecond,
	}

	start := time.Now()
	_, err := Do(context.Background(), p, func(context.Context) (int, error) {
		return 0, errSlow
	})
	if err == nil {
		t.Fatal("expected error after timeout")
	}
	if !errors.Is(err, errSlow) {
		t.Errorf("err = %v, want it to wrap the last attempt error", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Do took %s, timeout budget was not enforced", elapsed)
	}
}

func TestDo_PassesBudgetContext(t *testing.T) {
	t.Parallel()

	_, err := Do(context.Background(), fastPolicy(0), func(ctx context.Context) (int, error) {
		if _, ok := ctx.Deadline(); !ok {
			return 0, errors.New("expected deadline on attempt context")
		}
		return 1, nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
}

func TestLinearBackOff(t *testing.T) {
	t.Parallel()

	b := (Policy{InitialDelay: 100 * time.Millisecond, MaxDelay: 250 * time.Millisecond, Shape: Linear}).backOff()
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 250 * time.Millisecond, 250 * time.Millisecond}
	for i, w := range want {
		if got := b.NextBackOff(); got != w {
			t.Errorf("step %d = %s, want %s", i, got, w)
		}
	}
	b.Reset()
	if got := b.NextBackOff(); got != 100*time.Millisecond {
		t.Errorf("after reset = %s, want 100ms", got)
	}
}

func TestExponentialBackOff(t *testing.T) {
	t.Parallel()

	b := (Policy{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2, Shape: Exponential}).backOff()
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second}
	for i, w := range want {
		if got := b.NextBackOff(); got != w {
			t.Errorf("step %d = %s, want %s", i, got, w)
		}
	}
}

func TestPolicy_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		p         Policy
		errSubstr string
	}{
		{"default", Default(), ""},
		{"exponential", ExponentialPolicy(), ""},
		{"negative retries", Policy{MaxRetries: -1}, "max retries"},
		{"max below initial", Policy{InitialDelay: time.Second, MaxDelay: time.Millisecond}, "below initial"},
		{"bad multiplier", Policy{Shape: Exponential, Multiplier: 0.5}, "multiplier"},
		{"unknown shape", Policy{Shape: "fibonacci"}, "unknown backoff shape"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.p.Validate()
			if tt.errSubstr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errSubstr) {
				t.Fatalf("err = %v, want substring %q", err, tt.errSubstr)
			}
		})
	}
}

func TestIsPermanent(t *testing.T) {
	t.Parallel()

	base := errors.New("bad request")
	if IsPermanent(base) {
		t.Error("plain error reported permanent")
	}
	if !IsPermanent(Permanent(base)) {
		t.Error("Permanent error not detected")
	}
	if !IsPermanent(fmt.Errorf("wrapped: %w", Permanent(base))) {
		t.Error("wrapped Permanent error not detected")
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}
