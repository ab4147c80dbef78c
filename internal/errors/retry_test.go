package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"republic/internal/logging"
)

type recordingSleeper struct {
	delays []time.Duration
	calls  *[]string
}

func (s *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	if s.calls != nil {
		*s.calls = append(*s.calls, "sleep")
	}
	return nil
}

func testConfig(s *recordingSleeper) RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
		Sleep:       s.sleep,
		Logger:      logging.Nop(),
	}
}

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	for k := 0; k < 3; k++ {
		sleeper := &recordingSleeper{}
		calls := 0
		res, err := WithRetry(context.Background(), testConfig(sleeper), func(context.Context) (string, error) {
			calls++
			if calls <= k {
				return "", New(CodeTimeout, "slow")
			}
			return "done", nil
		}, nil)
		if err != nil {
			t.Fatalf("k=%d: unexpected error: %v", k, err)
		}
		if !res.Success || res.Value != "done" {
			t.Fatalf("k=%d: expected success, got %+v", k, res)
		}
		if res.Attempts != k+1 {
			t.Fatalf("k=%d: expected %d attempts, got %d", k, k+1, res.Attempts)
		}
		if len(sleeper.delays) != k {
			t.Fatalf("k=%d: expected %d sleeps, got %d", k, k, len(sleeper.delays))
		}
	}
}

func TestWithRetryNonRetryablePropagatesWithoutSleeping(t *testing.T) {
	sleeper := &recordingSleeper{}
	cause := New(CodeValidation, "bad args")
	calls := 0
	res, err := WithRetry(context.Background(), testConfig(sleeper), func(context.Context) (int, error) {
		calls++
		return 0, cause
	}, func(RetryEvent) { t.Fatalf("onRetry must not fire for permanent errors") })

	if !errors.Is(err, cause) {
		t.Fatalf("expected validation error to propagate, got %v", err)
	}
	if calls != 1 || res.Attempts != 1 {
		t.Fatalf("expected a single attempt, got calls=%d attempts=%d", calls, res.Attempts)
	}
	if len(sleeper.delays) != 0 {
		t.Fatalf("expected no sleep, got %v", sleeper.delays)
	}
}

func TestWithRetryUntypedErrorIsNotRetried(t *testing.T) {
	sleeper := &recordingSleeper{}
	_, err := WithRetry(context.Background(), testConfig(sleeper), func(context.Context) (int, error) {
		return 0, errors.New("connection refused")
	}, nil)
	if err == nil {
		t.Fatalf("expected untyped error to propagate")
	}
	if len(sleeper.delays) != 0 {
		t.Fatalf("expected no sleep for untyped error")
	}
}

func TestWithRetryExhaustion(t *testing.T) {
	var calls []string
	sleeper := &recordingSleeper{calls: &calls}
	var events []RetryEvent
	res, err := WithRetry(context.Background(), testConfig(sleeper), func(context.Context) (int, error) {
		calls = append(calls, "call")
		return 0, New(CodeRateLimited, "slow down")
	}, func(ev RetryEvent) {
		calls = append(calls, "retry")
		events = append(events, ev)
	})

	if err != nil {
		t.Fatalf("exhaustion should not return an error, got %v", err)
	}
	if res.Success {
		t.Fatalf("expected failure result")
	}
	if res.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", res.Attempts)
	}
	if CodeOf(res.LastErr) != CodeRateLimited {
		t.Fatalf("expected last error to be kept, got %v", res.LastErr)
	}
	want := []string{"call", "retry", "sleep", "call", "retry", "sleep", "call"}
	if len(calls) != len(want) {
		t.Fatalf("unexpected sequence %v", calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("unexpected sequence %v", calls)
		}
	}
	if res.TotalDelay != 3*time.Second {
		t.Fatalf("expected 3s total delay, got %v", res.TotalDelay)
	}
	if len(events) != 2 || events[0].Attempt != 1 || events[1].Delay != 2*time.Second {
		t.Fatalf("unexpected retry events %+v", events)
	}
}

func TestWithRetryStopsWhenContextCancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
		Logger:      logging.Nop(),
		Sleep: func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		},
	}
	res, err := WithRetry(ctx, cfg, func(context.Context) (int, error) {
		return 0, New(CodeTimeout, "slow")
	}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if res.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", res.Attempts)
	}
}

func TestBackoff(t *testing.T) {
	cfg := RetryConfig{BaseDelay: time.Second, MaxDelay: 10 * time.Second}

	cases := []struct {
		name       string
		attempt    int
		retryAfter time.Duration
		want       time.Duration
	}{
		{"first", 0, 0, time.Second},
		{"second", 1, 0, 2 * time.Second},
		{"third", 2, 0, 4 * time.Second},
		{"capped", 5, 0, 10 * time.Second},
		{"retry-after raises", 0, 3 * time.Second, 3 * time.Second},
		{"retry-after capped", 0, time.Minute, 10 * time.Second},
		{"huge attempt", 200, 0, 10 * time.Second},
	}
	for _, tc := range cases {
		if got := cfg.Backoff(tc.attempt, tc.retryAfter); got != tc.want {
			t.Errorf("%s: Backoff(%d, %v) = %v, want %v", tc.name, tc.attempt, tc.retryAfter, got, tc.want)
		}
	}
}

func TestBackoffJitterStaysWithinBounds(t *testing.T) {
	cfg := RetryConfig{BaseDelay: time.Second, MaxDelay: 10 * time.Second, Jitter: true}

	cfg.Rand = func() float64 { return 0.5 }
	if got := cfg.Backoff(1, 0); got != 2500*time.Millisecond {
		t.Fatalf("expected 2.5s, got %v", got)
	}
	cfg.Rand = func() float64 { return 0.75 }
	if got := cfg.Backoff(3, 0); got != 8750*time.Millisecond {
		t.Fatalf("expected jitter below cap, got %v", got)
	}
	if got := cfg.Backoff(4, 0); got != 10*time.Second {
		t.Fatalf("expected cap to win over jitter, got %v", got)
	}
}

func TestBackoffDefaultJitterSource(t *testing.T) {
	cfg := RetryConfig{BaseDelay: time.Second, MaxDelay: 10 * time.Second, Jitter: true}
	for i := 0; i < 100; i++ {
		got := cfg.Backoff(1, 0)
		if got < 2*time.Second || got >= 3*time.Second {
			t.Fatalf("expected delay in [2s,3s), got %v", got)
		}
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	if cfg.MaxAttempts != 3 || cfg.BaseDelay != time.Second || cfg.MaxDelay != 10*time.Second || !cfg.Jitter {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}
