package main

import (
	"context"
	"errors"
	"testing"
	"time"
)

// sleepRecorder replaces real sleeps in tests
type sleepRecorder struct {
	durations []time.Duration
	err       error
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.durations = append(s.durations, d)
	if s.err != nil {
		return s.err
	}
	return ctx.Err()
}

func (s *sleepRecorder) total() time.Duration {
	var sum time.Duration
	for _, d := range s.durations {
		sum += d
	}
	return sum
}

func TestCallRetriesRateLimit(t *testing.T) {
	sleeper := &sleepRecorder{}
	caller := NewCaller(RetrySettings{}, sleeper.sleep, nil)

	var seen [][]string
	args := []string{"artist-1", "album,single"}
	failures := 2

	result, err := Call(context.Background(), caller, "test", func(ctx context.Context) (string, error) {
		seen = append(seen, append([]string(nil), args...))
		if failures > 0 {
			failures--
			return "", &RateLimitError{RetryAfter: 3 * time.Second}
		}
		return "ok", nil
	})

	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if result != "ok" {
		t.Errorf("Call() = %q, want %q", result, "ok")
	}
	if len(sleeper.durations) != 2 {
		t.Fatalf("Call() slept %d times, want 2", len(sleeper.durations))
	}
	for i, d := range sleeper.durations {
		if d < 4*time.Second {
			t.Errorf("sleep %d = %v, want >= 4s", i, d)
		}
	}
	if len(seen) != 3 {
		t.Fatalf("operation called %d times, want 3", len(seen))
	}
	for i, got := range seen {
		if got[0] != "artist-1" || got[1] != "album,single" {
			t.Errorf("attempt %d args = %v, want unchanged", i, got)
		}
	}
}

func TestCallPropagatesOtherErrors(t *testing.T) {
	sleeper := &sleepRecorder{}
	caller := NewCaller(RetrySettings{}, sleeper.sleep, nil)
	boom := errors.New("boom")

	calls := 0
	_, err := Call(context.Background(), caller, "test", func(ctx context.Context) (int, error) {
		calls++
		return 0, &HTTPError{StatusCode: 500, URL: "https://api", Body: boom.Error()}
	})

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("Call() error = %v, want *HTTPError", err)
	}
	if calls != 1 {
		t.Errorf("operation called %d times, want 1", calls)
	}
	if len(sleeper.durations) != 0 {
		t.Errorf("Call() slept %d times, want 0", len(sleeper.durations))
	}
}

func TestCallMaxAttempts(t *testing.T) {
	sleeper := &sleepRecorder{}
	caller := NewCaller(RetrySettings{MaxAttempts: 3}, sleeper.sleep, nil)

	calls := 0
	err := Do(context.Background(), caller, "test", func(ctx context.Context) error {
		calls++
		return &RateLimitError{RetryAfter: time.Second}
	})

	if !errors.Is(err, ErrRateLimitExhausted) {
		t.Fatalf("Do() error = %v, want ErrRateLimitExhausted", err)
	}
	if !IsRateLimit(err) {
		t.Error("exhausted error should still carry the rate-limit signal")
	}
	if calls != 3 {
		t.Errorf("operation called %d times, want 3", calls)
	}
	if len(sleeper.durations) != 2 {
		t.Errorf("Do() slept %d times, want 2", len(sleeper.durations))
	}
}

func TestCallMaxWait(t *testing.T) {
	sleeper := &sleepRecorder{}
	caller := NewCaller(RetrySettings{MaxWait: Duration(5 * time.Second)}, sleeper.sleep, nil)

	calls := 0
	err := Do(context.Background(), caller, "test", func(ctx context.Context) error {
		calls++
		return &RateLimitError{RetryAfter: 3 * time.Second}
	})

	if !errors.Is(err, ErrRateLimitExhausted) {
		t.Fatalf("Do() error = %v, want ErrRateLimitExhausted", err)
	}
	if calls != 2 {
		t.Errorf("operation called %d times, want 2", calls)
	}
	if sleeper.total() != 4*time.Second {
		t.Errorf("total wait = %v, want 4s", sleeper.total())
	}
}

func TestCallStopsWhenSleepCancelled(t *testing.T) {
	sleeper := &sleepRecorder{err: context.Canceled}
	caller := NewCaller(RetrySettings{}, sleeper.sleep, nil)

	calls := 0
	err := Do(context.Background(), caller, "test", func(ctx context.Context) error {
		calls++
		return &RateLimitError{RetryAfter: time.Second}
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("operation called %d times, want 1", calls)
	}
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("sleepContext() error = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("sleepContext() did not return promptly on cancellation")
	}

	if err := sleepContext(context.Background(), 0); err != nil {
		t.Errorf("sleepContext(0) error = %v", err)
	}
}
