package transport

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   attempts,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		Multiplier:    2.0,
		JitterPercent: 0.1,
	}
}

func TestRetryer_SuccessOnFirstAttempt(t *testing.T) {
	r := NewRetryer(fastPolicy(3))

	calls := 0
	err := r.Do(context.Background(), nil, func() error {
		calls++
		return nil
	})

	if err != nil {
		t.Fatalf("Do() = %v, want nil", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetryer_SuccessAfterRetries(t *testing.T) {
	r := NewRetryer(fastPolicy(5))

	calls := 0
	err := r.Do(context.Background(), nil, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Do() = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryer_AllAttemptsFail(t *testing.T) {
	r := NewRetryer(fastPolicy(3))

	wantErr := errors.New("still broken")
	calls := 0
	err := r.Do(context.Background(), nil, func() error {
		calls++
		return wantErr
	})

	if !errors.Is(err, wantErr) {
		t.Fatalf("Do() = %v, want %v", err, wantErr)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryer_NonRetryableStopsImmediately(t *testing.T) {
	r := NewRetryer(fastPolicy(5))

	permanent := errors.New("permanent")
	calls := 0
	err := r.Do(context.Background(), func(err error) bool {
		return !errors.Is(err, permanent)
	}, func() error {
		calls++
		return permanent
	})

	if !errors.Is(err, permanent) {
		t.Fatalf("Do() = %v, want %v", err, permanent)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetryer_ContextCancelled(t *testing.T) {
	policy := fastPolicy(10)
	policy.InitialDelay = 50 * time.Millisecond
	r := NewRetryer(policy)

	ctx, cancel := context.WithCancel(context.Background())
	transient := errors.New("transient")

	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := r.Do(ctx, nil, func() error {
		calls++
		return transient
	})

	if !errors.Is(err, transient) {
		t.Fatalf("Do() = %v, want last error %v", err, transient)
	}
	if calls > 2 {
		t.Errorf("expected cancellation to stop retries, got %d calls", calls)
	}
}

func TestCalculateDelay_Exponential(t *testing.T) {
	policy := RetryPolicy{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Minute,
		Multiplier:   2.0,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
	}

	for _, tt := range tests {
		if got := CalculateDelay(tt.attempt, policy); got != tt.want {
			t.Errorf("CalculateDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestCalculateDelay_CappedAtMax(t *testing.T) {
	policy := RetryPolicy{
		InitialDelay: time.Second,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}

	if got := CalculateDelay(10, policy); got != 5*time.Second {
		t.Errorf("CalculateDelay(10) = %v, want capped 5s", got)
	}
}

func TestAddJitter_WithinBounds(t *testing.T) {
	delay := 100 * time.Millisecond

	for i := 0; i < 100; i++ {
		jittered := AddJitter(delay, 0.1)
		if jittered < 90*time.Millisecond || jittered > 110*time.Millisecond {
			t.Fatalf("jittered delay %v outside ±10%% of %v", jittered, delay)
		}
	}
}

func TestAddJitter_ZeroPercentIsIdentity(t *testing.T) {
	delay := 42 * time.Millisecond
	if got := AddJitter(delay, 0); got != delay {
		t.Errorf("AddJitter(%v, 0) = %v, want unchanged", delay, got)
	}
}
