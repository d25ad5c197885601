package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestDo_FirstAttemptSucceeds(t *testing.T) {
	var transfers int
	err := Do(context.Background(), 3, 10*time.Millisecond, func() error {
		transfers++
		return nil
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if transfers != 1 {
		t.Fatalf("Expected a single attempt, got %d", transfers)
	}
}

func TestDo_TransientFailuresAreRetried(t *testing.T) {
	// A gateway timeout on the first two payout attempts should not
	// surface to the caller when the third goes through.
	var attempts int
	err := Do(context.Background(), 3, 10*time.Millisecond, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("gateway timeout")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("Expected 3 attempts, got %d", attempts)
	}
}

func TestDo_ExhaustionReturnsLastError(t *testing.T) {
	var attempts int
	gatewayDown := errors.New("gateway unavailable")
	err := Do(context.Background(), 3, 10*time.Millisecond, func() error {
		attempts++
		return gatewayDown
	})
	if !errors.Is(err, gatewayDown) {
		t.Fatalf("Expected the gateway error, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("Expected 3 attempts, got %d", attempts)
	}
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	// A 4xx from the gateway means the request itself is bad; retrying
	// an invalid recipient would never succeed.
	var attempts int
	badRecipient := errors.New("invalid recipient code")
	err := Do(context.Background(), 5, 10*time.Millisecond, func() error {
		attempts++
		return Permanent(badRecipient)
	})
	if !errors.Is(err, badRecipient) {
		t.Fatalf("Expected the recipient error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("Permanent error was retried, %d attempts", attempts)
	}
}

func TestDo_CancelledContextEndsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var attempts atomic.Int32
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, 10, 100*time.Millisecond, func() error {
		attempts.Add(1)
		return errors.New("gateway timeout")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if n := attempts.Load(); n > 3 {
		t.Fatalf("Cancellation did not stop the retry loop, %d attempts", n)
	}
}

func TestDo_ZeroAttemptsRoundsUpToOne(t *testing.T) {
	var attempts int
	err := Do(context.Background(), 0, time.Millisecond, func() error {
		attempts++
		return nil
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("Expected 1 attempt, got %d", attempts)
	}
}

func TestDo_WaitsBetweenAttempts(t *testing.T) {
	var stamps []time.Time
	err := Do(context.Background(), 4, 20*time.Millisecond, func() error {
		stamps = append(stamps, time.Now())
		if len(stamps) < 4 {
			return errors.New("gateway timeout")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if len(stamps) != 4 {
		t.Fatalf("Expected 4 attempts, got %d", len(stamps))
	}

	// Jitter makes exact delays unpredictable; just require that some
	// backoff happened between attempts.
	for i := 1; i < len(stamps); i++ {
		if gap := stamps[i].Sub(stamps[i-1]); gap < 5*time.Millisecond {
			t.Errorf("Gap %d too short: %v", i, gap)
		}
	}
}

func TestPermanent_UnwrapsToCause(t *testing.T) {
	cause := errors.New("invalid recipient code")
	if !errors.Is(Permanent(cause), cause) {
		t.Fatal("Permanent did not unwrap to its cause")
	}
}
