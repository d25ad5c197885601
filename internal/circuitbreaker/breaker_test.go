package circuitbreaker

import (
	"sync"
	"testing"
	"time"
)

func TestAllow_HealthyGatewayFlows(t *testing.T) {
	b := New(3, 100*time.Millisecond)
	if !b.Allow("paystack") {
		t.Fatal("Closed circuit rejected a call")
	}
	if b.State("paystack") != StateClosed {
		t.Fatalf("State = %v", b.State("paystack"))
	}
}

func TestRecordFailure_ThresholdTripsCircuit(t *testing.T) {
	b := New(3, 100*time.Millisecond)

	b.RecordFailure("paystack")
	b.RecordFailure("paystack")
	if !b.Allow("paystack") {
		t.Fatal("Circuit tripped below the failure threshold")
	}

	b.RecordFailure("paystack")
	if b.Allow("paystack") {
		t.Fatal("Third failure did not trip the circuit")
	}
	if b.State("paystack") != StateOpen {
		t.Fatalf("State = %v", b.State("paystack"))
	}
}

func TestAllow_CoolOffAdmitsSingleProbe(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	b.RecordFailure("paystack")
	b.RecordFailure("paystack")
	if b.Allow("paystack") {
		t.Fatal("Tripped circuit allowed a call")
	}

	time.Sleep(60 * time.Millisecond)

	// The first caller after cool-off is the probe; everyone else
	// keeps failing fast until the probe reports back.
	if !b.Allow("paystack") {
		t.Fatal("Probe not admitted after cool-off")
	}
	if b.State("paystack") != StateHalfOpen {
		t.Fatalf("State = %v", b.State("paystack"))
	}
	if b.Allow("paystack") {
		t.Fatal("Second caller admitted during the probe")
	}
}

func TestRecordSuccess_ProbeRecoveryCloses(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	b.RecordFailure("paystack")
	b.RecordFailure("paystack")
	time.Sleep(60 * time.Millisecond)
	b.Allow("paystack")

	b.RecordSuccess("paystack")
	if b.State("paystack") != StateClosed {
		t.Fatalf("State after probe success = %v", b.State("paystack"))
	}
	if !b.Allow("paystack") {
		t.Fatal("Recovered circuit rejected a call")
	}
}

func TestRecordFailure_ProbeFailureReopens(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	b.RecordFailure("paystack")
	b.RecordFailure("paystack")
	time.Sleep(60 * time.Millisecond)
	b.Allow("paystack")

	b.RecordFailure("paystack")
	if b.State("paystack") != StateOpen {
		t.Fatalf("State after probe failure = %v", b.State("paystack"))
	}
}

func TestRecordSuccess_ResetsFailureStreak(t *testing.T) {
	b := New(3, 100*time.Millisecond)

	b.RecordFailure("paystack")
	b.RecordFailure("paystack")
	b.RecordSuccess("paystack")

	// A lone failure after a success must not count toward the old
	// streak.
	b.RecordFailure("paystack")
	if !b.Allow("paystack") {
		t.Fatal("Circuit tripped on a reset streak")
	}
}

func TestBreaker_ProvidersAreIsolated(t *testing.T) {
	b := New(2, 100*time.Millisecond)

	b.RecordFailure("paystack")
	b.RecordFailure("paystack")

	if b.Allow("paystack") {
		t.Fatal("paystack circuit should be open")
	}
	if !b.Allow("stripe") {
		t.Fatal("stripe circuit tripped by paystack failures")
	}
	if b.State("stripe") != StateClosed {
		t.Fatalf("stripe state = %v", b.State("stripe"))
	}
}

func TestOnTransition_FiresOnTrip(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	var mu sync.Mutex
	var transitions []struct{ from, to State }
	b.OnTransition(func(key string, from, to State) {
		mu.Lock()
		transitions = append(transitions, struct{ from, to State }{from, to})
		mu.Unlock()
	})

	b.RecordFailure("paystack")
	b.RecordFailure("paystack")

	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 1 {
		t.Fatalf("Expected 1 transition, got %d", len(transitions))
	}
	if transitions[0].from != StateClosed || transitions[0].to != StateOpen {
		t.Fatalf("Transition = %v to %v", transitions[0].from, transitions[0].to)
	}
}

func TestState_String(t *testing.T) {
	cases := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half_open",
		State(99):     "unknown",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
