// Package circuitbreaker guards outbound gateway calls. When a
// provider such as Paystack starts failing, the circuit for its key
// trips open and calls fail fast instead of piling onto timeouts.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// State is the circuit position for one key.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var cbStateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "perks",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit breaker state transitions by key, from-state, and to-state.",
}, []string{"key", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(cbStateTransitions)
}

type circuit struct {
	state     State
	failures  int
	trippedAt time.Time
}

// Breaker tracks consecutive failures per key. threshold failures trip
// the circuit open; after openFor it admits one probe call, and that
// probe's outcome decides between closing again and re-opening.
type Breaker struct {
	mu           sync.Mutex
	circuits     map[string]*circuit
	threshold    int
	openFor      time.Duration
	onTransition func(key string, from, to State)
}

// New creates a breaker. Non-positive arguments get the defaults of
// five failures and thirty seconds.
func New(threshold int, openFor time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	return &Breaker{
		circuits:  make(map[string]*circuit),
		threshold: threshold,
		openFor:   openFor,
	}
}

// OnTransition registers a callback fired on every state change. The
// callback runs on its own goroutine.
func (b *Breaker) OnTransition(fn func(key string, from, to State)) {
	b.mu.Lock()
	b.onTransition = fn
	b.mu.Unlock()
}

// Allow reports whether a call to key may proceed. An open circuit
// whose cool-off has elapsed moves to half-open and admits the caller
// as the probe.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return true
	}

	switch c.state {
	case StateOpen:
		if time.Since(c.trippedAt) >= b.openFor {
			b.shift(c, key, StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		// One probe at a time.
		return false
	default:
		return true
	}
}

// RecordSuccess clears the failure streak and closes a half-open
// circuit.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return
	}
	if c.state == StateHalfOpen {
		b.shift(c, key, StateClosed)
	}
	c.failures = 0
}

// RecordFailure extends the failure streak. Hitting the threshold, or
// failing the half-open probe, trips the circuit open.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{state: StateClosed}
		b.circuits[key] = c
	}

	c.failures++
	c.trippedAt = time.Now()

	switch {
	case c.state == StateHalfOpen:
		b.shift(c, key, StateOpen)
	case c.state == StateClosed && c.failures >= b.threshold:
		b.shift(c, key, StateOpen)
	}
}

// State returns the circuit position for key. Unknown keys are closed.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.circuits[key]; ok {
		return c.state
	}
	return StateClosed
}

// shift moves a circuit to a new state. Caller holds b.mu.
func (b *Breaker) shift(c *circuit, key string, to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	cbStateTransitions.WithLabelValues(key, from.String(), to.String()).Inc()
	if b.onTransition != nil {
		fn := b.onTransition
		go fn(key, from, to)
	}
}
