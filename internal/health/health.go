// Package health runs named subsystem probes, such as the database
// ping and the payment gateway check, behind the readiness endpoint.
package health

import (
	"context"
	"sync"
)

// Status is the outcome of one probe.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker probes a single subsystem. Implementations should honor the
// context deadline; a hung database ping must not wedge readiness.
type Checker func(ctx context.Context) Status

type probe struct {
	name  string
	check Checker
}

// Registry holds the registered probes and runs them on demand.
type Registry struct {
	mu     sync.RWMutex
	probes []probe
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a probe under name. Probes run in registration order.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	r.probes = append(r.probes, probe{name: name, check: check})
	r.mu.Unlock()
}

// CheckAll runs every probe and reports whether all passed, along with
// the per-subsystem results. Probes registered while a run is in
// flight join the next run.
func (r *Registry) CheckAll(ctx context.Context) (bool, []Status) {
	r.mu.RLock()
	probes := make([]probe, len(r.probes))
	copy(probes, r.probes)
	r.mu.RUnlock()

	healthy := true
	statuses := make([]Status, 0, len(probes))
	for _, p := range probes {
		st := p.check(ctx)
		if !st.Healthy {
			healthy = false
		}
		statuses = append(statuses, st)
	}
	return healthy, statuses
}
