package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Adam-Maverick/perks-app-sub000/internal/escrow"
	"github.com/Adam-Maverick/perks-app-sub000/internal/metrics"
	"github.com/Adam-Maverick/perks-app-sub000/internal/notify"
	"github.com/Adam-Maverick/perks-app-sub000/internal/settlement"
	"github.com/Adam-Maverick/perks-app-sub000/internal/traces"
)

// ReconciliationReport compares the internal held total against the
// gateway balance. Discrepancy is signed: positive means the ledger
// believes it holds more than the gateway does.
type ReconciliationReport struct {
	InternalTotal int64     `json:"internalTotal"`
	ExternalTotal int64     `json:"externalTotal"`
	Discrepancy   int64     `json:"discrepancy"`
	Match         bool      `json:"match"`
	RunAt         time.Time `json:"runAt"`
}

// Reconciliation sums HELD amounts and checks them against the
// settlement gateway's balance.
type Reconciliation struct {
	store   escrow.Store
	gateway settlement.Gateway
	logger  *slog.Logger
	emitter *notify.Emitter

	mu   sync.RWMutex
	last *ReconciliationReport
}

// NewReconciliation creates the reconciliation job.
func NewReconciliation(store escrow.Store, gateway settlement.Gateway,
	logger *slog.Logger, emitter *notify.Emitter) *Reconciliation {
	return &Reconciliation{
		store:   store,
		gateway: gateway,
		logger:  logger,
		emitter: emitter,
	}
}

func (j *Reconciliation) Name() string { return "reconciliation" }

// Run is fatal on a gateway error: a report built from a failed balance
// read would be noise, so none is produced.
func (j *Reconciliation) Run(ctx context.Context) (interface{}, error) {
	ctx, span := traces.StartSpan(ctx, "jobs.reconciliation", traces.JobName(j.Name()))
	defer span.End()

	internal, err := j.store.SumHeld(ctx)
	if err != nil {
		return nil, fmt.Errorf("summing held amounts: %w", err)
	}

	external, err := j.gateway.Balance(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading gateway balance: %w", err)
	}

	report := &ReconciliationReport{
		InternalTotal: internal,
		ExternalTotal: external,
		Discrepancy:   internal - external,
		Match:         internal == external,
		RunAt:         time.Now().UTC(),
	}

	j.mu.Lock()
	j.last = report
	j.mu.Unlock()

	metrics.HeldAmount.Set(float64(report.InternalTotal))
	reconciliationDiscrepancy.Set(float64(report.Discrepancy))
	j.emitter.EmitReconciliationReport(report.InternalTotal, report.ExternalTotal, report.Discrepancy, report.Match)

	if !report.Match {
		reconciliationMismatches.Inc()
		j.logger.Error("reconciliation mismatch",
			"internal", report.InternalTotal,
			"external", report.ExternalTotal,
			"discrepancy", report.Discrepancy,
		)
		j.emitter.EmitOperatorAlert("reconciliation mismatch",
			fmt.Sprintf("held total %d vs gateway balance %d (discrepancy %d)",
				report.InternalTotal, report.ExternalTotal, report.Discrepancy))
	} else {
		j.logger.Info("reconciliation matched", "total", report.InternalTotal)
	}

	return report, nil
}

// LastReport returns the most recent report, or nil before the first
// completed run.
func (j *Reconciliation) LastReport() *ReconciliationReport {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.last == nil {
		return nil
	}
	cp := *j.last
	return &cp
}
