package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adam-Maverick/perks-app-sub000/internal/escrow"
	"github.com/Adam-Maverick/perks-app-sub000/internal/notify"
	"github.com/Adam-Maverick/perks-app-sub000/internal/release"
	"github.com/Adam-Maverick/perks-app-sub000/internal/traces"
)

// DefaultGraceDays is how long a hold stays held before auto-release.
const DefaultGraceDays = 14

// autoReleaseBatch bounds one run; anything left over is picked up by
// the next run.
const autoReleaseBatch = 500

// AutoReleaseReport summarizes one auto-release run.
type AutoReleaseReport struct {
	Eligible int       `json:"eligible"`
	Released int       `json:"released"`
	Failed   int       `json:"failed"`
	Cutoff   time.Time `json:"cutoff"`
	RunAt    time.Time `json:"runAt"`
}

// AutoRelease releases every hold older than the grace period.
type AutoRelease struct {
	store     escrow.Store
	releaser  *release.Releaser
	graceDays int
	logger    *slog.Logger
	emitter   *notify.Emitter
}

// NewAutoRelease creates the auto-release job.
func NewAutoRelease(store escrow.Store, releaser *release.Releaser, graceDays int,
	logger *slog.Logger, emitter *notify.Emitter) *AutoRelease {
	if graceDays <= 0 {
		graceDays = DefaultGraceDays
	}
	return &AutoRelease{
		store:     store,
		releaser:  releaser,
		graceDays: graceDays,
		logger:    logger,
		emitter:   emitter,
	}
}

func (j *AutoRelease) Name() string { return "auto_release" }

// Run releases eligible holds one at a time. A hold that fails stays
// HELD and is retried on the next run; one bad hold never blocks the
// rest of the batch.
func (j *AutoRelease) Run(ctx context.Context) (interface{}, error) {
	ctx, span := traces.StartSpan(ctx, "jobs.auto_release", traces.JobName(j.Name()))
	defer span.End()

	now := time.Now().UTC()
	cutoff := now.Add(-time.Duration(j.graceDays) * 24 * time.Hour)

	holds, err := j.store.ListHeldBefore(ctx, cutoff, autoReleaseBatch)
	if err != nil {
		return nil, fmt.Errorf("listing expired holds: %w", err)
	}

	report := &AutoReleaseReport{Eligible: len(holds), Cutoff: cutoff, RunAt: now}
	reason := fmt.Sprintf("auto-release after %d days", j.graceDays)

	for _, h := range holds {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if _, err := j.releaser.Release(ctx, h.ID, escrow.SystemActor, reason, true); err != nil {
			report.Failed++
			holdsReleaseFailed.Inc()
			j.logger.Error("auto-release failed", "holdId", h.ID, "error", err)
			continue
		}
		report.Released++
		holdsAutoReleased.Inc()
	}

	if report.Failed > 0 {
		j.emitter.EmitOperatorAlert("auto-release failures",
			fmt.Sprintf("%d of %d eligible holds failed to release", report.Failed, report.Eligible))
	}

	j.logger.Info("auto-release run complete",
		"eligible", report.Eligible, "released", report.Released, "failed", report.Failed)
	return report, nil
}
