package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/Adam-Maverick/perks-app-sub000/internal/escrow"
	"github.com/Adam-Maverick/perks-app-sub000/internal/notify"
	"github.com/Adam-Maverick/perks-app-sub000/internal/payments"
	"github.com/Adam-Maverick/perks-app-sub000/internal/traces"
)

// DefaultReminderDays are the day marks, counted from the hold date,
// at which the paying user is reminded of the pending auto-release.
var DefaultReminderDays = []int{7, 12}

// ReminderReport summarizes one reminder run.
type ReminderReport struct {
	Sent   int       `json:"sent"`
	Failed int       `json:"failed"`
	RunAt  time.Time `json:"runAt"`
}

// Reminders notifies users whose holds are approaching auto-release.
// Selection is by calendar date: the day-7 reminder goes to every hold
// created exactly seven calendar days ago, so a hold gets each
// reminder at most once regardless of when in the day the job runs.
type Reminders struct {
	store     escrow.Store
	txns      payments.Store
	days      []int
	graceDays int
	logger    *slog.Logger
	emitter   *notify.Emitter
	mailer    notify.Mailer

	// sent records which (hold, day mark) reminders went out, so a
	// manual re-trigger on the same day cannot email a hold twice.
	mu   sync.Mutex
	sent map[string]bool
}

// NewReminders creates the reminder job.
func NewReminders(store escrow.Store, txns payments.Store, days []int, graceDays int,
	logger *slog.Logger, emitter *notify.Emitter, mailer notify.Mailer) *Reminders {
	if len(days) == 0 {
		days = DefaultReminderDays
	}
	if graceDays <= 0 {
		graceDays = DefaultGraceDays
	}
	return &Reminders{
		store:     store,
		txns:      txns,
		days:      days,
		graceDays: graceDays,
		logger:    logger,
		emitter:   emitter,
		mailer:    mailer,
		sent:      make(map[string]bool),
	}
}

func (j *Reminders) Name() string { return "release_reminders" }

func (j *Reminders) Run(ctx context.Context) (interface{}, error) {
	ctx, span := traces.StartSpan(ctx, "jobs.release_reminders", traces.JobName(j.Name()))
	defer span.End()

	now := time.Now().UTC()
	report := &ReminderReport{RunAt: now}

	for _, dayMark := range j.days {
		day := now.AddDate(0, 0, -dayMark)
		holds, err := j.store.ListHeldOnDay(ctx, day)
		if err != nil {
			return report, fmt.Errorf("listing holds for day -%d: %w", dayMark, err)
		}

		for _, h := range holds {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			if j.alreadySent(h.ID, dayMark) {
				continue
			}
			if err := j.remind(ctx, h, dayMark); err != nil {
				report.Failed++
				j.logger.Warn("reminder failed", "holdId", h.ID, "day", dayMark, "error", err)
				continue
			}
			j.markSent(h.ID, dayMark)
			report.Sent++
			remindersSent.WithLabelValues(strconv.Itoa(dayMark)).Inc()
		}
	}

	j.logger.Info("reminder run complete", "sent", report.Sent, "failed", report.Failed)
	return report, nil
}

func (j *Reminders) alreadySent(holdID string, dayMark int) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.sent[holdID+":"+strconv.Itoa(dayMark)]
}

func (j *Reminders) markSent(holdID string, dayMark int) {
	j.mu.Lock()
	j.sent[holdID+":"+strconv.Itoa(dayMark)] = true
	j.mu.Unlock()
}

func (j *Reminders) remind(ctx context.Context, h *escrow.Hold, dayMark int) error {
	txn, err := j.txns.Get(ctx, h.TransactionID)
	if err != nil {
		return err
	}

	daysLeft := j.graceDays - dayMark
	j.emitter.EmitReleaseReminder(txn.UserID, h, dayMark, daysLeft)

	// A user without an email address is a per-hold failure; escrow
	// state is never touched either way.
	if txn.UserEmail == "" {
		return notify.ErrNoRecipient
	}
	subject := fmt.Sprintf("Payment auto-releases in %d days", daysLeft)
	body := fmt.Sprintf(
		"Your payment of %d has been held for %d days and will be released to the merchant in %d days unless you open a dispute.",
		h.Amount, dayMark, daysLeft)
	return j.mailer.Send(ctx, txn.UserEmail, subject, body)
}
