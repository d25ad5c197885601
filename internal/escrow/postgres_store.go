package escrow

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists holds and audit entries in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed escrow store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const holdColumns = `id, transaction_id, merchant_id, amount, state, held_at, released_at, refunded_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, h *Hold) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO escrow_holds (`+holdColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		h.ID, h.TransactionID, h.MerchantID, h.Amount, string(h.State),
		h.HeldAt, nullTime(h.ReleasedAt), nullTime(h.RefundedAt), h.UpdatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return ErrHoldExists
	}
	if err == nil {
		holdsCreatedTotal.Inc()
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Hold, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+holdColumns+` FROM escrow_holds WHERE id = $1`, id)
	h, err := scanHold(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrHoldNotFound
	}
	return h, err
}

func (p *PostgresStore) GetByTransaction(ctx context.Context, transactionID string) (*Hold, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+holdColumns+` FROM escrow_holds WHERE transaction_id = $1`, transactionID)
	h, err := scanHold(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrHoldNotFound
	}
	return h, err
}

// Transition locks the hold row, applies the mutation, and commits the
// state update together with its audit entry. SELECT ... FOR UPDATE
// serializes concurrent transitions on the same hold so the validity
// check never runs against stale state.
func (p *PostgresStore) Transition(ctx context.Context, id string, apply func(h *Hold) (*AuditEntry, error)) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := p.TransitionInTx(ctx, tx, id, apply); err != nil {
		return err
	}
	return tx.Commit()
}

// TransitionInTx applies a transition inside the caller's transaction,
// with the same row locking as Transition. The caller owns commit and
// rollback; sibling stores use this to make a hold transition and
// their own writes one atomic unit.
func (p *PostgresStore) TransitionInTx(ctx context.Context, tx *sql.Tx, id string, apply func(h *Hold) (*AuditEntry, error)) error {
	row := tx.QueryRowContext(ctx, `SELECT `+holdColumns+` FROM escrow_holds WHERE id = $1 FOR UPDATE`, id)
	h, err := scanHold(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrHoldNotFound
	}
	if err != nil {
		return err
	}

	entry, err := apply(h)
	if err != nil {
		return err
	}
	if entry == nil {
		// Idempotent no-op: nothing to write.
		return nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE escrow_holds
		SET state = $1, released_at = $2, refunded_at = $3, updated_at = $4
		WHERE id = $5`,
		string(h.State), nullTime(h.ReleasedAt), nullTime(h.RefundedAt), h.UpdatedAt, h.ID,
	); err != nil {
		return err
	}

	return tx.QueryRowContext(ctx, `
		INSERT INTO escrow_audit_log (hold_id, from_state, to_state, actor_id, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		entry.HoldID, string(entry.FromState), string(entry.ToState),
		entry.ActorID, entry.Reason, entry.CreatedAt,
	).Scan(&entry.ID)
}

func (p *PostgresStore) ListHeldBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Hold, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+holdColumns+`
		FROM escrow_holds
		WHERE state = $1 AND held_at < $2
		ORDER BY held_at
		LIMIT $3`, string(StateHeld), cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanHolds(rows)
}

func (p *PostgresStore) ListHeldOnDay(ctx context.Context, day time.Time) ([]*Hold, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)

	rows, err := p.db.QueryContext(ctx, `
		SELECT `+holdColumns+`
		FROM escrow_holds
		WHERE state = $1 AND held_at >= $2 AND held_at < $3
		ORDER BY held_at`, string(StateHeld), start, end)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanHolds(rows)
}

func (p *PostgresStore) SumHeld(ctx context.Context) (int64, error) {
	var total int64
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM escrow_holds WHERE state = $1`,
		string(StateHeld),
	).Scan(&total)
	return total, err
}

func (p *PostgresStore) ListAudit(ctx context.Context, holdID string, limit int) ([]*AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, hold_id, from_state, to_state, actor_id, reason, created_at
		FROM escrow_audit_log
		WHERE hold_id = $1
		ORDER BY created_at, id
		LIMIT $2`, holdID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*AuditEntry
	for rows.Next() {
		e := &AuditEntry{}
		var from, to string
		if err := rows.Scan(&e.ID, &e.HoldID, &from, &to, &e.ActorID, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.FromState = State(from)
		e.ToState = State(to)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanHold(s scanner) (*Hold, error) {
	h := &Hold{}
	var (
		state      string
		releasedAt sql.NullTime
		refundedAt sql.NullTime
	)
	if err := s.Scan(&h.ID, &h.TransactionID, &h.MerchantID, &h.Amount,
		&state, &h.HeldAt, &releasedAt, &refundedAt, &h.UpdatedAt); err != nil {
		return nil, err
	}
	h.State = State(state)
	if releasedAt.Valid {
		h.ReleasedAt = &releasedAt.Time
	}
	if refundedAt.Valid {
		h.RefundedAt = &refundedAt.Time
	}
	return h, nil
}

func scanHolds(rows *sql.Rows) ([]*Hold, error) {
	var result []*Hold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, h)
	}
	return result, rows.Err()
}

// nullTime converts a *time.Time to sql.NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
