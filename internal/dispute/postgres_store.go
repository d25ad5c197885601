package dispute

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Adam-Maverick/perks-app-sub000/internal/escrow"
	"github.com/Adam-Maverick/perks-app-sub000/internal/pagination"
)

// PostgresStore persists disputes in PostgreSQL.
type PostgresStore struct {
	db    *sql.DB
	holds *escrow.PostgresStore
}

// NewPostgresStore creates a PostgreSQL-backed dispute store. The
// escrow store shares the same database and lends its row-locked
// transition to OpenAtomic.
func NewPostgresStore(db *sql.DB, holds *escrow.PostgresStore) *PostgresStore {
	return &PostgresStore{db: db, holds: holds}
}

const disputeColumns = `id, hold_id, transaction_id, user_id, merchant_id, reason, evidence, status, resolved_by, resolution_notes, created_at, updated_at, resolved_at`

func (p *PostgresStore) Create(ctx context.Context, d *Dispute) error {
	evidence, err := json.Marshal(d.Evidence)
	if err != nil {
		return err
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO disputes (id, hold_id, transaction_id, user_id, merchant_id, reason, evidence, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, d.HoldID, d.TransactionID, d.UserID, d.MerchantID,
		d.Reason, evidence, string(d.Status), d.CreatedAt, d.UpdatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return ErrDisputeExists
	}
	return err
}

// OpenAtomic locks the hold row, moves it HELD→DISPUTED, and inserts
// the dispute, all in one transaction. A hold that already left HELD
// or already has a dispute rolls the whole thing back.
func (p *PostgresStore) OpenAtomic(ctx context.Context, d *Dispute) (*escrow.AuditEntry, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var entry *escrow.AuditEntry
	apply := escrow.NewTransition(escrow.StateDisputed, d.UserID, d.Reason)
	err = p.holds.TransitionInTx(ctx, tx, d.HoldID, func(h *escrow.Hold) (*escrow.AuditEntry, error) {
		// Opening requires HELD; a self-transition no-op would let a
		// dispute land on a hold that is already frozen.
		if h.State != escrow.StateHeld {
			return nil, &escrow.InvalidTransitionError{From: h.State, To: escrow.StateDisputed}
		}
		e, applyErr := apply(h)
		entry = e
		return e, applyErr
	})
	if err != nil {
		return nil, err
	}

	evidence, err := json.Marshal(d.Evidence)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO disputes (id, hold_id, transaction_id, user_id, merchant_id, reason, evidence, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, d.HoldID, d.TransactionID, d.UserID, d.MerchantID,
		d.Reason, evidence, string(d.Status), d.CreatedAt, d.UpdatedAt,
	); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return nil, ErrDisputeExists
		}
		return nil, err
	}

	return entry, tx.Commit()
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Dispute, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id)
	d, err := scanDispute(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDisputeNotFound
	}
	return d, err
}

func (p *PostgresStore) GetByHold(ctx context.Context, holdID string) (*Dispute, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE hold_id = $1`, holdID)
	d, err := scanDispute(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDisputeNotFound
	}
	return d, err
}

func (p *PostgresStore) List(ctx context.Context, status Status, cursor *pagination.Cursor, limit int) ([]*Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes`
	var conds []string
	var args []interface{}
	if status != "" {
		args = append(args, string(status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if cursor != nil {
		args = append(args, cursor.CreatedAt, cursor.ID)
		conds = append(conds, fmt.Sprintf("(created_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Update(ctx context.Context, d *Dispute) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE disputes SET
			status = $1, resolved_by = $2, resolution_notes = $3,
			updated_at = $4, resolved_at = $5
		WHERE id = $6`,
		string(d.Status), nullString(d.ResolvedBy), nullString(d.ResolutionNotes),
		d.UpdatedAt, nullTime(d.ResolvedAt), d.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrDisputeNotFound
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM disputes WHERE id = $1`, id)
	return err
}

func scanDispute(s interface{ Scan(...interface{}) error }) (*Dispute, error) {
	d := &Dispute{}
	var (
		evidence   []byte
		status     string
		resolvedBy sql.NullString
		notes      sql.NullString
		resolvedAt sql.NullTime
	)
	if err := s.Scan(&d.ID, &d.HoldID, &d.TransactionID, &d.UserID, &d.MerchantID,
		&d.Reason, &evidence, &status, &resolvedBy, &notes,
		&d.CreatedAt, &d.UpdatedAt, &resolvedAt); err != nil {
		return nil, err
	}
	if len(evidence) > 0 {
		if err := json.Unmarshal(evidence, &d.Evidence); err != nil {
			return nil, err
		}
	}
	d.Status = Status(status)
	d.ResolvedBy = resolvedBy.String
	d.ResolutionNotes = notes.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		d.ResolvedAt = &t
	}
	return d, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Compile-time assertions.
var (
	_ Store        = (*PostgresStore)(nil)
	_ AtomicOpener = (*PostgresStore)(nil)
)
