package payments

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/Adam-Maverick/perks-app-sub000/internal/escrow"
)

// PostgresStore persists transactions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed transaction store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const txnColumns = `id, user_id, user_email, merchant_id, amount, status, external_reference, escrow_hold_id, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, t *Transaction) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO transactions (`+txnColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.UserID, t.UserEmail, t.MerchantID, t.Amount, string(t.Status),
		t.ExternalReference, nullString(t.EscrowHoldID), t.CreatedAt, t.UpdatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return ErrDuplicateReference
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+txnColumns+` FROM transactions WHERE id = $1`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	return t, err
}

func (p *PostgresStore) GetByReference(ctx context.Context, reference string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+txnColumns+` FROM transactions WHERE external_reference = $1`, reference)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	return t, err
}

func (p *PostgresStore) SetStatus(ctx context.Context, id string, status Status) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE transactions SET status = $1, updated_at = NOW() WHERE id = $2`,
		string(status), id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// CompleteWithHold writes the completed transaction, the new hold, and
// the back-link in one database transaction. Either both rows land or
// neither does.
func (p *PostgresStore) CompleteWithHold(ctx context.Context, transactionID string, hold *escrow.Hold) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE transactions
		SET status = $1, escrow_hold_id = $2, updated_at = $3
		WHERE id = $4`,
		string(StatusCompleted), hold.ID, time.Now().UTC(), transactionID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTransactionNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO escrow_holds (id, transaction_id, merchant_id, amount, state, held_at, released_at, refunded_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULL, NULL, $7)`,
		hold.ID, hold.TransactionID, hold.MerchantID, hold.Amount,
		string(hold.State), hold.HeldAt, hold.UpdatedAt,
	); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return escrow.ErrHoldExists
		}
		return err
	}

	return tx.Commit()
}

func scanTransaction(s interface{ Scan(...interface{}) error }) (*Transaction, error) {
	t := &Transaction{}
	var (
		status string
		holdID sql.NullString
	)
	if err := s.Scan(&t.ID, &t.UserID, &t.UserEmail, &t.MerchantID, &t.Amount, &status,
		&t.ExternalReference, &holdID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Status = Status(status)
	t.EscrowHoldID = holdID.String
	return t, nil
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresMerchantStore persists merchants in PostgreSQL.
type PostgresMerchantStore struct {
	db *sql.DB
}

// NewPostgresMerchantStore creates a PostgreSQL-backed merchant store.
func NewPostgresMerchantStore(db *sql.DB) *PostgresMerchantStore {
	return &PostgresMerchantStore{db: db}
}

const merchantColumns = `id, name, email, recipient_code, account_name, account_number, bank_code, currency, created_at, updated_at`

func (p *PostgresMerchantStore) Get(ctx context.Context, id string) (*Merchant, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+merchantColumns+` FROM merchants WHERE id = $1`, id)

	m := &Merchant{}
	var recipientCode sql.NullString
	err := row.Scan(&m.ID, &m.Name, &m.Email, &recipientCode,
		&m.Bank.AccountName, &m.Bank.AccountNumber, &m.Bank.BankCode, &m.Bank.Currency,
		&m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMerchantNotFound
	}
	if err != nil {
		return nil, err
	}
	m.RecipientCode = recipientCode.String
	return m, nil
}

func (p *PostgresMerchantStore) Upsert(ctx context.Context, m *Merchant) error {
	if err := m.Bank.Validate(); err != nil {
		return err
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO merchants (`+merchantColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, email = EXCLUDED.email,
			account_name = EXCLUDED.account_name, account_number = EXCLUDED.account_number,
			bank_code = EXCLUDED.bank_code, currency = EXCLUDED.currency,
			updated_at = EXCLUDED.updated_at`,
		m.ID, m.Name, m.Email, nullString(m.RecipientCode),
		m.Bank.AccountName, m.Bank.AccountNumber, m.Bank.BankCode, m.Bank.Currency,
		m.CreatedAt, m.UpdatedAt,
	)
	return err
}

func (p *PostgresMerchantStore) SetRecipientCode(ctx context.Context, id, code string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE merchants SET recipient_code = $1, updated_at = NOW() WHERE id = $2`, code, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrMerchantNotFound
	}
	return nil
}

// Compile-time assertion that PostgresMerchantStore implements MerchantStore.
var _ MerchantStore = (*PostgresMerchantStore)(nil)
