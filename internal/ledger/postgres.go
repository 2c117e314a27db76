package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

// PostgresStore persists ledger entries in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed ledger store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// AppendWithdrawal inserts a withdrawal; a repeated (network, tx hash, reference) yields ErrDuplicateEntry.
func (s *PostgresStore) AppendWithdrawal(ctx context.Context, w Withdrawal) error {
	if err := w.Validate(); err != nil {
		return err
	}
	id, err := uuid.Parse(w.ID)
	if err != nil {
		return fmt.Errorf("%w: id: %v", ErrInvalidEntry, err)
	}
	_, err = s.db.Exec(ctx, `INSERT INTO withdrawals
        (id, network, asset, amount, tx_hash, recipient, kind, actor, payment_id, batch_id, confirmed_at, created_at)
        VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, $11, $12)`,
		id, w.Network, w.Asset, w.Amount.String(), w.TxHash, w.Recipient, w.Kind, w.Actor,
		nullUUID(w.PaymentID), nullUUID(w.BatchID), w.ConfirmedAt.UTC(), w.CreatedAt.UTC())
	return translate(err)
}

// AppendDeposit inserts a deposit; a repeated (network, tx hash) yields ErrDuplicateEntry.
func (s *PostgresStore) AppendDeposit(ctx context.Context, d Deposit) error {
	if err := d.Validate(); err != nil {
		return err
	}
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return fmt.Errorf("%w: id: %v", ErrInvalidEntry, err)
	}
	_, err = s.db.Exec(ctx, `INSERT INTO deposits
        (id, network, asset, amount, tx_hash, deposited_by, confirmed_at, created_at)
        VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)`,
		id, d.Network, d.Asset, d.Amount.String(), d.TxHash, d.DepositedBy, d.ConfirmedAt.UTC(), d.CreatedAt.UTC())
	return translate(err)
}

// Withdrawals lists withdrawals newest first.
func (s *PostgresStore) Withdrawals(ctx context.Context, f Filter) ([]Withdrawal, error) {
	where, args := f.where(true)
	query := `SELECT id, network, asset, amount::text, tx_hash, recipient, kind, actor,
        COALESCE(payment_id::text, ''), COALESCE(batch_id::text, ''), confirmed_at, created_at
        FROM withdrawals` + where + ` ORDER BY confirmed_at DESC` + f.limitClause()
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Withdrawal, 0)
	for rows.Next() {
		var w Withdrawal
		var id uuid.UUID
		var amount string
		if err := rows.Scan(&id, &w.Network, &w.Asset, &amount, &w.TxHash, &w.Recipient, &w.Kind, &w.Actor,
			&w.PaymentID, &w.BatchID, &w.ConfirmedAt, &w.CreatedAt); err != nil {
			return nil, err
		}
		if w.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		w.ID = id.String()
		w.ConfirmedAt = w.ConfirmedAt.UTC()
		w.CreatedAt = w.CreatedAt.UTC()
		out = append(out, w)
	}
	return out, rows.Err()
}

// Deposits lists deposits newest first.
func (s *PostgresStore) Deposits(ctx context.Context, f Filter) ([]Deposit, error) {
	where, args := f.where(false)
	query := `SELECT id, network, asset, amount::text, tx_hash, deposited_by, confirmed_at, created_at
        FROM deposits` + where + ` ORDER BY confirmed_at DESC` + f.limitClause()
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Deposit, 0)
	for rows.Next() {
		var d Deposit
		var id uuid.UUID
		var amount string
		if err := rows.Scan(&id, &d.Network, &d.Asset, &amount, &d.TxHash, &d.DepositedBy, &d.ConfirmedAt, &d.CreatedAt); err != nil {
			return nil, err
		}
		if d.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		d.ID = id.String()
		d.ConfirmedAt = d.ConfirmedAt.UTC()
		d.CreatedAt = d.CreatedAt.UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

// Totals sums deposits and withdrawals inside one repeatable-read snapshot.
func (s *PostgresStore) Totals(ctx context.Context, network, asset string) (Totals, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return Totals{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	var deposited, withdrawn string
	if err := tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0)::text FROM deposits WHERE network = $1 AND asset = $2`,
		network, asset).Scan(&deposited); err != nil {
		return Totals{}, err
	}
	if err := tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0)::text FROM withdrawals WHERE network = $1 AND asset = $2`,
		network, asset).Scan(&withdrawn); err != nil {
		return Totals{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Totals{}, err
	}

	var t Totals
	if t.Deposited, err = decimal.NewFromString(deposited); err != nil {
		return Totals{}, err
	}
	if t.Withdrawn, err = decimal.NewFromString(withdrawn); err != nil {
		return Totals{}, err
	}
	return t, nil
}

func (f Filter) where(withKind bool) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.Network != "" {
		add("network = $%d", strings.ToUpper(f.Network))
	}
	if f.Asset != "" {
		add("asset = $%d", strings.ToUpper(f.Asset))
	}
	if withKind && f.Kind != "" {
		add("kind = $%d", strings.ToUpper(f.Kind))
	}
	if !f.From.IsZero() {
		add("confirmed_at >= $%d", f.From.UTC())
	}
	if !f.To.IsZero() {
		add("confirmed_at <= $%d", f.To.UTC())
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (f Filter) limitClause() string {
	var b strings.Builder
	if f.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", f.Limit)
	}
	if f.Offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", f.Offset)
	}
	return b.String()
}

func nullUUID(id string) any {
	if id == "" {
		return nil
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return id
	}
	return parsed
}

func translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateEntry
	}
	return err
}
