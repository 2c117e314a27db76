package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Filter narrows payment listings. Zero values match everything.
type Filter struct {
	Status     string
	Network    string
	EmployeeID string
	BatchID    string
	Limit      int
	Offset     int
}

// Mutation edits a payment and, when it belongs to one, its batch. b is nil
// for standalone payments.
type Mutation func(p *Payment, b *Batch) error

// Repository persists payments and batches.
type Repository interface {
	CreatePayment(ctx context.Context, p Payment) error
	// CreateBatch stores the batch with all its members or nothing.
	CreateBatch(ctx context.Context, b Batch, members []Payment) error
	GetPayment(ctx context.Context, id string) (Payment, error)
	GetBatch(ctx context.Context, id string) (Batch, error)
	ListPayments(ctx context.Context, f Filter) ([]Payment, error)
	// BatchPayments returns members in creation order.
	BatchPayments(ctx context.Context, batchID string) ([]Payment, error)
	// UpdatePayment applies fn to the current rows and persists both under
	// one lock. If fn fails nothing is written.
	UpdatePayment(ctx context.Context, id string, fn Mutation) (Payment, *Batch, error)
}

// PostgresRepository stores payments in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const insertPayment = `INSERT INTO payments
    (id, employee_id, wallet_address, amount, asset, network, status, batch_id, tx_hash, block_number,
     gas_used, failure_reason, completed_at, created_at, updated_at)
    VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

const selectPayment = `SELECT id, employee_id, wallet_address, amount::text, asset, network, status,
    COALESCE(batch_id::text, ''), tx_hash, block_number, gas_used, failure_reason, completed_at, created_at, updated_at
    FROM payments`

const selectBatch = `SELECT id, total_amount::text, asset, network, member_count, success_count, failure_count,
    status, created_by, completed_at, created_at, updated_at
    FROM batches`

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertPaymentRow(ctx context.Context, db execer, p Payment) error {
	id, err := uuid.Parse(p.ID)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, insertPayment, id, p.EmployeeID, p.WalletAddress, p.Amount.String(), p.Asset, p.Network,
		p.Status, nullUUID(p.BatchID), p.TxHash, int64(p.BlockNumber), p.GasUsed, p.FailureReason,
		nullTime(p.CompletedAt), p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	return err
}

// CreatePayment inserts a standalone payment.
func (r *PostgresRepository) CreatePayment(ctx context.Context, p Payment) error {
	return insertPaymentRow(ctx, r.db, p)
}

// CreateBatch inserts the batch and its members in one transaction.
func (r *PostgresRepository) CreateBatch(ctx context.Context, b Batch, members []Payment) error {
	id, err := uuid.Parse(b.ID)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx, `INSERT INTO batches
        (id, total_amount, asset, network, member_count, success_count, failure_count, status, created_by,
         completed_at, created_at, updated_at)
        VALUES ($1, $2::numeric, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		id, b.TotalAmount.String(), b.Asset, b.Network, b.MemberCount, b.SuccessCount, b.FailureCount,
		b.Status, b.CreatedBy, nullTime(b.CompletedAt), b.CreatedAt.UTC(), b.UpdatedAt.UTC()); err != nil {
		return err
	}
	for _, p := range members {
		if err := insertPaymentRow(ctx, tx, p); err != nil {
			return fmt.Errorf("insert batch member %s: %w", p.ID, err)
		}
	}
	return tx.Commit(ctx)
}

// GetPayment fetches one payment.
func (r *PostgresRepository) GetPayment(ctx context.Context, id string) (Payment, error) {
	pid, err := uuid.Parse(id)
	if err != nil {
		return Payment{}, fmt.Errorf("payment %s: %w", id, ErrNotFound)
	}
	p, err := scanPayment(r.db.QueryRow(ctx, selectPayment+` WHERE id = $1`, pid))
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, fmt.Errorf("payment %s: %w", id, ErrNotFound)
	}
	return p, err
}

// GetBatch fetches one batch.
func (r *PostgresRepository) GetBatch(ctx context.Context, id string) (Batch, error) {
	bid, err := uuid.Parse(id)
	if err != nil {
		return Batch{}, fmt.Errorf("batch %s: %w", id, ErrNotFound)
	}
	b, err := scanBatch(r.db.QueryRow(ctx, selectBatch+` WHERE id = $1`, bid))
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, fmt.Errorf("batch %s: %w", id, ErrNotFound)
	}
	return b, err
}

// ListPayments lists payments newest first.
func (r *PostgresRepository) ListPayments(ctx context.Context, f Filter) ([]Payment, error) {
	var clauses []string
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Network != "" {
		add("network = $%d", f.Network)
	}
	if f.EmployeeID != "" {
		add("employee_id = $%d", f.EmployeeID)
	}
	if f.BatchID != "" {
		bid, err := uuid.Parse(f.BatchID)
		if err != nil {
			return []Payment{}, nil
		}
		add("batch_id = $%d", bid)
	}
	query := selectPayment
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, seq DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", f.Offset)
	}
	return r.queryPayments(ctx, query, args...)
}

// BatchPayments returns a batch's members in creation order.
func (r *PostgresRepository) BatchPayments(ctx context.Context, batchID string) ([]Payment, error) {
	bid, err := uuid.Parse(batchID)
	if err != nil {
		return nil, fmt.Errorf("batch %s: %w", batchID, ErrNotFound)
	}
	return r.queryPayments(ctx, selectPayment+` WHERE batch_id = $1 ORDER BY seq`, bid)
}

func (r *PostgresRepository) queryPayments(ctx context.Context, query string, args ...any) ([]Payment, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Payment, 0)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdatePayment locks the payment row (and its batch row) FOR UPDATE, applies
// fn and writes both back.
func (r *PostgresRepository) UpdatePayment(ctx context.Context, id string, fn Mutation) (Payment, *Batch, error) {
	pid, err := uuid.Parse(id)
	if err != nil {
		return Payment{}, nil, fmt.Errorf("payment %s: %w", id, ErrNotFound)
	}
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Payment{}, nil, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	p, err := scanPayment(tx.QueryRow(ctx, selectPayment+` WHERE id = $1 FOR UPDATE`, pid))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, nil, fmt.Errorf("payment %s: %w", id, ErrNotFound)
		}
		return Payment{}, nil, err
	}

	var batch *Batch
	if p.BatchID != "" {
		b, err := scanBatch(tx.QueryRow(ctx, selectBatch+` WHERE id = $1 FOR UPDATE`, uuid.MustParse(p.BatchID)))
		if err != nil {
			return Payment{}, nil, fmt.Errorf("lock batch %s: %w", p.BatchID, err)
		}
		batch = &b
	}

	if err := fn(&p, batch); err != nil {
		return Payment{}, nil, err
	}

	if _, err := tx.Exec(ctx, `UPDATE payments SET status = $2, tx_hash = $3, block_number = $4, gas_used = $5,
        failure_reason = $6, completed_at = $7, updated_at = $8 WHERE id = $1`,
		pid, p.Status, p.TxHash, int64(p.BlockNumber), p.GasUsed, p.FailureReason, nullTime(p.CompletedAt), p.UpdatedAt.UTC()); err != nil {
		return Payment{}, nil, err
	}
	if batch != nil {
		if _, err := tx.Exec(ctx, `UPDATE batches SET success_count = $2, failure_count = $3, status = $4,
            completed_at = $5, updated_at = $6 WHERE id = $1`,
			uuid.MustParse(batch.ID), batch.SuccessCount, batch.FailureCount, batch.Status, nullTime(batch.CompletedAt), batch.UpdatedAt.UTC()); err != nil {
			return Payment{}, nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Payment{}, nil, err
	}
	return p, batch, nil
}

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	var id uuid.UUID
	var amount string
	var block int64
	var completed *time.Time
	if err := row.Scan(&id, &p.EmployeeID, &p.WalletAddress, &amount, &p.Asset, &p.Network, &p.Status, &p.BatchID,
		&p.TxHash, &block, &p.GasUsed, &p.FailureReason, &completed, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Payment{}, err
	}
	value, err := decimal.NewFromString(amount)
	if err != nil {
		return Payment{}, err
	}
	p.ID = id.String()
	p.Amount = value
	p.BlockNumber = uint64(block)
	if completed != nil {
		p.CompletedAt = completed.UTC()
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	var id uuid.UUID
	var total string
	var completed *time.Time
	if err := row.Scan(&id, &total, &b.Asset, &b.Network, &b.MemberCount, &b.SuccessCount, &b.FailureCount,
		&b.Status, &b.CreatedBy, &completed, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return Batch{}, err
	}
	value, err := decimal.NewFromString(total)
	if err != nil {
		return Batch{}, err
	}
	b.ID = id.String()
	b.TotalAmount = value
	if completed != nil {
		b.CompletedAt = completed.UTC()
	}
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return b, nil
}

func nullUUID(id string) any {
	if id == "" {
		return nil
	}
	return uuid.MustParse(id)
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
