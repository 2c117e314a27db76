package employee

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Directory resolves employees by id. GetMany silently omits unknown ids and
// preserves the order of the ones it finds.
type Directory interface {
	Get(ctx context.Context, id string) (Employee, error)
	GetMany(ctx context.Context, ids []string) ([]Employee, error)
}

// PostgresDirectory reads employees from PostgreSQL.
type PostgresDirectory struct {
	db *pgxpool.Pool
}

// NewPostgresDirectory builds a directory backed by PostgreSQL.
func NewPostgresDirectory(db *pgxpool.Pool) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

const selectEmployee = `SELECT id, first_name, last_name, wallet_address, salary_amount::text, salary_asset, network, status
    FROM employees`

// Get fetches one employee.
func (d *PostgresDirectory) Get(ctx context.Context, id string) (Employee, error) {
	row := d.db.QueryRow(ctx, selectEmployee+` WHERE id = $1`, id)
	e, err := scanEmployee(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Employee{}, fmt.Errorf("employee %s: %w", id, ErrNotFound)
		}
		return Employee{}, err
	}
	return e, nil
}

// GetMany fetches every employee whose id appears in ids.
func (d *PostgresDirectory) GetMany(ctx context.Context, ids []string) ([]Employee, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := d.db.Query(ctx, selectEmployee+` WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[string]Employee, len(ids))
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		byID[e.ID] = e
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Employee, 0, len(byID))
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func scanEmployee(row pgx.Row) (Employee, error) {
	var e Employee
	var salary string
	if err := row.Scan(&e.ID, &e.FirstName, &e.LastName, &e.WalletAddress, &salary, &e.SalaryAsset, &e.Network, &e.Status); err != nil {
		return Employee{}, err
	}
	amount, err := decimal.NewFromString(salary)
	if err != nil {
		return Employee{}, fmt.Errorf("employee %s: salary %q: %w", e.ID, salary, err)
	}
	e.SalaryAmount = amount
	return e, nil
}
