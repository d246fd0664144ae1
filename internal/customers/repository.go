package customers

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/db"
)

const customerColumns = `id, name, contact, outstanding_credit, updated_at`

// BalanceStore implements TxRepository and the read side on PostgreSQL.
type BalanceStore struct {
	db db.DBTX
}

// NewBalanceStore binds the store to a pool or a transaction.
func NewBalanceStore(conn db.DBTX) *BalanceStore {
	return &BalanceStore{db: conn}
}

func scanCustomer(row pgx.Row) (Customer, error) {
	var c Customer
	err := row.Scan(&c.ID, &c.Name, &c.Contact, &c.OutstandingCredit, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Customer{}, ErrNotFound
	}
	return c, err
}

// Get loads one customer without locking.
func (s *BalanceStore) Get(ctx context.Context, id int64) (Customer, error) {
	c, err := scanCustomer(s.db.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Customer{}, fmt.Errorf("customers: get: %w", err)
	}
	return c, err
}

// List returns customers ordered by id.
func (s *BalanceStore) List(ctx context.Context, limit, offset int) ([]Customer, error) {
	rows, err := s.db.Query(ctx, `SELECT `+customerColumns+` FROM customers ORDER BY id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("customers: list: %w", err)
	}
	defer rows.Close()
	var out []Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListIDs returns every customer id.
func (s *BalanceStore) ListIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM customers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("customers: list ids: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LockCustomer selects the customer FOR UPDATE.
func (s *BalanceStore) LockCustomer(ctx context.Context, id int64) (Customer, error) {
	c, err := scanCustomer(s.db.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1 FOR UPDATE`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Customer{}, fmt.Errorf("customers: lock: %w", err)
	}
	return c, err
}

// UnpaidAmounts reads the unpaid balance of the customer's open invoices.
func (s *BalanceStore) UnpaidAmounts(ctx context.Context, customerID int64) ([]decimal.Decimal, error) {
	rows, err := s.db.Query(ctx, `SELECT unpaid_amount FROM invoices WHERE customer_id = $1 AND unpaid_amount > 0 ORDER BY created_at, id`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var amounts []decimal.Decimal
	for rows.Next() {
		var amount decimal.Decimal
		if err := rows.Scan(&amount); err != nil {
			return nil, err
		}
		amounts = append(amounts, amount)
	}
	return amounts, rows.Err()
}

// SetOutstandingCredit writes the cached credit balance.
func (s *BalanceStore) SetOutstandingCredit(ctx context.Context, id int64, credit decimal.Decimal) (bool, error) {
	tag, err := s.db.Exec(ctx, `UPDATE customers SET outstanding_credit = $2, updated_at = NOW() WHERE id = $1`, id, credit)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
