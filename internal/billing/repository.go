package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-pos/internal/customers"
	"github.com/odyssey-erp/odyssey-pos/internal/inventory"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/db"
)

const invoiceColumns = `id, invoice_number, customer_id, customer, cashier, line_items,
	product_subtotal, tax_amount, transport_charge, grand_total, paid_amount, unpaid_amount,
	status, payment_method, transaction_id, created_at, updated_at`

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool        *pgxpool.Pool
	maxAttempts int
}

// NewRepository creates repository. maxAttempts bounds serialization retries.
func NewRepository(pool *pgxpool.Pool, maxAttempts int) *Repository {
	return &Repository{pool: pool, maxAttempts: maxAttempts}
}

type txRepo struct {
	*inventory.StockStore
	*customers.BalanceStore
	db db.DBTX
}

// WithTx runs fn in a RepeatableRead transaction, retried on serialization
// failure.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxOptions(ctx, r.pool, db.TxOptions{MaxAttempts: r.maxAttempts}, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{
			StockStore:   inventory.NewStockStore(tx),
			BalanceStore: customers.NewBalanceStore(tx),
			db:           tx,
		})
	})
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row scanner) (Invoice, error) {
	var inv Invoice
	var customerID int64
	err := row.Scan(&inv.ID, &inv.Number, &customerID, &inv.Customer, &inv.Cashier, &inv.LineItems,
		&inv.ProductSubtotal, &inv.TaxAmount, &inv.TransportCharge, &inv.GrandTotal, &inv.PaidAmount, &inv.UnpaidAmount,
		&inv.Status, &inv.PaymentMethod, &inv.TransactionID, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return Invoice{}, err
	}
	if inv.Customer.ID == 0 {
		inv.Customer.ID = customerID
	}
	return inv, nil
}

func collectInvoices(rows pgx.Rows) ([]Invoice, error) {
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// ListUnpaidInvoices lists every invoice of the customer with an unpaid
// balance in settlement order.
func (r *Repository) ListUnpaidInvoices(ctx context.Context, customerID int64) ([]Invoice, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices
WHERE customer_id = $1 AND unpaid_amount > 0
ORDER BY created_at, id`, customerID)
	if err != nil {
		return nil, fmt.Errorf("billing: list unpaid invoices: %w", err)
	}
	return collectInvoices(rows)
}

// ListInvoices lists invoices matching the filter.
func (r *Repository) ListInvoices(ctx context.Context, filter ListFilter) ([]Invoice, error) {
	var (
		where []string
		args  []any
	)
	if filter.CustomerID > 0 {
		args = append(args, filter.CustomerID)
		where = append(where, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if filter.UnpaidOnly {
		where = append(where, "unpaid_amount > 0")
	}
	sql := `SELECT ` + invoiceColumns + ` FROM invoices`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	if filter.OldestFirst {
		sql += ` ORDER BY created_at, id`
	} else {
		sql += ` ORDER BY created_at DESC, id DESC`
	}
	args = append(args, filter.Limit, filter.Offset)
	sql += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("billing: list invoices: %w", err)
	}
	return collectInvoices(rows)
}

// GetInvoice loads an invoice by id.
func (r *Repository) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	inv, err := scanInvoice(r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, ErrInvoiceNotFound
	}
	if err != nil {
		return Invoice{}, fmt.Errorf("billing: get invoice: %w", err)
	}
	return inv, nil
}

// ListSettlements returns receipts with their allocation lines. customerID 0
// lists every customer.
func (r *Repository) ListSettlements(ctx context.Context, customerID int64, limit int) ([]Settlement, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, settlement_number, customer_id, cashier, amount, applied, remainder,
	payment_method, transaction_id, created_at
FROM settlements
WHERE ($1::bigint = 0 OR customer_id = $1)
ORDER BY created_at DESC, id DESC
LIMIT $2`, customerID, limit)
	if err != nil {
		return nil, fmt.Errorf("billing: list settlements: %w", err)
	}
	var (
		out   []Settlement
		ids   []int64
		index = map[int64]int{}
	)
	for rows.Next() {
		var st Settlement
		if err := rows.Scan(&st.ID, &st.Number, &st.CustomerID, &st.Cashier, &st.Amount, &st.Applied, &st.Remainder,
			&st.PaymentMethod, &st.TransactionID, &st.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		st.Allocations = []Allocation{}
		index[st.ID] = len(out)
		ids = append(ids, st.ID)
		out = append(out, st)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return out, nil
	}

	allocRows, err := r.pool.Query(ctx, `SELECT settlement_id, invoice_id, invoice_number, applied, balance_before, balance_after
FROM settlement_allocations WHERE settlement_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("billing: list allocations: %w", err)
	}
	defer allocRows.Close()
	for allocRows.Next() {
		var settlementID int64
		var a Allocation
		if err := allocRows.Scan(&settlementID, &a.InvoiceID, &a.InvoiceNumber, &a.Applied, &a.BalanceBefore, &a.BalanceAfter); err != nil {
			return nil, err
		}
		if i, ok := index[settlementID]; ok {
			out[i].Allocations = append(out[i].Allocations, a)
		}
	}
	return out, allocRows.Err()
}

// GetCustomer loads a customer outside any transaction.
func (r *Repository) GetCustomer(ctx context.Context, id int64) (customers.Customer, error) {
	return customers.NewBalanceStore(r.pool).Get(ctx, id)
}

// ListCustomerIDs returns every customer id.
func (r *Repository) ListCustomerIDs(ctx context.Context) ([]int64, error) {
	return customers.NewBalanceStore(r.pool).ListIDs(ctx)
}

func (t *txRepo) InvoiceNumberExists(ctx context.Context, number string) (bool, error) {
	var exists bool
	err := t.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM invoices WHERE invoice_number = $1)`, number).Scan(&exists)
	return exists, err
}

func (t *txRepo) InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	if inv.LineItems == nil {
		inv.LineItems = []LineItem{}
	}
	err := t.db.QueryRow(ctx, `INSERT INTO invoices (invoice_number, customer_id, customer, cashier, line_items,
	product_subtotal, tax_amount, transport_charge, grand_total, paid_amount, unpaid_amount,
	status, payment_method, transaction_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
RETURNING id`,
		inv.Number, inv.Customer.ID, inv.Customer, inv.Cashier, inv.LineItems,
		inv.ProductSubtotal, inv.TaxAmount, inv.TransportCharge, inv.GrandTotal, inv.PaidAmount, inv.UnpaidAmount,
		string(inv.Status), inv.PaymentMethod, inv.TransactionID, inv.CreatedAt, inv.UpdatedAt).Scan(&inv.ID)
	if db.IsUniqueViolation(err) {
		return Invoice{}, fmt.Errorf("%w: %s", ErrDuplicateInvoiceNumber, inv.Number)
	}
	if err != nil {
		return Invoice{}, fmt.Errorf("insert invoice: %w", err)
	}
	return inv, nil
}

func (t *txRepo) LockUnpaidInvoices(ctx context.Context, customerID int64, ids []int64) ([]Invoice, error) {
	var filter []int64
	if len(ids) > 0 {
		filter = ids
	}
	rows, err := t.db.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices
WHERE customer_id = $1 AND unpaid_amount > 0 AND ($2::bigint[] IS NULL OR id = ANY($2))
ORDER BY created_at, id
FOR UPDATE`, customerID, filter)
	if err != nil {
		return nil, err
	}
	return collectInvoices(rows)
}

func (t *txRepo) UpdateInvoicePayment(ctx context.Context, inv Invoice) error {
	tag, err := t.db.Exec(ctx, `UPDATE invoices
SET paid_amount = $2, unpaid_amount = $3, status = $4, payment_method = $5, transaction_id = $6, updated_at = $7
WHERE id = $1`,
		inv.ID, inv.PaidAmount, inv.UnpaidAmount, string(inv.Status), inv.PaymentMethod, inv.TransactionID, inv.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

func (t *txRepo) InsertSettlement(ctx context.Context, st Settlement) (Settlement, error) {
	err := t.db.QueryRow(ctx, `INSERT INTO settlements (settlement_number, customer_id, cashier, amount, applied, remainder,
	payment_method, transaction_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id`,
		st.Number, st.CustomerID, st.Cashier, st.Amount, st.Applied, st.Remainder,
		st.PaymentMethod, st.TransactionID, st.CreatedAt).Scan(&st.ID)
	if err != nil {
		return Settlement{}, err
	}
	for _, a := range st.Allocations {
		if _, err := t.db.Exec(ctx, `INSERT INTO settlement_allocations (settlement_id, invoice_id, invoice_number, applied, balance_before, balance_after)
VALUES ($1, $2, $3, $4, $5, $6)`,
			st.ID, a.InvoiceID, a.InvoiceNumber, a.Applied, a.BalanceBefore, a.BalanceAfter); err != nil {
			return Settlement{}, fmt.Errorf("insert allocation: %w", err)
		}
	}
	if st.Allocations == nil {
		st.Allocations = []Allocation{}
	}
	return st, nil
}
