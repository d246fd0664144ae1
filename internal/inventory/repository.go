package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/db"
)

// StockStore implements TxRepository on top of PostgreSQL.
type StockStore struct {
	db db.DBTX
}

// NewStockStore binds the store to a pool or a transaction.
func NewStockStore(conn db.DBTX) *StockStore {
	return &StockStore{db: conn}
}

// FindProduct matches by code first, then by case-insensitive name.
func (s *StockStore) FindProduct(ctx context.Context, name, code string) (Product, error) {
	name = strings.TrimSpace(name)
	code = strings.TrimSpace(code)
	if name == "" && code == "" {
		return Product{}, ErrProductNotFound
	}
	const sql = `SELECT code, name, base_unit, conversion_rate
FROM products
WHERE ($1 <> '' AND code = $1) OR ($2 <> '' AND LOWER(name) = LOWER($2))
ORDER BY (code = $1) DESC, code
LIMIT 1`
	var p Product
	err := s.db.QueryRow(ctx, sql, code, name).Scan(&p.Code, &p.Name, &p.BaseUnit, &p.ConversionRate)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	if err != nil {
		return Product{}, fmt.Errorf("inventory: query product: %w", err)
	}
	return p, nil
}

// GetStockForUpdate locks the stock row of a product.
func (s *StockStore) GetStockForUpdate(ctx context.Context, productCode string) (StockRecord, error) {
	const sql = `SELECT product_code, available_quantity, base_unit, updated_at
FROM stock WHERE product_code = $1 FOR UPDATE`
	var rec StockRecord
	err := s.db.QueryRow(ctx, sql, productCode).Scan(&rec.ProductCode, &rec.AvailableQuantity, &rec.BaseUnit, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return StockRecord{}, ErrStockNotFound
	}
	if err != nil {
		return StockRecord{}, fmt.Errorf("inventory: lock stock: %w", err)
	}
	return rec, nil
}

// UpdateStock writes the new available quantity.
func (s *StockStore) UpdateStock(ctx context.Context, stock StockRecord) error {
	tag, err := s.db.Exec(ctx, `UPDATE stock SET available_quantity = $2, updated_at = $3 WHERE product_code = $1`,
		stock.ProductCode, stock.AvailableQuantity, stock.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStockNotFound
	}
	return nil
}

// InsertMovement appends a stock journal row.
func (s *StockStore) InsertMovement(ctx context.Context, m Movement) error {
	_, err := s.db.Exec(ctx, `INSERT INTO stock_movements (product_code, ref_number, sold_quantity, sold_unit, base_quantity, balance_after, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ProductCode, m.RefNumber, m.SoldQuantity, m.SoldUnit, m.BaseQuantity, m.BalanceAfter, m.CreatedAt)
	return err
}
