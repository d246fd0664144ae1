package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TxRepository is the catalog and stock surface the adjuster needs inside a
// transaction.
type TxRepository interface {
	FindProduct(ctx context.Context, name, code string) (Product, error)
	GetStockForUpdate(ctx context.Context, productCode string) (StockRecord, error)
	UpdateStock(ctx context.Context, stock StockRecord) error
	InsertMovement(ctx context.Context, movement Movement) error
}

// AdjusterConfig groups optional settings.
type AdjusterConfig struct {
	AllowNegativeStock bool
	LowStockThreshold  decimal.Decimal
}

// Adjuster decrements stock for sold lines.
type Adjuster struct {
	logger   *slog.Logger
	allowNeg bool
	lowStock decimal.Decimal
	now      func() time.Time
}

// NewAdjuster builds Adjuster.
func NewAdjuster(logger *slog.Logger, cfg AdjusterConfig) *Adjuster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adjuster{
		logger:   logger,
		allowNeg: cfg.AllowNegativeStock,
		lowStock: cfg.LowStockThreshold,
		now:      time.Now,
	}
}

// Adjust converts the sold quantity to the product's base unit and takes it
// off the stock record. A product or stock row that cannot be found is not an
// error: the line is reported as skipped and the sale goes through.
func (a *Adjuster) Adjust(ctx context.Context, tx TxRepository, line SoldLine) (Adjustment, error) {
	adj := Adjustment{
		ProductCode:  line.Code,
		Name:         line.Name,
		SoldQuantity: line.Quantity,
		SoldUnit:     line.Unit,
	}
	if !line.Quantity.IsPositive() {
		return a.skip(adj, SkipInvalidQuantity), nil
	}

	product, err := tx.FindProduct(ctx, line.Name, line.Code)
	if errors.Is(err, ErrProductNotFound) {
		return a.skip(adj, SkipProductNotFound), nil
	}
	if err != nil {
		return Adjustment{}, fmt.Errorf("inventory: find product: %w", err)
	}
	adj.ProductCode = product.Code

	stock, err := tx.GetStockForUpdate(ctx, product.Code)
	if errors.Is(err, ErrStockNotFound) {
		return a.skip(adj, SkipStockNotFound), nil
	}
	if err != nil {
		return Adjustment{}, fmt.Errorf("inventory: lock stock: %w", err)
	}

	baseUnit := stock.BaseUnit
	if baseUnit == "" {
		baseUnit = product.BaseUnit
	}
	baseQty, ok := ToBaseUnits(line.Quantity, line.Unit, baseUnit, product.ConversionRate)
	if !ok {
		return a.skip(adj, SkipInvalidRate), nil
	}

	after := stock.AvailableQuantity.Sub(baseQty)
	if after.IsNegative() && !a.allowNeg {
		return Adjustment{}, fmt.Errorf("%w: %s has %s %s, sale needs %s", ErrNegativeStock, product.Code, stock.AvailableQuantity, baseUnit, baseQty)
	}

	now := a.now().UTC()
	adj.BaseQuantity = baseQty
	adj.Before = stock.AvailableQuantity
	adj.After = after
	adj.LowStock = after.LessThanOrEqual(a.lowStock)

	stock.AvailableQuantity = after
	stock.UpdatedAt = now
	if err := tx.UpdateStock(ctx, stock); err != nil {
		return Adjustment{}, fmt.Errorf("inventory: update stock: %w", err)
	}
	if err := tx.InsertMovement(ctx, Movement{
		ProductCode:  product.Code,
		RefNumber:    line.RefNumber,
		SoldQuantity: line.Quantity,
		SoldUnit:     line.Unit,
		BaseQuantity: baseQty,
		BalanceAfter: after,
		CreatedAt:    now,
	}); err != nil {
		return Adjustment{}, fmt.Errorf("inventory: insert movement: %w", err)
	}
	return adj, nil
}

func (a *Adjuster) skip(adj Adjustment, reason string) Adjustment {
	a.logger.Warn("stock adjustment skipped",
		slog.String("reason", reason),
		slog.String("product_name", adj.Name),
		slog.String("product_code", adj.ProductCode),
		slog.String("quantity", adj.SoldQuantity.String()),
		slog.String("unit", adj.SoldUnit))
	adj.Skipped = true
	adj.SkipReason = reason
	return adj
}

// ToBaseUnits converts qty sold in unit to the base unit. Units compare
// case-insensitively. A sale in a non-base unit needs a positive rate; ok is
// false otherwise.
func ToBaseUnits(qty decimal.Decimal, unit, baseUnit string, rate decimal.Decimal) (decimal.Decimal, bool) {
	if strings.EqualFold(strings.TrimSpace(unit), strings.TrimSpace(baseUnit)) {
		return qty, true
	}
	if !rate.IsPositive() {
		return decimal.Zero, false
	}
	return qty.Div(rate), true
}
