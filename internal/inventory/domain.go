package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// Product is the catalog entry a sold line resolves to.
type Product struct {
	Code     string
	Name     string
	BaseUnit string
	// ConversionRate is how many sale units make up one base unit.
	ConversionRate decimal.Decimal
}

// StockRecord holds the available quantity of a product in its base unit.
type StockRecord struct {
	ProductCode       string
	AvailableQuantity decimal.Decimal
	BaseUnit          string
	UpdatedAt         time.Time
}

// SoldLine identifies one invoice line leaving the shelf.
type SoldLine struct {
	Name      string
	Code      string
	Quantity  decimal.Decimal
	Unit      string
	RefNumber string
}

// Movement is an append-only stock journal row.
type Movement struct {
	ProductCode  string
	RefNumber    string
	SoldQuantity decimal.Decimal
	SoldUnit     string
	BaseQuantity decimal.Decimal
	BalanceAfter decimal.Decimal
	CreatedAt    time.Time
}

// Adjustment reports what Adjust did for one sold line.
type Adjustment struct {
	ProductCode  string          `json:"productCode,omitempty"`
	Name         string          `json:"name"`
	SoldQuantity decimal.Decimal `json:"soldQuantity"`
	SoldUnit     string          `json:"soldUnit"`
	BaseQuantity decimal.Decimal `json:"baseQuantity"`
	Before       decimal.Decimal `json:"before"`
	After        decimal.Decimal `json:"after"`
	LowStock     bool            `json:"lowStock,omitempty"`
	Skipped      bool            `json:"skipped,omitempty"`
	SkipReason   string          `json:"skipReason,omitempty"`
}

// Skip reasons reported on Adjustment.SkipReason.
const (
	SkipProductNotFound = "product_not_found"
	SkipStockNotFound   = "stock_not_found"
	SkipInvalidRate     = "invalid_conversion_rate"
	SkipInvalidQuantity = "invalid_quantity"
)

var (
	// ErrProductNotFound is returned by FindProduct when nothing matches.
	ErrProductNotFound = errors.New("inventory: product not found")
	// ErrStockNotFound is returned by GetStockForUpdate when the product has no stock row.
	ErrStockNotFound = errors.New("inventory: stock record not found")
	// ErrNegativeStock is returned when a sale would take stock below zero and
	// negative stock is disabled.
	ErrNegativeStock = fmt.Errorf("%w: insufficient stock", shared.ErrValidation)
)
