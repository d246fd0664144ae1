package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/inventory"
)

// Totals are an invoice's own amounts. Older unpaid balances never enter them.
type Totals struct {
	ProductSubtotal decimal.Decimal
	TaxAmount       decimal.Decimal
	TransportCharge decimal.Decimal
	GrandTotal      decimal.Decimal
}

// ComputeTotals sums basic price and per-unit taxes over the line items.
func ComputeTotals(items []LineItem, transport decimal.Decimal) Totals {
	subtotal := decimal.Zero
	tax := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.BasicPrice.Mul(item.Quantity))
		tax = tax.Add(item.GSTAmount.Add(item.SGSTAmount).Mul(item.Quantity))
	}
	return Totals{
		ProductSubtotal: subtotal,
		TaxAmount:       tax,
		TransportCharge: transport,
		GrandTotal:      subtotal.Add(tax).Add(transport),
	}
}

// BuildInvoice assembles the invoice for req without persisting it.
func BuildInvoice(req InvoiceRequest, number string, now time.Time) (Invoice, error) {
	h := req.Header()
	totals := ComputeTotals(req.Items(), req.Transport())
	paid := h.Payment.CurrentBill
	if paid.IsNegative() {
		return Invoice{}, ErrInvalidAmount
	}
	if paid.GreaterThan(totals.GrandTotal) {
		return Invoice{}, ErrPaymentExceedsTotal
	}
	unpaid := decimal.Max(decimal.Zero, totals.GrandTotal.Sub(paid))

	items := make([]LineItem, len(req.Items()))
	copy(items, req.Items())

	return Invoice{
		Number:          number,
		Customer:        h.Customer,
		Cashier:         h.Cashier,
		LineItems:       items,
		ProductSubtotal: totals.ProductSubtotal,
		TaxAmount:       totals.TaxAmount,
		TransportCharge: totals.TransportCharge,
		GrandTotal:      totals.GrandTotal,
		PaidAmount:      paid,
		UnpaidAmount:    unpaid,
		Status:          DeriveStatus(paid, unpaid),
		PaymentMethod:   strings.TrimSpace(h.Payment.Method),
		TransactionID:   strings.TrimSpace(h.Payment.TransactionID),
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// GenerateNumber returns <prefix>-<yyyymmdd>-<8 hex>.
func GenerateNumber(prefix string, now time.Time) string {
	token := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("%s-%s-%s", prefix, now.Format("20060102"), token)
}

// createInvoice persists the invoice and takes its lines off stock. It runs
// inside the caller's transaction.
func (s *Service) createInvoice(ctx context.Context, tx TxRepository, req InvoiceRequest, now time.Time) (Invoice, []inventory.Adjustment, error) {
	number := req.Header().InvoiceNumber
	if number == "" {
		number = s.newNumber(s.cfg.InvoicePrefix, now)
	}
	exists, err := tx.InvoiceNumberExists(ctx, number)
	if err != nil {
		return Invoice{}, nil, fmt.Errorf("check invoice number: %w", err)
	}
	if exists {
		return Invoice{}, nil, fmt.Errorf("%w: %s", ErrDuplicateInvoiceNumber, number)
	}

	inv, err := BuildInvoice(req, number, now)
	if err != nil {
		return Invoice{}, nil, err
	}
	inv, err = tx.InsertInvoice(ctx, inv)
	if err != nil {
		return Invoice{}, nil, err
	}

	adjustments := make([]inventory.Adjustment, 0, len(inv.LineItems))
	for _, item := range inv.LineItems {
		adj, err := s.stock.Adjust(ctx, tx, inventory.SoldLine{
			Name:      item.Name,
			Code:      item.Code,
			Quantity:  item.Quantity,
			Unit:      item.Unit,
			RefNumber: inv.Number,
		})
		if err != nil {
			return Invoice{}, nil, err
		}
		adjustments = append(adjustments, adj)
	}
	return inv, adjustments, nil
}
