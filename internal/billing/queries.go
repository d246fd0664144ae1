package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/customers"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// ErrInvalidCustomerID is returned by reads that need a customer id.
var ErrInvalidCustomerID = fmt.Errorf("%w: customer id must be a positive integer", shared.ErrValidation)

// ListInvoices returns normalised invoices, newest first unless the filter
// asks for settlement order.
func (s *Service) ListInvoices(ctx context.Context, filter ListFilter) ([]Invoice, error) {
	page := shared.NewPage(filter.Limit, filter.Offset)
	filter.Limit, filter.Offset = page.Limit, page.Offset
	items, err := s.repo.ListInvoices(ctx, filter)
	if err != nil {
		return nil, err
	}
	return NormalizeInvoices(items), nil
}

// ListUnpaidInvoices returns all of a customer's invoices that still have an
// unpaid balance, oldest first.
func (s *Service) ListUnpaidInvoices(ctx context.Context, customerID int64) ([]Invoice, error) {
	if customerID <= 0 {
		return nil, ErrInvalidCustomerID
	}
	items, err := s.repo.ListUnpaidInvoices(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return NormalizeInvoices(items), nil
}

// GetInvoice loads one invoice.
func (s *Service) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	if id <= 0 {
		return Invoice{}, ErrInvoiceNotFound
	}
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return Invoice{}, err
	}
	return NormalizeInvoice(inv), nil
}

// ListSettlements returns settlement receipts, newest first.
func (s *Service) ListSettlements(ctx context.Context, customerID int64, limit int) ([]Settlement, error) {
	if customerID < 0 {
		return nil, ErrInvalidCustomerID
	}
	items, err := s.repo.ListSettlements(ctx, customerID, shared.NewPage(limit, 0).Limit)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []Settlement{}
	}
	return items, nil
}

// CustomerOutstanding returns the cached credit of a customer next to the
// unpaid invoices it should equal.
func (s *Service) CustomerOutstanding(ctx context.Context, customerID int64) (CustomerOutstanding, error) {
	if customerID <= 0 {
		return CustomerOutstanding{}, ErrInvalidCustomerID
	}
	c, err := s.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return CustomerOutstanding{}, err
	}
	invoices, err := s.ListUnpaidInvoices(ctx, customerID)
	if err != nil {
		return CustomerOutstanding{}, err
	}
	total := decimal.Zero
	for _, inv := range invoices {
		total = total.Add(inv.UnpaidAmount)
	}
	return CustomerOutstanding{
		CustomerID:        c.ID,
		Name:              c.Name,
		OutstandingCredit: c.OutstandingCredit,
		UnpaidTotal:       total,
		Invoices:          invoices,
	}, nil
}

// ReconcileAllBalances recomputes every customer's outstanding credit, one
// transaction per customer. It returns how many customers were updated.
func (s *Service) ReconcileAllBalances(ctx context.Context) (int, error) {
	ids, err := s.repo.ListCustomerIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("billing: list customers: %w", err)
	}
	updated := 0
	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		var found bool
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			before, err := tx.LockCustomer(ctx, id)
			if err != nil {
				return err
			}
			var credit decimal.Decimal
			credit, found, err = customers.Recalculate(ctx, tx, id)
			if err != nil {
				return err
			}
			if !credit.Equal(before.OutstandingCredit) {
				s.logger.Warn("outstanding credit drift repaired",
					slog.Int64("customer_id", id),
					slog.String("cached", before.OutstandingCredit.String()),
					slog.String("actual", credit.String()))
			}
			return nil
		})
		switch {
		case err == nil && found:
			updated++
		case err != nil && !errors.Is(err, customers.ErrNotFound):
			errs = append(errs, fmt.Errorf("customer %d: %w", id, err))
		}
	}
	return updated, errors.Join(errs...)
}
