package customers

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// TxRepository is the customer surface used inside a billing transaction.
type TxRepository interface {
	// LockCustomer takes a row lock on the customer; ErrNotFound when absent.
	LockCustomer(ctx context.Context, id int64) (Customer, error)
	// UnpaidAmounts lists the unpaid balance of every invoice of the customer
	// that still has one.
	UnpaidAmounts(ctx context.Context, customerID int64) ([]decimal.Decimal, error)
	// SetOutstandingCredit reports false when no row was updated.
	SetOutstandingCredit(ctx context.Context, id int64, credit decimal.Decimal) (bool, error)
}

// Recalculate recomputes the customer's outstanding credit from its invoices
// and stores it. It must run in the same transaction that changed the
// invoices. A missing customer is not an error; found is false then.
func Recalculate(ctx context.Context, tx TxRepository, customerID int64) (decimal.Decimal, bool, error) {
	amounts, err := tx.UnpaidAmounts(ctx, customerID)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("customers: sum unpaid: %w", err)
	}
	credit := decimal.Zero
	for _, amount := range amounts {
		if amount.IsPositive() {
			credit = credit.Add(amount)
		}
	}
	found, err := tx.SetOutstandingCredit(ctx, customerID, credit)
	if errors.Is(err, ErrNotFound) {
		return credit, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("customers: store credit: %w", err)
	}
	return credit, found, nil
}
