package billing

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AllocationResult is the outcome of spreading one payment over invoices.
// Applied plus Remainder always equals the amount passed to Allocate.
type AllocationResult struct {
	Updated     []Invoice
	Allocations []Allocation
	Applied     decimal.Decimal
	Remainder   decimal.Decimal
}

// Allocate applies amount to the invoices that still have an unpaid balance,
// oldest CreatedAt first with ID breaking ties. Invoices with nothing unpaid
// are ignored. Only invoices that received money are returned; the inputs are
// not modified. Whatever is left over is returned as Remainder and is never
// applied anywhere else.
func Allocate(amount decimal.Decimal, invoices []Invoice, method, transactionID string, now time.Time) (AllocationResult, error) {
	if amount.IsNegative() {
		return AllocationResult{}, ErrInvalidAmount
	}

	seen := make(map[int64]struct{}, len(invoices))
	eligible := make([]Invoice, 0, len(invoices))
	for _, inv := range invoices {
		if !inv.UnpaidAmount.IsPositive() {
			continue
		}
		if inv.ID != 0 {
			if _, dup := seen[inv.ID]; dup {
				continue
			}
			seen[inv.ID] = struct{}{}
		}
		eligible = append(eligible, inv)
	}
	if len(eligible) == 0 {
		return AllocationResult{}, ErrNoEligibleInvoices
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if !eligible[i].CreatedAt.Equal(eligible[j].CreatedAt) {
			return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
		}
		return eligible[i].ID < eligible[j].ID
	})

	transactionID = strings.TrimSpace(transactionID)
	result := AllocationResult{Applied: decimal.Zero, Remainder: amount}
	for _, inv := range eligible {
		if !result.Remainder.IsPositive() {
			break
		}
		applied := decimal.Min(result.Remainder, inv.UnpaidAmount)
		before := inv.UnpaidAmount

		inv.PaidAmount = inv.PaidAmount.Add(applied)
		inv.UnpaidAmount = inv.UnpaidAmount.Sub(applied)
		inv.Status = DeriveStatus(inv.PaidAmount, inv.UnpaidAmount)
		inv.PaymentMethod = method
		if transactionID != "" {
			inv.TransactionID = transactionID
		}
		if !now.IsZero() {
			inv.UpdatedAt = now
		}

		result.Remainder = result.Remainder.Sub(applied)
		result.Applied = result.Applied.Add(applied)
		result.Updated = append(result.Updated, inv)
		result.Allocations = append(result.Allocations, Allocation{
			InvoiceID:     inv.ID,
			InvoiceNumber: inv.Number,
			Applied:       applied,
			BalanceBefore: before,
			BalanceAfter:  inv.UnpaidAmount,
		})
	}
	return result, nil
}
