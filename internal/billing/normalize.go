package billing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Defaults filled in for invoices stored with incomplete snapshots.
const (
	UnknownCustomerName = "Unknown customer"
	UnknownContact      = "N/A"
	UnnamedItem         = "Unnamed item"
	UnknownItemCode     = "N/A"
	DefaultUnit         = "pcs"
)

// NormalizeInvoice fills missing customer name and contact, and item name,
// code and unit, then re-derives the status from the stored amounts. Optional
// snapshot fields (aadhaar, location, hsn code) pass through untouched. The
// input is not modified.
func NormalizeInvoice(inv Invoice) Invoice {
	if strings.TrimSpace(inv.Customer.Name) == "" {
		inv.Customer.Name = UnknownCustomerName
	}
	if strings.TrimSpace(inv.Customer.Contact) == "" {
		inv.Customer.Contact = UnknownContact
	}
	items := make([]LineItem, len(inv.LineItems))
	copy(items, inv.LineItems)
	for i := range items {
		if strings.TrimSpace(items[i].Name) == "" {
			items[i].Name = UnnamedItem
		}
		if strings.TrimSpace(items[i].Code) == "" {
			items[i].Code = UnknownItemCode
		}
		if strings.TrimSpace(items[i].Unit) == "" {
			items[i].Unit = DefaultUnit
		}
	}
	inv.LineItems = items
	inv.PaidAmount = decimal.Max(decimal.Zero, inv.PaidAmount)
	inv.UnpaidAmount = decimal.Max(decimal.Zero, inv.UnpaidAmount)
	inv.Status = DeriveStatus(inv.PaidAmount, inv.UnpaidAmount)
	return inv
}

// NormalizeInvoices applies NormalizeInvoice to every element and never
// returns nil.
func NormalizeInvoices(invoices []Invoice) []Invoice {
	out := make([]Invoice, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, NormalizeInvoice(inv))
	}
	return out
}
