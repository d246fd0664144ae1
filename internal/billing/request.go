package billing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// SaleHeader carries the fields every invoice request has.
type SaleHeader struct {
	Customer      CustomerRef
	Cashier       CashierRef
	Payment       Payment
	InvoiceNumber string
	// SettleInvoiceIDs restricts which older invoices the outstanding part of
	// the payment may settle. Empty means all of the customer's unpaid invoices.
	SettleInvoiceIDs []int64
}

// InvoiceRequest is a classified sale: RegularSale or OutstandingOnly.
type InvoiceRequest interface {
	Header() SaleHeader
	Items() []LineItem
	Transport() decimal.Decimal
}

// RegularSale bills products and may also settle older invoices.
type RegularSale struct {
	SaleHeader
	LineItems       []LineItem
	TransportCharge decimal.Decimal
}

// OutstandingOnly carries no products: the customer only pays down old invoices.
// An invoice is still issued so the visit has a receipt.
type OutstandingOnly struct {
	SaleHeader
	TransportCharge decimal.Decimal
}

func (r RegularSale) Header() SaleHeader             { return r.SaleHeader }
func (r RegularSale) Items() []LineItem              { return r.LineItems }
func (r RegularSale) Transport() decimal.Decimal     { return r.TransportCharge }
func (r OutstandingOnly) Header() SaleHeader         { return r.SaleHeader }
func (r OutstandingOnly) Items() []LineItem          { return nil }
func (r OutstandingOnly) Transport() decimal.Decimal { return r.TransportCharge }

// SaleInput is an unclassified sale as submitted by a till. Payment is nil when
// the client sent no payment block.
type SaleInput struct {
	Customer         CustomerRef
	Cashier          CashierRef
	LineItems        []LineItem
	TransportCharge  decimal.Decimal
	Payment          *Payment
	InvoiceNumber    string
	SettleInvoiceIDs []int64
}

// ClassifyRequest validates a submitted sale and returns its variant. All
// checks here run before any transaction opens.
func ClassifyRequest(in SaleInput) (InvoiceRequest, error) {
	if in.Customer.ID <= 0 || in.Payment == nil || strings.TrimSpace(in.Payment.Method) == "" {
		return nil, ErrMissingRequiredFields
	}
	if !cashierComplete(in.Cashier) {
		return nil, ErrMissingCashierDetails
	}
	payment := *in.Payment
	if payment.CurrentBill.IsNegative() || payment.Outstanding.IsNegative() || in.TransportCharge.IsNegative() {
		return nil, ErrInvalidAmount
	}
	for _, id := range in.SettleInvoiceIDs {
		if id <= 0 {
			return nil, ErrInvalidAmount
		}
	}
	header := SaleHeader{
		Customer:         in.Customer,
		Cashier:          in.Cashier,
		Payment:          payment,
		InvoiceNumber:    strings.TrimSpace(in.InvoiceNumber),
		SettleInvoiceIDs: in.SettleInvoiceIDs,
	}

	if len(in.LineItems) == 0 {
		if !payment.Outstanding.IsPositive() {
			return nil, ErrMissingLineItems
		}
		req := OutstandingOnly{SaleHeader: header, TransportCharge: in.TransportCharge}
		return req, checkCurrentBill(req)
	}

	for _, item := range in.LineItems {
		if item.Quantity.IsNegative() || item.UnitPrice.IsNegative() || item.BasicPrice.IsNegative() ||
			item.TotalPrice.IsNegative() || item.Discount.IsNegative() ||
			item.GSTAmount.IsNegative() || item.SGSTAmount.IsNegative() {
			return nil, ErrInvalidAmount
		}
	}
	req := RegularSale{SaleHeader: header, LineItems: in.LineItems, TransportCharge: in.TransportCharge}
	return req, checkCurrentBill(req)
}

func checkCurrentBill(req InvoiceRequest) error {
	totals := ComputeTotals(req.Items(), req.Transport())
	if req.Header().Payment.CurrentBill.GreaterThan(totals.GrandTotal) {
		return ErrPaymentExceedsTotal
	}
	return nil
}

func cashierComplete(c CashierRef) bool {
	return c.CashierID > 0 && strings.TrimSpace(c.CashierName) != "" && strings.TrimSpace(c.CounterNum) != ""
}

// SettleRequest pays down selected unpaid invoices of one customer.
type SettleRequest struct {
	CustomerID    int64
	Cashier       CashierRef
	Amount        decimal.Decimal
	PaymentMethod string
	TransactionID string
	InvoiceIDs    []int64
}

// Validate runs the checks that need no database access.
func (r SettleRequest) Validate() error {
	if r.CustomerID <= 0 || strings.TrimSpace(r.PaymentMethod) == "" {
		return ErrMissingRequiredFields
	}
	if r.Amount.IsNegative() {
		return ErrInvalidAmount
	}
	if !r.Amount.IsPositive() {
		return ErrMissingRequiredFields
	}
	if !cashierComplete(r.Cashier) {
		return ErrMissingCashierDetails
	}
	if len(r.InvoiceIDs) == 0 {
		return ErrNoInvoicesSelected
	}
	for _, id := range r.InvoiceIDs {
		if id <= 0 {
			return ErrNoInvoicesSelected
		}
	}
	return nil
}
