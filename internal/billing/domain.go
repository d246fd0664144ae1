package billing

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/inventory"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// InvoiceStatus enumerates invoice payment states.
type InvoiceStatus string

const (
	StatusUnpaid  InvoiceStatus = "unpaid"
	StatusPartial InvoiceStatus = "partial"
	StatusPaid    InvoiceStatus = "paid"
)

// DeriveStatus returns the only status consistent with a paid/unpaid split.
func DeriveStatus(paid, unpaid decimal.Decimal) InvoiceStatus {
	switch {
	case !unpaid.IsPositive():
		return StatusPaid
	case paid.IsPositive():
		return StatusPartial
	default:
		return StatusUnpaid
	}
}

// CustomerRef is the customer snapshot stored on an invoice.
type CustomerRef struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Contact  string `json:"contact"`
	Aadhaar  string `json:"aadhaar,omitempty"`
	Location string `json:"location,omitempty"`
}

// CashierRef identifies who rang up the sale.
type CashierRef struct {
	CashierID     int64  `json:"cashierId"`
	CashierName   string `json:"cashierName"`
	CounterNum    string `json:"counterNum"`
	ContactNumber string `json:"contactNumber,omitempty"`
}

// LineItem is one product line, stored as a snapshot.
type LineItem struct {
	Name       string          `json:"name"`
	Code       string          `json:"code"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	Quantity   decimal.Decimal `json:"quantity"`
	Unit       string          `json:"unit"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
	Discount   decimal.Decimal `json:"discount"`
	BasicPrice decimal.Decimal `json:"basicPrice"`
	GSTRate    decimal.Decimal `json:"gstRate"`
	SGSTRate   decimal.Decimal `json:"sgstRate"`
	GSTAmount  decimal.Decimal `json:"gstAmount"`
	SGSTAmount decimal.Decimal `json:"sgstAmount"`
	HSNCode    string          `json:"hsnCode"`
}

// Payment splits what the customer hands over between the new bill and
// older unpaid invoices.
type Payment struct {
	CurrentBill   decimal.Decimal `json:"currentBillPayment"`
	Outstanding   decimal.Decimal `json:"outstandingPayment"`
	Method        string          `json:"method"`
	TransactionID string          `json:"transactionId,omitempty"`
}

// Invoice is a billed sale and its payment state.
type Invoice struct {
	ID              int64           `json:"id"`
	Number          string          `json:"invoiceNumber"`
	Customer        CustomerRef     `json:"customer"`
	Cashier         CashierRef      `json:"cashier"`
	LineItems       []LineItem      `json:"lineItems"`
	ProductSubtotal decimal.Decimal `json:"productSubtotal"`
	TaxAmount       decimal.Decimal `json:"taxAmount"`
	TransportCharge decimal.Decimal `json:"transportCharge"`
	GrandTotal      decimal.Decimal `json:"grandTotal"`
	PaidAmount      decimal.Decimal `json:"paidAmount"`
	UnpaidAmount    decimal.Decimal `json:"unpaidAmountForThisInvoice"`
	Status          InvoiceStatus   `json:"status"`
	PaymentMethod   string          `json:"paymentMethod"`
	TransactionID   string          `json:"transactionId,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Allocation records how much of a payment went to one invoice.
type Allocation struct {
	InvoiceID     int64           `json:"invoiceId"`
	InvoiceNumber string          `json:"invoiceNumber"`
	Applied       decimal.Decimal `json:"applied"`
	BalanceBefore decimal.Decimal `json:"balanceBefore"`
	BalanceAfter  decimal.Decimal `json:"balanceAfter"`
}

// Settlement is the receipt of one payment spread over older invoices.
type Settlement struct {
	ID            int64           `json:"id"`
	Number        string          `json:"settlementNumber"`
	CustomerID    int64           `json:"customerId"`
	Cashier       CashierRef      `json:"cashier"`
	Amount        decimal.Decimal `json:"amount"`
	Applied       decimal.Decimal `json:"applied"`
	Remainder     decimal.Decimal `json:"remainder"`
	PaymentMethod string          `json:"paymentMethod"`
	TransactionID string          `json:"transactionId,omitempty"`
	Allocations   []Allocation    `json:"allocations"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// ListFilter narrows ListInvoices.
type ListFilter struct {
	CustomerID int64
	UnpaidOnly bool
	// OldestFirst orders by createdAt ascending, the settlement order.
	OldestFirst bool
	Limit       int
	Offset      int
}

// CreateInvoiceResult is returned by Service.CreateInvoice.
type CreateInvoiceResult struct {
	Invoice           Invoice                `json:"invoice"`
	SettledInvoices   []Invoice              `json:"settledInvoices"`
	Settlement        *Settlement            `json:"settlement,omitempty"`
	Remainder         decimal.Decimal        `json:"remainder"`
	OutstandingCredit decimal.Decimal        `json:"outstandingCredit"`
	StockAdjustments  []inventory.Adjustment `json:"stockAdjustments"`
}

// SettleResult is returned by Service.SettleOutstanding.
type SettleResult struct {
	UpdatedInvoices   []Invoice       `json:"updatedInvoices"`
	Remainder         decimal.Decimal `json:"remainder"`
	OutstandingCredit decimal.Decimal `json:"outstandingCredit"`
	Settlement        Settlement      `json:"settlement"`
}

// CustomerOutstanding is a customer's cached credit with the invoices behind it.
type CustomerOutstanding struct {
	CustomerID        int64           `json:"customerId"`
	Name              string          `json:"name"`
	OutstandingCredit decimal.Decimal `json:"outstandingCredit"`
	UnpaidTotal       decimal.Decimal `json:"unpaidTotal"`
	Invoices          []Invoice       `json:"invoices"`
}

var (
	ErrMissingRequiredFields  = fmt.Errorf("%w: customer id, payment and payment method are required", shared.ErrValidation)
	ErrMissingCashierDetails  = fmt.Errorf("%w: cashier id, name and counter number are required", shared.ErrValidation)
	ErrMissingLineItems       = fmt.Errorf("%w: at least one line item is required", shared.ErrValidation)
	ErrInvalidAmount          = fmt.Errorf("%w: amounts and quantities must not be negative", shared.ErrValidation)
	ErrPaymentExceedsTotal    = fmt.Errorf("%w: current bill payment exceeds grand total", shared.ErrValidation)
	ErrNoInvoicesSelected     = fmt.Errorf("%w: select at least one unpaid invoice", shared.ErrValidation)
	ErrNoEligibleInvoices     = fmt.Errorf("%w: no eligible unpaid invoices", shared.ErrNotFound)
	ErrNothingToSettle        = fmt.Errorf("%w: outstanding payment given but the customer has no other unpaid invoices", shared.ErrValidation)
	ErrInvoiceNotFound        = fmt.Errorf("%w: invoice", shared.ErrNotFound)
	ErrDuplicateInvoiceNumber = fmt.Errorf("%w: invoice number already exists", shared.ErrConflict)
	// ErrTransactionFailed wraps any unexpected failure inside the settlement
	// transaction. Nothing was committed when it is returned.
	ErrTransactionFailed = errors.New("billing: transaction failed")
)
