package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/inventory"
)

// InvoiceCreatedEvent is published after CreateInvoice commits.
type InvoiceCreatedEvent struct {
	InvoiceID         int64                  `json:"invoiceId"`
	InvoiceNumber     string                 `json:"invoiceNumber"`
	CustomerID        int64                  `json:"customerId"`
	CashierID         int64                  `json:"cashierId"`
	GrandTotal        decimal.Decimal        `json:"grandTotal"`
	PaidAmount        decimal.Decimal        `json:"paidAmount"`
	UnpaidAmount      decimal.Decimal        `json:"unpaidAmount"`
	OutstandingCredit decimal.Decimal        `json:"outstandingCredit"`
	SettlementNumber  string                 `json:"settlementNumber,omitempty"`
	LowStock          []inventory.Adjustment `json:"lowStock,omitempty"`
	CreatedAt         time.Time              `json:"createdAt"`
}

// OutstandingSettledEvent is published after a settlement commits.
type OutstandingSettledEvent struct {
	SettlementNumber  string          `json:"settlementNumber"`
	CustomerID        int64           `json:"customerId"`
	CashierID         int64           `json:"cashierId"`
	Amount            decimal.Decimal `json:"amount"`
	Applied           decimal.Decimal `json:"applied"`
	Remainder         decimal.Decimal `json:"remainder"`
	InvoiceIDs        []int64         `json:"invoiceIds"`
	OutstandingCredit decimal.Decimal `json:"outstandingCredit"`
	SettledAt         time.Time       `json:"settledAt"`
}

// IntegrationHandler receives committed billing events.
type IntegrationHandler interface {
	HandleInvoiceCreated(ctx context.Context, evt InvoiceCreatedEvent) error
	HandleOutstandingSettled(ctx context.Context, evt OutstandingSettledEvent) error
}

// MetricsRecorder observes billing operations.
type MetricsRecorder interface {
	ObserveBilling(operation, outcome string, applied float64)
}

func invoiceCreatedEvent(res CreateInvoiceResult) InvoiceCreatedEvent {
	evt := InvoiceCreatedEvent{
		InvoiceID:         res.Invoice.ID,
		InvoiceNumber:     res.Invoice.Number,
		CustomerID:        res.Invoice.Customer.ID,
		CashierID:         res.Invoice.Cashier.CashierID,
		GrandTotal:        res.Invoice.GrandTotal,
		PaidAmount:        res.Invoice.PaidAmount,
		UnpaidAmount:      res.Invoice.UnpaidAmount,
		OutstandingCredit: res.OutstandingCredit,
		CreatedAt:         res.Invoice.CreatedAt,
	}
	if res.Settlement != nil {
		evt.SettlementNumber = res.Settlement.Number
	}
	for _, adj := range res.StockAdjustments {
		if adj.LowStock && !adj.Skipped {
			evt.LowStock = append(evt.LowStock, adj)
		}
	}
	return evt
}

func outstandingSettledEvent(st Settlement, credit decimal.Decimal) OutstandingSettledEvent {
	ids := make([]int64, 0, len(st.Allocations))
	for _, a := range st.Allocations {
		ids = append(ids, a.InvoiceID)
	}
	return OutstandingSettledEvent{
		SettlementNumber:  st.Number,
		CustomerID:        st.CustomerID,
		CashierID:         st.Cashier.CashierID,
		Amount:            st.Amount,
		Applied:           st.Applied,
		Remainder:         st.Remainder,
		InvoiceIDs:        ids,
		OutstandingCredit: credit,
		SettledAt:         st.CreatedAt,
	}
}
