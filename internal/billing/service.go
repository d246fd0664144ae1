package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/customers"
	"github.com/odyssey-erp/odyssey-pos/internal/inventory"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListInvoices(ctx context.Context, filter ListFilter) ([]Invoice, error)
	// ListUnpaidInvoices returns every invoice of the customer with an unpaid
	// balance, ordered by created_at, id. It is not paged.
	ListUnpaidInvoices(ctx context.Context, customerID int64) ([]Invoice, error)
	GetInvoice(ctx context.Context, id int64) (Invoice, error)
	ListSettlements(ctx context.Context, customerID int64, limit int) ([]Settlement, error)
	GetCustomer(ctx context.Context, id int64) (customers.Customer, error)
	ListCustomerIDs(ctx context.Context) ([]int64, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	inventory.TxRepository
	customers.TxRepository
	InvoiceNumberExists(ctx context.Context, number string) (bool, error)
	InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error)
	// LockUnpaidInvoices locks the customer's invoices with an unpaid balance,
	// restricted to ids when ids is non-empty, ordered by created_at, id.
	LockUnpaidInvoices(ctx context.Context, customerID int64, ids []int64) ([]Invoice, error)
	UpdateInvoicePayment(ctx context.Context, inv Invoice) error
	InsertSettlement(ctx context.Context, st Settlement) (Settlement, error)
}

// StockAdjuster takes sold lines off stock inside a transaction.
type StockAdjuster interface {
	Adjust(ctx context.Context, tx inventory.TxRepository, line inventory.SoldLine) (inventory.Adjustment, error)
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	InvoicePrefix    string
	SettlementPrefix string
}

// Service runs sales and settlements as single transactions.
type Service struct {
	repo        RepositoryPort
	stock       StockAdjuster
	integration IntegrationHandler
	metrics     MetricsRecorder
	logger      *slog.Logger
	cfg         ServiceConfig
	now         func() time.Time
	newNumber   func(prefix string, now time.Time) string
}

// NewService builds Service. integration and metrics may be nil.
func NewService(repo RepositoryPort, stock StockAdjuster, integration IntegrationHandler, metrics MetricsRecorder, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.InvoicePrefix == "" {
		cfg.InvoicePrefix = "INV"
	}
	if cfg.SettlementPrefix == "" {
		cfg.SettlementPrefix = "STL"
	}
	return &Service{
		repo:        repo,
		stock:       stock,
		integration: integration,
		metrics:     metrics,
		logger:      logger,
		cfg:         cfg,
		now:         time.Now,
		newNumber:   GenerateNumber,
	}
}

// CreateInvoice records a sale and, when the payment carries an outstanding
// portion, settles older invoices with it. Stock, invoices, the settlement
// receipt and the customer's credit are committed together or not at all.
func (s *Service) CreateInvoice(ctx context.Context, in SaleInput) (CreateInvoiceResult, error) {
	req, err := ClassifyRequest(in)
	if err != nil {
		s.observe("create_invoice", err, decimal.Zero)
		return CreateInvoiceResult{}, err
	}
	h := req.Header()
	now := s.now().UTC()

	var result CreateInvoiceResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		result = CreateInvoiceResult{Remainder: decimal.Zero, SettledInvoices: []Invoice{}}

		if _, err := tx.LockCustomer(ctx, h.Customer.ID); err != nil && !errors.Is(err, customers.ErrNotFound) {
			return err
		}

		inv, adjustments, err := s.createInvoice(ctx, tx, req, now)
		if err != nil {
			return err
		}
		result.Invoice = inv
		result.StockAdjustments = adjustments

		if h.Payment.Outstanding.IsPositive() {
			targets, err := tx.LockUnpaidInvoices(ctx, h.Customer.ID, h.SettleInvoiceIDs)
			if err != nil {
				return fmt.Errorf("lock unpaid invoices: %w", err)
			}
			targets = withoutInvoice(targets, inv.ID)
			if len(targets) == 0 {
				return ErrNothingToSettle
			}
			alloc, st, err := s.settle(ctx, tx, settlement{
				customerID:    h.Customer.ID,
				cashier:       h.Cashier,
				amount:        h.Payment.Outstanding,
				method:        h.Payment.Method,
				transactionID: h.Payment.TransactionID,
				invoices:      targets,
				now:           now,
			})
			if err != nil {
				return err
			}
			result.SettledInvoices = alloc.Updated
			result.Remainder = alloc.Remainder
			result.Settlement = &st
		}

		credit, _, err := customers.Recalculate(ctx, tx, h.Customer.ID)
		if err != nil {
			return err
		}
		result.OutstandingCredit = credit
		return nil
	})
	if err != nil {
		err = wrapTxError(err)
		s.observe("create_invoice", err, decimal.Zero)
		s.logFailure(ctx, "create invoice failed", h.Customer.ID, err)
		return CreateInvoiceResult{}, err
	}

	applied := result.Invoice.PaidAmount
	if result.Settlement != nil {
		applied = applied.Add(result.Settlement.Applied)
	}
	s.observe("create_invoice", nil, applied)
	s.logger.Info("invoice created",
		slog.String("invoice_number", result.Invoice.Number),
		slog.Int64("customer_id", h.Customer.ID),
		slog.String("grand_total", result.Invoice.GrandTotal.String()),
		slog.String("outstanding_credit", result.OutstandingCredit.String()))
	s.publishInvoiceCreated(ctx, result)
	return result, nil
}

// SettleOutstanding applies a payment to the selected unpaid invoices of a
// customer, oldest first.
func (s *Service) SettleOutstanding(ctx context.Context, req SettleRequest) (SettleResult, error) {
	if err := req.Validate(); err != nil {
		s.observe("settle_outstanding", err, decimal.Zero)
		return SettleResult{}, err
	}
	now := s.now().UTC()

	var result SettleResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		result = SettleResult{}

		if _, err := tx.LockCustomer(ctx, req.CustomerID); err != nil && !errors.Is(err, customers.ErrNotFound) {
			return err
		}
		targets, err := tx.LockUnpaidInvoices(ctx, req.CustomerID, req.InvoiceIDs)
		if err != nil {
			return fmt.Errorf("lock unpaid invoices: %w", err)
		}
		alloc, st, err := s.settle(ctx, tx, settlement{
			customerID:    req.CustomerID,
			cashier:       req.Cashier,
			amount:        req.Amount,
			method:        req.PaymentMethod,
			transactionID: req.TransactionID,
			invoices:      targets,
			now:           now,
		})
		if err != nil {
			return err
		}
		credit, _, err := customers.Recalculate(ctx, tx, req.CustomerID)
		if err != nil {
			return err
		}
		result = SettleResult{
			UpdatedInvoices:   alloc.Updated,
			Remainder:         alloc.Remainder,
			OutstandingCredit: credit,
			Settlement:        st,
		}
		return nil
	})
	if err != nil {
		err = wrapTxError(err)
		s.observe("settle_outstanding", err, decimal.Zero)
		s.logFailure(ctx, "settle outstanding failed", req.CustomerID, err)
		return SettleResult{}, err
	}

	s.observe("settle_outstanding", nil, result.Settlement.Applied)
	s.logger.Info("outstanding settled",
		slog.String("settlement_number", result.Settlement.Number),
		slog.Int64("customer_id", req.CustomerID),
		slog.String("applied", result.Settlement.Applied.String()),
		slog.String("remainder", result.Remainder.String()))
	s.publishSettled(ctx, result.Settlement, result.OutstandingCredit)
	return result, nil
}

type settlement struct {
	customerID    int64
	cashier       CashierRef
	amount        decimal.Decimal
	method        string
	transactionID string
	invoices      []Invoice
	now           time.Time
}

func (s *Service) settle(ctx context.Context, tx TxRepository, p settlement) (AllocationResult, Settlement, error) {
	method := strings.TrimSpace(p.method)
	alloc, err := Allocate(p.amount, p.invoices, method, p.transactionID, p.now)
	if err != nil {
		return AllocationResult{}, Settlement{}, err
	}
	for _, inv := range alloc.Updated {
		if err := tx.UpdateInvoicePayment(ctx, inv); err != nil {
			return AllocationResult{}, Settlement{}, fmt.Errorf("update invoice %s: %w", inv.Number, err)
		}
	}
	st, err := tx.InsertSettlement(ctx, Settlement{
		Number:        s.newNumber(s.cfg.SettlementPrefix, p.now),
		CustomerID:    p.customerID,
		Cashier:       p.cashier,
		Amount:        p.amount,
		Applied:       alloc.Applied,
		Remainder:     alloc.Remainder,
		PaymentMethod: method,
		TransactionID: strings.TrimSpace(p.transactionID),
		Allocations:   alloc.Allocations,
		CreatedAt:     p.now,
	})
	if err != nil {
		return AllocationResult{}, Settlement{}, fmt.Errorf("insert settlement: %w", err)
	}
	return alloc, st, nil
}

func withoutInvoice(invoices []Invoice, id int64) []Invoice {
	out := invoices[:0:0]
	for _, inv := range invoices {
		if inv.ID != id {
			out = append(out, inv)
		}
	}
	return out
}

// wrapTxError keeps caller-facing errors as they are and marks everything else
// as a transaction failure.
func wrapTxError(err error) error {
	if errors.Is(err, shared.ErrValidation) || errors.Is(err, shared.ErrNotFound) || errors.Is(err, shared.ErrConflict) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransactionFailed, err)
}

func (s *Service) logFailure(ctx context.Context, msg string, customerID int64, err error) {
	level := slog.LevelWarn
	if errors.Is(err, ErrTransactionFailed) {
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, msg, slog.Int64("customer_id", customerID), slog.Any("error", err))
}

func (s *Service) observe(operation string, err error, applied decimal.Decimal) {
	if s.metrics == nil {
		return
	}
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrTransactionFailed):
		outcome = "error"
	default:
		outcome = "rejected"
	}
	f, _ := applied.Float64()
	s.metrics.ObserveBilling(operation, outcome, f)
}

func (s *Service) publishInvoiceCreated(ctx context.Context, res CreateInvoiceResult) {
	if s.integration == nil {
		return
	}
	if err := s.integration.HandleInvoiceCreated(ctx, invoiceCreatedEvent(res)); err != nil {
		s.logger.Warn("publish invoice created", slog.String("invoice_number", res.Invoice.Number), slog.Any("error", err))
	}
	if res.Settlement != nil {
		s.publishSettled(ctx, *res.Settlement, res.OutstandingCredit)
	}
}

func (s *Service) publishSettled(ctx context.Context, st Settlement, credit decimal.Decimal) {
	if s.integration == nil {
		return
	}
	if err := s.integration.HandleOutstandingSettled(ctx, outstandingSettledEvent(st, credit)); err != nil {
		s.logger.Warn("publish outstanding settled", slog.String("settlement_number", st.Number), slog.Any("error", err))
	}
}
