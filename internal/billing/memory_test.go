package billing

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/customers"
	"github.com/odyssey-erp/odyssey-pos/internal/inventory"
)

type memoryState struct {
	invoices     map[int64]Invoice
	customers    map[int64]customers.Customer
	products     []inventory.Product
	stock        map[string]inventory.StockRecord
	movements    []inventory.Movement
	settlements  []Settlement
	nextInvoice  int64
	nextSettleID int64
}

func (s *memoryState) clone() *memoryState {
	out := &memoryState{
		invoices:     make(map[int64]Invoice, len(s.invoices)),
		customers:    make(map[int64]customers.Customer, len(s.customers)),
		products:     append([]inventory.Product(nil), s.products...),
		stock:        make(map[string]inventory.StockRecord, len(s.stock)),
		movements:    append([]inventory.Movement(nil), s.movements...),
		settlements:  append([]Settlement(nil), s.settlements...),
		nextInvoice:  s.nextInvoice,
		nextSettleID: s.nextSettleID,
	}
	for k, v := range s.invoices {
		out.invoices[k] = v
	}
	for k, v := range s.customers {
		out.customers[k] = v
	}
	for k, v := range s.stock {
		out.stock[k] = v
	}
	return out
}

// memoryRepo keeps committed state and hands each transaction a private copy
// that replaces it only when the callback succeeds.
type memoryRepo struct {
	mu      sync.Mutex
	state   *memoryState
	failOn  map[string]error
	txCount int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		state: &memoryState{
			invoices:  make(map[int64]Invoice),
			customers: make(map[int64]customers.Customer),
			stock:     make(map[string]inventory.StockRecord),
		},
		failOn: make(map[string]error),
	}
}

func (r *memoryRepo) addCustomer(id int64, name string) {
	r.state.customers[id] = customers.Customer{ID: id, Name: name}
}

func (r *memoryRepo) addProduct(code, name, baseUnit, rate, available string) {
	r.state.products = append(r.state.products, inventory.Product{Code: code, Name: name, BaseUnit: baseUnit, ConversionRate: dec(rate)})
	r.state.stock[code] = inventory.StockRecord{ProductCode: code, AvailableQuantity: dec(available), BaseUnit: baseUnit}
}

func (r *memoryRepo) seedInvoice(inv Invoice) Invoice {
	r.state.nextInvoice++
	inv.ID = r.state.nextInvoice
	if inv.LineItems == nil {
		inv.LineItems = []LineItem{}
	}
	r.state.invoices[inv.ID] = inv
	return inv
}

func (r *memoryRepo) invoice(id int64) Invoice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.invoices[id]
}

func (r *memoryRepo) customer(id int64) customers.Customer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.customers[id]
}

func (r *memoryRepo) available(code string) decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.stock[code].AvailableQuantity
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txCount++
	work := r.state.clone()
	if err := fn(ctx, &memoryTx{repo: r, state: work}); err != nil {
		return err
	}
	r.state = work
	return nil
}

func (r *memoryRepo) ListUnpaidInvoices(_ context.Context, customerID int64) ([]Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Invoice
	for _, inv := range r.state.invoices {
		if inv.Customer.ID == customerID && inv.UnpaidAmount.IsPositive() {
			out = append(out, inv)
		}
	}
	sortInvoices(out)
	return out, nil
}

func (r *memoryRepo) ListInvoices(_ context.Context, filter ListFilter) ([]Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Invoice
	for _, inv := range r.state.invoices {
		if filter.CustomerID > 0 && inv.Customer.ID != filter.CustomerID {
			continue
		}
		if filter.UnpaidOnly && !inv.UnpaidAmount.IsPositive() {
			continue
		}
		out = append(out, inv)
	}
	sortInvoices(out)
	if !filter.OldestFirst {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if filter.Offset >= len(out) {
		return nil, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *memoryRepo) GetInvoice(_ context.Context, id int64) (Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.state.invoices[id]
	if !ok {
		return Invoice{}, ErrInvoiceNotFound
	}
	return inv, nil
}

func (r *memoryRepo) ListSettlements(_ context.Context, customerID int64, limit int) ([]Settlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Settlement
	for i := len(r.state.settlements) - 1; i >= 0 && len(out) < limit; i-- {
		st := r.state.settlements[i]
		if customerID == 0 || st.CustomerID == customerID {
			out = append(out, st)
		}
	}
	return out, nil
}

func (r *memoryRepo) GetCustomer(_ context.Context, id int64) (customers.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.state.customers[id]
	if !ok {
		return customers.Customer{}, customers.ErrNotFound
	}
	return c, nil
}

func (r *memoryRepo) ListCustomerIDs(context.Context) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.state.customers))
	for id := range r.state.customers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func sortInvoices(invoices []Invoice) {
	sort.Slice(invoices, func(i, j int) bool {
		if !invoices[i].CreatedAt.Equal(invoices[j].CreatedAt) {
			return invoices[i].CreatedAt.Before(invoices[j].CreatedAt)
		}
		return invoices[i].ID < invoices[j].ID
	})
}

type memoryTx struct {
	repo  *memoryRepo
	state *memoryState
}

func (tx *memoryTx) fail(op string) error {
	return tx.repo.failOn[op]
}

func (tx *memoryTx) FindProduct(_ context.Context, name, code string) (inventory.Product, error) {
	for _, p := range tx.state.products {
		if code != "" && p.Code == code {
			return p, nil
		}
	}
	for _, p := range tx.state.products {
		if name != "" && strings.EqualFold(p.Name, name) {
			return p, nil
		}
	}
	return inventory.Product{}, inventory.ErrProductNotFound
}

func (tx *memoryTx) GetStockForUpdate(_ context.Context, code string) (inventory.StockRecord, error) {
	rec, ok := tx.state.stock[code]
	if !ok {
		return inventory.StockRecord{}, inventory.ErrStockNotFound
	}
	return rec, nil
}

func (tx *memoryTx) UpdateStock(_ context.Context, rec inventory.StockRecord) error {
	if err := tx.fail("UpdateStock"); err != nil {
		return err
	}
	tx.state.stock[rec.ProductCode] = rec
	return nil
}

func (tx *memoryTx) InsertMovement(_ context.Context, m inventory.Movement) error {
	tx.state.movements = append(tx.state.movements, m)
	return nil
}

func (tx *memoryTx) LockCustomer(_ context.Context, id int64) (customers.Customer, error) {
	c, ok := tx.state.customers[id]
	if !ok {
		return customers.Customer{}, customers.ErrNotFound
	}
	return c, nil
}

func (tx *memoryTx) UnpaidAmounts(_ context.Context, customerID int64) ([]decimal.Decimal, error) {
	var out []decimal.Decimal
	for _, inv := range tx.state.invoices {
		if inv.Customer.ID == customerID && inv.UnpaidAmount.IsPositive() {
			out = append(out, inv.UnpaidAmount)
		}
	}
	return out, nil
}

func (tx *memoryTx) SetOutstandingCredit(_ context.Context, id int64, credit decimal.Decimal) (bool, error) {
	if err := tx.fail("SetOutstandingCredit"); err != nil {
		return false, err
	}
	c, ok := tx.state.customers[id]
	if !ok {
		return false, nil
	}
	c.OutstandingCredit = credit
	tx.state.customers[id] = c
	return true, nil
}

func (tx *memoryTx) InvoiceNumberExists(_ context.Context, number string) (bool, error) {
	for _, inv := range tx.state.invoices {
		if inv.Number == number {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memoryTx) InsertInvoice(_ context.Context, inv Invoice) (Invoice, error) {
	if err := tx.fail("InsertInvoice"); err != nil {
		return Invoice{}, err
	}
	tx.state.nextInvoice++
	inv.ID = tx.state.nextInvoice
	tx.state.invoices[inv.ID] = inv
	return inv, nil
}

func (tx *memoryTx) LockUnpaidInvoices(_ context.Context, customerID int64, ids []int64) ([]Invoice, error) {
	wanted := make(map[int64]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	var out []Invoice
	for _, inv := range tx.state.invoices {
		if inv.Customer.ID != customerID || !inv.UnpaidAmount.IsPositive() {
			continue
		}
		if len(ids) > 0 && !wanted[inv.ID] {
			continue
		}
		out = append(out, inv)
	}
	sortInvoices(out)
	return out, nil
}

func (tx *memoryTx) UpdateInvoicePayment(_ context.Context, inv Invoice) error {
	if err := tx.fail("UpdateInvoicePayment"); err != nil {
		return err
	}
	if _, ok := tx.state.invoices[inv.ID]; !ok {
		return ErrInvoiceNotFound
	}
	tx.state.invoices[inv.ID] = inv
	return nil
}

func (tx *memoryTx) InsertSettlement(_ context.Context, st Settlement) (Settlement, error) {
	if err := tx.fail("InsertSettlement"); err != nil {
		return Settlement{}, err
	}
	tx.state.nextSettleID++
	st.ID = tx.state.nextSettleID
	tx.state.settlements = append(tx.state.settlements, st)
	return st, nil
}

type recordingIntegration struct {
	created []InvoiceCreatedEvent
	settled []OutstandingSettledEvent
	err     error
}

func (r *recordingIntegration) HandleInvoiceCreated(_ context.Context, evt InvoiceCreatedEvent) error {
	r.created = append(r.created, evt)
	return r.err
}

func (r *recordingIntegration) HandleOutstandingSettled(_ context.Context, evt OutstandingSettledEvent) error {
	r.settled = append(r.settled, evt)
	return r.err
}

type recordingMetrics struct {
	outcomes map[string]int
}

func (m *recordingMetrics) ObserveBilling(operation, outcome string, _ float64) {
	if m.outcomes == nil {
		m.outcomes = map[string]int{}
	}
	m.outcomes[operation+"/"+outcome]++
}

var errBoom = errors.New("boom")

func withCredit(c customers.Customer, credit string) customers.Customer {
	c.OutstandingCredit = dec(credit)
	return c
}
