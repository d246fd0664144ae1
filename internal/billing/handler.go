package billing

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// IdempotencyHeader carries the client's replay-protection key.
const IdempotencyHeader = "Idempotency-Key"

// IdempotencyPort reserves request keys.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// Handler manages billing endpoints.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	validate    *validator.Validate
	idempotency IdempotencyPort
}

// NewHandler builds Handler instance. idempotency may be nil.
func NewHandler(logger *slog.Logger, service *Service, idempotency IdempotencyPort) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validate: validator.New(), idempotency: idempotency}
}

// MountRoutes registers billing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/invoices", h.listInvoices)
	r.Get("/invoices/unpaid", h.listUnpaidInvoices)
	r.Get("/invoices/{id}", h.showInvoice)
	r.Post("/invoices", h.createInvoice)
	r.Post("/invoices/settle-outstanding", h.settleOutstanding)
	r.Get("/customers/{id}/outstanding", h.customerOutstanding)
	r.Get("/settlements", h.listSettlements)
}

type createInvoiceRequest struct {
	Customer                 CustomerRef     `json:"customer"`
	Cashier                  CashierRef      `json:"cashier"`
	LineItems                []LineItem      `json:"lineItems" validate:"max=500"`
	TransportCharge          decimal.Decimal `json:"transportCharge"`
	Payment                  *Payment        `json:"payment"`
	InvoiceNumber            string          `json:"invoiceNumber" validate:"omitempty,max=64"`
	SelectedUnpaidInvoiceIDs []int64         `json:"selectedUnpaidInvoiceIds" validate:"omitempty,max=500"`
}

type settleOutstandingRequest struct {
	CustomerID               int64           `json:"customerId"`
	PaymentMethod            string          `json:"paymentMethod" validate:"max=50"`
	TransactionID            string          `json:"transactionId" validate:"max=128"`
	AmountPaid               decimal.Decimal `json:"amountPaid"`
	Cashier                  CashierRef      `json:"cashier"`
	SelectedUnpaidInvoiceIDs []int64         `json:"selectedUnpaidInvoiceIds" validate:"max=500"`
	// SelectedUnpaidBillIDs is the older name some tills still send.
	SelectedUnpaidBillIDs []int64 `json:"selectedUnpaidBillIds" validate:"max=500"`
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	release, ok := h.reserve(w, r, "billing:create-invoice")
	if !ok {
		return
	}
	result, err := h.service.CreateInvoice(r.Context(), SaleInput{
		Customer:         req.Customer,
		Cashier:          req.Cashier,
		LineItems:        req.LineItems,
		TransportCharge:  req.TransportCharge,
		Payment:          req.Payment,
		InvoiceNumber:    req.InvoiceNumber,
		SettleInvoiceIDs: req.SelectedUnpaidInvoiceIDs,
	})
	if err != nil {
		release()
		h.respondError(w, "create invoice", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) settleOutstanding(w http.ResponseWriter, r *http.Request) {
	var req settleOutstandingRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	release, ok := h.reserve(w, r, "billing:settle-outstanding")
	if !ok {
		return
	}
	result, err := h.service.SettleOutstanding(r.Context(), SettleRequest{
		CustomerID:    req.CustomerID,
		Cashier:       req.Cashier,
		Amount:        req.AmountPaid,
		PaymentMethod: req.PaymentMethod,
		TransactionID: req.TransactionID,
		InvoiceIDs:    append(req.SelectedUnpaidInvoiceIDs, req.SelectedUnpaidBillIDs...),
	})
	if err != nil {
		release()
		h.respondError(w, "settle outstanding", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter ListFilter
	if raw := strings.TrimSpace(q.Get("customerId")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			httpx.RespondError(w, ErrInvalidCustomerID)
			return
		}
		filter.CustomerID = id
	}
	if raw := q.Get("unpaidOnly"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unpaidOnly must be a boolean")
			return
		}
		filter.UnpaidOnly = v
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	items, err := h.service.ListInvoices(r.Context(), filter)
	if err != nil {
		h.respondError(w, "list invoices", err)
		return
	}
	page := shared.NewPage(filter.Limit, filter.Offset)
	httpx.JSON(w, http.StatusOK, map[string]any{"invoices": items, "page": page})
}

func (h *Handler) listUnpaidInvoices(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(strings.TrimSpace(r.URL.Query().Get("customerId")), 10, 64)
	if err != nil {
		httpx.RespondError(w, ErrInvalidCustomerID)
		return
	}
	items, err := h.service.ListUnpaidInvoices(r.Context(), id)
	if err != nil {
		h.respondError(w, "list unpaid invoices", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invoices": items})
}

func (h *Handler) showInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invoice id must be an integer")
		return
	}
	inv, err := h.service.GetInvoice(r.Context(), id)
	if err != nil {
		h.respondError(w, "get invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) customerOutstanding(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, ErrInvalidCustomerID)
		return
	}
	out, err := h.service.CustomerOutstanding(r.Context(), id)
	if err != nil {
		h.respondError(w, "customer outstanding", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) listSettlements(w http.ResponseWriter, r *http.Request) {
	var customerID int64
	if raw := strings.TrimSpace(r.URL.Query().Get("customerId")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			httpx.RespondError(w, ErrInvalidCustomerID)
			return
		}
		customerID = id
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := h.service.ListSettlements(r.Context(), customerID, limit)
	if err != nil {
		h.respondError(w, "list settlements", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"settlements": items})
}

// reserve claims the request's idempotency key. The returned func releases it
// so a failed request can be retried with the same key.
func (h *Handler) reserve(w http.ResponseWriter, r *http.Request, module string) (func(), bool) {
	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if key == "" || h.idempotency == nil {
		return func() {}, true
	}
	if err := h.idempotency.CheckAndInsert(r.Context(), key, module); err != nil {
		if errors.Is(err, shared.ErrConflict) {
			httpx.RespondError(w, err)
			return nil, false
		}
		h.logger.Error("idempotency reserve", slog.String("module", module), slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "idempotency store unavailable")
		return nil, false
	}
	return func() {
		if err := h.idempotency.Delete(context.WithoutCancel(r.Context()), key, module); err != nil {
			h.logger.Warn("idempotency release", slog.String("module", module), slog.Any("error", err))
		}
	}, true
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
