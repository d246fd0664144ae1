package billing

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

func newTestRouter(t *testing.T) (http.Handler, *fixture) {
	t.Helper()
	f := newFixture(t, true)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	r := chi.NewRouter()
	NewHandler(nil, f.svc, shared.NewIdempotencyStore(client, time.Minute)).MountRoutes(r)
	return r, f
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func createInvoiceBody(current, outstanding string) map[string]any {
	return map[string]any{
		"customer": map[string]any{"id": 1, "name": "Asha", "contact": "98450"},
		"cashier":  map[string]any{"cashierId": 3, "cashierName": "Meena", "counterNum": "2"},
		"lineItems": []map[string]any{{
			"name": "Rice 25kg", "code": "RICE25", "unitPrice": "1180", "quantity": "1", "unit": "bag",
			"totalPrice": "1180", "basicPrice": "1000", "gstRate": "9", "sgstRate": "9",
			"gstAmount": "90", "sgstAmount": "90", "hsnCode": "1006",
		}},
		"transportCharge": "20",
		"payment":         map[string]any{"currentBillPayment": current, "outstandingPayment": outstanding, "method": "cash"},
	}
}

func TestHandlerCreateInvoice(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/invoices", createInvoiceBody("600", "0"), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var body struct {
		Invoice struct {
			InvoiceNumber string `json:"invoiceNumber"`
			GrandTotal    string `json:"grandTotal"`
			Unpaid        string `json:"unpaidAmountForThisInvoice"`
			Status        string `json:"status"`
		} `json:"invoice"`
		OutstandingCredit string `json:"outstandingCredit"`
		SettledInvoices   []any  `json:"settledInvoices"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "1200", body.Invoice.GrandTotal)
	require.Equal(t, "600", body.Invoice.Unpaid)
	require.Equal(t, "partial", body.Invoice.Status)
	require.Equal(t, "1400", body.OutstandingCredit)
	require.NotNil(t, body.SettledInvoices)
}

func TestHandlerCreateInvoiceErrors(t *testing.T) {
	router, _ := newTestRouter(t)

	body := createInvoiceBody("600", "0")
	delete(body, "payment")
	rec := doJSON(t, router, http.MethodPost, "/invoices", body, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body = createInvoiceBody("600", "0")
	body["invoiceNumber"] = "A"
	rec = doJSON(t, router, http.MethodPost, "/invoices", body, nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, http.StatusConflict, problem.Status)

	req := httptest.NewRequest(http.MethodPost, "/invoices", bytes.NewBufferString("{"))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerCreateInvoiceOutstandingWithoutDebt(t *testing.T) {
	router, _ := newTestRouter(t)
	body := createInvoiceBody("1200", "100")
	body["customer"] = map[string]any{"id": 2, "name": "Ravi", "contact": "98451"}

	rec := doJSON(t, router, http.MethodPost, "/invoices", body, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, http.StatusBadRequest, problem.Status)
}

func TestHandlerCreateInvoiceIdempotencyKey(t *testing.T) {
	router, f := newTestRouter(t)
	headers := map[string]string{IdempotencyHeader: "till-2-0001"}

	rec := doJSON(t, router, http.MethodPost, "/invoices", createInvoiceBody("600", "0"), headers)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/invoices", createInvoiceBody("600", "0"), headers)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Len(t, f.repo.state.invoices, 3)
}

func TestHandlerFailedRequestReleasesIdempotencyKey(t *testing.T) {
	router, _ := newTestRouter(t)
	headers := map[string]string{IdempotencyHeader: "till-2-0002"}

	bad := createInvoiceBody("600", "0")
	bad["invoiceNumber"] = "A"
	rec := doJSON(t, router, http.MethodPost, "/invoices", bad, headers)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/invoices", createInvoiceBody("600", "0"), headers)
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestHandlerSettleOutstanding(t *testing.T) {
	router, f := newTestRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/invoices/settle-outstanding", map[string]any{
		"customerId":               1,
		"paymentMethod":            "cash",
		"amountPaid":               "600",
		"cashier":                  map[string]any{"cashierId": 3, "cashierName": "Meena", "counterNum": "2"},
		"selectedUnpaidInvoiceIds": []int64{f.invoiceA.ID, f.invoiceB.ID},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		UpdatedInvoices []struct {
			Status string `json:"status"`
		} `json:"updatedInvoices"`
		Remainder         string `json:"remainder"`
		OutstandingCredit string `json:"outstandingCredit"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.UpdatedInvoices, 2)
	require.Equal(t, "paid", body.UpdatedInvoices[0].Status)
	require.Equal(t, "partial", body.UpdatedInvoices[1].Status)
	require.Equal(t, "0", body.Remainder)
	require.Equal(t, "200", body.OutstandingCredit)
}

func TestHandlerSettleOutstandingAcceptsBillIDs(t *testing.T) {
	router, f := newTestRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/invoices/settle-outstanding", map[string]any{
		"customerId":            1,
		"paymentMethod":         "cash",
		"amountPaid":            "100",
		"cashier":               map[string]any{"cashierId": 3, "cashierName": "Meena", "counterNum": "2"},
		"selectedUnpaidBillIds": []int64{f.invoiceB.ID},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.True(t, f.repo.invoice(f.invoiceB.ID).UnpaidAmount.Equal(dec("200")))
}

func TestHandlerSettleOutstandingErrors(t *testing.T) {
	router, f := newTestRouter(t)
	paid := f.repo.seedInvoice(unpaidInvoice(0, "P", "100", "0", day1))
	cashier := map[string]any{"cashierId": 3, "cashierName": "Meena", "counterNum": "2"}

	rec := doJSON(t, router, http.MethodPost, "/invoices/settle-outstanding", map[string]any{
		"customerId": 1, "paymentMethod": "cash", "amountPaid": "100", "cashier": cashier,
		"selectedUnpaidInvoiceIds": []int64{paid.ID},
	}, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/invoices/settle-outstanding", map[string]any{
		"customerId": 1, "paymentMethod": "cash", "amountPaid": "100", "cashier": cashier,
	}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/invoices/settle-outstanding", map[string]any{
		"customerId": "abc", "paymentMethod": "cash", "amountPaid": "100", "cashier": cashier,
	}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerSettleOutstandingHidesInternalErrors(t *testing.T) {
	router, f := newTestRouter(t)
	f.repo.failOn["InsertSettlement"] = errBoom

	rec := doJSON(t, router, http.MethodPost, "/invoices/settle-outstanding", map[string]any{
		"customerId": 1, "paymentMethod": "cash", "amountPaid": "100",
		"cashier":                  map[string]any{"cashierId": 3, "cashierName": "Meena", "counterNum": "2"},
		"selectedUnpaidInvoiceIds": []int64{f.invoiceA.ID},
	}, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "boom")
}

func TestHandlerListInvoices(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/invoices?customerId=1&unpaidOnly=true", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Invoices []Invoice `json:"invoices"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Invoices, 2)

	rec = doJSON(t, router, http.MethodGet, "/invoices?customerId=abc", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/invoices?unpaidOnly=maybe", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerListUnpaidInvoices(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/invoices/unpaid?customerId=1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Invoices []Invoice `json:"invoices"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Invoices, 2)
	require.Equal(t, "A", body.Invoices[0].Number)

	rec = doJSON(t, router, http.MethodGet, "/invoices/unpaid", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerShowInvoiceAndOutstanding(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/invoices/1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/invoices/404", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/customers/1/outstanding", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		OutstandingCredit string `json:"outstandingCredit"`
		Invoices          []any  `json:"invoices"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, "800", out.OutstandingCredit)
	require.Len(t, out.Invoices, 2)

	rec = doJSON(t, router, http.MethodGet, "/settlements?customerId=1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
