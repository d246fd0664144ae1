package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pos/internal/billing"
	"github.com/odyssey-erp/odyssey-pos/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-pos/internal/jobs"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

type fakeEnqueuer struct {
	tasks  []*asynq.Task
	err    error
	closed bool
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{Type: task.Type(), Queue: QueueDefault}, nil
}

func (f *fakeEnqueuer) Close() error {
	f.closed = true
	return nil
}

type fakeRecorder struct {
	logs []shared.AuditLog
	err  error
}

func (f *fakeRecorder) Record(_ context.Context, log shared.AuditLog) error {
	if f.err != nil {
		return f.err
	}
	f.logs = append(f.logs, log)
	return nil
}

type fakeReconciler struct {
	count int
	err   error
	calls int
}

func (f *fakeReconciler) ReconcileAllBalances(context.Context) (int, error) {
	f.calls++
	return f.count, f.err
}

type fakeInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (f fakeInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return f.info, f.err
}

func newTestMetrics(t *testing.T) (*jobmetrics.Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return jobmetrics.NewMetrics(reg), reg
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func sampleInvoiceEvent() billing.InvoiceCreatedEvent {
	return billing.InvoiceCreatedEvent{
		InvoiceID:         7,
		InvoiceNumber:     "INV-20260115-0A1B2C3D",
		CustomerID:        1,
		CashierID:         42,
		GrandTotal:        decimal.NewFromInt(1000),
		PaidAmount:        decimal.NewFromInt(600),
		UnpaidAmount:      decimal.NewFromInt(400),
		OutstandingCredit: decimal.NewFromInt(400),
		CreatedAt:         time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC),
	}
}

func TestClientEnqueuesInvoiceEvent(t *testing.T) {
	fake := &fakeEnqueuer{}
	client := &Client{client: fake}

	require.NoError(t, client.HandleInvoiceCreated(context.Background(), sampleInvoiceEvent()))
	require.Len(t, fake.tasks, 1)
	require.Equal(t, TaskInvoiceCreated, fake.tasks[0].Type())

	var decoded billing.InvoiceCreatedEvent
	require.NoError(t, json.Unmarshal(fake.tasks[0].Payload(), &decoded))
	require.Equal(t, "INV-20260115-0A1B2C3D", decoded.InvoiceNumber)
	require.True(t, decoded.UnpaidAmount.Equal(decimal.NewFromInt(400)))
}

func TestClientEnqueuesLowStockAlert(t *testing.T) {
	fake := &fakeEnqueuer{}
	client := &Client{client: fake}
	evt := sampleInvoiceEvent()
	evt.LowStock = []inventory.Adjustment{{ProductCode: "RICE25", Name: "Rice 25kg", After: decimal.NewFromInt(2), LowStock: true}}

	require.NoError(t, client.HandleInvoiceCreated(context.Background(), evt))
	require.Len(t, fake.tasks, 2)
	require.Equal(t, TaskLowStockAlert, fake.tasks[1].Type())

	var payload LowStockAlertPayload
	require.NoError(t, json.Unmarshal(fake.tasks[1].Payload(), &payload))
	require.Equal(t, evt.InvoiceNumber, payload.InvoiceNumber)
	require.Len(t, payload.Items, 1)
}

func TestClientEnqueuesSettlementEvent(t *testing.T) {
	fake := &fakeEnqueuer{}
	client := &Client{client: fake}
	evt := billing.OutstandingSettledEvent{SettlementNumber: "STL-20260115-AA", CustomerID: 1, InvoiceIDs: []int64{3, 4}}

	require.NoError(t, client.HandleOutstandingSettled(context.Background(), evt))
	require.Len(t, fake.tasks, 1)
	require.Equal(t, TaskOutstandingSettled, fake.tasks[0].Type())
	require.NoError(t, client.Close())
	require.True(t, fake.closed)
}

func TestClientPropagatesEnqueueError(t *testing.T) {
	client := &Client{client: &fakeEnqueuer{err: errors.New("redis down")}}
	require.Error(t, client.HandleOutstandingSettled(context.Background(), billing.OutstandingSettledEvent{SettlementNumber: "STL-1"}))

	var unset *Client
	_, err := unset.Enqueue(context.Background(), asynq.NewTask(TaskBalanceReconcile, nil))
	require.Error(t, err)
}

func TestNewTaskByName(t *testing.T) {
	now := time.Date(2026, 1, 15, 2, 0, 0, 0, time.UTC)
	for _, name := range []string{TaskBalanceReconcile, "balance-reconcile"} {
		task, err := NewTaskByName(name, now)
		require.NoError(t, err)
		require.Equal(t, TaskBalanceReconcile, task.Type())
	}
	_, err := NewTaskByName("inventory:revaluation", now)
	require.Error(t, err)

	_, err = NewLowStockAlertTask(LowStockAlertPayload{InvoiceNumber: "INV-1"})
	require.Error(t, err)
}

func TestBalanceReconcileJob(t *testing.T) {
	metrics, _ := newTestMetrics(t)
	reconciler := &fakeReconciler{count: 3}
	job := NewBalanceReconcileJob(reconciler, nil, metrics)
	task, err := NewBalanceReconcileTask(time.Now())
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 1, reconciler.calls)

	reconciler.err = errors.New("customer 9: boom")
	require.Error(t, job.Handle(context.Background(), task))

	err = job.Handle(context.Background(), asynq.NewTask(TaskBalanceReconcile, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	require.Error(t, (&BalanceReconcileJob{}).Handle(context.Background(), task))
}

func TestBalanceReconcileJobSkipsWhenLocked(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := shared.NewRedisLocker(client)

	metrics, _ := newTestMetrics(t)
	reconciler := &fakeReconciler{count: 1}
	job := NewBalanceReconcileJob(reconciler, nil, metrics)
	job.Lock = locker
	task, err := NewBalanceReconcileTask(time.Now())
	require.NoError(t, err)

	release, err := locker.Acquire(context.Background(), "balance-reconcile", time.Minute)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Zero(t, reconciler.calls)

	require.NoError(t, release(context.Background()))
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 1, reconciler.calls)
	require.False(t, mr.Exists(shared.LockKey("balance-reconcile")))
}

func TestAuditTrailRecordsInvoice(t *testing.T) {
	metrics, _ := newTestMetrics(t)
	recorder := &fakeRecorder{}
	job := NewAuditTrailJob(recorder, nil, metrics)
	evt := sampleInvoiceEvent()
	evt.SettlementNumber = "STL-20260115-BB"
	task, err := NewInvoiceCreatedTask(evt)
	require.NoError(t, err)

	require.NoError(t, job.HandleInvoiceCreated(context.Background(), task))
	require.Len(t, recorder.logs, 1)
	entry := recorder.logs[0]
	require.Equal(t, "invoice.created", entry.Action)
	require.Equal(t, "invoice", entry.Entity)
	require.Equal(t, evt.InvoiceNumber, entry.EntityID)
	require.Equal(t, int64(42), entry.ActorID)
	require.Equal(t, "400", entry.Meta["unpaid_amount"])
	require.Equal(t, "STL-20260115-BB", entry.Meta["settlement_number"])
	require.True(t, entry.At.Equal(evt.CreatedAt))
}

func TestAuditTrailRecordsSettlement(t *testing.T) {
	recorder := &fakeRecorder{}
	job := NewAuditTrailJob(recorder, nil, nil)
	task, err := NewOutstandingSettledTask(billing.OutstandingSettledEvent{
		SettlementNumber: "STL-20260115-CC",
		CustomerID:       1,
		CashierID:        5,
		Amount:           decimal.NewFromInt(600),
		Applied:          decimal.NewFromInt(600),
		InvoiceIDs:       []int64{1, 2},
	})
	require.NoError(t, err)

	require.NoError(t, job.HandleOutstandingSettled(context.Background(), task))
	require.Len(t, recorder.logs, 1)
	require.Equal(t, "outstanding.settled", recorder.logs[0].Action)
	require.Equal(t, "600", recorder.logs[0].Meta["applied"])
}

func TestAuditTrailFailures(t *testing.T) {
	metrics, reg := newTestMetrics(t)
	recorder := &fakeRecorder{err: errors.New("insert failed")}
	job := NewAuditTrailJob(recorder, nil, metrics)
	task, err := NewInvoiceCreatedTask(sampleInvoiceEvent())
	require.NoError(t, err)

	require.Error(t, job.HandleInvoiceCreated(context.Background(), task))
	require.Equal(t, float64(1), counterValue(t, reg, "pos_jobs_failures_total"))

	err = job.HandleInvoiceCreated(context.Background(), asynq.NewTask(TaskInvoiceCreated, []byte(`{}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
	err = job.HandleOutstandingSettled(context.Background(), asynq.NewTask(TaskOutstandingSettled, []byte("nope")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestLowStockAlertJob(t *testing.T) {
	metrics, reg := newTestMetrics(t)
	recorder := &fakeRecorder{}
	job := NewLowStockAlertJob(recorder, nil, metrics)
	task, err := NewLowStockAlertTask(LowStockAlertPayload{
		InvoiceNumber: "INV-9",
		Items: []inventory.Adjustment{
			{ProductCode: "RICE25", Name: "Rice 25kg", After: decimal.NewFromInt(2)},
			{Name: "Loose sugar", After: decimal.NewFromInt(1)},
		},
	})
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Len(t, recorder.logs, 2)
	require.Equal(t, "RICE25", recorder.logs[0].EntityID)
	require.Equal(t, "Loose sugar", recorder.logs[1].EntityID)
	require.Equal(t, "stock.low", recorder.logs[1].Action)

	require.Equal(t, float64(2), counterValue(t, reg, "pos_low_stock_alerts_total"))

	err = job.Handle(context.Background(), asynq.NewTask(TaskLowStockAlert, []byte(`{"items":[]}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestLowStockAlertWithoutRecorder(t *testing.T) {
	job := NewLowStockAlertJob(nil, nil, nil)
	task, err := NewLowStockAlertTask(LowStockAlertPayload{Items: []inventory.Adjustment{{Name: "Oil"}}})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
}

func TestBillingHandlers(t *testing.T) {
	handlers := BillingHandlers(&BalanceReconcileJob{}, &AuditTrailJob{}, &LowStockAlertJob{})
	types := make([]string, 0, len(handlers))
	for _, h := range handlers {
		types = append(types, h.Type)
	}
	require.ElementsMatch(t, []string{TaskBalanceReconcile, TaskInvoiceCreated, TaskOutstandingSettled, TaskLowStockAlert}, types)
	require.Len(t, BillingHandlers(nil, nil, nil), 0)
}

func TestJobsHealth(t *testing.T) {
	cases := []struct {
		name      string
		inspector QueueInspector
		status    int
		body      string
	}{
		{name: "no inspector", status: http.StatusOK, body: `{"queue":"default","pending":0}`},
		{name: "queue info", inspector: fakeInspector{info: &asynq.QueueInfo{Queue: "default", Pending: 4}}, status: http.StatusOK, body: `{"queue":"default","pending":4}`},
		{name: "redis down", inspector: fakeInspector{err: errors.New("dial tcp")}, status: http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := chi.NewRouter()
			NewHandler(tc.inspector, nil).MountRoutes(r)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			require.Equal(t, tc.status, rec.Code)
			if tc.body != "" {
				require.JSONEq(t, tc.body, rec.Body.String())
			}
		})
	}
}
