package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-pos/internal/billing"
	"github.com/odyssey-erp/odyssey-pos/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-pos/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskInvoiceCreated records a committed invoice.
	TaskInvoiceCreated = "billing:invoice-created"
	// TaskOutstandingSettled records a committed settlement receipt.
	TaskOutstandingSettled = "billing:outstanding-settled"
	// TaskBalanceReconcile recomputes every customer's outstanding credit.
	TaskBalanceReconcile = "billing:balance-reconcile"
	// TaskLowStockAlert reports products that fell under the stock threshold.
	TaskLowStockAlert = "inventory:low-stock"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// BalanceReconcilePayload carries scheduling metadata.
type BalanceReconcilePayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// LowStockAlertPayload lists the stock lines that crossed the threshold on a sale.
type LowStockAlertPayload struct {
	InvoiceNumber string                 `json:"invoice_number"`
	Items         []inventory.Adjustment `json:"items"`
}

// NewInvoiceCreatedTask wraps a committed invoice event.
func NewInvoiceCreatedTask(evt billing.InvoiceCreatedEvent) (*asynq.Task, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("encode invoice event: %w", err)
	}
	return asynq.NewTask(TaskInvoiceCreated, body, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// NewOutstandingSettledTask wraps a committed settlement event.
func NewOutstandingSettledTask(evt billing.OutstandingSettledEvent) (*asynq.Task, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("encode settlement event: %w", err)
	}
	return asynq.NewTask(TaskOutstandingSettled, body, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// NewBalanceReconcileTask constructs the reconcile task.
func NewBalanceReconcileTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(BalanceReconcilePayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBalanceReconcile, body, asynq.Queue(QueueDefault)), nil
}

// NewLowStockAlertTask constructs a low stock alert task.
func NewLowStockAlertTask(payload LowStockAlertPayload) (*asynq.Task, error) {
	if len(payload.Items) == 0 {
		return nil, fmt.Errorf("low stock alert: no items")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockAlert, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// NewTaskByName builds a task with a default payload for manual triggering.
func NewTaskByName(name string, now time.Time) (*asynq.Task, error) {
	switch name {
	case TaskBalanceReconcile, "balance-reconcile":
		return NewBalanceReconcileTask(now)
	default:
		return nil, fmt.Errorf("jobs: unsupported job %s", name)
	}
}
