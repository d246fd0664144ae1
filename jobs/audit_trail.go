package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-pos/internal/billing"
	jobmetrics "github.com/odyssey-erp/odyssey-pos/internal/jobs"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// AuditRecorder persists audit rows.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// AuditTrailJob turns committed billing events into audit_logs rows.
type AuditTrailJob struct {
	Recorder AuditRecorder
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewAuditTrailJob constructs the job handler.
func NewAuditTrailJob(recorder AuditRecorder, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditTrailJob {
	return &AuditTrailJob{Recorder: recorder, Logger: logger, Metrics: metrics}
}

// HandleInvoiceCreated records an invoice.created entry.
func (j *AuditTrailJob) HandleInvoiceCreated(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Recorder == nil {
		return errors.New("audit trail: recorder not configured")
	}
	var evt billing.InvoiceCreatedEvent
	if err := json.Unmarshal(task.Payload(), &evt); err != nil || evt.InvoiceNumber == "" {
		j.log().Warn("discard invoice event", slog.Any("error", err))
		return asynq.SkipRetry
	}
	meta := map[string]any{
		"customer_id":        evt.CustomerID,
		"grand_total":        evt.GrandTotal.String(),
		"paid_amount":        evt.PaidAmount.String(),
		"unpaid_amount":      evt.UnpaidAmount.String(),
		"outstanding_credit": evt.OutstandingCredit.String(),
	}
	if evt.SettlementNumber != "" {
		meta["settlement_number"] = evt.SettlementNumber
	}
	return j.record(ctx, TaskInvoiceCreated, shared.AuditLog{
		ActorID:  evt.CashierID,
		Action:   "invoice.created",
		Entity:   "invoice",
		EntityID: evt.InvoiceNumber,
		Meta:     meta,
		At:       evt.CreatedAt,
	})
}

// HandleOutstandingSettled records an outstanding.settled entry.
func (j *AuditTrailJob) HandleOutstandingSettled(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Recorder == nil {
		return errors.New("audit trail: recorder not configured")
	}
	var evt billing.OutstandingSettledEvent
	if err := json.Unmarshal(task.Payload(), &evt); err != nil || evt.SettlementNumber == "" {
		j.log().Warn("discard settlement event", slog.Any("error", err))
		return asynq.SkipRetry
	}
	return j.record(ctx, TaskOutstandingSettled, shared.AuditLog{
		ActorID:  evt.CashierID,
		Action:   "outstanding.settled",
		Entity:   "settlement",
		EntityID: evt.SettlementNumber,
		Meta: map[string]any{
			"customer_id":        evt.CustomerID,
			"amount":             evt.Amount.String(),
			"applied":            evt.Applied.String(),
			"remainder":          evt.Remainder.String(),
			"invoice_ids":        evt.InvoiceIDs,
			"outstanding_credit": evt.OutstandingCredit.String(),
		},
		At: evt.SettledAt,
	})
}

func (j *AuditTrailJob) record(ctx context.Context, job string, entry shared.AuditLog) error {
	tracker := j.metrics().Track(job)
	if err := j.Recorder.Record(ctx, entry); err != nil {
		j.log().Error("record audit", slog.String("action", entry.Action), slog.String("entity_id", entry.EntityID), slog.Any("error", err))
		return tracker.End(fmt.Errorf("audit trail: %w", err))
	}
	return tracker.End(nil)
}

func (j *AuditTrailJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *AuditTrailJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", "audit-trail"))
	}
	return slog.Default().With(slog.String("job", "audit-trail"))
}
