package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-pos/internal/jobs"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// LowStockAlertJob reports products below the configured threshold.
type LowStockAlertJob struct {
	Recorder AuditRecorder
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewLowStockAlertJob constructs the job handler. The recorder is optional.
func NewLowStockAlertJob(recorder AuditRecorder, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockAlertJob {
	return &LowStockAlertJob{Recorder: recorder, Logger: logger, Metrics: metrics}
}

// Handle logs one warning per product and records it when a recorder is set.
func (j *LowStockAlertJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload LowStockAlertPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil || len(payload.Items) == 0 {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskLowStockAlert)
	for _, item := range payload.Items {
		j.log().Warn("stock below threshold",
			slog.String("product_code", item.ProductCode),
			slog.String("name", item.Name),
			slog.String("remaining", item.After.String()),
			slog.String("invoice_number", payload.InvoiceNumber))
		if j.Recorder == nil {
			continue
		}
		entityID := item.ProductCode
		if entityID == "" {
			entityID = item.Name
		}
		err := j.Recorder.Record(ctx, shared.AuditLog{
			Action:   "stock.low",
			Entity:   "product",
			EntityID: entityID,
			Meta: map[string]any{
				"remaining":      item.After.String(),
				"invoice_number": payload.InvoiceNumber,
			},
		})
		if err != nil {
			return tracker.End(err)
		}
	}
	j.metrics().AddLowStock(len(payload.Items))
	return tracker.End(nil)
}

func (j *LowStockAlertJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *LowStockAlertJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLowStockAlert))
	}
	return slog.Default().With(slog.String("job", TaskLowStockAlert))
}
