package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-pos/internal/jobs"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// BalanceReconciler recomputes cached customer credit from unpaid invoices.
type BalanceReconciler interface {
	ReconcileAllBalances(ctx context.Context) (int, error)
}

// Locker guards a run so overlapping schedules do not reconcile twice.
type Locker interface {
	Acquire(ctx context.Context, scope string, ttl time.Duration) (func(context.Context) error, error)
}

const reconcileLockTTL = 30 * time.Minute

// BalanceReconcileJob repairs outstanding credit drift on a schedule.
type BalanceReconcileJob struct {
	Service BalanceReconciler
	Lock    Locker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewBalanceReconcileJob constructs the job handler.
func NewBalanceReconcileJob(service BalanceReconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *BalanceReconcileJob {
	return &BalanceReconcileJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle executes the reconcile run.
func (j *BalanceReconcileJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("balance reconcile: dependencies not configured")
	}
	var payload BalanceReconcilePayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	if j.Lock != nil {
		release, err := j.Lock.Acquire(ctx, "balance-reconcile", reconcileLockTTL)
		if errors.Is(err, shared.ErrLockHeld) {
			j.log().Info("reconcile already running, skipping")
			return nil
		}
		if err != nil {
			return err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				j.log().Warn("release reconcile lock", slog.Any("error", err))
			}
		}()
	}

	tracker := j.metrics().Track(TaskBalanceReconcile)
	start := time.Now()
	count, err := j.Service.ReconcileAllBalances(ctx)
	j.metrics().AddReconciled(count)
	if err != nil {
		j.log().Error("reconcile balances", slog.Int("customers", count), slog.Any("error", err))
		return tracker.End(err)
	}
	j.log().Info("reconciled customer balances",
		slog.Int("customers", count),
		slog.Time("scheduled_for", payload.ScheduledFor),
		slog.Duration("duration", time.Since(start)))
	return tracker.End(nil)
}

func (j *BalanceReconcileJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *BalanceReconcileJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskBalanceReconcile))
	}
	return slog.Default().With(slog.String("job", TaskBalanceReconcile))
}
