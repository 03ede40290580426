package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"gitlab.com/orenda/api/leadflow-engine/internal/config"
	"gitlab.com/orenda/api/leadflow-engine/internal/observer"
	"gitlab.com/orenda/api/leadflow-engine/pkg/logger"
)

// TickTask carries one tenant's scheduler tick into the worker pool. Ctx is
// derived for the task and already carries the tenant ID.
type TickTask struct {
	Ctx      context.Context
	TenantID string
}

// ITickWorker defines the interface for the scheduler tick worker pool.
type ITickWorker interface {
	SubmitTick(task TickTask) error
	Stop()
}

// TickWorker runs scheduler ticks on a bounded pool so one slow tenant never
// stalls the others.
type TickWorker struct {
	pool       *ants.PoolWithFunc
	service    *EngagementService
	cfg        config.SchedulerWorkerPoolConfig
	baseLogger *zap.Logger
}

// Ensure TickWorker implements ITickWorker
var _ ITickWorker = (*TickWorker)(nil)

// NewTickWorker creates and initializes the tick worker pool.
func NewTickWorker(cfg config.SchedulerWorkerPoolConfig, service *EngagementService, baseLogger *zap.Logger) (*TickWorker, error) {
	worker := &TickWorker{
		service:    service,
		cfg:        cfg,
		baseLogger: baseLogger.Named("tick_worker"),
	}

	pool, err := ants.NewPoolWithFunc(cfg.PoolSize, func(i interface{}) {
		task, ok := i.(TickTask)
		if !ok {
			worker.baseLogger.Error("Invalid task type received", zap.Any("data", i))
			return
		}
		worker.runTick(task)
	},
		ants.WithExpiryDuration(cfg.ExpiryTime),
		ants.WithNonblocking(false),
		ants.WithMaxBlockingTasks(cfg.QueueSize),
		ants.WithPanicHandler(func(err interface{}) {
			worker.baseLogger.Error("Panic recovered in tick worker", zap.Any("panic_error", err), zap.Stack("stack"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tick worker pool: %w", err)
	}
	worker.pool = pool
	worker.baseLogger.Info("Tick worker pool initialized",
		zap.Int("pool_size", cfg.PoolSize),
		zap.Int("queue_size", cfg.QueueSize),
	)
	return worker, nil
}

// SubmitTick queues one tenant tick. Blocks while the queue is full.
func (w *TickWorker) SubmitTick(task TickTask) error {
	observer.SetTickQueueLength(w.pool.Waiting())

	if err := w.pool.Invoke(task); err != nil {
		w.baseLogger.Warn("Failed to submit tick to pool",
			zap.String("tenant_id", task.TenantID),
			zap.Error(err),
		)
		if errors.Is(err, ants.ErrPoolOverload) {
			return fmt.Errorf("tick pool overload: %w", err)
		}
		return fmt.Errorf("failed to invoke tick: %w", err)
	}
	return nil
}

// runTick executes the tick inside a pool worker.
func (w *TickWorker) runTick(task TickTask) {
	log := logger.FromContext(task.Ctx)

	if err := w.service.RunSchedulerTick(task.Ctx); err != nil {
		log.Error("Scheduler tick failed",
			zap.String("tenant_id", task.TenantID),
			zap.Error(err),
		)
	}
}

// Stop gracefully shuts down the worker pool.
func (w *TickWorker) Stop() {
	if w.pool != nil {
		w.baseLogger.Info("Stopping tick worker pool...")
		w.pool.Release()
	}
}
