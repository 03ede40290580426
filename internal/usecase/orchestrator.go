package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/orenda/api/leadflow-engine/internal/storage"
	"gitlab.com/orenda/api/leadflow-engine/internal/tenant"
	"gitlab.com/orenda/api/leadflow-engine/pkg/logger"
	"gitlab.com/orenda/api/leadflow-engine/pkg/utils"
)

// SessionDropper tears down a tenant's session. Implemented by
// session.Registry.
type SessionDropper interface {
	Drop(ctx context.Context, tenantID string)
}

// Orchestrator drives the recurring scheduler loop: every interval it lists
// active tenants, fans a tick per tenant into the worker pool, and drops
// sessions of tenants that turned inactive since the previous pass.
type Orchestrator struct {
	cfgRepo  storage.TenantConfigRepo
	worker   ITickWorker
	sessions SessionDropper
	interval time.Duration

	active map[string]struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// NewOrchestrator creates the scheduler orchestrator.
func NewOrchestrator(cfgRepo storage.TenantConfigRepo, worker ITickWorker, sessions SessionDropper, interval time.Duration) *Orchestrator {
	return &Orchestrator{
		cfgRepo:  cfgRepo,
		worker:   worker,
		sessions: sessions,
		interval: interval,
		active:   make(map[string]struct{}),
	}
}

// Start launches the tick loop. It returns immediately; the loop runs until
// Stop or until the parent context is cancelled.
func (o *Orchestrator) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	o.cancel = cancel
	o.done = make(chan struct{})

	utils.SafeGo(func() {
		defer close(o.done)

		ticker := time.NewTicker(o.interval)
		defer ticker.Stop()

		// Run one pass up front so a restart does not wait a full interval.
		o.runPass(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.runPass(ctx)
			}
		}
	}, nil)
}

// Stop halts the tick loop and waits for the in-flight pass to finish.
// Queued ticks already in the worker pool still drain there.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	if o.done != nil {
		<-o.done
	}
}

// runPass performs one orchestration pass over all tenants.
func (o *Orchestrator) runPass(ctx context.Context) {
	log := logger.FromContext(ctx)

	ids, err := o.cfgRepo.ListActiveTenantIDs(ctx)
	if err != nil {
		log.Error("Failed to list active tenants, skipping pass", zap.Error(err))
		return
	}

	current := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		current[id] = struct{}{}
	}

	// Deactivated tenants lose their session; in-flight sends finish, new
	// sends are refused.
	for id := range o.active {
		if _, ok := current[id]; !ok {
			log.Info("Tenant deactivated, dropping session", zap.String("tenant_id", id))
			o.sessions.Drop(ctx, id)
		}
	}
	o.active = current

	for _, id := range ids {
		tickCtx := tenant.WithTenantID(ctx, id)
		tickCtx = tenant.WithRequestID(tickCtx, uuid.NewString())

		if err := o.worker.SubmitTick(TickTask{Ctx: tickCtx, TenantID: id}); err != nil {
			log.Warn("Failed to submit tenant tick",
				zap.String("tenant_id", id),
				zap.Error(err),
			)
		}
	}
}
