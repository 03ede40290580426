// Package usecase implements the engagement engine: inbound message
// processing, the recurring scheduler tick and the orchestrator that fans
// ticks out across tenants.
package usecase

import (
	"context"
	"strings"
	"time"

	"gitlab.com/orenda/api/leadflow-engine/internal/dispatch"
	"gitlab.com/orenda/api/leadflow-engine/internal/model"
	"gitlab.com/orenda/api/leadflow-engine/internal/notifier"
	"gitlab.com/orenda/api/leadflow-engine/internal/storage"
)

// BatchSender dispatches a paced batch of messages. Implemented by
// dispatch.Dispatcher.
type BatchSender interface {
	SendBatch(ctx context.Context, tenantID string, items []dispatch.Item, batchSize int, delay time.Duration) []dispatch.SendResult
}

// EngagementDefaults supplies tenant-independent fallbacks for batch sizing
// and send pacing.
type EngagementDefaults struct {
	BatchSize    int
	MessageDelay time.Duration
}

// EngagementService owns the lead funnel: it reacts to inbound messages and
// runs the per-tenant scheduler tick.
type EngagementService struct {
	leadRepo storage.LeadRepo
	cfgRepo  storage.TenantConfigRepo
	sender   BatchSender
	sink     notifier.EventSink
	defaults EngagementDefaults
}

// NewEngagementService creates the engagement service.
func NewEngagementService(
	leadRepo storage.LeadRepo,
	cfgRepo storage.TenantConfigRepo,
	sender BatchSender,
	sink notifier.EventSink,
	defaults EngagementDefaults,
) *EngagementService {
	return &EngagementService{
		leadRepo: leadRepo,
		cfgRepo:  cfgRepo,
		sender:   sender,
		sink:     sink,
		defaults: defaults,
	}
}

// batchSizeFor resolves the effective batch size for a tenant.
func (s *EngagementService) batchSizeFor(cfg *model.TenantConfig) int {
	if cfg != nil && cfg.BatchSize > 0 {
		return cfg.BatchSize
	}
	return s.defaults.BatchSize
}

// messageDelayFor resolves the effective pause between consecutive sends.
func (s *EngagementService) messageDelayFor(cfg *model.TenantConfig) time.Duration {
	if cfg != nil && cfg.MessageDelayMillis > 0 {
		return time.Duration(cfg.MessageDelayMillis) * time.Millisecond
	}
	return s.defaults.MessageDelay
}

// renderTemplate substitutes the lead's name into a message template.
func renderTemplate(template string, lead model.Lead) string {
	return strings.ReplaceAll(template, "{name}", lead.Name)
}
