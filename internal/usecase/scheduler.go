package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gitlab.com/orenda/api/leadflow-engine/internal/apperrors"
	"gitlab.com/orenda/api/leadflow-engine/internal/dispatch"
	"gitlab.com/orenda/api/leadflow-engine/internal/model"
	"gitlab.com/orenda/api/leadflow-engine/internal/observer"
	"gitlab.com/orenda/api/leadflow-engine/internal/tenant"
	"gitlab.com/orenda/api/leadflow-engine/internal/validator"
	"gitlab.com/orenda/api/leadflow-engine/pkg/logger"
	"gitlab.com/orenda/api/leadflow-engine/pkg/utils"
)

// RunSchedulerTick executes one engagement tick for the tenant in the
// context: the initial message pass first, then the follow-up pass. The
// passes never overlap within a tick.
func (s *EngagementService) RunSchedulerTick(ctx context.Context) error {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return apperrors.NewFatal(err, "missing tenant ID in context")
	}
	log := logger.FromContext(ctx)

	start := time.Now()
	status := "success"
	defer func() {
		observer.IncSchedulerTicks(tenantID, status)
		observer.ObserveSchedulerTickDuration(tenantID, time.Since(start))
	}()

	cfg, err := s.cfgRepo.GetConfig(ctx)
	if errors.Is(err, apperrors.ErrNotFound) {
		log.Warn("No tenant config, skipping tick")
		status = "no_config"
		return nil
	}
	if err != nil {
		status = "error"
		return err
	}
	if !cfg.Active {
		status = "inactive"
		return nil
	}
	if err := validator.Validate(cfg); err != nil {
		log.Warn("Invalid tenant config, skipping tick", zap.Error(err))
		status = "invalid_config"
		return nil
	}
	if err := engagementConfigured(cfg); err != nil {
		log.Warn("Tenant defines no engagement work, skipping tick", zap.Error(err))
		status = "no_templates"
		return nil
	}

	batchSize := s.batchSizeFor(cfg)
	delay := s.messageDelayFor(cfg)

	if err := s.runInitialPass(ctx, tenantID, cfg, batchSize, delay); err != nil {
		status = "error"
		return err
	}
	if err := s.runFollowupPass(ctx, tenantID, cfg, batchSize, delay); err != nil {
		status = "error"
		return err
	}
	return nil
}

// engagementConfigured reports whether the tenant config defines any
// engagement work at all. Returns ErrConfigurationMissing when there is
// neither a greeting template nor a reachable follow-up path.
func engagementConfigured(cfg *model.TenantConfig) error {
	if cfg.GreetingTemplate != "" {
		return nil
	}
	if cfg.AutoFollowup || cfg.AutoFollowupInbound {
		if templates, err := cfg.FollowupTemplates(); err == nil && len(templates) > 0 {
			return nil
		}
	}
	return fmt.Errorf("%w: tenant %s has no greeting template and no active follow-ups",
		apperrors.ErrConfigurationMissing, cfg.TenantID)
}

// runInitialPass sends the greeting to leads that never got one, newest
// first. Flags flip only on confirmed sends; a failed lead is picked up
// again on the next tick.
func (s *EngagementService) runInitialPass(ctx context.Context, tenantID string, cfg *model.TenantConfig, batchSize int, delay time.Duration) error {
	log := logger.FromContext(ctx)

	if cfg.GreetingTemplate == "" {
		log.Debug("No greeting template configured, skipping initial pass")
		return nil
	}

	leads, err := s.leadRepo.ListNeedingInitialMessage(ctx, batchSize)
	if err != nil {
		return err
	}
	if len(leads) == 0 {
		return nil
	}

	byID := make(map[string]*model.Lead, len(leads))
	items := make([]dispatch.Item, 0, len(leads))
	for i := range leads {
		byID[leads[i].ID] = &leads[i]
		items = append(items, dispatch.Item{
			Lead:    leads[i],
			Message: renderTemplate(cfg.GreetingTemplate, leads[i]),
			Kind:    "initial",
		})
	}

	results := s.sender.SendBatch(ctx, tenantID, items, batchSize, delay)
	for _, r := range results {
		if !r.Success {
			continue
		}
		lead := byID[r.LeadID]
		ts := r.Timestamp
		lead.InitialMessageSent = true
		lead.InitialMessageAt = &ts

		if err := s.leadRepo.Update(ctx, *lead); err != nil {
			// The send went out but the flag did not stick; the lead will
			// be re-sent next tick. Surface it loudly.
			log.Error("Failed to persist initial message flag",
				zap.String("lead_id", lead.ID),
				zap.Error(err),
			)
			continue
		}
		s.sink.Publish(ctx, model.TopicLeadUpdated, tenantID, model.LeadUpdatedPayload{
			LeadID:      lead.ID,
			PhoneNumber: lead.PhoneNumber,
			Status:      lead.Status,
			Stage:       lead.Stage,
			UpdatedAt:   ts,
		})
	}
	return nil
}

// followupItem ties a dispatched message back to the lead and index it
// belongs to.
type followupItem struct {
	lead  *model.Lead
	index int
}

// runFollowupPass walks every lead with the initial message out and sends
// whatever follow-up indices are due, in strict index order per lead. A
// failed index is terminal and ends the lead's chain.
func (s *EngagementService) runFollowupPass(ctx context.Context, tenantID string, cfg *model.TenantConfig, batchSize int, delay time.Duration) error {
	log := logger.FromContext(ctx)

	templates, err := cfg.FollowupTemplates()
	if err != nil {
		log.Warn("Invalid follow-up templates in tenant config, skipping follow-up pass", zap.Error(err))
		return nil
	}
	if len(templates) == 0 {
		return nil
	}
	if !cfg.AutoFollowup && !cfg.AutoFollowupInbound {
		return nil
	}

	leads, err := s.leadRepo.ListWithPendingFollowups(ctx)
	if err != nil {
		return err
	}
	if len(leads) == 0 {
		return nil
	}

	// Rounds: each round sends at most one follow-up per lead so that a
	// successful index i unlocks i+1 within the same tick once its delay has
	// also elapsed.
	for {
		now := utils.Now()

		items := make([]dispatch.Item, 0, len(leads))
		pending := make(map[string]followupItem, len(leads))
		for i := range leads {
			lead := &leads[i]
			idx, ok := s.nextDueFollowup(ctx, lead, templates, cfg, now)
			if !ok {
				continue
			}
			items = append(items, dispatch.Item{
				Lead:    *lead,
				Message: renderTemplate(templates[idx].Message, *lead),
				Kind:    "followup",
			})
			pending[lead.ID] = followupItem{lead: lead, index: idx}
		}
		if len(items) == 0 {
			return nil
		}

		results := s.sender.SendBatch(ctx, tenantID, items, batchSize, delay)
		if len(results) == 0 {
			// Context cancelled before anything was attempted.
			return nil
		}

		for _, r := range results {
			fu := pending[r.LeadID]
			s.recordFollowupResult(ctx, tenantID, fu, r, len(templates))
		}
	}
}

// nextDueFollowup returns the lead's next follow-up index that is due now,
// honoring suppression flags, index order and the terminal failed state.
func (s *EngagementService) nextDueFollowup(ctx context.Context, lead *model.Lead, templates []model.FollowupTemplate, cfg *model.TenantConfig, now time.Time) (int, bool) {
	allowed := cfg.AutoFollowup ||
		(lead.Source == model.LeadOriginInbound && cfg.AutoFollowupInbound)
	if !allowed {
		return 0, false
	}
	if lead.InitialMessageAt == nil {
		return 0, false
	}

	states, err := lead.FollowupStates(len(templates))
	if err != nil {
		logger.FromContext(ctx).Warn("Corrupt follow-up state on lead, skipping",
			zap.String("lead_id", lead.ID),
			zap.Error(err),
		)
		return 0, false
	}

	for idx, state := range states {
		if state.Sent {
			continue
		}
		if state.Failed {
			// Terminal: later indices never run ahead of an unsent one.
			return 0, false
		}
		due := lead.InitialMessageAt.Add(time.Duration(templates[idx].DelayMillis) * time.Millisecond)
		if now.Before(due) {
			return 0, false
		}
		return idx, true
	}
	return 0, false
}

// recordFollowupResult persists one follow-up outcome and emits the matching
// event. The stored list always has one entry per configured template.
// Persistence failures are logged, not propagated, so one lead never blocks
// the round.
func (s *EngagementService) recordFollowupResult(ctx context.Context, tenantID string, fu followupItem, r dispatch.SendResult, templateCount int) {
	log := logger.FromContext(ctx)
	lead := fu.lead

	states, err := lead.FollowupStates(templateCount)
	if err != nil {
		log.Error("Corrupt follow-up state after send", zap.String("lead_id", lead.ID), zap.Error(err))
		return
	}

	now := utils.Now()
	if r.Success {
		ts := r.Timestamp
		states[fu.index].Sent = true
		states[fu.index].SentAt = &ts
	} else {
		states[fu.index].Failed = true
		if r.Err != nil {
			states[fu.index].Error = r.Err.Error()
		}
	}
	if err := lead.SetFollowupStates(states); err != nil {
		log.Error("Failed to encode follow-up state", zap.String("lead_id", lead.ID), zap.Error(err))
		return
	}

	if err := s.leadRepo.Update(ctx, *lead); err != nil {
		log.Error("Failed to persist follow-up state",
			zap.String("lead_id", lead.ID),
			zap.Int("index", fu.index),
			zap.Error(err),
		)
		return
	}

	payload := model.FollowupPayload{
		LeadID:      lead.ID,
		PhoneNumber: lead.PhoneNumber,
		Index:       fu.index,
		At:          now,
	}
	topic := model.TopicFollowupSent
	if !r.Success {
		topic = model.TopicFollowupFailed
		if r.Err != nil {
			payload.Error = r.Err.Error()
		}
	}
	s.sink.Publish(ctx, topic, tenantID, payload)
}
