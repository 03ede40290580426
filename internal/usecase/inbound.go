package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"gitlab.com/orenda/api/leadflow-engine/internal/apperrors"
	"gitlab.com/orenda/api/leadflow-engine/internal/model"
	"gitlab.com/orenda/api/leadflow-engine/internal/observer"
	"gitlab.com/orenda/api/leadflow-engine/internal/stage"
	"gitlab.com/orenda/api/leadflow-engine/internal/tenant"
	"gitlab.com/orenda/api/leadflow-engine/internal/validator"
	"gitlab.com/orenda/api/leadflow-engine/pkg/logger"
	"gitlab.com/orenda/api/leadflow-engine/pkg/utils"
)

// OnInboundMessage processes one inbound text from a recipient: it upserts
// the lead, runs stage detection on the message and emits lead-updated plus,
// when the detected stage differs, lead-stage-changed.
//
// Invalid recipients are rejected synchronously; everything past the
// normalization boundary works on the normalized phone number only.
func (s *EngagementService) OnInboundMessage(ctx context.Context, fromRecipient, text string) error {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return apperrors.NewFatal(err, "missing tenant ID in context")
	}
	log := logger.FromContext(ctx)

	phone, err := utils.NormalizePhone(fromRecipient)
	if err != nil {
		return apperrors.NewFatal(err, "rejecting inbound message from %q", fromRecipient)
	}

	lead, err := s.leadRepo.FindByPhone(ctx, phone)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		lead = &model.Lead{
			PhoneNumber: phone,
			Status:      model.LeadStatusNew,
			Source:      model.LeadOriginInbound,
			AIEnabled:   true,
		}
	case err != nil:
		return err
	}

	stages := model.DefaultStageDefinitions()
	cfg, err := s.cfgRepo.GetConfig(ctx)
	if err == nil {
		if configured, cfgErr := cfg.StageDefinitions(); cfgErr == nil {
			stages = configured
		} else {
			log.Warn("Invalid stage definitions in tenant config, using defaults", zap.Error(cfgErr))
		}
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return err
	}

	previousStage := lead.Stage
	if result, ok := stage.Classify(text, stages, lead.Stage); ok {
		lead.Stage = result.Stage
		log.Debug("Stage classified",
			zap.String("phone_number", phone),
			zap.String("stage", result.Stage),
			zap.Float64("confidence", result.Confidence),
		)
	}

	lead.TenantID = tenantID
	if err := validator.Validate(lead); err != nil {
		return apperrors.NewFatal(fmt.Errorf("%w: %v", apperrors.ErrValidation, err), "lead validation failed")
	}

	if err := s.leadRepo.Save(ctx, *lead); err != nil {
		return err
	}

	// Re-read so the event carries the persisted identity of a freshly
	// created lead.
	saved, err := s.leadRepo.FindByPhone(ctx, phone)
	if err != nil {
		return err
	}

	now := utils.Now()
	if saved.Stage != previousStage {
		observer.IncStageChanges(tenantID)
		s.sink.Publish(ctx, model.TopicLeadStageChanged, tenantID, model.StageChangedPayload{
			LeadID:        saved.ID,
			PhoneNumber:   saved.PhoneNumber,
			PreviousStage: previousStage,
			Stage:         saved.Stage,
			ChangedAt:     now,
		})
	}
	s.sink.Publish(ctx, model.TopicLeadUpdated, tenantID, model.LeadUpdatedPayload{
		LeadID:      saved.ID,
		PhoneNumber: saved.PhoneNumber,
		Status:      saved.Status,
		Stage:       saved.Stage,
		UpdatedAt:   now,
	})

	return nil
}
