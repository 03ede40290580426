package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gitlab.com/orenda/api/leadflow-engine/internal/apperrors"
	"gitlab.com/orenda/api/leadflow-engine/internal/model"
	"gitlab.com/orenda/api/leadflow-engine/internal/tenant"
	"gitlab.com/orenda/api/leadflow-engine/pkg/utils"
)

// Save inserts a lead or updates the existing row for the same tenant and
// phone number. The row is locked for the duration of the transaction so
// concurrent inbound messages for one lead serialize.
func (r *PostgresRepo) Save(ctx context.Context, lead model.Lead) error {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return apperrors.NewFatal(err, "missing tenant ID in context")
	}
	lead.TenantID = tenantID

	if lead.PhoneNumber == "" {
		return apperrors.NewFatal(apperrors.ErrInvalidRecipient, "lead has no phone number")
	}
	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	lead.UpdatedAt = utils.Now()

	operation := func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var existing model.Lead
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("tenant_id = ? AND phone_number = ?", tenantID, lead.PhoneNumber).
				First(&existing).Error

			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				if lead.CreatedAt.IsZero() {
					lead.CreatedAt = lead.UpdatedAt
				}
				if createErr := tx.Create(&lead).Error; createErr != nil {
					return checkConstraintViolation(createErr)
				}
				return nil
			case err != nil:
				return err
			default:
				lead.ID = existing.ID
				lead.CreatedAt = existing.CreatedAt
				if saveErr := tx.Model(&existing).Select("*").Omit("id", "created_at").Updates(&lead).Error; saveErr != nil {
					return checkConstraintViolation(saveErr)
				}
				return nil
			}
		})
	}

	policy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	if err := retryableOperation(ctx, policy, "SaveLead", operation); err != nil {
		if isTransientError(err) {
			return apperrors.NewRetryable(err, "transient error saving lead %s", lead.PhoneNumber)
		}
		return apperrors.NewFatal(err, "failed to save lead %s", lead.PhoneNumber)
	}
	return nil
}

// Update persists the full state of an already-saved lead by primary key.
func (r *PostgresRepo) Update(ctx context.Context, lead model.Lead) error {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return apperrors.NewFatal(err, "missing tenant ID in context")
	}
	if lead.ID == "" {
		return apperrors.NewFatal(apperrors.ErrBadRequest, "lead has no ID")
	}
	lead.TenantID = tenantID
	lead.UpdatedAt = utils.Now()

	operation := func() error {
		result := r.db.WithContext(ctx).
			Model(&model.Lead{}).
			Where("id = ? AND tenant_id = ?", lead.ID, tenantID).
			Select("*").Omit("id", "tenant_id", "created_at").
			Updates(&lead)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return backoff.Permanent(fmt.Errorf("%w: lead %s", apperrors.ErrNotFound, lead.ID))
		}
		return nil
	}

	policy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	if err := retryableOperation(ctx, policy, "UpdateLead", operation); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return err
		}
		if isTransientError(err) {
			return apperrors.NewRetryable(err, "transient error updating lead %s", lead.ID)
		}
		return apperrors.NewFatal(err, "failed to update lead %s", lead.ID)
	}
	return nil
}

// FindByPhone returns the tenant's lead for a normalized phone number, or
// ErrNotFound.
func (r *PostgresRepo) FindByPhone(ctx context.Context, phone string) (*model.Lead, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, apperrors.NewFatal(err, "missing tenant ID in context")
	}

	var lead model.Lead
	operation := func() error {
		return r.db.WithContext(ctx).
			Where("tenant_id = ? AND phone_number = ?", tenantID, phone).
			First(&lead).Error
	}

	policy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	if err := retryableOperation(ctx, policy, "FindLeadByPhone", operation); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: lead with phone %s", apperrors.ErrNotFound, phone)
		}
		if isTransientError(err) {
			return nil, apperrors.NewRetryable(err, "transient error finding lead %s", phone)
		}
		return nil, apperrors.NewFatal(err, "failed to find lead %s", phone)
	}
	return &lead, nil
}

// ListNeedingInitialMessage returns leads that have never received an
// initial message, newest first, capped at limit.
func (r *PostgresRepo) ListNeedingInitialMessage(ctx context.Context, limit int) ([]model.Lead, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, apperrors.NewFatal(err, "missing tenant ID in context")
	}

	var leads []model.Lead
	operation := func() error {
		return r.db.WithContext(ctx).
			Where("tenant_id = ? AND initial_message_sent = ?", tenantID, false).
			Order("created_at DESC").
			Limit(limit).
			Find(&leads).Error
	}

	policy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	if err := retryableOperation(ctx, policy, "ListLeadsNeedingInitialMessage", operation); err != nil {
		if isTransientError(err) {
			return nil, apperrors.NewRetryable(err, "transient error listing leads needing initial message")
		}
		return nil, apperrors.NewFatal(err, "failed to list leads needing initial message")
	}
	return leads, nil
}

// ListWithPendingFollowups returns leads whose initial message went out and
// that may still have follow-ups due. Terminal follow-up filtering happens in
// the scheduler, which owns the per-index semantics.
func (r *PostgresRepo) ListWithPendingFollowups(ctx context.Context) ([]model.Lead, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, apperrors.NewFatal(err, "missing tenant ID in context")
	}

	var leads []model.Lead
	operation := func() error {
		return r.db.WithContext(ctx).
			Where("tenant_id = ? AND initial_message_sent = ? AND initial_message_at IS NOT NULL", tenantID, true).
			Order("initial_message_at ASC").
			Find(&leads).Error
	}

	policy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	if err := retryableOperation(ctx, policy, "ListLeadsWithPendingFollowups", operation); err != nil {
		if isTransientError(err) {
			return nil, apperrors.NewRetryable(err, "transient error listing leads with pending follow-ups")
		}
		return nil, apperrors.NewFatal(err, "failed to list leads with pending follow-ups")
	}
	return leads, nil
}
