package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"gitlab.com/orenda/api/leadflow-engine/internal/apperrors"
	"gitlab.com/orenda/api/leadflow-engine/internal/model"
	"gitlab.com/orenda/api/leadflow-engine/internal/tenant"
)

// GetConfig returns the configuration row for the tenant in the context, or
// ErrNotFound when the tenant was never provisioned.
func (r *PostgresRepo) GetConfig(ctx context.Context) (*model.TenantConfig, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, apperrors.NewFatal(err, "missing tenant ID in context")
	}

	var cfg model.TenantConfig
	operation := func() error {
		return r.db.WithContext(ctx).
			Where("tenant_id = ?", tenantID).
			First(&cfg).Error
	}

	policy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	if err := retryableOperation(ctx, policy, "GetTenantConfig", operation); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: config for tenant %s", apperrors.ErrNotFound, tenantID)
		}
		if isTransientError(err) {
			return nil, apperrors.NewRetryable(err, "transient error loading config for tenant %s", tenantID)
		}
		return nil, apperrors.NewFatal(err, "failed to load config for tenant %s", tenantID)
	}
	return &cfg, nil
}

// ListActiveTenantIDs returns the IDs of every tenant whose engagement
// processing is switched on. The orchestrator fans a tick out to each.
func (r *PostgresRepo) ListActiveTenantIDs(ctx context.Context) ([]string, error) {
	var ids []string
	operation := func() error {
		return r.db.WithContext(ctx).
			Model(&model.TenantConfig{}).
			Where("active = ?", true).
			Order("tenant_id ASC").
			Pluck("tenant_id", &ids).Error
	}

	policy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	if err := retryableOperation(ctx, policy, "ListActiveTenantIDs", operation); err != nil {
		if isTransientError(err) {
			return nil, apperrors.NewRetryable(err, "transient error listing active tenants")
		}
		return nil, apperrors.NewFatal(err, "failed to list active tenants")
	}
	return ids, nil
}
