package storage

import (
	"context"

	"gitlab.com/orenda/api/leadflow-engine/internal/model"
)

// LeadRepo defines lead storage operations. The tenant ID is carried in the
// context; phone numbers are always the normalized recipient ID.
type LeadRepo interface {
	Save(ctx context.Context, lead model.Lead) error
	Update(ctx context.Context, lead model.Lead) error
	FindByPhone(ctx context.Context, phone string) (*model.Lead, error)
	ListNeedingInitialMessage(ctx context.Context, limit int) ([]model.Lead, error)
	ListWithPendingFollowups(ctx context.Context) ([]model.Lead, error)
	Close(ctx context.Context) error
}

// TenantConfigRepo defines tenant configuration storage operations. The
// engine reads configuration, never writes it.
type TenantConfigRepo interface {
	GetConfig(ctx context.Context) (*model.TenantConfig, error)
	ListActiveTenantIDs(ctx context.Context) ([]string, error)
	Close(ctx context.Context) error
}
