package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"gitlab.com/orenda/api/leadflow-engine/internal/model"
)

// LeadRepoMock is a testify mock for storage.LeadRepo.
type LeadRepoMock struct {
	mock.Mock
}

func (m *LeadRepoMock) Save(ctx context.Context, lead model.Lead) error {
	args := m.Called(ctx, lead)
	return args.Error(0)
}

func (m *LeadRepoMock) Update(ctx context.Context, lead model.Lead) error {
	args := m.Called(ctx, lead)
	return args.Error(0)
}

func (m *LeadRepoMock) FindByPhone(ctx context.Context, phone string) (*model.Lead, error) {
	args := m.Called(ctx, phone)
	var lead *model.Lead
	if args.Get(0) != nil {
		lead = args.Get(0).(*model.Lead)
	}
	return lead, args.Error(1)
}

func (m *LeadRepoMock) ListNeedingInitialMessage(ctx context.Context, limit int) ([]model.Lead, error) {
	args := m.Called(ctx, limit)
	var leads []model.Lead
	if args.Get(0) != nil {
		leads = args.Get(0).([]model.Lead)
	}
	return leads, args.Error(1)
}

func (m *LeadRepoMock) ListWithPendingFollowups(ctx context.Context) ([]model.Lead, error) {
	args := m.Called(ctx)
	var leads []model.Lead
	if args.Get(0) != nil {
		leads = args.Get(0).([]model.Lead)
	}
	return leads, args.Error(1)
}

func (m *LeadRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// TenantConfigRepoMock is a testify mock for storage.TenantConfigRepo.
type TenantConfigRepoMock struct {
	mock.Mock
}

func (m *TenantConfigRepoMock) GetConfig(ctx context.Context) (*model.TenantConfig, error) {
	args := m.Called(ctx)
	var cfg *model.TenantConfig
	if args.Get(0) != nil {
		cfg = args.Get(0).(*model.TenantConfig)
	}
	return cfg, args.Error(1)
}

func (m *TenantConfigRepoMock) ListActiveTenantIDs(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	var ids []string
	if args.Get(0) != nil {
		ids = args.Get(0).([]string)
	}
	return ids, args.Error(1)
}

func (m *TenantConfigRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
